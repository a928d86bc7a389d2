// Package zarr reads zarr v2 array stores from a blob bucket.
//
// The reader covers what the annual mosaic archive actually uses:
// consolidated metadata, C-order little-endian numeric arrays, and null,
// zlib, gzip or zstd chunk compression. It is not a general zarr
// implementation.
package zarr

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/cryoscope/itslive/internal/cache"
	"github.com/cryoscope/itslive/internal/cache/keys"
	"github.com/cryoscope/itslive/internal/observability"
)

const (
	consolidatedKey = ".zmetadata"
	attrsKey        = ".zattrs"
	arrayKey        = ".zarray"
)

// DimensionsAttr names the xarray attribute carrying an array's dimension
// names.
const DimensionsAttr = "_ARRAY_DIMENSIONS"

type Store struct {
	bucket    *blob.Bucket
	prefix    string
	namespace string
	chunks    cache.ByteCache
	log       zerolog.Logger

	meta  *consolidated // nil when the store has no .zmetadata
	attrs map[string]any
}

type Option func(*Store)

// WithChunkCache caches compressed chunk objects across reads.
func WithChunkCache(c cache.ByteCache) Option {
	return func(s *Store) { s.chunks = c }
}

// WithCacheNamespace sets the store identity used in cache keys. Defaults to
// the object key prefix, which is only unique within one bucket.
func WithCacheNamespace(ns string) Option {
	return func(s *Store) { s.namespace = ns }
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// NewStore opens the store rooted at prefix inside bucket and loads its
// metadata. The bucket remains owned by the caller.
func NewStore(ctx context.Context, bucket *blob.Bucket, prefix string, opts ...Option) (*Store, error) {
	s := &Store{
		bucket: bucket,
		prefix: path.Clean("/" + prefix)[1:],
		log:    zerolog.Nop(),
	}
	for _, f := range opts {
		f(s)
	}
	if s.namespace == "" {
		s.namespace = s.prefix
	}

	raw, found, err := s.readObject(ctx, s.key(consolidatedKey))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", consolidatedKey, err)
	}
	if found {
		var c consolidated
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decode %s: %w", consolidatedKey, err)
		}
		s.meta = &c
	} else {
		s.log.Debug().Str("prefix", s.prefix).Msg("store has no consolidated metadata, falling back to per-object reads")
	}

	rawAttrs, err := s.metaObject(ctx, attrsKey, false)
	if err != nil {
		return nil, err
	}
	attrs, err := decodeAttrs(rawAttrs)
	if err != nil {
		return nil, fmt.Errorf("root %s: %w", attrsKey, err)
	}
	s.attrs = attrs
	return s, nil
}

// Attrs returns the store-level attributes.
func (s *Store) Attrs() map[string]any { return s.attrs }

func (s *Store) key(parts ...string) string {
	if s.prefix == "" {
		return path.Join(parts...)
	}
	return path.Join(append([]string{s.prefix}, parts...)...)
}

// metaObject fetches one metadata document, preferring the consolidated
// index. A missing optional document yields nil.
func (s *Store) metaObject(ctx context.Context, name string, required bool) (json.RawMessage, error) {
	if s.meta != nil {
		raw, ok := s.meta.Metadata[name]
		if !ok && required {
			return nil, fmt.Errorf("store has no %q entry", name)
		}
		return raw, nil
	}
	raw, found, err := s.readObject(ctx, s.key(name))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if !found {
		if required {
			return nil, fmt.Errorf("store has no %q object", name)
		}
		return nil, nil
	}
	return raw, nil
}

// readObject reads one object, reporting found=false for missing keys.
func (s *Store) readObject(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	b, err := s.bucket.ReadAll(ctx, key)
	observability.ObserveUpstreamLatency("zarr", time.Since(start).Seconds())
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	observability.AddChunkBytes(len(b))
	return b, true, nil
}

// readChunk reads one chunk object through the chunk cache. Missing chunks
// are legal in zarr; they read back as the fill value.
func (s *Store) readChunk(ctx context.Context, key string) ([]byte, bool, error) {
	if s.chunks == nil {
		return s.readObject(ctx, key)
	}
	ck := keys.Chunk(s.namespace, key)
	if b, found, err := s.chunks.Get(ctx, ck); err != nil {
		s.log.Debug().Err(err).Str("key", ck).Msg("chunk cache get failed")
	} else if found {
		return b, true, nil
	}
	b, found, err := s.readObject(ctx, key)
	if err != nil || !found {
		return nil, found, err
	}
	if err := s.chunks.Set(ctx, ck, b); err != nil {
		s.log.Debug().Err(err).Str("key", ck).Msg("chunk cache set failed")
	}
	return b, true, nil
}

func decompress(c *compressorMeta, raw []byte) ([]byte, error) {
	if c == nil {
		return raw, nil
	}
	switch c.ID {
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer func() { _ = r.Close() }()
		return io.ReadAll(r)
	case "zlib":
		r, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("zlib: %w", err)
		}
		defer func() { _ = r.Close() }()
		return io.ReadAll(r)
	case "zstd":
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		defer dec.Close()
		return dec.DecodeAll(raw, nil)
	case "blosc":
		return nil, fmt.Errorf("compressor %q not supported", c.ID)
	default:
		return nil, fmt.Errorf("compressor %q not supported", c.ID)
	}
}
