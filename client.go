// Package itslive provides programmatic access to the ITS_LIVE annual
// glacier-velocity mosaics: discovering which archive tiles intersect a
// region of interest, downloading a tile's variables for a time range and
// bounding box, and merging the results into one dataset.
package itslive

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"gocloud.dev/blob"

	"github.com/cryoscope/itslive/internal/cache/lrustore"
	"github.com/cryoscope/itslive/internal/cache/redisstore"
	"github.com/cryoscope/itslive/internal/httpclient"
	"github.com/cryoscope/itslive/internal/manifest"
)

// ChunkCache stores raw zarr chunk objects across tile downloads. A miss is
// (nil, false, nil); errors are backend failures and never fail a download.
type ChunkCache interface {
	Get(ctx context.Context, key string) (val []byte, found bool, err error)
	Set(ctx context.Context, key string, val []byte) error
}

// NewLRUChunkCache returns an in-process chunk cache holding up to size
// chunk objects.
func NewLRUChunkCache(size int) (ChunkCache, error) {
	return lrustore.New(size)
}

// NewRedisChunkCache returns a chunk cache shared through Redis. Entries
// expire after ttl; each cache operation is bounded by opTimeout.
func NewRedisChunkCache(ctx context.Context, addr string, ttl, opTimeout time.Duration) (ChunkCache, error) {
	cli, err := redisstore.New(ctx, addr)
	if err != nil {
		return nil, err
	}
	return redisstore.NewChunkCache(cli, ttl, opTimeout), nil
}

// BucketOpener maps a tile storage-location URL to an open bucket and the
// store's key prefix within it.
type BucketOpener func(ctx context.Context, location string) (*blob.Bucket, string, error)

type Client struct {
	log          zerolog.Logger
	http         *http.Client
	manifestBase string
	manifests    *manifest.Loader
	openBucket   BucketOpener
	chunks       ChunkCache
	chunksSet    bool
	fetchWorkers int
}

type Option func(*Client)

func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithManifestBaseURL overrides the archive root used to build manifest
// URLs.
func WithManifestBaseURL(base string) Option {
	return func(c *Client) { c.manifestBase = base }
}

// WithBucketOpener overrides how tile storage locations are opened.
func WithBucketOpener(open BucketOpener) Option {
	return func(c *Client) { c.openBucket = open }
}

// WithChunkCache sets the chunk cache; nil disables chunk caching.
func WithChunkCache(cc ChunkCache) Option {
	return func(c *Client) {
		c.chunks = cc
		c.chunksSet = true
	}
}

// WithFetchWorkers bounds the number of concurrent tile downloads used by
// DownloadTiles.
func WithFetchWorkers(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.fetchWorkers = n
		}
	}
}

// New creates a Client. The zero configuration talks to the public archive
// anonymously, logs nothing, and keeps a small in-process chunk cache.
func New(opts ...Option) *Client {
	c := &Client{
		log:          zerolog.Nop(),
		http:         httpclient.NewOutbound(),
		manifestBase: manifest.DefaultBaseURL,
		openBucket:   openS3Bucket,
		fetchWorkers: 4,
	}
	for _, f := range opts {
		f(c)
	}
	if !c.chunksSet {
		cc, err := lrustore.New(lrustore.DefaultSize)
		if err == nil {
			c.chunks = cc
		}
	}
	c.manifests = manifest.NewLoader(c.manifestBase, c.http, c.log)
	return c
}
