// Package lrustore provides an in-process chunk cache backed by an LRU map.
package lrustore

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cryoscope/itslive/internal/observability"
)

const DefaultSize = 512

type Store struct {
	c *lru.Cache[string, []byte]
}

func New(size int) (*Store, error) {
	if size <= 0 {
		size = DefaultSize
	}
	c, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("lru init: %w", err)
	}
	return &Store{c: c}, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := s.c.Get(key)
	if !ok {
		observability.IncChunkCacheMiss()
		return nil, false, nil
	}
	observability.IncChunkCacheHit()
	return v, true, nil
}

func (s *Store) Set(_ context.Context, key string, val []byte) error {
	s.c.Add(key, val)
	return nil
}
