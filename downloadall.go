package itslive

import (
	"context"
	"sync"

	"github.com/cryoscope/itslive/internal/logger"
)

// DownloadTiles fetches every tile of the catalog concurrently, bounded by
// the client's worker count. Results come back in catalog order. The first
// failure cancels the remaining downloads and is returned.
func (c *Client) DownloadTiles(ctx context.Context, catalog *Catalog, opts DownloadOptions) ([]*Dataset, error) {
	locs := catalog.Locations()
	if len(locs) == 0 {
		return nil, nil
	}

	log := logger.FromContext(ctx, &c.log)
	log.Info().Int("tiles", len(locs)).Int("workers", c.fetchWorkers).Msg("downloading tiles")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]*Dataset, len(locs))
	sem := make(chan struct{}, c.fetchWorkers)

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}
	for i, loc := range locs {
		wg.Add(1)
		go func(i int, loc string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				fail(ctx.Err())
				return
			}
			if err := ctx.Err(); err != nil {
				fail(err)
				return
			}
			ds, err := c.DownloadTile(ctx, LocationRef(loc), opts)
			if err != nil {
				fail(err)
				return
			}
			results[i] = ds
		}(i, loc)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}
