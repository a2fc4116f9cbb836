package fetch

import (
	"context"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/rillfs/rill/cachemgr"
)

// Prefetcher warms the backing cache with a set of objects using a bounded
// worker pool. Concurrent prefetches of the same object collapse into one
// download through the fetcher's coalescing.
type Prefetcher struct {
	fetcher *Fetcher
	workers int
	logger  *slog.Logger
}

// PrefetcherOption configures a Prefetcher.
type PrefetcherOption func(*Prefetcher)

// WithWorkers sets the number of concurrent downloads. Zero uses one
// worker per CPU.
func WithWorkers(n int) PrefetcherOption {
	return func(p *Prefetcher) {
		p.workers = n
	}
}

// WithPrefetchLogger sets the logger for prefetch diagnostics.
func WithPrefetchLogger(logger *slog.Logger) PrefetcherOption {
	return func(p *Prefetcher) {
		p.logger = logger
	}
}

// NewPrefetcher creates a Prefetcher on top of f.
func NewPrefetcher(f *Fetcher, opts ...PrefetcherOption) *Prefetcher {
	p := &Prefetcher{fetcher: f}
	for _, opt := range opts {
		opt(p)
	}
	if p.workers <= 0 {
		p.workers = runtime.GOMAXPROCS(0)
	}
	return p
}

func (p *Prefetcher) log() *slog.Logger {
	if p.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.logger
}

// Prefetch fetches all objects into the backing cache and closes the
// resulting descriptors. It returns the first fetch error; objects whose
// fetch has not started yet are then skipped, while fetches already in
// flight run to completion.
func (p *Prefetcher) Prefetch(ctx context.Context, objects []cachemgr.LabeledObject) error {
	if len(objects) == 0 {
		return nil
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(p.workers)
	for _, object := range objects {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			fd, err := p.fetcher.Fetch(object)
			if err != nil {
				p.log().Warn("prefetch failed", "object", object.ID.String(), "error", err)
				return err
			}
			return p.fetcher.cache.Close(fd)
		})
	}
	return eg.Wait()
}
