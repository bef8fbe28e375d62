package client

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/depotdb/depot"
)

// Loader stages large entry sets by splitting them into batches and loading
// the batches concurrently. Rate-limit responses back off and retry.
type Loader struct {
	client *Client

	// BatchSize is the number of entries per request; capped at the server's
	// batch ceiling.
	BatchSize int
	// Concurrency is the number of in-flight load requests.
	Concurrency int
	// MaxRetries bounds the retries of one batch on rate limiting.
	MaxRetries int
	// Backoff is the base wait between retries, doubled per attempt.
	Backoff time.Duration
}

// NewLoader returns a Loader with sensible defaults.
func NewLoader(c *Client) *Loader {
	return &Loader{
		client:      c,
		BatchSize:   depot.MaxEntryBatch,
		Concurrency: 4,
		MaxRetries:  5,
		Backoff:     250 * time.Millisecond,
	}
}

// Load stages all entries into the version. It returns on the first
// non-retryable error; the version is left partially loaded in that case,
// which is safe because loads are idempotent upserts.
func (l *Loader) Load(ctx context.Context, dataset, versionID string, entries []Entry) error {
	size := l.BatchSize
	if size <= 0 || size > depot.MaxEntryBatch {
		size = depot.MaxEntryBatch
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.Concurrency)

	for start := 0; start < len(entries); start += size {
		end := start + size
		if end > len(entries) {
			end = len(entries)
		}
		batch := entries[start:end]

		g.Go(func() error {
			return l.loadBatch(ctx, dataset, versionID, batch)
		})
	}
	return g.Wait()
}

// loadBatch loads one batch, backing off on 429.
func (l *Loader) loadBatch(ctx context.Context, dataset, versionID string, batch []Entry) error {
	wait := l.Backoff
	var err error
	for attempt := 0; attempt <= l.MaxRetries; attempt++ {
		err = l.client.LoadEntries(ctx, dataset, versionID, batch)
		if err == nil || depot.ErrorCode(err) != depot.ETooManyRequests {
			return err
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		wait *= 2
	}
	return err
}
