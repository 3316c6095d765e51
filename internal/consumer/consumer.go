// Package consumer coordinates the queue client, decoder, sink,
// spool, CDC stream, hot-key tracker, and checkpoint manager into one
// fetch-decode-apply loop. Adapted from the teacher's internal/engine,
// which played the same coordinating role over WAL/store/CDC.
package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sync/atomic"
	"time"

	"github.com/riakbridge/riakbridge/internal/cdc"
	"github.com/riakbridge/riakbridge/internal/checkpoint"
	"github.com/riakbridge/riakbridge/internal/hotkeys"
	"github.com/riakbridge/riakbridge/internal/queue"
	"github.com/riakbridge/riakbridge/internal/record"
	"github.com/riakbridge/riakbridge/internal/sink"
	"github.com/riakbridge/riakbridge/internal/spool"
	"github.com/riakbridge/riakbridge/internal/timeseries"
)

// Fetcher is the subset of queue.Client the loop depends on, so tests
// can substitute a fake without standing up an HTTP server.
type Fetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// MetricsObserver receives one notification per consumer decision. It
// is distinct from the cumulative Stats() snapshot so a Prometheus
// counter backing it can Inc() once per event instead of re-adding an
// ever-growing total. *web.Server satisfies this interface.
type MetricsObserver interface {
	ObserveApplied()
	ObserveSkipped()
	ObserveDecodeFailed()
}

type noopObserver struct{}

func (noopObserver) ObserveApplied()      {}
func (noopObserver) ObserveSkipped()      {}
func (noopObserver) ObserveDecodeFailed() {}

// Config controls loop timing and decode behavior.
type Config struct {
	VClockMode       record.VClockMode
	PollIdleInterval time.Duration
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	CheckpointEvery  time.Duration
}

// Stats holds the cumulative counters a consumer reports via /stats.
type Stats struct {
	Applied      atomic.Int64
	Skipped      atomic.Int64
	DecodeFailed atomic.Int64
	PolledEmpty  atomic.Int64
}

// Consumer runs the fetch-decode-apply loop described in spec §4.9.
type Consumer struct {
	cfg Config

	fetcher    Fetcher
	sink       *sink.Store
	spool      *spool.Spool
	cdc        *cdc.Stream
	hotkeys    *hotkeys.Tracker
	timeseries *timeseries.Store
	checkpoint *checkpoint.Manager
	observer   MetricsObserver
	logger     *slog.Logger

	stats Stats
}

// New wires a Consumer from its already-constructed dependencies.
func New(cfg Config, fetcher Fetcher, sinkStore *sink.Store, sp *spool.Spool, cdcStream *cdc.Stream, hk *hotkeys.Tracker, ts *timeseries.Store, ckpt *checkpoint.Manager) *Consumer {
	return &Consumer{
		cfg:        cfg,
		fetcher:    fetcher,
		sink:       sinkStore,
		spool:      sp,
		cdc:        cdcStream,
		hotkeys:    hk,
		timeseries: ts,
		checkpoint: ckpt,
		observer:   noopObserver{},
		logger:     slog.New(slog.NewJSONHandler(os.Stderr, nil)),
	}
}

// SetObserver wires a MetricsObserver (typically *web.Server) to
// receive one notification per consumer decision, for the /metrics
// Prometheus counters. Optional: a Consumer with no observer set
// still runs, just without those counters incrementing.
func (c *Consumer) SetObserver(o MetricsObserver) {
	if o == nil {
		o = noopObserver{}
	}
	c.observer = o
}

// SetLogger replaces the Consumer's logger, typically with one built
// from Config.NewLogger so loop diagnostics honor the configured
// -loglevel/LOG_LEVEL.
func (c *Consumer) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	c.logger = logger
}

// Stats returns a point-in-time snapshot of the cumulative counters.
func (c *Consumer) Stats() checkpoint.Stats {
	return checkpoint.Stats{
		Applied:      c.stats.Applied.Load(),
		Skipped:      c.stats.Skipped.Load(),
		DecodeFailed: c.stats.DecodeFailed.Load(),
		PolledEmpty:  c.stats.PolledEmpty.Load(),
	}
}

// Run executes the loop until ctx is cancelled (spec §4.9). It never
// returns an error for decode failures or fetch errors — decode
// failures are logged and spooled, fetch errors are logged and retried
// after a backoff, and the loop continues; it returns ctx.Err() once
// cancellation is observed.
func (c *Consumer) Run(ctx context.Context) error {
	lastCheckpoint := time.Now()
	attempt := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		body, err := c.fetcher.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			delay := queue.Backoff(attempt, c.cfg.BackoffBase, c.cfg.BackoffMax, fullJitter)
			attempt++
			c.logger.Warn("fetch failed, backing off", "delay", delay, "err", err)
			if !sleep(ctx, delay) {
				return ctx.Err()
			}
			continue
		}
		attempt = 0

		rec, derr := record.Decode(body, record.Config{VClockMode: c.cfg.VClockMode})
		if derr != nil {
			c.stats.DecodeFailed.Add(1)
			c.observer.ObserveDecodeFailed()
			c.timeseries.Incr("decode_failed")
			c.cdc.Record(cdc.EventDecodeFailed, "", "", derr.Error())
			c.spool.Append(spool.Entry{Outcome: spool.DecodeFailed})
			c.logger.Warn("decode failed", "err", derr)
			c.maybeCheckpoint(&lastCheckpoint)
			continue
		}

		if rec.Empty {
			c.stats.PolledEmpty.Add(1)
			c.timeseries.Incr("polled_empty")
			if !sleep(ctx, c.cfg.PollIdleInterval) {
				return ctx.Err()
			}
			continue
		}

		applied, reason := c.sink.Apply(rec)
		bucket, key := string(rec.Bucket), string(rec.Key)

		if applied {
			c.stats.Applied.Add(1)
			c.observer.ObserveApplied()
			c.timeseries.Incr("applied")
			c.cdc.Record(cdc.EventApplied, bucket, key, "")
			c.hotkeys.Touch(bucket, key)
			c.spool.Append(spool.Entry{Outcome: spool.Applied, Bucket: bucket, Key: key, LastModified: rec.LastModified})
			c.logger.Debug("record applied", "bucket", bucket, "key", key)
		} else {
			c.stats.Skipped.Add(1)
			c.observer.ObserveSkipped()
			c.timeseries.Incr("skipped")
			c.cdc.Record(cdc.EventSkipped, bucket, key, reason)
			c.spool.Append(spool.Entry{Outcome: spool.Skipped, Bucket: bucket, Key: key, LastModified: rec.LastModified})
			c.logger.Debug("record skipped", "bucket", bucket, "key", key, "reason", reason)
		}

		c.maybeCheckpoint(&lastCheckpoint)
	}
}

func (c *Consumer) maybeCheckpoint(last *time.Time) {
	if c.cfg.CheckpointEvery <= 0 || time.Since(*last) < c.cfg.CheckpointEvery {
		return
	}
	if _, err := c.checkpoint.Save(c.Stats()); err != nil {
		c.logger.Warn("checkpoint save failed", "err", err)
	}
	*last = time.Now()
}

// Flush saves one final checkpoint, used on graceful shutdown.
func (c *Consumer) Flush() error {
	_, err := c.checkpoint.Save(c.Stats())
	if err != nil {
		return fmt.Errorf("consumer: final checkpoint: %w", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func fullJitter(n int64) int64 {
	if n <= 0 {
		return 0
	}
	return rand.Int63n(n + 1)
}
