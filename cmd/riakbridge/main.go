// riakbridge polls a Riak replication queue, decodes each record, and
// applies JSON puts to an in-memory last-writer-wins sink, gated by a
// bucket filter.
//
// Usage:
//
//	riakbridge [flags]
//
// Flags:
//
//	-host string            Queue host (default "localhost")
//	-port int                Queue port (default 8098)
//	-queue string             Queue name (default "q1_ttaaefs")
//	-bucket string            Bucket filter (default "test")
//	-vclock-mode string       Vector clock mode: base64|dict (default "base64")
//	-poll-idle duration       Sleep after an empty poll (default 100ms)
//	-backoff-base duration    Fetch-error backoff base (default 1s)
//	-backoff-max duration     Fetch-error backoff cap (default 30s)
//	-spool string             Spool file path (default "data/riakbridge.spool")
//	-checkpoint-dir string    Checkpoint directory (default "data/checkpoints")
//	-webaddr string           Status API address (default ":8080")
//	-loglevel string          Log level: debug, info, warn, error (default "info")
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/riakbridge/riakbridge/internal/cdc"
	"github.com/riakbridge/riakbridge/internal/checkpoint"
	"github.com/riakbridge/riakbridge/internal/config"
	"github.com/riakbridge/riakbridge/internal/consumer"
	"github.com/riakbridge/riakbridge/internal/hotkeys"
	"github.com/riakbridge/riakbridge/internal/queue"
	"github.com/riakbridge/riakbridge/internal/sink"
	"github.com/riakbridge/riakbridge/internal/spool"
	"github.com/riakbridge/riakbridge/internal/timeseries"
	"github.com/riakbridge/riakbridge/internal/version"
	"github.com/riakbridge/riakbridge/internal/web"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		log.Fatalf("riakbridge: bad configuration: %v", err)
	}

	logger := cfg.NewLogger()
	logger.Info("riakbridge starting", "version", version.Version)
	logger.Info("queue configured", "addr", fmt.Sprintf("http://%s:%d/queuename/%s", cfg.Host, cfg.Port, cfg.Queue))
	logger.Info("bucket filter", "bucket", cfg.Bucket)
	logger.Info("vector clock mode", "mode", cfg.VClockMode)

	sp, err := spool.Open(cfg.SpoolPath)
	if err != nil {
		log.Fatalf("riakbridge: failed to open spool: %v", err)
	}
	defer sp.Close()

	ckpt, err := checkpoint.NewManager(cfg.CheckpointDir)
	if err != nil {
		log.Fatalf("riakbridge: failed to init checkpoint manager: %v", err)
	}

	sinkStore := sink.New(cfg.Bucket)
	cdcStream := cdc.NewStream(50000)
	hk := hotkeys.New(100, 60*time.Second)
	ts := timeseries.New()
	defer ts.Close()

	queueClient := queue.New(cfg.Host, cfg.Port, cfg.Queue)

	c := consumer.New(consumer.Config{
		VClockMode:       cfg.VClockMode,
		PollIdleInterval: cfg.PollIdleInterval,
		BackoffBase:      cfg.BackoffBase,
		BackoffMax:       cfg.BackoffMax,
		CheckpointEvery:  cfg.CheckpointEvery,
	}, queueClient, sinkStore, sp, cdcStream, hk, ts, ckpt)

	webSrv := web.New(cfg.WebAddr, c, cdcStream, hk, nil)
	c.SetObserver(webSrv)
	c.SetLogger(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("status API available", "addr", fmt.Sprintf("http://localhost%s", cfg.WebAddr))
		return webSrv.Start(gctx)
	})
	g.Go(func() error {
		err := c.Run(gctx)
		if err == context.Canceled || err == context.DeadlineExceeded {
			return nil
		}
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Warn("consumer error", "err", err)
	}

	if err := c.Flush(); err != nil {
		logger.Warn("final checkpoint failed", "err", err)
	}

	fmt.Println("riakbridge shutdown complete")
}
