package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"shipsync/config"
)

func main() {
	once := flag.Bool("once", false, "run a single reconcile cycle and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	f := defaultWorkerFactories()

	if *once {
		if err := RunSyncOnce(ctx, cfg, f); err != nil && err != context.Canceled {
			panic(err)
		}
		return
	}

	r, closeFn, err := buildReconciler(cfg, f)
	if err != nil {
		panic(err)
	}
	if closeFn != nil {
		defer closeFn()
	}

	// Admin HTTP (stats, trigger, docs) rides alongside the loop; a dead
	// admin server must not take the sync down with it.
	go func() {
		err := runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr:    cfg.ShipSync.HTTPAddr,
			swaggerPath: os.Getenv("swaggerPath"),
			reconciler:  r,
			cfg:         cfg,
		})
		if err != nil {
			slog.Error("worker http server", "error", err.Error())
		}
	}()

	if err := r.Run(ctx); err != nil && err != context.Canceled {
		panic(err)
	}
}
