package main

import (
	"context"
	"fmt"
	"time"

	"shipsync/config"
	"shipsync/internal/broker/kafka"
	"shipsync/internal/cache"
	"shipsync/internal/cache/rediscache"
	"shipsync/internal/integrations/carrier"
	"shipsync/internal/integrations/carrier/ctthttp"
	"shipsync/internal/integrations/carrier/fake"
	"shipsync/internal/integrations/platform"
	"shipsync/internal/integrations/platform/shopifyhttp"
	"shipsync/internal/retry"
	"shipsync/internal/services/reconciler"
	"shipsync/internal/storage/pgledger"
)

type workerFactories struct {
	newLedger         func(cfg *config.Config) (ledger reconciler.Ledger, closeFn func(), err error)
	newProducer       func(cfg *config.Config) reconciler.Producer
	newRateLimiter    func(cfg *config.Config) reconciler.RateLimiter
	newCache          func(cfg *config.Config) cache.BytesCache
	newCarrierClient  func(cfg *config.Config) carrier.Client
	newPlatformClient func(cfg *config.Config) platform.Client
}

func retryPolicy(cfg *config.Config) *retry.Policy {
	return retry.NewPolicy(
		cfg.ShipSync.RetryMaxAttempts,
		time.Duration(cfg.ShipSync.RetryBaseBackoffSeconds)*time.Second,
		time.Duration(cfg.ShipSync.RetryMaxBackoffSeconds)*time.Second,
	)
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newLedger: func(cfg *config.Config) (reconciler.Ledger, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgledger.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) reconciler.Producer {
			if cfg.Kafka.Host == "" {
				return nil
			}
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newRateLimiter: func(cfg *config.Config) reconciler.RateLimiter {
			if cfg.Redis.Host == "" {
				return nil
			}
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewRateLimiter(redisAddr)
		},
		newCache: func(cfg *config.Config) cache.BytesCache {
			if cfg.Redis.Host == "" {
				return nil
			}
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.New(redisAddr)
		},
		newCarrierClient: func(cfg *config.Config) carrier.Client {
			// "fake" keeps local runs working without carrier access.
			if cfg.ShipSync.CarrierMode == "fake" || cfg.ShipSync.CarrierEndpointTemplate == "" {
				return fake.New()
			}
			return ctthttp.New(
				cfg.ShipSync.CarrierEndpointTemplate,
				cfg.ShipSync.CarrierHeadersExtra,
				retryPolicy(cfg),
				time.Duration(cfg.ShipSync.CarrierTimeoutSeconds)*time.Second,
			)
		},
		newPlatformClient: func(cfg *config.Config) platform.Client {
			return shopifyhttp.New(
				cfg.ShipSync.PlatformStoreDomain,
				cfg.ShipSync.PlatformAPIVersion,
				cfg.ShipSync.PlatformAccessToken,
				retryPolicy(cfg),
				time.Duration(cfg.ShipSync.PlatformTimeoutSeconds)*time.Second,
				cfg.ShipSync.PlatformPageLimit,
				cfg.ShipSync.PlatformMaxPages,
			)
		},
	}
}

func buildReconciler(cfg *config.Config, f workerFactories) (*reconciler.Reconciler, func(), error) {
	ledger, closeFn, err := f.newLedger(cfg)
	if err != nil {
		return nil, nil, err
	}

	r := reconciler.New(ledger, f.newCarrierClient(cfg), f.newPlatformClient(cfg)).
		WithSettings(
			time.Duration(cfg.ShipSync.WorkerPollIntervalSeconds)*time.Second,
			cfg.ShipSync.WorkerBatchSize,
			time.Duration(cfg.ShipSync.WorkerSleepBetweenMillis)*time.Millisecond,
			int64(cfg.ShipSync.WorkerRateLimitPerMinute),
		).
		WithPlanner(reconciler.PlannerConfig{
			RecheckMinDelay:    time.Duration(cfg.ShipSync.WorkerRecheckMinSeconds) * time.Second,
			RecheckMaxDelay:    time.Duration(cfg.ShipSync.WorkerRecheckMaxSeconds) * time.Second,
			NoObservationDelay: time.Duration(cfg.ShipSync.WorkerNoEventsSeconds) * time.Second,
			Backoff1:           time.Duration(cfg.ShipSync.WorkerBackoff1Seconds) * time.Second,
			Backoff2:           time.Duration(cfg.ShipSync.WorkerBackoff2Seconds) * time.Second,
			Backoff3:           time.Duration(cfg.ShipSync.WorkerBackoff3Seconds) * time.Second,
			Backoff4:           time.Duration(cfg.ShipSync.WorkerBackoff4Seconds) * time.Second,
		})

	if producer := f.newProducer(cfg); producer != nil {
		topic := cfg.Kafka.ShipmentReconciledTopicName
		if topic == "" {
			topic = "shipments.reconciled"
		}
		r = r.WithAudit(producer, topic)
	}
	if rl := f.newRateLimiter(cfg); rl != nil {
		r = r.WithRateLimiter(rl)
	}
	if c := f.newCache(cfg); c != nil {
		ttl := time.Duration(cfg.ShipSync.WorkerObservationTTLSeconds) * time.Second
		if ttl > 0 {
			r = r.WithObservationCache(c, ttl)
		}
	}

	return r, closeFn, nil
}

// RunSyncWorker runs the periodic reconcile loop until the context ends.
func RunSyncWorker(ctx context.Context, cfg *config.Config, f workerFactories) error {
	r, closeFn, err := buildReconciler(cfg, f)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}
	return r.Run(ctx)
}

// RunSyncOnce performs a single cycle and exits; cron-friendly.
func RunSyncOnce(ctx context.Context, cfg *config.Config, f workerFactories) error {
	r, closeFn, err := buildReconciler(cfg, f)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}
	return r.RunOnce(ctx)
}
