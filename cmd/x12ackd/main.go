package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"x12ack/internal/compare"
	"x12ack/internal/config"
	"x12ack/internal/engine"
	"x12ack/internal/ingest"
	"x12ack/internal/ingest/kafka"
	"x12ack/internal/ingest/rabbitmq"
	"x12ack/internal/ingest/socket"
	"x12ack/internal/logging"
	"x12ack/internal/metrics"
	"x12ack/internal/output"
	"x12ack/internal/rules"
	"x12ack/internal/storage"
	"x12ack/internal/storage/sqlite"
)

const memoryArchiveLimit = 10000

func main() {
	cfgPath := flag.String("config", "x12ack.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(logging.Config{Environment: cfg.Service.Environment, Level: cfg.Log.Level, Encoding: cfg.Log.Encoding})
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("x12ackd stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	logger.Info("starting",
		zap.String("service", cfg.Service.Name),
		zap.String("rules_backend", cfg.Rules.Backend),
		zap.Bool("socket", cfg.Ingest.Socket.Enabled),
		zap.Bool("kafka", cfg.Ingest.Kafka.Enabled),
		zap.Bool("rabbitmq", cfg.Ingest.RabbitMQ.Enabled),
	)

	var store *sqlite.Store
	if cfg.Storage.SQLite.Enabled {
		s, err := sqlite.NewStore(cfg.Storage.SQLite.Path)
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		defer s.Close()
		store = s
	}

	lookup, err := buildLookup(ctx, cfg, store, logger)
	if err != nil {
		return err
	}

	opts := engine.Options{Lookup: lookup, Logger: logger}
	if store != nil {
		opts.Archive = store
	} else {
		opts.Archive = storage.NewMemoryArchive(memoryArchiveLimit)
	}
	if cfg.Output.Enabled {
		w, err := output.NewWriter(cfg.Output.Dir)
		if err != nil {
			return fmt.Errorf("output writer: %w", err)
		}
		opts.Writer = w
	}
	svc, err := engine.NewService(opts)
	if err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		srv := metrics.Serve(cfg.Metrics.Address, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	return runAdapters(ctx, cfg.Ingest, svc, logger)
}

func buildLookup(ctx context.Context, cfg config.Config, store *sqlite.Store, logger *zap.Logger) (rules.Lookup, error) {
	var base rules.Lookup
	switch cfg.Rules.Backend {
	case config.RulesBackendSQLite:
		if cfg.Rules.ImportOnStart {
			sets, err := rules.LoadDir(ctx, cfg.Rules.Dir)
			if err != nil {
				return nil, fmt.Errorf("load rules dir: %w", err)
			}
			if err := store.ImportRuleSets(ctx, sets); err != nil {
				return nil, fmt.Errorf("import rules: %w", err)
			}
			logger.Info("imported rule sets", zap.Int("count", len(sets)), zap.String("dir", cfg.Rules.Dir))
		}
		ids, err := store.ListTransactions(ctx)
		if err != nil {
			return nil, fmt.Errorf("list rule sets: %w", err)
		}
		if len(ids) == 0 {
			logger.Warn("rule store is empty; every document will be rejected with RULES_NOT_FOUND")
		} else {
			logger.Info("rule store ready", zap.Strings("transactions", ids))
		}
		base = store
	default:
		base = rules.NewDirLookup(cfg.Rules.Dir)
	}
	profile := compare.DefaultProfile()
	profile.ReportTrailing = cfg.Compare.ReportTrailingSegments
	return rules.WithDefaultProfile(base, profile), nil
}

func runAdapters(ctx context.Context, in config.IngestConfig, svc *engine.Service, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	fail := func(name string, err error) {
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		mu.Lock()
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
		mu.Unlock()
		cancel()
	}

	if in.Socket.Enabled {
		srv := socket.NewServer(socket.Config{
			Network:          in.Socket.Network,
			Address:          in.Socket.Address,
			UnixSocketPath:   in.Socket.UnixSocketPath,
			AuthToken:        in.Socket.AuthToken,
			MaxInflight:      in.Socket.MaxInflight,
			GlobalQueueLimit: in.Socket.GlobalQueueLimit,
			MaxFrameBytes:    socket.FrameLimit(in.Socket.MaxDocumentBytes),
			Logger:           logger.Named("socket"),
		}, svc)
		wg.Add(1)
		go func() { defer wg.Done(); fail("socket", srv.Start(ctx)) }()
	}

	if k := in.Kafka; k.Enabled {
		adapter, err := kafka.NewAdapter(kafka.Config{
			Enabled:        true,
			Brokers:        k.Brokers,
			Topics:         k.Topics,
			GroupID:        k.GroupID,
			ClientID:       k.ClientID,
			ReplyTopic:     k.ReplyTopic,
			WorkerCount:    k.WorkerCount,
			MaxPollRecords: k.MaxPollRecords,
			QueueCapacity:  k.QueueCapacity,
			Auth: kafka.AuthConfig{
				SASL: kafka.SASLConfig{Enabled: k.SASL.Enabled, Mechanism: k.SASL.Mechanism, Username: k.SASL.Username, Password: k.SASL.Password},
				TLS:  tlsConfig(k.TLS),
			},
			Logger: logger.Named("kafka"),
		}, svc)
		if err != nil {
			return fmt.Errorf("kafka adapter: %w", err)
		}
		wg.Add(1)
		go func() { defer wg.Done(); fail("kafka", adapter.Start(ctx)) }()
	}

	if r := in.RabbitMQ; r.Enabled {
		adapter, err := rabbitmq.NewAdapter(rabbitmq.Config{
			Enabled:         true,
			URL:             r.URL,
			Endpoints:       r.Endpoints,
			Exchange:        r.Exchange,
			Queue:           r.Queue,
			RoutingKeys:     r.RoutingKeys,
			ReplyExchange:   r.ReplyExchange,
			ReplyRoutingKey: r.ReplyRoutingKey,
			ConsumerTag:     r.ConsumerTag,
			PrefetchCount:   r.PrefetchCount,
			ManualAck:       r.ManualAck,
			TLS:             tlsConfig(r.TLS),
			Auth:            rabbitmq.AuthConfig{Username: r.Username, Password: r.Password},
			Workers:         r.Workers,
			DeliveryQueue:   r.DeliveryQueue,
			Logger:          logger.Named("rabbitmq"),
		}, svc)
		if err != nil {
			return fmt.Errorf("rabbitmq adapter: %w", err)
		}
		if err := adapter.Start(ctx); err != nil {
			cancel()
			wg.Wait()
			return fmt.Errorf("rabbitmq start: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ctx.Done()
			fail("rabbitmq", adapter.Close())
		}()
	}

	<-ctx.Done()
	wg.Wait()
	logger.Info("adapters stopped")
	return errors.Join(errs...)
}

func tlsConfig(c config.TLSConfig) ingest.TLSConfig {
	return ingest.TLSConfig{
		Enabled:            c.Enabled,
		InsecureSkipVerify: c.InsecureSkipVerify,
		ServerName:         c.ServerName,
		CAFile:             c.CAFile,
		CertFile:           c.CertFile,
		KeyFile:            c.KeyFile,
	}
}
