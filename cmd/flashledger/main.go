package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"FlashLedger/internal/config"
	"FlashLedger/internal/core"
	"FlashLedger/internal/custody"
	"FlashLedger/internal/ingestion"
	"FlashLedger/internal/observability"
	"FlashLedger/internal/persistence"
	"FlashLedger/internal/projection"
	"FlashLedger/internal/query"
	"FlashLedger/internal/server"
	"FlashLedger/internal/state"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	cfgFile string
	devMode bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "flashledger",
		Short: "Margin trading ledger service",
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./flashledger.yaml)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Recover state and serve commands over NATS, gRPC and HTTP",
		RunE:  runServe,
	}
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "use an in-memory lenient custody instead of the NATS custody service")
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	level := observability.ParseLogLevel(cfg.Logging.Level)
	logger := observability.NewLoggerWithLevel("main", level)
	componentLog := func(name string) zerolog.Logger {
		return observability.NewLoggerWithLevel(name, level)
	}

	var vault state.Principal
	if cfg.Ledger.Vault != "" {
		vault, err = cfg.VaultPrincipal()
		if err != nil {
			return err
		}
	} else if !devMode {
		return errors.New("ledger.vault is required outside --dev")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Postgres ---
	db, err := openPostgres(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info().Msg("Postgres connected")

	if err := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir, componentLog("migrator")).Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker()
	health.AddCheck("postgres", db.PingContext)

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, componentLog("nats"))
	if err != nil {
		return err
	}
	defer nc.Close()
	health.AddCheck("nats", func(context.Context) error {
		if !nc.IsConnected() {
			return errors.New("nats disconnected")
		}
		return nil
	})
	if err := ingestion.EnsureStreams(ctx, js, componentLog("nats")); err != nil {
		return fmt.Errorf("ensure command stream: %w", err)
	}
	if err := ingestion.EnsureOutboundStream(ctx, js, componentLog("nats")); err != nil {
		return fmt.Errorf("ensure outbound stream: %w", err)
	}

	var transferer custody.Transferer = custody.NewNATSTransferer(nc, cfg.NATS.CustodySubject)
	if devMode {
		logger.Warn().Msg("dev mode: custody transfers are simulated in memory")
		transferer = custody.NewLenientVault()
	}

	// --- Redis read cache ---
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	cache := query.NewAccountCache(rdb, cfg.Redis.CacheTTL)
	if err := cache.Ping(ctx); err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, account reads go to Postgres")
		cache = nil
	} else {
		health.AddCheck("redis", cache.Ping)
	}

	// --- Engine + recovery ---
	persistChan := make(chan core.CoreOutput, cfg.Pipeline.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.Pipeline.ProjectionChanSize)

	engineLog := componentLog("engine")
	engineOpts := core.Options{
		Vault:               vault,
		PayLiquidatorReward: cfg.Ledger.PayLiquidatorReward,
		IdempotencyCapacity: cfg.Ledger.IdempotencyCapacity,
	}
	engine, err := core.NewEngine(engineOpts, core.Deps{
		Custody:        transferer,
		DBChecker:      persistence.NewPostgresIdempotencyChecker(db),
		Metrics:        metrics,
		Logger:         &engineLog,
		PersistChan:    persistChan,
		ProjectionChan: projectionChan,
	})
	if err != nil {
		return err
	}

	snapMgr := persistence.NewSnapshotManager(db)
	snap, err := snapMgr.LoadSnapshot(ctx, cfg.Pipeline.RecoveryKeyLimit)
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	if snap != nil {
		engine.RestoreFromSnapshot(snap)
		logger.Info().
			Int64("sequence", snap.Sequence).
			Int("accounts", len(snap.Accounts)).
			Int("idempotency_keys", len(snap.IdempotencyKeys)).
			Msg("state restored")
	} else {
		logger.Info().Msg("empty event log, cold start")
	}

	// --- Back-end workers: run until their channels drain ---
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	// A failed persistence worker takes the front end down with it.
	frontParent, cancelFront := context.WithCancel(ctx)
	defer cancelFront()

	publisher := ingestion.NewOutboundPublisher(js, cfg.NATS.PublishBuffer, metrics, componentLog("publisher"))
	persistWorker := persistence.NewPersistenceWorker(db, persistChan,
		cfg.Pipeline.PersistBatchSize, cfg.Pipeline.PersistFlushTimeout, metrics, componentLog("persistence"))
	if cache != nil {
		cacheLog := componentLog("cache")
		persistWorker.OnFlush(func(ctx context.Context, batch []core.CoreOutput) {
			if err := cache.InvalidateOutputs(ctx, batch); err != nil {
				cacheLog.Warn().Err(err).Msg("cache invalidation failed")
			}
		})
	}
	persistWorker.OnFlush(publisher.Enqueue)

	projWorker := projection.NewProjectionWorker(db, projectionChan, metrics, componentLog("projection"))

	var persistErr error
	persistDone := make(chan struct{})
	go func() {
		defer close(persistDone)
		if err := persistWorker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			persistErr = fmt.Errorf("persistence worker: %w", err)
			cancelFront()
		}
	}()
	go projWorker.Run(workerCtx)
	go publisher.Run(workerCtx)

	// --- Front end: NATS commands, gRPC, HTTP, metrics ---
	rawChan := make(chan ingestion.RawEvent, cfg.Pipeline.IngestChanSize)
	subscriber := ingestion.NewNATSSubscriber(js, rawChan, componentLog("subscriber"))
	if err := subscriber.Subscribe(frontParent); err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	processor := ingestion.NewCommandProcessor(engine, rawChan, metrics, componentLog("processor"))

	var reader server.Reader = query.NewQueryService(db, cache, metrics, componentLog("query"))
	svc := server.NewLedgerService(engine, reader,
		server.NewPostgresMaintenance(db, engineOpts, componentLog("maintenance")), componentLog("service"))

	grpcServer := server.NewGRPCServer(svc, componentLog("grpc"))
	gateway, err := server.NewHTTPGateway(cfg.Server.HTTPAddr, svc, health, componentLog("gateway"))
	if err != nil {
		return err
	}

	health.SetReady(true)
	logger.Info().
		Int64("sequence", engine.GetSequence()).
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Str("metrics", cfg.Server.MetricsAddr).
		Msg("FlashLedger ready")

	stopIntake := func() {
		if ctx.Err() != nil {
			logger.Info().Msg("shutdown signal received")
		}
		health.SetReady(false)
		subscriber.Stop()
	}
	runErr := runFront(frontParent, stopIntake,
		component{"command processor", processor.Run},
		component{"grpc server", func(ctx context.Context) error {
			return server.ServeGRPC(ctx, grpcServer, cfg.Server.GRPCAddr, componentLog("grpc"))
		}},
		component{"http gateway", gateway.Start},
		component{"metrics server", func(ctx context.Context) error {
			return serveMetrics(ctx, cfg.Server.MetricsAddr, logger)
		}},
	)
	if runErr != nil {
		logger.Error().Err(runErr).Msg("component failed, shutting down")
	}

	// Every front-end call has returned; let persistence drain everything
	// the engine already committed.
	close(persistChan)
	close(projectionChan)
	select {
	case <-persistDone:
		if persistErr != nil {
			logger.Error().Err(persistErr).Msg("persistence worker failed")
			runErr = errors.Join(runErr, persistErr)
		}
	case <-time.After(30 * time.Second):
		logger.Error().Msg("persistence did not drain in time")
	}
	cancelWorkers()

	logger.Info().Int64("sequence", engine.GetSequence()).Msg("FlashLedger shutdown complete")
	return runErr
}

// component is one long-running front-end service.
type component struct {
	name string
	run  func(context.Context) error
}

// runFront runs every component under one errgroup. A signal on ctx or the
// first component failure cancels the others; onStop runs once at that
// point. Returns after every component has returned.
func runFront(ctx context.Context, onStop func(), comps ...component) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range comps {
		c := c
		g.Go(func() error {
			if err := c.run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s: %w", c.name, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		onStop()
		return nil
	})
	return g.Wait()
}

func openPostgres(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}

func serveMetrics(ctx context.Context, addr string, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
