package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmehra2102/prod-golang-projects/securehealth/config"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/contentstore"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/events"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/gateway"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/gateway/devnet"
	v1 "github.com/dmehra2102/prod-golang-projects/securehealth/internal/handler/v1"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/service"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/session"
	"github.com/dmehra2102/prod-golang-projects/securehealth/pkg/auth"
	"github.com/dmehra2102/prod-golang-projects/securehealth/pkg/database"
	"github.com/dmehra2102/prod-golang-projects/securehealth/pkg/logger"
	"github.com/dmehra2102/prod-golang-projects/securehealth/pkg/metrics"
	"github.com/dmehra2102/prod-golang-projects/securehealth/pkg/tracer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCmd() *cobra.Command {
	var (
		envFile    string
		devnetMode bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Example: `  securehealth serve --env-file .env
  securehealth serve --devnet`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if devnetMode {
				useDevnetDefaults()
			}
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "Environment file to load before the process environment")
	cmd.Flags().BoolVar(&devnetMode, "devnet", false, "Run against an in-process ledger and memory store")
	return cmd
}

func migrateCmd() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the audit schema in Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			db, err := database.Connect(cfg.Database)
			if err != nil {
				return err
			}
			return database.Migrate(db, log)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "Environment file to load before the process environment")
	return cmd
}

// useDevnetDefaults fills in devnet settings the operator has not set explicitly.
func useDevnetDefaults() {
	for key, value := range map[string]string{
		"DEVNET_ENABLED": "true",
		"STACKS_NETWORK": "devnet",
		"STORE_BACKEND":  "memory",
		"LOG_FORMAT":     "console",
	} {
		if _, ok := os.LookupEnv(key); !ok {
			_ = os.Setenv(key, value)
		}
	}
	_ = os.Setenv("DEVNET_ENABLED", "true")
}

func runServer(parent context.Context, cfg *config.Config) error {
	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		tp, err := tracer.Init(cfg.Tracing)
		if err != nil {
			return fmt.Errorf("initializing tracer: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				log.Warn("tracer shutdown failed", zap.Error(err))
			}
		}()
	}

	m := metrics.NewCollector("securehealth", prometheus.DefaultRegisterer)

	var (
		wallet   session.Wallet
		nodeHTTP *http.Client
		store    *contentstore.Client
	)
	if cfg.Devnet.Enabled {
		ledger := devnet.NewLedger(cfg.Contract, cfg.Devnet.PendingPolls, logger.Named(log, "devnet"))
		wallet = devnet.NewWallet(ledger, session.WalletPayload{
			Address: cfg.Devnet.Wallet,
			Name:    cfg.Devnet.WalletName,
			Role:    cfg.Devnet.WalletRole,
		}, true)
		nodeHTTP = &http.Client{Transport: ledger.Transport(), Timeout: cfg.Contract.RequestTimeout}
		log.Warn("running against the in-process devnet ledger; state is lost on exit",
			zap.String("wallet", cfg.Devnet.Wallet),
		)
	} else {
		tokens := auth.NewJWTManager(cfg.Signer)
		wallet = session.NewSignerWallet(cfg.Signer, tokens, &http.Client{Timeout: cfg.Signer.Timeout}, logger.Named(log, "signer"))
		nodeHTTP = &http.Client{Timeout: cfg.Contract.RequestTimeout}
	}

	store, err = contentstore.Open(ctx, cfg.Store, m, logger.Named(log, "contentstore"))
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("closing content store failed", zap.Error(err))
		}
	}()

	sess := session.NewManager(wallet, logger.Named(log, "session"))
	if err := sess.Init(ctx); err != nil {
		log.Warn("no session restored", zap.Error(err))
	}

	node := gateway.NewNodeClient(cfg.Contract, nodeHTTP, m, logger.Named(log, "node"))
	gw := gateway.New(cfg.Contract, node, sess, m, logger.Named(log, "gateway"))

	var auditRepo service.AuditRepository = service.NewMemoryAuditRepository()
	if cfg.Database.Enabled {
		db, err := database.Connect(cfg.Database)
		if err != nil {
			return err
		}
		if err := database.Migrate(db, log); err != nil {
			return err
		}
		auditRepo = database.NewAuditRepository(db)
	}
	auditSvc := service.NewAuditService(auditRepo, m, logger.Named(log, "audit"))

	var pub events.Publisher = &events.Recorder{}
	if cfg.Events.Enabled {
		pub = events.NewKafkaPublisher(cfg.Events, m, logger.Named(log, "events"))
	}
	defer func() {
		if err := pub.Close(); err != nil {
			log.Warn("closing event publisher failed", zap.Error(err))
		}
	}()

	svcLog := logger.Named(log, "service")
	lc := service.NewLifecycle(gw, sess, auditSvc, pub, m, svcLog)
	watch := service.NewWatchlist()
	records := service.NewRecordService(lc, store, watch, svcLog)
	accessSvc := service.NewAccessService(lc, watch, svcLog)

	h := v1.NewHandler(v1.Deps{
		Session:   sess,
		Patients:  service.NewPatientService(lc, watch, svcLog),
		Access:    accessSvc,
		Records:   records,
		Dashboard: service.NewDashboardService(lc, records, accessSvc, watch, svcLog),
		Audit:     auditSvc,
		Txs:       gw,
	}, logger.Named(log, "http"))
	health := v1.NewHealth(cfg.App.Version, cfg.Contract.Network, cfg.Contract.Name, store.Backend(), sess, log)

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      v1.NewRouter(cfg, h, health, m, nil, logger.Named(log, "http")),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening",
			zap.String("addr", srv.Addr),
			zap.String("network", cfg.Contract.Network),
			zap.String("contract", cfg.Contract.Address+"."+cfg.Contract.Name),
			zap.String("store", store.Backend()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", zap.Error(err))
	}
	auditSvc.Shutdown()
	log.Info("server stopped")
	return nil
}
