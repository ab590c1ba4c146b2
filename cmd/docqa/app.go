package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docqa/internal/answer"
	"github.com/fyrsmithlabs/docqa/internal/auth"
	"github.com/fyrsmithlabs/docqa/internal/config"
	"github.com/fyrsmithlabs/docqa/internal/documents"
	"github.com/fyrsmithlabs/docqa/internal/embeddings"
	"github.com/fyrsmithlabs/docqa/internal/extract"
	"github.com/fyrsmithlabs/docqa/internal/jobs"
	"github.com/fyrsmithlabs/docqa/internal/llm"
	"github.com/fyrsmithlabs/docqa/internal/logging"
	"github.com/fyrsmithlabs/docqa/internal/store"
	"github.com/fyrsmithlabs/docqa/internal/store/memory"
	"github.com/fyrsmithlabs/docqa/internal/store/postgres"
	"github.com/fyrsmithlabs/docqa/internal/store/sqlite"
	"github.com/fyrsmithlabs/docqa/internal/telemetry"
)

const instrumentationPrefix = "github.com/fyrsmithlabs/docqa/internal/"

// app holds the wired services and the resources they own.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	store     store.Store
	natsConn  *nats.Conn
	embedder  *embeddings.Embedder
	jobs      *jobs.Registry
	answers   *answer.Resolver
	documents *documents.Service
	accounts  *auth.Service
}

// newApp initializes infrastructure then services:
//  1. telemetry and logger
//  2. store, NATS, embedder and the lazy chat model
//  3. resolver, documents and accounts
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	ready := false
	defer func() {
		if !ready {
			a.Close(context.WithoutCancel(ctx))
		}
	}()

	var err error
	a.telemetry, err = telemetry.New(ctx, telemetry.FromAppConfig(cfg.Observability, version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	logCfg, err := logging.FromAppConfig(cfg.Logging, cfg.Observability.EnableTelemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to configure logger: %w", err)
	}
	a.logger, err = logging.NewLogger(logCfg, a.telemetry.LoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a.store, err = openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	a.logger.Info(ctx, "store opened", zap.String("driver", cfg.Storage.Driver))

	a.natsConn, err = jobs.Connect(cfg.Events.NATSURL, a.logger)
	if err != nil {
		return nil, err
	}
	a.jobs = jobs.NewRegistry(a.natsConn, cfg.Events.SubjectPrefix, a.logger.Named("jobs"))

	metrics := embeddings.NewMetricsWithMeter(a.telemetry.Meter(instrumentationPrefix+"embeddings"), a.logger.Underlying())
	a.embedder = embeddings.NewEmbedderFromConfig(embeddings.FromAppConfig(cfg.Embeddings), metrics)
	model := llm.NewLazy(func() (llm.Provider, error) {
		return llm.NewProvider(llm.FromAppConfig(cfg.LLM))
	})

	resolverOpts := []answer.Option{
		answer.WithTracer(a.telemetry.Tracer(instrumentationPrefix + "answer")),
		answer.WithLogger(a.logger.Named("answer")),
	}
	if cfg.Cache.Enabled {
		resolverOpts = append(resolverOpts, answer.WithCache(answer.NewCache(cfg.Cache.Size, cfg.Cache.TTL)))
	}
	a.answers = answer.NewResolver(
		answer.Deps{Store: a.store, Embed: a.embedder, LLM: model},
		answer.OptionsFromConfig(cfg),
		resolverOpts...,
	)

	extractor := extract.NewRegistry(extract.Config{
		TesseractPath: cfg.Ingest.TesseractPath,
	})
	a.documents, err = documents.NewService(a.store, extractor, a.embedder, documents.ConfigFromApp(cfg),
		documents.WithJobs(a.jobs),
		documents.WithInvalidator(a.answers),
		documents.WithTracer(a.telemetry.Tracer(instrumentationPrefix+"documents")),
		documents.WithLogger(a.logger.Named("documents")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create document service: %w", err)
	}

	a.accounts = auth.NewService(a.store, cfg.Auth, a.documents, a.logger.Named("auth"))
	ready = true
	return a, nil
}

// openStore opens the configured store.
func openStore(ctx context.Context, cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Driver {
	case "memory":
		return memory.New(), nil
	case "postgres":
		if !cfg.PostgresDSN.IsSet() {
			return nil, errors.New("storage.postgres_dsn is required for the postgres driver")
		}
		st, err := postgres.Open(ctx, cfg.PostgresDSN.Value())
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return st, nil
	case "sqlite", "":
		st, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// userID looks up email, registering it with password when create is set
// and the account does not exist yet.
func (a *app) userID(ctx context.Context, email string, create bool, password string) (int64, error) {
	u, err := a.store.UserByEmail(ctx, email)
	if err == nil {
		return u.ID, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return 0, fmt.Errorf("looking up user: %w", err)
	}
	if !create {
		return 0, fmt.Errorf("no user %q (use --create with --password to register)", email)
	}
	sess, err := a.accounts.Register(ctx, email, password)
	if err != nil {
		return 0, fmt.Errorf("registering %q: %w", email, err)
	}
	return sess.User.ID, nil
}

// Close releases all resources. Errors are logged.
func (a *app) Close(ctx context.Context) {
	logger := a.logger
	if logger == nil {
		logger = logging.NewNop()
	}
	if a.natsConn != nil {
		if err := a.natsConn.Drain(); err != nil {
			logger.Warn(ctx, "draining nats connection", zap.Error(err))
		}
	}
	if a.embedder != nil {
		if err := a.embedder.Close(); err != nil {
			logger.Warn(ctx, "closing embedder", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warn(ctx, "closing store", zap.Error(err))
		}
	}
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil {
			logger.Warn(ctx, "shutting down telemetry", zap.Error(err))
		}
	}
	_ = logger.Sync() // Best-effort sync on shutdown
}
