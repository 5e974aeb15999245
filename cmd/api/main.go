package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ai-receptionist/internal/audit"
	"ai-receptionist/internal/auth"
	"ai-receptionist/internal/calls"
	"ai-receptionist/internal/config"
	"ai-receptionist/internal/intent"
	"ai-receptionist/internal/leads"
	"ai-receptionist/internal/metrics"
	"ai-receptionist/internal/notify"
	"ai-receptionist/internal/reporting"
	"ai-receptionist/internal/tenants"
	"ai-receptionist/internal/transcript"
	"ai-receptionist/migrations"
	"ai-receptionist/pkg/logger"
	"ai-receptionist/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	st, err := openStores(rootCtx, cfg, log)
	if err != nil {
		log.Error("storage init failed", "err", err)
		os.Exit(1)
	}
	defer st.close()

	var rdb *redis.Client
	if cfg.NeedsRedis() {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
	}

	hub := notify.NewHub(cfg.Notify.Buffer, log, m)
	var bus notify.Bus = hub
	var relay *notify.RedisBus
	if cfg.Notify.Backend == config.BackendRedis {
		relay = notify.NewRedisBus(rdb, hub, 0, log, m)
		if err := relay.Start(rootCtx); err != nil {
			log.Error("redis event relay failed", "err", err)
			os.Exit(1)
		}
		bus = relay
	}

	var locker calls.Locker = calls.NewLocalLocker(cfg.Session.LockTimeout)
	if cfg.Session.LockBackend == config.BackendRedis {
		locker = calls.NewRedisLocker(rdb, cfg.Session.LockTTL, cfg.Session.LockTimeout, log)
	}

	directory := tenants.NewCachedDirectory(st.tenants, cfg.Session.TenantCacheTTL)
	recorder := transcript.NewRecorder(st.transcripts, log, m)
	engine := calls.NewEngine(calls.Deps{
		Repo:       st.calls,
		Tenants:    directory,
		Classifier: intent.NewGuarded(intent.NewKeywordClassifier(), cfg.Session.ClassifierTimeout, log, m),
		Recorder:   recorder,
		Leads:      leads.NewCapture(st.leads, cfg.Session.LeadIntents, log, m),
		Publisher:  bus,
		Locker:     locker,
		Metrics:    m,
		Log:        log,
	}, calls.Options{
		ReplayWindow:   cfg.Webhook.ReplayWindow,
		StorageTimeout: cfg.Session.StorageTimeout,
		MaxNoInput:     cfg.Session.MaxNoInput,
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, app{
		cfg:       cfg,
		log:       log,
		registry:  reg,
		metrics:   m,
		auth:      authManager,
		engine:    engine,
		directory: directory,
		recorder:  recorder,
		calls:     st.calls,
		stats:     reporting.NewService(st.calls, st.leads),
		audit:     audit.NewService(st.audit, log),
		bus:       bus,
		db:        st.db,
		redis:     rdb,
	})

	// No WriteTimeout: SSE streams outlive any write deadline and end with the client.
	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "storage", cfg.App.Storage,
			"lock_backend", cfg.Session.LockBackend, "notify_backend", cfg.Notify.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	if relay != nil {
		select {
		case <-relay.Done():
		case <-shutdownCtx.Done():
		}
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}

// stores holds the repositories for the configured storage engine. db is nil
// for memory storage.
type stores struct {
	db          *sql.DB
	calls       calls.Repository
	transcripts transcript.Repository
	leads       leads.Repository
	tenants     tenants.Directory
	audit       audit.Repository
}

func (s stores) close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func openStores(ctx context.Context, cfg config.Config, log *slog.Logger) (stores, error) {
	if cfg.App.Storage == config.StorageMemory {
		dir := tenants.NewMemoryDirectory()
		if cfg.App.TenantsFile != "" {
			seed, err := tenants.LoadSeedFile(cfg.App.TenantsFile)
			if err != nil {
				return stores{}, err
			}
			for _, t := range seed {
				if err := dir.Put(t); err != nil {
					return stores{}, fmt.Errorf("seed tenant %s: %w", t.ID, err)
				}
			}
			log.Info("tenants seeded", "count", len(seed), "file", cfg.App.TenantsFile)
		}
		return stores{
			calls:       calls.NewMemoryRepo(),
			transcripts: transcript.NewMemoryRepo(),
			leads:       leads.NewMemoryRepo(),
			tenants:     dir,
			audit:       audit.NewMemoryRepo(),
		}, nil
	}

	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		return stores{}, err
	}
	if cfg.App.RunMigrations {
		if err := utils.RunMigrations(ctx, db, migrations.FS, log); err != nil {
			_ = db.Close()
			return stores{}, err
		}
	}
	return stores{
		db:          db,
		calls:       calls.NewPostgresRepo(db),
		transcripts: transcript.NewPostgresRepo(db),
		leads:       leads.NewPostgresRepo(db),
		tenants:     tenants.NewPostgresDirectory(db),
		audit:       audit.NewPostgresRepo(db),
	}, nil
}
