package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nidhogg/artifact-context/internal/aggregator"
	"github.com/nidhogg/artifact-context/internal/api"
	"github.com/nidhogg/artifact-context/internal/budget"
	"github.com/nidhogg/artifact-context/internal/cache"
	"github.com/nidhogg/artifact-context/internal/catalog"
	"github.com/nidhogg/artifact-context/internal/config"
	"github.com/nidhogg/artifact-context/internal/lineage"
	"github.com/nidhogg/artifact-context/internal/store"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/artifact-context.json"
	}
	cfg, cfgErr := config.Load(cfgPath)
	if errors.Is(cfgErr, fs.ErrNotExist) {
		cfg, cfgErr = config.Default(), nil
	}

	level := "info"
	if cfg != nil {
		level = cfg.Server.LogLevel
	}
	logger := newLogger(level)
	defer logger.Sync()

	if cfgErr != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(cfgErr))
	}
	logger.Info("Starting artifact context service...", zap.String("config", cfgPath))

	// Catalog
	reg, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		logger.Fatal("invalid catalog", zap.Error(err))
	}
	logger.Info("Catalog loaded", zap.Int("resources", reg.Len()))

	// Budgeting
	est := budget.CharEstimator{CharsPerToken: cfg.Budget.CharsPerToken}
	sum := &budget.HeuristicSummarizer{
		Estimator:      est,
		MaxFields:      cfg.Budget.MaxSummaryFields,
		MaxStringChars: cfg.Budget.MaxStringChars,
	}
	enforcer := budget.NewEnforcer(est, sum, cfg.Budget.SummaryTargetTokens, logger)

	// Artifact store
	var (
		artifacts aggregator.ArtifactStore = store.NewMemoryStore()
		pgStore   *store.Store
	)
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := store.New(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, using in-memory artifact store", zap.Error(pgErr))
		} else {
			var schema fs.FS // nil selects the embedded migrations
			if dir := cfg.Database.Postgres.MigrationsDir; dir != "" {
				schema = os.DirFS(dir)
			}
			if mErr := ps.Migrate(context.Background(), schema); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			pgStore = ps
			artifacts = ps
		}
	} else {
		logger.Warn("no PostgreSQL DSN configured, using in-memory artifact store")
	}

	engine := aggregator.NewEngine(reg, artifacts, enforcer, logger)
	if pgStore != nil {
		engine.SetPrefixProvider(pgStore)
	}

	// Result cache
	var redisCache *cache.RedisCache
	if cfg.Cache.Enabled {
		var c cache.Cache = cache.NewMemoryCache(cfg.Cache.TTL())
		if cfg.Database.Redis.URL != "" {
			rc, rErr := cache.NewRedisCache(cfg.Database.Redis.URL, cfg.Cache.TTL(), logger)
			if rErr != nil {
				logger.Warn("Redis unavailable, using in-process cache", zap.Error(rErr))
			} else {
				redisCache = rc
				c = rc
			}
		}
		engine.SetCache(c, cfg.Cache.WriteTimeout())
	}

	handler := api.NewHandler(engine, logger)

	// Lineage graph
	var exporter *lineage.Exporter
	if cfg.Database.Neo4j.URI != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		x, nErr := lineage.NewExporter(ctx, cfg.Database.Neo4j.URI, cfg.Database.Neo4j.User, cfg.Database.Neo4j.Password, logger)
		if nErr != nil {
			logger.Warn("Neo4j unavailable, dependents served from catalog", zap.Error(nErr))
		} else if sErr := x.Sync(ctx, reg); sErr != nil {
			logger.Warn("lineage sync failed", zap.Error(sErr))
			x.Close(context.Background())
		} else {
			exporter = x
			handler.SetLineage(x)
		}
		cancel()
	}

	// Start server
	port := fmt.Sprintf("%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("Artifact context service listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
	engine.Wait()
	if exporter != nil {
		exporter.Close(ctx)
	}
	if redisCache != nil {
		redisCache.Close()
	}
	if pgStore != nil {
		pgStore.Close()
	}
}

func newLogger(level string) *zap.Logger {
	zc := zap.NewDevelopmentConfig()
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := zc.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
