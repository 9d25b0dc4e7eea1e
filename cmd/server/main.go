package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"verdant/internal/audit"
	auditmetrics "verdant/internal/audit/metrics"
	auditstore "verdant/internal/audit/store"
	certmetrics "verdant/internal/certificate/metrics"
	certservice "verdant/internal/certificate/service"
	certstore "verdant/internal/certificate/store"
	"verdant/internal/credit/idempotency"
	creditmetrics "verdant/internal/credit/metrics"
	creditservice "verdant/internal/credit/service"
	creditstore "verdant/internal/credit/store"
	identityservice "verdant/internal/identity/service"
	identitystore "verdant/internal/identity/store"
	"verdant/internal/jwttoken"
	"verdant/internal/ledger"
	"verdant/internal/platform/config"
	"verdant/internal/platform/httpserver"
	"verdant/internal/platform/logger"
	"verdant/internal/platform/metrics"
	"verdant/internal/platform/middleware"
	platformredis "verdant/internal/platform/redis"
	httptransport "verdant/internal/transport/http"
	id "verdant/pkg/domain"
	"verdant/pkg/platform/circuit"
)

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.Server.LogLevel)

	stores, closeStores, err := buildStores(cfg, log)
	if err != nil {
		log.Error("failed to initialize stores", "error", err)
		os.Exit(1)
	}
	defer closeStores()

	// Retries sit inside the breaker so a sustained outage opens the circuit
	// instead of every call burning its full retry budget.
	var base ledger.Client
	if cfg.Ledger.GatewayURL != "" {
		base = ledger.NewHTTPClient(cfg.Ledger.GatewayURL, cfg.Ledger.CallTimeout)
		log.Info("using ledger gateway", "url", cfg.Ledger.GatewayURL)
	} else {
		base = ledger.NewMemoryLedger()
		log.Warn("no ledger gateway configured, using in-process ledger")
	}
	chain := ledger.NewBreakingClient(
		ledger.NewRetryingClient(base,
			cfg.Policy.MintMaxRetries,
			cfg.Policy.MintRetryBase,
			ledger.WithLogger(log),
			ledger.WithCallTimeout(cfg.Ledger.CallTimeout),
		),
		circuit.New("ledger", circuit.WithFailureThreshold(5), circuit.WithSuccessThreshold(1)),
		ledger.WithBreakerLogger(log),
	)

	publisher := audit.NewPublisher(audit.WithLogger(log), audit.WithMetrics(auditmetrics.New()))
	auditWorker := audit.NewWorker(stores.audit, publisher.Inbox(), log)

	identitySvc, err := identityservice.New(stores.actors, chain,
		identityservice.WithLogger(log),
		identityservice.WithAuditPublisher(publisher),
	)
	if err != nil {
		log.Error("failed to build identity service", "error", err)
		os.Exit(1)
	}

	var creditSvc *creditservice.Service
	certSvc, err := certservice.New(stores.certs, identitySvc,
		certservice.IssuerFunc(func(certID id.CertificateID) {
			creditSvc.RequestIssuance(certID)
		}),
		certservice.WithLogger(log),
		certservice.WithMetrics(certmetrics.New()),
		certservice.WithAuditPublisher(publisher),
		certservice.WithComplianceThreshold(cfg.Policy.ComplianceThreshold),
	)
	if err != nil {
		log.Error("failed to build certificate service", "error", err)
		os.Exit(1)
	}

	creditSvc, err = creditservice.New(stores.credits, stores.mintKeys, chain, identitySvc, certSvc,
		creditservice.WithLogger(log),
		creditservice.WithMetrics(creditmetrics.New()),
		creditservice.WithAuditPublisher(publisher),
	)
	if err != nil {
		log.Error("failed to build credit service", "error", err)
		os.Exit(1)
	}

	jwtSvc := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, "verdant", "verdant-api")

	router := httptransport.NewRouter(httptransport.Deps{
		Logger:       log,
		Metrics:      metrics.New(),
		JWTValidator: jwttoken.NewJWTServiceAdapter(jwtSvc),
		Identity:     identitySvc,
		Actors:       identitySvc,
		Tokens:       jwtSvc,
		Certs:        certSvc,
		Credits:      creditSvc,
		Audit:        audit.NewService(stores.audit),
		RateLimiter:  stores.limiter,
		Health:       stores.health,
	})

	srv := httpserver.New(cfg.Server.Addr, router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting verdant registry", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		creditSvc.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := auditWorker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

// appStores groups the persistence backends picked at startup.
type appStores struct {
	actors   identityservice.Store
	certs    certservice.Store
	credits  creditservice.Store
	audit    audit.Store
	mintKeys idempotency.KeyStore
	limiter  middleware.RateLimiter
	health   func(ctx context.Context) error
}

// buildStores selects postgres-backed stores when a DSN is configured and
// in-memory stores otherwise. Mint idempotency keys move to Redis when a
// Redis URL is set, so multi-instance deployments share them.
func buildStores(cfg config.Config, log *slog.Logger) (*appStores, func(), error) {
	stores := &appStores{
		actors:   identitystore.NewMemory(),
		certs:    certstore.NewMemory(),
		credits:  creditstore.NewMemory(),
		audit:    auditstore.NewMemory(),
		mintKeys: idempotency.NewMemory(),
	}
	closers := []func(){}
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	var db *sql.DB
	if dsn := cfg.Server.PostgresDSN; dsn != "" {
		var err error
		db, err = sql.Open("postgres", dsn)
		if err != nil {
			return nil, closeAll, err
		}
		if err := db.Ping(); err != nil {
			return nil, closeAll, err
		}
		closers = append(closers, func() { _ = db.Close() })

		stores.actors = identitystore.NewPostgres(db)
		stores.certs = certstore.NewPostgres(db)
		stores.credits = creditstore.NewPostgres(db)
		stores.audit = auditstore.NewPostgres(db)
		log.Info("using postgres persistence")
	} else {
		log.Warn("no postgres DSN configured, using in-memory stores")
	}

	var redisClient *platformredis.Client
	if cfg.Redis.URL != "" {
		var err error
		redisClient, err = platformredis.New(cfg.Redis)
		if err != nil {
			return nil, closeAll, err
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		stores.mintKeys = idempotency.NewRedis(redisClient.Client)
		log.Info("using redis for mint idempotency keys")

		if cfg.RateLimit.Enabled {
			stores.limiter = middleware.NewRedisLimiter(redisClient.Client, cfg.RateLimit.Limit, cfg.RateLimit.Window)
			log.Info("rate limiting enabled",
				"limit", cfg.RateLimit.Limit,
				"window", cfg.RateLimit.Window,
			)
		}
	}

	stores.health = func(ctx context.Context) error {
		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				return err
			}
		}
		if redisClient != nil {
			if err := redisClient.Health(ctx); err != nil {
				return err
			}
		}
		return nil
	}
	return stores, closeAll, nil
}
