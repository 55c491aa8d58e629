// Package server wires the Atlas API together: storage selection,
// middleware, routes, background workers, and lifecycle management.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"

	"github.com/atlashq/atlas-core/internal/challenge"
	"github.com/atlashq/atlas-core/internal/config"
	"github.com/atlashq/atlas-core/internal/health"
	"github.com/atlashq/atlas-core/internal/idgen"
	"github.com/atlashq/atlas-core/internal/ledger"
	"github.com/atlashq/atlas-core/internal/logging"
	"github.com/atlashq/atlas-core/internal/metrics"
	"github.com/atlashq/atlas-core/internal/money"
	"github.com/atlashq/atlas-core/internal/notify"
	"github.com/atlashq/atlas-core/internal/ratelimit"
	"github.com/atlashq/atlas-core/internal/realtime"
	"github.com/atlashq/atlas-core/internal/security"
	"github.com/atlashq/atlas-core/internal/traces"
	"github.com/atlashq/atlas-core/internal/validation"
	"github.com/atlashq/atlas-core/internal/wallet"
	"github.com/atlashq/atlas-core/internal/watcher"
)

// Server is the Atlas API server.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *sql.DB

	challenges     *challenge.Service
	challengeStore challenge.Store
	expiryTimer    *challenge.Timer

	ledger      *ledger.Ledger
	ledgerStore ledger.Store
	gateway     *ledger.Gateway

	notifyStore notify.Store
	dispatcher  *notify.Dispatcher

	hub            *realtime.Hub
	wallets        *wallet.Service
	deposits       *watcher.Watcher
	watcherRunning bool
	limiter        *ratelimit.Limiter
	checks         *health.Registry
	router         *gin.Engine
	httpSrv        *http.Server
	cancelRun      context.CancelFunc

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets the structured logger used by the server and all
// subsystems it constructs.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a fully wired server. Storage backends are chosen from
// the config: postgres when DATABASE_URL is set, in-memory otherwise.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: slog.Default(),
		checks: health.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}

	var walletStore wallet.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			db.Close()
			return nil, fmt.Errorf("pinging database: %w", err)
		}

		s.db = db
		s.challengeStore = challenge.NewPostgresStore(db)
		s.ledgerStore = ledger.NewPostgresStore(db)
		s.notifyStore = notify.NewPostgresStore(db)
		walletStore = wallet.NewPostgresStore(db)
		s.logger.Info("using postgres storage", "dsn", maskDSN(cfg.DatabaseURL))
	} else {
		s.challengeStore = challenge.NewMemoryStore()
		s.ledgerStore = ledger.NewMemoryStore()
		s.notifyStore = notify.NewMemoryStore()
		walletStore = wallet.NewMemoryStore()
		s.logger.Info("using in-memory storage")
	}

	s.ledger = ledger.New(s.ledgerStore)
	s.gateway = ledger.NewGateway(s.ledgerStore, cfg.PlatformAccount, s.logger)
	s.wallets = wallet.NewService(walletStore)

	s.hub = realtime.NewHub(s.logger)
	s.dispatcher = notify.NewDispatcher(s.notifyStore)
	notifier := multiNotifier{
		notify.NewEmitter(s.dispatcher, s.logger),
		realtime.NewStreamer(s.hub),
	}

	s.challenges = challenge.NewService(s.challengeStore, s.gateway, s.logger).
		WithPlatformAccount(cfg.PlatformAccount).
		WithDefaultExpiryDays(cfg.DefaultExpiryDays).
		WithNotifier(notifier)
	s.expiryTimer = challenge.NewTimer(s.challenges, s.challengeStore, s.logger)

	if cfg.WatcherEnabled() {
		w, err := watcher.New(watcher.Config{
			RPCURL:         cfg.RPCURL,
			TokenContract:  common.HexToAddress(cfg.USDCContract),
			Token:          "USDC",
			DepositAddress: common.HexToAddress(cfg.CustodyAddress),
			PollInterval:   watcher.DefaultConfig().PollInterval,
		}, s.ledger, s.wallets, s.logger)
		if err != nil {
			return nil, fmt.Errorf("creating deposit watcher: %w", err)
		}
		s.deposits = w
	}

	rlCfg := ratelimit.DefaultConfig()
	if cfg.RateLimitRPS > 0 {
		rlCfg.RequestsPerMinute = cfg.RateLimitRPS * 60
		rlCfg.BurstSize = cfg.RateLimitRPS
	}
	s.limiter = ratelimit.New(rlCfg)

	s.registerHealthChecks()
	s.setupRouter()
	s.healthy.Store(true)
	return s, nil
}

// multiNotifier fans a challenge event out to several notifiers.
type multiNotifier []challenge.Notifier

func (m multiNotifier) Notify(ctx context.Context, event string, c *challenge.Challenge) {
	for _, n := range m {
		n.Notify(ctx, event, c)
	}
}

func (s *Server) registerHealthChecks() {
	if s.db != nil {
		s.checks.Register("database", func(ctx context.Context) health.Status {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if err := s.db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}
	s.checks.Register("expiry_timer", func(ctx context.Context) health.Status {
		return health.Status{Name: "expiry_timer", Healthy: s.expiryTimer.Running()}
	})
}

func (s *Server) setupRouter() {
	if s.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.CustomRecovery(func(c *gin.Context, err interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", fmt.Sprint(err),
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}))
	router.Use(security.HeadersMiddleware())
	router.Use(security.CORSMiddleware([]string{"*"}))
	router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
	router.Use(s.requestIDMiddleware())
	router.Use(s.loggingMiddleware())
	router.Use(metrics.Middleware())
	router.Use(s.limiter.Middleware())

	router.GET("/health", s.healthHandler)
	router.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "alive"})
	})
	readyHandler := func(c *gin.Context) {
		if !s.ready.Load() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
	router.GET("/health/ready", readyHandler)
	router.GET("/ready", readyHandler)
	router.GET("/metrics", metrics.Handler())
	router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})
	router.GET("/api/v1/platform", s.platformHandler)

	v1 := router.Group("/api/v1")
	v1.Use(validation.UserParamMiddleware())
	challenge.NewHandler(s.challenges).RegisterRoutes(v1)
	ledger.NewHandler(s.ledger, s.ledgerStore).RegisterRoutes(v1)
	notify.NewHandler(s.notifyStore).RegisterRoutes(v1)
	wallet.NewHandler(s.wallets).RegisterRoutes(v1)

	s.router = router
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.checks.CheckAll(c.Request.Context())
	s.healthy.Store(healthy)

	code := http.StatusOK
	status := "healthy"
	if !healthy {
		code = http.StatusServiceUnavailable
		status = "unhealthy"
	}
	c.JSON(code, gin.H{
		"status": status,
		"checks": statuses,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) platformHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"feeBasisPoints":    money.FeeBasisPoints,
		"platformAccount":   s.cfg.PlatformAccount,
		"defaultExpiryDays": s.cfg.DefaultExpiryDays,
		"watcherEnabled":    s.cfg.WatcherEnabled(),
	})
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.WithPrefix("req_")
		}
		c.Header("X-Request-ID", requestID)

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger.With("requestId", requestID))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		log := logging.L(c.Request.Context())
		attrs := []interface{}{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", time.Since(start).String(),
			"clientIp", c.ClientIP(),
		}
		switch {
		case status >= 500:
			log.Error("request", attrs...)
		case status >= 400:
			log.Warn("request", attrs...)
		default:
			log.Info("request", attrs...)
		}
	}
}

// Router returns the gin engine, primarily for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run starts the server and blocks until the context is cancelled, a
// termination signal arrives, or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRun = cancel
	defer cancel()

	shutdownTraces, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("tracing disabled", "error", err)
	} else {
		defer func() {
			flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer flushCancel()
			if err := shutdownTraces(flushCtx); err != nil {
				s.logger.Warn("trace exporter shutdown failed", "error", err)
			}
		}()
	}

	go s.hub.Run(runCtx)
	go s.expiryTimer.Start(runCtx)
	if s.deposits != nil {
		if err := s.deposits.Start(runCtx); err != nil {
			s.logger.Error("deposit watcher failed to start", "error", err)
		} else {
			s.watcherRunning = true
		}
	}
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("server listening",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
			"watcher", s.cfg.WatcherEnabled(),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// Mark ready once the listener goroutine has had a chance to bind.
	time.AfterFunc(100*time.Millisecond, func() { s.ready.Store(true) })

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("run context cancelled")
	}

	return s.Shutdown()
}

// Shutdown drains in-flight requests and stops background workers.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	if s.cancelRun != nil {
		s.cancelRun()
	}

	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
	}

	s.expiryTimer.Stop()
	if s.deposits != nil && s.watcherRunning {
		s.deposits.Stop()
		s.watcherRunning = false
	}
	s.limiter.Stop()

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn("database close failed", "error", err)
		}
	}

	s.logger.Info("server stopped")
	return nil
}

var dsnPasswordRe = regexp.MustCompile(`://([^:/@]+):[^@]+@`)

func maskDSN(dsn string) string {
	return dsnPasswordRe.ReplaceAllString(dsn, "://$1:***@")
}
