package dashboard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"cfdfeed/config"
	"cfdfeed/internal/account"
	"cfdfeed/internal/candles"
	"cfdfeed/internal/metrics"
	"cfdfeed/internal/rest"
	"cfdfeed/internal/stream"
	"cfdfeed/logger"
	"cfdfeed/models"
)

// Feed is the read side of the stream client.
type Feed interface {
	RecentTrades() []models.TradeRecord
	LatestOrderBook() *models.OrderBookSnapshot
	State() models.ConnectionState
	Symbol() string
	Stats() stream.Stats
}

type CandleSource interface {
	Fetch(ctx context.Context, q candles.Query) ([]models.Candle, error)
}

type SessionStore interface {
	Current() (models.Session, error)
	Login(ctx context.Context, email, password string) (models.Session, error)
	Register(ctx context.Context, email, password string) (models.Session, error)
	Logout() error
}

type BalanceSource interface {
	Balances(ctx context.Context, token string) ([]models.Balance, error)
}

// Deps are the collaborators behind the API routes. Only Feed is required;
// routes whose collaborator is nil answer 503.
type Deps struct {
	Feed     Feed
	Candles  CandleSource
	Sessions SessionStore
	Balances BalanceSource
}

// Server hosts the HTTP read API over the live feed.
type Server struct {
	cfg             config.DashboardConfig
	deps            Deps
	log             *logger.Log
	metricStore     *metricStore
	logStore        *logStore
	metricHandler   metrics.MetricHandlerID
	httpServer      *http.Server
	resourceSampler *resourceSampler
}

// NewServer constructs the API server when it is enabled in cfg. When it is
// disabled the returned server is nil.
func NewServer(cfg config.DashboardConfig, log *logger.Log, deps Deps) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if deps.Feed == nil {
		return nil, errors.New("dashboard requires a feed")
	}

	cfg.Address = normalizeAddress(cfg.Address)
	if cfg.LogHistory <= 0 {
		cfg.LogHistory = 200
	}
	if cfg.MetricsHistory <= 0 {
		cfg.MetricsHistory = 200
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = 5 * time.Second
	}

	metricStore := newMetricStore(cfg.MetricsHistory)
	handlerID := metrics.RegisterMetricHandler(metricStore.handle)

	logStore := newLogStore(cfg.LogHistory)
	log.AddHook(logStore)

	return &Server{
		cfg:             cfg,
		deps:            deps,
		log:             log,
		metricStore:     metricStore,
		logStore:        logStore,
		metricHandler:   handlerID,
		resourceSampler: newResourceSampler(cfg.MetricsHistory, cfg.SampleInterval, "/", log),
	}, nil
}

// Run serves until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}

	defer s.cleanup()

	router, err := s.buildRouter()
	if err != nil {
		return err
	}

	s.resourceSampler.start(ctx)

	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.log.WithComponent("dashboard").WithField("address", s.cfg.Address).Info("api server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	if s.logStore != nil {
		s.logStore.close()
	}
	s.resourceSampler.stop()
}

// Address reports the network address the server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter() (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestMetrics())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := router.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/trades", s.handleTrades)
	api.GET("/orderbook", s.handleOrderBook)
	api.GET("/candles", s.handleCandles)
	api.GET("/session", s.handleSession)
	api.POST("/session", s.handleLogin)
	api.DELETE("/session", s.handleLogout)
	api.POST("/register", s.handleRegister)
	api.GET("/balances", s.handleBalances)
	api.GET("/metrics", s.handleMetrics)
	api.GET("/logs", s.handleLogs)
	api.GET("/resources", s.handleResources)

	return router, nil
}

// requestMetrics counts API requests by route and status.
func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordAPIRequest(route, c.Writer.Status())
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	feed := s.deps.Feed
	stats := feed.Stats()
	c.JSON(http.StatusOK, gin.H{
		"connected": stats.Connected,
		"state":     feed.State(),
		"symbol":    feed.Symbol(),
		"stats":     stats,
	})
}

func (s *Server) handleTrades(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"trades": s.deps.Feed.RecentTrades()})
}

func (s *Server) handleOrderBook(c *gin.Context) {
	book := s.deps.Feed.LatestOrderBook()
	if book == nil {
		c.Status(http.StatusNoContent)
		return
	}

	payload := gin.H{
		"symbol":    book.Symbol,
		"bids":      book.Bids,
		"asks":      book.Asks,
		"timestamp": book.Timestamp,
	}
	if bid, ok := book.BestBid(); ok {
		payload["best_bid"] = bid
	}
	if ask, ok := book.BestAsk(); ok {
		payload["best_ask"] = ask
	}
	if spread, ok := book.Spread(); ok {
		payload["spread"] = spread.String()
	}
	c.JSON(http.StatusOK, payload)
}

func (s *Server) handleCandles(c *gin.Context) {
	if s.deps.Candles == nil {
		unavailable(c, "candles")
		return
	}

	var q candles.Query
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if q.Asset == "" {
		q.Asset = s.deps.Feed.Symbol()
	}

	bars, err := s.deps.Candles.Fetch(c.Request.Context(), q)
	if err != nil {
		s.upstreamError(c, "candles", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"candles": bars})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleSession(c *gin.Context) {
	if s.deps.Sessions == nil {
		unavailable(c, "sessions")
		return
	}
	session, err := s.deps.Sessions.Current()
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) handleLogin(c *gin.Context) {
	if s.deps.Sessions == nil {
		unavailable(c, "sessions")
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	session, err := s.deps.Sessions.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		s.upstreamError(c, "login", err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) handleRegister(c *gin.Context) {
	if s.deps.Sessions == nil {
		unavailable(c, "sessions")
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	session, err := s.deps.Sessions.Register(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		s.upstreamError(c, "register", err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (s *Server) handleLogout(c *gin.Context) {
	if s.deps.Sessions == nil {
		unavailable(c, "sessions")
		return
	}
	if err := s.deps.Sessions.Logout(); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleBalances(c *gin.Context) {
	if s.deps.Sessions == nil || s.deps.Balances == nil {
		unavailable(c, "balances")
		return
	}
	session, err := s.deps.Sessions.Current()
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	balances, err := s.deps.Balances.Balances(c.Request.Context(), session.Token)
	if err != nil {
		s.upstreamError(c, "balances", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"balances":   balances,
		"usdc_total": account.TotalUSDC(balances).String(),
	})
}

func (s *Server) handleMetrics(c *gin.Context) {
	snapshot := s.metricStore.snapshot()
	payload := make([]gin.H, 0, len(snapshot))
	for _, m := range snapshot {
		payload = append(payload, gin.H{
			"timestamp": m.Timestamp.Format(time.RFC3339Nano),
			"component": m.Component,
			"name":      m.Name,
			"value":     m.Value,
			"type":      m.Type,
			"fields":    m.Fields,
		})
	}
	c.JSON(http.StatusOK, gin.H{"metrics": payload})
}

// handleLogs serves captured logs, optionally filtered by ?level=warn.
func (s *Server) handleLogs(c *gin.Context) {
	raw := c.Query("level")
	if raw == "" {
		c.JSON(http.StatusOK, gin.H{"logs": s.logStore.snapshot()})
		return
	}
	level, err := logrus.ParseLevel(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": s.logStore.atLeast(level)})
}

func (s *Server) handleResources(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"resources": s.resourceSampler.snapshot()})
}

func unavailable(c *gin.Context, what string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": what + " not configured"})
}

// upstreamError maps collaborator errors onto HTTP statuses.
func (s *Server) upstreamError(c *gin.Context, op string, err error) {
	status := http.StatusBadGateway
	var se *rest.StatusError
	switch {
	case errors.Is(err, candles.ErrInvalidQuery), errors.Is(err, account.ErrMissingCredentials):
		status = http.StatusBadRequest
	case errors.Is(err, rest.ErrUnauthorized), errors.Is(err, account.ErrNotLoggedIn):
		status = http.StatusUnauthorized
	case errors.Is(err, rest.ErrNotConfigured):
		status = http.StatusServiceUnavailable
	case errors.As(err, &se) && se.Status == http.StatusTooManyRequests:
		status = http.StatusTooManyRequests
	case errors.As(err, &se) && se.Status == http.StatusConflict:
		status = http.StatusConflict
	}
	if status >= http.StatusInternalServerError {
		s.log.WithComponent("dashboard").WithError(err).WithField("operation", op).Warn("upstream request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8080")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}

	return addr
}
