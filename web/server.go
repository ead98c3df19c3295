// Package web hosts the monitoring dashboard and its JSON status API.
package web

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"optionflow/config"
	"optionflow/logger"
	"optionflow/models"
	"optionflow/scheduler"
	"optionflow/store"
)

//go:embed templates/*.tmpl
var embeddedFS embed.FS

const defaultPort = "8289"

// Stats is the slice of the store the dashboard reads.
type Stats interface {
	RecentAlerts(ctx context.Context, limit int) ([]store.Alert, error)
	RecentQuotes(ctx context.Context, market string, since time.Time) ([]store.OptionQuote, error)
	TodayQuoteCount(ctx context.Context, tradeDate string) (int64, error)
	TodayAlertCount(ctx context.Context, tradeDate string) (int64, error)
	StockInfos(ctx context.Context) ([]store.StockInfo, error)
}

// Server serves the status page and API over the configured address.
type Server struct {
	cfg         config.WebConfig
	app         config.AppConfig
	db          Stats
	channels    *models.Channels
	workers     []*scheduler.MarketWorker
	coordinator *scheduler.TurnCoordinator

	startedAt         time.Time
	httpServer        *http.Server
	refreshIntervalMs int
	log               *logger.Log
}

// NewServer constructs the dashboard server when the viewer is enabled.
// When it is disabled the returned server is nil.
func NewServer(cfg config.WebConfig, app config.AppConfig, db Stats, channels *models.Channels, workers []*scheduler.MarketWorker, coordinator *scheduler.TurnCoordinator, log *logger.Log) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cfg.Address = normalizeAddress(cfg.Address)

	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Second
	}

	server := &Server{
		cfg:               cfg,
		app:               app,
		db:                db,
		channels:          channels,
		workers:           workers,
		coordinator:       coordinator,
		startedAt:         time.Now(),
		refreshIntervalMs: int(cfg.RefreshInterval / time.Millisecond),
		log:               log,
	}

	return server, nil
}

// Run starts the HTTP server and blocks until the context is cancelled or
// the server exits with an error.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}

	router, err := s.buildRouter()
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:    s.cfg.Address,
		Handler: router,
	}

	s.log.WithComponent("web").WithFields(logger.Fields{"address": s.cfg.Address}).Info("starting web viewer")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err == nil {
			return nil
		}
		return err
	}
}

// Address reports the network address the server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter() (*gin.Engine, error) {
	if config.IsProductionLike(s.app.Environment) {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	tmpl := template.Must(template.New("web").ParseFS(embeddedFS, "templates/index.tmpl"))
	router.SetHTMLTemplate(tmpl)

	router.GET("/", func(c *gin.Context) {
		c.HTML(http.StatusOK, "index.tmpl", gin.H{
			"AppName":           s.app.Name,
			"RefreshIntervalMs": s.refreshIntervalMs,
		})
	})

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":         "ok",
			"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		})
	})

	router.GET("/api/overview", s.handleOverview)
	router.GET("/api/alerts/recent", s.handleRecentAlerts)
	router.GET("/api/quotes/recent", s.handleRecentQuotes)
	router.GET("/api/underlyings", s.handleUnderlyings)

	return router, nil
}

func (s *Server) handleOverview(c *gin.Context) {
	ctx := c.Request.Context()

	markets := make([]gin.H, 0, len(s.workers))
	for _, w := range s.workers {
		tradeDate := models.TradeDay(time.Now(), w.Location())

		quotes, err := s.db.TodayQuoteCount(ctx, tradeDate)
		if err != nil {
			s.log.WithComponent("web").WithError(err).Warn("failed to count today's quotes")
		}
		alerts, err := s.db.TodayAlertCount(ctx, tradeDate)
		if err != nil {
			s.log.WithComponent("web").WithError(err).Warn("failed to count today's alerts")
		}

		markets = append(markets, gin.H{
			"market":       w.Market(),
			"running":      w.IsRunning(),
			"heartbeat":    w.Heartbeat().Format(time.RFC3339),
			"trade_date":   tradeDate,
			"quotes_today": quotes,
			"alerts_today": alerts,
		})
	}

	currentTurn := ""
	if s.coordinator != nil {
		currentTurn = s.coordinator.CurrentTurn()
	}

	payload := gin.H{
		"app":            s.app.Name,
		"version":        s.app.Version,
		"environment":    s.app.Environment,
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"goroutines":     runtime.NumGoroutine(),
		"current_turn":   currentTurn,
		"markets":        markets,
	}
	if s.channels != nil {
		stats := s.channels.GetStats()
		payload["channels"] = gin.H{
			"quotes_sent":    stats.QuotesSent,
			"quotes_dropped": stats.QuotesDropped,
			"events_sent":    stats.EventsSent,
			"events_dropped": stats.EventsDropped,
		}
	}

	c.JSON(http.StatusOK, payload)
}

func (s *Server) handleRecentAlerts(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	alerts, err := s.db.RecentAlerts(c.Request.Context(), limit)
	if err != nil {
		s.log.WithComponent("web").WithError(err).Error("failed to load recent alerts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load alerts"})
		return
	}

	payload := make([]gin.H, 0, len(alerts))
	for _, a := range alerts {
		payload = append(payload, gin.H{
			"scan_id":                 a.ScanID,
			"market":                  a.Market,
			"stock_code":              a.StockCode,
			"stock_name":              a.StockName,
			"option_code":             a.OptionCode,
			"price":                   a.Price,
			"volume":                  a.Volume,
			"previous_volume":         a.PreviousVolume,
			"volume_delta":            a.VolumeDelta,
			"turnover":                a.Turnover,
			"open_interest":           a.OpenInterest,
			"net_open_interest":       a.NetOpenInterest,
			"open_interest_delta":     a.OpenInterestDelta,
			"net_open_interest_delta": a.NetOpenInterestDelta,
			"strike_price":            a.StrikePrice,
			"option_type":             a.OptionType,
			"expiry_date":             a.ExpiryDate,
			"stock_price":             a.StockPrice,
			"direction":               a.Direction,
			"trade_date":              a.TradeDate,
			"detected_at":             a.DetectedAt.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"alerts": payload})
}

func (s *Server) handleRecentQuotes(c *gin.Context) {
	market := c.Query("market")
	if market == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "market query parameter is required"})
		return
	}

	minutes, err := strconv.Atoi(c.DefaultQuery("minutes", "30"))
	if err != nil || minutes <= 0 {
		minutes = 30
	}
	if minutes > 1440 {
		minutes = 1440
	}

	since := time.Now().Add(-time.Duration(minutes) * time.Minute)
	quotes, err := s.db.RecentQuotes(c.Request.Context(), market, since)
	if err != nil {
		s.log.WithComponent("web").WithError(err).Error("failed to load recent quotes")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load quotes"})
		return
	}

	payload := make([]gin.H, 0, len(quotes))
	for _, q := range quotes {
		payload = append(payload, gin.H{
			"market":            q.Market,
			"stock_code":        q.StockCode,
			"option_code":       q.OptionCode,
			"name":              q.Name,
			"price":             q.Price,
			"volume":            q.Volume,
			"turnover":          q.Turnover,
			"change_rate":       q.ChangeRate,
			"open_interest":     q.OpenInterest,
			"net_open_interest": q.NetOpenInterest,
			"strike_price":      q.StrikePrice,
			"option_type":       q.OptionType,
			"expiry_date":       q.ExpiryDate,
			"trade_date":        q.TradeDate,
			"timestamp":         q.Timestamp.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"quotes": payload})
}

func (s *Server) handleUnderlyings(c *gin.Context) {
	infos, err := s.db.StockInfos(c.Request.Context())
	if err != nil {
		s.log.WithComponent("web").WithError(err).Error("failed to load underlyings")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load underlyings"})
		return
	}

	payload := make([]gin.H, 0, len(infos))
	for _, info := range infos {
		payload = append(payload, gin.H{
			"code":       info.Code,
			"name":       info.Name,
			"market":     info.Market,
			"last_price": info.LastPrice,
			"updated_at": info.UpdatedAt.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"underlyings": payload})
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return "0.0.0.0:" + defaultPort
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
			port = defaultPort
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, defaultPort)
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, defaultPort)
	}

	return addr
}
