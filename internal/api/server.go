package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"cryptobot/internal/marketdata"
	"cryptobot/internal/monitor"
	"cryptobot/internal/strategy"
	"cryptobot/internal/stream"
	"cryptobot/internal/trading"
	"cryptobot/pkg/logger"
)

// Server exposes a small operations API over the running bot: health,
// status, positions, order cancellation and strategy start/stop.
type Server struct {
	Router    *gin.Engine
	JWTSecret string

	trading *trading.Service
	market  *marketdata.Service
	streams *stream.Manager
	engine  *strategy.Engine
	metrics *monitor.Metrics
	log     *logger.Logger
	started time.Time
	httpSrv *http.Server
}

// SetMetrics attaches runtime metrics served on /api/metrics. Without
// it the endpoint reports an empty snapshot.
func (s *Server) SetMetrics(m *monitor.Metrics) {
	s.metrics = m
}

// NewServer wires the routes. Gin runs in release mode; the bot's own
// logger covers request-level visibility.
func NewServer(trd *trading.Service, market *marketdata.Service, streams *stream.Manager, engine *strategy.Engine, jwtSecret string, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		Router:    r,
		JWTSecret: jwtSecret,
		trading:   trd,
		market:    market,
		streams:   streams,
		engine:    engine,
		log:       log.WithComponent("api"),
		started:   time.Now(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)

	api := s.Router.Group("/api")
	api.Use(AuthMiddleware(s.JWTSecret))
	{
		api.GET("/status", s.getStatus)
		api.GET("/metrics", s.getMetrics)
		api.GET("/performance", s.getPerformance)
		api.GET("/portfolio", s.getPortfolio)
		api.GET("/positions/:symbol", s.getPosition)
		api.GET("/orders", s.getActiveOrders)
		api.POST("/orders/cancel", s.cancelOrder)
		api.POST("/orders/cancel_all", s.cancelAllOrders)
		api.POST("/strategies/:name/start", s.startStrategy)
		api.POST("/strategies/:name/stop", s.stopStrategy)
	}
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.httpSrv = &http.Server{Addr: addr, Handler: s.Router}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.ListenAndServe()
	}()
	s.log.Infof("control API listening on %s", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.started).String(),
	})
}

func (s *Server) getMetrics(c *gin.Context) {
	if s.metrics == nil {
		c.JSON(http.StatusOK, monitor.Snapshot{})
		return
	}
	c.JSON(http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) getStatus(c *gin.Context) {
	streams := s.streams.ActiveStreams()
	connected := make(map[string]bool, len(streams))
	for _, name := range streams {
		connected[name] = s.streams.IsConnected(name)
	}

	running := make([]string, 0)
	for name := range s.engine.Performance() {
		if s.engine.IsRunning(name) {
			running = append(running, name)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"uptime":             time.Since(s.started).String(),
		"streams":            connected,
		"running_strategies": running,
		"active_orders":      len(s.trading.ActiveOrders()),
	})
}

func (s *Server) getPerformance(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Performance())
}

func (s *Server) getPortfolio(c *gin.Context) {
	pv, err := s.trading.GetPortfolioValue(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, pv)
}

func (s *Server) getPosition(c *gin.Context) {
	symbol := c.Param("symbol")
	info, err := s.trading.GetRiskInfo(c.Request.Context(), symbol)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) getActiveOrders(c *gin.Context) {
	c.JSON(http.StatusOK, s.trading.ActiveOrders())
}

type cancelRequest struct {
	Symbol  string `json:"symbol" binding:"required"`
	OrderID string `json:"order_id"`
}

func (s *Server) cancelOrder(c *gin.Context) {
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	orderID, err := strconv.ParseInt(req.OrderID, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order_id must be numeric"})
		return
	}
	order, err := s.trading.CancelOrder(c.Request.Context(), req.Symbol, orderID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) cancelAllOrders(c *gin.Context) {
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	orders, err := s.trading.CancelAllOrders(c.Request.Context(), req.Symbol)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"canceled": len(orders)})
}

func (s *Server) startStrategy(c *gin.Context) {
	name := c.Param("name")
	if err := s.engine.Start(name); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"started": name})
}

func (s *Server) stopStrategy(c *gin.Context) {
	name := c.Param("name")
	if err := s.engine.Stop(name); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": name})
}
