package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"kquant/internal/backtest"
	"kquant/internal/logger"
	"kquant/internal/strategy"
	"kquant/internal/trader"
)

// Config wires the API server's dependencies.
type Config struct {
	Addr     string
	Service  *backtest.Service
	Store    *backtest.Store
	Registry *strategy.Registry
	Engine   *trader.Engine

	DefaultRisk    backtest.RiskParams
	InitialCapital float64
	CostBps        int
	SlippageBps    int
	KoreanStock    bool
	MonteCarloRuns int
	Seed           int64
}

// Server exposes backtest runs and live trading status over HTTP.
type Server struct {
	cfg    Config
	router *gin.Engine
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Service == nil {
		return nil, errors.New("backtest service is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9980"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{cfg: cfg, router: router}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealth)

	api := s.router.Group("/api/backtest")
	api.POST("/runs", s.handleRunStart)
	api.GET("/runs", s.handleRunList)
	api.GET("/runs/:id", s.handleRunDetail)
	api.GET("/runs/:id/report", s.handleRunReport)

	trading := s.router.Group("/api/trading")
	trading.GET("/status", s.handleTradingStatus)
	trading.POST("/start", s.handleTradingStart)
	trading.POST("/stop", s.handleTradingStop)
	trading.POST("/emergency-stop", s.handleEmergencyStop)
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("http api listening on %s", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().Format(time.RFC3339)})
}

func (s *Server) handleRunStart(c *gin.Context) {
	var req struct {
		Symbol         string `json:"symbol" binding:"required"`
		Strategy       string `json:"strategy" binding:"required"`
		Start          string `json:"start"`
		End            string `json:"end"`
		MonteCarloRuns int    `json:"monte_carlo_runs"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	def, ok := s.lookupStrategy(req.Strategy)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown strategy: " + req.Strategy})
		return
	}
	start, end, err := parseDateRange(req.Start, req.End)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	mcRuns := req.MonteCarloRuns
	if mcRuns == 0 {
		mcRuns = s.cfg.MonteCarloRuns
	}
	summary, err := s.cfg.Service.Execute(c.Request.Context(), backtest.RunRequest{
		Strategy:           def,
		Symbol:             req.Symbol,
		Start:              start,
		End:                end,
		Risk:               s.cfg.DefaultRisk,
		TransactionCostBps: s.cfg.CostBps,
		SlippageBps:        s.cfg.SlippageBps,
		InitialCapital:     s.cfg.InitialCapital,
		KoreanStock:        s.cfg.KoreanStock,
		MonteCarloRuns:     mcRuns,
		Seed:               s.cfg.Seed,
	})
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"run_id":      summary.Record.ID,
		"metrics":     summary.Record.Metrics,
		"risk":        summary.Record.Risk,
		"monte_carlo": summary.MonteCarlo,
	})
}

func (s *Server) handleRunList(c *gin.Context) {
	if s.cfg.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run store not configured"})
		return
	}
	runs, err := s.cfg.Store.ListRuns(c.Request.Context(), 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]gin.H, 0, len(runs))
	for _, r := range runs {
		out = append(out, gin.H{
			"run_id":     r.ID,
			"strategy":   r.Strategy,
			"symbol":     r.Symbol,
			"start":      r.StartDate.Format("2006-01-02"),
			"end":        r.EndDate.Format("2006-01-02"),
			"metrics":    r.Metrics,
			"created_at": r.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"runs": out})
}

func (s *Server) handleRunDetail(c *gin.Context) {
	if s.cfg.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run store not configured"})
		return
	}
	rec, err := s.cfg.Store.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, backtest.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleRunReport(c *gin.Context) {
	if s.cfg.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run store not configured"})
		return
	}
	rec, err := s.cfg.Store.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, backtest.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := backtest.RenderReport(c.Writer, rec); err != nil {
		logger.Warnf("render report %s: %v", rec.ID, err)
	}
}

func (s *Server) handleTradingStatus(c *gin.Context) {
	if s.cfg.Engine == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trading engine not configured"})
		return
	}
	snap := s.cfg.Engine.Status()
	c.JSON(http.StatusOK, gin.H{
		"state":       snap.State.String(),
		"cash":        snap.Cash,
		"daily_pnl":   snap.DailyPnL,
		"positions":   snap.Positions,
		"orders":      snap.Orders,
		"trades":      snap.Trades,
		"halt_reason": snap.HaltReason,
	})
}

func (s *Server) handleTradingStart(c *gin.Context) {
	if s.cfg.Engine == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trading engine not configured"})
		return
	}
	var req struct {
		Symbols []string `json:"symbols"`
	}
	_ = c.ShouldBindJSON(&req)
	if err := s.cfg.Engine.Start(req.Symbols); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": s.cfg.Engine.State().String()})
}

func (s *Server) handleTradingStop(c *gin.Context) {
	if s.cfg.Engine == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trading engine not configured"})
		return
	}
	var req struct {
		ClosePositions bool `json:"close_positions"`
	}
	_ = c.ShouldBindJSON(&req)
	if err := s.cfg.Engine.Stop(req.ClosePositions); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": s.cfg.Engine.State().String()})
}

func (s *Server) handleEmergencyStop(c *gin.Context) {
	if s.cfg.Engine == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trading engine not configured"})
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "manual emergency stop"
	}
	s.cfg.Engine.EmergencyStop(req.Reason)
	c.JSON(http.StatusOK, gin.H{"state": s.cfg.Engine.State().String()})
}

func (s *Server) lookupStrategy(name string) (strategy.Definition, bool) {
	if s.cfg.Registry == nil {
		return strategy.Definition{}, false
	}
	for _, def := range s.cfg.Registry.Snapshot().Definitions {
		if def.Name == name {
			return def, true
		}
	}
	return strategy.Definition{}, false
}

func parseDateRange(start, end string) (time.Time, time.Time, error) {
	var s, e time.Time
	var err error
	if start != "" {
		if s, err = time.Parse("2006-01-02", start); err != nil {
			return s, e, errors.New("start must be YYYY-MM-DD")
		}
	}
	if end != "" {
		if e, err = time.Parse("2006-01-02", end); err != nil {
			return s, e, errors.New("end must be YYYY-MM-DD")
		}
	}
	return s, e, nil
}
