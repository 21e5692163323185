// Package statusapi exposes a read-only HTTP surface for operational
// visibility into the liquidation engine: liveness, and a status
// snapshot of tick counters, candidate counts and indexer state. It
// never accepts a request that could trigger a trade.
package statusapi

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Snapshot is the point-in-time status payload served at /status.
type Snapshot struct {
	IndexerState        string    `json:"indexerState"`
	ObligationCount     int       `json:"obligationCount"`
	CandidateCount      int       `json:"candidateCount"`
	LiquidationEligible int       `json:"liquidationEligibleCount"`
	LastTickAt          time.Time `json:"lastTickAt"`
	LastTickStatus      string    `json:"lastTickStatus"`
	TickCount           uint64    `json:"tickCount"`
	PresubmitCacheSize  int       `json:"presubmitCacheSize"`
}

// SnapshotFunc is called on every /status request to gather the
// current state from the engine's long-lived components.
type SnapshotFunc func() Snapshot

// Server wraps an Echo HTTP server serving the read-only status
// surface.
type Server struct {
	e      *echo.Echo
	addr   string
	closed chan struct{}
}

// Config configures a new Server.
type Config struct {
	Addr     string
	Snapshot SnapshotFunc
}

// New constructs a Server bound to cfg.Addr, with routes registered
// against cfg.Snapshot.
func New(cfg Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.Logger())

	e.Server.ReadTimeout = 15 * time.Second
	e.Server.WriteTimeout = 15 * time.Second
	e.Server.IdleTimeout = 60 * time.Second

	api := e.Group("", setNoCacheHeaders, setJSONContentType)
	api.GET("/healthz", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok"})
	})
	api.GET("/status", func(c echo.Context) error {
		if cfg.Snapshot == nil {
			return c.JSON(200, Snapshot{})
		}
		return c.JSON(200, cfg.Snapshot())
	})

	return &Server{e: e, addr: cfg.Addr, closed: make(chan struct{})}
}

// Start begins serving HTTP requests; it blocks until the server stops.
func (s *Server) Start() error {
	return s.e.Start(s.addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	defer close(s.closed)
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.e.Shutdown(ctx)
}

// WaitClosed blocks until Shutdown has completed or ctx expires.
func (s *Server) WaitClosed(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closed:
		return nil
	}
}

func setNoCacheHeaders(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Set("Cache-Control", "no-store")
		return next(c)
	}
}

func setJSONContentType(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		return next(c)
	}
}
