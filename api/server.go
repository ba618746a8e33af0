// Package api exposes the controller over HTTP: vehicle agents query their
// light and post world snapshots, operators read the state, the learned
// table and the metrics.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zeu5/traffic-rl-signal/controller"
	"github.com/zeu5/traffic-rl-signal/intersection"
	"github.com/zeu5/traffic-rl-signal/logging"
	"github.com/zeu5/traffic-rl-signal/policies"
	"github.com/zeu5/traffic-rl-signal/publish"
	"github.com/zeu5/traffic-rl-signal/store"
)

// Controller is what the server reads from the control loop.
type Controller interface {
	LightFor(intersection.Direction) intersection.LightColor
	Signal() intersection.Signal
	Stats() controller.Stats
	Table() *policies.QTable
}

type Server struct {
	Addr       string
	controller Controller
	// snapshots receives posted vehicle states, nil when the world is
	// simulated in process
	snapshots *intersection.SnapshotBuffer
	registry  *prometheus.Registry
	runID     string
	logger    *slog.Logger
	router    *gin.Engine
	server    *http.Server
}

type Options struct {
	Snapshots *intersection.SnapshotBuffer
	Registry  *prometheus.Registry
	// Stream serves GET /stream, a websocket of light changes
	Stream http.Handler
	// RunID identifies the process in /health
	RunID  string
	Logger *slog.Logger
}

func NewServer(addr string, c Controller, opts Options) *Server {
	s := &Server{
		Addr:       addr,
		controller: c,
		snapshots:  opts.Snapshots,
		registry:   opts.Registry,
		runID:      opts.RunID,
		logger:     logging.OrDefault(opts.Logger),
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.logRequests)
	r.GET("/health", s.handleHealth)
	r.GET("/lights", s.handleLights)
	r.GET("/lights/:direction", s.handleLight)
	r.GET("/state", s.handleState)
	r.GET("/table", s.handleTable)
	r.POST("/snapshot", s.handleSnapshot)
	if s.registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	}
	if opts.Stream != nil {
		r.GET("/stream", gin.WrapH(opts.Stream))
	}
	s.router = r
	s.server = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "ok", "run_id": s.runID})
}

func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.logger.Debug("request",
		"method", c.Request.Method,
		"path", c.FullPath(),
		"status", c.Writer.Status(),
		"duration", time.Since(start),
	)
}

func (s *Server) handleLights(c *gin.Context) {
	c.JSON(http.StatusOK, publish.NewMessage(s.controller.Signal(), time.Now()))
}

func (s *Server) handleLight(c *gin.Context) {
	d, err := intersection.ParseDirection(c.Param("direction"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"direction": d.String(),
		"light":     s.controller.LightFor(d).String(),
	})
}

func (s *Server) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, s.controller.Stats())
}

func (s *Server) handleTable(c *gin.Context) {
	c.JSON(http.StatusOK, store.NewDocument(s.controller.Table()))
}

// VehicleState is the wire form of a vehicle in a posted snapshot
type VehicleState struct {
	Position  intersection.Vec2 `json:"position"`
	Direction string            `json:"direction"`
	Stopped   bool              `json:"stopped"`
}

type SnapshotRequest struct {
	Vehicles []VehicleState `json:"vehicles"`
}

func (s *Server) handleSnapshot(c *gin.Context) {
	if s.snapshots == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "snapshots are produced in process"})
		return
	}
	req := SnapshotRequest{}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to unmarshal request"})
		return
	}
	vehicles := make([]intersection.Vehicle, len(req.Vehicles))
	for i, v := range req.Vehicles {
		d, err := intersection.ParseDirection(v.Direction)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		vehicles[i] = intersection.Vehicle{
			Position:  v.Position,
			Direction: d,
			Stopped:   v.Stopped,
		}
	}
	s.snapshots.Replace(vehicles)
	c.JSON(http.StatusOK, gin.H{"message": "ok", "vehicles": len(vehicles)})
}

// Serve listens until ctx is done and then shuts the server down.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", s.Addr)
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
