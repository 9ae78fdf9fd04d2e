package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/smukkama/airquality-pipeline/pkg/config"
)

// Server bundles router and dependencies for the read API.
type Server struct {
	cfg      config.APIConfig
	store    Store
	engine   *gin.Engine
	logger   *zap.Logger
	requests *prometheus.HistogramVec
}

// NewServer constructs a server with routes and middleware. Request metrics
// are registered on reg and served from it at /metrics.
func NewServer(cfg config.APIConfig, store Store, reg *prometheus.Registry, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	s := &Server{
		cfg:    cfg,
		store:  store,
		engine: engine,
		logger: logger,
		requests: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "airquality_api_request_duration_seconds",
			Help:    "Duration of read API requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}

	engine.Use(gin.Recovery())
	engine.Use(s.requestLogger())
	engine.Use(corsMiddleware())

	s.registerRoutes(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return s
}

// Engine exposes the underlying gin engine (for tests).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run starts the HTTP server and blocks until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr(),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("read API listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes(metrics http.Handler) {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(metrics))

	s.engine.GET("/latest_air_quality_data", s.handleLatestReading)
	s.engine.GET("/all_air_quality_predict_data", s.handleAllForecast)
	s.engine.GET("/latest_12_air_quality_predict", s.handleLatestSeed)

	for _, name := range seriesParameters {
		s.engine.GET("/latest_12_"+name, s.handleParameterRoute(name))
	}
	s.engine.GET("/parameters/:name/latest", s.handleParameter)
	s.engine.GET("/latest_12_all_parameters", s.handleAllParameters)

	s.engine.GET("/locations", s.handleLocations)
	s.engine.GET("/available_locations", s.handleAvailableLocations)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		s.requests.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Observe(elapsed.Seconds())

		s.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", elapsed),
		)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
