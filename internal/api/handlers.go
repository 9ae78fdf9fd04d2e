package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smukkama/airquality-pipeline/internal/protocol"
)

// seriesParameters are the parameters served by /latest_12_<name> and
// /latest_12_all_parameters. Temperature is served through the forecast
// and latest reading endpoints.
var seriesParameters = []string{
	protocol.ParamHumidity,
	protocol.ParamPM25,
	protocol.ParamPM10,
	protocol.ParamNO2,
	protocol.ParamSO2,
	protocol.ParamCO,
}

func knownParameter(name string) bool {
	for _, p := range protocol.Parameters {
		if p == name {
			return true
		}
	}
	return false
}

func location(c *gin.Context) string {
	return strings.TrimSpace(c.Query("location"))
}

func (s *Server) limit(c *gin.Context) (int, bool) {
	limit := s.cfg.DefaultLimit
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return 0, false
		}
		limit = parsed
	}
	return limit, true
}

func (s *Server) internalError(c *gin.Context, err error) {
	s.logger.Error("query failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleLatestReading returns the newest reading as a one-element list, or
// an empty list.
// GET /latest_air_quality_data
func (s *Server) handleLatestReading(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	r, err := s.store.LatestReading(ctx, location(c))
	if err != nil {
		s.internalError(c, err)
		return
	}

	out := make([]LatestReading, 0, 1)
	if r != nil {
		out = append(out, *r)
	}
	c.JSON(http.StatusOK, out)
}

// GET /all_air_quality_predict_data
func (s *Server) handleAllForecast(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	points, err := s.store.Forecast(ctx, location(c))
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, points)
}

// handleLatestSeed returns the newest observed temperatures the forecast is
// seeded from.
// GET /latest_12_air_quality_predict
func (s *Server) handleLatestSeed(c *gin.Context) {
	limit, ok := s.limit(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	points, err := s.store.LatestSeed(ctx, location(c), limit)
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, points)
}

func (s *Server) handleParameterRoute(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.serveParameter(c, name)
	}
}

// GET /parameters/:name/latest
func (s *Server) handleParameter(c *gin.Context) {
	name := c.Param("name")
	if !knownParameter(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown parameter " + name})
		return
	}
	s.serveParameter(c, name)
}

func (s *Server) serveParameter(c *gin.Context, name string) {
	limit, ok := s.limit(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	points, err := s.store.LatestParameter(ctx, name, location(c), limit)
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, points)
}

// GET /latest_12_all_parameters
func (s *Server) handleAllParameters(c *gin.Context) {
	limit, ok := s.limit(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	loc := location(c)
	out := make(gin.H, len(seriesParameters))
	for _, name := range seriesParameters {
		points, err := s.store.LatestParameter(ctx, name, loc, limit)
		if err != nil {
			s.internalError(c, err)
			return
		}
		out[name] = points
	}
	c.JSON(http.StatusOK, out)
}

// GET /locations
func (s *Server) handleLocations(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	locations, err := s.store.Locations(ctx)
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, locations)
}

// GET /available_locations
func (s *Server) handleAvailableLocations(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	locations, err := s.store.Locations(ctx)
	if err != nil {
		s.internalError(c, err)
		return
	}

	out := make([]Location, len(locations))
	for i, loc := range locations {
		out[i] = Location{ID: loc, Name: loc}
	}
	c.JSON(http.StatusOK, out)
}
