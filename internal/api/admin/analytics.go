package admin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/auditcore/audit-service/internal/analytics"
	"github.com/auditcore/audit-service/internal/config"
)

// AnalyticsHandler exposes time series, rankings, distributions and anomaly detection.
// Ranges default to the configured window ending now.
type AnalyticsHandler struct {
	engine   *analytics.Engine
	detector *analytics.Detector
	cfg      config.AnalyticsConfig
	now      func() time.Time
}

// NewAnalyticsHandler creates an analytics handler
func NewAnalyticsHandler(engine *analytics.Engine, detector *analytics.Detector, cfg config.AnalyticsConfig) *AnalyticsHandler {
	return &AnalyticsHandler{engine: engine, detector: detector, cfg: cfg, now: time.Now}
}

func (h *AnalyticsHandler) window(c *gin.Context) (time.Time, time.Time, error) {
	start, end, err := parseRange(c)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	s, e := analytics.DefaultRange(h.cfg, start, end, h.now())
	return s, e, nil
}

// TimeSeries buckets entries by granularity (HOUR, DAY or WEEK; DAY by default)
func (h *AnalyticsHandler) TimeSeries(c *gin.Context) {
	start, end, err := h.window(c)
	if err != nil {
		respondError(c, err)
		return
	}
	g, err := analytics.ParseGranularity(c.DefaultQuery("granularity", string(analytics.Day)))
	if err != nil {
		respondError(c, err)
		return
	}

	points, err := h.engine.TimeSeries(c.Request.Context(), start, end, g)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"start": start, "end": end, "granularity": g, "points": points})
}

// TopActors ranks actors by action count
func (h *AnalyticsHandler) TopActors(c *gin.Context) {
	start, end, err := h.window(c)
	if err != nil {
		respondError(c, err)
		return
	}
	limit, err := parseIntParam(c, "limit", 10)
	if err != nil {
		respondError(c, err)
		return
	}

	actors, err := h.engine.TopActors(c.Request.Context(), limit, start, end)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"start": start, "end": end, "actors": actors})
}

// Distribution counts entries by action, resourceType or riskLevel
func (h *AnalyticsHandler) Distribution(c *gin.Context) {
	start, end, err := h.window(c)
	if err != nil {
		respondError(c, err)
		return
	}
	dim, err := analytics.ParseDimension(c.DefaultQuery("dimension", string(analytics.DimensionAction)))
	if err != nil {
		respondError(c, err)
		return
	}

	counts, err := h.engine.Distribution(c.Request.Context(), dim, start, end)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"start": start, "end": end, "dimension": dim, "counts": counts})
}

// Hourly counts entries by UTC hour of day
func (h *AnalyticsHandler) Hourly(c *gin.Context) {
	start, end, err := h.window(c)
	if err != nil {
		respondError(c, err)
		return
	}

	counts, err := h.engine.HourlyActivity(c.Request.Context(), start, end)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"start": start, "end": end, "counts": counts})
}

// Anomalies runs the detection heuristics over the window
func (h *AnalyticsHandler) Anomalies(c *gin.Context) {
	start, end, err := h.window(c)
	if err != nil {
		respondError(c, err)
		return
	}

	found, err := h.detector.Detect(c.Request.Context(), start, end)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"start": start, "end": end, "anomalies": found})
}
