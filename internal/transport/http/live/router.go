package livehttp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tracer/internal/chart"
	"tracer/internal/feed"
	"tracer/internal/logger"
	"tracer/internal/session"
	"tracer/internal/types"
)

const maxIngestBody = 1 << 20

// Router exposes the query and control endpoints for the live chart.
type Router struct {
	Session *session.Session
	Surface *chart.EChartsSurface
	Decoder *feed.Decoder

	SnapshotEnabled bool
}

// NewRouter wires the live endpoints to the session loop.
func NewRouter(sess *session.Session, surface *chart.EChartsSurface, decoder *feed.Decoder, snapshotEnabled bool) *Router {
	return &Router{
		Session:         sess,
		Surface:         surface,
		Decoder:         decoder,
		SnapshotEnabled: snapshotEnabled,
	}
}

// Register mounts the API routes under the given group.
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.POST("/ingest", r.handleIngest)
	group.POST("/strategy/webhook", r.handleIngest)
	group.GET("/mode", r.handleModeGet)
	group.POST("/mode", r.handleModeSet)
	group.GET("/strategy_instances", r.handleInstances)
	group.POST("/strategy_instances/select", r.handleSelect)
	group.GET("/strategy-events", r.handleEvents)
	group.GET("/state", r.handleState)
}

// RegisterPages mounts the chart page and the PNG snapshot at the root.
func (r *Router) RegisterPages(engine *gin.Engine) {
	if engine == nil {
		return
	}
	engine.GET("/chart", r.handleChartPage)
	if r.SnapshotEnabled {
		engine.GET("/chart.png", r.handleChartPNG)
	}
}

// handleIngest accepts producer envelopes. Foreign envelope types are
// acknowledged and dropped so the producer can multiplex one webhook.
func (r *Router) handleIngest(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxIngestBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reading body failed"})
		return
	}
	u, err := r.Decoder.Decode(body)
	switch {
	case errors.Is(err, feed.ErrUnknownType):
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	case err != nil:
		logger.Warnf("[api] ingest rejected ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	r.Session.Ingest(u)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (r *Router) handleModeGet(c *gin.Context) {
	d := r.Session.Status().Display
	c.JSON(http.StatusOK, gin.H{"mode": d.Mode, "timezone": d.Zone})
}

type modeRequest struct {
	Mode     string `json:"mode"`
	Timezone string `json:"timezone"`
}

func (r *Router) handleModeSet(c *gin.Context) {
	var req modeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := r.Session.ApplyDisplay(session.Display{Mode: req.Mode, Zone: req.Timezone}); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": req.Mode, "timezone": req.Timezone})
}

func (r *Router) handleInstances(c *gin.Context) {
	ctx, cancel := contextWithTimeout(c, 5*time.Second)
	defer cancel()
	status := r.Session.Status()
	c.JSON(http.StatusOK, gin.H{
		"instances": r.Session.Instances(ctx),
		"selected":  status.Selected,
		"switching": status.Switching,
	})
}

type selectRequest struct {
	Name string `json:"name"`
}

func (r *Router) handleSelect(c *gin.Context) {
	var req selectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	r.Session.SelectInstance(req.Name)
	c.JSON(http.StatusAccepted, gin.H{"status": "switching", "name": req.Name})
}

type eventView struct {
	EventID      string   `json:"event_id"`
	EventTime    string   `json:"event_time"`
	InstanceName string   `json:"instance_name"`
	Position     string   `json:"position"`
	Reason       string   `json:"reason,omitempty"`
	Price        *float64 `json:"price,omitempty"`
}

// handleEvents mirrors the producer's history endpoint for the current
// selection, serving the session's in-memory event cache.
func (r *Router) handleEvents(c *gin.Context) {
	events := r.Session.Events()
	out := make([]eventView, 0, len(events))
	for _, u := range events {
		out = append(out, eventView{
			EventID:      u.EventID,
			EventTime:    u.Timestamp.UTC().Format(time.RFC3339),
			InstanceName: u.InstanceName,
			Position:     string(u.Action),
			Reason:       u.Reason,
			Price:        u.Price,
		})
	}
	c.JSON(http.StatusOK, out)
}

type stateLine struct {
	Line  string  `json:"line"`
	Price float64 `json:"price"`
}

type stateMarker struct {
	ID    string  `json:"id"`
	Time  int64   `json:"time"`
	Price float64 `json:"price"`
	Label string  `json:"label"`
}

func (r *Router) handleState(c *gin.Context) {
	status := r.Session.Status()
	lines, markers := r.Surface.Snapshot()

	outLines := make([]stateLine, 0, len(lines))
	for _, lt := range types.LineTypes() {
		if price, ok := lines[lt]; ok {
			outLines = append(outLines, stateLine{Line: string(lt), Price: price})
		}
	}
	outMarkers := make([]stateMarker, 0, len(markers))
	for _, m := range markers {
		outMarkers = append(outMarkers, stateMarker{ID: m.ID, Time: m.Time, Price: m.Price, Label: m.Label})
	}

	c.JSON(http.StatusOK, gin.H{
		"selected":  status.Selected,
		"switching": status.Switching,
		"alive":     status.Health.IsAlive,
		"orphaned":  status.Health.IsOrphaned,
		"lines":     outLines,
		"markers":   outMarkers,
	})
}

func (r *Router) handleChartPage(c *gin.Context) {
	html, err := r.Surface.RenderHTML()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}

func (r *Router) handleChartPNG(c *gin.Context) {
	ctx, cancel := contextWithTimeout(c, 30*time.Second)
	defer cancel()
	png, err := r.Surface.RenderPNG(ctx)
	if err != nil {
		logger.Errorf("[api] chart snapshot failed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func contextWithTimeout(c *gin.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), d)
}
