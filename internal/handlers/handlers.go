package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/medscan/internal/auth"
	"github.com/example/medscan/internal/capture"
	"github.com/example/medscan/internal/fault"
	"github.com/example/medscan/internal/session"
	"github.com/example/medscan/internal/telemetry"
)

// MaxUploadSize caps uploaded image files at 10 MiB.
const MaxUploadSize = 10 << 20

// MetricsProvider exposes the telemetry aggregation consumed by the
// metrics endpoint.
type MetricsProvider interface {
	GetMetricsSummary(ctx context.Context) (*telemetry.MetricsSummary, error)
}

// RegisterRoutes wires the HTTP handlers to the Gin router. Every event
// endpoint returns the post-event session view; events that are no-ops for
// the current state return the unchanged view.
func RegisterRoutes(router *gin.Engine, mgr *session.Manager, source *capture.Source,
	metrics MetricsProvider, authMiddleware gin.HandlerFunc) {

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/v1", authMiddleware)

	v1.POST("/sessions", func(c *gin.Context) {
		userID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user identity missing"})
			return
		}
		ctrl := mgr.Create(userID)
		c.JSON(http.StatusCreated, viewJSON(ctrl.Snapshot()))
	})

	v1.GET("/sessions/:id", func(c *gin.Context) {
		ctrl, ok := lookupSession(c, mgr)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, viewJSON(ctrl.Snapshot()))
	})

	v1.GET("/sessions/:id/image", func(c *gin.Context) {
		ctrl, ok := lookupSession(c, mgr)
		if !ok {
			return
		}
		view := ctrl.Snapshot()
		if !view.HasImage() {
			c.JSON(http.StatusNotFound, gin.H{"error": "no image in session"})
			return
		}
		c.Data(http.StatusOK, view.Image.MIME, view.Image.Bytes)
	})

	v1.POST("/sessions/:id/camera", func(c *gin.Context) {
		ctrl, ok := lookupSession(c, mgr)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, viewJSON(ctrl.RequestCamera(c.Request.Context())))
	})

	v1.POST("/sessions/:id/capture", func(c *gin.Context) {
		ctrl, ok := lookupSession(c, mgr)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, viewJSON(ctrl.ShutterPressed(c.Request.Context())))
	})

	v1.POST("/sessions/:id/cancel", func(c *gin.Context) {
		ctrl, ok := lookupSession(c, mgr)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, viewJSON(ctrl.Cancel(c.Request.Context())))
	})

	v1.POST("/sessions/:id/reset", func(c *gin.Context) {
		ctrl, ok := lookupSession(c, mgr)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, viewJSON(ctrl.Reset(c.Request.Context())))
	})

	v1.POST("/sessions/:id/upload", func(c *gin.Context) {
		ctrl, ok := lookupSession(c, mgr)
		if !ok {
			return
		}

		file, err := c.FormFile("image")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
			return
		}
		if file.Size > MaxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image file is too large"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
			return
		}

		encoded, err := source.Normalize(data)
		if err != nil {
			c.JSON(faultStatus(err), gin.H{
				"error":      fault.UserMessage(err),
				"error_kind": fault.KindOf(err),
			})
			return
		}

		view, err := ctrl.ImageSelected(c.Request.Context(), encoded)
		if err != nil {
			c.JSON(faultStatus(err), gin.H{
				"error":      fault.UserMessage(err),
				"error_kind": fault.KindOf(err),
			})
			return
		}
		c.JSON(http.StatusOK, viewJSON(view))
	})

	v1.GET("/sessions/:id/export", func(c *gin.Context) {
		ctrl, ok := lookupSession(c, mgr)
		if !ok {
			return
		}
		view := ctrl.Snapshot()
		if view.State != session.StateResult {
			c.JSON(http.StatusConflict, gin.H{"error": "session has no result to export"})
			return
		}
		renderExport(c, view)
	})

	v1.GET("/metrics", func(c *gin.Context) {
		summary, err := metrics.GetMetricsSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

func lookupSession(c *gin.Context, mgr *session.Manager) (*session.Controller, bool) {
	userID, ok := auth.GetUserID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user identity missing"})
		return nil, false
	}
	ctrl, ok := mgr.Get(userID, c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return nil, false
	}
	return ctrl, true
}

func viewJSON(view session.View) gin.H {
	body := gin.H{
		"session_id": view.ID,
		"state":      view.State,
		"has_image":  view.HasImage(),
	}
	if view.Report != nil {
		body["result"] = view.Report
	}
	if view.ErrorDetail != "" {
		body["error"] = view.ErrorDetail
		body["error_kind"] = view.ErrorKind
	}
	return body
}

func faultStatus(err error) int {
	var fe *fault.Error
	if errors.As(err, &fe) {
		switch fe.Kind {
		case fault.InvalidInput:
			return http.StatusBadRequest
		case fault.DeviceUnavailable:
			return http.StatusServiceUnavailable
		}
	}
	return http.StatusInternalServerError
}
