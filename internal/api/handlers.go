package api

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"attachflow/internal/auth"
	"attachflow/internal/ingest"
	"attachflow/internal/logger"
	"attachflow/internal/models"
)

const maxMultipartMemory = 32 << 20

// Sessions is the part of ingest.Manager the handlers need.
type Sessions interface {
	Session(ctx context.Context, sessionID string) (*ingest.Coordinator, error)
	DrainAlerts(sessionID string) []models.Alert
	Purge(ctx context.Context, sessionID string) error
}

// Handler wires HTTP routes to the per-conversation ingestion coordinators.
type Handler struct {
	sessions Sessions
	auth     *auth.Service
	log      logger.Logger
}

func NewHandler(sessions Sessions, authService *auth.Service, log logger.Logger) *Handler {
	if log == nil {
		log = logger.Discard()
	}
	return &Handler{sessions: sessions, auth: authService, log: log.With("component", "api")}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	session := api.Group("/sessions/:session_id")
	session.Use(h.auth.Middleware(), h.auth.CSRFMiddleware())
	session.POST("/attachments", h.ingestFiles)
	session.GET("/attachments", h.listAttachments)
	session.DELETE("/attachments/:id", h.removeAttachment)
	session.POST("/attachments/take", h.takeAttachments)
	session.PUT("/media", h.setMediaAccepted)
	session.POST("/drag", h.dragEvent)
	session.GET("/alerts", h.drainAlerts)
	session.DELETE("", h.purgeSession)
}

// coordinator resolves the conversation of the request, writing the error response itself.
func (h *Handler) coordinator(c *gin.Context) (*ingest.Coordinator, bool) {
	sessionID := c.Param("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session_id"})
		return nil, false
	}
	coord, err := h.sessions.Session(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, ingest.ErrManagerClosed) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
			return nil, false
		}
		h.log.Error("load session failed", "session", sessionID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load session failed"})
		return nil, false
	}
	return coord, true
}

func (h *Handler) ingestFiles(c *gin.Context) {
	creds, ok := auth.CredentialsFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return
	}
	if err := c.Request.ParseMultipartForm(maxMultipartMemory); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	source := ingest.Source(c.DefaultPostForm("source", string(ingest.SourceChooser)))
	if !source.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid source"})
		return
	}
	form := c.Request.MultipartForm
	files, err := formFiles(form, "files")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	coord, ok := h.coordinator(c)
	if !ok {
		return
	}

	var req ingest.IngestRequest
	switch source {
	case ingest.SourcePaste:
		items, err := formFiles(form, "items")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ev := ingest.PasteEvent{Files: files}
		for _, f := range items {
			ev.Items = append(ev.Items, ingest.PasteItem{Kind: "file", Type: f.MimeType, File: f})
		}
		req = ingest.FromPaste(ev)
	case ingest.SourceDrop:
		req = coord.Drag().Drop(files)
	default:
		req = ingest.FromChooser(files)
	}
	req.Credentials = creds

	res := coord.Ingest(c.Request.Context(), req)
	if res.Added == nil {
		res.Added = []models.PendingAttachment{}
	}
	if res.Alerts == nil {
		res.Alerts = []models.Alert{}
	}
	c.JSON(http.StatusOK, gin.H{
		"added":       res.Added,
		"alerts":      res.Alerts,
		"attachments": coord.Files(),
	})
}

// formFiles wraps the parts under field. An optional <field>_last_modified
// list carries epoch milliseconds, one value per part.
func formFiles(form *multipart.Form, field string) ([]*models.File, error) {
	if form == nil {
		return nil, nil
	}
	headers := form.File[field]
	stamps := form.Value[field+"_last_modified"]
	files := make([]*models.File, 0, len(headers))
	for i, fh := range headers {
		var lastModified time.Time
		if i < len(stamps) && stamps[i] != "" {
			ms, err := strconv.ParseInt(stamps[i], 10, 64)
			if err != nil {
				return nil, errors.New("invalid " + field + "_last_modified")
			}
			lastModified = time.UnixMilli(ms)
		}
		files = append(files, models.MultipartFile(fh, lastModified))
	}
	return files, nil
}

func (h *Handler) listAttachments(c *gin.Context) {
	coord, ok := h.coordinator(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"attachments":    coord.Files(),
		"media_accepted": coord.MediaAccepted(),
		"drag_active":    coord.Drag().Active(),
	})
}

func (h *Handler) removeAttachment(c *gin.Context) {
	coord, ok := h.coordinator(c)
	if !ok {
		return
	}
	if !coord.RemoveFile(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "attachment not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) takeAttachments(c *gin.Context) {
	coord, ok := h.coordinator(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"attachments": coord.Take()})
}

type mediaRequest struct {
	Accepted *bool `json:"accepted" binding:"required"`
}

func (h *Handler) setMediaAccepted(c *gin.Context) {
	var req mediaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "accepted is required"})
		return
	}
	coord, ok := h.coordinator(c)
	if !ok {
		return
	}
	coord.SetMediaAccepted(*req.Accepted)
	c.JSON(http.StatusOK, gin.H{"media_accepted": coord.MediaAccepted()})
}

type dragRequest struct {
	Event string `json:"event" binding:"required,oneof=enter leave"`
}

func (h *Handler) dragEvent(c *gin.Context) {
	var req dragRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event must be enter or leave"})
		return
	}
	coord, ok := h.coordinator(c)
	if !ok {
		return
	}
	var active bool
	if req.Event == "enter" {
		active = coord.Drag().Enter()
	} else {
		active = coord.Drag().Leave()
	}
	c.JSON(http.StatusOK, gin.H{"active": active})
}

func (h *Handler) drainAlerts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"alerts": h.sessions.DrainAlerts(c.Param("session_id"))})
}

func (h *Handler) purgeSession(c *gin.Context) {
	if err := h.sessions.Purge(c.Request.Context(), c.Param("session_id")); err != nil {
		h.log.Error("purge session failed", "session", c.Param("session_id"), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "purge session failed"})
		return
	}
	c.Status(http.StatusNoContent)
}
