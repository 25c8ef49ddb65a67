package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/pixfusion/pixfusion/internal/auth"
	"github.com/pixfusion/pixfusion/internal/generation"
	"github.com/pixfusion/pixfusion/internal/models"
	"github.com/pixfusion/pixfusion/internal/ratelimit"
)

// downloadExpiry is the lifetime of presigned download links.
const downloadExpiry = time.Hour

// Presigner produces a time-limited URL for a stored object.
type Presigner interface {
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// GenerationHandler serves the generation lifecycle endpoints.
type GenerationHandler struct {
	db              *gorm.DB
	engine          *generation.Engine
	presigner       Presigner
	limiter         *ratelimit.Manager
	submitPerMinute int
}

// NewGenerationHandler constructs a GenerationHandler. The limiter may
// be nil to disable submission throttling.
func NewGenerationHandler(db *gorm.DB, engine *generation.Engine, presigner Presigner, limiter *ratelimit.Manager, submitPerMinute int) *GenerationHandler {
	return &GenerationHandler{
		db:              db,
		engine:          engine,
		presigner:       presigner,
		limiter:         limiter,
		submitPerMinute: submitPerMinute,
	}
}

type createGenerationRequest struct {
	Prompt       string `json:"prompt"`
	OutputFormat string `json:"output_format"`
	Ratio        string `json:"ratio"`
}

// Create accepts a generation request, debits nothing up front, and
// schedules the work in the background.
func (h *GenerationHandler) Create(c *gin.Context) {
	user, ok := auth.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	if h.limiter != nil && h.submitPerMinute > 0 {
		result, errAllow := h.limiter.Allow(c.Request.Context(), ratelimit.KeyForUser(user.ID), h.submitPerMinute)
		if errAllow != nil {
			log.WithError(errAllow).Warn("rate limit check failed")
		} else if !result.Allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many generation requests, slow down"})
			return
		}
	}

	var req createGenerationRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	gen, errSubmit := h.engine.Submit(c.Request.Context(), user.ID, req.Prompt, models.OutputFormat(req.OutputFormat), models.Ratio(req.Ratio))
	if errors.Is(errSubmit, generation.ErrInvalidRequest) {
		c.JSON(http.StatusBadRequest, gin.H{"error": errSubmit.Error()})
		return
	}
	if errSubmit != nil {
		log.WithError(errSubmit).Error("submit generation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "submit generation failed"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message":       "Image generation has been scheduled",
		"generation_id": gen.ID,
	})
}

// generationView is the JSON shape returned for a single generation.
type generationView struct {
	ID           string    `json:"id"`
	Prompt       string    `json:"prompt"`
	OutputFormat string    `json:"output_format"`
	Ratio        string    `json:"ratio"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Filename     string    `json:"filename,omitempty"`
	Size         int64     `json:"size,omitempty"`
	ContentType  string    `json:"content_type,omitempty"`
	URL          string    `json:"url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (h *GenerationHandler) view(ctx context.Context, gen *models.Generation) generationView {
	item := generationView{
		ID:           gen.ID,
		Prompt:       gen.Prompt,
		OutputFormat: string(gen.OutputFormat),
		Ratio:        string(gen.Ratio),
		Status:       string(gen.Status),
		ErrorMessage: gen.ErrorMessage,
		Filename:     gen.Filename,
		Size:         gen.Size,
		ContentType:  gen.ContentType,
		CreatedAt:    gen.CreatedAt,
		UpdatedAt:    gen.UpdatedAt,
	}
	if gen.Status == models.StatusCompleted && gen.ObjectKey != "" {
		url, errSign := h.presigner.PresignGet(ctx, gen.ObjectKey, downloadExpiry)
		if errSign != nil {
			log.WithError(errSign).WithField("generation_id", gen.ID).Warn("presign download failed")
		} else {
			item.URL = url
		}
	}
	return item
}

// List returns the caller's generations, newest first.
func (h *GenerationHandler) List(c *gin.Context) {
	user, ok := auth.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var gens []models.Generation
	errFind := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", user.ID).
		Order("created_at DESC").
		Find(&gens).Error
	if errFind != nil {
		log.WithError(errFind).Error("list generations failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list generations failed"})
		return
	}

	items := make([]generationView, 0, len(gens))
	for i := range gens {
		items = append(items, h.view(c.Request.Context(), &gens[i]))
	}
	c.JSON(http.StatusOK, gin.H{"count": len(items), "data": items})
}

// load fetches a generation owned by the caller, writing the error
// response itself when the record is missing.
func (h *GenerationHandler) load(c *gin.Context, userID string) (*models.Generation, bool) {
	var gen models.Generation
	errFind := h.db.WithContext(c.Request.Context()).
		Where("id = ? AND user_id = ?", c.Param("id"), userID).
		First(&gen).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "generation not found"})
		return nil, false
	}
	if errFind != nil {
		log.WithError(errFind).Error("load generation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load generation failed"})
		return nil, false
	}
	return &gen, true
}

// Get returns a single generation with a download URL when complete.
func (h *GenerationHandler) Get(c *gin.Context) {
	user, ok := auth.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	gen, ok := h.load(c, user.ID)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.view(c.Request.Context(), gen))
}

// Status returns only the lifecycle state, cheap enough to poll.
func (h *GenerationHandler) Status(c *gin.Context) {
	user, ok := auth.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	gen, ok := h.load(c, user.ID)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":            gen.ID,
		"status":        gen.Status,
		"error_message": gen.ErrorMessage,
	})
}

// Download returns a presigned URL for a completed generation.
func (h *GenerationHandler) Download(c *gin.Context) {
	user, ok := auth.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	gen, ok := h.load(c, user.ID)
	if !ok {
		return
	}
	if gen.Status != models.StatusCompleted || gen.ObjectKey == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "generation is not completed"})
		return
	}

	url, errSign := h.presigner.PresignGet(c.Request.Context(), gen.ObjectKey, downloadExpiry)
	if errSign != nil {
		log.WithError(errSign).WithField("generation_id", gen.ID).Error("presign download failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "presign download failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"url":          url,
		"filename":     gen.Filename,
		"content_type": gen.ContentType,
		"size":         gen.Size,
		"expires_in":   int(downloadExpiry.Seconds()),
	})
}

// Delete removes a generation record. The stored object is left behind
// and reaped separately.
func (h *GenerationHandler) Delete(c *gin.Context) {
	user, ok := auth.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	result := h.db.WithContext(c.Request.Context()).
		Where("id = ? AND user_id = ?", c.Param("id"), user.ID).
		Delete(&models.Generation{})
	if result.Error != nil {
		log.WithError(result.Error).Error("delete generation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete generation failed"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "generation not found"})
		return
	}
	c.Status(http.StatusNoContent)
}
