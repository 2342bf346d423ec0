package http

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/emissionary/backend/internal/domain"
	"github.com/emissionary/backend/internal/logger"
)

// StatusClientClosedRequest is the non-standard status for requests the client gave up on
const StatusClientClosedRequest = 499

const defaultMaxUploadBytes = 12 << 20

// ReceiptProcessor runs the receipt pipeline
type ReceiptProcessor interface {
	ProcessReceipt(ctx context.Context, req *domain.ReceiptRequest) (*domain.ProcessingResult, error)
	ProcessText(ctx context.Context, text string) (*domain.ProcessingResult, error)
}

// HandlerConfig holds HTTP handler limits
type HandlerConfig struct {
	MaxUploadBytes int64
	DatasetRecords int
	ModelEnabled   bool
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	processor ReceiptProcessor
	cfg       HandlerConfig
	log       zerolog.Logger
}

// NewHandler creates a new HTTP handler. processor may be nil, in which case
// the receipt endpoints answer 503.
func NewHandler(processor ReceiptProcessor, cfg HandlerConfig) *Handler {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	return &Handler{
		processor: processor,
		cfg:       cfg,
		log:       logger.WithComponent("http-handler"),
	}
}

// processReceiptRequest is the JSON form of an upload
type processReceiptRequest struct {
	Image     string `json:"image" binding:"required"` // base64, optionally a data URL
	ImageType string `json:"image_type"`
}

type processTextRequest struct {
	Text string `json:"text" binding:"required"`
}

// HealthCheck returns the health status of the API
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"service":        "emissionary-backend",
		"version":        "1.0.0",
		"datasetRecords": h.cfg.DatasetRecords,
		"modelEnabled":   h.cfg.ModelEnabled,
	})
}

// ProcessReceipt accepts a multipart "image" field or a JSON body with a
// base64 image and returns the ProcessingResult
func (h *Handler) ProcessReceipt(c *gin.Context) {
	if h.processor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "receipt processing is not configured"})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxUploadBytes)

	var (
		req *domain.ReceiptRequest
		err error
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		req, err = readMultipartImage(c)
	} else {
		req, err = readJSONImage(c)
	}
	if err != nil {
		h.writeBadRequest(c, err)
		return
	}

	result, err := h.processor.ProcessReceipt(c.Request.Context(), req)
	h.writeResult(c, result, err)
}

// ProcessText runs the pipeline on already-recognized receipt text
func (h *Handler) ProcessText(c *gin.Context) {
	if h.processor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "receipt processing is not configured"})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxUploadBytes)

	var req processTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeBadRequest(c, err)
		return
	}

	result, err := h.processor.ProcessText(c.Request.Context(), req.Text)
	h.writeResult(c, result, err)
}

func readMultipartImage(c *gin.Context) (*domain.ReceiptRequest, error) {
	fileHeader, err := c.FormFile("image")
	if err != nil {
		return nil, err
	}

	file, err := fileHeader.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()

	image, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}

	mimeType := c.PostForm("image_type")
	if mimeType == "" {
		mimeType = fileHeader.Header.Get("Content-Type")
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(image)
	}

	return &domain.ReceiptRequest{Image: image, MIMEType: mimeType}, nil
}

func readJSONImage(c *gin.Context) (*domain.ReceiptRequest, error) {
	var body processReceiptRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		return nil, err
	}

	encoded := body.Image
	mimeType := body.ImageType

	// data:image/png;base64,....
	if rest, ok := strings.CutPrefix(encoded, "data:"); ok {
		meta, payload, found := strings.Cut(rest, ",")
		if !found {
			return nil, errors.New("malformed data URL")
		}
		if mimeType == "" {
			mimeType, _, _ = strings.Cut(meta, ";")
		}
		encoded = payload
	}

	image, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, errors.New("image is not valid base64")
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(image)
	}

	return &domain.ReceiptRequest{Image: image, MIMEType: mimeType}, nil
}

func (h *Handler) writeBadRequest(c *gin.Context, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func (h *Handler) writeResult(c *gin.Context, result *domain.ProcessingResult, err error) {
	if result == nil {
		h.log.Error().Err(err).Msg("Pipeline returned no result")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	status := StatusForResult(result)
	if err != nil {
		h.log.Warn().
			Err(err).
			Str("request_id", result.RequestID).
			Str("error_code", result.ErrorCode).
			Int("status", status).
			Msg("Receipt processing failed")
	}
	c.JSON(status, result)
}

// StatusForResult maps a processing result to an HTTP status
func StatusForResult(result *domain.ProcessingResult) int {
	if result.Success {
		return http.StatusOK
	}
	switch result.ErrorCode {
	case domain.CodePoorOCRQuality, domain.CodeValidationError:
		return http.StatusUnprocessableEntity
	case domain.CodeOCRFailed:
		return http.StatusBadGateway
	case domain.CodeCancelled:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}
