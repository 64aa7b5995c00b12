package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Abdullah-AboOun/CertifyChain/internal/api/middleware"
	"github.com/Abdullah-AboOun/CertifyChain/internal/apperr"
	"github.com/Abdullah-AboOun/CertifyChain/internal/metrics"
	"github.com/Abdullah-AboOun/CertifyChain/internal/upload"
)

// UploadHandler accepts certificate document images
type UploadHandler struct {
	store   upload.Store
	maxSize int64
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(store upload.Store, maxSize int64, m *metrics.Metrics, logger *zap.Logger) *UploadHandler {
	return &UploadHandler{
		store:   store,
		maxSize: maxSize,
		metrics: m,
		logger:  logger,
	}
}

// Upload stores an image and returns its URL
// @Summary Upload document image
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "PNG, JPEG, GIF or WebP image"
// @Success 201 {object} map[string]string
// @Router /api/v1/uploads [post]
func (h *UploadHandler) Upload(c *gin.Context) {
	// multipart overhead on top of the file itself
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxSize+64<<10)

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, h.logger, "upload too large", apperr.Validation("file exceeds %d bytes", h.maxSize))
			return
		}
		badRequest(c, err)
		return
	}
	if header.Size > h.maxSize {
		respondError(c, h.logger, "upload too large", apperr.Validation("file exceeds %d bytes", h.maxSize))
		return
	}

	file, err := header.Open()
	if err != nil {
		respondError(c, h.logger, "failed to read upload", err)
		return
	}
	defer file.Close()

	head := make([]byte, upload.SniffLen)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		respondError(c, h.logger, "failed to read upload", err)
		return
	}
	contentType, ext, err := upload.DetectImage(head[:n])
	if err != nil {
		respondError(c, h.logger, "rejected upload", err)
		return
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		respondError(c, h.logger, "failed to read upload", err)
		return
	}

	url, err := h.store.Put(c.Request.Context(), upload.NewKey(ext), file, header.Size, contentType)
	if err != nil {
		respondError(c, h.logger, "failed to store upload", err)
		return
	}
	h.metrics.ObserveUpload(header.Size)

	h.logger.Info("Document uploaded",
		zap.String("url", url),
		zap.String("content_type", contentType),
		zap.Int64("size", header.Size),
		zap.String("wallet", middleware.WalletAddress(c)),
	)
	c.JSON(http.StatusCreated, gin.H{"url": url})
}
