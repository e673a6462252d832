package handlers

import (
	"errors"
	"net/http"

	"github.com/andresuchdata/shopledger/internal/drive"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type DriveHandler struct {
	ingester *drive.Ingester
}

func NewDriveHandler(ingester *drive.Ingester) *DriveHandler {
	return &DriveHandler{ingester: ingester}
}

func (h *DriveHandler) ListFiles(c *gin.Context) {
	files, err := h.ingester.Files(c.Request.Context(), drive.IngestRequest{
		FolderID:   c.Query("folderId"),
		FolderPath: c.Query("path"),
	})
	if err != nil {
		h.fail(c, err, "failed to list drive files")
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

func (h *DriveHandler) Import(c *gin.Context) {
	var req drive.IngestRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	results, err := h.ingester.Ingest(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err, "drive import failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": results})
}

func (h *DriveHandler) fail(c *gin.Context, err error, message string) {
	if errors.Is(err, drive.ErrFolderNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	log.Error().Err(err).Msg(message)
	c.JSON(http.StatusBadGateway, gin.H{"error": message})
}
