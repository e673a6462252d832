package handlers

import (
	"errors"
	"net/http"

	"github.com/andresuchdata/shopledger/internal/pipeline"
	"github.com/andresuchdata/shopledger/internal/service"
	"github.com/andresuchdata/shopledger/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress),
		errors.Is(err, pipeline.ErrNotIdle),
		errors.Is(err, pipeline.ErrNothingToRollback),
		errors.Is(err, service.ErrNoReport):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidStatus),
		errors.Is(err, service.ErrInvalidFilter):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrBillNotFound),
		errors.Is(err, storage.ErrObjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrArchiveDisabled):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

// respondError writes err as {"error": ...}. Internal errors are logged and
// reported with the given fallback message.
func respondError(c *gin.Context, err error, fallback string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg(fallback)
		c.JSON(status, gin.H{"error": fallback})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
