package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/andresuchdata/shopledger/internal/domain"
	"github.com/andresuchdata/shopledger/internal/pipeline"
	"github.com/andresuchdata/shopledger/internal/service"
	"github.com/gin-gonic/gin"
)

const heartbeatInterval = 15 * time.Second

// RunHandler serves the migration, validation and rollback paths.
type RunHandler struct {
	service *service.MigrationService
}

func NewRunHandler(service *service.MigrationService) *RunHandler {
	return &RunHandler{service: service}
}

func wait(c *gin.Context) bool {
	v, _ := strconv.ParseBool(c.DefaultQuery("wait", "false"))
	return v
}

func accepted(c *gin.Context, kind pipeline.Kind) {
	c.JSON(http.StatusAccepted, gin.H{
		"message": string(kind) + " started",
		"state":   "/api/v1/runs/" + string(kind),
	})
}

// StartMigration begins a migration in the background, or runs it to
// completion with ?wait=true.
func (h *RunHandler) StartMigration(c *gin.Context) {
	if wait(c) {
		result, err := h.service.RunMigration(c.Request.Context())
		if err != nil {
			respondError(c, err, "migration failed")
			return
		}
		c.JSON(http.StatusOK, result)
		return
	}
	if err := h.service.StartMigration(c.Request.Context()); err != nil {
		respondError(c, err, "failed to start migration")
		return
	}
	accepted(c, pipeline.KindMigration)
}

func (h *RunHandler) StartValidation(c *gin.Context) {
	fix, _ := strconv.ParseBool(c.DefaultQuery("fix", "false"))
	if wait(c) {
		result, err := h.service.RunValidation(c.Request.Context(), fix)
		if err != nil {
			respondError(c, err, "validation failed")
			return
		}
		c.JSON(http.StatusOK, result)
		return
	}
	if err := h.service.StartValidation(c.Request.Context(), fix); err != nil {
		respondError(c, err, "failed to start validation")
		return
	}
	accepted(c, pipeline.KindValidation)
}

// Remediate fixes the posted report, or the latest one when the body is
// empty.
func (h *RunHandler) Remediate(c *gin.Context) {
	var report *domain.ValidationReport
	if c.Request.ContentLength > 0 {
		report = &domain.ValidationReport{}
		if err := c.ShouldBindJSON(report); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid validation report"})
			return
		}
	}
	result, err := h.service.Remediate(c.Request.Context(), report)
	if err != nil {
		respondError(c, err, "remediation failed")
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *RunHandler) LatestReport(c *gin.Context) {
	report, ok, err := h.service.LatestReport(c.Request.Context())
	if err != nil {
		respondError(c, err, "failed to fetch report")
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no validation report yet"})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *RunHandler) PreviewRollback(c *gin.Context) {
	preview, err := h.service.PreviewRollback(c.Request.Context())
	if err != nil {
		respondError(c, err, "failed to preview rollback")
		return
	}
	c.JSON(http.StatusOK, preview)
}

// StartRollback requires ?confirm=true since it deletes every bill.
func (h *RunHandler) StartRollback(c *gin.Context) {
	if ok, _ := strconv.ParseBool(c.Query("confirm")); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rollback deletes every bill; repeat with confirm=true"})
		return
	}
	if wait(c) {
		result, err := h.service.RunRollback(c.Request.Context())
		if err != nil {
			respondError(c, err, "rollback failed")
			return
		}
		c.JSON(http.StatusOK, result)
		return
	}
	if err := h.service.StartRollback(c.Request.Context()); err != nil {
		respondError(c, err, "failed to start rollback")
		return
	}
	accepted(c, pipeline.KindRollback)
}

func (h *RunHandler) kind(c *gin.Context) (pipeline.Kind, bool) {
	kind, ok := pipeline.ParseKind(c.Param("kind"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown run kind " + strconv.Quote(c.Param("kind"))})
	}
	return kind, ok
}

// State returns the live state and, when cached, the last finished one.
func (h *RunHandler) State(c *gin.Context) {
	kind, ok := h.kind(c)
	if !ok {
		return
	}
	resp := gin.H{"kind": kind, "state": h.service.State(kind)}
	if last, found, err := h.service.LastRun(c.Request.Context(), kind); err == nil && found {
		resp["lastRun"] = last
	}
	c.JSON(http.StatusOK, resp)
}

func (h *RunHandler) Reset(c *gin.Context) {
	kind, ok := h.kind(c)
	if !ok {
		return
	}
	if err := h.service.Reset(kind); err != nil {
		respondError(c, err, "failed to reset run")
		return
	}
	c.JSON(http.StatusOK, gin.H{"kind": kind, "state": h.service.State(kind)})
}

func (h *RunHandler) History(c *gin.Context) {
	kind, ok := h.kind(c)
	if !ok {
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		limit = 20
	}
	runs, err := h.service.History(c.Request.Context(), kind, limit)
	if err != nil {
		respondError(c, err, "failed to fetch run history")
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// Events streams state changes as server-sent events until the run
// finishes or the client goes away. Intermediate states may be coalesced;
// the latest one is always delivered.
func (h *RunHandler) Events(c *gin.Context) {
	kind, ok := h.kind(c)
	if !ok {
		return
	}

	states := make(chan domain.RunState, 1)
	unsubscribe := h.service.Subscribe(kind, func(st domain.RunState) {
		select {
		case states <- st:
		default:
			select {
			case <-states:
			default:
			}
			states <- st
		}
	})
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
			c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
			c.Writer.Flush()
		case st := <-states:
			c.SSEvent("state", st)
			c.Writer.Flush()
			if st.Status == domain.RunStatusCompleted || st.Status == domain.RunStatusFailed {
				return
			}
		}
	}
}

func (h *RunHandler) ListArchives(c *gin.Context) {
	objects, err := h.service.ListArchives(c.Request.Context(), c.Query("kind"))
	if err != nil {
		respondError(c, err, "failed to list archives")
		return
	}
	c.JSON(http.StatusOK, gin.H{"archives": objects})
}

// GetArchive returns one archived result by its ?key=.
func (h *RunHandler) GetArchive(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key is required"})
		return
	}
	data, err := h.service.GetArchive(c.Request.Context(), key)
	if err != nil {
		respondError(c, err, "failed to fetch archive")
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}
