package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/webmoniter/app/scheduler"
)

func NewHandler(jobs JobRunner, credentials CredentialReader, version string) *Handler {
	return &Handler{
		jobs:        jobs,
		credentials: credentials,
		version:     version,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
		"version":   h.version,
		"jobs":      len(h.jobs.Jobs()),
	}

	expired := []string{}
	for platform, status := range h.credentials.Snapshot() {
		if !status.Valid {
			expired = append(expired, platform)
		}
	}
	health["expired_credentials"] = expired

	c.JSON(http.StatusOK, health)
}

func (h *Handler) APIListJobs(c *gin.Context) {
	infos := h.jobs.Jobs()
	jobs := make([]jobResponse, 0, len(infos))

	for _, info := range infos {
		job := jobResponse{
			ID:         info.ID,
			Trigger:    info.Trigger,
			Enabled:    info.Enabled,
			Running:    info.Running,
			LastStatus: info.LastStatus,
		}
		if !info.Next.IsZero() {
			job.NextRun = info.Next.Format(time.RFC3339)
		}
		if !info.LastRun.IsZero() {
			job.LastRun = info.LastRun.Format(time.RFC3339)
		}
		jobs = append(jobs, job)
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"total": len(jobs),
	})
}

func (h *Handler) APICredentials(c *gin.Context) {
	c.JSON(http.StatusOK, map[string]interface{}{
		"credentials": h.credentials.Snapshot(),
	})
}

// APIRunJob triggers a job and waits for it. The guard is bypassed unless
// ?bypass=false is given.
func (h *Handler) APIRunJob(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing job id parameter"})
		return
	}

	bypass := true
	if raw := c.Query("bypass"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid bypass parameter"})
			return
		}
		bypass = v
	}

	// The run outlives a disconnecting client.
	ctx := context.WithoutCancel(c.Request.Context())
	start := time.Now()

	err := h.jobs.TriggerNow(ctx, id, bypass)
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found", "job": id})
	case errors.Is(err, scheduler.ErrJobRunning):
		c.JSON(http.StatusConflict, gin.H{"error": "Job is already running", "job": id})
	case errors.Is(err, scheduler.ErrStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Scheduler is shutting down", "job": id})
	case err != nil:
		slog.Error("Manual job run failed", "job", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "job": id})
	default:
		c.JSON(http.StatusOK, gin.H{
			"job":      id,
			"status":   "completed",
			"bypass":   bypass,
			"duration": time.Since(start).String(),
		})
	}
}
