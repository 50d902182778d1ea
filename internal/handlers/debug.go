package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ephemeral-chat/internal/telemetry"
)

// SweepRunner runs one pass of the retention jobs on demand.
type SweepRunner interface {
	WarnSweep(ctx context.Context, now time.Time) error
	PurgeSweep(ctx context.Context, now time.Time) error
}

// RegisterDebugRoutes mounts manual retention triggers. Nothing is mounted unless enabled.
func RegisterDebugRoutes(router gin.IRoutes, sweeper SweepRunner, emitter *telemetry.AuditEmitter, enabled bool) {
	if !enabled || sweeper == nil {
		return
	}

	run := func(action string, sweep func(context.Context, time.Time) error) gin.HandlerFunc {
		return func(c *gin.Context) {
			if err := sweep(c.Request.Context(), time.Now()); err != nil {
				emitAudit(c, emitter, "ERROR", action, 0, err.Error())
				writeError(c, nil, err)
				return
			}
			emitAudit(c, emitter, "INFO", action, 0, "manual sweep")
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		}
	}
	router.POST("/debug/retention/warn", run("retention.warn", sweeper.WarnSweep))
	router.POST("/debug/retention/purge", run("retention.purge", sweeper.PurgeSweep))
}
