package api

import (
	"context"

	"github.com/Fazmin/syncengine/internal/models"
	"github.com/Fazmin/syncengine/internal/scheduler"
)

// SchedulerAPI exposes *scheduler.Scheduler's lifecycle and status
// surface without exposing its single-flight internals.
type SchedulerAPI struct {
	sched *scheduler.Scheduler
}

// NewSchedulerAPI wraps sched.
func NewSchedulerAPI(sched *scheduler.Scheduler) *SchedulerAPI {
	return &SchedulerAPI{sched: sched}
}

// Schedule registers assignment's cron entry.
func (a *SchedulerAPI) Schedule(assignment *models.Assignment) error {
	return a.sched.Schedule(assignment)
}

// Unschedule cancels assignmentID's cron entry, if any.
func (a *SchedulerAPI) Unschedule(assignmentID string) {
	a.sched.Unschedule(assignmentID)
}

// TriggerNow runs assignmentID immediately through the manual path,
// sharing the single-flight guard with scheduled ticks and API triggers.
func (a *SchedulerAPI) TriggerNow(ctx context.Context, assignmentID string, modeOverride models.SyncMode) (*models.ExtractionJob, error) {
	return a.sched.TriggerNow(ctx, assignmentID, modeOverride)
}

// Status reports every scheduled assignment and every one currently running.
func (a *SchedulerAPI) Status() scheduler.Status {
	return a.sched.Status()
}

// Initialize schedules every eligible active assignment on process start.
func (a *SchedulerAPI) Initialize(ctx context.Context) error {
	return a.sched.Initialize(ctx)
}

// Stop cancels every scheduled entry, letting in-flight runs finish.
func (a *SchedulerAPI) Stop() {
	a.sched.Stop()
}
