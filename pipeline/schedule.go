package pipeline

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs one cycle a day at 04:00 UTC.
const DefaultSchedule = "0 4 * * *"

// ParseSchedule parses a standard five field cron expression. Expressions
// without a CRON_TZ prefix are evaluated in UTC.
func ParseSchedule(expr string) (cron.Schedule, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return schedule, nil
}

// nextAfter returns the first activation of schedule after t, in UTC.
func nextAfter(schedule cron.Schedule, t time.Time) time.Time {
	return schedule.Next(t.UTC())
}
