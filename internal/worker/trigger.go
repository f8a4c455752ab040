package worker

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Trigger decides when the next sweep is due.
type Trigger interface {
	Next(time.Time) time.Time
}

// NewCronTrigger parses a standard five field cron expression, or a
// descriptor such as "@every 5m" or "@hourly".
func NewCronTrigger(spec string) (Trigger, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schedule %q: %w", spec, err)
	}
	return schedule, nil
}

// NewIntervalTrigger fires every d, rounded down to the second.
func NewIntervalTrigger(d time.Duration) Trigger {
	return cron.Every(d)
}
