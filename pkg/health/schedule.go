package health

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var scheduleParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// ParseSchedule parses a five-field cron expression or a descriptor such
// as "@every 30s" or "@hourly".
func ParseSchedule(expr string) (cron.Schedule, error) {
	clean := strings.TrimSpace(expr)
	if clean == "" {
		return nil, fmt.Errorf("health schedule is required")
	}
	schedule, err := scheduleParser.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid health schedule %q: %w", clean, err)
	}
	return schedule, nil
}

// Every returns a schedule firing at a fixed interval. Unlike cron.Every it
// keeps sub-second precision.
func Every(interval time.Duration) cron.Schedule {
	return intervalSchedule(interval)
}

type intervalSchedule time.Duration

func (s intervalSchedule) Next(t time.Time) time.Time {
	return t.Add(time.Duration(s))
}
