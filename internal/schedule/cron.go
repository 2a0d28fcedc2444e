// ABOUTME: Five-field cron parsing and occurrence math in UTC
// ABOUTME: Provides GetNextOccurrence and IsDue over standard cron grammar

package schedule

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/weftwork/weft/pkg/types"
)

// parser accepts the standard five fields: minute hour day-of-month month
// day-of-week, with * , - / syntax.
var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Parse validates a cron expression
func Parse(expression string) (cron.Schedule, error) {
	schedule, err := parser.Parse(expression)
	if err != nil {
		return nil, &types.CronError{Expression: expression, Cause: err}
	}
	return schedule, nil
}

// GetNextOccurrence returns the next UTC time strictly after 'from' that
// satisfies the expression
func GetNextOccurrence(expression string, from time.Time) (time.Time, error) {
	schedule, err := Parse(expression)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(from.UTC()).UTC(), nil
}

// IsDue reports whether a trigger should fire now. A trigger that never
// fired is due once its first occurrence after the epoch has passed.
func IsDue(expression string, lastRun *time.Time, now time.Time) (bool, error) {
	from := time.Unix(0, 0).UTC()
	if lastRun != nil {
		from = lastRun.UTC()
	}
	next, err := GetNextOccurrence(expression, from)
	if err != nil {
		return false, err
	}
	return !next.After(now.UTC()), nil
}
