// README: Schedules deciding when a task runs next.
package scheduler

import "time"

type Schedule interface {
	// Next returns the next run instant strictly after now.
	Next(now time.Time) time.Time
}

type every time.Duration

// Every runs a task at a fixed interval measured from the end of the
// previous run.
func Every(d time.Duration) Schedule {
	if d <= 0 {
		d = time.Minute
	}
	return every(d)
}

func (e every) Next(now time.Time) time.Time { return now.Add(time.Duration(e)) }

// HourlyAligned fires on the next wall-clock hour boundary in now's location.
type HourlyAligned struct{}

func (HourlyAligned) Next(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), now.Hour()+1, 0, 0, 0, now.Location())
}
