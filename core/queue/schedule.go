package queue

import "time"

// Schedule decides when a periodic task runs next.
type Schedule interface {
	Next(from time.Time) time.Time
	String() string
}

type intervalSchedule struct {
	interval time.Duration
}

// Every runs a task once per interval. Non-positive intervals become one minute.
func Every(interval time.Duration) Schedule {
	if interval <= 0 {
		interval = time.Minute
	}
	return intervalSchedule{interval: interval}
}

func (s intervalSchedule) Next(from time.Time) time.Time { return from.Add(s.interval) }
func (s intervalSchedule) String() string                { return "every " + s.interval.String() }
