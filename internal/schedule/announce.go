package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// announceSchedule computes announcement occurrences: a set of days of
// the month with a single wall-clock time, evaluated in the configured
// location so DST transitions land on the right local hour.
type announceSchedule struct {
	sched cron.Schedule
	loc   *time.Location
}

func newAnnounceSchedule(days []int, hour, minute int, loc *time.Location) (*announceSchedule, error) {
	if len(days) == 0 {
		return nil, fmt.Errorf("announce days must not be empty")
	}
	seen := make(map[int]bool, len(days))
	var uniq []int
	for _, d := range days {
		if d < 1 || d > 31 {
			return nil, fmt.Errorf("announce day %d out of range 1..31", d)
		}
		if !seen[d] {
			seen[d] = true
			uniq = append(uniq, d)
		}
	}
	sort.Ints(uniq)
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return nil, fmt.Errorf("announce time %02d:%02d out of range", hour, minute)
	}

	parts := make([]string, len(uniq))
	for i, d := range uniq {
		parts[i] = strconv.Itoa(d)
	}
	spec := fmt.Sprintf("%d %d %s * *", minute, hour, strings.Join(parts, ","))
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", spec, err)
	}
	return &announceSchedule{sched: sched, loc: loc}, nil
}

// Next returns the first occurrence strictly after now, as UTC.
func (a *announceSchedule) Next(now time.Time) time.Time {
	return a.sched.Next(now.In(a.loc)).UTC()
}
