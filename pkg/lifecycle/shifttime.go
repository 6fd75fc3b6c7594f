package lifecycle

import (
	"fmt"
	"time"

	"github.com/shiftpay/lifecycle-api-go/pkg/models"
)

// ShiftStart returns the shift's scheduled start as an absolute time
func ShiftStart(s *models.Shift) (time.Time, error) {
	return atTimeOfDay(s.Date, s.StartTime)
}

// ShiftEnd returns the shift's scheduled end as an absolute time.
// An end time earlier than the start time means the shift crosses
// midnight, so the end lands on the day after the shift date. Every
// rule that needs a shift boundary goes through here.
func ShiftEnd(s *models.Shift) (time.Time, error) {
	start, err := atTimeOfDay(s.Date, s.StartTime)
	if err != nil {
		return time.Time{}, err
	}
	end, err := atTimeOfDay(s.Date, s.EndTime)
	if err != nil {
		return time.Time{}, err
	}
	if end.Before(start) {
		end = end.AddDate(0, 0, 1)
	}
	return end, nil
}

// ShiftDuration returns the scheduled length of the shift
func ShiftDuration(s *models.Shift) (time.Duration, error) {
	start, err := ShiftStart(s)
	if err != nil {
		return 0, err
	}
	end, err := ShiftEnd(s)
	if err != nil {
		return 0, err
	}
	return end.Sub(start), nil
}

// atTimeOfDay combines a date with a "15:04" time of day
func atTimeOfDay(date time.Time, hhmm string) (time.Time, error) {
	tod, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad time of day %q: %w", hhmm, err)
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, tod.Hour(), tod.Minute(), 0, 0, time.UTC), nil
}
