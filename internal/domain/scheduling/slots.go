package scheduling

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// DisplayLayout formats slot labels, e.g. "9:00 AM".
const DisplayLayout = "3:04 PM"

// SlotConfig holds the working-hours grid used to generate slots and to
// default appointment durations.
type SlotConfig struct {
	WorkStartHour          int
	WorkEndHour            int
	SlotStepMinutes        int
	DefaultDurationMinutes int
	// Location is the hospital timezone civil dates are interpreted in.
	Location *time.Location
	// StrictOverlap switches both the slot filter and the conflict check
	// from start containment to full interval overlap.
	StrictOverlap bool
}

// DefaultSlotConfig returns the 09:00-17:00, 30-minute grid in UTC.
func DefaultSlotConfig() SlotConfig {
	return SlotConfig{
		WorkStartHour:          9,
		WorkEndHour:            17,
		SlotStepMinutes:        30,
		DefaultDurationMinutes: 30,
		Location:               time.UTC,
	}
}

// Validate checks that the grid is usable.
func (c SlotConfig) Validate() error {
	if c.WorkStartHour < 0 || c.WorkEndHour > 24 {
		return fmt.Errorf("%w: working hours must be within 0-24", ErrInvalidInput)
	}
	if c.WorkStartHour >= c.WorkEndHour {
		return fmt.Errorf("%w: work start hour %d must be before end hour %d", ErrInvalidInput, c.WorkStartHour, c.WorkEndHour)
	}
	if c.SlotStepMinutes <= 0 || c.SlotStepMinutes > 60 {
		return fmt.Errorf("%w: slot step must be between 1 and 60 minutes, got %d", ErrInvalidInput, c.SlotStepMinutes)
	}
	if c.DefaultDurationMinutes <= 0 {
		return fmt.Errorf("%w: default duration must be positive, got %d", ErrInvalidInput, c.DefaultDurationMinutes)
	}
	if c.Location == nil {
		return fmt.Errorf("%w: location is required", ErrInvalidInput)
	}
	return nil
}

// DayRange maps a civil date to the half-open range [midnight, next midnight)
// in the configured timezone. Days across a DST change are 23 or 25 hours.
func (c SlotConfig) DayRange(date civil.Date) (time.Time, time.Time) {
	return date.In(c.Location), date.AddDays(1).In(c.Location)
}

// GenerateAvailableSlots returns the open grid positions of one doctor's day
// in ascending order. A candidate is booked when its start instant falls
// inside a non-cancelled appointment; with StrictOverlap the candidate's whole
// step must be free instead. Cancelled appointments are ignored.
func GenerateAvailableSlots(date civil.Date, existing []*Appointment, cfg SlotConfig) []Slot {
	occupied := occupiedIntervals(existing, cfg.DefaultDurationMinutes)

	slots := make([]Slot, 0, (cfg.WorkEndHour-cfg.WorkStartHour)*((59/cfg.SlotStepMinutes)+1))
	for hour := cfg.WorkStartHour; hour < cfg.WorkEndHour; hour++ {
		for minute := 0; minute < 60; minute += cfg.SlotStepMinutes {
			start := time.Date(date.Year, date.Month, date.Day, hour, minute, 0, 0, cfg.Location)
			if slotTaken(start, occupied, cfg) {
				continue
			}
			slots = append(slots, Slot{Time: start, Display: start.Format(DisplayLayout)})
		}
	}
	return slots
}

func slotTaken(start time.Time, occupied []Interval, cfg SlotConfig) bool {
	span := NewInterval(start, cfg.SlotStepMinutes)
	for _, iv := range occupied {
		if cfg.StrictOverlap {
			if iv.Overlaps(span) {
				return true
			}
			continue
		}
		if iv.Contains(start) {
			return true
		}
	}
	return false
}

// HasConflict reports whether a proposed booking collides with any
// non-cancelled appointment in existing. By default an existing appointment
// conflicts when it starts inside [start, start+duration); with
// StrictOverlap any shared instant conflicts. A zero duration uses the
// configured default.
func HasConflict(existing []*Appointment, start time.Time, durationMinutes int, cfg SlotConfig) bool {
	if durationMinutes <= 0 {
		durationMinutes = cfg.DefaultDurationMinutes
	}
	proposed := NewInterval(start, durationMinutes)
	for _, a := range existing {
		if a == nil || !a.Status.Occupies() {
			continue
		}
		if cfg.StrictOverlap {
			if a.Interval(cfg.DefaultDurationMinutes).Overlaps(proposed) {
				return true
			}
			continue
		}
		if proposed.Contains(a.StartTime) {
			return true
		}
	}
	return false
}

func occupiedIntervals(existing []*Appointment, defaultMinutes int) []Interval {
	out := make([]Interval, 0, len(existing))
	for _, a := range existing {
		if a == nil || !a.Status.Occupies() {
			continue
		}
		out = append(out, a.Interval(defaultMinutes))
	}
	return out
}
