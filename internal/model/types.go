package model

import (
	"fmt"
	"strings"
	"time"
)

// Core domain types for street-sweeping tracking.

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// BlockSide is the side of a street segment a restriction applies to.
// The source dataset uses cardinal and composite compass labels.
type BlockSide string

const (
	SideNorth     BlockSide = "North"
	SideNorthEast BlockSide = "NorthEast"
	SideEast      BlockSide = "East"
	SideSouthEast BlockSide = "SouthEast"
	SideSouth     BlockSide = "South"
	SideSouthWest BlockSide = "SouthWest"
	SideWest      BlockSide = "West"
	SideNorthWest BlockSide = "NorthWest"
)

// ParseBlockSide normalizes dataset labels like "NorthEast", "north east" or
// "SE" to a BlockSide. Unknown labels are an error so callers can skip the row.
func ParseBlockSide(s string) (BlockSide, error) {
	key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	switch key {
	case "north", "n":
		return SideNorth, nil
	case "northeast", "ne":
		return SideNorthEast, nil
	case "east", "e":
		return SideEast, nil
	case "southeast", "se":
		return SideSouthEast, nil
	case "south", "s":
		return SideSouth, nil
	case "southwest", "sw":
		return SideSouthWest, nil
	case "west", "w":
		return SideWest, nil
	case "northwest", "nw":
		return SideNorthWest, nil
	}
	return "", fmt.Errorf("unknown block side %q", s)
}

// Azimuth returns the compass azimuth in degrees for the side label
// (0 = North, 90 = East).
func (b BlockSide) Azimuth() float64 {
	switch b {
	case SideNorth:
		return 0
	case SideNorthEast:
		return 45
	case SideEast:
		return 90
	case SideSouthEast:
		return 135
	case SideSouth:
		return 180
	case SideSouthWest:
		return 225
	case SideWest:
		return 270
	case SideNorthWest:
		return 315
	}
	return 0
}

// ParseWeekday accepts both full names and the dataset's abbreviations
// ("Tues", "Thu", ...). Rows like "Holiday" do not parse.
func ParseWeekday(s string) (time.Weekday, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sun", "sunday":
		return time.Sunday, nil
	case "mon", "monday":
		return time.Monday, nil
	case "tue", "tues", "tuesday":
		return time.Tuesday, nil
	case "wed", "wednesday":
		return time.Wednesday, nil
	case "thu", "thur", "thurs", "thursday":
		return time.Thursday, nil
	case "fri", "friday":
		return time.Friday, nil
	case "sat", "saturday":
		return time.Saturday, nil
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

// Schedule is a recurring restriction window: the Nth occurrences of Weekday
// in a month (Weeks bitmap, index 0 = 1st occurrence), between FromHour and
// ToHour local time.
type Schedule struct {
	Weekday  time.Weekday `json:"weekday"`
	Weeks    [5]bool      `json:"weeks"`
	FromHour int          `json:"fromHour"`
	ToHour   int          `json:"toHour"`
}

// HasActiveWeek reports whether at least one week bit is set.
func (s Schedule) HasActiveWeek() bool {
	for _, w := range s.Weeks {
		if w {
			return true
		}
	}
	return false
}

func (s Schedule) String() string {
	return fmt.Sprintf("%s %d:00-%d:00", s.Weekday, s.FromHour, s.ToHour)
}

// Restriction is one street-sweeping rule for one block side, immutable per
// dataset load. Curb is the offset geometry the distance is measured against,
// not the raw street centerline.
type Restriction struct {
	Corridor       string     `json:"street"`
	Limits         string     `json:"limits,omitempty"`
	BlockSide      BlockSide  `json:"blockside"`
	Schedule       Schedule   `json:"schedule"`
	HolidaysExempt bool       `json:"holidaysExempt"`
	Curb           []GeoPoint `json:"-"`
}

// MatchResult pairs a restriction with its distance from the query point.
type MatchResult struct {
	Restriction
	DistanceM float64 `json:"distanceMeters"`
}

// VehicleState is the persisted parked/moving state for one device.
// Rows are upserted on every event and never deleted.
type VehicleState struct {
	DeviceID   string     `json:"deviceId"`
	IsParked   bool       `json:"isParked"`
	Lat        float64    `json:"lat"`
	Lng        float64    `json:"lng"`
	ParkedAt   *time.Time `json:"parkedAt,omitempty"`
	UnparkedAt *time.Time `json:"unparkedAt,omitempty"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// EventKind is the normalized vehicle state-change event type.
type EventKind string

const (
	EventParked EventKind = "parked"
	EventMoving EventKind = "moving"
)

// Event is a normalized vehicle state-change event from the transport layer.
type Event struct {
	ID       string    `json:"id"`
	Kind     EventKind `json:"kind"`
	DeviceID string    `json:"deviceId"`
	Lat      float64   `json:"lat,omitempty"`
	Lng      float64   `json:"lng,omitempty"`
	At       time.Time `json:"at"`
}

// WarningPayload is what a sweep warning notification carries.
type WarningPayload struct {
	Street    string    `json:"street"`
	BlockSide BlockSide `json:"blockside"`
	FromHour  int       `json:"fromHour"`
}

// SweepSummary describes the soonest upcoming sweep for a parked location.
type SweepSummary struct {
	Date      time.Time `json:"date"`
	Street    string    `json:"street"`
	BlockSide BlockSide `json:"blockside"`
	FromHour  int       `json:"fromHour"`
}
