// Package astro defines the astronomical collaborator the engine consumes.
//
// The engine never computes sun or moon positions itself. Production hosts plug a real
// calculator in behind Service; Table is a deterministic stand-in driven by configured
// clock times, used by tests and the offline CLI.
package astro

import (
	"errors"
	"time"
)

// ErrUnknownTime is returned when a named sun or moon time does not exist.
var ErrUnknownTime = errors.New("unknown astronomical time")

// Location is a geographic position.
type Location struct {
	Latitude  float64 `json:"latitude" yaml:"latitude" mapstructure:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude" mapstructure:"longitude"`
	Height    float64 `json:"height" yaml:"height" mapstructure:"height"`
}

// Valid reports whether the coordinates are within range.
func (l Location) Valid() bool {
	return l.Latitude >= -90 && l.Latitude <= 90 && l.Longitude >= -180 && l.Longitude <= 180
}

// SunPosition is the sun's position in degrees.
type SunPosition struct {
	Azimuth  float64
	Altitude float64
}

// TimeEvent is one named sun time of a day.
type TimeEvent struct {
	Value time.Time
	// Pos orders the event within the day (0 = earliest)
	Pos   int
	Valid bool
}

// MoonPosition is the moon's position in degrees.
type MoonPosition struct {
	Azimuth  float64
	Altitude float64
	Distance float64
}

// MoonTimes holds moon rise and set for a day; either may be absent.
type MoonTimes struct {
	Rise       time.Time
	Set        time.Time
	AlwaysUp   bool
	AlwaysDown bool
}

// MoonIllumination describes the lit fraction and phase (0..1).
type MoonIllumination struct {
	Fraction float64
	Phase    float64
	Angle    float64
}

// Service computes astronomical values for an instant and location.
type Service interface {
	SunPosition(t time.Time, lat, lon float64) (SunPosition, error)
	SunTimes(t time.Time, lat, lon, height float64) (map[string]TimeEvent, error)
	MoonPosition(t time.Time, lat, lon float64) (MoonPosition, error)
	MoonTimes(t time.Time, lat, lon float64) (MoonTimes, error)
	MoonIllumination(t time.Time) (MoonIllumination, error)
}
