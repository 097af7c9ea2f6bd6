package inventory

import (
	"context"
	"errors"

	"github.com/bloodconnect/platform/internal/bloodtype"
	"github.com/bloodconnect/platform/internal/shared/types"
)

// Level classifies a stock card
type Level string

const (
	LevelCritical Level = "critical"
	LevelLow      Level = "low"
	LevelGood     Level = "good"
)

// Thresholds are inclusive upper bounds
const (
	CriticalThreshold = 5
	LowThreshold      = 15
)

// LevelFor returns the level of a card holding units
func LevelFor(units int) Level {
	switch {
	case units <= CriticalThreshold:
		return LevelCritical
	case units <= LowThreshold:
		return LevelLow
	default:
		return LevelGood
	}
}

// Card is one blood type's stock at a hospital
type Card struct {
	HospitalID types.ID       `json:"hospital_id"`
	BloodType  bloodtype.Type `json:"blood_type"`
	Units      int            `json:"units"`
	Level      Level          `json:"level"`
}

// NewCard builds a card with its level
func NewCard(hospitalID types.ID, bt bloodtype.Type, units int) Card {
	return Card{HospitalID: hospitalID, BloodType: bt, Units: units, Level: LevelFor(units)}
}

// Alerting reports whether the card needs attention
func (c Card) Alerting() bool {
	return c.Level != LevelGood
}

// ErrUnknownHospital is returned for hospitals with no stock record
var ErrUnknownHospital = errors.New("no inventory for hospital")

// Store holds units per hospital and blood type. Units are never negative:
// Adjust clamps at zero atomically.
type Store interface {
	Get(ctx context.Context, hospitalID types.ID, bt bloodtype.Type) (int, error)
	Set(ctx context.Context, hospitalID types.ID, bt bloodtype.Type, units int) error
	// Adjust applies delta and returns the new units
	Adjust(ctx context.Context, hospitalID types.ID, bt bloodtype.Type, delta int) (int, error)
	// Snapshot returns every stored type for the hospital
	Snapshot(ctx context.Context, hospitalID types.ID) (map[bloodtype.Type]int, error)
}
