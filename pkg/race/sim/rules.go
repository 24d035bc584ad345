package sim

import (
	"errors"
	"fmt"
)

type PitScan string

const (
	// PitScanLive walks the standings once while they are being modified.
	// A driver moved backwards may be evaluated again later in the same pass.
	PitScanLive PitScan = "live"
	// PitScanSnapshot evaluates every driver exactly once, in the order
	// of the standings before the pass.
	PitScanSnapshot PitScan = "snapshot"
)

var ErrInvalidRules = errors.New("invalid rules")

type Rules struct {
	WeatherToggle   float64 // probability to flip the weather
	SafetyCarDeploy float64 // probability inactive -> active
	SafetyCarReturn float64 // probability active -> inactive
	PositionChange  float64 // probability of a swap per lap
	PitStop         float64 // probability per driver per lap
	SwapWindow      int     // swaps pick from positions [0,SwapWindow), 0 means whole field
	PitMinPosition  int     // lowest (0-based) index a driver rejoins at
	PitScan         PitScan
}

func DefaultRules() Rules {
	return Rules{
		WeatherToggle:   0.20,
		SafetyCarDeploy: 0.15,
		SafetyCarReturn: 0.30,
		PositionChange:  0.30,
		PitStop:         0.10,
		SwapWindow:      0,
		PitMinPosition:  5,
		PitScan:         PitScanLive,
	}
}

func ParsePitScan(s string) (PitScan, error) {
	switch PitScan(s) {
	case PitScanLive, PitScanSnapshot:
		return PitScan(s), nil
	default:
		return "", fmt.Errorf("%w: unknown pit scan %q", ErrInvalidRules, s)
	}
}

// Validate checks the rules against the number of drivers in a race.
func (r *Rules) Validate(fieldSize int) error {
	for name, p := range map[string]float64{
		"weather-toggle":    r.WeatherToggle,
		"safety-car-deploy": r.SafetyCarDeploy,
		"safety-car-return": r.SafetyCarReturn,
		"position-change":   r.PositionChange,
		"pit-stop":          r.PitStop,
	} {
		if p < 0 || p > 1 {
			return fmt.Errorf("%w: probability %s=%v not in [0,1]", ErrInvalidRules, name, p)
		}
	}
	if r.SwapWindow < 0 || r.SwapWindow == 1 || r.SwapWindow > fieldSize {
		return fmt.Errorf("%w: swap window %d for %d drivers",
			ErrInvalidRules, r.SwapWindow, fieldSize)
	}
	if r.PitMinPosition < 0 || r.PitMinPosition > fieldSize-1 {
		return fmt.Errorf("%w: pit min position %d for %d drivers",
			ErrInvalidRules, r.PitMinPosition, fieldSize)
	}
	if _, err := ParsePitScan(string(r.PitScan)); err != nil {
		return err
	}
	return nil
}
