package car

import (
	"errors"
	"fmt"
)

// FitnessWeights scale the terms of the fitness formula.
type FitnessWeights struct {
	Distance   float64 `json:"distance"`
	Time       float64 `json:"time"`
	Lane       float64 `json:"lane"`
	CenterLine float64 `json:"center_line"`
	WrongLane  float64 `json:"wrong_lane"`
}

// EarlyDeath controls the dampening applied to short-lived cars.
type EarlyDeath struct {
	// DistanceFactor is multiplied by the car width to get the minimum distance.
	DistanceFactor float64 `json:"distance_factor"`
	MinTicks       int     `json:"min_ticks"`
	Soft           float64 `json:"soft"`
	Harsh          float64 `json:"harsh"`
}

// Params are the per-car tunables. A session owns one copy and every car in
// that session reads it; only the session mutates it, between ticks.
type Params struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`

	StartX       float64 `json:"start_x"`
	StartY       float64 `json:"start_y"`
	StartHeading float64 `json:"start_heading"`

	InitialSpeed float64 `json:"initial_speed"`
	MinSpeed     float64 `json:"min_speed"`
	MaxSpeed     float64 `json:"max_speed"`
	SpeedStep    float64 `json:"speed_step"`

	AngleStep       float64 `json:"angle_step"`
	AngleSmoothing  float64 `json:"angle_smoothing"`
	MaxTurnFraction float64 `json:"max_turn_fraction"`
	SpeedSmoothing  float64 `json:"speed_smoothing"`

	RadarAngles      []float64 `json:"radar_angles"`
	RadarMaxDistance float64   `json:"radar_max_distance"`

	LaneProbeOffset float64 `json:"lane_probe_offset"`

	StagnationInterval       int     `json:"stagnation_interval"`
	StagnationDistanceFactor float64 `json:"stagnation_distance_factor"`
	StagnationLimit          int     `json:"stagnation_limit"`

	Weights    FitnessWeights `json:"weights"`
	EarlyDeath EarlyDeath     `json:"early_death"`
}

// DefaultParams reproduces the reference tuning for a 60 tick/s simulation on
// an 870×810 track.
func DefaultParams() Params {
	const size = 32.0
	return Params{
		Width:  size,
		Height: size,

		StartX: 448,
		StartY: 686,

		InitialSpeed: 5,
		MinSpeed:     2,
		MaxSpeed:     10,
		SpeedStep:    1.5,

		AngleStep:       10,
		AngleSmoothing:  0.07,
		MaxTurnFraction: 0.45,
		SpeedSmoothing:  0.05,

		RadarAngles:      []float64{-90, -45, 0, 45, 90},
		RadarMaxDistance: 108,

		LaneProbeOffset: 0.38,

		StagnationInterval:       30,
		StagnationDistanceFactor: 0.10,
		StagnationLimit:          60 * 25,

		Weights: FitnessWeights{
			Distance:   2.0,
			Time:       0.01,
			Lane:       0.025,
			CenterLine: 0.018,
			WrongLane:  0.06,
		},
		EarlyDeath: EarlyDeath{
			DistanceFactor: 4,
			MinTicks:       210,
			Soft:           0.08,
			Harsh:          0.005,
		},
	}
}

// Clone returns a deep copy so a session can adjust bounds without touching
// the caller's value.
func (p Params) Clone() Params {
	p.RadarAngles = append([]float64(nil), p.RadarAngles...)
	return p
}

func (p Params) SensorCount() int {
	return len(p.RadarAngles)
}

func (p Params) Validate() error {
	var errs []error
	if p.Width <= 0 || p.Height <= 0 {
		errs = append(errs, fmt.Errorf("car size must be > 0, got %gx%g", p.Width, p.Height))
	}
	if p.MinSpeed < 0 {
		errs = append(errs, fmt.Errorf("min speed must be >= 0, got %g", p.MinSpeed))
	}
	if p.MinSpeed > p.MaxSpeed {
		errs = append(errs, fmt.Errorf("min speed %g exceeds max speed %g", p.MinSpeed, p.MaxSpeed))
	}
	if p.SpeedStep < 0 || p.AngleStep < 0 {
		errs = append(errs, errors.New("speed and angle steps must be >= 0"))
	}
	if p.AngleSmoothing < 0 || p.AngleSmoothing > 1 || p.SpeedSmoothing < 0 || p.SpeedSmoothing > 1 {
		errs = append(errs, errors.New("smoothing factors must be in [0,1]"))
	}
	if p.MaxTurnFraction < 0 {
		errs = append(errs, fmt.Errorf("max turn fraction must be >= 0, got %g", p.MaxTurnFraction))
	}
	if p.LaneProbeOffset < 0 {
		errs = append(errs, fmt.Errorf("lane probe offset must be >= 0, got %g", p.LaneProbeOffset))
	}
	if p.StagnationDistanceFactor < 0 {
		errs = append(errs, fmt.Errorf("stagnation distance factor must be >= 0, got %g", p.StagnationDistanceFactor))
	}
	if len(p.RadarAngles) == 0 {
		errs = append(errs, errors.New("at least one radar angle is required"))
	}
	if p.RadarMaxDistance <= 0 {
		errs = append(errs, fmt.Errorf("radar max distance must be > 0, got %g", p.RadarMaxDistance))
	}
	if p.StagnationInterval <= 0 {
		errs = append(errs, fmt.Errorf("stagnation interval must be > 0, got %d", p.StagnationInterval))
	}
	if p.StagnationLimit <= 0 {
		errs = append(errs, fmt.Errorf("stagnation limit must be > 0, got %d", p.StagnationLimit))
	}
	return errors.Join(errs...)
}
