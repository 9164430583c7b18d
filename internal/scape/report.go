package scape

import "carsim/internal/car"

type State uint8

const (
	StateRunning State = iota
	StateAllDead
	StateTimedOut
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateAllDead:
		return "all_dead"
	case StateTimedOut:
		return "timed_out"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// BestCar is a diagnostic snapshot of the best live car at some tick.
type BestCar struct {
	CandidateID string    `json:"candidate_id"`
	Fitness     float64   `json:"fitness"`
	Reading     []float64 `json:"reading"`
	Scores      []float64 `json:"scores"`
	Action      string    `json:"action"`
	Position    car.Point `json:"position"`
	Heading     float64   `json:"heading"`
	Speed       float64   `json:"speed"`
}

type CarResult struct {
	CandidateID          string  `json:"candidate_id"`
	Fitness              float64 `json:"fitness"`
	Alive                bool    `json:"alive"`
	Cause                string  `json:"cause"`
	DistanceDriven       float64 `json:"distance_driven"`
	TimeSurvived         int     `json:"time_survived"`
	TicksInLane          int     `json:"ticks_in_lane"`
	TicksOnCenterLine    int     `json:"ticks_on_center_line"`
	TicksWrongLaneOrWall int     `json:"ticks_wrong_lane_or_wall"`
}

// Report summarizes a finished generation.
type Report struct {
	Generation  int         `json:"generation"`
	State       State       `json:"state"`
	Ticks       int         `json:"ticks"`
	Evaluated   int         `json:"evaluated"`
	Skipped     int         `json:"skipped"`
	Survivors   int         `json:"survivors"`
	BestFitness float64     `json:"best_fitness"`
	Best        *BestCar    `json:"best,omitempty"`
	Cars        []CarResult `json:"cars"`
}

type CarFrame struct {
	ID      string  `json:"id"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"heading"`
	Speed   float64 `json:"speed"`
	Alive   bool    `json:"alive"`
	Fitness float64 `json:"fitness"`
}

// Frame is the per-tick view handed to observers.
type Frame struct {
	Generation int        `json:"generation"`
	Tick       int        `json:"tick"`
	Alive      int        `json:"alive"`
	MaxSpeed   float64    `json:"max_speed"`
	Best       *BestCar   `json:"best,omitempty"`
	Cars       []CarFrame `json:"cars"`
}
