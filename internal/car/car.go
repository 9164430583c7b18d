// Package car simulates a single agent on a track: smoothed kinematics,
// radar sensing, collision and lane classification, stagnation detection and
// fitness accounting.
package car

import (
	"math"

	"carsim/internal/track"
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) Add(q Point) Point     { return Point{p.X + q.X, p.Y + q.Y} }
func (p Point) Scale(k float64) Point { return Point{p.X * k, p.Y * k} }
func (p Point) Dist(q Point) float64  { return math.Hypot(p.X-q.X, p.Y-q.Y) }
func (p Point) cell() (x, y int)      { return int(math.Floor(p.X)), int(math.Floor(p.Y)) }

// DeathCause records why a car stopped.
type DeathCause uint8

const (
	CauseNone DeathCause = iota
	CauseCollision
	CauseStagnation
	CausePolicy
	CauseRemoved
)

func (c DeathCause) String() string {
	switch c {
	case CauseCollision:
		return "collision"
	case CauseStagnation:
		return "stagnation"
	case CausePolicy:
		return "policy"
	case CauseRemoved:
		return "removed"
	default:
		return "none"
	}
}

// State is the mutable part of a car. Counters only grow.
type State struct {
	Position      Point
	Heading       float64
	TargetHeading float64
	Speed         float64
	TargetSpeed   float64
	Corners       [4]Point

	Alive bool
	Cause DeathCause

	DistanceDriven float64
	TimeSurvived   int

	StagnationTimer      int
	Checkpoint           Point
	TicksSinceCheckpoint int

	TicksInLane          int
	TicksOnCenterLine    int
	TicksWrongLaneOrWall int

	Reading      []float64
	ActionScores []float64
}

type Car struct {
	State
	id     string
	params *Params
	bounds Point
}

// New places a car at the configured start pose on tr. The start position is
// clamped into the track so the position invariant holds from tick zero.
func New(id string, params *Params, tr *track.Track) *Car {
	c := &Car{
		id:     id,
		params: params,
		bounds: Point{
			X: math.Max(0, float64(tr.Width())-params.Width),
			Y: math.Max(0, float64(tr.Height())-params.Height),
		},
	}
	c.Position = c.clampPosition(Point{params.StartX, params.StartY})
	c.Heading = WrapHeading(params.StartHeading)
	c.TargetHeading = c.Heading
	c.Speed = clamp(params.InitialSpeed, params.MinSpeed, params.MaxSpeed)
	c.TargetSpeed = c.Speed
	c.Alive = true
	c.Checkpoint = c.Position
	c.updateCorners()
	return c
}

func (c *Car) ID() string { return c.id }

func (c *Car) Params() *Params { return c.params }

func (c *Car) Center() Point {
	return Point{c.Position.X + c.params.Width/2, c.Position.Y + c.params.Height/2}
}

// Kill stops the car. Later calls keep the first cause.
func (c *Car) Kill(cause DeathCause) {
	if !c.Alive {
		return
	}
	c.Alive = false
	c.Cause = cause
}

// SensorReading returns the last radar reading, or all 1.0 when the car has
// not sensed yet.
func (c *Car) SensorReading() []float64 {
	n := c.params.SensorCount()
	out := make([]float64, n)
	if len(c.Reading) != n {
		for i := range out {
			out[i] = 1.0
		}
		return out
	}
	copy(out, c.Reading)
	return out
}

// Update runs everything that follows the action decision for one tick.
func (c *Car) Update(tr *track.Track) {
	if !c.Alive {
		return
	}
	c.Step()
	c.Sense(tr)
	if !c.CheckCollision(tr) {
		return
	}
	c.CheckLane(tr)
	c.CheckStagnation()
}

func (c *Car) clampPosition(p Point) Point {
	return Point{clamp(p.X, 0, c.bounds.X), clamp(p.Y, 0, c.bounds.Y)}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
