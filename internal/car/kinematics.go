package car

import (
	"fmt"
	"math"
)

type Action int

const (
	TurnLeft Action = iota
	TurnRight
	Decelerate
	Accelerate
)

// ActionCount is the required length of a policy's action-score vector.
const ActionCount = 4

func (a Action) String() string {
	switch a {
	case TurnLeft:
		return "left"
	case TurnRight:
		return "right"
	case Decelerate:
		return "decelerate"
	case Accelerate:
		return "accelerate"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// DecodeAction picks the index of the highest score. Ties resolve to the
// lowest index.
func DecodeAction(scores []float64) (Action, error) {
	if len(scores) != ActionCount {
		return 0, fmt.Errorf("action scores: got %d values, want %d", len(scores), ActionCount)
	}
	best := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[best] {
			best = i
		}
	}
	return Action(best), nil
}

// WrapHeading reduces degrees into [0, 360).
func WrapHeading(deg float64) float64 {
	w := math.Mod(deg, 360)
	if w < 0 {
		w += 360
	}
	if w >= 360 {
		w = 0
	}
	return w
}

// WrapDelta reduces an angular difference into [-180, 180).
func WrapDelta(deg float64) float64 {
	return WrapHeading(deg+180) - 180
}

// Direction returns the unit vector for a heading in screen coordinates
// (y grows downwards, headings grow counter-clockwise on screen).
func Direction(deg float64) Point {
	r := (360 - deg) * math.Pi / 180
	return Point{math.Cos(r), math.Sin(r)}
}

// Apply turns a decision into new targets. Speed targets are clamped.
func (c *Car) Apply(a Action) {
	if !c.Alive {
		return
	}
	p := c.params
	switch a {
	case TurnLeft:
		c.TargetHeading = WrapHeading(c.TargetHeading + p.AngleStep)
	case TurnRight:
		c.TargetHeading = WrapHeading(c.TargetHeading - p.AngleStep)
	case Decelerate:
		c.TargetSpeed -= p.SpeedStep
	case Accelerate:
		c.TargetSpeed += p.SpeedStep
	}
	c.TargetSpeed = clamp(c.TargetSpeed, p.MinSpeed, p.MaxSpeed)
}

// NudgeTargetSpeed shifts the target speed by delta, within bounds.
func (c *Car) NudgeTargetSpeed(delta float64) {
	if !c.Alive {
		return
	}
	c.TargetSpeed = clamp(c.TargetSpeed+delta, c.params.MinSpeed, c.params.MaxSpeed)
}

// ClampSpeeds re-applies the speed bounds after they change.
func (c *Car) ClampSpeeds() {
	if !c.Alive {
		return
	}
	c.Speed = clamp(c.Speed, c.params.MinSpeed, c.params.MaxSpeed)
	c.TargetSpeed = clamp(c.TargetSpeed, c.params.MinSpeed, c.params.MaxSpeed)
}

// Step smooths heading and speed toward their targets, integrates the
// position, clamps it to the track, and refreshes the oriented corners.
func (c *Car) Step() {
	if !c.Alive {
		return
	}
	p := c.params

	maxTurn := p.AngleStep * p.MaxTurnFraction
	turn := clamp(WrapDelta(c.TargetHeading-c.Heading)*p.AngleSmoothing, -maxTurn, maxTurn)
	c.Heading = WrapHeading(c.Heading + turn)

	c.Speed += (c.TargetSpeed - c.Speed) * p.SpeedSmoothing
	c.Speed = clamp(c.Speed, p.MinSpeed, p.MaxSpeed)

	c.Position = c.clampPosition(c.Position.Add(Direction(c.Heading).Scale(c.Speed)))

	c.DistanceDriven += math.Abs(c.Speed)
	c.TimeSurvived++
	c.updateCorners()
}

// axes returns the forward and right-hand unit vectors for the current heading.
func (c *Car) axes() (forward, right Point) {
	forward = Direction(c.Heading)
	right = Point{-forward.Y, forward.X}
	return forward, right
}

func (c *Car) updateCorners() {
	center := c.Center()
	forward, right := c.axes()
	hl, hw := c.params.Width/2, c.params.Height/2
	front := forward.Scale(hl)
	side := right.Scale(hw)
	c.Corners = [4]Point{
		center.Add(front).Add(side.Scale(-1)),
		center.Add(front).Add(side),
		center.Add(front.Scale(-1)).Add(side),
		center.Add(front.Scale(-1)).Add(side.Scale(-1)),
	}
}
