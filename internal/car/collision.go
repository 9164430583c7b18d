package car

import "carsim/internal/track"

// CheckCollision kills the car when any corner is off the track or on an
// obstacle. It reports whether the car is still alive.
func (c *Car) CheckCollision(tr *track.Track) bool {
	if !c.Alive {
		return false
	}
	for _, corner := range c.Corners {
		switch tr.Classify(corner.cell()) {
		case track.CellOutOfBounds, track.CellObstacle:
			c.Kill(CauseCollision)
			return false
		}
	}
	return true
}

// CheckLane samples a point to the right of the car center and bumps exactly
// one lane counter.
func (c *Car) CheckLane(tr *track.Track) {
	if !c.Alive {
		return
	}
	_, right := c.axes()
	probe := c.Center().Add(right.Scale(c.params.Width * c.params.LaneProbeOffset))
	switch tr.Classify(probe.cell()) {
	case track.CellRoad, track.CellFinish:
		c.TicksInLane++
	case track.CellCenterLine:
		c.TicksOnCenterLine++
	default:
		c.TicksWrongLaneOrWall++
	}
}
