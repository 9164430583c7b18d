package car

import "math"

// WallHugScale inflates the wrong-lane penalty before it is compared with the
// lane bonus when choosing the early-death multiplier.
const WallHugScale = 1.5

// CheckStagnation compares the position against the last checkpoint once per
// interval and kills the car once it has idled for the configured limit.
func (c *Car) CheckStagnation() {
	if !c.Alive {
		return
	}
	p := c.params
	c.TicksSinceCheckpoint++
	if c.TicksSinceCheckpoint >= p.StagnationInterval {
		if c.Position.Dist(c.Checkpoint) < p.StagnationDistanceFactor*p.Width {
			c.StagnationTimer += c.TicksSinceCheckpoint
		} else {
			c.StagnationTimer = 0
		}
		c.Checkpoint = c.Position
		c.TicksSinceCheckpoint = 0
	}
	if c.StagnationTimer >= p.StagnationLimit {
		c.Kill(CauseStagnation)
	}
}

func (c *Car) Fitness() float64 {
	return Fitness(&c.State, c.params)
}

// Fitness scores a car state. Short-lived cars are dampened: harshly when
// their wall penalty dominates their lane bonus, softly otherwise. The result
// is never negative.
func Fitness(s *State, p *Params) float64 {
	w := p.Weights
	base := s.DistanceDriven*w.Distance + float64(s.TimeSurvived)*w.Time
	bonus := float64(s.TicksInLane) * w.Lane
	wrong := float64(s.TicksWrongLaneOrWall) * w.WrongLane
	penalty := float64(s.TicksOnCenterLine)*w.CenterLine + wrong
	fitness := base + bonus - penalty

	if s.DistanceDriven < p.Width*p.EarlyDeath.DistanceFactor || s.TimeSurvived < p.EarlyDeath.MinTicks {
		factor := p.EarlyDeath.Soft
		if wrong*WallHugScale > bonus {
			factor = p.EarlyDeath.Harsh
		}
		fitness *= factor
	}
	return math.Max(0, fitness)
}
