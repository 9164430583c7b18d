package car

import "carsim/internal/track"

// Sense casts one ray per configured radar angle from the car center. A ray
// advances in unit steps and stops short at an obstacle or at the track edge;
// finish cells do not stop it.
func (c *Car) Sense(tr *track.Track) {
	if !c.Alive {
		return
	}
	p := c.params
	if len(c.Reading) != len(p.RadarAngles) {
		c.Reading = make([]float64, len(p.RadarAngles))
	}
	center := c.Center()
	for i, offset := range p.RadarAngles {
		c.Reading[i] = castRay(tr, center, Direction(c.Heading+offset), p.RadarMaxDistance) / p.RadarMaxDistance
	}
}

func castRay(tr *track.Track, origin, dir Point, maxDistance float64) float64 {
	length := 0.0
	for length < maxDistance {
		x, y := origin.Add(dir.Scale(length)).cell()
		switch tr.Classify(x, y) {
		case track.CellOutOfBounds, track.CellObstacle:
			return length
		}
		length++
	}
	if length > maxDistance {
		return maxDistance
	}
	return length
}
