package car

import (
	"math"
	"math/rand"
	"testing"

	"carsim/internal/track"
)

func testParams() Params {
	p := DefaultParams()
	p.StartX = 100
	p.StartY = 84
	return p
}

func TestWrapHeadingIsPeriodic(t *testing.T) {
	headings := []float64{0, 1, 45.5, 90, 179.999, 180, 270.25, 359.5, -10, -359}
	for _, h := range headings {
		want := WrapHeading(h)
		if want < 0 || want >= 360 {
			t.Fatalf("wrap(%f)=%f outside [0,360)", h, want)
		}
		for k := -4; k <= 4; k++ {
			got := WrapHeading(h + 360*float64(k))
			if d := math.Abs(WrapDelta(got - want)); d > 1e-9 {
				t.Fatalf("wrap(%f + 360*%d)=%f want=%f", h, k, got, want)
			}
		}
	}
}

func TestWrapDeltaRange(t *testing.T) {
	cases := map[float64]float64{
		0:    0,
		10:   10,
		190:  -170,
		-190: 170,
		350:  -10,
		-350: 10,
		180:  -180,
	}
	for in, want := range cases {
		if got := WrapDelta(in); math.Abs(got-want) > 1e-9 {
			t.Fatalf("wrap delta(%f): got=%f want=%f", in, got, want)
		}
	}
}

func TestDecodeAction(t *testing.T) {
	tests := []struct {
		name    string
		scores  []float64
		want    Action
		wantErr bool
	}{
		{name: "left", scores: []float64{0.9, 0.1, 0.2, 0.3}, want: TurnLeft},
		{name: "accelerate", scores: []float64{0, 0, 0, 1}, want: Accelerate},
		{name: "tie-lowest-index", scores: []float64{0.1, 0.5, 0.5, 0.2}, want: TurnRight},
		{name: "negative", scores: []float64{-3, -2, -1, -4}, want: Decelerate},
		{name: "short", scores: []float64{1, 2, 3}, wantErr: true},
		{name: "long", scores: []float64{1, 2, 3, 4, 5}, wantErr: true},
		{name: "empty", scores: nil, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeAction(tc.scores)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected arity error")
				}
				return
			}
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got != tc.want {
				t.Fatalf("decode: got=%s want=%s", got, tc.want)
			}
		})
	}
}

func TestApplyTurnsTargetHeading(t *testing.T) {
	p := testParams()
	tr := track.Filled(400, 200, track.RoadColor)
	c := New("c", &p, tr)

	c.Apply(TurnRight)
	if c.TargetHeading != 350 {
		t.Fatalf("turn right from 0: got=%f want=350", c.TargetHeading)
	}
	c.Apply(TurnLeft)
	c.Apply(TurnLeft)
	if c.TargetHeading != 10 {
		t.Fatalf("turn left twice: got=%f want=10", c.TargetHeading)
	}

	c.Step()
	maxTurn := p.AngleStep * p.MaxTurnFraction
	want := math.Min(10*p.AngleSmoothing, maxTurn)
	if math.Abs(c.Heading-want) > 1e-9 {
		t.Fatalf("smoothed heading: got=%f want=%f", c.Heading, want)
	}
}

func TestHeadingChangeIsCappedPerTick(t *testing.T) {
	p := testParams()
	p.AngleSmoothing = 1
	tr := track.Filled(400, 200, track.RoadColor)
	c := New("c", &p, tr)
	c.TargetHeading = 170

	c.Step()
	if want := p.AngleStep * p.MaxTurnFraction; math.Abs(c.Heading-want) > 1e-9 {
		t.Fatalf("capped turn: got=%f want=%f", c.Heading, want)
	}

	c.Heading = 5
	c.TargetHeading = 355
	c.Step()
	if math.Abs(c.Heading-(5-p.AngleStep*p.MaxTurnFraction)) > 1e-9 {
		t.Fatalf("short way round: got=%f", c.Heading)
	}
}

func TestSpeedStaysWithinBounds(t *testing.T) {
	p := testParams()
	tr := track.Filled(4000, 4000, track.RoadColor)
	p.StartX, p.StartY = 2000, 2000
	c := New("c", &p, tr)
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 3000; i++ {
		c.Apply(Action(rng.Intn(ActionCount)))
		if c.TargetSpeed < p.MinSpeed || c.TargetSpeed > p.MaxSpeed {
			t.Fatalf("tick %d: target speed %f out of bounds", i, c.TargetSpeed)
		}
		c.Step()
		if c.Speed < p.MinSpeed || c.Speed > p.MaxSpeed {
			t.Fatalf("tick %d: speed %f out of bounds", i, c.Speed)
		}
		if c.Heading < 0 || c.Heading >= 360 || c.TargetHeading < 0 || c.TargetHeading >= 360 {
			t.Fatalf("tick %d: heading out of range: %f/%f", i, c.Heading, c.TargetHeading)
		}
	}
}

func TestStepClampsPositionToTrack(t *testing.T) {
	p := testParams()
	p.StartX, p.StartY = 5, 5
	p.StartHeading = 180
	tr := track.Filled(100, 100, track.RoadColor)
	c := New("c", &p, tr)

	for i := 0; i < 10; i++ {
		c.Step()
	}
	if c.Position.X != 0 {
		t.Fatalf("expected x pinned at 0, got %f", c.Position.X)
	}
	if !c.Alive {
		t.Fatal("pinning against a bound must not kill the car by itself")
	}

	p2 := testParams()
	p2.StartX, p2.StartY = 1e6, -50
	c2 := New("c2", &p2, tr)
	if c2.Position.X != 100-p2.Width || c2.Position.Y != 0 {
		t.Fatalf("start position not clamped: %+v", c2.Position)
	}
}

func TestStraightRunOnOpenRoad(t *testing.T) {
	p := DefaultParams()
	p.StartX, p.StartY = 10, 16
	p.InitialSpeed = p.MaxSpeed
	tr := track.Filled(3200, 64, track.RoadColor)
	c := New("c", &p, tr)

	for i := 0; i < 300; i++ {
		c.Apply(Accelerate)
		c.Update(tr)
	}
	if !c.Alive {
		t.Fatalf("expected car alive after 300 ticks, cause=%s", c.Cause)
	}
	if c.DistanceDriven != 300*p.MaxSpeed {
		t.Fatalf("distance: got=%f want=%f", c.DistanceDriven, 300*p.MaxSpeed)
	}
	if c.TicksInLane != 300 || c.TicksOnCenterLine != 0 || c.TicksWrongLaneOrWall != 0 {
		t.Fatalf("lane counters: in=%d center=%d wrong=%d", c.TicksInLane, c.TicksOnCenterLine, c.TicksWrongLaneOrWall)
	}
	if c.TimeSurvived != 300 {
		t.Fatalf("time survived: got=%d want=300", c.TimeSurvived)
	}
}

func TestDeadCarIsFrozen(t *testing.T) {
	p := testParams()
	tr := track.Filled(400, 200, track.RoadColor)
	c := New("c", &p, tr)
	c.Update(tr)
	c.Kill(CauseRemoved)
	before := c.State
	before.Reading = append([]float64(nil), c.Reading...)

	c.Apply(Accelerate)
	c.NudgeTargetSpeed(3)
	c.Update(tr)
	c.Kill(CauseCollision)

	if c.Position != before.Position || c.DistanceDriven != before.DistanceDriven || c.TimeSurvived != before.TimeSurvived {
		t.Fatalf("dead car moved: before=%+v after=%+v", before.Position, c.Position)
	}
	if c.TargetSpeed != before.TargetSpeed || c.TicksInLane != before.TicksInLane {
		t.Fatal("dead car targets or counters changed")
	}
	if c.Cause != CauseRemoved {
		t.Fatalf("death cause overwritten: %s", c.Cause)
	}
}

func TestParamsValidateRejectsNegativeTunables(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{name: "max-turn-fraction", mutate: func(p *Params) { p.MaxTurnFraction = -0.1 }},
		{name: "min-speed", mutate: func(p *Params) { p.MinSpeed = -1 }},
		{name: "lane-probe-offset", mutate: func(p *Params) { p.LaneProbeOffset = -0.2 }},
		{name: "stagnation-distance-factor", mutate: func(p *Params) { p.StagnationDistanceFactor = -0.5 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := DefaultParams()
			tc.mutate(&p)
			if err := p.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
	if err := DefaultParams().Validate(); err != nil {
		t.Fatalf("default params invalid: %v", err)
	}
}
