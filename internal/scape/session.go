package scape

import (
	"context"
	"log/slog"
	"sync"

	"carsim/internal/car"
)

type entry struct {
	candidate *Candidate
	car       *car.Car
	policy    Policy
	action    car.Action
	err       error
}

// Session is the state of one generation. It is owned by a single
// EvaluateGeneration call.
type Session struct {
	race       *RaceScape
	log        *slog.Logger
	generation int

	entries []*entry
	byID    map[string]*entry
	skipped int

	tick  int
	state State
	best  *BestCar
}

func newSession(r *RaceScape, generation int, candidates []*Candidate) *Session {
	s := &Session{
		race:       r,
		log:        r.log.With("generation", generation),
		generation: generation,
		entries:    make([]*entry, 0, len(candidates)),
		byID:       make(map[string]*entry, len(candidates)),
		state:      StateRunning,
	}
	shape := r.Shape()
	for _, c := range candidates {
		if c == nil {
			continue
		}
		if _, dup := s.byID[c.ID]; dup {
			s.skipped++
			s.log.Warn("candidate skipped", "candidate", c.ID, "error", "duplicate id")
			continue
		}
		policy, err := r.cfg.Factory(c.Genome, shape)
		if err != nil {
			s.skipped++
			s.log.Warn("candidate skipped", "candidate", c.ID, "error", err)
			continue
		}
		c.Fitness = 0
		e := &entry{
			candidate: c,
			car:       car.New(c.ID, &r.params, r.cfg.Track),
			policy:    policy,
		}
		s.entries = append(s.entries, e)
		s.byID[c.ID] = e
	}
	return s
}

func (s *Session) run(ctx context.Context) error {
	pace := newPacer(s.race.cfg.TickRate)
	defer pace.stop()

	for {
		if ctx.Err() != nil || s.race.Cancelled() {
			s.state = StateCancelled
			return ErrCancelled
		}
		s.drainCommands()
		if s.alive() == 0 {
			s.state = StateAllDead
			return nil
		}

		s.step(ctx)
		s.tick++
		if ctx.Err() != nil {
			s.state = StateCancelled
			return ErrCancelled
		}
		s.observe()

		if s.alive() == 0 {
			s.state = StateAllDead
			return nil
		}
		if s.tick >= s.race.cfg.MaxTicks {
			s.state = StateTimedOut
			return nil
		}
		pace.wait(ctx)
	}
}

func (s *Session) step(ctx context.Context) {
	live := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.car.Alive {
			live = append(live, e)
		}
	}

	workers := s.race.cfg.Workers
	if workers > len(live) {
		workers = len(live)
	}
	if workers <= 1 {
		for _, e := range live {
			s.drive(ctx, e)
		}
	} else {
		jobs := make(chan *entry)
		var wg sync.WaitGroup
		wg.Add(workers)
		for w := 0; w < workers; w++ {
			go func() {
				defer wg.Done()
				for e := range jobs {
					s.drive(ctx, e)
				}
			}()
		}
		for _, e := range live {
			jobs <- e
		}
		close(jobs)
		wg.Wait()
	}

	var best *entry
	for _, e := range live {
		if e.err != nil {
			s.log.Warn("policy failed", "candidate", e.candidate.ID, "tick", s.tick+1, "error", e.err)
			e.err = nil
		}
		if e.car.Alive && (best == nil || e.candidate.Fitness > best.candidate.Fitness) {
			best = e
		}
	}
	if best != nil {
		s.best = snapshot(best)
	}
}

// drive runs one tick for one live car. It touches only that car and its
// candidate, so cars can be driven in parallel. Once ctx is done the car is
// left as it is.
func (s *Session) drive(ctx context.Context, e *entry) {
	if ctx.Err() != nil {
		return
	}
	scores, err := e.policy.Evaluate(ctx, e.car.SensorReading())
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		e.err = err
		e.car.Kill(car.CausePolicy)
		return
	}
	action, err := car.DecodeAction(scores)
	if err != nil {
		e.err = err
		e.car.Kill(car.CausePolicy)
		return
	}
	e.car.ActionScores = append(e.car.ActionScores[:0], scores...)
	e.action = action
	e.car.Apply(action)
	e.car.Update(s.race.cfg.Track)
	if e.car.Alive {
		e.candidate.Fitness = e.car.Fitness()
	}
}

func (s *Session) alive() int {
	n := 0
	for _, e := range s.entries {
		if e.car.Alive {
			n++
		}
	}
	return n
}

func (s *Session) observe() {
	obs := s.race.cfg.Observer
	every := s.race.cfg.FrameEvery
	if obs == nil || every <= 0 || s.tick%every != 0 {
		return
	}
	frame := Frame{
		Generation: s.generation,
		Tick:       s.tick,
		Alive:      s.alive(),
		MaxSpeed:   s.race.params.MaxSpeed,
		Best:       s.best,
		Cars:       make([]CarFrame, 0, len(s.entries)),
	}
	for _, e := range s.entries {
		frame.Cars = append(frame.Cars, CarFrame{
			ID:      e.candidate.ID,
			X:       e.car.Position.X,
			Y:       e.car.Position.Y,
			Heading: e.car.Heading,
			Speed:   e.car.Speed,
			Alive:   e.car.Alive,
			Fitness: e.candidate.Fitness,
		})
	}
	obs.ObserveFrame(frame)
}

func (s *Session) report() Report {
	rep := Report{
		Generation: s.generation,
		State:      s.state,
		Ticks:      s.tick,
		Evaluated:  len(s.entries),
		Skipped:    s.skipped,
		Best:       s.best,
		Cars:       make([]CarResult, 0, len(s.entries)),
	}
	for i, e := range s.entries {
		c := e.car
		if c.Alive {
			rep.Survivors++
		}
		if i == 0 || e.candidate.Fitness > rep.BestFitness {
			rep.BestFitness = e.candidate.Fitness
		}
		rep.Cars = append(rep.Cars, CarResult{
			CandidateID:          e.candidate.ID,
			Fitness:              e.candidate.Fitness,
			Alive:                c.Alive,
			Cause:                c.Cause.String(),
			DistanceDriven:       c.DistanceDriven,
			TimeSurvived:         c.TimeSurvived,
			TicksInLane:          c.TicksInLane,
			TicksOnCenterLine:    c.TicksOnCenterLine,
			TicksWrongLaneOrWall: c.TicksWrongLaneOrWall,
		})
	}
	return rep
}

func snapshot(e *entry) *BestCar {
	c := e.car
	return &BestCar{
		CandidateID: e.candidate.ID,
		Fitness:     e.candidate.Fitness,
		Reading:     c.SensorReading(),
		Scores:      append([]float64(nil), c.ActionScores...),
		Action:      e.action.String(),
		Position:    c.Position,
		Heading:     c.Heading,
		Speed:       c.Speed,
	}
}
