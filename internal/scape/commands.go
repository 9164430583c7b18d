package scape

import (
	"errors"
	"fmt"

	"carsim/internal/car"
)

var ErrCommandQueueFull = errors.New("command queue full")

// Command is an operator instruction. Commands are queued and applied at the
// start of the next tick, before any car moves.
type Command interface {
	command()
}

// RemoveCar kills a car by candidate id and marks its fitness as removed.
type RemoveCar struct {
	ID string
}

// AdjustMaxSpeed moves the speed ceiling by Delta and nudges every live car's
// target speed by one speed step in the same direction. The new ceiling
// persists across generations.
type AdjustMaxSpeed struct {
	Delta float64
}

// Quit cancels the running generation and every later one.
type Quit struct{}

func (RemoveCar) command()      {}
func (AdjustMaxSpeed) command() {}
func (Quit) command()           {}

func (c RemoveCar) String() string      { return fmt.Sprintf("remove(%s)", c.ID) }
func (c AdjustMaxSpeed) String() string { return fmt.Sprintf("max_speed(%+g)", c.Delta) }
func (Quit) String() string             { return "quit" }

const (
	// RemovedFitness is assigned to cars removed by an operator.
	RemovedFitness = -1000.0
	// minSpeedGap keeps the speed ceiling above the floor.
	minSpeedGap = 0.5
)

// Submit queues cmd for the running or next generation. Quit takes effect
// immediately.
func (r *RaceScape) Submit(cmd Command) error {
	switch cmd.(type) {
	case nil:
		return fmt.Errorf("command is required")
	case Quit:
		r.quit.Store(true)
		return nil
	}
	select {
	case r.commands <- cmd:
		return nil
	default:
		return fmt.Errorf("%s: %w", cmd, ErrCommandQueueFull)
	}
}

func (s *Session) drainCommands() {
	for {
		select {
		case cmd := <-s.race.commands:
			s.apply(cmd)
		default:
			return
		}
	}
}

func (s *Session) apply(cmd Command) {
	switch c := cmd.(type) {
	case RemoveCar:
		e, ok := s.byID[c.ID]
		if !ok || !e.car.Alive {
			s.log.Debug("remove ignored", "candidate", c.ID)
			return
		}
		e.car.Kill(car.CauseRemoved)
		e.candidate.Fitness = RemovedFitness
		s.log.Info("car removed", "candidate", c.ID, "tick", s.tick)
	case AdjustMaxSpeed:
		maxSpeed := s.race.adjustMaxSpeed(c.Delta)
		nudge := s.race.params.SpeedStep
		if c.Delta < 0 {
			nudge = -nudge
		}
		for _, e := range s.entries {
			e.car.NudgeTargetSpeed(nudge)
			e.car.ClampSpeeds()
		}
		s.log.Info("max speed adjusted", "max_speed", maxSpeed, "tick", s.tick)
	}
}
