package scape

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"carsim/internal/car"
	"carsim/internal/track"
)

const (
	DefaultTickRate      = 60
	DefaultMaxTicks      = 70 * DefaultTickRate
	defaultCommandBuffer = 64
)

type Config struct {
	Track   *track.Track
	Car     car.Params
	Factory PolicyFactory

	// TickRate paces the loop in ticks per second. Zero runs unpaced.
	TickRate float64
	MaxTicks int
	// Workers > 1 steps live cars concurrently within a tick.
	Workers       int
	CommandBuffer int

	Observer   Observer
	FrameEvery int

	Logger *slog.Logger
}

// RaceScape evaluates generations on one track. Generations run one at a
// time; operator state such as the speed ceiling carries over between them.
type RaceScape struct {
	cfg      Config
	log      *slog.Logger
	commands chan Command
	quit     atomic.Bool

	run        sync.Mutex
	generation int

	paramsMu sync.RWMutex
	params   car.Params
}

func NewRaceScape(cfg Config) (*RaceScape, error) {
	if cfg.Track == nil {
		return nil, fmt.Errorf("track is required")
	}
	if cfg.Factory == nil {
		return nil, fmt.Errorf("policy factory is required")
	}
	if err := cfg.Car.Validate(); err != nil {
		return nil, fmt.Errorf("car params: %w", err)
	}
	if cfg.TickRate < 0 {
		return nil, fmt.Errorf("tick rate must be >= 0, got %g", cfg.TickRate)
	}
	if cfg.MaxTicks < 0 {
		return nil, fmt.Errorf("max ticks must be >= 0, got %d", cfg.MaxTicks)
	}
	if cfg.MaxTicks == 0 {
		cfg.MaxTicks = DefaultMaxTicks
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.CommandBuffer <= 0 {
		cfg.CommandBuffer = defaultCommandBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &RaceScape{
		cfg:      cfg,
		log:      cfg.Logger.With("scape", "race"),
		commands: make(chan Command, cfg.CommandBuffer),
		params:   cfg.Car.Clone(),
	}, nil
}

func (r *RaceScape) Name() string { return "race" }

func (r *RaceScape) Shape() NetworkShape {
	r.paramsMu.RLock()
	defer r.paramsMu.RUnlock()
	return NetworkShape{Sensors: r.params.SensorCount(), Actions: car.ActionCount}
}

func (r *RaceScape) Track() *track.Track { return r.cfg.Track }

// Params returns a copy of the current car parameters, including operator
// adjustments.
func (r *RaceScape) Params() car.Params {
	r.paramsMu.RLock()
	defer r.paramsMu.RUnlock()
	return r.params.Clone()
}

// Quit is shorthand for Submit(Quit{}).
func (r *RaceScape) Quit() { r.quit.Store(true) }

func (r *RaceScape) Cancelled() bool { return r.quit.Load() }

// EvaluateGeneration builds a car for each candidate and runs the tick loop
// to completion. Candidate fitness is updated in place. The report is valid
// even when the returned error wraps ErrCancelled.
func (r *RaceScape) EvaluateGeneration(ctx context.Context, candidates []*Candidate) (Report, error) {
	r.run.Lock()
	defer r.run.Unlock()

	r.generation++
	if ctx.Err() != nil || r.Cancelled() {
		rep := Report{Generation: r.generation, State: StateCancelled, Cars: []CarResult{}}
		return rep, fmt.Errorf("generation %d at tick 0: %w", rep.Generation, ErrCancelled)
	}
	s := newSession(r, r.generation, candidates)
	if len(s.entries) == 0 {
		s.state = StateAllDead
		r.log.Warn("generation skipped: no cars", "generation", s.generation, "skipped", s.skipped)
		return s.report(), nil
	}

	err := s.run(ctx)
	rep := s.report()
	r.log.Info("generation finished",
		"generation", rep.Generation,
		"state", rep.State.String(),
		"ticks", rep.Ticks,
		"best", rep.BestFitness,
		"alive", rep.Survivors,
	)
	if err != nil {
		return rep, fmt.Errorf("generation %d at tick %d: %w", rep.Generation, rep.Ticks, err)
	}
	return rep, nil
}

func (r *RaceScape) adjustMaxSpeed(delta float64) float64 {
	r.paramsMu.Lock()
	defer r.paramsMu.Unlock()
	r.params.MaxSpeed = math.Max(r.params.MaxSpeed+delta, r.params.MinSpeed+minSpeedGap)
	return r.params.MaxSpeed
}

type pacer struct {
	ticker *time.Ticker
}

func newPacer(rate float64) *pacer {
	if rate <= 0 {
		return &pacer{}
	}
	return &pacer{ticker: time.NewTicker(time.Duration(float64(time.Second) / rate))}
}

func (p *pacer) wait(ctx context.Context) {
	if p.ticker == nil {
		return
	}
	select {
	case <-ctx.Done():
	case <-p.ticker.C:
	}
}

func (p *pacer) stop() {
	if p.ticker != nil {
		p.ticker.Stop()
	}
}
