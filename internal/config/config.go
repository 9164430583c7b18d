// Package config holds the process-wide tunables for carsimctl. Settings are
// read from a JSON document laid over Default and then validated.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"carsim/internal/car"
	"carsim/internal/evo"
	"carsim/internal/nn"
	"carsim/internal/scape"
	"carsim/internal/storage"
)

var ErrInvalid = errors.New("invalid settings")

type TrackSettings struct {
	Path   string `json:"path"`
	Sprite string `json:"sprite"`
	Width  int    `json:"width"`
	Height int    `json:"height"`

	// The start position is authored against a reference layout and scaled
	// to Width×Height. A zero reference size uses car.start_x/start_y as is.
	ReferenceWidth  float64 `json:"reference_width"`
	ReferenceHeight float64 `json:"reference_height"`
	ReferenceStartX float64 `json:"reference_start_x"`
	ReferenceStartY float64 `json:"reference_start_y"`
}

type GenerationSettings struct {
	TickRate      float64 `json:"tick_rate"`
	MaxTicks      int     `json:"max_ticks"`
	Workers       int     `json:"workers"`
	CommandBuffer int     `json:"command_buffer"`
	FrameEvery    int     `json:"frame_every"`
}

type EvolutionSettings struct {
	PopulationSize    int     `json:"population_size"`
	Generations       int     `json:"generations"`
	EliteCount        int     `json:"elite_count"`
	MutationsPerChild int     `json:"mutations_per_child"`
	MaxWeightDelta    float64 `json:"max_weight_delta"`
	Selection         string  `json:"selection"`
	Hidden            int     `json:"hidden"`
	Activation        string  `json:"activation"`
	OutputActivation  string  `json:"output_activation"`
	FitnessTarget     float64 `json:"fitness_target"`
	Seed              int64   `json:"seed"`
	// Runs repeats the whole evolution; 0 runs until cancelled.
	Runs int `json:"runs"`
}

type StoreSettings struct {
	Kind string `json:"kind"`
	Path string `json:"path"`
}

type TelemetrySettings struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

type ArtifactsSettings struct {
	Dir       string `json:"dir"`
	Plot      bool   `json:"plot"`
	Snapshots bool   `json:"snapshots"`
}

type Settings struct {
	Track      TrackSettings      `json:"track"`
	Car        car.Params         `json:"car"`
	Generation GenerationSettings `json:"generation"`
	Evolution  EvolutionSettings  `json:"evolution"`
	Store      StoreSettings      `json:"store"`
	Telemetry  TelemetrySettings  `json:"telemetry"`
	Artifacts  ArtifactsSettings  `json:"artifacts"`
}

func Default() Settings {
	return Settings{
		Track: TrackSettings{
			Path:            "assets/track.png",
			Sprite:          "assets/car.png",
			Width:           870,
			Height:          810,
			ReferenceWidth:  1280,
			ReferenceHeight: 720,
			ReferenceStartX: 660,
			ReferenceStartY: 610,
		},
		Car: car.DefaultParams(),
		Generation: GenerationSettings{
			TickRate:      scape.DefaultTickRate,
			MaxTicks:      scape.DefaultMaxTicks,
			Workers:       1,
			CommandBuffer: 64,
			FrameEvery:    1,
		},
		Evolution: EvolutionSettings{
			PopulationSize:    30,
			Generations:       100,
			EliteCount:        6,
			MutationsPerChild: 1,
			MaxWeightDelta:    0.5,
			Selection:         "elite",
			Hidden:            6,
			Activation:        "tanh",
			OutputActivation:  "identity",
			Seed:              1,
			Runs:              1,
		},
		Store: StoreSettings{
			Kind: storage.DefaultStoreKind,
			Path: "carsim.db",
		},
		Telemetry: TelemetrySettings{
			Addr: "127.0.0.1:8089",
		},
		Artifacts: ArtifactsSettings{
			Dir:  "benchmarks",
			Plot: true,
		},
	}
}

// Load reads path over Default. Unknown keys are rejected so typos surface
// instead of silently falling back to defaults.
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}
	return Parse(data)
}

func Parse(data []byte) (Settings, error) {
	settings := Default()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&settings); err != nil {
		return Settings{}, fmt.Errorf("%w: decode: %w", ErrInvalid, err)
	}
	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// CarParams returns the car tunables with the start position resolved
// against the track size.
func (s Settings) CarParams() car.Params {
	p := s.Car.Clone()
	if s.Track.ReferenceWidth > 0 && s.Track.ReferenceHeight > 0 {
		p.StartX, p.StartY = ScaleStart(
			s.Track.ReferenceStartX, s.Track.ReferenceStartY,
			s.Track.ReferenceWidth, s.Track.ReferenceHeight,
			float64(s.Track.Width), float64(s.Track.Height),
		)
	}
	return p
}

// ScaleStart maps (x, y) from a refW×refH layout onto w×h, flooring to whole
// pixels.
func ScaleStart(x, y, refW, refH, w, h float64) (float64, float64) {
	return math.Floor(x * w / refW), math.Floor(y * h / refH)
}

func (s Settings) Validate() error {
	var errs []error
	if s.Track.Path == "" {
		errs = append(errs, errors.New("track.path is required"))
	}
	if s.Track.Width <= 0 || s.Track.Height <= 0 {
		errs = append(errs, fmt.Errorf("track size must be > 0, got %dx%d", s.Track.Width, s.Track.Height))
	}
	if s.Track.ReferenceWidth < 0 || s.Track.ReferenceHeight < 0 {
		errs = append(errs, errors.New("track reference size must be >= 0"))
	}
	if err := s.Car.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("car: %w", err))
	} else if s.Track.Width > 0 && s.Track.Height > 0 {
		p := s.CarParams()
		if p.StartX < 0 || p.StartY < 0 ||
			p.StartX+p.Width > float64(s.Track.Width) || p.StartY+p.Height > float64(s.Track.Height) {
			errs = append(errs, fmt.Errorf("start position (%g,%g) does not fit a %gx%g car on the track", p.StartX, p.StartY, p.Width, p.Height))
		}
	}

	g := s.Generation
	if g.TickRate < 0 {
		errs = append(errs, fmt.Errorf("generation.tick_rate must be >= 0, got %g", g.TickRate))
	}
	if g.MaxTicks <= 0 {
		errs = append(errs, fmt.Errorf("generation.max_ticks must be > 0, got %d", g.MaxTicks))
	}
	if g.Workers < 0 || g.CommandBuffer < 0 || g.FrameEvery < 0 {
		errs = append(errs, errors.New("generation workers, command_buffer and frame_every must be >= 0"))
	}

	e := s.Evolution
	if e.PopulationSize <= 0 {
		errs = append(errs, fmt.Errorf("evolution.population_size must be > 0, got %d", e.PopulationSize))
	}
	if e.Generations <= 0 {
		errs = append(errs, fmt.Errorf("evolution.generations must be > 0, got %d", e.Generations))
	}
	if e.EliteCount <= 0 || e.EliteCount > e.PopulationSize {
		errs = append(errs, fmt.Errorf("evolution.elite_count must be in [1, population_size], got %d", e.EliteCount))
	}
	if e.MaxWeightDelta <= 0 {
		errs = append(errs, fmt.Errorf("evolution.max_weight_delta must be > 0, got %g", e.MaxWeightDelta))
	}
	if e.Hidden < 0 || e.Runs < 0 || e.MutationsPerChild < 0 {
		errs = append(errs, errors.New("evolution hidden, runs and mutations_per_child must be >= 0"))
	}
	if _, err := evo.SelectorFromName(e.Selection); err != nil {
		errs = append(errs, fmt.Errorf("evolution: %w", err))
	}
	for _, name := range []string{e.Activation, e.OutputActivation} {
		if name == "" {
			continue
		}
		if _, err := nn.GetActivation(name); err != nil {
			errs = append(errs, fmt.Errorf("evolution: %s: %w", name, err))
		}
	}

	switch s.Store.Kind {
	case "", "memory":
	case "sqlite":
		if s.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported store.kind: %s", s.Store.Kind))
	}
	if s.Telemetry.Enabled && s.Telemetry.Addr == "" {
		errs = append(errs, errors.New("telemetry.addr is required when telemetry is enabled"))
	}
	if (s.Artifacts.Plot || s.Artifacts.Snapshots) && s.Artifacts.Dir == "" {
		errs = append(errs, errors.New("artifacts.dir is required for plots and snapshots"))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}
