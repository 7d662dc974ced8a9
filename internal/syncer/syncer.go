// Package syncer runs one batch sync: every district in the registry is
// fetched, assembled and upserted, one at a time, in registry order.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-sync/internal/assembler"
	"github.com/kjstillabower/weather-sync/internal/client"
	"github.com/kjstillabower/weather-sync/internal/districts"
	"github.com/kjstillabower/weather-sync/internal/models"
	"github.com/kjstillabower/weather-sync/internal/observability"
	"github.com/kjstillabower/weather-sync/internal/sink"
	"github.com/kjstillabower/weather-sync/internal/validation"
)

var (
	// ErrRegistryRead is returned when the district registry cannot be read; the run is aborted.
	ErrRegistryRead = errors.New("district registry read failed")
	// ErrAlreadyRun is returned by Run on a driver that has left Idle.
	ErrAlreadyRun = errors.New("driver has already run")
	// ErrInterrupted is returned when cancellation stops the run before the last district.
	ErrInterrupted = errors.New("run interrupted")
)

// errNoCoordinates fills forecast and air quality for name lookups the provider returned no coordinates for.
var errNoCoordinates = errors.New("no coordinates for forecast or air quality lookup")

// State is the driver lifecycle: Idle -> Running -> Completed | Aborted.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Summary reports per-district outcomes of one run. WriteErrors counts districts
// whose upsert failed; they are also counted under their assembled outcome.
type Summary struct {
	RunID       string
	State       State
	Total       int
	Succeeded   int
	Partial     int
	Failed      int
	Skipped     int
	WriteErrors int
	Duration    time.Duration
}

// Option configures a Driver.
type Option func(*Driver)

// WithNameAliases maps registry names to provider query names before name lookups.
func WithNameAliases(aliases map[string]string) Option {
	return func(d *Driver) {
		d.aliases = make(map[string]string, len(aliases))
		for k, v := range aliases {
			d.aliases[strings.TrimSpace(k)] = v
		}
	}
}

// WithLogger sets the logger. A run_id field is added per run.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithClock replaces the time source for UpdatedAt and run timing.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) { d.now = now }
}

// Driver runs a single sync. Create a new Driver per run.
type Driver struct {
	source  districts.Source
	gateway client.WeatherGateway
	sink    sink.Sink
	aliases map[string]string
	logger  *zap.Logger
	now     func() time.Time

	mu    sync.Mutex
	state State
}

// New creates an Idle driver.
func New(source districts.Source, gateway client.WeatherGateway, s sink.Sink, opts ...Option) *Driver {
	d := &Driver{
		source:  source,
		gateway: gateway,
		sink:    s,
		aliases: map[string]string{},
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// State returns the current lifecycle state.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Driver) transition(from, to State) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != from {
		return false
	}
	d.state = to
	return true
}

type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomePartial
	outcomeFailed
	outcomeSkipped
	outcomeInterrupted
)

func (o outcome) label() string {
	switch o {
	case outcomeSucceeded:
		return "succeeded"
	case outcomePartial:
		return "partial"
	case outcomeFailed:
		return "failed"
	case outcomeSkipped:
		return "skipped"
	default:
		return "interrupted"
	}
}

// Run loads the registry once and processes every district sequentially.
// It returns ErrRegistryRead or ErrInterrupted when the run ends Aborted; per-district
// failures never fail the run.
func (d *Driver) Run(ctx context.Context) (Summary, error) {
	if !d.transition(StateIdle, StateRunning) {
		return Summary{State: d.State()}, ErrAlreadyRun
	}

	start := d.now()
	sum := Summary{RunID: uuid.NewString()}
	logger := d.logger.With(zap.String("run_id", sum.RunID))
	logger.Info("sync run started")

	list, err := d.source.List(ctx)
	if err != nil {
		logger.Error("district registry read failed", zap.Error(err))
		return d.finish(logger, sum, start, StateAborted), fmt.Errorf("%w: %w", ErrRegistryRead, err)
	}
	sum.Total = len(list)
	logger.Info("district registry loaded", zap.Int("districts", sum.Total))

	for i, dist := range list {
		if ctx.Err() != nil {
			logger.Warn("run cancelled, not scheduling remaining districts",
				zap.Int("remaining", len(list)-i), zap.Error(ctx.Err()))
			return d.finish(logger, sum, start, StateAborted), fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
		}

		o, writeErr := d.syncDistrict(ctx, logger, dist)
		if o == outcomeInterrupted {
			logger.Warn("district interrupted, not written",
				zap.String("district_id", dist.ID), zap.Error(ctx.Err()))
			return d.finish(logger, sum, start, StateAborted), fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
		}
		observability.DistrictOutcomesTotal.WithLabelValues(o.label()).Inc()
		switch o {
		case outcomeSucceeded:
			sum.Succeeded++
		case outcomePartial:
			sum.Partial++
		case outcomeFailed:
			sum.Failed++
		case outcomeSkipped:
			sum.Skipped++
		}
		if writeErr != nil {
			sum.WriteErrors++
		}
	}

	return d.finish(logger, sum, start, StateCompleted), nil
}

func (d *Driver) finish(logger *zap.Logger, sum Summary, start time.Time, state State) Summary {
	d.transition(StateRunning, state)
	sum.State = state
	sum.Duration = d.now().Sub(start)

	observability.RunsTotal.WithLabelValues(state.String()).Inc()
	observability.RunDurationSeconds.Set(sum.Duration.Seconds())
	if state == StateCompleted {
		observability.RunLastCompletedTimestamp.Set(float64(d.now().Unix()))
	}

	logger.Info("run complete",
		zap.String("state", state.String()),
		zap.Int("total", sum.Total),
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("partial", sum.Partial),
		zap.Int("failed", sum.Failed),
		zap.Int("skipped", sum.Skipped),
		zap.Int("write_errors", sum.WriteErrors),
		zap.Duration("duration", sum.Duration))
	return sum
}

// syncDistrict fetches, assembles and upserts one district.
func (d *Driver) syncDistrict(ctx context.Context, logger *zap.Logger, dist models.District) (outcome, error) {
	logger = logger.With(zap.String("district_id", dist.ID), zap.String("district", dist.Name))

	target, ok := d.resolve(logger, dist)
	if !ok {
		logger.Warn("skipping district without coordinates or usable name")
		return outcomeSkipped, nil
	}

	o := d.fetch(ctx, target)
	// A fetch cut short by cancellation must not overwrite the stored record.
	if ctx.Err() != nil {
		return outcomeInterrupted, nil
	}

	rec, completeness := assembler.Assemble(o, d.now())
	res := outcomeSucceeded
	switch completeness {
	case assembler.Failed:
		res = outcomeFailed
		logger.Warn("weather fetch failed, writing null record",
			zap.String("category", string(client.CategorizeError(o.WeatherErr))),
			zap.Error(o.WeatherErr))
	case assembler.Partial:
		res = outcomePartial
		fields := []zap.Field{}
		if o.ForecastErr != nil {
			fields = append(fields, zap.NamedError("forecast_error", o.ForecastErr))
		}
		if o.AirQualityErr != nil {
			fields = append(fields, zap.NamedError("air_quality_error", o.AirQualityErr))
		}
		logger.Info("partial weather record", fields...)
	}

	if err := d.sink.Upsert(ctx, dist.ID, rec); err != nil {
		if ctx.Err() != nil {
			return outcomeInterrupted, nil
		}
		logger.Error("weather upsert failed", zap.Error(err))
		return res, err
	}
	logger.Debug("district synced", zap.String("outcome", res.label()))
	return res, nil
}

// resolve picks the lookup target: valid coordinates first, else an aliased, usable name.
func (d *Driver) resolve(logger *zap.Logger, dist models.District) (models.Target, bool) {
	if c, ok := dist.Coordinates(); ok {
		return models.Target{Coords: &c, Name: dist.Name}, true
	}
	if dist.Latitude != nil || dist.Longitude != nil {
		logger.Warn("ignoring incomplete or out-of-range coordinates")
	}

	name := strings.TrimSpace(dist.Name)
	if alias, ok := d.aliases[name]; ok {
		name = alias
	}
	name, ok := validation.UsableName(name)
	if !ok {
		return models.Target{}, false
	}
	return models.Target{Name: name}, true
}

// fetch issues the provider calls for one district. Forecast and air quality are
// not requested once the current-weather fetch has failed.
func (d *Driver) fetch(ctx context.Context, target models.Target) assembler.Outcome {
	var o assembler.Outcome
	coords := target.Coords

	if coords != nil && d.gateway.Combined() {
		w, f, err := d.gateway.FetchCurrentAndForecast(ctx, *coords)
		if err != nil {
			o.WeatherErr = err
			return o
		}
		o.Weather, o.Forecast = w, f
	} else {
		w, err := d.gateway.FetchWeather(ctx, target)
		if err != nil {
			o.WeatherErr = err
			return o
		}
		o.Weather = w
		if coords == nil {
			coords = w.Coords
		}
		if coords == nil {
			o.ForecastErr = errNoCoordinates
			o.AirQualityErr = errNoCoordinates
			return o
		}
		o.Forecast, o.ForecastErr = d.gateway.FetchForecast(ctx, *coords)
	}

	o.AirQuality, o.AirQualityErr = d.gateway.FetchAirQuality(ctx, *coords)
	return o
}
