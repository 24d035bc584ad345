package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mpapenbr/lapsim-service-go/log"
	"github.com/mpapenbr/lapsim-service-go/pkg/commentary"
	"github.com/mpapenbr/lapsim-service-go/pkg/model"
)

const (
	DefaultLaps        = 10
	DefaultLapInterval = 60 * time.Second
	TopN               = 3
)

var (
	ErrDisconnected = errors.New("client disconnected")
	ErrPanic        = errors.New("internal error")
)

type (
	// Stepper advances a race state by one lap.
	Stepper interface {
		Step(state *model.RaceState) model.LapResult
	}

	// WeatherFunc reports the weather requested for a race and a revision
	// that changes whenever the request changes.
	WeatherFunc func(ctx context.Context) (raining bool, revision uint64, err error)

	// Race holds everything owned by a single race. It must not be shared.
	Race struct {
		ID              string
		State           *model.RaceState
		Stepper         Stepper
		Weather         WeatherFunc // optional
		WeatherRevision uint64      // revision already reflected in State
	}

	Publisher struct {
		laps      int
		interval  time.Duration
		countdown bool
		narrator  commentary.Narrator
		facts     commentary.FactLookup
		now       func() time.Time
		metrics   *metrics
		log       *log.Logger
	}
	Option func(*Publisher)

	// raceRun is the per race context of a running publisher
	raceRun struct {
		*Race
		sink     Sink
		previous *model.LapResult
		log      *log.Logger
	}
)

func WithLaps(laps int) Option {
	return func(p *Publisher) {
		p.laps = laps
	}
}

func WithInterval(d time.Duration) Option {
	return func(p *Publisher) {
		p.interval = d
	}
}

func WithCountdown(enabled bool) Option {
	return func(p *Publisher) {
		p.countdown = enabled
	}
}

func WithNarrator(n commentary.Narrator) Option {
	return func(p *Publisher) {
		p.narrator = n
	}
}

func WithFactLookup(f commentary.FactLookup) Option {
	return func(p *Publisher) {
		p.facts = f
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		p.now = now
	}
}

func WithLogger(l *log.Logger) Option {
	return func(p *Publisher) {
		p.log = l
	}
}

func NewPublisher(opts ...Option) *Publisher {
	ret := &Publisher{
		laps:     DefaultLaps,
		interval: DefaultLapInterval,
		now:      time.Now,
		log:      log.Default().Named("race.stream"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	ret.metrics = newMetrics(ret.log)
	return ret
}

func (p *Publisher) Laps() int {
	return p.laps
}

// Run drives race until the configured number of laps is done, an error
// occurs or ctx is cancelled. On cancellation (or a failing sink) nothing
// else is written and the returned error wraps ErrDisconnected. Other
// errors are reported to the sink with an ErrorMessage before returning.
//
//nolint:funlen // by design
func (p *Publisher) Run(ctx context.Context, race *Race, sink Sink) (err error) {
	r := &raceRun{
		Race: race,
		sink: sink,
		log:  p.log.With(log.String("race", race.ID)),
	}
	p.metrics.raceStarted(ctx)
	defer func() {
		if rvr := recover(); rvr != nil {
			r.log.Error("Recovered from panic", log.Any("panic", rvr))
			err = p.fail(ctx, r, fmt.Errorf("%w: %v", ErrPanic, rvr))
		}
		p.metrics.raceEnded(ctx, outcome(err))
	}()
	r.log.Info("race started",
		log.Int("laps", p.laps), log.Duration("interval", p.interval))

	for i := 1; i <= p.laps; i++ {
		if ctx.Err() != nil {
			return p.disconnected(r, ctx.Err())
		}
		start := p.now()
		p.applyWeather(ctx, r)

		res := r.Stepper.Step(r.State)
		msg := NewLapMessage(r.ID, p.laps, &res)
		if msg.Commentary, err = p.narrate(ctx, r, &res); err != nil {
			if ctx.Err() != nil {
				return p.disconnected(r, ctx.Err())
			}
			return p.fail(ctx, r, err)
		}
		if err := r.send(ctx, msg); err != nil {
			return p.disconnected(r, err)
		}
		p.metrics.lapSent(ctx)
		r.previous = &res
		r.log.Debug("lap sent", log.Int("lap", res.Lap), log.Int("events", len(res.Events)))

		if i == p.laps {
			break
		}
		if err := p.wait(ctx, r, res.Lap+1, p.interval-p.now().Sub(start)); err != nil {
			return p.disconnected(r, err)
		}
	}
	return p.finish(ctx, r)
}

func (p *Publisher) finish(ctx context.Context, r *raceRun) error {
	winner := r.State.Leader()
	msg := NewFinishMessage(r.ID, p.laps, winner, p.now())
	if p.facts != nil {
		fact, err := p.facts.Fact(ctx, winner.Name)
		switch {
		case err == nil:
			msg.Fact = fact
		case errors.Is(err, commentary.ErrNotFound):
		case ctx.Err() != nil:
			return p.disconnected(r, ctx.Err())
		default:
			return p.fail(ctx, r, err)
		}
	}
	if err := r.send(ctx, msg); err != nil {
		return p.disconnected(r, err)
	}
	r.log.Info("race finished", log.String("winner", winner.Name))
	return nil
}

//nolint:whitespace // can't make both editor and linter happy
func (p *Publisher) narrate(
	ctx context.Context, r *raceRun, res *model.LapResult,
) (string, error) {
	if p.narrator == nil {
		return "", nil
	}
	s := commentary.Situation{
		Lap:       res.Lap,
		TotalLaps: p.laps,
		Top:       res.State.Top(TopN),
		Raining:   res.State.Raining,
		SafetyCar: res.State.SafetyCar,
		Events:    res.EventTexts(),
	}
	if r.previous != nil {
		s.PreviousTop = r.previous.State.Top(TopN)
	}
	return p.narrator.Narrate(ctx, s)
}

// applyWeather copies a changed weather request into the race state.
// A failing weather source is not fatal, the race keeps its weather.
func (p *Publisher) applyWeather(ctx context.Context, r *raceRun) {
	if r.Weather == nil {
		return
	}
	raining, revision, err := r.Weather(ctx)
	if err != nil {
		r.log.Warn("could not read weather request", log.ErrorField(err))
		return
	}
	if revision <= r.WeatherRevision {
		return
	}
	r.log.Info("applying weather request",
		log.Bool("raining", raining), log.Uint64("revision", revision))
	r.State.Raining = raining
	r.WeatherRevision = revision
}

// wait suspends for d. With countdown enabled a heartbeat is sent every second.
func (p *Publisher) wait(ctx context.Context, r *raceRun, nextLap int, d time.Duration) error {
	for remaining := d; remaining > 0; {
		step := min(remaining, time.Second)
		if !p.countdown {
			step = remaining
		}
		if err := sleep(ctx, step); err != nil {
			return err
		}
		remaining -= step
		if p.countdown && remaining > 0 {
			if err := r.send(ctx, NewCountdownMessage(r.ID, nextLap, remaining)); err != nil {
				return err
			}
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *Publisher) fail(ctx context.Context, r *raceRun, err error) error {
	r.log.Error("race aborted", log.ErrorField(err))
	if sendErr := r.send(ctx, NewErrorMessage(r.ID, err)); sendErr != nil {
		r.log.Debug("could not send error message", log.ErrorField(sendErr))
	}
	return err
}

// send writes msg unless ctx is done. Nothing is written once the client
// is gone, even if a collaborator call returned a result in the meantime.
func (r *raceRun) send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.sink.Send(ctx, msg)
}

func (p *Publisher) disconnected(r *raceRun, cause error) error {
	r.log.Debug("client gone, stopping race", log.ErrorField(cause))
	return fmt.Errorf("%w: %w", ErrDisconnected, cause)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "finished"
	case errors.Is(err, ErrDisconnected):
		return "disconnected"
	default:
		return "errored"
	}
}
