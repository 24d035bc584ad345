package sim

import (
	"fmt"
	"slices"
	"time"

	"github.com/mpapenbr/lapsim-service-go/pkg/model"
)

type Simulator struct {
	rules Rules
	rnd   Random
	now   func() time.Time
}

type Option func(*Simulator)

func WithRules(r Rules) Option {
	return func(s *Simulator) {
		s.rules = r
	}
}

func WithRandom(r Random) Option {
	return func(s *Simulator) {
		s.rnd = r
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Simulator) {
		s.now = now
	}
}

func NewSimulator(opts ...Option) *Simulator {
	ret := &Simulator{
		rules: DefaultRules(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(ret)
	}
	if ret.rnd == nil {
		ret.rnd = NewRandom(0)
	}
	return ret
}

func (s *Simulator) Rules() Rules {
	return s.rules
}

// NewRaceState creates the state for a new race with a shuffled grid.
func NewRaceState(drivers []model.Driver, raining bool, rnd Random) *model.RaceState {
	standings := slices.Clone(drivers)
	for i := len(standings) - 1; i > 0; i-- {
		j := rnd.IntN(i + 1)
		standings[i], standings[j] = standings[j], standings[i]
	}
	return &model.RaceState{
		Standings: standings,
		Raining:   raining,
		Lap:       1,
	}
}

// Step advances state by one lap. The rules are applied in a fixed order
// (weather, safety car, position change, pit stops) and so are the
// events of the result.
func (s *Simulator) Step(state *model.RaceState) model.LapResult {
	events := make([]model.LapEvent, 0, 4)
	lap := state.Lap

	if ev, ok := s.toggleWeather(state); ok {
		events = append(events, ev)
	}
	if ev, ok := s.safetyCar(state); ok {
		events = append(events, ev)
	}
	if !state.SafetyCar {
		if ev, ok := s.positionChange(state); ok {
			events = append(events, ev)
		}
		events = append(events, s.pitStops(state)...)
	}
	state.Lap++

	return model.LapResult{
		Lap:       lap,
		State:     state.Clone(),
		Events:    events,
		Timestamp: s.now().UTC(),
	}
}

func (s *Simulator) draw(p float64) bool {
	return s.rnd.Float64() < p
}

func (s *Simulator) toggleWeather(state *model.RaceState) (model.LapEvent, bool) {
	if !s.draw(s.rules.WeatherToggle) {
		return model.LapEvent{}, false
	}
	old := state.Raining
	state.Raining = !old
	return model.LapEvent{
		Kind: model.EventWeather,
		Text: fmt.Sprintf("Weather change: %s -> %s", weatherName(old), weatherName(state.Raining)),
	}, true
}

func (s *Simulator) safetyCar(state *model.RaceState) (model.LapEvent, bool) {
	if state.SafetyCar {
		if !s.draw(s.rules.SafetyCarReturn) {
			return model.LapEvent{}, false
		}
		state.SafetyCar = false
		return model.LapEvent{
			Kind: model.EventSafetyCar,
			Text: "Safety car returns to the pits",
		}, true
	}
	if !s.draw(s.rules.SafetyCarDeploy) {
		return model.LapEvent{}, false
	}
	state.SafetyCar = true
	return model.LapEvent{Kind: model.EventSafetyCar, Text: "Safety car deployed"}, true
}

func (s *Simulator) positionChange(state *model.RaceState) (model.LapEvent, bool) {
	if !s.draw(s.rules.PositionChange) {
		return model.LapEvent{}, false
	}
	window := s.rules.SwapWindow
	if window <= 0 || window > len(state.Standings) {
		window = len(state.Standings)
	}
	if window < 2 {
		return model.LapEvent{}, false
	}
	// two distinct positions, uniform without replacement
	a := s.rnd.IntN(window)
	b := s.rnd.IntN(window - 1)
	if b >= a {
		b++
	}
	front, back := min(a, b), max(a, b)
	st := state.Standings
	st[front], st[back] = st[back], st[front]
	return model.LapEvent{
		Kind: model.EventPositionChange,
		Text: fmt.Sprintf("Position change: %s moves from P%d to P%d, %s drops to P%d",
			st[front].Name, back+1, front+1, st[back].Name, back+1),
		Driver: st[front].Name,
		From:   back + 1,
		To:     front + 1,
	}, true
}

func (s *Simulator) pitStops(state *model.RaceState) []model.LapEvent {
	if s.rules.PitScan == PitScanSnapshot {
		return s.pitStopsSnapshot(state)
	}
	var events []model.LapEvent
	for i := 0; i < len(state.Standings); i++ {
		if s.draw(s.rules.PitStop) {
			events = append(events, s.pit(state, i))
		}
	}
	return events
}

func (s *Simulator) pitStopsSnapshot(state *model.RaceState) []model.LapEvent {
	var events []model.LapEvent
	for _, d := range slices.Clone(state.Standings) {
		if s.draw(s.rules.PitStop) {
			idx := slices.Index(state.Standings, d)
			events = append(events, s.pit(state, idx))
		}
	}
	return events
}

// pit moves the driver at idx to a random position in [PitMinPosition, n-1]
func (s *Simulator) pit(state *model.RaceState, idx int) model.LapEvent {
	n := len(state.Standings)
	d := state.Standings[idx]
	lowest := min(s.rules.PitMinPosition, n-1)
	target := lowest + s.rnd.IntN(n-lowest)
	state.Standings = slices.Insert(slices.Delete(state.Standings, idx, idx+1), target, d)
	return model.LapEvent{
		Kind:   model.EventPitStop,
		Text:   fmt.Sprintf("Pit stop: %s pits from P%d and rejoins in P%d", d.Name, idx+1, target+1),
		Driver: d.Name,
		From:   idx + 1,
		To:     target + 1,
	}
}

func weatherName(raining bool) string {
	if raining {
		return "rain"
	}
	return "dry"
}
