package race

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/mpapenbr/lapsim-service-go/log"
	"github.com/mpapenbr/lapsim-service-go/pkg/race/sim"
	"github.com/mpapenbr/lapsim-service-go/pkg/race/stream"
	"github.com/mpapenbr/lapsim-service-go/pkg/racectx"
)

var ErrInvalidParam = errors.New("invalid parameter")

// raceParams are the per request settings of a race
type raceParams struct {
	laps     int
	interval time.Duration
}

func (s *Server) parseRaceParams(r *http.Request) (raceParams, error) {
	ret := raceParams{laps: s.laps, interval: s.interval}
	accelerated := s.accelerated
	q := r.URL.Query()
	if v := q.Get("laps"); v != "" {
		laps, err := strconv.Atoi(v)
		if err != nil || laps < 1 || laps > MaxLaps {
			return ret, fmt.Errorf("%w: laps must be within 1..%d", ErrInvalidParam, MaxLaps)
		}
		ret.laps = laps
	}
	if v := q.Get("accelerated"); v != "" {
		var err error
		if accelerated, err = strconv.ParseBool(v); err != nil {
			return ret, fmt.Errorf("%w: accelerated must be a boolean", ErrInvalidParam)
		}
	}
	if accelerated {
		ret.interval = AcceleratedLapTime
	}
	return ret, nil
}

// newRace sets up a fresh race for the client. The race starts with the
// weather the client requested, later requests are picked up between laps.
func (s *Server) newRace(ctx context.Context, client string) (*stream.Race, error) {
	rc, err := racectx.GetOrDefault(ctx, s.store, client)
	if err != nil {
		return nil, err
	}
	rnd := sim.NewRandom(s.seed)
	return &stream.Race{
		ID:    uuid.NewString(),
		State: sim.NewRaceState(s.roster.Drivers(), rc.Raining, rnd),
		Stepper: sim.NewSimulator(
			sim.WithRules(s.rules),
			sim.WithRandom(rnd)),
		Weather: func(ctx context.Context) (bool, uint64, error) {
			cur, err := racectx.GetOrDefault(ctx, s.store, client)
			if err != nil {
				return false, 0, err
			}
			return cur.Raining, cur.Revision, nil
		},
		WeatherRevision: rc.Revision,
	}, nil
}

func (s *Server) newPublisher(p raceParams, l *log.Logger) *stream.Publisher {
	opts := []stream.Option{
		stream.WithLaps(p.laps),
		stream.WithInterval(p.interval),
		stream.WithCountdown(s.countdown),
		stream.WithNarrator(s.narrator),
		stream.WithLogger(l),
	}
	if s.facts != nil {
		opts = append(opts, stream.WithFactLookup(s.facts))
	}
	return stream.NewPublisher(opts...)
}

// withFeed adds the NATS feed as secondary sink if configured
func (s *Server) withFeed(race *stream.Race, primary stream.Sink) stream.Sink {
	if s.feed == nil {
		return primary
	}
	fs, err := s.feed.Sink(race.ID)
	if err != nil {
		s.log.Warn("race not published", log.String("race", race.ID), log.ErrorField(err))
		return primary
	}
	return stream.Tee(primary, fs)
}

//nolint:whitespace // can't make both editor and linter happy
func (s *Server) runRace(
	ctx context.Context,
	race *stream.Race,
	p raceParams,
	sink stream.Sink,
) {
	l := s.log.With(log.String("race", race.ID))
	err := s.newPublisher(p, l).Run(ctx, race, s.withFeed(race, sink))
	switch {
	case err == nil:
	case errors.Is(err, stream.ErrDisconnected):
		l.Info("client disconnected")
	default:
		l.Warn("race ended with error", log.ErrorField(err))
	}
}

func (s *Server) raceSetupFailed(w http.ResponseWriter, err error) {
	if errors.Is(err, racectx.ErrInvalidClientID) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.log.Error("could not create race", log.ErrorField(err))
	writeError(w, http.StatusInternalServerError, err)
}

func (s *Server) simulateRaceSSE(w http.ResponseWriter, r *http.Request) {
	params, err := s.parseRaceParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	client := clientID(w, r)
	race, err := s.newRace(r.Context(), client)
	if err != nil {
		s.raceSetupFailed(w, err)
		return
	}
	w.Header().Set("X-Race-Id", race.ID)
	sink, err := newSSESink(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.log.Info("race requested",
		log.String("client", client), log.String("race", race.ID),
		log.String("transport", "sse"))
	s.runRace(r.Context(), race, params, sink)
}

func (s *Server) simulateRaceWebsocket(w http.ResponseWriter, r *http.Request) {
	params, err := s.parseRaceParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	client := clientID(w, r)
	race, err := s.newRace(r.Context(), client)
	if err != nil {
		s.raceSetupFailed(w, err)
		return
	}
	respHeader := http.Header{"X-Race-Id": []string{race.ID}}
	if cookies := w.Header().Values("Set-Cookie"); len(cookies) > 0 {
		respHeader["Set-Cookie"] = cookies
	}
	conn, err := upgrader.Upgrade(w, r, respHeader)
	if err != nil {
		// the upgrader already replied to the client
		s.log.Warn("websocket upgrade failed", log.ErrorField(err))
		return
	}
	s.log.Info("race requested",
		log.String("client", client), log.String("race", race.ID),
		log.String("transport", "websocket"))

	// the request context is not cancelled for hijacked connections
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	go readPump(conn, cancel)

	sink := &wsSink{conn: conn}
	s.runRace(ctx, race, params, sink)
	sink.close(s.log)
}
