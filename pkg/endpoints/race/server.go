// Package race provides the HTTP endpoints of the lap simulator.
package race

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/samber/lo"

	"github.com/mpapenbr/lapsim-service-go/log"
	"github.com/mpapenbr/lapsim-service-go/pkg/commentary"
	"github.com/mpapenbr/lapsim-service-go/pkg/model"
	"github.com/mpapenbr/lapsim-service-go/pkg/race/feed"
	"github.com/mpapenbr/lapsim-service-go/pkg/race/sim"
	"github.com/mpapenbr/lapsim-service-go/pkg/race/stream"
	"github.com/mpapenbr/lapsim-service-go/pkg/racectx"
)

const (
	MaxLaps            = 100
	AcceleratedLapTime = time.Second
	defaultChatMessage = "Hello"
)

type (
	Server struct {
		roster      *model.Roster
		store       racectx.Store
		narrator    commentary.Narrator
		facts       commentary.FactLookup
		feed        *feed.Feed
		rules       sim.Rules
		seed        uint64
		laps        int
		interval    time.Duration
		accelerated bool
		countdown   bool
		log         *log.Logger
	}
	Option func(*Server)

	errorResponse struct {
		Error string `json:"error"`
	}
	factResponse struct {
		Driver string `json:"driver"`
		Fact   string `json:"fact"`
	}
	weatherResponse struct {
		ClientID string `json:"client_id"`
		Raining  bool   `json:"raining"`
		Revision uint64 `json:"revision"`
	}
	chatRequest struct {
		Message string `json:"message"`
	}
	chatResponse struct {
		Reply string `json:"reply"`
	}
)

func WithRoster(r *model.Roster) Option {
	return func(s *Server) {
		s.roster = r
	}
}

func WithStore(store racectx.Store) Option {
	return func(s *Server) {
		s.store = store
	}
}

func WithNarrator(n commentary.Narrator) Option {
	return func(s *Server) {
		s.narrator = n
	}
}

// WithFactLookup enables the fact endpoint and facts about the winner.
func WithFactLookup(f commentary.FactLookup) Option {
	return func(s *Server) {
		s.facts = f
	}
}

// WithFeed publishes every race on NATS and enables the watch endpoint.
func WithFeed(f *feed.Feed) Option {
	return func(s *Server) {
		s.feed = f
	}
}

func WithRules(r sim.Rules) Option {
	return func(s *Server) {
		s.rules = r
	}
}

// WithSeed makes races reproducible. 0 means a new random seed per race.
func WithSeed(seed uint64) Option {
	return func(s *Server) {
		s.seed = seed
	}
}

func WithLaps(laps int) Option {
	return func(s *Server) {
		s.laps = laps
	}
}

func WithLapInterval(d time.Duration) Option {
	return func(s *Server) {
		s.interval = d
	}
}

func WithAccelerated(accelerated bool) Option {
	return func(s *Server) {
		s.accelerated = accelerated
	}
}

func WithCountdown(enabled bool) Option {
	return func(s *Server) {
		s.countdown = enabled
	}
}

func WithLogger(l *log.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

func NewServer(opts ...Option) *Server {
	ret := &Server{
		roster:   model.DefaultRoster(),
		narrator: commentary.Noop{},
		rules:    sim.DefaultRules(),
		laps:     stream.DefaultLaps,
		interval: stream.DefaultLapInterval,
		log:      log.Default().Named("race.endpoints"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	if ret.store == nil {
		// an in-memory store never fails to be created
		ret.store, _ = racectx.NewStore(racectx.StoreTypeInMemory)
	}
	return ret
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.home)
	mux.HandleFunc("GET /drivers", s.drivers)
	mux.HandleFunc("GET /drivers/{name}/fact", s.fact)
	mux.HandleFunc("POST /set_weather", s.setWeather)
	mux.HandleFunc("GET /simulate_race", s.simulateRaceSSE)
	mux.HandleFunc("GET /ws/simulate_race", s.simulateRaceWebsocket)
	mux.HandleFunc("GET /races/{id}/watch", s.watchRace)
	mux.HandleFunc("POST /chat", s.chat)
}

func (s *Server) home(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Lap simulator is running. Use /simulate_race to start a race.\n"))
}

func (s *Server) drivers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.roster.Drivers())
}

func (s *Server) fact(w http.ResponseWriter, r *http.Request) {
	if s.facts == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no fact lookup configured"))
		return
	}
	name := r.PathValue("name")
	if d, ok := s.roster.Lookup(name); ok {
		name = d.Name
	}
	fact, err := s.facts.Fact(r.Context(), name)
	switch {
	case errors.Is(err, commentary.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		s.log.Warn("fact lookup failed", log.String("driver", name), log.ErrorField(err))
		writeError(w, http.StatusBadGateway, err)
	default:
		writeJSON(w, http.StatusOK, factResponse{Driver: name, Fact: fact})
	}
}

func (s *Server) setWeather(w http.ResponseWriter, r *http.Request) {
	raining, err := strconv.ParseBool(r.URL.Query().Get("raining"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("raining must be a boolean"))
		return
	}
	id := clientID(w, r)
	rc, err := s.store.SetWeather(r.Context(), id, raining)
	if err != nil {
		if errors.Is(err, racectx.ErrInvalidClientID) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		s.log.Error("could not store weather", log.ErrorField(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.log.Debug("weather set", log.String("client", id), log.Bool("raining", raining))
	writeJSON(w, http.StatusOK, weatherResponse{
		ClientID: rc.ClientID,
		Raining:  rc.Raining,
		Revision: rc.Revision,
	})
}

func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	msg := lo.Ternary(req.Message == "", defaultChatMessage, req.Message)
	reply, err := s.narrator.Chat(r.Context(), msg)
	if err != nil {
		s.log.Warn("chat failed", log.ErrorField(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Reply: reply})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("could not write response", log.ErrorField(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
