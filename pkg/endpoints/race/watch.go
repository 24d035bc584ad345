package race

import (
	"errors"
	"net/http"

	"github.com/mpapenbr/lapsim-service-go/log"
	"github.com/mpapenbr/lapsim-service-go/pkg/race/feed"
)

// watchRace relays the feed of a race as server-sent events. The stream
// ends with the finish or error message of the race or when the client
// goes away.
func (s *Server) watchRace(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("race feed not configured"))
		return
	}
	raceID := r.PathValue("id")
	envs, err := s.feed.Watch(r.Context(), raceID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, feed.ErrInvalidRaceID) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}
	sink, err := newSSESink(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	l := s.log.With(log.String("race", raceID))
	l.Debug("watcher attached")
	for env := range envs {
		if err := sink.write(string(env.Type), env.Data); err != nil {
			l.Debug("watcher gone", log.ErrorField(err))
			return
		}
		if env.Type.Final() {
			return
		}
	}
}
