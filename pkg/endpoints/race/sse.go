package race

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mpapenbr/lapsim-service-go/pkg/race/stream"
)

var errStreamingUnsupported = errors.New("streaming unsupported")

// sseSink writes messages as server-sent events. The event name is the
// message type, the id a sequence number.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	seq     int
}

func newSSESink(w http.ResponseWriter) (*sseSink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errStreamingUnsupported
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseSink{w: w, flusher: flusher}, nil
}

func (s *sseSink) Send(_ context.Context, msg stream.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.write(string(msg.Type()), data)
}

func (s *sseSink) write(event string, data []byte) error {
	s.seq++
	if _, err := fmt.Fprintf(s.w, "id: %d\nevent: %s\ndata: %s\n\n",
		s.seq, event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
