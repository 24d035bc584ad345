//nolint:funlen // ok for tests
package race

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/lapsim-service-go/pkg/commentary"
	"github.com/mpapenbr/lapsim-service-go/pkg/model"
	"github.com/mpapenbr/lapsim-service-go/pkg/race/sim"
	"github.com/mpapenbr/lapsim-service-go/pkg/race/stream"
)

type fakeNarrator struct {
	lastChat string
}

func (f *fakeNarrator) Narrate(_ context.Context, s commentary.Situation) (string, error) {
	return "lap " + s.Top[0].Name, nil
}

func (f *fakeNarrator) Chat(_ context.Context, msg string) (string, error) {
	f.lastChat = msg
	return "echo: " + msg, nil
}

type fakeFacts map[string]string

func (f fakeFacts) Fact(_ context.Context, driver string) (string, error) {
	if fact, ok := f[driver]; ok {
		return fact, nil
	}
	return "", commentary.ErrNotFound
}

type sseEvent struct {
	event string
	data  string
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var ret []sseEvent
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.data = strings.TrimPrefix(line, "data: ")
			}
		}
		require.NotEmpty(t, ev.event, "block without event: %q", block)
		ret = append(ret, ev)
	}
	return ret
}

func zeroRules() sim.Rules {
	return sim.Rules{PitMinPosition: 5, PitScan: sim.PitScanLive}
}

func newTestMux(opts ...Option) *http.ServeMux {
	defaults := []Option{
		WithRules(zeroRules()),
		WithLapInterval(0),
		WithSeed(7),
	}
	mux := http.NewServeMux()
	NewServer(append(defaults, opts...)...).Register(mux)
	return mux
}

//nolint:whitespace // can't make both editor and linter happy
func doRequest(
	mux http.Handler, method, target, client string, body []byte,
) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if client != "" {
		req.Header.Set(ClientHeader, client)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHome(t *testing.T) {
	rec := doRequest(newTestMux(), http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "running")

	rec = doRequest(newTestMux(), http.MethodGet, "/unknown", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDrivers(t *testing.T) {
	rec := doRequest(newTestMux(), http.MethodGet, "/drivers", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got []model.Driver
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, model.DefaultRoster().Drivers(), got)
}

func TestFact(t *testing.T) {
	facts := fakeFacts{"Lando Norris": "Lando Norris is a British racing driver."}
	tests := []struct {
		name       string
		opts       []Option
		path       string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "no lookup configured",
			path:       "/drivers/Lando%20Norris/fact",
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "no fact lookup configured",
		},
		{
			name:       "found",
			opts:       []Option{WithFactLookup(facts)},
			path:       "/drivers/Lando%20Norris/fact",
			wantStatus: http.StatusOK,
			wantBody:   "British racing driver",
		},
		{
			name:       "not found",
			opts:       []Option{WithFactLookup(facts)},
			path:       "/drivers/Nobody/fact",
			wantStatus: http.StatusNotFound,
			wantBody:   "error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(newTestMux(tt.opts...), http.MethodGet, tt.path, "", nil)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func TestSetWeather(t *testing.T) {
	mux := newTestMux()

	rec := doRequest(mux, http.MethodPost, "/set_weather?raining=maybe", "c1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(mux, http.MethodPost, "/set_weather?raining=true", "c1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got weatherResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, weatherResponse{ClientID: "c1", Raining: true, Revision: 1}, got)

	rec = doRequest(mux, http.MethodGet, "/set_weather?raining=true", "c1", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSetWeatherAssignsClientCookie(t *testing.T) {
	rec := doRequest(newTestMux(), http.MethodPost, "/set_weather?raining=false", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, ClientCookie, cookies[0].Name)

	var got weatherResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, cookies[0].Value, got.ClientID)
}

func TestChat(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		rec := doRequest(newTestMux(), http.MethodPost, "/chat", "",
			[]byte(`{"message":"hi"}`))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, rec.Body.String(), "error")
	})
	t.Run("reply", func(t *testing.T) {
		n := &fakeNarrator{}
		rec := doRequest(newTestMux(WithNarrator(n)), http.MethodPost, "/chat", "",
			[]byte(`{"message":"who wins?"}`))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"reply":"echo: who wins?"}`, rec.Body.String())
	})
	t.Run("default message", func(t *testing.T) {
		n := &fakeNarrator{}
		rec := doRequest(newTestMux(WithNarrator(n)), http.MethodPost, "/chat", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, defaultChatMessage, n.lastChat)
	})
	t.Run("invalid body", func(t *testing.T) {
		rec := doRequest(newTestMux(), http.MethodPost, "/chat", "", []byte(`{`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestParseRaceParams(t *testing.T) {
	s := NewServer(WithLaps(10), WithLapInterval(time.Minute))
	tests := []struct {
		name    string
		query   string
		want    raceParams
		wantErr bool
	}{
		{name: "defaults", want: raceParams{laps: 10, interval: time.Minute}},
		{name: "laps", query: "laps=5", want: raceParams{laps: 5, interval: time.Minute}},
		{
			name:  "accelerated",
			query: "accelerated=true",
			want:  raceParams{laps: 10, interval: time.Second},
		},
		{name: "laps zero", query: "laps=0", wantErr: true},
		{name: "laps too many", query: "laps=101", wantErr: true},
		{name: "laps no number", query: "laps=x", wantErr: true},
		{name: "accelerated no bool", query: "accelerated=x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/simulate_race?"+tt.query, nil)
			got, err := s.parseRaceParams(req)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidParam)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSimulateRaceSSE(t *testing.T) {
	mux := newTestMux(WithNarrator(&fakeNarrator{}),
		WithFactLookup(fakeFacts{}))

	rec := doRequest(mux, http.MethodGet, "/simulate_race?laps=3", "c1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	raceID := rec.Header().Get("X-Race-Id")
	assert.NotEmpty(t, raceID)

	events := parseSSE(t, rec.Body.String())
	require.Len(t, events, 4)
	var first stream.LapMessage
	for i, ev := range events[:3] {
		assert.Equal(t, "lap", ev.event)
		var lm stream.LapMessage
		require.NoError(t, json.Unmarshal([]byte(ev.data), &lm))
		assert.Equal(t, i+1, lm.Lap)
		assert.Equal(t, raceID, lm.RaceID)
		assert.Equal(t, "lap "+lm.Standings[0].Name, lm.Commentary)
		if i == 0 {
			first = lm
		}
	}
	assert.Equal(t, "finish", events[3].event)
	var finish stream.FinishMessage
	require.NoError(t, json.Unmarshal([]byte(events[3].data), &finish))
	assert.Equal(t, first.Standings[0].Name, finish.Winner.Name)
	assert.Empty(t, finish.Fact)
}

func TestSimulateRaceUsesClientWeather(t *testing.T) {
	mux := newTestMux()
	rec := doRequest(mux, http.MethodPost, "/set_weather?raining=true", "wet", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	for _, tc := range []struct {
		client string
		want   bool
	}{{"wet", true}, {"dry", false}} {
		rec = doRequest(mux, http.MethodGet, "/simulate_race?laps=2", tc.client, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		for _, ev := range parseSSE(t, rec.Body.String()) {
			if ev.event != "lap" {
				continue
			}
			var lm stream.LapMessage
			require.NoError(t, json.Unmarshal([]byte(ev.data), &lm))
			assert.Equal(t, tc.want, lm.Raining, "client %s", tc.client)
		}
	}
}

func TestSimulateRaceInvalidParams(t *testing.T) {
	rec := doRequest(newTestMux(), http.MethodGet, "/simulate_race?laps=-1", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "laps")
}

func TestSimulateRaceInvalidClient(t *testing.T) {
	client := strings.Repeat("x", 129)

	rec := doRequest(newTestMux(), http.MethodGet, "/simulate_race?laps=1", client, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid client id")

	srv := httptest.NewServer(newTestMux())
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/simulate_race?laps=1"
	header := http.Header{ClientHeader: []string{client}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSimulateRaceWebsocket(t *testing.T) {
	srv := httptest.NewServer(newTestMux())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/simulate_race?laps=4"
	header := http.Header{ClientHeader: []string{"ws-client"}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Race-Id"))

	var types []string
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure),
				"unexpected error: %v", err)
			break
		}
		types = append(types, msg["event"].(string))
	}
	assert.Equal(t, []string{"lap", "lap", "lap", "lap", "finish"}, types)
}

func TestWatchWithoutFeed(t *testing.T) {
	rec := doRequest(newTestMux(), http.MethodGet, "/races/abc/watch", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
