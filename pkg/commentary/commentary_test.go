//nolint:funlen // ok for tests
package commentary

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/lapsim-service-go/pkg/model"
)

var (
	verstappen = model.Driver{Name: "Max Verstappen", Team: "Red Bull"}
	norris     = model.Driver{Name: "Lando Norris", Team: "McLaren"}
	piastri    = model.Driver{Name: "Oscar Piastri", Team: "McLaren"}
	russell    = model.Driver{Name: "George Russell", Team: "Mercedes"}
)

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt(Situation{
		Lap:         3,
		TotalLaps:   10,
		Top:         []model.Driver{norris, verstappen, russell},
		PreviousTop: []model.Driver{verstappen, norris, piastri},
		Raining:     true,
		SafetyCar:   true,
		Events:      []string{"Weather change: dry -> rain"},
	})
	assert.Contains(t, prompt, "lap 3 of 10")
	assert.Contains(t, prompt, "P1 Lando Norris (McLaren), P2 Max Verstappen (Red Bull)")
	assert.Contains(t, prompt, "Weather: rain.")
	assert.Contains(t, prompt, "safety car is on track")
	assert.Contains(t, prompt, "Lando Norris gained 1 place(s) to P1.")
	assert.Contains(t, prompt, "Max Verstappen lost 1 place(s) to P2.")
	assert.Contains(t, prompt, "George Russell moved into P3.")
	assert.Contains(t, prompt, "Events this lap: Weather change: dry -> rain")
}

func TestBuildPrompt_FirstLap(t *testing.T) {
	prompt := BuildPrompt(Situation{Lap: 1, TotalLaps: 5, Top: []model.Driver{verstappen}})
	assert.Contains(t, prompt, "Weather: dry.")
	assert.NotContains(t, prompt, "gained")
	assert.NotContains(t, prompt, "safety car")
}

func TestOpenRouter_Chat(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "https://example.org", r.Header.Get("HTTP-Referer"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":" Lights out! "}}]}`))
	}))
	defer srv.Close()

	o, err := NewOpenRouter(WithOpenRouterURL(srv.URL), WithAPIKey("secret"),
		WithReferer("https://example.org"))
	require.NoError(t, err)
	reply, err := o.Chat(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "Lights out!", reply)
	assert.Equal(t, DefaultOpenRouterModel, got.Model)
	assert.Equal(t, []chatMessage{{Role: "user", Content: "hello"}}, got.Messages)
}

func TestOpenRouter_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{
			name: "api error", status: http.StatusUnauthorized,
			body: `{"error":{"message":"No auth credentials found","code":401}}`, wantErr: "No auth credentials found",
		},
		{name: "plain error", status: http.StatusBadGateway, body: "upstream down", wantErr: "upstream down"},
		{name: "no choices", status: http.StatusOK, body: `{"choices":[]}`, wantErr: ErrEmptyReply.Error()},
		{name: "invalid json", status: http.StatusOK, body: `{`, wantErr: "openrouter response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()
			o, err := NewOpenRouter(WithOpenRouterURL(srv.URL), WithAPIKey("k"))
			require.NoError(t, err)
			_, err = o.Chat(context.Background(), "x")
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestNewOpenRouter_MissingKey(t *testing.T) {
	_, err := NewOpenRouter()
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestWikipedia_Fact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/page/summary/Max_Verstappen":
			_, _ = w.Write([]byte(`{"type":"standard","extract":"Max Emilian Verstappen is a Dutch and Belgian racing driver. He won the title."}`))
		case "/page/summary/Zhou":
			_, _ = w.Write([]byte(`{"type":"disambiguation","extract":"Zhou may refer to:"}`))
		case "/page/summary/Broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	w := NewWikipedia(WithWikipediaURL(srv.URL + "/"))

	fact, err := w.Fact(context.Background(), "Max Verstappen")
	require.NoError(t, err)
	assert.Equal(t, "Max Emilian Verstappen is a Dutch and Belgian racing driver.", fact)

	_, err = w.Fact(context.Background(), "Nobody Known")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = w.Fact(context.Background(), "Zhou")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = w.Fact(context.Background(), "Broken")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

type stubNarrator struct {
	delay time.Duration
	text  string
	err   error
}

func (s *stubNarrator) Narrate(ctx context.Context, _ Situation) (string, error) {
	return s.reply(ctx)
}

func (s *stubNarrator) Chat(ctx context.Context, _ string) (string, error) {
	return s.reply(ctx)
}

func (s *stubNarrator) Fact(ctx context.Context, _ string) (string, error) {
	return s.reply(ctx)
}

func (s *stubNarrator) reply(ctx context.Context) (string, error) {
	select {
	case <-time.After(s.delay):
		return s.text, s.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestBounded(t *testing.T) {
	errBoom := errors.New("boom")
	tests := []struct {
		name        string
		stub        *stubNarrator
		strict      bool
		wantNarrate string
		wantFact    string
		wantErr     error
		wantFactErr error
	}{
		{
			name: "success", stub: &stubNarrator{text: "ok"},
			wantNarrate: "ok", wantFact: "ok",
		},
		{
			name: "timeout uses placeholder", stub: &stubNarrator{delay: time.Second},
			wantNarrate: PlaceholderCommentary, wantFact: PlaceholderFact,
		},
		{
			name: "error uses placeholder", stub: &stubNarrator{err: errBoom},
			wantNarrate: PlaceholderCommentary, wantFact: PlaceholderFact,
		},
		{
			name: "strict timeout", stub: &stubNarrator{delay: time.Second}, strict: true,
			wantErr: context.DeadlineExceeded, wantFactErr: context.DeadlineExceeded,
		},
		{
			name: "strict error", stub: &stubNarrator{err: errBoom}, strict: true,
			wantErr: errBoom, wantFactErr: errBoom,
		},
		{
			name: "not found is kept", stub: &stubNarrator{err: ErrNotFound},
			wantNarrate: PlaceholderCommentary, wantFactErr: ErrNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBounded(WithNarrator(tt.stub), WithFactLookup(tt.stub),
				WithTimeout(20*time.Millisecond), WithStrict(tt.strict))

			text, err := b.Narrate(context.Background(), Situation{Lap: 1})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.wantNarrate, text)
			}

			fact, err := b.Fact(context.Background(), "Max Verstappen")
			if tt.wantFactErr != nil {
				assert.ErrorIs(t, err, tt.wantFactErr)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.wantFact, fact)
			}
		})
	}
}

func TestBounded_ChatPassesErrors(t *testing.T) {
	b := NewBounded()
	_, err := b.Chat(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrNotConfigured)

	b = NewBounded(WithNarrator(&stubNarrator{text: "hello"}))
	reply, err := b.Chat(context.Background(), "hi")
	assert.NoError(t, err)
	assert.Equal(t, "hello", reply)
}

func TestBounded_CancelledContextIsNotReplaced(t *testing.T) {
	stub := &stubNarrator{delay: time.Second}
	b := NewBounded(WithNarrator(stub), WithFactLookup(stub))
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	text, err := b.Narrate(ctx, Situation{Lap: 1})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, text)

	fact, err := b.Fact(ctx, "Max Verstappen")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, fact)
}

type countingFacts struct {
	calls int
	err   error
}

func (c *countingFacts) Fact(_ context.Context, driver string) (string, error) {
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	if driver == "Nobody" {
		return "", ErrNotFound
	}
	return driver + " is a racing driver.", nil
}

func TestCachedFacts(t *testing.T) {
	next := &countingFacts{}
	c := NewCachedFacts(next, time.Minute)
	ctx := context.Background()

	for range 3 {
		fact, err := c.Fact(ctx, "Lando Norris")
		assert.NoError(t, err)
		assert.Equal(t, "Lando Norris is a racing driver.", fact)
	}
	for range 2 {
		_, err := c.Fact(ctx, "Nobody")
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.Equal(t, 2, next.calls)

	failing := &countingFacts{err: errors.New("unavailable")}
	c = NewCachedFacts(failing, time.Minute)
	_, err := c.Fact(ctx, "Lando Norris")
	assert.Error(t, err)
	_, err = c.Fact(ctx, "Lando Norris")
	assert.Error(t, err)
	assert.Equal(t, 2, failing.calls)
}
