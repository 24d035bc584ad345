package commentary

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"

	"github.com/mpapenbr/lapsim-service-go/log"
)

const DefaultWikipediaURL = "https://en.wikipedia.org/api/rest_v1"

var (
	extractPath = jp.MustParseString("$.extract")
	typePath    = jp.MustParseString("$.type")
)

type (
	Wikipedia struct {
		baseURL string
		client  *http.Client
		log     *log.Logger
	}
	WikipediaOption func(*Wikipedia)
)

var _ FactLookup = (*Wikipedia)(nil)

func WithWikipediaURL(u string) WikipediaOption {
	return func(w *Wikipedia) {
		w.baseURL = strings.TrimSuffix(u, "/")
	}
}

func WithWikipediaHTTPClient(c *http.Client) WikipediaOption {
	return func(w *Wikipedia) {
		w.client = c
	}
}

func NewWikipedia(opts ...WikipediaOption) *Wikipedia {
	ret := &Wikipedia{
		baseURL: DefaultWikipediaURL,
		client:  http.DefaultClient,
		log:     log.Default().Named("commentary.wikipedia"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Fact returns the first sentence of the page summary for driver
func (w *Wikipedia) Fact(ctx context.Context, driver string) (string, error) {
	title := url.PathEscape(strings.ReplaceAll(strings.TrimSpace(driver), " ", "_"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/page/summary/%s", w.baseURL, title), http.NoBody)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "lapsim/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("wikipedia request: %w", err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%w: %s", ErrNotFound, driver)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("wikipedia status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	obj, err := oj.Parse(body)
	if err != nil {
		return "", fmt.Errorf("wikipedia response: %w", err)
	}
	if t, _ := typePath.First(obj).(string); t == "disambiguation" {
		return "", fmt.Errorf("%w: %s is ambiguous", ErrNotFound, driver)
	}
	extract, _ := extractPath.First(obj).(string)
	if extract == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, driver)
	}
	w.log.Debug("got summary", log.String("driver", driver), log.Int("len", len(extract)))
	return firstSentence(extract), nil
}

func firstSentence(s string) string {
	if idx := strings.Index(s, ". "); idx > 0 {
		return s[:idx+1]
	}
	return strings.TrimSpace(s)
}
