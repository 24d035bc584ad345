package commentary

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"

	"github.com/mpapenbr/lapsim-service-go/log"
)

const (
	DefaultOpenRouterURL   = "https://openrouter.ai/api/v1/chat/completions"
	DefaultOpenRouterModel = "anthropic/claude-3-haiku"
)

var (
	ErrMissingAPIKey = errors.New("openrouter api key not set")
	ErrEmptyReply    = errors.New("empty reply from chat model")

	replyPath = jp.MustParseString("$.choices[0].message.content")
	errorPath = jp.MustParseString("$.error.message")
)

type (
	OpenRouter struct {
		url     string
		apiKey  string
		model   string
		referer string
		client  *http.Client
		log     *log.Logger
	}
	OpenRouterOption func(*OpenRouter)

	chatMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	chatRequest struct {
		Model    string        `json:"model"`
		Messages []chatMessage `json:"messages"`
	}
)

var _ Narrator = (*OpenRouter)(nil)

func WithOpenRouterURL(url string) OpenRouterOption {
	return func(o *OpenRouter) {
		o.url = url
	}
}

func WithAPIKey(key string) OpenRouterOption {
	return func(o *OpenRouter) {
		o.apiKey = key
	}
}

func WithModel(model string) OpenRouterOption {
	return func(o *OpenRouter) {
		o.model = model
	}
}

func WithReferer(referer string) OpenRouterOption {
	return func(o *OpenRouter) {
		o.referer = referer
	}
}

func WithOpenRouterHTTPClient(c *http.Client) OpenRouterOption {
	return func(o *OpenRouter) {
		o.client = c
	}
}

// NewOpenRouter creates a narrator backed by the OpenRouter chat completions
// api. A missing api key is a configuration error.
func NewOpenRouter(opts ...OpenRouterOption) (*OpenRouter, error) {
	ret := &OpenRouter{
		url:    DefaultOpenRouterURL,
		model:  DefaultOpenRouterModel,
		client: http.DefaultClient,
		log:    log.Default().Named("commentary.openrouter"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	if ret.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	return ret, nil
}

func (o *OpenRouter) Narrate(ctx context.Context, s Situation) (string, error) {
	return o.Chat(ctx, BuildPrompt(s))
}

//nolint:funlen // by design
func (o *OpenRouter) Chat(ctx context.Context, message string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:    o.model,
		Messages: []chatMessage{{Role: "user", Content: message}},
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url,
		bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if o.referer != "" {
		req.Header.Set("HTTP-Referer", o.referer)
	}
	o.log.Debug("sending chat request",
		log.String("model", o.model), log.Int("promptLen", len(message)))

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("openrouter request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("openrouter response: %w", err)
	}
	o.log.Debug("got chat response", log.Int("status", resp.StatusCode))

	obj, parseErr := oj.Parse(body)
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		if parseErr == nil {
			if m, ok := errorPath.First(obj).(string); ok {
				msg = m
			}
		}
		return "", fmt.Errorf("openrouter status %d: %s", resp.StatusCode, msg)
	}
	if parseErr != nil {
		return "", fmt.Errorf("openrouter response: %w", parseErr)
	}
	reply, ok := replyPath.First(obj).(string)
	if !ok || strings.TrimSpace(reply) == "" {
		return "", ErrEmptyReply
	}
	return strings.TrimSpace(reply), nil
}
