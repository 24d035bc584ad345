package commentary

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mpapenbr/lapsim-service-go/log"
)

const DefaultTimeout = 5 * time.Second

type (
	// Bounded limits every collaborator call to a timeout. Unless strict,
	// failed narrations and fact lookups are replaced by a placeholder.
	Bounded struct {
		narrator Narrator
		facts    FactLookup
		timeout  time.Duration
		strict   bool
		tracer   trace.Tracer
		log      *log.Logger
	}
	BoundedOption func(*Bounded)
)

var (
	_ Narrator   = (*Bounded)(nil)
	_ FactLookup = (*Bounded)(nil)
)

func WithNarrator(n Narrator) BoundedOption {
	return func(b *Bounded) {
		b.narrator = n
	}
}

func WithFactLookup(f FactLookup) BoundedOption {
	return func(b *Bounded) {
		b.facts = f
	}
}

func WithTimeout(d time.Duration) BoundedOption {
	return func(b *Bounded) {
		b.timeout = d
	}
}

func WithStrict(strict bool) BoundedOption {
	return func(b *Bounded) {
		b.strict = strict
	}
}

func NewBounded(opts ...BoundedOption) *Bounded {
	ret := &Bounded{
		narrator: Noop{},
		facts:    Noop{},
		timeout:  DefaultTimeout,
		tracer:   otel.Tracer("lapsim.commentary"),
		log:      log.Default().Named("commentary"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Narrate returns the narration of s. A cancelled ctx is reported as is,
// only a failure within the timeout gets the placeholder.
func (b *Bounded) Narrate(parent context.Context, s Situation) (string, error) {
	ctx, cancel := context.WithTimeout(parent, b.timeout)
	defer cancel()
	ctx, span := b.tracer.Start(ctx, "narrate", trace.WithAttributes(
		attribute.Int("lap", s.Lap)))
	defer span.End()

	text, err := b.narrator.Narrate(ctx, s)
	if err == nil {
		return text, nil
	}
	b.recordError(span, err)
	if parent.Err() != nil {
		return "", parent.Err()
	}
	b.log.Warn("narration failed", log.Int("lap", s.Lap), log.ErrorField(err))
	if b.strict {
		return "", fmt.Errorf("narration: %w", err)
	}
	return PlaceholderCommentary, nil
}

// Chat is passed through with the timeout applied. There is no placeholder
// for a direct chat request.
func (b *Bounded) Chat(ctx context.Context, message string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	ctx, span := b.tracer.Start(ctx, "chat")
	defer span.End()

	reply, err := b.narrator.Chat(ctx, message)
	if err != nil {
		b.recordError(span, err)
		return "", err
	}
	return reply, nil
}

// Fact keeps ErrNotFound and a cancelled ctx as result, other errors are
// replaced by a placeholder unless strict.
func (b *Bounded) Fact(parent context.Context, driver string) (string, error) {
	ctx, cancel := context.WithTimeout(parent, b.timeout)
	defer cancel()
	ctx, span := b.tracer.Start(ctx, "fact", trace.WithAttributes(
		attribute.String("driver", driver)))
	defer span.End()

	fact, err := b.facts.Fact(ctx, driver)
	switch {
	case err == nil:
		return fact, nil
	case errors.Is(err, ErrNotFound):
		return "", err
	}
	b.recordError(span, err)
	if parent.Err() != nil {
		return "", parent.Err()
	}
	b.log.Warn("fact lookup failed", log.String("driver", driver), log.ErrorField(err))
	if b.strict {
		return "", fmt.Errorf("fact lookup: %w", err)
	}
	return PlaceholderFact, nil
}

func (b *Bounded) recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
