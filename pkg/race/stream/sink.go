package stream

import (
	"context"

	"github.com/mpapenbr/lapsim-service-go/log"
)

// Sink accepts the messages of exactly one race.
type Sink interface {
	Send(ctx context.Context, msg Message) error
}

type SinkFunc func(ctx context.Context, msg Message) error

func (f SinkFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

type teeSink struct {
	primary   Sink
	secondary []Sink
	log       *log.Logger
}

// Tee forwards every message to primary and to each secondary sink.
// Only errors of primary are returned, the others are logged.
func Tee(primary Sink, secondary ...Sink) Sink {
	if len(secondary) == 0 {
		return primary
	}
	return &teeSink{
		primary:   primary,
		secondary: secondary,
		log:       log.Default().Named("race.stream.tee"),
	}
}

func (t *teeSink) Send(ctx context.Context, msg Message) error {
	if err := t.primary.Send(ctx, msg); err != nil {
		return err
	}
	for _, s := range t.secondary {
		if err := s.Send(ctx, msg); err != nil {
			t.log.Warn("secondary sink failed",
				log.String("type", string(msg.Type())), log.ErrorField(err))
		}
	}
	return nil
}
