package racectx

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const DefaultTTL = 24 * time.Hour

type (
	config struct {
		nc  *nats.Conn
		ttl time.Duration
		now func() time.Time
	}
	Option func(*config)
)

func WithNATS(nc *nats.Conn) Option {
	return func(c *config) {
		c.nc = nc
	}
}

// WithTTL sets how long an unchanged context is kept, 0 keeps contexts
// forever.
func WithTTL(ttl time.Duration) Option {
	return func(c *config) {
		c.ttl = ttl
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}

func NewStore(storeType StoreType, opts ...Option) (Store, error) {
	cfg := &config{ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(cfg)
	}
	switch storeType {
	case StoreTypeInMemory:
		return newInMemoryStore(cfg), nil
	case StoreTypeNATS:
		return newNATSStore(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStore, storeType)
	}
}
