package commentary

import (
	"context"
	"errors"
	"time"

	"github.com/mpapenbr/lapsim-service-go/log"
	"github.com/mpapenbr/lapsim-service-go/pkg/utils/cache"
	"github.com/mpapenbr/lapsim-service-go/pkg/utils/cache/loadercache"
)

type (
	// CachedFacts remembers lookups (including "not found") for a while.
	// Failed lookups are not cached.
	CachedFacts struct {
		cache cache.Cache[string, factEntry]
	}
	factEntry struct {
		text  string
		found bool
	}
)

var _ FactLookup = (*CachedFacts)(nil)

func NewCachedFacts(next FactLookup, expiration time.Duration) *CachedFacts {
	return &CachedFacts{
		cache: loadercache.New(
			loadercache.WithExpiration[string, factEntry](expiration),
			loadercache.WithLogger[string, factEntry](
				log.Default().Named("commentary.factcache")),
			loadercache.WithLoader[string, factEntry](
				func(ctx context.Context, driver string) (*factEntry, error) {
					text, err := next.Fact(ctx, driver)
					switch {
					case err == nil:
						return &factEntry{text: text, found: true}, nil
					case errors.Is(err, ErrNotFound):
						return &factEntry{}, nil
					default:
						return nil, err
					}
				}),
		),
	}
}

func (c *CachedFacts) Fact(ctx context.Context, driver string) (string, error) {
	entry, err := c.cache.Get(ctx, driver)
	if err != nil {
		return "", err
	}
	if !entry.found {
		return "", ErrNotFound
	}
	return entry.text, nil
}
