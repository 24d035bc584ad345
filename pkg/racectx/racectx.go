// Package racectx keeps the settings a client made for its races.
// Nothing in here is shared between clients.
package racectx

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound        = errors.New("race context not found")
	ErrUnknownStore    = errors.New("unknown race context store")
	ErrMissingNATS     = errors.New("nats connection required")
	ErrInvalidClientID = errors.New("invalid client id")
)

type (
	RaceContext struct {
		ClientID  string    `json:"clientId"`
		Raining   bool      `json:"raining"`
		Revision  uint64    `json:"revision"` // incremented on every change
		UpdatedAt time.Time `json:"updatedAt"`
	}

	Store interface {
		// Get returns the context for clientID or ErrNotFound
		Get(ctx context.Context, clientID string) (*RaceContext, error)
		SetWeather(ctx context.Context, clientID string, raining bool) (*RaceContext, error)
	}

	StoreType string
)

const (
	StoreTypeInMemory StoreType = "inmemory"
	StoreTypeNATS     StoreType = "nats"
)

// GetOrDefault returns the stored context or a dry default one.
//
//nolint:whitespace // can't make both editor and linter happy
func GetOrDefault(
	ctx context.Context, s Store, clientID string,
) (*RaceContext, error) {
	rc, err := s.Get(ctx, clientID)
	if errors.Is(err, ErrNotFound) {
		return &RaceContext{ClientID: clientID}, nil
	}
	return rc, err
}

func validateClientID(id string) error {
	if id == "" || len(id) > 128 {
		return fmt.Errorf("%w: %q", ErrInvalidClientID, id)
	}
	return nil
}
