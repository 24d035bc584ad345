package racectx

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/mpapenbr/lapsim-service-go/log"
	"github.com/mpapenbr/lapsim-service-go/pkg/utils"
)

const (
	natsBucket        = "lapsim_race_context"
	maxUpdateAttempts = 10
)

type (
	// natsStore keeps race contexts in a JetStream key/value bucket so
	// several service instances see the same client settings.
	natsStore struct {
		cfg *config
		kv  jetstream.KeyValue
		log *log.Logger
	}
)

var _ Store = (*natsStore)(nil)

func newNATSStore(cfg *config) (*natsStore, error) {
	if cfg.nc == nil {
		return nil, ErrMissingNATS
	}
	ret := &natsStore{
		cfg: cfg,
		log: log.Default().Named("racectx.nats"),
	}
	ret.log.Debug("Initializing NATS storage for race contexts")
	if err := ret.init(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *natsStore) init() error {
	js, err := jetstream.New(s.cfg.nc)
	if err != nil {
		return err
	}
	s.kv, err = js.CreateOrUpdateKeyValue(context.Background(),
		jetstream.KeyValueConfig{
			Bucket: natsBucket,
			TTL:    s.cfg.ttl,
		})
	return err
}

func (s *natsStore) Get(ctx context.Context, clientID string) (*RaceContext, error) {
	if err := validateClientID(clientID); err != nil {
		return nil, err
	}
	kve, err := s.kv.Get(ctx, s.composeKey(clientID))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) ||
			errors.Is(err, jetstream.ErrKeyDeleted) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var rc RaceContext
	if err := json.Unmarshal(kve.Value(), &rc); err != nil {
		return nil, err
	}
	return &rc, nil
}

// SetWeather writes with the revision read before. A concurrent change by
// another instance makes the write fail and the update is retried on the
// fresh value, so every change gets its own revision.
//
//nolint:whitespace // can't make both editor and linter happy
func (s *natsStore) SetWeather(
	ctx context.Context, clientID string, raining bool,
) (*RaceContext, error) {
	if err := validateClientID(clientID); err != nil {
		return nil, err
	}
	key := s.composeKey(clientID)
	for attempt := 1; ; attempt++ {
		rc, err := s.tryUpdate(ctx, key, clientID, raining)
		if err == nil {
			s.log.Debug("stored race context",
				log.String("client", clientID), log.Uint64("revision", rc.Revision))
			return rc, nil
		}
		if !isConflict(err) || attempt == maxUpdateAttempts {
			return nil, err
		}
		s.log.Debug("concurrent update, retrying",
			log.String("client", clientID), log.Int("attempt", attempt))
	}
}

//nolint:whitespace // can't make both editor and linter happy
func (s *natsStore) tryUpdate(
	ctx context.Context, key, clientID string, raining bool,
) (*RaceContext, error) {
	rc := &RaceContext{ClientID: clientID}
	kve, err := s.kv.Get(ctx, key)
	switch {
	case err == nil:
		if err := json.Unmarshal(kve.Value(), rc); err != nil {
			return nil, err
		}
	case errors.Is(err, jetstream.ErrKeyNotFound), errors.Is(err, jetstream.ErrKeyDeleted):
		kve = nil
	default:
		return nil, err
	}
	rc.Raining = raining
	rc.Revision++
	rc.UpdatedAt = s.cfg.now()
	data, err := json.Marshal(rc)
	if err != nil {
		return nil, err
	}
	if kve == nil {
		_, err = s.kv.Create(ctx, key, data)
	} else {
		_, err = s.kv.Update(ctx, key, data, kve.Revision())
	}
	if err != nil {
		return nil, err
	}
	return rc, nil
}

func isConflict(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) &&
		apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

// keys in a kv bucket may not contain every character a client id may carry
func (s *natsStore) composeKey(clientID string) string {
	return "client." + utils.HashClientID(clientID)
}
