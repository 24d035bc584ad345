package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mpapenbr/lapsim-service-go/log"
	"github.com/mpapenbr/lapsim-service-go/pkg/commentary"
	"github.com/mpapenbr/lapsim-service-go/pkg/config"
	"github.com/mpapenbr/lapsim-service-go/pkg/endpoints/race"
	"github.com/mpapenbr/lapsim-service-go/pkg/model"
	"github.com/mpapenbr/lapsim-service-go/pkg/race/feed"
	"github.com/mpapenbr/lapsim-service-go/pkg/race/sim"
	"github.com/mpapenbr/lapsim-service-go/pkg/racectx"
)

const (
	commentaryNone       = "none"
	commentaryOpenRouter = "openrouter"
	factCacheExpiration  = time.Hour
)

var ErrInvalidConfig = errors.New("invalid configuration")

// setupRaceServer validates the configuration and creates the race
// endpoints with all their collaborators.
func setupRaceServer(cfg *config.Config, nc *nats.Conn) (*race.Server, error) {
	roster, err := loadRoster()
	if err != nil {
		return nil, err
	}
	rules, err := buildRules(cfg, roster.Size())
	if err != nil {
		return nil, err
	}
	if cfg.Laps < 1 || cfg.Laps > race.MaxLaps {
		return nil, fmt.Errorf("%w: laps must be within 1..%d", ErrInvalidConfig, race.MaxLaps)
	}
	if cfg.LapInterval < 0 {
		return nil, fmt.Errorf("%w: negative lap interval", ErrInvalidConfig)
	}
	bounded, hasFacts, err := buildCommentary(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.ContextTTL < 0 {
		return nil, fmt.Errorf("%w: negative context ttl", ErrInvalidConfig)
	}
	store, err := racectx.NewStore(racectx.StoreType(config.ContextStore),
		racectx.WithNATS(nc), racectx.WithTTL(cfg.ContextTTL))
	if err != nil {
		return nil, err
	}

	opts := []race.Option{
		race.WithRoster(roster),
		race.WithRules(rules),
		race.WithStore(store),
		race.WithNarrator(bounded),
		race.WithSeed(cfg.Seed),
		race.WithLaps(cfg.Laps),
		race.WithLapInterval(cfg.LapInterval),
		race.WithAccelerated(cfg.Accelerated),
		race.WithCountdown(cfg.Countdown),
	}
	if hasFacts {
		opts = append(opts, race.WithFactLookup(bounded))
	}
	if nc != nil && config.NatsSubject != "" {
		f, err := feed.New(nc, feed.WithSubject(config.NatsSubject))
		if err != nil {
			return nil, err
		}
		log.Info("publishing races", log.String("subject", config.NatsSubject))
		opts = append(opts, race.WithFeed(f))
	}
	return race.NewServer(opts...), nil
}

func loadRoster() (*model.Roster, error) {
	if config.RosterFile == "" {
		return model.DefaultRoster(), nil
	}
	roster, err := model.LoadRoster(config.RosterFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	log.Info("using custom roster",
		log.String("file", config.RosterFile), log.Int("drivers", roster.Size()))
	return roster, nil
}

func buildRules(cfg *config.Config, fieldSize int) (sim.Rules, error) {
	pitScan, err := sim.ParsePitScan(cfg.PitScan)
	if err != nil {
		return sim.Rules{}, err
	}
	rules := sim.DefaultRules()
	rules.WeatherToggle = cfg.WeatherProb
	rules.SafetyCarDeploy = cfg.SafetyDeployProb
	rules.SafetyCarReturn = cfg.SafetyReturnProb
	rules.PositionChange = cfg.SwapProb
	rules.PitStop = cfg.PitProb
	rules.SwapWindow = cfg.SwapWindow
	rules.PitScan = pitScan
	if err := rules.Validate(fieldSize); err != nil {
		return sim.Rules{}, err
	}
	return rules, nil
}

// buildCommentary returns the bounded collaborator used for narration,
// chat and facts. hasFacts is false if fact lookups are disabled.
//
//nolint:whitespace // can't make both editor and linter happy
func buildCommentary(cfg *config.Config) (
	bounded *commentary.Bounded, hasFacts bool, err error,
) {
	timeout, err := time.ParseDuration(config.CommentaryTimeout)
	if err != nil || timeout <= 0 {
		return nil, false, fmt.Errorf("%w: commentary-timeout %q",
			ErrInvalidConfig, config.CommentaryTimeout)
	}
	opts := []commentary.BoundedOption{
		commentary.WithTimeout(timeout),
		commentary.WithStrict(cfg.CommentaryStrict),
	}

	switch config.CommentaryType {
	case commentaryNone, "":
	case commentaryOpenRouter:
		n, err := commentary.NewOpenRouter(
			commentary.WithOpenRouterURL(config.OpenRouterURL),
			commentary.WithAPIKey(config.OpenRouterKey),
			commentary.WithModel(config.OpenRouterModel),
			commentary.WithReferer(config.OpenRouterReferer))
		if err != nil {
			return nil, false, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		opts = append(opts, commentary.WithNarrator(n))
	default:
		return nil, false, fmt.Errorf("%w: unknown commentary %q",
			ErrInvalidConfig, config.CommentaryType)
	}

	if config.WikipediaURL != "" {
		facts := commentary.NewCachedFacts(
			commentary.NewWikipedia(commentary.WithWikipediaURL(config.WikipediaURL)),
			factCacheExpiration)
		opts = append(opts, commentary.WithFactLookup(facts))
		hasFacts = true
	}
	return commentary.NewBounded(opts...), hasFacts, nil
}
