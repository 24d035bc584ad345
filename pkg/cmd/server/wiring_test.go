package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/lapsim-service-go/pkg/commentary"
	"github.com/mpapenbr/lapsim-service-go/pkg/config"
	"github.com/mpapenbr/lapsim-service-go/pkg/model"
	"github.com/mpapenbr/lapsim-service-go/pkg/race/sim"
	"github.com/mpapenbr/lapsim-service-go/pkg/racectx"
)

func defaultConfig() config.Config {
	d := sim.DefaultRules()
	return config.Config{
		Laps:             10,
		LapInterval:      time.Minute,
		PitScan:          string(d.PitScan),
		WeatherProb:      d.WeatherToggle,
		SafetyDeployProb: d.SafetyCarDeploy,
		SafetyReturnProb: d.SafetyCarReturn,
		SwapProb:         d.PositionChange,
		PitProb:          d.PitStop,
		ContextTTL:       racectx.DefaultTTL,
	}
}

// withGlobals sets the package level config values for the duration of a test
func withGlobals(t *testing.T) {
	t.Helper()
	saved := []string{
		config.CommentaryType, config.CommentaryTimeout, config.OpenRouterKey,
		config.WikipediaURL, config.ContextStore, config.RosterFile,
	}
	t.Cleanup(func() {
		config.CommentaryType = saved[0]
		config.CommentaryTimeout = saved[1]
		config.OpenRouterKey = saved[2]
		config.WikipediaURL = saved[3]
		config.ContextStore = saved[4]
		config.RosterFile = saved[5]
	})
	config.CommentaryType = commentaryNone
	config.CommentaryTimeout = "5s"
	config.OpenRouterKey = ""
	config.WikipediaURL = commentary.DefaultWikipediaURL
	config.ContextStore = string(racectx.StoreTypeInMemory)
	config.RosterFile = ""
}

func TestBuildRules(t *testing.T) {
	cfg := defaultConfig()
	rules, err := buildRules(&cfg, 20)
	require.NoError(t, err)
	assert.Equal(t, sim.DefaultRules(), rules)

	cfg.PitScan = "snapshot"
	cfg.SwapWindow = 3
	rules, err = buildRules(&cfg, 20)
	require.NoError(t, err)
	assert.Equal(t, sim.PitScanSnapshot, rules.PitScan)
	assert.Equal(t, 3, rules.SwapWindow)

	cfg.PitScan = "sometimes"
	_, err = buildRules(&cfg, 20)
	assert.ErrorIs(t, err, sim.ErrInvalidRules)

	cfg = defaultConfig()
	cfg.WeatherProb = 1.5
	_, err = buildRules(&cfg, 20)
	assert.ErrorIs(t, err, sim.ErrInvalidRules)
}

func TestBuildCommentary(t *testing.T) {
	tests := []struct {
		name         string
		setup        func()
		wantErr      bool
		wantHasFacts bool
	}{
		{name: "defaults", wantHasFacts: true},
		{
			name:  "no facts",
			setup: func() { config.WikipediaURL = "" },
		},
		{
			name:    "openrouter without key",
			setup:   func() { config.CommentaryType = commentaryOpenRouter },
			wantErr: true,
		},
		{
			name: "openrouter with key",
			setup: func() {
				config.CommentaryType = commentaryOpenRouter
				config.OpenRouterKey = "secret"
			},
			wantHasFacts: true,
		},
		{
			name:    "unknown provider",
			setup:   func() { config.CommentaryType = "oracle" },
			wantErr: true,
		},
		{
			name:    "invalid timeout",
			setup:   func() { config.CommentaryTimeout = "soon" },
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withGlobals(t)
			if tt.setup != nil {
				tt.setup()
			}
			cfg := defaultConfig()
			b, hasFacts, err := buildCommentary(&cfg)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, b)
			assert.Equal(t, tt.wantHasFacts, hasFacts)
		})
	}
}

func TestSetupRaceServer(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		withGlobals(t)
		cfg := defaultConfig()
		s, err := setupRaceServer(&cfg, nil)
		require.NoError(t, err)
		assert.NotNil(t, s)
	})
	t.Run("nats store without connection", func(t *testing.T) {
		withGlobals(t)
		config.ContextStore = string(racectx.StoreTypeNATS)
		cfg := defaultConfig()
		_, err := setupRaceServer(&cfg, nil)
		assert.ErrorIs(t, err, racectx.ErrMissingNATS)
	})
	t.Run("invalid laps", func(t *testing.T) {
		withGlobals(t)
		cfg := defaultConfig()
		cfg.Laps = 0
		_, err := setupRaceServer(&cfg, nil)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
	t.Run("negative context ttl", func(t *testing.T) {
		withGlobals(t)
		cfg := defaultConfig()
		cfg.ContextTTL = -time.Second
		_, err := setupRaceServer(&cfg, nil)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
	t.Run("roster too small", func(t *testing.T) {
		withGlobals(t)
		file := filepath.Join(t.TempDir(), "roster.yml")
		require.NoError(t, os.WriteFile(file,
			[]byte("- name: A\n- name: B\n- name: C\n"), 0o600))
		config.RosterFile = file
		cfg := defaultConfig()
		_, err := setupRaceServer(&cfg, nil)
		assert.ErrorIs(t, err, ErrInvalidConfig)
		assert.ErrorIs(t, err, model.ErrRosterTooSmall)
	})
}
