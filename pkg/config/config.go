package config

import "time"

// this holds the resolved configuration values from CLI
//
//nolint:lll // readablity
var (
	Addr              string // listen addr for the http server
	WaitForServices   string // duration to wait for other services to be ready
	LogLevel          string // sets the log level (zap log level values)
	LogFormat         string // text vs json
	LogFilter         string // zapfilter rules, empty means no filtering
	EnableTelemetry   bool   // enable telemetry
	TelemetryEndpoint string // endpoint for telemetry ("stdout" for console exporters)
	ProfilingPort     int    // port for profiling
	RosterFile        string // optional yaml file with the driver roster
	CommentaryType    string // none or openrouter
	OpenRouterURL     string // chat completions endpoint
	OpenRouterKey     string // api key for openrouter
	OpenRouterModel   string // model requested for narration and chat
	OpenRouterReferer string // value for the HTTP-Referer header
	WikipediaURL      string // base url of the page summary api
	CommentaryTimeout string // max duration for a single collaborator call
	ContextStore      string // inmemory or nats
	NatsURL           string // url of the nats server, empty disables nats
	NatsSubject       string // subject prefix for the lap feed
)

// Config holds the configuration values which are used by the application
type Config struct {
	Laps             int           // laps per race
	LapInterval      time.Duration // wall clock time between two laps
	Accelerated      bool          // if true, LapInterval is replaced by one second
	Countdown        bool          // send a heartbeat message every second while waiting
	Seed             uint64        // random seed, 0 means time based
	SwapWindow       int           // candidate positions for swaps, 0 means all
	PitScan          string        // live or snapshot
	WeatherProb      float64
	SafetyDeployProb float64
	SafetyReturnProb float64
	SwapProb         float64
	PitProb          float64
	CommentaryStrict bool          // if true, collaborator errors end the race
	ContextTTL       time.Duration // how long unchanged client settings are kept
}

// EffectiveLapInterval returns the interval used between laps
func (c *Config) EffectiveLapInterval() time.Duration {
	if c.Accelerated {
		return time.Second
	}
	return c.LapInterval
}
