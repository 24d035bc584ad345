package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // by design
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"connectrpc.com/grpchealth"
	"github.com/nats-io/nats.go"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
	otlpruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mpapenbr/lapsim-service-go/log"
	"github.com/mpapenbr/lapsim-service-go/pkg/commentary"
	"github.com/mpapenbr/lapsim-service-go/pkg/config"
	"github.com/mpapenbr/lapsim-service-go/pkg/race/feed"
	"github.com/mpapenbr/lapsim-service-go/pkg/race/sim"
	"github.com/mpapenbr/lapsim-service-go/pkg/race/stream"
	"github.com/mpapenbr/lapsim-service-go/pkg/racectx"
	"github.com/mpapenbr/lapsim-service-go/pkg/utils"
)

var appConfig config.Config // holds processed config values

//nolint:funlen // by design
func NewServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "starts the race simulation server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return startServer(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&config.Addr,
		"addr",
		"a",
		"localhost:8080",
		"http server listen address")

	cmd.Flags().StringVar(&config.LogLevel,
		"log-level",
		"info",
		"controls the log level (debug, info, warn, error, fatal)")
	cmd.Flags().StringVar(&config.LogFormat,
		"log-format",
		"json",
		"controls the log output format (json, text)")
	cmd.Flags().StringVar(&config.LogFilter,
		"log-filter",
		"",
		"zapfilter rules, e.g. \"debug:race.* info:*\"")
	cmd.Flags().BoolVar(&config.EnableTelemetry,
		"enable-telemetry",
		false,
		"enables telemetry")
	cmd.Flags().StringVar(&config.TelemetryEndpoint,
		"telemetry-endpoint",
		"localhost:4317",
		"Endpoint that receives open telemetry data (stdout for console output)")
	cmd.Flags().IntVar(&config.ProfilingPort,
		"profiling-port",
		0,
		"port to use for providing profiling data")

	// race settings
	cmd.Flags().IntVar(&appConfig.Laps,
		"laps",
		stream.DefaultLaps,
		"default number of laps per race")
	cmd.Flags().DurationVar(&appConfig.LapInterval,
		"lap-interval",
		stream.DefaultLapInterval,
		"wall clock time between two laps")
	cmd.Flags().BoolVar(&appConfig.Accelerated,
		"accelerated",
		false,
		"use a lap interval of one second by default")
	cmd.Flags().BoolVar(&appConfig.Countdown,
		"countdown",
		false,
		"send a countdown message every second while waiting for the next lap")
	cmd.Flags().Uint64Var(&appConfig.Seed,
		"seed",
		0,
		"random seed for reproducible races (0 = random)")

	// simulation rules
	defaults := sim.DefaultRules()
	cmd.Flags().IntVar(&appConfig.SwapWindow,
		"swap-window",
		defaults.SwapWindow,
		"positions considered for overtakes (0 = whole field)")
	cmd.Flags().StringVar(&appConfig.PitScan,
		"pit-scan",
		string(defaults.PitScan),
		"pit stop evaluation (live, snapshot)")
	cmd.Flags().Float64Var(&appConfig.WeatherProb,
		"weather-prob",
		defaults.WeatherToggle,
		"probability of a weather change per lap")
	cmd.Flags().Float64Var(&appConfig.SafetyDeployProb,
		"safety-deploy-prob",
		defaults.SafetyCarDeploy,
		"probability of a safety car deployment per lap")
	cmd.Flags().Float64Var(&appConfig.SafetyReturnProb,
		"safety-return-prob",
		defaults.SafetyCarReturn,
		"probability of the safety car returning to the pits per lap")
	cmd.Flags().Float64Var(&appConfig.SwapProb,
		"swap-prob",
		defaults.PositionChange,
		"probability of a position change per lap")
	cmd.Flags().Float64Var(&appConfig.PitProb,
		"pit-prob",
		defaults.PitStop,
		"probability of a pit stop per driver and lap")
	cmd.Flags().StringVar(&config.RosterFile,
		"roster-file",
		"",
		"yaml file with the drivers (default: built-in roster)")

	// collaborators
	cmd.Flags().StringVar(&config.CommentaryType,
		"commentary",
		commentaryNone,
		"commentary provider (none, openrouter)")
	cmd.Flags().StringVar(&config.OpenRouterURL,
		"openrouter-url",
		commentary.DefaultOpenRouterURL,
		"OpenRouter chat completions endpoint")
	cmd.Flags().StringVar(&config.OpenRouterKey,
		"openrouter-key",
		"",
		"OpenRouter api key")
	cmd.Flags().StringVar(&config.OpenRouterModel,
		"openrouter-model",
		commentary.DefaultOpenRouterModel,
		"model used for commentary and chat")
	cmd.Flags().StringVar(&config.OpenRouterReferer,
		"openrouter-referer",
		"",
		"value of the HTTP-Referer header sent to OpenRouter")
	cmd.Flags().StringVar(&config.WikipediaURL,
		"wikipedia-url",
		commentary.DefaultWikipediaURL,
		"base url of the Wikipedia REST api (empty disables facts)")
	cmd.Flags().StringVar(&config.CommentaryTimeout,
		"commentary-timeout",
		commentary.DefaultTimeout.String(),
		"max duration of a single commentary or fact request")
	cmd.Flags().BoolVar(&appConfig.CommentaryStrict,
		"commentary-strict",
		false,
		"end the race if commentary or fact lookups fail")

	// race context and feed
	cmd.Flags().StringVar(&config.ContextStore,
		"context-store",
		string(racectx.StoreTypeInMemory),
		"where client settings are kept (inmemory, nats)")
	cmd.Flags().DurationVar(&appConfig.ContextTTL,
		"context-ttl",
		racectx.DefaultTTL,
		"how long unchanged client settings are kept (0 keeps them forever)")
	cmd.Flags().StringVar(&config.NatsURL,
		"nats-url",
		"",
		"nats server url (enables the race feed)")
	cmd.Flags().StringVar(&config.NatsSubject,
		"nats-subject",
		feed.DefaultSubject,
		"subject prefix for the race feed")
	return cmd
}

func parseLogLevel(l string, defaultVal log.Level) log.Level {
	level, err := log.ParseLevel(l)
	if err != nil {
		return defaultVal
	}
	return level
}

func setupLogger() (*log.Logger, error) {
	var logger *log.Logger
	switch config.LogFormat {
	case "json":
		logger = log.New(
			os.Stderr,
			parseLogLevel(config.LogLevel, log.InfoLevel),
			log.WithCaller(true),
			log.AddCallerSkip(1))
	default:
		logger = log.DevLogger(
			os.Stderr,
			parseLogLevel(config.LogLevel, log.DebugLevel),
			log.WithCaller(true),
			log.AddCallerSkip(1))
	}
	if config.LogFilter != "" {
		return logger.WithFilter(config.LogFilter)
	}
	return logger, nil
}

//nolint:funlen,cyclop // by design
func startServer(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var telemetry *config.Telemetry
	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("invalid log filter: %w", err)
	}
	log.ResetDefault(logger)

	log.Debug("Config:",
		log.String("addr", config.Addr),
		log.String("commentary", config.CommentaryType),
		log.String("contextStore", config.ContextStore),
		log.String("natsURL", config.NatsURL),
		log.Int("laps", appConfig.Laps),
		log.Duration("lapInterval", appConfig.EffectiveLapInterval()),
	)

	if config.ProfilingPort > 0 {
		log.Info("Starting profiling server on port", log.Int("port", config.ProfilingPort))
		go func() {
			//nolint:gosec // by design
			err := http.ListenAndServe(
				fmt.Sprintf("localhost:%d", config.ProfilingPort),
				nil)
			if err != nil {
				log.Error("Profiling server stopped", log.ErrorField(err))
			}
		}()
	}

	waitForRequiredServices()

	if config.EnableTelemetry {
		log.Info("Enabling telemetry")
		if telemetry, err = config.SetupTelemetry(ctx); err != nil {
			log.Warn("Could not setup telemetry", log.ErrorField(err))
		}
		err = otlpruntime.Start(otlpruntime.WithMinimumReadMemStatsInterval(time.Second))
		if err != nil {
			log.Warn("Could not start runtime metrics", log.ErrorField(err))
		}
	}

	var nc *nats.Conn
	if config.NatsURL != "" {
		if nc, err = nats.Connect(config.NatsURL, nats.Name("lapsim")); err != nil {
			return fmt.Errorf("could not connect to nats: %w", err)
		}
		defer nc.Close()
	}

	raceServer, err := setupRaceServer(&appConfig, nc)
	if err != nil {
		log.Error("server could not be configured", log.ErrorField(err))
		return err
	}
	mux := http.NewServeMux()
	raceServer.Register(mux)
	mux.Handle(grpchealth.NewHandler(grpchealth.NewStaticChecker()))

	log.Info("Starting http server", log.String("addr", config.Addr))
	//nolint:gosec // by design
	server := &http.Server{
		Addr:    config.Addr,
		Handler: h2c.NewHandler(newCORS().Handler(mux), &http2.Server{}),
	}
	errChan := make(chan error, 1)
	go func() {
		errChan <- server.ListenAndServe()
	}()
	log.Info("Server started")
	setupGoRoutinesDump()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case v := <-sigChan:
		log.Debug("Got signal ", log.Any("signal", v))
	case err := <-errChan:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("server could not be started", log.ErrorField(err))
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown incomplete", log.ErrorField(err))
	}
	if telemetry != nil {
		telemetry.Shutdown()
	}
	log.Info("Server terminated")
	return nil
}

func setupGoRoutinesDump() {
	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGQUIT)
		buf := make([]byte, 1<<20)
		for {
			<-sigs
			stacklen := runtime.Stack(buf, true)
			fmt.Printf("=== received SIGQUIT ===\n*** goroutine dump...\n%s\n*** end\n",
				buf[:stacklen])
		}
	}()
}

func waitForRequiredServices() {
	timeout, err := time.ParseDuration(config.WaitForServices)
	if err != nil {
		log.Warn("Invalid duration value. Setting default 60s", log.ErrorField(err))
		timeout = 60 * time.Second
	}

	wg := sync.WaitGroup{}
	checkTCP := func(addr string) {
		defer wg.Done()
		if err := utils.WaitForTCP(addr, timeout); err != nil {
			log.Fatal("required services not ready", log.ErrorField(err))
		}
	}

	if natsAddr := utils.ExtractFromNatsURL(config.NatsURL); natsAddr != "" {
		wg.Add(1)
		go checkTCP(natsAddr)
	}
	log.Debug("Waiting for connection checks to return")
	wg.Wait()
	log.Debug("Required services are available")
}

func newCORS() *cors.Cors {
	// Browsers connect directly to the race stream, so the CORS setup is
	// very permissive.
	return cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowOriginFunc: func(origin string) bool {
			return true
		},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		ExposedHeaders: []string{
			"X-Race-Id",
			"Grpc-Message",
			"Grpc-Status",
		},
		MaxAge: int(2 * time.Hour / time.Second),
	})
}
