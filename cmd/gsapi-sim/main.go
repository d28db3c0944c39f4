// Command gsapi-sim serves a simulated ground-station API. It predicts
// passes from TLEs with SGP4, keeps them in a plan store, accepts telemetry
// streams and can push periodic test commands to connected stations.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/signalsfoundry/groundlink/internal/gsapi"
	"github.com/signalsfoundry/groundlink/internal/logging"
	"github.com/signalsfoundry/groundlink/internal/observability"
	"github.com/signalsfoundry/groundlink/kb"
	"github.com/signalsfoundry/groundlink/model"
	"github.com/signalsfoundry/groundlink/timectrl"
)

// Config holds the simulator settings.
type Config struct {
	ListenAddress   string
	MetricsAddress  string
	LogLevel        string
	LogFormat       string
	ScenarioPath    string
	TLEPath         string
	Station         model.GroundStation
	MinElevationDeg float64
	Horizon         time.Duration
	Refresh         time.Duration
	Retention       time.Duration
	Tick            time.Duration
	Accelerated     bool
	StartTime       time.Time
	CommandInterval time.Duration
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "gsapi-sim: %v\n", err)
		os.Exit(2)
	}
	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv("gsapi-sim"), log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	lis, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.ListenAddress), logging.Err(err))
		os.Exit(1)
	}
	if err := run(ctx, cfg, log, lis); err != nil {
		log.Error(ctx, "gsapi-sim exited with error", logging.Err(err))
		os.Exit(1)
	}
}

func parseFlags(args []string) (Config, error) {
	var cfg Config
	var start string
	fs := pflag.NewFlagSet("gsapi-sim", pflag.ContinueOnError)
	fs.StringVar(&cfg.ListenAddress, "grpc-addr", ":50051", "TCP address the API gRPC server listens on")
	fs.StringVar(&cfg.MetricsAddress, "metrics-addr", ":9091", "HTTP address for Prometheus /metrics (empty disables)")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", "text", "Log format: text, json, pretty")
	fs.StringVar(&cfg.ScenarioPath, "scenario", "", "YAML scenario listing ground stations and satellites")
	fs.StringVar(&cfg.TLEPath, "tle", "", "Two- or three-line element file, used with the --station-* flags")
	fs.StringVar(&cfg.Station.ID, "station-id", "gs-1", "Ground station ID when no scenario is given")
	fs.Float64Var(&cfg.Station.LatitudeDeg, "station-lat", 35.68, "Ground station latitude in degrees")
	fs.Float64Var(&cfg.Station.LongitudeDeg, "station-lon", 139.69, "Ground station longitude in degrees")
	fs.Float64Var(&cfg.Station.AltitudeM, "station-alt", 40, "Ground station altitude in metres")
	fs.Float64Var(&cfg.MinElevationDeg, "min-elevation", 10, "Elevation mask in degrees")
	fs.DurationVar(&cfg.Horizon, "horizon", 12*time.Hour, "How far ahead passes are planned")
	fs.DurationVar(&cfg.Refresh, "refresh", 10*time.Minute, "Simulation time between plan refreshes")
	fs.DurationVar(&cfg.Retention, "retention", time.Hour, "How long finished passes are kept")
	fs.DurationVar(&cfg.Tick, "tick", time.Second, "Clock tick interval")
	fs.BoolVar(&cfg.Accelerated, "accelerated", false, "Advance simulation time by one tick per tick instead of following the wall clock")
	fs.StringVar(&start, "start", "", "Simulation start time (RFC 3339, default now)")
	fs.DurationVar(&cfg.CommandInterval, "command-interval", 0, "Push a test command to connected stations this often (0 disables)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if start != "" {
		t, err := time.Parse(time.RFC3339, start)
		if err != nil {
			return Config{}, fmt.Errorf("parse --start: %w", err)
		}
		cfg.StartTime = t
	}
	if cfg.ScenarioPath == "" && cfg.TLEPath == "" {
		return Config{}, fmt.Errorf("one of --scenario or --tle is required")
	}
	if cfg.Tick <= 0 || cfg.Refresh <= 0 || cfg.Horizon <= 0 {
		return Config{}, fmt.Errorf("--tick, --refresh and --horizon must be positive")
	}
	return cfg, nil
}

func buildScenario(cfg Config) (Scenario, error) {
	var sc Scenario
	if cfg.ScenarioPath != "" {
		loaded, err := loadScenario(cfg.ScenarioPath)
		if err != nil {
			return Scenario{}, err
		}
		sc = loaded
	}
	if cfg.TLEPath != "" {
		sat, err := loadTLEFile(cfg.TLEPath)
		if err != nil {
			return Scenario{}, err
		}
		sc.Satellites = append(sc.Satellites, sat)
		if len(sc.GroundStations) == 0 {
			sc.GroundStations = []model.GroundStation{cfg.Station}
		}
	}
	return sc, nil
}

// run serves the API on lis until ctx is cancelled.
func run(ctx context.Context, cfg Config, log logging.Logger, lis net.Listener) error {
	sc, err := buildScenario(cfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	api, err := observability.NewAPICollector(reg)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	metricsSrv := serveMetrics(cfg.MetricsAddress, api, log)

	store := kb.NewPlanStore()
	feeder, err := newPlanFeeder(store, sc, cfg, log)
	if err != nil {
		return err
	}

	var telemetryMu sync.Mutex
	telemetryCount := make(map[string]int)
	srv := gsapi.NewServer(store,
		gsapi.WithServerLogger(log),
		gsapi.WithAPICollector(api),
		gsapi.WithTelemetryHandler(func(ctx context.Context, gsID string, rec model.TelemetryRecord) {
			telemetryMu.Lock()
			telemetryCount[gsID]++
			n := telemetryCount[gsID]
			telemetryMu.Unlock()
			log.Debug(ctx, "telemetry received",
				logging.String("ground_station_id", gsID),
				logging.String("plan_id", rec.PlanID),
				logging.String("framing", rec.Framing.String()),
				logging.Int("bytes", len(rec.Data)),
				logging.Int("total", n),
			)
		}),
	)
	grpcSrv := gsapi.NewGRPCServer(log, api)
	srv.Register(grpcSrv)

	start := cfg.StartTime
	if start.IsZero() {
		start = time.Now().UTC()
	}
	mode := timectrl.RealTime
	if cfg.Accelerated {
		mode = timectrl.Accelerated
	}
	tc := timectrl.NewTimeController(start, cfg.Tick, mode)

	feeder.onTick(start)
	tc.AddListener(feeder.onTick)
	if cfg.CommandInterval > 0 {
		tc.AddListener(commandPusher(srv, store, cfg, log))
	}

	stopClock := make(chan struct{})
	clockDone := tc.Start(0, stopClock)

	serveErr := make(chan error, 1)
	go func() { serveErr <- grpcSrv.Serve(lis) }()
	log.Info(ctx, "serving ground-station API",
		logging.String("addr", lis.Addr().String()),
		logging.Int("plans", store.Len()),
		logging.String("sim_start", start.Format(time.RFC3339)),
	)

	var result error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		result = err
	}

	log.Info(ctx, "shutting down ground-station API")
	close(stopClock)
	<-clockDone
	gracefulStop(grpcSrv, 5*time.Second)

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return result
}

type grpcStopper interface {
	GracefulStop()
	Stop()
}

// gracefulStop waits for open streams up to timeout, then forces them shut.
func gracefulStop(s grpcStopper, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.Stop()
		<-done
	}
}

// commandPusher sends a small test command to every connected station that
// is inside a pass, at most once per CommandInterval of simulation time.
func commandPusher(srv *gsapi.Server, store *kb.PlanStore, cfg Config, log logging.Logger) func(time.Time) {
	var (
		mu   sync.Mutex
		last time.Time
		seq  int
	)
	return func(now time.Time) {
		mu.Lock()
		if !last.IsZero() && now.Sub(last) < cfg.CommandInterval {
			mu.Unlock()
			return
		}
		last = now
		seq++
		n := seq
		mu.Unlock()

		for _, gsID := range srv.ActiveStreams() {
			plan, ok := currentPlan(store, gsID, now, cfg.Horizon)
			if !ok {
				continue
			}
			cmd := model.Command{
				PlanID: plan.ID,
				Frames: [][]byte{[]byte(fmt.Sprintf("PING %d %s", n, now.Format(time.RFC3339)))},
			}
			if err := srv.SendCommand(gsID, cmd); err != nil {
				log.Warn(context.Background(), "command not delivered", logging.String("ground_station_id", gsID), logging.Err(err))
			}
		}
	}
}

func serveMetrics(addr string, api *observability.APICollector, log logging.Logger) *http.Server {
	if addr == "" || api == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", api.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
