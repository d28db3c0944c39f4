// Command groundlink runs one link session for a pass: it pulls the plan
// from the ground-station API, publishes Doppler corrections as they fall
// due and relays received telemetry over the API stream.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/signalsfoundry/groundlink/internal/doppler"
	"github.com/signalsfoundry/groundlink/internal/evaluation"
	"github.com/signalsfoundry/groundlink/internal/gsapi"
	"github.com/signalsfoundry/groundlink/internal/logging"
	"github.com/signalsfoundry/groundlink/internal/mqttpub"
	"github.com/signalsfoundry/groundlink/internal/observability"
	"github.com/signalsfoundry/groundlink/internal/relay"
	"github.com/signalsfoundry/groundlink/internal/session"
	"github.com/signalsfoundry/groundlink/model"
	"github.com/signalsfoundry/groundlink/timectrl"
)

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "groundlink: %v\n", err)
		os.Exit(2)
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracing := observability.TracingConfigFromEnv("groundlink")
	tracing.GroundStationID = cfg.Session.Doppler.GroundStationID
	tracing.Attributes[string(observability.AttrPlanID)] = cfg.Session.Doppler.PlanID
	shutdownTracing, err := observability.InitTracing(ctx, tracing, log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	d := &daemon{cfg: cfg, log: log}
	if err := d.run(ctx); err != nil {
		log.Error(ctx, "groundlink exited with error", logging.Err(err))
		os.Exit(1)
	}
}

// daemon wires one session. clock and publisher default to the wall clock
// and the configured MQTT or log publisher.
type daemon struct {
	cfg       Config
	log       logging.Logger
	clock     timectrl.Clock
	publisher doppler.Publisher
	registry  *prometheus.Registry
}

// run blocks until the pass is over and the telemetry input is exhausted,
// or until ctx is cancelled, then stops the session in order.
func (d *daemon) run(ctx context.Context) error {
	if d.log == nil {
		d.log = logging.Noop()
	}
	if d.clock == nil {
		d.clock = timectrl.System()
	}
	if d.registry == nil {
		d.registry = prometheus.NewRegistry()
		d.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	cfg := d.cfg
	dcfg := cfg.Session.Doppler
	log := d.log.With(
		logging.String("ground_station_id", dcfg.GroundStationID),
		logging.String("plan_id", dcfg.PlanID),
	)

	metrics, err := observability.NewLinkCollector(d.registry)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	if metricsSrv := serveMetrics(cfg.MetricsAddress, d.registry, log); metricsSrv != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	client, err := gsapi.NewClient(cfg.APIAddress, gsapi.WithClientLogger(log))
	if err != nil {
		return err
	}
	defer client.Close()

	var mqttPub *mqttpub.Publisher
	if cfg.MQTT.Broker != "" {
		mqttPub, err = mqttpub.New(cfg.MQTT,
			mqttpub.WithLogger(log),
			mqttpub.WithLabels(dcfg.GroundStationID, dcfg.PlanID),
		)
		if err != nil {
			return err
		}
		defer mqttPub.Close(250 * time.Millisecond)
	}

	publisher := d.publisher
	if publisher == nil {
		if mqttPub != nil {
			publisher = mqttPub
		} else {
			publisher = logPublisher(log)
		}
	}

	// The stream outlives ctx so queued telemetry can still drain after a
	// signal.
	streamCtx, cancelStream := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelStream()

	var current atomic.Pointer[session.Session]
	stream, err := client.OpenTelemetryStream(streamCtx, dcfg.GroundStationID, cfg.StreamTag, func(cmd model.Command) {
		if s := current.Load(); s != nil {
			s.HandleCommand(cmd)
		}
	})
	if err != nil {
		return err
	}

	var sink relay.Sink[model.TelemetryRecord] = stream
	if mqttPub != nil {
		sink = fanout[model.TelemetryRecord](stream, mqttPub)
	}

	sess, err := session.New(cfg.Session, client.PlanSource(cfg.PlanTimeout), publisher, sink,
		session.WithLogger(log),
		session.WithClock(d.clock),
		session.WithRecorder(metrics),
		session.WithCommandSink(newCommandSink(cfg.CommandFolder, log)),
	)
	if err != nil {
		_ = stream.Close(streamCtx)
		return err
	}
	current.Store(sess)

	if err := sess.Start(streamCtx); err != nil {
		_ = stream.Close(streamCtx)
		return err
	}
	log.Info(ctx, "link session running",
		logging.String("session_id", sess.ID()),
		logging.String("stream_tag", stream.Tag()),
	)

	feedDone := make(chan error, 1)
	feedCtx, cancelFeed := context.WithCancel(ctx)
	defer cancelFeed()
	go func() { feedDone <- d.feedTelemetry(feedCtx, sess) }()

	var feedErr error
	select {
	case <-ctx.Done():
		log.Info(ctx, "shutdown requested")
	case <-sess.Done():
		// A failed plan lookup ends the session without waiting for input.
		if err := sess.Wait(ctx); err == nil {
			feedErr = <-feedDone
			feedDone = nil
		}
	}
	cancelFeed()
	if feedDone != nil {
		<-feedDone
	}

	stopCtx, cancelStop := context.WithTimeout(context.WithoutCancel(ctx), cfg.StopTimeout)
	defer cancelStop()
	var errs []error
	if err := sess.Stop(stopCtx); err != nil {
		errs = append(errs, err)
	}
	if err := stream.Close(stopCtx); err != nil {
		errs = append(errs, fmt.Errorf("close telemetry stream: %w", err))
	}
	if err := sess.Wait(stopCtx); err != nil {
		errs = append(errs, err)
	}
	if feedErr != nil && !errors.Is(feedErr, context.Canceled) {
		errs = append(errs, feedErr)
	}
	log.Info(ctx, "link session finished")
	return errors.Join(errs...)
}

// feedTelemetry replays frame files into the session until the folder is
// exhausted. With no input folder it returns immediately.
func (d *daemon) feedTelemetry(ctx context.Context, sess *session.Session) error {
	tcfg := d.cfg.Telemetry
	if tcfg.InputFolder == "" {
		return nil
	}
	src := evaluation.FolderSource{
		Dir:      tcfg.InputFolder,
		FrameLen: tcfg.FrameLen,
		Delay:    tcfg.InterPacketDelay,
		Log:      d.log,
	}
	n, err := src.Run(ctx, func(_ context.Context, _ string, frame []byte) error {
		now := d.clock.Now()
		return sess.SendTelemetry(model.TelemetryRecord{
			PlanID:              d.cfg.Session.Doppler.PlanID,
			Framing:             tcfg.Framing,
			Data:                frame,
			DownlinkFrequencyHz: d.cfg.Session.Doppler.DownlinkHz,
			FirstByteReceived:   now,
			LastByteReceived:    now,
		})
	})
	d.log.Info(ctx, "telemetry input finished", logging.Int("frames", n))
	return err
}

func serveMetrics(addr string, gatherer prometheus.Gatherer, log logging.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(gatherer))

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
