package gsapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/signalsfoundry/groundlink/internal/logging"
	"github.com/signalsfoundry/groundlink/internal/observability"
	"github.com/signalsfoundry/groundlink/kb"
	"github.com/signalsfoundry/groundlink/model"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// TelemetryHandler receives telemetry pushed by a ground station.
type TelemetryHandler func(ctx context.Context, groundStationID string, rec model.TelemetryRecord)

// ServerOption customises a Server.
type ServerOption func(*Server)

// WithServerLogger sets the server logger.
func WithServerLogger(l logging.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithTelemetryHandler sets the callback for received telemetry.
func WithTelemetryHandler(h TelemetryHandler) ServerOption {
	return func(s *Server) { s.onTelemetry = h }
}

// WithAPICollector keeps the collector's plan gauge in step with the store.
func WithAPICollector(c *observability.APICollector) ServerOption {
	return func(s *Server) { s.api = c }
}

// Server implements GroundStationServiceServer backed by a PlanStore.
type Server struct {
	UnimplementedGroundStationServiceServer

	store       *kb.PlanStore
	log         logging.Logger
	onTelemetry TelemetryHandler
	api         *observability.APICollector

	mu      sync.Mutex
	streams map[string]*activeStream
}

type activeStream struct {
	tag string

	mu     sync.Mutex
	stream GroundStationStreamServer
}

// NewServer wires a Server to the shared plan store.
func NewServer(store *kb.PlanStore, opts ...ServerOption) *Server {
	s := &Server{
		store:   store,
		log:     logging.Noop(),
		streams: make(map[string]*activeStream),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.api != nil && store != nil {
		s.api.SetPlanCount(store.Len())
		store.Subscribe(func(kb.Event) { s.api.SetPlanCount(store.Len()) })
	}
	return s
}

// Register attaches the service to a gRPC server.
func (s *Server) Register(reg grpc.ServiceRegistrar) {
	RegisterGroundStationServiceServer(reg, s)
}

// NewGRPCServer builds a gRPC server with request-ID, tracing and metrics
// interceptors plus OpenTelemetry stats.
func NewGRPCServer(log logging.Logger, api *observability.APICollector, extra ...grpc.ServerOption) *grpc.Server {
	unary := []grpc.UnaryServerInterceptor{
		RequestIDUnaryServerInterceptor(log),
		tracingUnaryInterceptor(),
	}
	stream := []grpc.StreamServerInterceptor{
		RequestIDStreamServerInterceptor(log),
		tracingStreamInterceptor(),
	}
	if api != nil {
		unary = append(unary, api.UnaryServerInterceptor())
		stream = append(stream, api.StreamServerInterceptor())
	}
	opts := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(unary...),
		grpc.ChainStreamInterceptor(stream...),
	}
	return grpc.NewServer(append(opts, extra...)...)
}

func (s *Server) ensureReady() error {
	if s == nil || s.store == nil {
		return status.Error(codes.Unavailable, "plan store not configured")
	}
	return nil
}

// ListPlans returns the plans of a ground station whose AOS falls in the
// requested window.
func (s *Server) ListPlans(ctx context.Context, req *ListPlansRequest) (*ListPlansResponse, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	if req == nil || req.GroundStationID == "" {
		return nil, ToStatusError(fmt.Errorf("%w: ground_station_id is required", ErrInvalidRequest))
	}
	if !req.AOSAfter.IsZero() && !req.AOSBefore.IsZero() && req.AOSBefore.Before(req.AOSAfter) {
		return nil, ToStatusError(fmt.Errorf("%w: aos_before precedes aos_after", ErrInvalidRequest))
	}

	_, span := storeSpan(ctx, "ListPlans", req.GroundStationID)
	plans := s.store.ListPlans(req.GroundStationID, req.AOSAfter, req.AOSBefore)
	span.SetAttributes(attribute.Int("plans", len(plans)))
	span.End()

	s.logger(ctx).Debug(ctx, "listed plans",
		logging.String("ground_station_id", req.GroundStationID),
		logging.Int("plans", len(plans)),
	)
	return &ListPlansResponse{Plans: plans}, nil
}

// OpenGroundStationStream accepts telemetry from a ground station and keeps
// the stream available for SendCommand until the client closes it.
func (s *Server) OpenGroundStationStream(stream GroundStationStreamServer) error {
	ctx := stream.Context()
	first, err := stream.Recv()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return err
	}
	if first.Activation == nil || first.Activation.GroundStationID == "" {
		return ToStatusError(fmt.Errorf("%w: first stream message must activate a ground station", ErrInvalidRequest))
	}
	gsID := first.Activation.GroundStationID
	log := s.logger(ctx).With(
		logging.String("ground_station_id", gsID),
		logging.String("stream_tag", first.Activation.StreamTag),
	)

	as := &activeStream{tag: first.Activation.StreamTag, stream: stream}
	s.mu.Lock()
	if prev, ok := s.streams[gsID]; ok {
		log.Warn(ctx, "replacing active ground-station stream", logging.String("previous_tag", prev.tag))
	}
	s.streams[gsID] = as
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.streams[gsID] == as {
			delete(s.streams, gsID)
		}
		s.mu.Unlock()
	}()
	log.Info(ctx, "ground-station stream opened")

	received := 0
	for {
		req, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			log.Info(ctx, "ground-station stream closed", logging.Int("telemetry_records", received))
			return nil
		}
		if err != nil {
			return err
		}
		if req.Activation != nil {
			log.Warn(ctx, "ignoring repeated stream activation")
		}
		if req.Telemetry == nil {
			continue
		}
		received++
		if s.onTelemetry != nil {
			s.onTelemetry(ctx, gsID, *req.Telemetry)
		}
	}
}

func (s *Server) logger(ctx context.Context) logging.Logger {
	if l := logging.LoggerFromContext(ctx); l != nil {
		return l
	}
	return s.log
}

// SendCommand pushes a command to the ground station's open stream.
func (s *Server) SendCommand(groundStationID string, cmd model.Command) error {
	s.mu.Lock()
	as, ok := s.streams[groundStationID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrStreamNotActive, groundStationID)
	}

	as.mu.Lock()
	defer as.mu.Unlock()
	if err := as.stream.Send(&StreamResponse{Command: &cmd}); err != nil {
		return fmt.Errorf("gsapi: send command to %q: %w", groundStationID, err)
	}
	return nil
}

// ActiveStreams returns the ground stations with an open stream.
func (s *Server) ActiveStreams() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.streams))
	for id := range s.streams {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
