package gsapi

import (
	"context"
	"time"

	"github.com/signalsfoundry/groundlink/internal/logging"
	"github.com/signalsfoundry/groundlink/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

const tracerName = "github.com/signalsfoundry/groundlink/internal/gsapi"

// serverSpan renames the span otelgrpc opened for the RPC, or starts one
// when no stats handler is installed. owned reports whether the caller must
// end it.
func serverSpan(ctx context.Context, fullMethod string) (_ context.Context, _ trace.Span, owned bool) {
	_, method := observability.SplitMethod(fullMethod)
	name := "gsapi/" + method
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		span.SetName(name)
		return ctx, span, false
	}
	ctx, span = otel.Tracer(tracerName).Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer))
	return ctx, span, true
}

func recordRPCError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, status.Convert(err).Message())
}

func requestIDAttrs(ctx context.Context) []attribute.KeyValue {
	if id := logging.RequestIDFromContext(ctx); id != "" {
		return []attribute.KeyValue{attribute.String("request_id", id)}
	}
	return nil
}

// tracingUnaryInterceptor tags ListPlans spans with the ground station, the
// AOS window and the number of plans returned.
func tracingUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ctx, span, owned := serverSpan(ctx, info.FullMethod)
		if owned {
			defer span.End()
		}
		span.SetAttributes(requestIDAttrs(ctx)...)
		if r, ok := req.(*ListPlansRequest); ok && r != nil {
			span.SetAttributes(
				observability.AttrGroundStationID.String(r.GroundStationID),
				attribute.String("groundlink.aos_after", r.AOSAfter.UTC().Format(time.RFC3339)),
				attribute.String("groundlink.aos_before", r.AOSBefore.UTC().Format(time.RFC3339)),
			)
		}

		resp, err := handler(ctx, req)
		recordRPCError(span, err)
		if r, ok := resp.(*ListPlansResponse); ok && r != nil {
			span.SetAttributes(attribute.Int("groundlink.plans", len(r.Plans)))
		}
		return resp, err
	}
}

// tracingStreamInterceptor tags ground-station stream spans with the station
// and stream tag once the client activates the stream, and records how many
// telemetry records arrived.
func tracingStreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, span, owned := serverSpan(ss.Context(), info.FullMethod)
		if owned {
			defer span.End()
		}
		span.SetAttributes(requestIDAttrs(ctx)...)

		ts := &tracedStream{ServerStream: ss, ctx: ctx, span: span}
		err := handler(srv, ts)
		span.SetAttributes(attribute.Int("groundlink.telemetry_records", ts.telemetry))
		recordRPCError(span, err)
		return err
	}
}

// tracedStream is only read from the handler goroutine.
type tracedStream struct {
	grpc.ServerStream
	ctx       context.Context
	span      trace.Span
	telemetry int
}

func (s *tracedStream) Context() context.Context { return s.ctx }

func (s *tracedStream) RecvMsg(m interface{}) error {
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return err
	}
	req, ok := m.(*StreamRequest)
	if !ok {
		return nil
	}
	if a := req.Activation; a != nil {
		s.span.AddEvent("stream activated", trace.WithAttributes(
			observability.AttrGroundStationID.String(a.GroundStationID),
			observability.AttrStreamTag.String(a.StreamTag),
		))
		s.span.SetAttributes(
			observability.AttrGroundStationID.String(a.GroundStationID),
			observability.AttrStreamTag.String(a.StreamTag),
		)
	}
	if req.Telemetry != nil {
		s.telemetry++
	}
	return nil
}

// storeSpan traces a plan-store lookup for one ground station.
func storeSpan(ctx context.Context, op, groundStationID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "kb."+op,
		trace.WithAttributes(observability.AttrGroundStationID.String(groundStationID)))
}
