package gsapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/signalsfoundry/groundlink/internal/doppler"
	"github.com/signalsfoundry/groundlink/internal/logging"
	"github.com/signalsfoundry/groundlink/model"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// CommandHandler receives commands pushed by the server.
type CommandHandler func(cmd model.Command)

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithClientLogger sets the client logger.
func WithClientLogger(l logging.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithDialOptions appends gRPC dial options, for example transport
// credentials that replace the insecure default.
func WithDialOptions(opts ...grpc.DialOption) ClientOption {
	return func(c *Client) { c.dialOpts = append(c.dialOpts, opts...) }
}

// Client talks to a ground-station API endpoint.
type Client struct {
	conn     *grpc.ClientConn
	log      logging.Logger
	dialOpts []grpc.DialOption
}

// NewClient creates a client for target. The connection is established lazily.
func NewClient(target string, opts ...ClientOption) (*Client, error) {
	c := &Client{log: logging.Noop()}
	for _, opt := range opts {
		opt(c)
	}
	dial := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}
	conn, err := grpc.NewClient(target, append(dial, c.dialOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("gsapi: dial %s: %w", target, err)
	}
	c.conn = conn
	return c, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// ListPlans implements doppler.PlanSource.
func (c *Client) ListPlans(ctx context.Context, groundStationID string, aosAfter, aosBefore time.Time) ([]model.Plan, error) {
	req := &ListPlansRequest{
		GroundStationID: groundStationID,
		AOSAfter:        aosAfter,
		AOSBefore:       aosBefore,
	}
	out := new(ListPlansResponse)
	if err := c.conn.Invoke(outgoing(ctx), listPlansMethod, req, out); err != nil {
		return nil, fmt.Errorf("gsapi: list plans for %q: %w", groundStationID, err)
	}
	return out.Plans, nil
}

// PlanSource returns a doppler.PlanSource that bounds each lookup by timeout.
// A zero timeout leaves the caller's deadline in charge.
func (c *Client) PlanSource(timeout time.Duration) doppler.PlanSource {
	return planSource{client: c, timeout: timeout}
}

type planSource struct {
	client  *Client
	timeout time.Duration
}

func (p planSource) ListPlans(ctx context.Context, groundStationID string, aosAfter, aosBefore time.Time) ([]model.Plan, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return p.client.ListPlans(ctx, groundStationID, aosAfter, aosBefore)
}

// OpenTelemetryStream activates a ground-station stream. Commands pushed by
// the server are passed to onCommand from a dedicated goroutine. An empty
// streamTag is replaced with a random one. The stream lives as long as ctx.
func (c *Client) OpenTelemetryStream(ctx context.Context, groundStationID, streamTag string, onCommand CommandHandler) (*TelemetryStream, error) {
	if groundStationID == "" {
		return nil, fmt.Errorf("%w: ground station ID is required", ErrInvalidRequest)
	}
	if streamTag == "" {
		streamTag = uuid.NewString()
	}
	streamCtx, cancel := context.WithCancel(ctx)
	cs, err := c.conn.NewStream(outgoing(streamCtx), &ServiceDesc.Streams[0], openStreamMethod)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("gsapi: open stream: %w", err)
	}
	stream := &groundStationStreamClient{cs}
	activation := &StreamRequest{Activation: &StreamActivation{
		GroundStationID: groundStationID,
		StreamTag:       streamTag,
	}}
	if err := stream.Send(activation); err != nil {
		cancel()
		return nil, fmt.Errorf("gsapi: activate stream: %w", err)
	}

	ts := &TelemetryStream{
		stream: stream,
		cancel: cancel,
		tag:    streamTag,
		log: c.log.With(
			logging.String("ground_station_id", groundStationID),
			logging.String("stream_tag", streamTag),
		),
		done: make(chan struct{}),
	}
	go ts.recvLoop(streamCtx, onCommand)
	return ts, nil
}

// TelemetryStream is an open ground-station stream. It implements
// relay.Sink for telemetry records.
type TelemetryStream struct {
	stream GroundStationStreamClient
	cancel context.CancelFunc
	tag    string
	log    logging.Logger

	mu     sync.Mutex
	closed bool

	done chan struct{}
	err  error
}

// Tag returns the stream tag sent at activation.
func (t *TelemetryStream) Tag() string { return t.tag }

// Send forwards one telemetry record.
func (t *TelemetryStream) Send(ctx context.Context, rec model.TelemetryRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrStreamClosed
	}
	select {
	case <-t.done:
		return fmt.Errorf("%w: %v", ErrStreamClosed, t.err)
	default:
	}
	if err := t.stream.Send(&StreamRequest{Telemetry: &rec}); err != nil {
		return fmt.Errorf("gsapi: send telemetry: %w", err)
	}
	return nil
}

// Done is closed when the server side of the stream has ended.
func (t *TelemetryStream) Done() <-chan struct{} { return t.done }

// Err reports why the stream ended, or nil for an orderly close. It is only
// meaningful after Done is closed.
func (t *TelemetryStream) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Close half-closes the stream and waits for the server to finish it.
func (t *TelemetryStream) Close(ctx context.Context) error {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		if err := t.stream.CloseSend(); err != nil {
			t.mu.Unlock()
			return fmt.Errorf("gsapi: close stream: %w", err)
		}
	}
	t.mu.Unlock()

	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *TelemetryStream) recvLoop(ctx context.Context, onCommand CommandHandler) {
	defer close(t.done)
	defer t.cancel()
	for {
		resp, err := t.stream.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) && status.Code(err) != codes.Canceled {
				t.log.Warn(ctx, "ground-station stream ended", logging.Err(err))
				t.err = err
			}
			return
		}
		if resp.Command == nil {
			continue
		}
		t.log.Debug(ctx, "command received",
			logging.String("plan_id", resp.Command.PlanID),
			logging.Int("frames", len(resp.Command.Frames)),
		)
		if onCommand != nil {
			onCommand(*resp.Command)
		}
	}
}

func outgoing(ctx context.Context) context.Context {
	if id := logging.RequestIDFromContext(ctx); id != "" {
		return metadata.AppendToOutgoingContext(ctx, requestIDMetadataKey, id)
	}
	return ctx
}
