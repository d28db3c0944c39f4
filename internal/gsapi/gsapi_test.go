package gsapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/signalsfoundry/groundlink/internal/doppler"
	"github.com/signalsfoundry/groundlink/internal/logging"
	"github.com/signalsfoundry/groundlink/internal/observability"
	"github.com/signalsfoundry/groundlink/internal/relay"
	"github.com/signalsfoundry/groundlink/kb"
	"github.com/signalsfoundry/groundlink/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	_     doppler.PlanSource                = (*Client)(nil)
	_     relay.Sink[model.TelemetryRecord] = (*TelemetryStream)(nil)
	_     GroundStationServiceServer        = (*Server)(nil)
	epoch                                   = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func startServer(t *testing.T, store *kb.PlanStore, opts ...ServerOption) (*Server, *Client) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	gs := NewGRPCServer(logging.Noop(), nil)
	srv := NewServer(store, opts...)
	srv.Register(gs)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	client, err := NewClient(lis.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func seedPlans(t *testing.T, store *kb.PlanStore) {
	t.Helper()
	for i, offset := range []time.Duration{-time.Hour, -time.Minute, 10 * time.Minute, 2 * time.Hour} {
		aos := epoch.Add(offset)
		require.NoError(t, store.PutPlan(model.Plan{
			ID:              fmt.Sprintf("plan-%d", i),
			GroundStationID: "gs-1",
			SatelliteID:     "sat-1",
			AOS:             aos,
			LOS:             aos.Add(8 * time.Minute),
			Coordinates: []model.CoordinateSample{
				{Time: aos, RangeRate: -7000},
				{Time: aos.Add(time.Second), RangeRate: -6995.5},
			},
		}))
	}
}

func TestListPlansWindow(t *testing.T) {
	store := kb.NewPlanStore()
	seedPlans(t, store)
	_, client := startServer(t, store)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	plans, err := client.ListPlans(ctx, "gs-1", epoch.Add(-doppler.DefaultLookBehind), epoch.Add(doppler.DefaultLookAhead))
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, "plan-1", plans[0].ID)
	assert.Equal(t, "plan-2", plans[1].ID)
	assert.True(t, plans[0].AOS.Equal(epoch.Add(-time.Minute)))
	require.Len(t, plans[1].Coordinates, 2)
	assert.Equal(t, -6995.5, plans[1].Coordinates[1].RangeRate)

	viaSource, err := client.PlanSource(time.Second).ListPlans(ctx, "gs-1", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, viaSource, 4)
}

func TestListPlansRequiresGroundStation(t *testing.T) {
	_, client := startServer(t, kb.NewPlanStore())

	_, err := client.ListPlans(context.Background(), "", time.Time{}, time.Time{})
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.ListPlans(context.Background(), "gs-1", epoch, epoch.Add(-time.Second))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestListPlansWithoutStore(t *testing.T) {
	srv := NewServer(nil)
	_, err := srv.ListPlans(context.Background(), &ListPlansRequest{GroundStationID: "gs-1"})
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestTelemetryStreamDeliversRecordsAndCommands(t *testing.T) {
	var (
		mu       sync.Mutex
		received []model.TelemetryRecord
		stations []string
	)
	srv, client := startServer(t, kb.NewPlanStore(), WithTelemetryHandler(func(_ context.Context, gsID string, rec model.TelemetryRecord) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, rec)
		stations = append(stations, gsID)
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	commands := make(chan model.Command, 1)
	ts, err := client.OpenTelemetryStream(ctx, "gs-1", "", func(cmd model.Command) { commands <- cmd })
	require.NoError(t, err)
	assert.NotEmpty(t, ts.Tag())

	for i := range 3 {
		require.NoError(t, ts.Send(ctx, model.TelemetryRecord{
			PlanID:            "plan-1",
			Framing:           model.FramingAX25,
			Data:              []byte{byte(i), 0xAA},
			FirstByteReceived: epoch,
			LastByteReceived:  epoch.Add(time.Second),
		}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 3
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"gs-1", "gs-1", "gs-1"}, stations)
	assert.Equal(t, []byte{2, 0xAA}, received[2].Data)
	assert.Equal(t, model.FramingAX25, received[0].Framing)
	mu.Unlock()

	assert.Equal(t, []string{"gs-1"}, srv.ActiveStreams())
	require.NoError(t, srv.SendCommand("gs-1", model.Command{PlanID: "plan-1", Frames: [][]byte{{0x01, 0x02}}}))

	select {
	case cmd := <-commands:
		assert.Equal(t, "plan-1", cmd.PlanID)
		assert.Equal(t, [][]byte{{0x01, 0x02}}, cmd.Frames)
	case <-ctx.Done():
		t.Fatalf("command not delivered")
	}

	require.NoError(t, ts.Close(ctx))
	assert.ErrorIs(t, ts.Send(ctx, model.TelemetryRecord{}), ErrStreamClosed)
	require.Eventually(t, func() bool { return len(srv.ActiveStreams()) == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestSendCommandWithoutStream(t *testing.T) {
	srv := NewServer(kb.NewPlanStore())
	err := srv.SendCommand("gs-1", model.Command{PlanID: "p"})
	require.ErrorIs(t, err, ErrStreamNotActive)
	assert.Equal(t, codes.FailedPrecondition, status.Code(ToStatusError(err)))
}

func TestStreamRequiresActivation(t *testing.T) {
	_, client := startServer(t, kb.NewPlanStore())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cs, err := client.conn.NewStream(ctx, &ServiceDesc.Streams[0], openStreamMethod)
	require.NoError(t, err)
	stream := &groundStationStreamClient{cs}
	require.NoError(t, stream.Send(&StreamRequest{Telemetry: &model.TelemetryRecord{PlanID: "p"}}))

	_, err = stream.Recv()
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestOpenTelemetryStreamValidatesStation(t *testing.T) {
	_, client := startServer(t, kb.NewPlanStore())
	_, err := client.OpenTelemetryStream(context.Background(), "", "tag", nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

// brokenClientStream fails every send.
type brokenClientStream struct {
	grpc.ClientStream
}

func (brokenClientStream) SendMsg(interface{}) error { return errors.New("connection reset") }

func TestOpenTelemetryStreamCancelsStreamWhenActivationFails(t *testing.T) {
	var streamCtx context.Context
	intercept := func(ctx context.Context, _ *grpc.StreamDesc, _ *grpc.ClientConn, _ string, _ grpc.Streamer, _ ...grpc.CallOption) (grpc.ClientStream, error) {
		streamCtx = ctx
		return brokenClientStream{}, nil
	}
	client, err := NewClient("127.0.0.1:1", WithDialOptions(grpc.WithStreamInterceptor(intercept)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = client.OpenTelemetryStream(context.Background(), "gs-1", "tag", nil)
	assert.ErrorContains(t, err, "activate stream")
	require.NotNil(t, streamCtx)
	assert.ErrorIs(t, streamCtx.Err(), context.Canceled)
}

func TestRelayForwardsOverStream(t *testing.T) {
	got := make(chan model.TelemetryRecord, 8)
	_, client := startServer(t, kb.NewPlanStore(), WithTelemetryHandler(func(_ context.Context, _ string, rec model.TelemetryRecord) {
		got <- rec
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ts, err := client.OpenTelemetryStream(ctx, "gs-1", "relay-test", nil)
	require.NoError(t, err)

	r := relay.New[model.TelemetryRecord](ts, relay.WithPollTimeout(20*time.Millisecond))
	require.NoError(t, r.Start(ctx))
	for i := range 5 {
		require.NoError(t, r.Enqueue(model.TelemetryRecord{PlanID: fmt.Sprintf("p-%d", i)}))
	}
	require.NoError(t, r.Stop(ctx))
	require.NoError(t, ts.Close(ctx))

	for i := range 5 {
		select {
		case rec := <-got:
			assert.Equal(t, fmt.Sprintf("p-%d", i), rec.PlanID)
		case <-ctx.Done():
			t.Fatalf("record %d not forwarded", i)
		}
	}
}

func TestAPICollectorTracksPlans(t *testing.T) {
	reg := prometheus.NewRegistry()
	api, err := observability.NewAPICollector(reg)
	require.NoError(t, err)

	store := kb.NewPlanStore()
	NewServer(store, WithAPICollector(api))
	seedPlans(t, store)
	assert.Equal(t, 4.0, testutil.ToFloat64(api.PlansStored))

	require.NoError(t, store.DeletePlan("plan-0"))
	assert.Equal(t, 3.0, testutil.ToFloat64(api.PlansStored))
}

func TestToStatusError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		code    codes.Code
		wantNil bool
	}{
		{name: "nil", err: nil, wantNil: true},
		{name: "status passthrough", err: status.Error(codes.PermissionDenied, "denied"), code: codes.PermissionDenied},
		{name: "invalid request", err: fmt.Errorf("%w: missing id", ErrInvalidRequest), code: codes.InvalidArgument},
		{name: "invalid plan", err: kb.ErrInvalidPlan, code: codes.InvalidArgument},
		{name: "plan not found", err: kb.ErrPlanNotFound, code: codes.NotFound},
		{name: "doppler plan not found", err: doppler.ErrPlanNotFound, code: codes.NotFound},
		{name: "stream not active", err: ErrStreamNotActive, code: codes.FailedPrecondition},
		{name: "canceled", err: context.Canceled, code: codes.Canceled},
		{name: "deadline", err: fmt.Errorf("wrapped: %w", context.DeadlineExceeded), code: codes.DeadlineExceeded},
		{name: "fallback", err: errors.New("boom"), code: codes.Internal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := ToStatusError(tc.err)
			if tc.wantNil {
				if got != nil {
					t.Fatalf("ToStatusError(nil) = %v, want nil", got)
				}
				return
			}
			if code := status.Code(got); code != tc.code {
				t.Fatalf("ToStatusError(%v) code = %v, want %v", tc.err, code, tc.code)
			}
		})
	}
}
