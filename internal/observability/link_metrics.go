package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/signalsfoundry/groundlink/internal/doppler"
	"github.com/signalsfoundry/groundlink/internal/verifier"
)

// LinkCollector exposes link-quality, FEC, Doppler and relay metrics.
type LinkCollector struct {
	gatherer prometheus.Gatherer

	VerifierPackets *prometheus.CounterVec
	FrameErrorRate  prometheus.Gauge

	GolayBlocks        *prometheus.CounterVec
	GolayCorrectedBits prometheus.Counter

	DopplerPublished     prometheus.Counter
	DopplerSkipped       prometheus.Counter
	DopplerDownlinkShift prometheus.Gauge
	DopplerUplinkShift   prometheus.Gauge
	DopplerLateness      prometheus.Histogram

	RelayForwarded  *prometheus.CounterVec
	RelayQueueDepth prometheus.Gauge
}

// NewLinkCollector registers link metrics against the provided registerer,
// defaulting to the global Prometheus registry when nil.
func NewLinkCollector(reg prometheus.Registerer) (*LinkCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	packets, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "prbs_packets_total",
		Help: "PRBS test packets observed by the verifier, labeled by outcome.",
	}, []string{"outcome"}), "prbs_packets_total")
	if err != nil {
		return nil, err
	}
	fer, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "prbs_frame_error_rate",
		Help: "Frame error rate of the last finalized verification run.",
	}), "prbs_frame_error_rate")
	if err != nil {
		return nil, err
	}

	blocks, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "golay_blocks_total",
		Help: "Golay codewords decoded, labeled by result (clean, corrected, uncorrectable).",
	}, []string{"result"}), "golay_blocks_total")
	if err != nil {
		return nil, err
	}
	correctedBits, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "golay_corrected_bits_total",
		Help: "Bit errors corrected by the Golay decoder.",
	}), "golay_corrected_bits_total")
	if err != nil {
		return nil, err
	}

	published, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "doppler_corrections_published_total",
		Help: "Doppler corrections published to the receiver chain.",
	}), "doppler_corrections_published_total")
	if err != nil {
		return nil, err
	}
	skipped, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "doppler_corrections_skipped_total",
		Help: "Doppler corrections skipped because their time had already passed.",
	}), "doppler_corrections_skipped_total")
	if err != nil {
		return nil, err
	}
	downlink, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "doppler_downlink_shift_hz",
		Help: "Most recently published downlink Doppler shift in Hz.",
	}), "doppler_downlink_shift_hz")
	if err != nil {
		return nil, err
	}
	uplink, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "doppler_uplink_shift_hz",
		Help: "Most recently published uplink Doppler shift in Hz.",
	}), "doppler_uplink_shift_hz")
	if err != nil {
		return nil, err
	}
	lateness, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "doppler_publish_lateness_seconds",
		Help:    "Delay between a correction's scheduled time and its publication.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}), "doppler_publish_lateness_seconds")
	if err != nil {
		return nil, err
	}

	forwarded, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_items_total",
		Help: "Telemetry items handled by the relay, labeled by result.",
	}, []string{"result"}), "relay_items_total")
	if err != nil {
		return nil, err
	}
	depth, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_queue_depth",
		Help: "Telemetry items waiting in the relay queue.",
	}), "relay_queue_depth")
	if err != nil {
		return nil, err
	}

	return &LinkCollector{
		gatherer:             gatherer,
		VerifierPackets:      packets,
		FrameErrorRate:       fer,
		GolayBlocks:          blocks,
		GolayCorrectedBits:   correctedBits,
		DopplerPublished:     published,
		DopplerSkipped:       skipped,
		DopplerDownlinkShift: downlink,
		DopplerUplinkShift:   uplink,
		DopplerLateness:      lateness,
		RelayForwarded:       forwarded,
		RelayQueueDepth:      depth,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *LinkCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// RecordPacket satisfies verifier.MetricsRecorder.
func (c *LinkCollector) RecordPacket(outcome verifier.Outcome) {
	if c == nil || c.VerifierPackets == nil {
		return
	}
	c.VerifierPackets.WithLabelValues(string(outcome)).Inc()
}

// SetFrameErrorRate records the result of a finalized run.
func (c *LinkCollector) SetFrameErrorRate(fer float64) {
	if c == nil || c.FrameErrorRate == nil {
		return
	}
	c.FrameErrorRate.Set(fer)
}

// RecordGolayBlock records one decoded codeword.
func (c *LinkCollector) RecordGolayBlock(corrected int, err error) {
	if c == nil || c.GolayBlocks == nil {
		return
	}
	switch {
	case err != nil:
		c.GolayBlocks.WithLabelValues("uncorrectable").Inc()
	case corrected > 0:
		c.GolayBlocks.WithLabelValues("corrected").Inc()
		if c.GolayCorrectedBits != nil {
			c.GolayCorrectedBits.Add(float64(corrected))
		}
	default:
		c.GolayBlocks.WithLabelValues("clean").Inc()
	}
}

// RecordShiftPublished satisfies doppler.MetricsRecorder.
func (c *LinkCollector) RecordShiftPublished(s doppler.Shift, lateness time.Duration) {
	if c == nil {
		return
	}
	if c.DopplerPublished != nil {
		c.DopplerPublished.Inc()
	}
	if c.DopplerDownlinkShift != nil {
		c.DopplerDownlinkShift.Set(s.DownlinkShiftHz)
	}
	if c.DopplerUplinkShift != nil {
		c.DopplerUplinkShift.Set(s.UplinkShiftHz)
	}
	if c.DopplerLateness != nil {
		if lateness < 0 {
			lateness = 0
		}
		c.DopplerLateness.Observe(lateness.Seconds())
	}
}

// RecordShiftSkipped satisfies doppler.MetricsRecorder.
func (c *LinkCollector) RecordShiftSkipped() {
	if c == nil || c.DopplerSkipped == nil {
		return
	}
	c.DopplerSkipped.Inc()
}

// RecordRelayed satisfies relay.MetricsRecorder.
func (c *LinkCollector) RecordRelayed(err error) {
	if c == nil || c.RelayForwarded == nil {
		return
	}
	result := "forwarded"
	if err != nil {
		result = "failed"
	}
	c.RelayForwarded.WithLabelValues(result).Inc()
}

// SetQueueDepth satisfies relay.MetricsRecorder.
func (c *LinkCollector) SetQueueDepth(n int) {
	if c == nil || c.RelayQueueDepth == nil {
		return
	}
	c.RelayQueueDepth.Set(float64(n))
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
