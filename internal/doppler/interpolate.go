// Package doppler turns a pass's range-rate track into frequency corrections
// published at the times they apply.
package doppler

import (
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/groundlink/model"
)

// SpeedOfLight in m/s.
const SpeedOfLight = 299792458.0

var (
	// ErrInvalidConfiguration is returned for unusable scheduler settings.
	ErrInvalidConfiguration = errors.New("doppler: invalid configuration")
	// ErrUnorderedSamples is returned when sample timestamps are not strictly increasing.
	ErrUnorderedSamples = errors.New("doppler: coordinate samples not strictly increasing")
	// ErrPlanNotFound is returned when the requested plan is not in the lookup window.
	ErrPlanNotFound = errors.New("doppler: plan not found")
	// ErrEmptyPlan is returned when the plan carries no coordinates.
	ErrEmptyPlan = errors.New("doppler: plan has no coordinates")
)

// Interpolate densifies samples to perSecond points per original interval.
// Between each consecutive pair it emits perSecond evenly spaced points from
// the first sample (inclusive) up to the next (exclusive), with linearly
// interpolated range rate, then appends the final sample unchanged.
func Interpolate(samples []model.CoordinateSample, perSecond int) ([]model.CoordinateSample, error) {
	if perSecond < 1 {
		return nil, fmt.Errorf("%w: corrections per second must be at least 1, got %d", ErrInvalidConfiguration, perSecond)
	}
	if len(samples) == 0 {
		return []model.CoordinateSample{}, nil
	}

	out := make([]model.CoordinateSample, 0, (len(samples)-1)*perSecond+1)
	for i := 0; i < len(samples)-1; i++ {
		cur, next := samples[i], samples[i+1]
		gap := next.Time.Sub(cur.Time)
		if gap <= 0 {
			return nil, fmt.Errorf("%w: sample %d at %s is not before sample %d at %s",
				ErrUnorderedSamples, i, cur.Time.Format(time.RFC3339Nano), i+1, next.Time.Format(time.RFC3339Nano))
		}
		rateStep := (next.RangeRate - cur.RangeRate) / float64(perSecond)
		for j := 0; j < perSecond; j++ {
			out = append(out, model.CoordinateSample{
				Time:      cur.Time.Add(gap * time.Duration(j) / time.Duration(perSecond)),
				RangeRate: cur.RangeRate + float64(j)*rateStep,
			})
		}
	}
	return append(out, samples[len(samples)-1]), nil
}

// Shift is the correction for one instant of the pass.
type Shift struct {
	Time      time.Time `json:"time"`
	RangeRate float64   `json:"range_rate"`
	// DownlinkShiftHz is f_downlink * range_rate / c.
	DownlinkShiftHz float64 `json:"downlink_shift_hz"`
	// UplinkShiftHz is f_uplink * range_rate / c.
	UplinkShiftHz float64 `json:"uplink_shift_hz"`
	// DownlinkHz is the frequency expected at the receiver.
	DownlinkHz float64 `json:"downlink_hz"`
	// UplinkHz is the pre-compensated transmit frequency.
	UplinkHz float64 `json:"uplink_hz"`
}

// ComputeShift applies the first-order Doppler approximation to the centre
// frequencies for the given range rate.
func ComputeShift(rangeRate, downlinkHz, uplinkHz float64) Shift {
	beta := rangeRate / SpeedOfLight
	return Shift{
		RangeRate:       rangeRate,
		DownlinkShiftHz: downlinkHz * beta,
		UplinkShiftHz:   uplinkHz * beta,
		DownlinkHz:      downlinkHz * (1 - beta),
		UplinkHz:        uplinkHz * (1 + beta),
	}
}
