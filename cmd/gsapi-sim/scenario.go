package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/groundlink/core"
	"github.com/signalsfoundry/groundlink/internal/logging"
	"github.com/signalsfoundry/groundlink/kb"
	"github.com/signalsfoundry/groundlink/model"
)

// Satellite is one tracked object described by a TLE.
type Satellite struct {
	Name  string `yaml:"name"`
	Line1 string `yaml:"line1"`
	Line2 string `yaml:"line2"`
}

// Scenario lists the stations and satellites the simulator plans passes for.
type Scenario struct {
	MinElevationDeg float64               `yaml:"min_elevation_deg"`
	GroundStations  []model.GroundStation `yaml:"ground_stations"`
	Satellites      []Satellite           `yaml:"satellites"`
}

func loadScenario(path string) (Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario %s: %w", path, err)
	}
	var sc Scenario
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return Scenario{}, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	return sc, nil
}

// loadTLEFile reads a two-line or three-line (name first) element file.
func loadTLEFile(path string) (Satellite, error) {
	f, err := os.Open(path)
	if err != nil {
		return Satellite{}, fmt.Errorf("open TLE %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimRight(sc.Text(), "\r "); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return Satellite{}, fmt.Errorf("read TLE %s: %w", path, err)
	}

	switch len(lines) {
	case 2:
		return Satellite{Line1: lines[0], Line2: lines[1]}, nil
	case 3:
		return Satellite{Name: strings.TrimSpace(lines[0]), Line1: lines[1], Line2: lines[2]}, nil
	default:
		return Satellite{}, fmt.Errorf("%w: %s has %d non-empty lines", core.ErrInvalidTLE, path, len(lines))
	}
}

// planFeeder keeps the plan store filled with predicted passes for the
// coming horizon and prunes passes that ended before the retention window.
type planFeeder struct {
	store     *kb.PlanStore
	planners  []*core.PassPlanner
	horizon   time.Duration
	retention time.Duration
	interval  time.Duration
	log       logging.Logger

	mu   sync.Mutex
	last time.Time
}

func newPlanFeeder(store *kb.PlanStore, sc Scenario, cfg Config, log logging.Logger) (*planFeeder, error) {
	if len(sc.GroundStations) == 0 || len(sc.Satellites) == 0 {
		return nil, errors.New("scenario needs at least one ground station and one satellite")
	}
	minElev := cfg.MinElevationDeg
	if sc.MinElevationDeg != 0 {
		minElev = sc.MinElevationDeg
	}

	f := &planFeeder{
		store:     store,
		horizon:   cfg.Horizon,
		retention: cfg.Retention,
		interval:  cfg.Refresh,
		log:       log,
	}
	for _, gs := range sc.GroundStations {
		if err := store.AddGroundStation(gs); err != nil {
			return nil, err
		}
		for _, sat := range sc.Satellites {
			p, err := core.NewPassPlanner(sat.Line1, sat.Line2, gs, core.WithMinElevation(minElev))
			if err != nil {
				return nil, fmt.Errorf("satellite %q: %w", sat.Name, err)
			}
			f.planners = append(f.planners, p)
		}
	}
	return f, nil
}

// onTick refreshes when at least one interval of simulation time has passed
// since the previous refresh.
func (f *planFeeder) onTick(now time.Time) {
	f.mu.Lock()
	due := f.last.IsZero() || now.Sub(f.last) >= f.interval
	if due {
		f.last = now
	}
	f.mu.Unlock()
	if due {
		f.refresh(context.Background(), now)
	}
}

func (f *planFeeder) refresh(ctx context.Context, now time.Time) (stored, pruned int) {
	for _, p := range f.planners {
		plans, err := p.PlanPasses(now, now.Add(f.horizon))
		if err != nil {
			f.log.Warn(ctx, "pass planning failed", logging.String("satellite_id", p.SatelliteID()), logging.Err(err))
			continue
		}
		start := now.UTC().Truncate(time.Second)
		for _, plan := range plans {
			// A pass in progress comes back clipped to now; keep the
			// complete version stored earlier.
			if !plan.AOS.After(start) && f.tracked(plan) {
				continue
			}
			if err := f.store.PutPlan(plan); err != nil {
				f.log.Warn(ctx, "plan rejected", logging.String("plan_id", plan.ID), logging.Err(err))
				continue
			}
			stored++
		}
	}
	pruned = f.store.PruneBefore(now.Add(-f.retention))
	f.log.Info(ctx, "plans refreshed",
		logging.String("sim_time", now.Format(time.RFC3339)),
		logging.Int("stored", stored),
		logging.Int("pruned", pruned),
		logging.Int("total", f.store.Len()),
	)
	return stored, pruned
}

// tracked reports whether a stored plan of the same satellite already covers
// the start of plan.
func (f *planFeeder) tracked(plan model.Plan) bool {
	for _, p := range f.store.ListPlans(plan.GroundStationID, plan.AOS.Add(-f.horizon), plan.AOS) {
		if p.SatelliteID == plan.SatelliteID && !p.LOS.Before(plan.AOS) {
			return true
		}
	}
	return false
}

// currentPlan returns the plan of the station whose pass contains now.
func currentPlan(store *kb.PlanStore, groundStationID string, now time.Time, lookBack time.Duration) (model.Plan, bool) {
	for _, p := range store.ListPlans(groundStationID, now.Add(-lookBack), now) {
		if !p.LOS.Before(now) {
			return p, true
		}
	}
	return model.Plan{}, false
}
