package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/groundlink/model"
)

var (
	// ErrPlanNotFound is returned when a plan ID is unknown.
	ErrPlanNotFound = errors.New("plan not found")
	// ErrInvalidPlan is returned by PutPlan for plans that cannot be scheduled.
	ErrInvalidPlan = errors.New("invalid plan")
)

// EventType indicates what kind of change happened in the store.
type EventType int

const (
	EventPlanPut EventType = iota
	EventPlanDeleted
)

// Event is emitted to subscribers when a plan changes.
type Event struct {
	Type EventType
	Plan model.Plan
}

// PlanStore is an in-memory, thread-safe store of pass plans keyed by plan ID.
type PlanStore struct {
	mu sync.RWMutex

	plans    map[string]model.Plan
	stations map[string]model.GroundStation

	nextSub int
	subs    map[int]func(Event)
}

// NewPlanStore constructs an empty store.
func NewPlanStore() *PlanStore {
	return &PlanStore{
		plans:    make(map[string]model.Plan),
		stations: make(map[string]model.GroundStation),
		subs:     make(map[int]func(Event)),
	}
}

// AddGroundStation registers or replaces a ground station.
func (s *PlanStore) AddGroundStation(gs model.GroundStation) error {
	if gs.ID == "" {
		return fmt.Errorf("ground station ID is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stations[gs.ID] = gs
	return nil
}

// GroundStation returns the ground station with the given ID.
func (s *PlanStore) GroundStation(id string) (model.GroundStation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	gs, ok := s.stations[id]
	return gs, ok
}

// PutPlan inserts or replaces a plan and notifies subscribers.
func (s *PlanStore) PutPlan(p model.Plan) error {
	if err := validatePlan(p); err != nil {
		return err
	}
	stored := p.Clone()

	s.mu.Lock()
	s.plans[p.ID] = stored
	subs := s.snapshotSubsLocked()
	s.mu.Unlock()

	notify(subs, Event{Type: EventPlanPut, Plan: stored.Clone()})
	return nil
}

// GetPlan returns a copy of the plan with the given ID.
func (s *PlanStore) GetPlan(id string) (model.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[id]
	if !ok {
		return model.Plan{}, fmt.Errorf("%w: %q", ErrPlanNotFound, id)
	}
	return p.Clone(), nil
}

// DeletePlan removes a plan and notifies subscribers.
func (s *PlanStore) DeletePlan(id string) error {
	s.mu.Lock()
	p, ok := s.plans[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrPlanNotFound, id)
	}
	delete(s.plans, id)
	subs := s.snapshotSubsLocked()
	s.mu.Unlock()

	notify(subs, Event{Type: EventPlanDeleted, Plan: p})
	return nil
}

// ListPlans returns the plans for a ground station whose AOS falls within
// [aosAfter, aosBefore], ordered by AOS. A zero bound is open.
func (s *PlanStore) ListPlans(groundStationID string, aosAfter, aosBefore time.Time) []model.Plan {
	s.mu.RLock()
	res := make([]model.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		if groundStationID != "" && p.GroundStationID != groundStationID {
			continue
		}
		if !aosAfter.IsZero() && p.AOS.Before(aosAfter) {
			continue
		}
		if !aosBefore.IsZero() && p.AOS.After(aosBefore) {
			continue
		}
		res = append(res, p.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool {
		if res[i].AOS.Equal(res[j].AOS) {
			return res[i].ID < res[j].ID
		}
		return res[i].AOS.Before(res[j].AOS)
	})
	return res
}

// PruneBefore deletes every plan whose LOS is before t and returns how many
// were removed.
func (s *PlanStore) PruneBefore(t time.Time) int {
	s.mu.Lock()
	var removed []model.Plan
	for id, p := range s.plans {
		if p.LOS.Before(t) {
			removed = append(removed, p)
			delete(s.plans, id)
		}
	}
	subs := s.snapshotSubsLocked()
	s.mu.Unlock()

	for _, p := range removed {
		notify(subs, Event{Type: EventPlanDeleted, Plan: p})
	}
	return len(removed)
}

// Len returns the number of stored plans.
func (s *PlanStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.plans)
}

// Subscribe registers a callback for store events. It returns an unsubscribe
// function.
func (s *PlanStore) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
		})
	}
}

func (s *PlanStore) snapshotSubsLocked() []func(Event) {
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, s.subs[id])
	}
	return subs
}

// Subscribers run outside the lock so they may call back into the store.
func notify(subs []func(Event), ev Event) {
	for _, sub := range subs {
		sub(ev)
	}
}

func validatePlan(p model.Plan) error {
	switch {
	case p.ID == "":
		return fmt.Errorf("%w: plan ID is required", ErrInvalidPlan)
	case p.GroundStationID == "":
		return fmt.Errorf("%w: plan %q has no ground station", ErrInvalidPlan, p.ID)
	case !p.LOS.IsZero() && p.LOS.Before(p.AOS):
		return fmt.Errorf("%w: plan %q ends before it starts", ErrInvalidPlan, p.ID)
	}
	for i := 1; i < len(p.Coordinates); i++ {
		if !p.Coordinates[i].Time.After(p.Coordinates[i-1].Time) {
			return fmt.Errorf("%w: plan %q coordinates out of order at %d", ErrInvalidPlan, p.ID, i)
		}
	}
	return nil
}
