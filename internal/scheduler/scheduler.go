// Package scheduler refreshes the task list on cron, interval and event
// triggers.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dohr-michael/taskscope/internal/events"
	"github.com/dohr-michael/taskscope/internal/tasks"
)

// DefaultCooldown is the minimum interval between two event triggers of the
// same entry.
const DefaultCooldown = 10 * time.Second

// Refresher re-resolves the task list.
type Refresher interface {
	RefreshTasks(ctx context.Context) ([]tasks.Task, error)
}

// Config holds dependencies for the scheduler.
type Config struct {
	Refresher Refresher
	Bus       *events.Bus
	Entries   []*ScheduleEntry // static entries, usually from configuration
	Store     *ScheduleStore   // nil-safe: added entries are not persisted without a store
	Now       func() time.Time
}

// runtimeEntry is the internal state of one schedule entry.
type runtimeEntry struct {
	id        string
	title     string
	persisted bool
	cron      *CronExpr
	interval  time.Duration
	onEvent   *EventTrigger
	cooldown  time.Duration
	maxRuns   int
	runCount  int
	enabled   bool
	createdAt time.Time
	lastRun   time.Time
	nextRun   time.Time
	running   bool
}

// Scheduler runs refreshes for its entries.
type Scheduler struct {
	refresher Refresher
	bus       *events.Bus
	static    []*ScheduleEntry
	store     *ScheduleStore
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]*runtimeEntry

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup // ticker loop
	runs        sync.WaitGroup // background refreshes
	unsubscribe func()
}

// New creates a new Scheduler.
func New(cfg Config) *Scheduler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		refresher: cfg.Refresher,
		bus:       cfg.Bus,
		static:    cfg.Entries,
		store:     cfg.Store,
		now:       now,
		entries:   make(map[string]*runtimeEntry),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start loads the static and persisted entries and begins the ticker and
// event subscription.
func (s *Scheduler) Start() {
	for _, se := range s.static {
		if err := s.register(se, false); err != nil {
			slog.Warn("scheduler: invalid entry", "id", se.ID, "error", err)
		}
	}
	s.loadPersistedEntries()

	slog.Info("scheduler started", "entries", len(s.entries))

	if s.bus != nil {
		s.unsubscribe = s.bus.Subscribe(s.handleEvent)
	}
	s.wg.Add(1)
	go s.loop()
}

// Stop halts the scheduler and waits for running refreshes.
func (s *Scheduler) Stop() {
	s.cancel()
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.wg.Wait()
	s.runs.Wait()
	slog.Info("scheduler stopped")
}

// AddEntry registers an entry at runtime and persists it when a store is
// configured.
func (s *Scheduler) AddEntry(se *ScheduleEntry) error {
	if err := se.Validate(); err != nil {
		return err
	}
	if se.ID == "" {
		se.ID = GenerateScheduleID()
	}
	if s.store != nil {
		if err := s.store.Create(se); err != nil {
			return fmt.Errorf("persist schedule: %w", err)
		}
	}
	if err := s.register(se, s.store != nil); err != nil {
		return err
	}
	slog.Info("scheduler: added entry", "id", se.ID, "spec", se.Spec())
	return nil
}

// RemoveEntry removes a schedule entry by ID.
func (s *Scheduler) RemoveEntry(id string) error {
	s.mu.Lock()
	re, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	delete(s.entries, id)
	s.mu.Unlock()

	if s.store != nil && re.persisted {
		if err := s.store.Delete(id); err != nil {
			slog.Warn("scheduler: failed to delete persisted entry", "id", id, "error", err)
		}
	}

	slog.Info("scheduler: removed entry", "id", id)
	return nil
}

// GetEntry returns a schedule entry by ID.
func (s *Scheduler) GetEntry(id string) (*ScheduleEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	re, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	return re.toScheduleEntry(), true
}

// ListEntries returns all schedule entries.
func (s *Scheduler) ListEntries() []*ScheduleEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*ScheduleEntry, 0, len(s.entries))
	for _, re := range s.entries {
		result = append(result, re.toScheduleEntry())
	}
	return result
}

// Trigger runs the entry immediately and waits for the refresh.
func (s *Scheduler) Trigger(ctx context.Context, id string) error {
	s.mu.Lock()
	re, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	if re.running {
		s.mu.Unlock()
		return fmt.Errorf("schedule entry %s is already running", id)
	}
	re.running = true
	s.mu.Unlock()

	return s.run(ctx, re, "manual")
}

func (r *runtimeEntry) toScheduleEntry() *ScheduleEntry {
	se := &ScheduleEntry{
		ID:          r.id,
		Title:       r.title,
		IntervalSec: int(r.interval / time.Second),
		OnEvent:     r.onEvent,
		CooldownSec: int(r.cooldown / time.Second),
		MaxRuns:     r.maxRuns,
		RunCount:    r.runCount,
		Enabled:     r.enabled,
		CreatedAt:   r.createdAt,
	}
	if r.cron != nil {
		se.CronSpec = r.cron.String()
	}
	if !r.lastRun.IsZero() {
		t := r.lastRun
		se.LastRunAt = &t
	}
	return se
}

func (s *Scheduler) register(se *ScheduleEntry, persisted bool) error {
	if err := se.Validate(); err != nil {
		return err
	}
	re := &runtimeEntry{
		id:        se.ID,
		title:     se.Title,
		persisted: persisted,
		interval:  time.Duration(se.IntervalSec) * time.Second,
		onEvent:   se.OnEvent,
		cooldown:  time.Duration(se.CooldownSec) * time.Second,
		maxRuns:   se.MaxRuns,
		runCount:  se.RunCount,
		enabled:   se.Enabled,
		createdAt: se.CreatedAt,
	}
	if se.LastRunAt != nil {
		re.lastRun = *se.LastRunAt
	}
	if se.CronSpec != "" {
		expr, err := ParseCron(se.CronSpec)
		if err != nil {
			return err
		}
		re.cron = expr
	}
	if re.cooldown == 0 {
		re.cooldown = DefaultCooldown
	}
	re.nextRun = re.next(s.now())

	s.mu.Lock()
	s.entries[re.id] = re
	s.mu.Unlock()
	return nil
}

// next computes the next timed activation after now. Event-only entries
// have none.
func (r *runtimeEntry) next(now time.Time) time.Time {
	switch {
	case r.cron != nil:
		return r.cron.Next(now)
	case r.interval > 0:
		return now.Add(r.interval)
	}
	return time.Time{}
}

func (s *Scheduler) loadPersistedEntries() {
	if s.store == nil {
		return
	}

	entries, err := s.store.List()
	if err != nil {
		slog.Warn("scheduler: failed to load persisted entries", "error", err)
		return
	}

	for _, se := range entries {
		if !se.Enabled {
			continue
		}
		if err := s.register(se, true); err != nil {
			slog.Warn("scheduler: invalid persisted entry", "id", se.ID, "error", err)
			continue
		}
		slog.Info("scheduler: loaded persisted entry", "id", se.ID, "spec", se.Spec())
	}
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick(s.now())
		}
	}
}

// tick fires every timed entry that is due at now.
func (s *Scheduler) tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, re := range s.entries {
		if !re.enabled || re.nextRun.IsZero() || now.Before(re.nextRun) {
			continue
		}
		re.nextRun = re.next(now)
		trigger := "interval"
		if re.cron != nil {
			trigger = "cron"
		}
		s.fire(re, trigger)
	}
}

func (s *Scheduler) handleEvent(e events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, re := range s.entries {
		if re.onEvent == nil || !re.enabled {
			continue
		}
		if !MatchEvent(e, re.onEvent) {
			continue
		}
		if !re.lastRun.IsZero() && now.Sub(re.lastRun) < re.cooldown {
			continue
		}
		s.fire(re, "event:"+string(e.Type))
	}
}

// fire starts a refresh in the background unless one is already running for
// the entry. Caller must hold s.mu.
func (s *Scheduler) fire(re *runtimeEntry, trigger string) {
	if s.ctx.Err() != nil {
		return
	}
	if re.running {
		slog.Debug("scheduler: skipping overlapping run", "id", re.id, "trigger", trigger)
		return
	}
	re.running = true
	re.lastRun = s.now()

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		if err := s.run(s.ctx, re, trigger); err != nil {
			slog.Warn("scheduler: refresh failed", "id", re.id, "trigger", trigger, "error", err)
		}
	}()
}

// run performs one refresh and records the outcome. re.running must be set.
func (s *Scheduler) run(ctx context.Context, re *runtimeEntry, trigger string) error {
	var (
		list []tasks.Task
		err  error
	)
	if s.refresher != nil {
		list, err = s.refresher.RefreshTasks(ctx)
	}

	s.mu.Lock()
	re.running = false
	re.runCount++
	if trigger == "manual" {
		re.lastRun = s.now()
	}
	if re.maxRuns > 0 && re.runCount >= re.maxRuns {
		re.enabled = false
		slog.Info("scheduler: entry reached max runs, disabled", "id", re.id, "runs", re.runCount)
	}
	var snapshot *ScheduleEntry
	if s.store != nil && re.persisted {
		snapshot = re.toScheduleEntry()
	}
	spec := re.toScheduleEntry().Spec()
	s.mu.Unlock()

	if snapshot != nil {
		if uerr := s.store.Update(snapshot); uerr != nil {
			slog.Warn("scheduler: failed to update persisted entry", "id", re.id, "error", uerr)
		}
	}

	payload := events.ScheduleTriggerPayload{
		EntryID: re.id,
		Spec:    spec,
		Trigger: trigger,
		Count:   len(list),
	}
	if err != nil {
		payload.Error = err.Error()
	}
	if s.bus != nil {
		s.bus.Publish(events.NewTypedEvent(events.SourceScheduler, payload))
	}

	slog.Info("scheduler: triggered", "id", re.id, "trigger", trigger, "tasks", len(list))
	return err
}
