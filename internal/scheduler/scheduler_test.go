package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dohr-michael/taskscope/internal/events"
	"github.com/dohr-michael/taskscope/internal/tasks"
)

type countingRefresher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *countingRefresher) RefreshTasks(context.Context) ([]tasks.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return []tasks.Task{{ID: "1"}, {ID: "2"}}, nil
}

func (r *countingRefresher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

func newTestScheduler(t *testing.T, cfg Config) (*Scheduler, *countingRefresher, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	ref := &countingRefresher{}
	if cfg.Bus == nil {
		cfg.Bus = events.NewBus(64)
		t.Cleanup(cfg.Bus.Close)
	}
	cfg.Refresher = ref
	cfg.Now = clock.Now
	return New(cfg), ref, clock
}

func TestScheduler_IntervalTick(t *testing.T) {
	s, ref, clock := newTestScheduler(t, Config{})
	if err := s.register(&ScheduleEntry{ID: "every-minute", IntervalSec: 60, Enabled: true}, false); err != nil {
		t.Fatalf("register: %v", err)
	}

	s.tick(clock.Advance(30 * time.Second))
	s.runs.Wait()
	if ref.count() != 0 {
		t.Fatalf("refreshed before the interval elapsed")
	}

	s.tick(clock.Advance(30 * time.Second))
	s.runs.Wait()
	if ref.count() != 1 {
		t.Fatalf("expected 1 refresh, got %d", ref.count())
	}

	entry, ok := s.GetEntry("every-minute")
	if !ok || entry.RunCount != 1 || entry.LastRunAt == nil {
		t.Fatalf("unexpected entry state: %+v", entry)
	}
}

func TestScheduler_CronTick(t *testing.T) {
	s, ref, clock := newTestScheduler(t, Config{})
	if err := s.register(&ScheduleEntry{ID: "quarter", CronSpec: "*/15 * * * *", Enabled: true}, false); err != nil {
		t.Fatalf("register: %v", err)
	}

	s.tick(clock.Advance(14 * time.Minute))
	s.runs.Wait()
	if ref.count() != 0 {
		t.Fatal("refreshed before the cron activation")
	}
	s.tick(clock.Advance(time.Minute))
	s.runs.Wait()
	if ref.count() != 1 {
		t.Fatalf("expected 1 refresh at :15, got %d", ref.count())
	}
}

func TestScheduler_DisabledEntryNeverFires(t *testing.T) {
	s, ref, clock := newTestScheduler(t, Config{})
	if err := s.register(&ScheduleEntry{ID: "off", IntervalSec: 10}, false); err != nil {
		t.Fatalf("register: %v", err)
	}
	s.tick(clock.Advance(time.Hour))
	s.runs.Wait()
	if ref.count() != 0 {
		t.Fatal("disabled entry fired")
	}
}

func TestScheduler_EventTrigger(t *testing.T) {
	trigger := &EventTrigger{Event: string(events.EventTaskFileChanged)}
	s, ref, clock := newTestScheduler(t, Config{
		Entries: []*ScheduleEntry{{ID: "on-change", OnEvent: trigger, CooldownSec: 30, Enabled: true}},
	})
	s.Start()

	changed := events.NewTypedEvent(events.SourceWatcher, events.TaskFileChangedPayload{Path: "tasks.md"})
	s.bus.Publish(changed)
	s.runs.Wait()
	if ref.count() != 1 {
		t.Fatalf("expected 1 refresh, got %d", ref.count())
	}

	// Within the cooldown.
	s.bus.Publish(changed)
	clock.Advance(31 * time.Second)
	s.bus.Publish(events.NewTypedEvent(events.SourceScheduler, events.TaskFileChangedPayload{Path: "tasks.md"}))
	s.Stop()

	if ref.count() != 1 {
		t.Fatalf("expected cooldown and loop prevention to hold, got %d refreshes", ref.count())
	}
}

func TestScheduler_MaxRunsDisables(t *testing.T) {
	s, ref, clock := newTestScheduler(t, Config{})
	if err := s.register(&ScheduleEntry{ID: "twice", IntervalSec: 10, MaxRuns: 2, Enabled: true}, false); err != nil {
		t.Fatalf("register: %v", err)
	}
	for i := 0; i < 4; i++ {
		s.tick(clock.Advance(10 * time.Second))
		s.runs.Wait()
	}
	if ref.count() != 2 {
		t.Fatalf("expected 2 refreshes, got %d", ref.count())
	}
	if e, _ := s.GetEntry("twice"); e.Enabled {
		t.Fatal("entry should be disabled after max runs")
	}
}

func TestScheduler_TriggerPublishes(t *testing.T) {
	s, ref, _ := newTestScheduler(t, Config{})
	if err := s.register(&ScheduleEntry{ID: "manual", IntervalSec: 60, Enabled: true}, false); err != nil {
		t.Fatalf("register: %v", err)
	}
	triggers, unsubscribe := s.bus.SubscribeChan(4, events.EventScheduleTrigger)
	defer unsubscribe()

	if err := s.Trigger(context.Background(), "manual"); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	e := <-triggers
	p, ok := events.ExtractPayload[events.ScheduleTriggerPayload](e)
	if !ok || p.EntryID != "manual" || p.Trigger != "manual" || p.Count != 2 || p.Error != "" {
		t.Fatalf("unexpected payload: %+v", p)
	}

	ref.err = errors.New("server down")
	if err := s.Trigger(context.Background(), "manual"); err == nil {
		t.Fatal("expected the refresh error")
	}
	e = <-triggers
	p, _ = events.ExtractPayload[events.ScheduleTriggerPayload](e)
	if p.Error != "server down" {
		t.Fatalf("expected the error in the payload, got %+v", p)
	}

	if err := s.Trigger(context.Background(), "missing"); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("unknown entry: got %v", err)
	}
}

func TestScheduler_AddEntryPersists(t *testing.T) {
	store := NewScheduleStore(filepath.Join(t.TempDir(), "schedules.json"))
	s, _, _ := newTestScheduler(t, Config{Store: store})

	if err := s.AddEntry(&ScheduleEntry{Title: "nightly", CronSpec: "0 3 * * *", Enabled: true}); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	if err := s.AddEntry(&ScheduleEntry{Title: "too fast", IntervalSec: 1, Enabled: true}); err == nil {
		t.Fatal("expected the minimum interval to be enforced")
	}
	if err := s.AddEntry(&ScheduleEntry{Title: "no trigger"}); err == nil {
		t.Fatal("expected an entry without trigger to be rejected")
	}

	reloaded, _, _ := newTestScheduler(t, Config{Store: store})
	reloaded.Start()
	defer reloaded.Stop()

	list := reloaded.ListEntries()
	if len(list) != 1 || list[0].CronSpec != "0 3 * * *" {
		t.Fatalf("expected the persisted entry, got %+v", list)
	}

	if err := reloaded.RemoveEntry(list[0].ID); err != nil {
		t.Fatalf("RemoveEntry: %v", err)
	}
	persisted, _ := store.List()
	if len(persisted) != 0 {
		t.Fatalf("expected the store to be empty, got %d", len(persisted))
	}
}

func TestEntryFromSpec(t *testing.T) {
	e, err := EntryFromSpec("refresh", "10m")
	if err != nil {
		t.Fatalf("duration: %v", err)
	}
	if e.IntervalSec != 600 || e.CronSpec != "" || !e.Enabled {
		t.Fatalf("unexpected interval entry: %+v", e)
	}

	e, err = EntryFromSpec("refresh", "@every 2m")
	if err != nil {
		t.Fatalf("descriptor: %v", err)
	}
	if e.CronSpec != "@every 2m" {
		t.Fatalf("unexpected cron entry: %+v", e)
	}

	for _, bad := range []string{"", "1s", "every now and then"} {
		if _, err := EntryFromSpec("refresh", bad); err == nil {
			t.Errorf("EntryFromSpec(%q): expected an error", bad)
		}
	}
}
