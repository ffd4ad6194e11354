package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/rs/zerolog"

	alarms "engineroom-ess/internal/alarms/domain"
	"engineroom-ess/internal/alarms/infrastructure/csvlog"
	"engineroom-ess/internal/config"
	"engineroom-ess/internal/registers"
)

type stubClock struct{ now time.Time }

func (c *stubClock) Now() time.Time { return c.now }

// flakyBank wraps a store and fails writes on demand.
type flakyBank struct {
	*registers.Store
	mu         sync.Mutex
	failWrites bool
}

func (b *flakyBank) WriteBlock(addr uint16, values []uint16) error {
	b.mu.Lock()
	fail := b.failWrites
	b.mu.Unlock()
	if fail {
		return errors.New("bank: write refused")
	}
	return b.Store.WriteBlock(addr, values)
}

type capturedEvents struct {
	mu     sync.Mutex
	events []AlarmEvent
}

func (c *capturedEvents) Notify(ctx context.Context, event AlarmEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func newMonitorFixture(t *testing.T) (*registers.Store, registers.Layout, config.Config, *csvlog.Journal) {
	t.Helper()
	cfg := config.Default()
	layout := registers.NewLayout(cfg.Registers, len(cfg.Sensors), len(cfg.Equipment))
	store, err := registers.NewStore(layout.Regions())
	if err != nil {
		t.Fatal(err)
	}
	journal, err := csvlog.NewJournal(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return store, layout, cfg, journal
}

func pushSlot(t *testing.T, bank registers.Bank, layout registers.Layout, index int, slot registers.Slot) {
	t.Helper()
	if err := bank.WriteBlock(layout.SlotAddr(index), slot.Encode()); err != nil {
		t.Fatal(err)
	}
	if err := bank.WriteBlock(layout.NewAlarmFlagAddr(), []uint16{1}); err != nil {
		t.Fatal(err)
	}
}

func TestMonitorIdlesWhileFlagIsDown(t *testing.T) {
	is := is.New(t)
	store, layout, cfg, journal := newMonitorFixture(t)

	events := &capturedEvents{}
	m, err := NewMonitor(store, layout, cfg.Sensors, journal, zerolog.Nop(), WithNotifier(events))
	is.NoErr(err)

	m.Tick(context.Background())

	count, err := journal.PartitionCount()
	is.NoErr(err)
	is.Equal(count, 0)
	is.Equal(len(events.events), 0)
}

func TestMonitorDrainsAndResetsFlag(t *testing.T) {
	is := is.New(t)
	store, layout, cfg, journal := newMonitorFixture(t)

	events := &capturedEvents{}
	m, err := NewMonitor(store, layout, cfg.Sensors, journal, zerolog.Nop(), WithNotifier(events))
	is.NoErr(err)

	raisedAt := uint32(1_700_000_000)
	pushSlot(t, store, layout, 0, registers.Slot{
		Sensor:    5, // TX6
		Kind:      registers.AlarmHigh,
		RaisedAt:  raisedAt,
		Value:     453,
		Threshold: 400,
	})

	m.Tick(context.Background())

	records, err := journal.ReadRange(time.Unix(0, 0), time.Now().Add(time.Hour))
	is.NoErr(err)
	is.Equal(len(records), 1)
	is.Equal(records[0].SensorID, "TX6")
	is.Equal(records[0].Type, alarms.TypeHigh)
	is.Equal(records[0].Value, 45.3)
	is.Equal(records[0].Threshold, 40.0)
	is.Equal(records[0].Status, alarms.StatusActive)

	flag, err := store.ReadBlock(layout.NewAlarmFlagAddr(), 1)
	is.NoErr(err)
	is.Equal(flag[0], uint16(0))

	is.Equal(len(events.events), 1)
	is.Equal(events.events[0].Type, "raised")

	// same slots, flag raised again: nothing new to persist
	is.NoErr(store.WriteBlock(layout.NewAlarmFlagAddr(), []uint16{1}))
	m.Tick(context.Background())
	records, err = journal.ReadRange(time.Unix(0, 0), time.Now().Add(time.Hour))
	is.NoErr(err)
	is.Equal(len(records), 1)
}

// After the ring cursor wraps, slot 0 holds the newest entry for a sensor
// while the older entries still sit in slots 1..9. A single drain must
// persist all of them, not just the one at the lowest index.
func TestMonitorDrainsWrappedRing(t *testing.T) {
	is := is.New(t)
	store, layout, cfg, journal := newMonitorFixture(t)

	m, err := NewMonitor(store, layout, cfg.Sensors, journal, zerolog.Nop())
	is.NoErr(err)

	base := uint32(1_700_000_000)
	pushSlot(t, store, layout, 0, registers.Slot{
		Sensor:    5,
		Kind:      registers.AlarmHigh,
		RaisedAt:  base + registers.RingSlots + 1,
		Value:     464,
		Threshold: 400,
	})
	for i := 1; i < registers.RingSlots; i++ {
		pushSlot(t, store, layout, i, registers.Slot{
			Sensor:    5,
			Kind:      registers.AlarmHigh,
			RaisedAt:  base + uint32(i),
			Value:     453,
			Threshold: 400,
		})
	}

	m.Tick(context.Background())

	records, err := journal.ReadRange(time.Unix(0, 0), time.Now().Add(time.Hour))
	is.NoErr(err)
	is.Equal(len(records), registers.RingSlots)
	// journal reads back oldest first; the wrapped slot 0 entry is last
	is.Equal(records[0].RaisedAt, time.Unix(int64(base+1), 0).UTC())
	is.Equal(records[registers.RingSlots-1].RaisedAt, time.Unix(int64(base+registers.RingSlots+1), 0).UTC())

	flag, err := store.ReadBlock(layout.NewAlarmFlagAddr(), 1)
	is.NoErr(err)
	is.Equal(flag[0], uint16(0))
}

func TestMonitorRetriesFailedDrain(t *testing.T) {
	is := is.New(t)
	store, layout, cfg, _ := newMonitorFixture(t)

	dir := t.TempDir()
	journal, err := csvlog.NewJournal(dir, zerolog.Nop())
	is.NoErr(err)

	bank := &flakyBank{Store: store}
	m, err := NewMonitor(bank, layout, cfg.Sensors, journal, zerolog.Nop())
	is.NoErr(err)

	pushSlot(t, store, layout, 0, registers.Slot{
		Sensor:   0,
		Kind:     registers.AlarmHigh,
		RaisedAt: 1_700_000_000,
		Value:    460,
	})

	// flag reset refused: the drain persisted but must leave the flag up
	bank.mu.Lock()
	bank.failWrites = true
	bank.mu.Unlock()
	m.Tick(context.Background())

	flag, err := store.ReadBlock(layout.NewAlarmFlagAddr(), 1)
	is.NoErr(err)
	is.Equal(flag[0], uint16(1))

	// next tick succeeds and the record is not duplicated
	bank.mu.Lock()
	bank.failWrites = false
	bank.mu.Unlock()
	m.Tick(context.Background())

	flag, err = store.ReadBlock(layout.NewAlarmFlagAddr(), 1)
	is.NoErr(err)
	is.Equal(flag[0], uint16(0))

	records, err := journal.ReadRange(time.Unix(0, 0), time.Now().Add(time.Hour))
	is.NoErr(err)
	is.Equal(len(records), 1)
}

func TestMonitorRecoversWatermarksAcrossRestart(t *testing.T) {
	is := is.New(t)
	store, layout, cfg, journal := newMonitorFixture(t)

	m, err := NewMonitor(store, layout, cfg.Sensors, journal, zerolog.Nop())
	is.NoErr(err)

	raisedAt := uint32(time.Now().UTC().Add(-time.Hour).Unix())
	pushSlot(t, store, layout, 0, registers.Slot{
		Sensor:   5,
		Kind:     registers.AlarmHigh,
		RaisedAt: raisedAt,
		Value:    453,
	})
	m.Tick(context.Background())

	// a fresh monitor over the same journal sees the slot as already done
	restarted, err := NewMonitor(store, layout, cfg.Sensors, journal, zerolog.Nop())
	is.NoErr(err)
	is.NoErr(store.WriteBlock(layout.NewAlarmFlagAddr(), []uint16{1}))
	restarted.Tick(context.Background())

	records, err := journal.ReadRange(time.Unix(0, 0), time.Now().Add(time.Hour))
	is.NoErr(err)
	is.Equal(len(records), 1)
}
