package application

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"

	alarms "engineroom-ess/internal/alarms/domain"
	"engineroom-ess/internal/alarms/infrastructure/csvlog"
	"engineroom-ess/internal/config"
	"engineroom-ess/internal/observability/metrics"
	"engineroom-ess/internal/registers"
)

// AlarmNotifier publishes alarm lifecycle events.
type AlarmNotifier interface {
	Notify(ctx context.Context, event AlarmEvent)
}

// AlarmEvent represents a lifecycle update.
type AlarmEvent struct {
	Type   string        `json:"type"`
	Record alarms.Record `json:"record"`
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Monitor drains the controller ring buffer into the journal. It idles
// until the new-alarm flag register goes up, persists every slot entry it
// has not seen yet, and only then resets the flag: a failed drain is
// retried whole on the next tick, so delivery is at least once and the
// journal deduplicates.
type Monitor struct {
	bank     registers.Bank
	layout   registers.Layout
	sensors  []config.Sensor
	journal  *csvlog.Journal
	notifier AlarmNotifier
	clock    Clock
	logger   zerolog.Logger

	// last persisted raise per sensor index, unix seconds
	lastSeen []uint32
}

// MonitorOption customizes the monitor.
type MonitorOption func(*Monitor)

// WithNotifier assigns a notifier.
func WithNotifier(notifier AlarmNotifier) MonitorOption {
	return func(m *Monitor) {
		m.notifier = notifier
	}
}

// WithMonitorClock assigns a clock.
func WithMonitorClock(clock Clock) MonitorOption {
	return func(m *Monitor) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// NewMonitor constructs a monitor and recovers its per-sensor watermarks
// from the journal so a restart does not re-persist old slots.
func NewMonitor(bank registers.Bank, layout registers.Layout, sensors []config.Sensor, journal *csvlog.Journal, logger zerolog.Logger, opts ...MonitorOption) (*Monitor, error) {
	if bank == nil {
		return nil, errors.New("alarms: register bank is required")
	}
	if len(sensors) != layout.SensorCount() {
		return nil, errors.New("alarms: sensor list does not match layout")
	}
	if journal == nil {
		return nil, errors.New("alarms: journal is required")
	}
	m := &Monitor{
		bank:     bank,
		layout:   layout,
		sensors:  sensors,
		journal:  journal,
		clock:    systemClock{},
		logger:   logger,
		lastSeen: make([]uint32, len(sensors)),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.recover(); err != nil {
		return nil, err
	}
	return m, nil
}

// recover seeds the watermarks from recent journal partitions.
func (m *Monitor) recover() error {
	now := m.clock.Now()
	records, err := m.journal.ReadRange(now.Add(-48*time.Hour), now.Add(time.Hour))
	if err != nil {
		return err
	}
	index := make(map[string]int, len(m.sensors))
	for i, s := range m.sensors {
		index[s.ID] = i
	}
	for _, rec := range records {
		i, ok := index[rec.SensorID]
		if !ok {
			continue
		}
		if ts := uint32(rec.RaisedAt.Unix()); ts > m.lastSeen[i] {
			m.lastSeen[i] = ts
		}
	}
	return nil
}

// Tick runs one poll cycle.
func (m *Monitor) Tick(ctx context.Context) {
	if m == nil {
		return
	}
	flag, err := m.bank.ReadBlock(m.layout.NewAlarmFlagAddr(), 1)
	if err != nil {
		metrics.IncRegisterError("read")
		m.logger.Error().Err(err).Msg("read new-alarm flag failed")
		return
	}
	if flag[0] == 0 {
		return
	}
	if err := m.drain(ctx); err != nil {
		metrics.IncMonitorDrain(metrics.ResultError)
		m.logger.Error().Err(err).Msg("drain failed, flag left up for retry")
		return
	}
	if err := m.bank.WriteBlock(m.layout.NewAlarmFlagAddr(), []uint16{0}); err != nil {
		metrics.IncRegisterError("write")
		m.logger.Error().Err(err).Msg("reset new-alarm flag failed")
		return
	}
	metrics.IncMonitorDrain(metrics.ResultSuccess)
}

// drain persists every slot entry newer than its sensor's watermark.
// Slots are processed oldest first, not in slot order: after the ring
// cursor wraps, the newest entry for a sensor sits at a lower slot index,
// and persisting it first would raise the watermark past the older
// entries still in the buffer.
func (m *Monitor) drain(ctx context.Context) error {
	pending := make([]registers.Slot, 0, registers.RingSlots)
	for i := 0; i < registers.RingSlots; i++ {
		words, err := m.bank.ReadBlock(m.layout.SlotAddr(i), registers.SlotWords)
		if err != nil {
			metrics.IncRegisterError("read")
			return err
		}
		slot, err := registers.DecodeSlot(words)
		if err != nil {
			m.logger.Warn().Err(err).Int("slot", i).Msg("skipping undecodable slot")
			continue
		}
		if slot.Empty() {
			continue
		}
		if int(slot.Sensor) >= len(m.sensors) {
			m.logger.Warn().Int("slot", i).Uint16("sensor", slot.Sensor).Msg("skipping slot for unknown sensor")
			continue
		}
		pending = append(pending, slot)
	}
	sort.SliceStable(pending, func(a, b int) bool {
		return pending[a].RaisedAt < pending[b].RaisedAt
	})
	for _, slot := range pending {
		if slot.RaisedAt <= m.lastSeen[slot.Sensor] {
			continue
		}
		rec := m.toRecord(slot)
		if err := m.journal.Append(rec); err != nil {
			return err
		}
		m.lastSeen[slot.Sensor] = slot.RaisedAt
		if m.notifier != nil {
			m.notifier.Notify(ctx, AlarmEvent{Type: "raised", Record: rec})
		}
	}
	return nil
}

func (m *Monitor) toRecord(slot registers.Slot) alarms.Record {
	sensor := m.sensors[slot.Sensor]
	raisedAt := time.Unix(int64(slot.RaisedAt), 0).UTC()
	alarmType := alarms.TypeHigh
	if slot.Kind == registers.AlarmLow {
		alarmType = alarms.TypeLow
	}
	rec := alarms.Record{
		ID:        alarms.BuildRecordID(sensor.ID, raisedAt),
		SensorID:  sensor.ID,
		Type:      alarmType,
		RaisedAt:  raisedAt,
		Value:     registers.DecodeScaled(slot.Value, sensor.Factor),
		Threshold: registers.DecodeScaled(slot.Threshold, sensor.Factor),
		Status:    alarms.StatusActive,
	}
	if slot.Acked {
		rec.Status = alarms.StatusAcknowledged
		rec.AckedAt = raisedAt.Add(time.Duration(slot.AckDelaySec) * time.Second)
	}
	return rec
}
