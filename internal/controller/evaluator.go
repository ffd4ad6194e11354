package controller

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"engineroom-ess/internal/config"
	"engineroom-ess/internal/observability/metrics"
	"engineroom-ess/internal/registers"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type condition struct {
	high bool
	low  bool
}

// Evaluator compares each sensor reading against its threshold registers
// every tick and pushes edge-triggered alarm records into the ring. A raw
// cell of zero, reading or threshold, means the point is not wired and
// never alarms.
type Evaluator struct {
	bank    registers.Bank
	layout  registers.Layout
	sensors []config.Sensor
	ring    *Ring
	clock   Clock
	logger  zerolog.Logger
	prev    []condition
}

// EvaluatorOption customises evaluator construction.
type EvaluatorOption func(*Evaluator)

// WithEvaluatorClock overrides the evaluator clock.
func WithEvaluatorClock(clock Clock) EvaluatorOption {
	return func(e *Evaluator) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// NewEvaluator validates arguments and returns an evaluator.
func NewEvaluator(bank registers.Bank, layout registers.Layout, sensors []config.Sensor, ring *Ring, logger zerolog.Logger, opts ...EvaluatorOption) (*Evaluator, error) {
	if bank == nil {
		return nil, errors.New("controller: register bank is required")
	}
	if len(sensors) == 0 {
		return nil, errors.New("controller: sensor list is required")
	}
	if len(sensors) != layout.SensorCount() {
		return nil, errors.New("controller: sensor list does not match layout")
	}
	if ring == nil {
		return nil, errors.New("controller: ring is required")
	}
	e := &Evaluator{
		bank:    bank,
		layout:  layout,
		sensors: sensors,
		ring:    ring,
		clock:   systemClock{},
		logger:  logger,
		prev:    make([]condition, len(sensors)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Tick evaluates every sensor once. Threshold crossings push one record per
// inactive-to-active transition; the status region is rewritten afterwards.
// A fault on one sensor does not stop the others.
func (e *Evaluator) Tick() {
	if e == nil {
		return
	}
	readings, err := e.bank.ReadBlock(e.layout.SensorsAddr(), e.layout.SensorCount())
	if err != nil {
		metrics.IncRegisterError("read")
		e.logger.Error().Err(err).Msg("read sensor block failed")
		return
	}
	thresholds, err := e.bank.ReadBlock(e.layout.ThresholdsAddr(), 2*e.layout.SensorCount())
	if err != nil {
		metrics.IncRegisterError("read")
		e.logger.Error().Err(err).Msg("read threshold block failed")
		return
	}

	now := uint32(e.clock.Now().Unix())
	raised := 0
	for i, sensor := range e.sensors {
		cur := e.evaluate(sensor, readings[i], thresholds[i], thresholds[e.layout.SensorCount()+i])
		if cur.high && !e.prev[i].high {
			if e.push(i, registers.AlarmHigh, readings[i], thresholds[i], now) {
				raised++
			} else {
				cur.high = false // retry the edge next tick
			}
		}
		if cur.low && !e.prev[i].low {
			if e.push(i, registers.AlarmLow, readings[i], thresholds[e.layout.SensorCount()+i], now) {
				raised++
			} else {
				cur.low = false
			}
		}
		e.prev[i] = cur
	}

	if err := e.writeStatus(raised); err != nil {
		e.logger.Error().Err(err).Msg("write status region failed")
	}
}

// evaluate derives the instantaneous condition of one sensor. High and low
// are mutually exclusive; the upper limit wins the comparison order.
func (e *Evaluator) evaluate(sensor config.Sensor, rawValue, rawUpper, rawLower uint16) condition {
	if rawValue == 0 {
		return condition{}
	}
	value := registers.DecodeScaled(rawValue, sensor.Factor)
	var cur condition
	if rawUpper != 0 && value > registers.DecodeScaled(rawUpper, sensor.Factor) {
		cur.high = true
	} else if sensor.Limit == config.LimitDual && rawLower != 0 && value < registers.DecodeScaled(rawLower, sensor.Factor) {
		cur.low = true
	}
	return cur
}

func (e *Evaluator) push(sensorIndex int, kind registers.AlarmKind, rawValue, rawThreshold uint16, now uint32) bool {
	err := e.ring.Push(registers.Slot{
		Sensor:    uint16(sensorIndex),
		Kind:      kind,
		RaisedAt:  now,
		Value:     rawValue,
		Threshold: rawThreshold,
	})
	if err != nil {
		e.logger.Error().Err(err).Str("sensor", e.sensors[sensorIndex].ID).Msg("push alarm slot failed")
		return false
	}
	kindName := "HIGH"
	if kind == registers.AlarmLow {
		kindName = "LOW"
	}
	metrics.IncAlarmRaised(kindName)
	e.logger.Info().
		Str("sensor", e.sensors[sensorIndex].ID).
		Str("type", kindName).
		Float64("value", registers.DecodeScaled(rawValue, e.sensors[sensorIndex].Factor)).
		Msg("alarm raised")
	return true
}

// writeStatus rewrites the status region from the current conditions: one
// temperature bit per upper-limit sensor, paired high/low bits per
// dual-limit sensor, the saturating unacknowledged count and the new-alarm
// flag. The count and flag are read-modify-write; a drain racing this tick
// at worst triggers one redundant drain.
func (e *Evaluator) writeStatus(raised int) error {
	words, err := e.bank.ReadBlock(e.layout.StatusAddr(), registers.StatusWords)
	if err != nil {
		metrics.IncRegisterError("read")
		return err
	}

	var tempMask, pairMask uint16
	tempBit, pairBit := 0, 0
	for i, sensor := range e.sensors {
		if sensor.Limit == config.LimitDual {
			if e.prev[i].high {
				pairMask |= 1 << pairBit
			}
			if e.prev[i].low {
				pairMask |= 1 << (pairBit + 1)
			}
			pairBit += 2
			continue
		}
		if e.prev[i].high {
			tempMask |= 1 << tempBit
		}
		tempBit++
	}

	count := int(words[registers.StatusUnackCount]) + raised
	if count > registers.RingSlots {
		count = registers.RingSlots
	}
	words[registers.StatusTempMask] = tempMask
	words[registers.StatusPressLoadMask] = pairMask
	words[registers.StatusUnackCount] = uint16(count)
	if raised > 0 {
		words[registers.StatusNewAlarmFlag] = 1
	}

	if err := e.bank.WriteBlock(e.layout.StatusAddr(), words); err != nil {
		metrics.IncRegisterError("write")
		return err
	}
	return nil
}

// SeedThresholds writes each sensor's configured default thresholds into the
// threshold block, leaving unset defaults at zero (alarming disabled).
func SeedThresholds(bank registers.Bank, layout registers.Layout, sensors []config.Sensor) error {
	if bank == nil {
		return errors.New("controller: register bank is required")
	}
	cells := make([]uint16, 2*layout.SensorCount())
	for i, sensor := range sensors {
		if sensor.DefaultHigh > 0 {
			cells[i] = registers.EncodeScaled(sensor.DefaultHigh, sensor.Factor)
		}
		if sensor.Limit == config.LimitDual && sensor.DefaultLow > 0 {
			cells[layout.SensorCount()+i] = registers.EncodeScaled(sensor.DefaultLow, sensor.Factor)
		}
	}
	return bank.WriteBlock(layout.ThresholdsAddr(), cells)
}
