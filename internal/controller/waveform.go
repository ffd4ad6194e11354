package controller

import (
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"engineroom-ess/internal/config"
	"engineroom-ess/internal/observability/metrics"
	"engineroom-ess/internal/registers"
)

// Waveform feeds the sensor block with slowly drifting readings so the
// alarm and ramp loops can run against a simulated plant. Each point drifts
// around a baseline below its limits, with a small chance per tick of a
// short excursion past the upper threshold.
type Waveform struct {
	bank       registers.Bank
	layout     registers.Layout
	sensors    []config.Sensor
	rand       *rand.Rand
	logger     zerolog.Logger
	phase      []float64
	excursion  []int
	ExcursionP float64
}

// NewWaveform validates arguments and returns a waveform generator.
func NewWaveform(bank registers.Bank, layout registers.Layout, sensors []config.Sensor, logger zerolog.Logger) (*Waveform, error) {
	if bank == nil {
		return nil, errors.New("controller: register bank is required")
	}
	if len(sensors) == 0 {
		return nil, errors.New("controller: sensor list is required")
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	phase := make([]float64, len(sensors))
	for i := range phase {
		phase[i] = rng.Float64() * 2 * math.Pi
	}
	return &Waveform{
		bank:       bank,
		layout:     layout,
		sensors:    sensors,
		rand:       rng,
		logger:     logger,
		phase:      phase,
		excursion:  make([]int, len(sensors)),
		ExcursionP: 0.002,
	}, nil
}

// Tick writes one fresh reading per sensor.
func (w *Waveform) Tick() {
	if w == nil {
		return
	}
	cells := make([]uint16, len(w.sensors))
	for i, sensor := range w.sensors {
		base, swing := w.envelope(sensor)
		w.phase[i] += 0.01 + w.rand.Float64()*0.01
		value := base + swing*math.Sin(w.phase[i]) + (w.rand.Float64()*2-1)*swing*0.2

		if w.excursion[i] > 0 {
			value = sensor.DefaultHigh * 1.05
			w.excursion[i]--
		} else if sensor.DefaultHigh > 0 && w.rand.Float64() < w.ExcursionP {
			w.excursion[i] = 5 + w.rand.Intn(10)
		}

		if value < 0 {
			value = 0
		}
		cells[i] = registers.EncodeScaled(value, sensor.Factor)
	}
	if err := w.bank.WriteBlock(w.layout.SensorsAddr(), cells); err != nil {
		metrics.IncRegisterError("write")
		w.logger.Error().Err(err).Msg("write sensor block failed")
	}
}

// envelope picks the normal operating band of a point from its configured
// limits: dual points sit between the two thresholds, upper-only points a
// little below the limit.
func (w *Waveform) envelope(sensor config.Sensor) (base, swing float64) {
	if sensor.Limit == config.LimitDual && sensor.DefaultLow > 0 && sensor.DefaultHigh > sensor.DefaultLow {
		base = (sensor.DefaultHigh + sensor.DefaultLow) / 2
		swing = (sensor.DefaultHigh - sensor.DefaultLow) / 4
		return base, swing
	}
	if sensor.DefaultHigh > 0 {
		return sensor.DefaultHigh * 0.85, sensor.DefaultHigh * 0.05
	}
	return 50, 5
}
