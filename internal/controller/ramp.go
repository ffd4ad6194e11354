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

// mainsHz is the across-the-line frequency an actuator runs at before any
// target is applied, and the reference for the affinity-law savings model.
const mainsHz = 60.0

type actuatorState struct {
	commandedHz  float64
	energyKWh    float64
	runtimeSec   float64
	powerSumKW   float64
	powerSamples int
	started      bool
}

// Ramp slews each eligible actuator's commanded frequency toward its target
// register and publishes the measured feedback block every tick.
type Ramp struct {
	bank      registers.Bank
	layout    registers.Layout
	equipment []config.Equipment
	params    config.Ramp
	tick      time.Duration
	rand      *rand.Rand
	logger    zerolog.Logger
	states    []actuatorState
}

// RampOption customises ramp construction.
type RampOption func(*Ramp)

// WithRampRand overrides the noise source for deterministic tests.
func WithRampRand(r *rand.Rand) RampOption {
	return func(rc *Ramp) {
		if r != nil {
			rc.rand = r
		}
	}
}

// NewRamp validates arguments and returns a ramp controller.
func NewRamp(bank registers.Bank, layout registers.Layout, equipment []config.Equipment, params config.Ramp, tick time.Duration, logger zerolog.Logger, opts ...RampOption) (*Ramp, error) {
	if bank == nil {
		return nil, errors.New("controller: register bank is required")
	}
	if len(equipment) == 0 {
		return nil, errors.New("controller: equipment list is required")
	}
	if len(equipment) != layout.EquipmentCount() {
		return nil, errors.New("controller: equipment list does not match layout")
	}
	if params.StepHz <= 0 || params.MaxHz <= 0 {
		return nil, errors.New("controller: ramp step and max must be positive")
	}
	if tick <= 0 {
		return nil, errors.New("controller: tick interval must be positive")
	}
	r := &Ramp{
		bank:      bank,
		layout:    layout,
		equipment: equipment,
		params:    params,
		tick:      tick,
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:    logger,
		states:    make([]actuatorState, len(equipment)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// CommandedHz returns actuator i's current commanded frequency.
func (r *Ramp) CommandedHz(i int) float64 {
	if r == nil || i < 0 || i >= len(r.states) {
		return 0
	}
	return r.states[i].commandedHz
}

// Tick advances every eligible actuator by one control cycle. Actuators in
// manual, stopped or faulted state are left untouched, and a fault on one
// actuator does not stop the others.
func (r *Ramp) Tick() {
	if r == nil {
		return
	}
	words, err := r.bank.ReadBlock(r.layout.EquipStatusAddr(), registers.EquipStatusWords)
	if err != nil {
		metrics.IncRegisterError("read")
		r.logger.Error().Err(err).Msg("read equipment status failed")
		return
	}
	states, err := DecodeEquipStates(words, r.equipment)
	if err != nil {
		r.logger.Error().Err(err).Msg("decode equipment status failed")
		return
	}
	for i := range r.equipment {
		if !states[i].RampEligible(r.equipment[i].Group) {
			r.states[i].started = false
			continue
		}
		if err := r.step(i); err != nil {
			r.logger.Error().Err(err).Str("equipment", r.equipment[i].Name).Msg("ramp step failed")
		}
	}
}

func (r *Ramp) step(i int) error {
	st := &r.states[i]
	if !st.started {
		// a freshly started drive runs at mains speed
		st.commandedHz = r.params.MaxHz
		if st.commandedHz > mainsHz {
			st.commandedHz = mainsHz
		}
		st.started = true
	}

	raw, err := r.bank.ReadBlock(r.layout.TargetAddr(i), 1)
	if err != nil {
		metrics.IncRegisterError("read")
		return err
	}
	targetHz := registers.DecodeScaled(raw[0], 10)
	if targetHz > 0 {
		delta := targetHz - st.commandedHz
		if math.Abs(delta) <= r.params.StepHz {
			if delta != 0 {
				st.commandedHz = targetHz
				metrics.IncRampAdjustment()
			}
		} else {
			st.commandedHz += math.Copysign(r.params.StepHz, delta)
			metrics.IncRampAdjustment()
		}
		if st.commandedHz < 0 {
			st.commandedHz = 0
		}
		if st.commandedHz > r.params.MaxHz {
			st.commandedHz = r.params.MaxHz
		}
	}

	measuredHz := st.commandedHz + (r.rand.Float64()*2-1)*r.params.NoiseHz
	if measuredHz < 0 {
		measuredHz = 0
	}
	if measuredHz > r.params.MaxHz {
		measuredHz = r.params.MaxHz
	}

	rated := r.equipment[i].RatedKW
	ratio := measuredHz / mainsHz
	powerKW := rated * ratio * ratio * ratio
	dtHours := r.tick.Seconds() / 3600.0

	st.runtimeSec += r.tick.Seconds()
	st.energyKWh += (rated - powerKW) * dtHours
	st.powerSumKW += powerKW
	st.powerSamples++
	avgKW := st.powerSumKW / float64(st.powerSamples)
	savingsPct := (1 - ratio*ratio*ratio) * 100
	if savingsPct < 0 {
		savingsPct = 0
	}

	energyLo, energyHi := registers.SplitU32(uint32(math.Round(st.energyKWh * 10)))
	runLo, runHi := registers.SplitU32(uint32(st.runtimeSec))
	block := []uint16{
		registers.EncodeScaled(measuredHz, 10),
		registers.EncodeScaled(powerKW, 10),
		registers.EncodeScaled(avgKW, 10),
		energyLo,
		energyHi,
		registers.EncodeScaled(savingsPct, 10),
		runLo,
		runHi,
	}
	if err := r.bank.WriteBlock(r.layout.FeedbackAddr(i), block); err != nil {
		metrics.IncRegisterError("write")
		return err
	}
	return nil
}
