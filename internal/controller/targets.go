package controller

import (
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"engineroom-ess/internal/config"
	"engineroom-ess/internal/observability/metrics"
	"engineroom-ess/internal/registers"
)

// Default optimiser set points and the band the walk is confined to.
const (
	pumpTargetHz = 48.4
	fanTargetHz  = 47.3
	walkStepHz   = 0.5
	walkFloorHz  = 40.0
)

// TargetPublisher stands in for the external frequency optimiser: it walks
// each actuator's target register around a plausible set point.
type TargetPublisher struct {
	bank      registers.Bank
	layout    registers.Layout
	equipment []config.Equipment
	rand      *rand.Rand
	logger    zerolog.Logger
	targets   []float64
}

// NewTargetPublisher validates arguments and returns a publisher.
func NewTargetPublisher(bank registers.Bank, layout registers.Layout, equipment []config.Equipment, logger zerolog.Logger) (*TargetPublisher, error) {
	if bank == nil {
		return nil, errors.New("controller: register bank is required")
	}
	if len(equipment) == 0 {
		return nil, errors.New("controller: equipment list is required")
	}
	targets := make([]float64, len(equipment))
	for i, e := range equipment {
		if e.Group == GroupFAN {
			targets[i] = fanTargetHz
		} else {
			targets[i] = pumpTargetHz
		}
	}
	return &TargetPublisher{
		bank:      bank,
		layout:    layout,
		equipment: equipment,
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:    logger,
		targets:   targets,
	}, nil
}

// Tick walks each target and writes the whole target block.
func (p *TargetPublisher) Tick() {
	if p == nil {
		return
	}
	cells := make([]uint16, len(p.targets))
	for i := range p.targets {
		p.targets[i] += (p.rand.Float64()*2 - 1) * walkStepHz
		if p.targets[i] < walkFloorHz {
			p.targets[i] = walkFloorHz
		}
		if p.targets[i] > mainsHz {
			p.targets[i] = mainsHz
		}
		cells[i] = registers.EncodeScaled(p.targets[i], 10)
	}
	if err := p.bank.WriteBlock(p.layout.TargetsAddr(), cells); err != nil {
		metrics.IncRegisterError("write")
		p.logger.Error().Err(err).Msg("write target block failed")
	}
}
