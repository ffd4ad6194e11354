package controller

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"engineroom-ess/internal/config"
	"engineroom-ess/internal/observability/metrics"
	"engineroom-ess/internal/registers"
)

// Pump groups carry running/auto/fault bits; fans carry forward/backward/
// fault bits.
const (
	GroupSWP = "SWP"
	GroupFWP = "FWP"
	GroupFAN = "FAN"
)

// EquipState is the decoded status of one actuator.
type EquipState struct {
	Running  bool
	Auto     bool
	Fault    bool
	Forward  bool
	Backward bool
}

// RampEligible reports whether the actuator accepts frequency targets:
// pumps must be running in automatic, fans must run forward, and neither
// may be faulted.
func (s EquipState) RampEligible(group string) bool {
	if s.Fault {
		return false
	}
	if group == GroupFAN {
		return s.Forward
	}
	return s.Running && s.Auto
}

// Bit positions follow the installed panel wiring: pumps 0..4 occupy three
// bits each in word 0, pump 5 spills its auto and fault bits into word 1,
// and fans pack three bits each in word 1 starting at bit 2.
func equipBits(index int, group string) (word, running, auto, fault int) {
	if group == GroupFAN {
		fan := index - 6
		base := 2 + fan*3
		return 1, base, base + 1, base + 2
	}
	if index < 5 {
		base := index * 3
		return 0, base, base + 1, base + 2
	}
	return 0, 15, 16, 17 // pump 5: auto and fault wrap into word 1
}

func bitSet(words []uint16, pos int) bool {
	return words[pos/16]&(1<<(pos%16)) != 0
}

func setBit(words []uint16, pos int, on bool) {
	if on {
		words[pos/16] |= 1 << (pos % 16)
		return
	}
	words[pos/16] &^= 1 << (pos % 16)
}

// DecodeEquipStates unpacks the two status words into per-actuator states.
func DecodeEquipStates(words []uint16, equipment []config.Equipment) ([]EquipState, error) {
	if len(words) != registers.EquipStatusWords {
		return nil, fmt.Errorf("controller: equipment status needs %d cells, got %d", registers.EquipStatusWords, len(words))
	}
	states := make([]EquipState, len(equipment))
	for i, e := range equipment {
		w, running, auto, fault := equipBits(i, e.Group)
		if e.Group == GroupFAN {
			states[i] = EquipState{
				Forward:  bitSet(words, w*16+running),
				Backward: bitSet(words, w*16+auto),
				Fault:    bitSet(words, w*16+fault),
			}
			states[i].Running = states[i].Forward || states[i].Backward
			continue
		}
		states[i] = EquipState{
			Running: bitSet(words, w*16+running),
			Auto:    bitSet(words, w*16+auto),
			Fault:   bitSet(words, w*16+fault),
		}
	}
	return states, nil
}

// EncodeEquipStates packs per-actuator states into the two status words.
func EncodeEquipStates(states []EquipState, equipment []config.Equipment) ([]uint16, error) {
	if len(states) != len(equipment) {
		return nil, errors.New("controller: state and equipment counts differ")
	}
	words := make([]uint16, registers.EquipStatusWords)
	for i, e := range equipment {
		w, running, auto, fault := equipBits(i, e.Group)
		s := states[i]
		if e.Group == GroupFAN {
			setBit(words, w*16+running, s.Forward)
			setBit(words, w*16+auto, s.Backward)
			setBit(words, w*16+fault, s.Fault)
			continue
		}
		setBit(words, w*16+running, s.Running)
		setBit(words, w*16+auto, s.Auto)
		setBit(words, w*16+fault, s.Fault)
	}
	return words, nil
}

// Plant consumes command register pairs and maintains the equipment status
// words, standing in for the wired starters on a real installation.
type Plant struct {
	bank      registers.Bank
	layout    registers.Layout
	equipment []config.Equipment
	logger    zerolog.Logger
}

// NewPlant validates arguments and returns a plant model.
func NewPlant(bank registers.Bank, layout registers.Layout, equipment []config.Equipment, logger zerolog.Logger) (*Plant, error) {
	if bank == nil {
		return nil, errors.New("controller: register bank is required")
	}
	if len(equipment) == 0 {
		return nil, errors.New("controller: equipment list is required")
	}
	return &Plant{bank: bank, layout: layout, equipment: equipment, logger: logger}, nil
}

// Start marks the actuator running without going through the command
// registers. Used to bring up a simulated plant.
func (p *Plant) Start(index int) error {
	if p == nil {
		return errors.New("controller: plant is not initialised")
	}
	if index < 0 || index >= len(p.equipment) {
		return fmt.Errorf("controller: equipment index %d out of range", index)
	}
	return p.apply(index, true)
}

// Tick consumes pending command pairs: a nonzero start cell brings the
// actuator up, a nonzero stop cell takes it down, and consumed cells are
// zeroed. A failure on one actuator does not stop the others.
func (p *Plant) Tick() {
	if p == nil {
		return
	}
	for i := range p.equipment {
		pair, err := p.bank.ReadBlock(p.layout.CommandAddr(i), registers.CommandWords)
		if err != nil {
			metrics.IncRegisterError("read")
			p.logger.Error().Err(err).Str("equipment", p.equipment[i].Name).Msg("read command pair failed")
			continue
		}
		start, stop := pair[0] != 0, pair[1] != 0
		if !start && !stop {
			continue
		}
		// stop wins when both cells are set in the same cycle
		if err := p.apply(i, start && !stop); err != nil {
			p.logger.Error().Err(err).Str("equipment", p.equipment[i].Name).Msg("apply command failed")
			continue
		}
		if err := p.bank.WriteBlock(p.layout.CommandAddr(i), make([]uint16, registers.CommandWords)); err != nil {
			metrics.IncRegisterError("write")
			p.logger.Error().Err(err).Str("equipment", p.equipment[i].Name).Msg("clear command pair failed")
		}
	}
}

func (p *Plant) apply(index int, up bool) error {
	words, err := p.bank.ReadBlock(p.layout.EquipStatusAddr(), registers.EquipStatusWords)
	if err != nil {
		metrics.IncRegisterError("read")
		return err
	}
	states, err := DecodeEquipStates(words, p.equipment)
	if err != nil {
		return err
	}
	if p.equipment[index].Group == GroupFAN {
		states[index] = EquipState{Forward: up, Running: up}
	} else {
		states[index] = EquipState{Running: up, Auto: up}
	}
	packed, err := EncodeEquipStates(states, p.equipment)
	if err != nil {
		return err
	}
	if err := p.bank.WriteBlock(p.layout.EquipStatusAddr(), packed); err != nil {
		metrics.IncRegisterError("write")
		return err
	}
	return nil
}
