// Package vfd exposes the energy-saving read model: per-actuator drive
// feedback, targets and running state decoded from the register bank.
package vfd

import (
	"errors"

	"github.com/rs/zerolog"

	"engineroom-ess/internal/config"
	"engineroom-ess/internal/controller"
	"engineroom-ess/internal/observability/metrics"
	"engineroom-ess/internal/registers"
)

// ActuatorStatus is one actuator's decoded drive feedback.
type ActuatorStatus struct {
	Equipment    string  `json:"equipment"`
	Group        string  `json:"group"`
	RatedKW      float64 `json:"rated_kw"`
	Running      bool    `json:"running"`
	Auto         bool    `json:"auto"`
	Fault        bool    `json:"fault"`
	TargetHz     float64 `json:"target_hz"`
	MeasuredHz   float64 `json:"measured_hz"`
	PowerKW      float64 `json:"power_kw"`
	AvgPowerKW   float64 `json:"avg_power_kw"`
	SavedKWh     float64 `json:"saved_kwh"`
	SavingsPct   float64 `json:"savings_pct"`
	RuntimeSec   uint32  `json:"runtime_sec"`
	RegisterFail bool    `json:"register_fail,omitempty"`
}

// Summary aggregates the fleet view returned by GET /api/v1/vfd.
type Summary struct {
	Actuators     []ActuatorStatus `json:"actuators"`
	TotalSavedKWh float64          `json:"total_saved_kwh"`
	RunningCount  int              `json:"running_count"`
}

// Service decodes the actuator feedback and status registers on demand.
type Service struct {
	bank      registers.Bank
	layout    registers.Layout
	equipment []config.Equipment
	logger    zerolog.Logger
}

// NewService constructs a vfd read-model service.
func NewService(bank registers.Bank, layout registers.Layout, equipment []config.Equipment, logger zerolog.Logger) (*Service, error) {
	if bank == nil {
		return nil, errors.New("vfd: nil register bank")
	}
	if len(equipment) == 0 {
		return nil, errors.New("vfd: empty equipment list")
	}
	if len(equipment) != layout.EquipmentCount() {
		return nil, errors.New("vfd: equipment list does not match register layout")
	}
	return &Service{bank: bank, layout: layout, equipment: equipment, logger: logger}, nil
}

// Summary reads every actuator's blocks. A register fault on one actuator
// marks that entry and moves on rather than failing the whole query.
func (s *Service) Summary() (Summary, error) {
	if s == nil {
		return Summary{}, errors.New("vfd: nil service")
	}

	var states []controller.EquipState
	words, err := s.bank.ReadBlock(s.layout.EquipStatusAddr(), registers.EquipStatusWords)
	if err != nil {
		metrics.IncRegisterError("read")
		return Summary{}, err
	}
	states, err = controller.DecodeEquipStates(words, s.equipment)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{Actuators: make([]ActuatorStatus, 0, len(s.equipment))}
	for i, e := range s.equipment {
		status := ActuatorStatus{
			Equipment: e.Name,
			Group:     e.Group,
			RatedKW:   e.RatedKW,
			Running:   states[i].Running,
			Auto:      states[i].Auto,
			Fault:     states[i].Fault,
		}
		if err := s.fillDrive(i, &status); err != nil {
			status.RegisterFail = true
			s.logger.Warn().Err(err).Str("equipment", e.Name).Msg("read drive feedback failed")
		}
		if status.Running {
			summary.RunningCount++
		}
		summary.TotalSavedKWh += status.SavedKWh
		summary.Actuators = append(summary.Actuators, status)
	}
	return summary, nil
}

func (s *Service) fillDrive(i int, status *ActuatorStatus) error {
	target, err := s.bank.ReadBlock(s.layout.TargetAddr(i), 1)
	if err != nil {
		metrics.IncRegisterError("read")
		return err
	}
	status.TargetHz = registers.DecodeScaled(target[0], 10)

	fb, err := s.bank.ReadBlock(s.layout.FeedbackAddr(i), registers.FeedbackWords)
	if err != nil {
		metrics.IncRegisterError("read")
		return err
	}
	status.MeasuredHz = registers.DecodeScaled(fb[0], 10)
	status.PowerKW = registers.DecodeScaled(fb[1], 10)
	status.AvgPowerKW = registers.DecodeScaled(fb[2], 10)
	status.SavedKWh = float64(registers.JoinU32(fb[3], fb[4])) / 10
	status.SavingsPct = registers.DecodeScaled(fb[5], 10)
	status.RuntimeSec = registers.JoinU32(fb[6], fb[7])
	return nil
}
