package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	commands "engineroom-ess/internal/commands/domain"
	"engineroom-ess/internal/config"
	"engineroom-ess/internal/observability/metrics"
	"engineroom-ess/internal/registers"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// IssueRequest represents a command issue request.
type IssueRequest struct {
	Equipment string `json:"equipment"`
	Action    string `json:"action"`
}

// Service validates start/stop requests and writes them into the paired
// command registers for the controller to consume on its next cycle.
type Service struct {
	bank      registers.Bank
	layout    registers.Layout
	equipment []config.Equipment
	clock     Clock
	logger    zerolog.Logger
}

// Option configures the command service.
type Option func(*Service)

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewService constructs a command service.
func NewService(bank registers.Bank, layout registers.Layout, equipment []config.Equipment, logger zerolog.Logger, opts ...Option) (*Service, error) {
	if bank == nil {
		return nil, errors.New("commands: nil register bank")
	}
	if len(equipment) == 0 {
		return nil, errors.New("commands: empty equipment list")
	}
	if len(equipment) != layout.EquipmentCount() {
		return nil, errors.New("commands: equipment list does not match register layout")
	}
	s := &Service{
		bank:      bank,
		layout:    layout,
		equipment: equipment,
		clock:     systemClock{},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Equipment returns the configured actuators in register order.
func (s *Service) Equipment() []config.Equipment {
	if s == nil {
		return nil
	}
	out := make([]config.Equipment, len(s.equipment))
	copy(out, s.equipment)
	return out
}

// IssueCommand validates the request and writes the command register pair.
// The start and stop cells are written together so the controller sees at
// most one pending edge per actuator.
func (s *Service) IssueCommand(ctx context.Context, req IssueRequest) (commands.Command, error) {
	if s == nil {
		return commands.Command{}, errors.New("commands: nil service")
	}
	if err := validateIssue(req); err != nil {
		return commands.Command{}, err
	}
	index := s.equipmentIndex(req.Equipment)
	if index < 0 {
		return commands.Command{}, fmt.Errorf("%w: %s", commands.ErrUnknownEquipment, req.Equipment)
	}

	pair := []uint16{1, 0}
	if req.Action == commands.ActionStop {
		pair = []uint16{0, 1}
	}
	if err := s.bank.WriteBlock(s.layout.CommandAddr(index), pair); err != nil {
		metrics.IncRegisterError("write")
		return commands.Command{}, fmt.Errorf("commands: write command pair: %w", err)
	}
	metrics.IncCommandIssued()

	cmd := commands.Command{
		Equipment: s.equipment[index].Name,
		Action:    req.Action,
		IssuedAt:  s.clock.Now().UTC(),
	}
	s.logger.Info().
		Str("equipment", cmd.Equipment).
		Str("action", cmd.Action).
		Msg("command issued")
	return cmd, nil
}

func (s *Service) equipmentIndex(name string) int {
	for i, e := range s.equipment {
		if strings.EqualFold(e.Name, name) {
			return i
		}
	}
	return -1
}

func validateIssue(req IssueRequest) error {
	if req.Equipment == "" {
		return errors.New("commands: equipment required")
	}
	if !commands.ValidAction(req.Action) {
		return fmt.Errorf("commands: action must be %q or %q", commands.ActionStart, commands.ActionStop)
	}
	return nil
}
