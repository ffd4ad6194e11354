package commands

import (
	"errors"
	"time"
)

const (
	ActionStart = "start"
	ActionStop  = "stop"
)

// ErrUnknownEquipment indicates a command for an actuator that is not configured.
var ErrUnknownEquipment = errors.New("commands: unknown equipment")

// Command represents one start/stop request handed to the controller.
type Command struct {
	Equipment string    `json:"equipment"`
	Action    string    `json:"action"`
	IssuedAt  time.Time `json:"issued_at"`
}

// ValidAction reports whether action is a recognised command action.
func ValidAction(action string) bool {
	return action == ActionStart || action == ActionStop
}
