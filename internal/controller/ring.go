// Package controller implements the PLC-side behavior: sensor alarm
// evaluation, the shared alarm ring buffer, the VFD frequency ramp, the
// equipment plant model and the tick loops driving them.
package controller

import (
	"errors"

	"engineroom-ess/internal/observability/metrics"
	"engineroom-ess/internal/registers"
)

// Ring is the 10-slot alarm buffer in the register bank. The cursor only
// moves forward; once full, each push overwrites the oldest slot.
type Ring struct {
	bank   registers.Bank
	layout registers.Layout
	cursor uint64
}

// NewRing validates arguments and returns a ring over the given bank.
func NewRing(bank registers.Bank, layout registers.Layout) (*Ring, error) {
	if bank == nil {
		return nil, errors.New("controller: register bank is required")
	}
	return &Ring{bank: bank, layout: layout}, nil
}

// Push writes the slot at the cursor position and advances the cursor.
func (r *Ring) Push(s registers.Slot) error {
	if r == nil {
		return errors.New("controller: ring is not initialised")
	}
	idx := int(r.cursor % registers.RingSlots)
	if err := r.bank.WriteBlock(r.layout.SlotAddr(idx), s.Encode()); err != nil {
		metrics.IncRegisterError("write")
		return err
	}
	if r.cursor >= registers.RingSlots {
		metrics.IncRingOverwrite()
	}
	r.cursor++
	return nil
}

// ReadAll returns every slot in slot order, empty slots included.
func (r *Ring) ReadAll() ([]registers.Slot, error) {
	if r == nil {
		return nil, errors.New("controller: ring is not initialised")
	}
	slots := make([]registers.Slot, 0, registers.RingSlots)
	for i := 0; i < registers.RingSlots; i++ {
		words, err := r.bank.ReadBlock(r.layout.SlotAddr(i), registers.SlotWords)
		if err != nil {
			metrics.IncRegisterError("read")
			return nil, err
		}
		slot, err := registers.DecodeSlot(words)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	return slots, nil
}
