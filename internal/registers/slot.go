package registers

import "fmt"

// AlarmKind is the wire code of an alarm condition.
type AlarmKind uint16

const (
	// AlarmNone marks an empty ring slot.
	AlarmNone AlarmKind = 0
	// AlarmHigh is a reading above the upper threshold.
	AlarmHigh AlarmKind = 1
	// AlarmLow is a reading below the lower threshold.
	AlarmLow AlarmKind = 2
)

// Slot is the decoded form of one ring-buffer entry. Value and Threshold are
// raw scaled cells; RaisedAt is unix seconds; AckDelaySec is the saturating
// offset from RaisedAt to the acknowledgement.
type Slot struct {
	Sensor      uint16
	Kind        AlarmKind
	RaisedAt    uint32
	Value       uint16
	Threshold   uint16
	Acked       bool
	AckDelaySec uint16
}

// Empty reports whether the slot has never been written.
func (s Slot) Empty() bool { return s.Kind == AlarmNone }

// Encode packs the slot into its SlotWords wire cells.
func (s Slot) Encode() []uint16 {
	lo, hi := SplitU32(s.RaisedAt)
	acked := uint16(0)
	if s.Acked {
		acked = 1
	}
	return []uint16{
		s.Sensor,
		uint16(s.Kind),
		lo,
		hi,
		s.Value,
		s.Threshold,
		acked,
		s.AckDelaySec,
	}
}

// DecodeSlot unpacks SlotWords wire cells into a slot.
func DecodeSlot(words []uint16) (Slot, error) {
	if len(words) != SlotWords {
		return Slot{}, fmt.Errorf("registers: slot needs %d cells, got %d", SlotWords, len(words))
	}
	kind := AlarmKind(words[1])
	if kind > AlarmLow {
		return Slot{}, fmt.Errorf("registers: unknown alarm kind %d", words[1])
	}
	return Slot{
		Sensor:      words[0],
		Kind:        kind,
		RaisedAt:    JoinU32(words[2], words[3]),
		Value:       words[4],
		Threshold:   words[5],
		Acked:       words[6] != 0,
		AckDelaySec: words[7],
	}, nil
}
