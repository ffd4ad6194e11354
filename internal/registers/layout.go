package registers

import "engineroom-ess/internal/config"

const (
	// RingSlots is the fixed capacity of the controller alarm buffer.
	RingSlots = 10
	// SlotWords is the width of one ring-buffer slot.
	SlotWords = 8
	// FeedbackWords is the width of one actuator feedback block.
	FeedbackWords = 8
	// StatusWords covers the alarm status region: temperature bitmask,
	// pressure/load bitmask, unacknowledged count, new-alarm flag.
	StatusWords = 4
	// CommandWords is the width of one actuator command pair (start, stop).
	CommandWords = 2
	// EquipStatusWords is the width of the packed equipment status bits.
	EquipStatusWords = 2
)

// Offsets within the status region.
const (
	StatusTempMask = iota
	StatusPressLoadMask
	StatusUnackCount
	StatusNewAlarmFlag
)

// Layout resolves the deployment register map into concrete block
// addresses. Addresses are configuration-owned; the layout only derives.
type Layout struct {
	m         config.RegisterMap
	sensors   int
	equipment int
}

// NewLayout binds a register map to the configured sensor and equipment
// counts.
func NewLayout(m config.RegisterMap, sensorCount, equipmentCount int) Layout {
	return Layout{m: m, sensors: sensorCount, equipment: equipmentCount}
}

// Regions returns the store regions for this layout, with block granularity
// matching the logical grouping of each area.
func (l Layout) Regions() []Region {
	return []Region{
		{Start: l.m.SensorsStart, Count: l.sensors, BlockSize: l.sensors},
		{Start: l.m.ThresholdsStart, Count: 2 * l.sensors, BlockSize: 2 * l.sensors},
		{Start: l.m.StatusStart, Count: StatusWords, BlockSize: StatusWords},
		{Start: l.m.RingStart, Count: RingSlots * SlotWords, BlockSize: SlotWords},
		{Start: l.m.FeedbackStart, Count: l.equipment * FeedbackWords, BlockSize: FeedbackWords},
		{Start: l.m.EquipStatusStart, Count: EquipStatusWords, BlockSize: EquipStatusWords},
		{Start: l.m.CommandsStart, Count: l.equipment * CommandWords, BlockSize: CommandWords},
		{Start: l.m.TargetsStart, Count: l.equipment, BlockSize: l.equipment},
	}
}

// SensorsAddr returns the start of the sensor reading block.
func (l Layout) SensorsAddr() uint16 { return l.m.SensorsStart }

// SensorCount returns the number of mapped sensor cells.
func (l Layout) SensorCount() int { return l.sensors }

// UpperThresholdAddr returns the cell holding sensor i's upper threshold.
func (l Layout) UpperThresholdAddr(i int) uint16 {
	return l.m.ThresholdsStart + uint16(i)
}

// LowerThresholdAddr returns the cell holding sensor i's lower threshold.
func (l Layout) LowerThresholdAddr(i int) uint16 {
	return l.m.ThresholdsStart + uint16(l.sensors+i)
}

// ThresholdsAddr returns the start of the threshold block (uppers then
// lowers, one stride of SensorCount each).
func (l Layout) ThresholdsAddr() uint16 { return l.m.ThresholdsStart }

// StatusAddr returns the start of the alarm status region.
func (l Layout) StatusAddr() uint16 { return l.m.StatusStart }

// NewAlarmFlagAddr returns the new-alarm flag cell.
func (l Layout) NewAlarmFlagAddr() uint16 {
	return l.m.StatusStart + StatusNewAlarmFlag
}

// SlotAddr returns the start of ring-buffer slot i.
func (l Layout) SlotAddr(i int) uint16 {
	return l.m.RingStart + uint16(i*SlotWords)
}

// FeedbackAddr returns the start of actuator i's feedback block.
func (l Layout) FeedbackAddr(i int) uint16 {
	return l.m.FeedbackStart + uint16(i*FeedbackWords)
}

// EquipStatusAddr returns the start of the packed equipment status words.
func (l Layout) EquipStatusAddr() uint16 { return l.m.EquipStatusStart }

// CommandAddr returns actuator i's command pair (start cell; stop is +1).
func (l Layout) CommandAddr(i int) uint16 {
	return l.m.CommandsStart + uint16(i*CommandWords)
}

// TargetsAddr returns the start of the target-frequency block.
func (l Layout) TargetsAddr() uint16 { return l.m.TargetsStart }

// TargetAddr returns actuator i's target-frequency cell.
func (l Layout) TargetAddr(i int) uint16 {
	return l.m.TargetsStart + uint16(i)
}

// EquipmentCount returns the number of mapped actuators.
func (l Layout) EquipmentCount() int { return l.equipment }
