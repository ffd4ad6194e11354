package registers

import "math"

// SplitU32 breaks a 32-bit value into its transmitted lo/hi 16-bit halves.
func SplitU32(v uint32) (lo, hi uint16) {
	return uint16(v & 0xffff), uint16(v >> 16)
}

// JoinU32 reassembles a 32-bit value from its lo/hi halves.
func JoinU32(lo, hi uint16) uint32 {
	return uint32(hi)<<16 | uint32(lo)
}

// EncodeScaled converts an engineering value into its raw fixed-point cell
// (raw = value * factor), clamped to the 16-bit range. Negative engineering
// values clamp to zero: the wire format is unsigned.
func EncodeScaled(value, factor float64) uint16 {
	raw := math.Round(value * factor)
	if raw < 0 {
		return 0
	}
	if raw > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(raw)
}

// DecodeScaled converts a raw cell back to engineering units.
func DecodeScaled(raw uint16, factor float64) float64 {
	if factor == 0 {
		return float64(raw)
	}
	return float64(raw) / factor
}
