// Package registers models the shared bank of numbered 16-bit cells that the
// controller, the edge computer and the displays serialize through. Cells are
// grouped into logical blocks (one alarm slot, one actuator feedback block)
// and every read or write of a block is atomic with respect to other
// operations on the same block.
package registers

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnmapped indicates an access outside every configured region.
var ErrUnmapped = errors.New("registers: address not mapped")

// Bank is the reliable read/write-block primitive the rest of the system is
// written against. The in-memory Store implements it; a transport-backed
// client would as well.
type Bank interface {
	ReadBlock(addr uint16, count int) ([]uint16, error)
	WriteBlock(addr uint16, values []uint16) error
}

// Region describes a contiguous run of cells split into equally sized
// logical blocks, each guarded by its own lock.
type Region struct {
	Start     uint16
	Count     int
	BlockSize int
}

type region struct {
	start     uint16
	cells     []uint16
	blockSize int
	locks     []sync.RWMutex
}

// Store is the in-memory register bank. Unrelated blocks never contend:
// exclusion is per block, not per store.
type Store struct {
	regions []*region
}

// NewStore builds a store from the given regions. Regions must not overlap
// and block sizes must divide the region size.
func NewStore(regions []Region) (*Store, error) {
	if len(regions) == 0 {
		return nil, errors.New("registers: no regions")
	}
	rs := make([]*region, 0, len(regions))
	for _, r := range regions {
		if r.Count <= 0 {
			return nil, fmt.Errorf("registers: region at %d has no cells", r.Start)
		}
		if r.BlockSize <= 0 || r.Count%r.BlockSize != 0 {
			return nil, fmt.Errorf("registers: region at %d has invalid block size %d", r.Start, r.BlockSize)
		}
		rs = append(rs, &region{
			start:     r.Start,
			cells:     make([]uint16, r.Count),
			blockSize: r.BlockSize,
			locks:     make([]sync.RWMutex, r.Count/r.BlockSize),
		})
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i].start < rs[j].start })
	for i := 1; i < len(rs); i++ {
		prev := rs[i-1]
		if int(prev.start)+len(prev.cells) > int(rs[i].start) {
			return nil, fmt.Errorf("registers: regions at %d and %d overlap", prev.start, rs[i].start)
		}
	}
	return &Store{regions: rs}, nil
}

// ReadBlock returns count cells starting at addr. The access must fall
// within a single region; all covered blocks are read-locked in order.
func (s *Store) ReadBlock(addr uint16, count int) ([]uint16, error) {
	r, offset, err := s.locate(addr, count)
	if err != nil {
		return nil, err
	}
	first, last := r.blockRange(offset, count)
	for b := first; b <= last; b++ {
		r.locks[b].RLock()
	}
	out := make([]uint16, count)
	copy(out, r.cells[offset:offset+count])
	for b := last; b >= first; b-- {
		r.locks[b].RUnlock()
	}
	return out, nil
}

// WriteBlock stores values starting at addr under the covered block locks.
func (s *Store) WriteBlock(addr uint16, values []uint16) error {
	r, offset, err := s.locate(addr, len(values))
	if err != nil {
		return err
	}
	first, last := r.blockRange(offset, len(values))
	for b := first; b <= last; b++ {
		r.locks[b].Lock()
	}
	copy(r.cells[offset:offset+len(values)], values)
	for b := last; b >= first; b-- {
		r.locks[b].Unlock()
	}
	return nil
}

func (s *Store) locate(addr uint16, count int) (*region, int, error) {
	if count <= 0 {
		return nil, 0, errors.New("registers: count must be positive")
	}
	for _, r := range s.regions {
		if addr < r.start {
			continue
		}
		offset := int(addr - r.start)
		if offset >= len(r.cells) {
			continue
		}
		if offset+count > len(r.cells) {
			return nil, 0, fmt.Errorf("registers: access at %d length %d crosses region end: %w", addr, count, ErrUnmapped)
		}
		return r, offset, nil
	}
	return nil, 0, fmt.Errorf("registers: address %d: %w", addr, ErrUnmapped)
}

func (r *region) blockRange(offset, count int) (int, int) {
	return offset / r.blockSize, (offset + count - 1) / r.blockSize
}
