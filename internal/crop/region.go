// Package crop holds the answer-area rectangles for each question slot and
// applies them to rendered page images.
package crop

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sync"
)

// Slot identifies one of the two answer positions on a student's page pair.
type Slot string

const (
	// SlotQ1 is the question 1 answer area, found on odd pages.
	SlotQ1 Slot = "q1"
	// SlotQ2 is the question 2 answer area, found on even pages.
	SlotQ2 Slot = "q2"
)

var (
	// ErrInvalidRegion is returned when a region's ratios are out of order or out of [0,1].
	ErrInvalidRegion = errors.New("invalid crop region")
	// ErrUnknownSlot is returned for slots other than q1/q2.
	ErrUnknownSlot = errors.New("unknown crop slot")
)

// SlotForPage returns the slot a 1-based page number belongs to.
func SlotForPage(pageNum int) Slot {
	if pageNum%2 == 1 {
		return SlotQ1
	}
	return SlotQ2
}

// QuestionNum returns the question number the slot holds.
func (s Slot) QuestionNum() int {
	if s == SlotQ2 {
		return 2
	}
	return 1
}

// Valid reports whether s is a known slot.
func (s Slot) Valid() bool {
	return s == SlotQ1 || s == SlotQ2
}

// Region is a rectangle expressed as ratios of the page width and height.
type Region struct {
	Left   float64 `mapstructure:"left" yaml:"left" json:"left"`
	Top    float64 `mapstructure:"top" yaml:"top" json:"top"`
	Right  float64 `mapstructure:"right" yaml:"right" json:"right"`
	Bottom float64 `mapstructure:"bottom" yaml:"bottom" json:"bottom"`
}

// Defaults calibrated against the 원고지 answer sheets.
var (
	DefaultQ1 = Region{Left: 0.03, Top: 0.15, Right: 0.66, Bottom: 0.74}
	DefaultQ2 = Region{Left: 0.03, Top: 0.07, Right: 0.66, Bottom: 0.84}
)

// Validate rejects regions with left>=right, top>=bottom, or any ratio outside [0,1].
func (r Region) Validate() error {
	for name, v := range map[string]float64{
		"left": r.Left, "top": r.Top, "right": r.Right, "bottom": r.Bottom,
	} {
		// NaN fails both comparisons.
		if !(v >= 0 && v <= 1) {
			return fmt.Errorf("%w: %s=%v outside [0,1]", ErrInvalidRegion, name, v)
		}
	}
	if r.Left >= r.Right {
		return fmt.Errorf("%w: left %.3f >= right %.3f", ErrInvalidRegion, r.Left, r.Right)
	}
	if r.Top >= r.Bottom {
		return fmt.Errorf("%w: top %.3f >= bottom %.3f", ErrInvalidRegion, r.Top, r.Bottom)
	}
	return nil
}

// Rect converts the region into a pixel rectangle for a w x h image.
func (r Region) Rect(w, h int) image.Rectangle {
	return image.Rect(
		int(math.Floor(r.Left*float64(w))),
		int(math.Floor(r.Top*float64(h))),
		int(math.Floor(r.Right*float64(w))),
		int(math.Floor(r.Bottom*float64(h))),
	)
}

// Manager holds the process-wide regions. Regions change only through Set.
type Manager struct {
	mu      sync.RWMutex
	regions map[Slot]Region
}

// NewManager builds a manager from configured regions. Missing slots fall back
// to the defaults; invalid regions are rejected.
func NewManager(regions map[Slot]Region) (*Manager, error) {
	m := &Manager{regions: map[Slot]Region{
		SlotQ1: DefaultQ1,
		SlotQ2: DefaultQ2,
	}}
	for slot, r := range regions {
		if err := m.Set(slot, r); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Get returns the region for slot. Unknown slots yield the zero Region.
func (m *Manager) Get(slot Slot) Region {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.regions[slot]
}

// Set replaces the region for slot after validating it.
func (m *Manager) Set(slot Slot, r Region) error {
	if !slot.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownSlot, slot)
	}
	if err := r.Validate(); err != nil {
		return fmt.Errorf("slot %s: %w", slot, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regions[slot] = r
	return nil
}

// Snapshot returns a copy of all regions.
func (m *Manager) Snapshot() map[Slot]Region {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[Slot]Region, len(m.regions))
	for k, v := range m.regions {
		out[k] = v
	}
	return out
}
