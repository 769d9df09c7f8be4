package domain

import (
	"encoding/json"
	"fmt"
)

// PositionState enumerates the asset-holding states of one trading worker.
type PositionState int

const (
	Flat PositionState = iota // no holdings
	Long                      // holding, with recorded entry price/volume
)

func (s PositionState) String() string {
	switch s {
	case Flat:
		return "FLAT"
	case Long:
		return "LONG"
	default:
		return "UNKNOWN"
	}
}

// Position is the tagged holding state of a single worker. The entry fields
// are unexported so they can only be populated through NewLong: a Flat
// position structurally has no entry price or volume.
type Position struct {
	state       PositionState
	entryPrice  float64
	entryVolume float64
}

// NewFlat returns the empty position.
func NewFlat() Position {
	return Position{state: Flat}
}

// NewLong returns a held position with its entry price and volume.
func NewLong(entryPrice, entryVolume float64) Position {
	return Position{state: Long, entryPrice: entryPrice, entryVolume: entryVolume}
}

// State returns the position tag.
func (p Position) State() PositionState { return p.state }

// IsFlat reports whether nothing is held.
func (p Position) IsFlat() bool { return p.state == Flat }

// IsLong reports whether an entry is held.
func (p Position) IsLong() bool { return p.state == Long }

// Entry returns the recorded entry price and volume. ok is false for a Flat
// position, in which case both values are zero.
func (p Position) Entry() (price, volume float64, ok bool) {
	if p.state != Long {
		return 0, 0, false
	}
	return p.entryPrice, p.entryVolume, true
}

// positionJSON is the persisted wire form of a Position.
type positionJSON struct {
	State       string  `json:"state"`
	EntryPrice  float64 `json:"entry_price,omitempty"`
	EntryVolume float64 `json:"entry_volume,omitempty"`
}

// MarshalJSON implements json.Marshaler for snapshot persistence.
func (p Position) MarshalJSON() ([]byte, error) {
	out := positionJSON{State: p.state.String()}
	if p.state == Long {
		out.EntryPrice = p.entryPrice
		out.EntryVolume = p.entryVolume
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler. An unknown state tag is an
// error rather than a silent Flat, so a corrupt snapshot cannot drop an
// open position.
func (p *Position) UnmarshalJSON(data []byte) error {
	var in positionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch in.State {
	case "FLAT":
		*p = NewFlat()
	case "LONG":
		*p = NewLong(in.EntryPrice, in.EntryVolume)
	default:
		return fmt.Errorf("unknown position state: %q", in.State)
	}
	return nil
}
