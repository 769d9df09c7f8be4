package domain

// PositionEffect tells the caller of an order execution what the position
// should become afterwards. It is not simply the order's own side: buy-side
// escalation can cancel a partial fill and unwind it with a sell, turning a
// buy attempt into a flat outcome.
type PositionEffect int

const (
	// EffectNone: nothing is held afterwards and no cooldown applies
	// (zero-fill expiry, or an emergency market exit already notified).
	EffectNone PositionEffect = iota
	// EffectLong: executed volume is held; the caller should record the entry.
	EffectLong
	// EffectFlat: a held position was sold; the caller should clear its entry.
	EffectFlat
)

func (e PositionEffect) String() string {
	switch e {
	case EffectNone:
		return "NONE"
	case EffectLong:
		return "LONG"
	case EffectFlat:
		return "FLAT"
	default:
		return "UNKNOWN"
	}
}
