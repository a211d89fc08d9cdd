package state

// MaxAllowListEntries and MaxRegistryEntries are hard ceilings imposed by the
// fixed record layout.
const (
	MaxAllowListEntries = 10
	MaxRegistryEntries  = 10
)

// PrincipalSet is a fixed-capacity set of principals. Storage is an array, so
// copying the value copies the contents.
type PrincipalSet struct {
	items [MaxAllowListEntries]Principal
	n     int
}

// Len returns the number of members.
func (s *PrincipalSet) Len() int {
	return s.n
}

// Contains reports whether p is a member.
func (s *PrincipalSet) Contains(p Principal) bool {
	for i := 0; i < s.n; i++ {
		if s.items[i] == p {
			return true
		}
	}
	return false
}

// Add appends p. Adding an existing member is a no-op; adding to a full set
// fails with ErrCapacityExceeded.
func (s *PrincipalSet) Add(p Principal) error {
	if s.Contains(p) {
		return nil
	}
	if s.n >= MaxAllowListEntries {
		return ErrCapacityExceeded
	}
	s.items[s.n] = p
	s.n++
	return nil
}

// Members returns the members in insertion order.
func (s *PrincipalSet) Members() []Principal {
	out := make([]Principal, s.n)
	copy(out, s.items[:s.n])
	return out
}

// ReputationLeverage is one registry entry.
type ReputationLeverage struct {
	Trader   Principal `json:"trader"`
	Leverage uint64    `json:"leverage"`
}

// LeverageRegistry maps traders to a reputation-based leverage cap with
// update-or-insert semantics and a fixed capacity.
// Nothing in the position paths consults it yet.
type LeverageRegistry struct {
	entries [MaxRegistryEntries]ReputationLeverage
	n       int
}

// Len returns the number of entries.
func (r *LeverageRegistry) Len() int {
	return r.n
}

// Get returns the leverage cap recorded for trader.
func (r *LeverageRegistry) Get(trader Principal) (uint64, bool) {
	for i := 0; i < r.n; i++ {
		if r.entries[i].Trader == trader {
			return r.entries[i].Leverage, true
		}
	}
	return 0, false
}

// Upsert overwrites the entry for trader or appends a new one.
// Appending past capacity fails with ErrCapacityExceeded.
func (r *LeverageRegistry) Upsert(trader Principal, leverage uint64) error {
	for i := 0; i < r.n; i++ {
		if r.entries[i].Trader == trader {
			r.entries[i].Leverage = leverage
			return nil
		}
	}
	if r.n >= MaxRegistryEntries {
		return ErrCapacityExceeded
	}
	r.entries[r.n] = ReputationLeverage{Trader: trader, Leverage: leverage}
	r.n++
	return nil
}

// Entries returns the entries in insertion order.
func (r *LeverageRegistry) Entries() []ReputationLeverage {
	out := make([]ReputationLeverage, r.n)
	copy(out, r.entries[:r.n])
	return out
}
