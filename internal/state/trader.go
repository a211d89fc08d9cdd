package state

// TraderAccount is the per-trader record, created on first stake and never
// deleted.
type TraderAccount struct {
	Owner          Principal `json:"owner"`
	StakedAmount   uint64    `json:"staked_amount"`
	OpenPosition   uint64    `json:"open_position"`
	StakeTimestamp int64     `json:"stake_timestamp"`
}

// NewTraderAccount creates an empty account owned by owner.
func NewTraderAccount(owner Principal) TraderAccount {
	return TraderAccount{Owner: owner}
}

// IsOwnedBy reports whether p owns the account.
func (a *TraderAccount) IsOwnedBy(p Principal) bool {
	return a.Owner == p
}
