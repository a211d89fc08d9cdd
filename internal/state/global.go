package state

// GlobalLedger is the process-wide configuration and pool accounting record.
// It has no pointer fields: a plain value copy is a full clone, which the
// engine relies on to stage a command before committing it.
type GlobalLedger struct {
	Admin                       Principal
	FeeRate                     uint64
	MaintenanceMargin           uint64 // percent, e.g. 150 = 150%
	MinStakeDuration            int64  // seconds
	ExecutionFee                uint64
	TotalStaked                 uint64 // declared, never mutated
	TotalLiquidity              uint64
	OrderbookMerkleRoot         [32]byte
	AuthorizedLiquidators       PrincipalSet
	AuthorizedOrderbookUpdaters PrincipalSet
	ReputationBasedLeverage     LeverageRegistry
}

// GlobalParams are the Initialize inputs.
type GlobalParams struct {
	FeeRate           uint64 `json:"fee_rate"`
	MaintenanceMargin uint64 `json:"maintenance_margin"`
	MinStakeDuration  int64  `json:"min_stake_duration"`
	ExecutionFee      uint64 `json:"execution_fee"`
}

// NewGlobalLedger creates the singleton with zero totals, empty allow-lists
// and registry, and a zeroed merkle root.
func NewGlobalLedger(admin Principal, params GlobalParams) GlobalLedger {
	return GlobalLedger{
		Admin:             admin,
		FeeRate:           params.FeeRate,
		MaintenanceMargin: params.MaintenanceMargin,
		MinStakeDuration:  params.MinStakeDuration,
		ExecutionFee:      params.ExecutionFee,
	}
}

// IsAdmin reports whether p is the stored admin.
func (g *GlobalLedger) IsAdmin(p Principal) bool {
	return !p.IsZero() && g.Admin == p
}

// IsAuthorizedLiquidator reports whether p is on the liquidator allow-list.
func (g *GlobalLedger) IsAuthorizedLiquidator(p Principal) bool {
	return g.AuthorizedLiquidators.Contains(p)
}

// GlobalLedgerView is the JSON representation served by queries and APIs.
type GlobalLedgerView struct {
	Admin                       Principal            `json:"admin"`
	FeeRate                     uint64               `json:"fee_rate"`
	MaintenanceMargin           uint64               `json:"maintenance_margin"`
	MinStakeDuration            int64                `json:"min_stake_duration"`
	ExecutionFee                uint64               `json:"execution_fee"`
	TotalStaked                 uint64               `json:"total_staked"`
	TotalLiquidity              uint64               `json:"total_liquidity"`
	OrderbookMerkleRoot         []byte               `json:"orderbook_merkle_root"`
	AuthorizedLiquidators       []Principal          `json:"authorized_liquidators"`
	AuthorizedOrderbookUpdaters []Principal          `json:"authorized_orderbook_updaters"`
	ReputationBasedLeverage     []ReputationLeverage `json:"reputation_based_leverage"`
}

// View returns a detached JSON-friendly copy.
func (g *GlobalLedger) View() GlobalLedgerView {
	root := make([]byte, len(g.OrderbookMerkleRoot))
	copy(root, g.OrderbookMerkleRoot[:])
	return GlobalLedgerView{
		Admin:                       g.Admin,
		FeeRate:                     g.FeeRate,
		MaintenanceMargin:           g.MaintenanceMargin,
		MinStakeDuration:            g.MinStakeDuration,
		ExecutionFee:                g.ExecutionFee,
		TotalStaked:                 g.TotalStaked,
		TotalLiquidity:              g.TotalLiquidity,
		OrderbookMerkleRoot:         root,
		AuthorizedLiquidators:       g.AuthorizedLiquidators.Members(),
		AuthorizedOrderbookUpdaters: g.AuthorizedOrderbookUpdaters.Members(),
		ReputationBasedLeverage:     g.ReputationBasedLeverage.Entries(),
	}
}
