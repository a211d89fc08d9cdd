package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"FlashLedger/internal/custody"
	"FlashLedger/internal/event"
	"FlashLedger/internal/observability"
	"FlashLedger/internal/state"

	"github.com/rs/zerolog"
)

// Clock supplies the current time in unix seconds. Readings must be
// non-decreasing.
type Clock interface {
	Now() int64
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() int64 { return time.Now().Unix() }

// Options configures an Engine.
type Options struct {
	// Vault receives staked collateral and pays liquidator rewards.
	Vault state.Principal

	// PayLiquidatorReward transfers the liquidator reward from the vault
	// before a liquidation commits. When false the reward is only announced
	// through LiquidationRewardIssued.
	PayLiquidatorReward bool

	IdempotencyCapacity int
}

// Engine owns the global ledger and every trader account. Commands are
// serialized by a single mutex and applied to staged copies; the copies
// replace the live records only when every step succeeded.
type Engine struct {
	mu sync.Mutex

	global  *state.GlobalLedger
	traders map[state.Principal]*state.TraderAccount

	sequence    int64
	hasher      *StateHasher
	idempotency *IdempotencyChecker

	clock   Clock
	custody custody.Transferer
	opts    Options
	metrics *observability.Metrics
	log     zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is emitted for every committed command.
type CoreOutput struct {
	Envelope *event.EventEnvelope
	Receipt  *Receipt

	// Post-commit copies of the records the command touched. Global is set
	// for every command; Account only when a trader record changed.
	Global  state.GlobalLedger
	Account *state.TraderAccount
}

// Receipt describes the outcome of a command.
type Receipt struct {
	Sequence  int64  `json:"sequence"`
	EventType string `json:"event_type"`
	CommandID string `json:"command_id"`
	StateHash []byte `json:"state_hash,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Duplicate bool   `json:"duplicate,omitempty"`

	Account     *state.TraderAccount           `json:"account,omitempty"`
	Funding     *event.FundingApplied          `json:"funding,omitempty"`
	Liquidation *event.LiquidationRewardIssued `json:"liquidation,omitempty"`
	Hedge       *event.HedgeExecuted           `json:"hedge,omitempty"`
}

// Deps are the collaborators an Engine needs. Only Custody is required.
type Deps struct {
	Clock          Clock
	Custody        custody.Transferer
	DBChecker      DBIdempotencyChecker
	Metrics        *observability.Metrics
	Logger         *zerolog.Logger
	PersistChan    chan<- CoreOutput
	ProjectionChan chan<- CoreOutput
}

func NewEngine(opts Options, deps Deps) (*Engine, error) {
	if deps.Custody == nil {
		return nil, fmt.Errorf("engine: custody transferer is required")
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	log := observability.NopLogger()
	if deps.Logger != nil {
		log = *deps.Logger
	}

	idem, err := NewIdempotencyChecker(opts.IdempotencyCapacity, deps.DBChecker, deps.Metrics, log)
	if err != nil {
		return nil, err
	}

	return &Engine{
		traders:        make(map[state.Principal]*state.TraderAccount),
		hasher:         NewStateHasher(),
		idempotency:    idem,
		clock:          deps.Clock,
		custody:        deps.Custody,
		opts:           opts,
		metrics:        deps.Metrics,
		log:            log,
		persistChan:    deps.PersistChan,
		projectionChan: deps.ProjectionChan,
	}, nil
}

// txn stages one command. global and account are value copies of the live
// records; handlers mutate them freely and commit swaps them in.
type txn struct {
	ctx    context.Context
	caller state.Principal
	key    string
	now    int64

	global      state.GlobalLedger
	initialized bool

	account    *state.TraderAccount
	newAccount bool

	receipt *Receipt
}

// Execute runs cmd to completion. A rejected command returns an error and
// leaves every record unchanged. A command whose id was already committed
// returns a receipt with Duplicate set and changes nothing.
func (c *Engine) Execute(ctx context.Context, cmd event.Command) (*Receipt, error) {
	start := time.Now()
	eventType := cmd.EventType().String()
	key := cmd.IdempotencyKey()
	caller := cmd.Caller()

	c.mu.Lock()
	defer c.mu.Unlock()

	dup, err := c.idempotency.IsDuplicate(eventType, caller.String(), key)
	if err != nil {
		c.reject(eventType, state.Reason(err))
		return nil, err
	}
	if dup {
		c.reject(eventType, "duplicate")
		return &Receipt{EventType: eventType, CommandID: key, Duplicate: true}, nil
	}

	// Encoded up front so nothing can fail between a custody transfer and
	// the commit that records it.
	payload, err := event.Encode(cmd)
	if err != nil {
		c.reject(eventType, "internal")
		return nil, err
	}

	tx := &txn{
		ctx:     ctx,
		caller:  caller,
		key:     key,
		now:     c.clock.Now(),
		receipt: &Receipt{EventType: eventType, CommandID: key},
	}
	if c.global != nil {
		tx.global = *c.global
		tx.initialized = true
	}

	if err := c.dispatch(tx, cmd); err != nil {
		reason := state.Reason(err)
		c.reject(eventType, reason)
		c.log.Debug().
			Str("event_type", eventType).
			Str("command_id", key).
			Str("caller", tx.caller.String()).
			Str("reason", reason).
			Err(err).
			Msg("command rejected")
		return nil, err
	}

	// Commit.
	global := tx.global
	c.global = &global
	if tx.account != nil {
		acct := *tx.account
		c.traders[acct.Owner] = &acct
	}

	c.sequence++
	digest, err := c.computeStateDigest(tx)
	if err != nil {
		panic(fmt.Sprintf("FATAL: state digest: %v", err))
	}
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, digest)

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: key,
		EventType:      cmd.EventType(),
		Caller:         tx.caller,
		Timestamp:      tx.now,
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	receipt := tx.receipt
	receipt.Sequence = c.sequence
	receipt.StateHash = stateHash[:]
	receipt.Timestamp = tx.now
	stampNotifications(receipt, c.sequence, tx.now)

	output := CoreOutput{
		Envelope: envelope,
		Receipt:  receipt,
		Global:   global,
	}
	if tx.account != nil {
		acct := *tx.account
		output.Account = &acct
		receipt.Account = &acct
	}
	c.emit(output)

	c.idempotency.MarkProcessed(eventType, caller.String(), key)

	if c.metrics != nil {
		c.metrics.CoreCommandsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreCommandDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
		c.metrics.TotalLiquidity.Set(float64(global.TotalLiquidity))
		c.metrics.TraderAccounts.Set(float64(len(c.traders)))
	}

	return receipt, nil
}

func (c *Engine) dispatch(tx *txn, cmd event.Command) error {
	if _, ok := cmd.(*event.Initialize); !ok && !tx.initialized {
		return state.ErrNotInitialized
	}

	switch e := cmd.(type) {
	case *event.Initialize:
		return c.handleInitialize(tx, e)
	case *event.AddAuthorizedLiquidator:
		return c.handleAddAuthorizedLiquidator(tx, e)
	case *event.AddAuthorizedOrderbookUpdater:
		return c.handleAddAuthorizedOrderbookUpdater(tx, e)
	case *event.Stake:
		return c.handleStake(tx, e)
	case *event.OpenPosition:
		return c.handleOpenPosition(tx, e)
	case *event.BatchExecuteTrades:
		return c.handleBatchExecuteTrades(tx, e)
	case *event.ApplyFundingRate:
		return c.handleApplyFundingRate(tx, e)
	case *event.AdjustFundingRate:
		return c.handleAdjustFundingRate(tx, e)
	case *event.LiquidateWithPenalty:
		return c.handleLiquidateWithPenalty(tx, e)
	case *event.AutoHedge:
		return c.handleAutoHedge(tx, e)
	case *event.AdjustLeverage:
		return c.handleAdjustLeverage(tx, e)
	default:
		return fmt.Errorf("unknown command type: %T", cmd)
	}
}

// computeStateDigest is the fixed-layout bytes of the global ledger followed
// by those of the touched account, if any.
func (c *Engine) computeStateDigest(tx *txn) ([]byte, error) {
	digest, err := tx.global.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if tx.account != nil {
		acct, err := tx.account.MarshalBinary()
		if err != nil {
			return nil, err
		}
		digest = append(digest, acct...)
	}
	return digest, nil
}

// emit sends to the persist channel with a blocking send and to the
// projection channel with a non-blocking one. Projections can be rebuilt
// from the event log, lost persistence cannot.
func (c *Engine) emit(output CoreOutput) {
	if c.persistChan != nil {
		c.persistChan <- output
	}
	if c.projectionChan != nil {
		select {
		case c.projectionChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.WithLabelValues("projection").Inc()
			}
		}
	}
}

func (c *Engine) reject(eventType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreCommandsRejected.WithLabelValues(eventType, reason).Inc()
	}
}

func stampNotifications(r *Receipt, seq, now int64) {
	if r.Funding != nil {
		r.Funding.Sequence, r.Funding.Timestamp = seq, now
	}
	if r.Liquidation != nil {
		r.Liquidation.Sequence, r.Liquidation.Timestamp = seq, now
	}
	if r.Hedge != nil {
		r.Hedge.Sequence, r.Hedge.Timestamp = seq, now
	}
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState is the full in-memory state, used for recovery.
type SnapshotState struct {
	Sequence        int64
	StateHash       [32]byte
	Global          *state.GlobalLedger
	Accounts        []state.TraderAccount
	IdempotencyKeys []string
}

// RestoreFromSnapshot replaces the engine's state. Call before serving.
func (c *Engine) RestoreFromSnapshot(snap *SnapshotState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sequence = snap.Sequence
	c.hasher.SetPrevHash(snap.StateHash)

	c.global = nil
	if snap.Global != nil {
		g := *snap.Global
		c.global = &g
	}

	c.traders = make(map[state.Principal]*state.TraderAccount, len(snap.Accounts))
	for i := range snap.Accounts {
		acct := snap.Accounts[i]
		c.traders[acct.Owner] = &acct
	}

	c.idempotency.Warm(snap.IdempotencyKeys)

	if c.metrics != nil {
		c.metrics.CoreSequence.Set(float64(c.sequence))
		c.metrics.TraderAccounts.Set(float64(len(c.traders)))
		if c.global != nil {
			c.metrics.TotalLiquidity.Set(float64(c.global.TotalLiquidity))
		}
	}
}

// CreateSnapshotState captures the current in-memory state.
func (c *Engine) CreateSnapshotState() *SnapshotState {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := &SnapshotState{
		Sequence:        c.sequence,
		StateHash:       c.hasher.GetPrevHash(),
		Accounts:        make([]state.TraderAccount, 0, len(c.traders)),
		IdempotencyKeys: c.idempotency.Keys(),
	}
	if c.global != nil {
		g := *c.global
		snap.Global = &g
	}
	for _, acct := range c.traders {
		snap.Accounts = append(snap.Accounts, *acct)
	}
	sort.Slice(snap.Accounts, func(i, j int) bool {
		return snap.Accounts[i].Owner.String() < snap.Accounts[j].Owner.String()
	})
	return snap
}

// GetSequence returns the last assigned global sequence number.
func (c *Engine) GetSequence() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *Engine) GetStateHash() [32]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasher.GetPrevHash()
}

// GlobalLedger returns a copy of the global ledger.
func (c *Engine) GlobalLedger() (state.GlobalLedger, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.global == nil {
		return state.GlobalLedger{}, state.ErrNotInitialized
	}
	return *c.global, nil
}

// TraderAccount returns a copy of owner's account.
func (c *Engine) TraderAccount(owner state.Principal) (state.TraderAccount, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	acct, ok := c.traders[owner]
	if !ok {
		return state.TraderAccount{}, state.ErrAccountNotFound
	}
	return *acct, nil
}
