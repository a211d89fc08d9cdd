package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"FlashLedger/internal/observability"
	"FlashLedger/internal/state"

	"github.com/rs/zerolog"
)

// QueryService serves read-only views of the durable records and the
// projection tables. Every response carries the sequence it reflects.
type QueryService struct {
	db      *sql.DB
	cache   *AccountCache
	metrics *observability.Metrics
	log     zerolog.Logger
}

// NewQueryService creates the service. cache and metrics may be nil.
func NewQueryService(db *sql.DB, cache *AccountCache, metrics *observability.Metrics, log zerolog.Logger) *QueryService {
	return &QueryService{db: db, cache: cache, metrics: metrics, log: log}
}

// GetGlobalLedger returns the persisted global ledger. ErrNotInitialized
// until the first Initialize has been flushed.
func (qs *QueryService) GetGlobalLedger(ctx context.Context) (*GlobalLedgerResponse, error) {
	defer qs.observe("global_ledger", time.Now())

	var (
		seq    int64
		hash   []byte
		record []byte
	)
	err := qs.db.QueryRowContext(ctx, `
		SELECT sequence, state_hash, record FROM ledger.global_state WHERE id = 1
	`).Scan(&seq, &hash, &record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, state.ErrNotInitialized
	}
	if err != nil {
		return nil, qs.fail("global_ledger", err)
	}

	var g state.GlobalLedger
	if err := g.UnmarshalBinary(record); err != nil {
		return nil, qs.fail("global_ledger", err)
	}
	return &GlobalLedgerResponse{
		GlobalLedgerView: g.View(),
		StateHash:        hash,
		AsOfSequence:     seq,
	}, nil
}

// GetTraderAccount returns owner's account, reading through the cache.
func (qs *QueryService) GetTraderAccount(ctx context.Context, owner state.Principal) (*TraderAccountResponse, error) {
	defer qs.observe("trader_account", time.Now())

	if qs.cache != nil {
		acct, err := qs.cache.Get(ctx, owner)
		switch {
		case err != nil:
			qs.cacheResult("error")
			qs.log.Warn().Err(err).Str("owner", owner.String()).Msg("account cache read failed")
		case acct != nil:
			qs.cacheResult("hit")
			return acct, nil
		default:
			qs.cacheResult("miss")
		}
	}

	var (
		record  []byte
		lastSeq int64
	)
	err := qs.db.QueryRowContext(ctx, `
		SELECT record, last_sequence FROM ledger.trader_accounts WHERE owner = $1
	`, owner.String()).Scan(&record, &lastSeq)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, state.ErrAccountNotFound
	}
	if err != nil {
		return nil, qs.fail("trader_account", err)
	}

	var a state.TraderAccount
	if err := a.UnmarshalBinary(record); err != nil {
		return nil, qs.fail("trader_account", err)
	}
	resp := &TraderAccountResponse{
		Owner:          a.Owner,
		StakedAmount:   a.StakedAmount,
		OpenPosition:   a.OpenPosition,
		StakeTimestamp: a.StakeTimestamp,
		LastSequence:   lastSeq,
	}

	if qs.cache != nil {
		if err := qs.cache.Set(ctx, resp); err != nil {
			qs.log.Warn().Err(err).Str("owner", owner.String()).Msg("account cache write failed")
		}
	}
	return resp, nil
}

// ListLiquidations returns liquidation history, optionally for one trader.
func (qs *QueryService) ListLiquidations(ctx context.Context, trader *state.Principal, page Page) (*HistoryResponse[LiquidationResponse], error) {
	defer qs.observe("liquidations", time.Now())

	asOf, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, qs.fail("liquidations", err)
	}

	query, args := historyQuery(`
		SELECT sequence, liquidator, trader, liquidation_amount, penalty,
		       liquidator_reward, liquidity_pool_bonus, paid, executed_at
		FROM projections.liquidation_history`, "trader", trader, page)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, qs.fail("liquidations", err)
	}
	defer rows.Close()

	out := &HistoryResponse[LiquidationResponse]{Items: []LiquidationResponse{}, AsOfSequence: asOf}
	for rows.Next() {
		var (
			r                  LiquidationResponse
			liquidator, target string
		)
		if err := rows.Scan(
			&r.Sequence, &liquidator, &target, &r.LiquidationAmount, &r.Penalty,
			&r.LiquidatorReward, &r.LiquidityPoolBonus, &r.Paid, &r.ExecutedAt,
		); err != nil {
			return nil, qs.fail("liquidations", err)
		}
		if r.Liquidator, err = state.ParsePrincipal(liquidator); err != nil {
			return nil, qs.fail("liquidations", err)
		}
		if r.Trader, err = state.ParsePrincipal(target); err != nil {
			return nil, qs.fail("liquidations", err)
		}
		out.Items = append(out.Items, r)
	}
	return out, rows.Err()
}

// ListFunding returns funding history, optionally for one trader.
func (qs *QueryService) ListFunding(ctx context.Context, trader *state.Principal, page Page) (*HistoryResponse[FundingHistoryResponse], error) {
	defer qs.observe("funding", time.Now())

	asOf, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, qs.fail("funding", err)
	}

	query, args := historyQuery(`
		SELECT sequence, trader, fee, fee_rate, open_position_after, executed_at
		FROM projections.funding_history`, "trader", trader, page)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, qs.fail("funding", err)
	}
	defer rows.Close()

	out := &HistoryResponse[FundingHistoryResponse]{Items: []FundingHistoryResponse{}, AsOfSequence: asOf}
	for rows.Next() {
		var (
			r      FundingHistoryResponse
			target string
		)
		if err := rows.Scan(&r.Sequence, &target, &r.Fee, &r.FeeRate, &r.OpenPositionAfter, &r.ExecutedAt); err != nil {
			return nil, qs.fail("funding", err)
		}
		if r.Trader, err = state.ParsePrincipal(target); err != nil {
			return nil, qs.fail("funding", err)
		}
		out.Items = append(out.Items, r)
	}
	return out, rows.Err()
}

// ListHedges returns auto hedge history.
func (qs *QueryService) ListHedges(ctx context.Context, page Page) (*HistoryResponse[HedgeResponse], error) {
	defer qs.observe("hedges", time.Now())

	asOf, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, qs.fail("hedges", err)
	}

	query, args := historyQuery(`
		SELECT sequence, admin, hedge_amount, remaining_liquidity, executed_at
		FROM projections.hedge_history`, "", nil, page)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, qs.fail("hedges", err)
	}
	defer rows.Close()

	out := &HistoryResponse[HedgeResponse]{Items: []HedgeResponse{}, AsOfSequence: asOf}
	for rows.Next() {
		var (
			r     HedgeResponse
			admin string
		)
		if err := rows.Scan(&r.Sequence, &admin, &r.HedgeAmount, &r.RemainingLiquidity, &r.ExecutedAt); err != nil {
			return nil, qs.fail("hedges", err)
		}
		if r.Admin, err = state.ParsePrincipal(admin); err != nil {
			return nil, qs.fail("hedges", err)
		}
		out.Items = append(out.Items, r)
	}
	return out, rows.Err()
}

// historyQuery appends the optional principal filter, the cursor and the
// limit to base.
func historyQuery(base, column string, who *state.Principal, page Page) (string, []any) {
	query := base + " WHERE TRUE"
	var args []any

	if who != nil && column != "" {
		args = append(args, who.String())
		query += fmt.Sprintf(" AND %s = $%d", column, len(args))
	}
	if page.Before > 0 {
		args = append(args, page.Before)
		query += fmt.Sprintf(" AND sequence < $%d", len(args))
	}
	args = append(args, page.limit())
	query += fmt.Sprintf(" ORDER BY sequence DESC LIMIT $%d", len(args))
	return query, args
}

// getWatermark returns the highest sequence applied by any projection run.
func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := qs.db.QueryRowContext(ctx, `
		SELECT MAX(last_sequence) FROM projections.watermark
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq.Int64, nil
}

func (qs *QueryService) observe(endpoint string, start time.Time) {
	if qs.metrics == nil {
		return
	}
	qs.metrics.QueryRequests.WithLabelValues(endpoint).Inc()
	qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func (qs *QueryService) fail(endpoint string, err error) error {
	if qs.metrics != nil {
		qs.metrics.QueryErrors.WithLabelValues(endpoint).Inc()
	}
	return fmt.Errorf("query %s: %w", endpoint, err)
}

func (qs *QueryService) cacheResult(result string) {
	if qs.metrics != nil {
		qs.metrics.CacheRequests.WithLabelValues("account", result).Inc()
	}
}
