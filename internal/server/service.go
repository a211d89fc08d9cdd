package server

import (
	"context"
	"database/sql"

	"FlashLedger/internal/core"
	"FlashLedger/internal/event"
	"FlashLedger/internal/persistence"
	"FlashLedger/internal/projection"
	"FlashLedger/internal/query"
	"FlashLedger/internal/state"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Ledger is the command side. *core.Engine satisfies it.
type Ledger interface {
	Execute(ctx context.Context, cmd event.Command) (*core.Receipt, error)
	GlobalLedger() (state.GlobalLedger, error)
	GetSequence() int64
	GetStateHash() [32]byte
}

// Reader is the query side. *query.QueryService satisfies it.
type Reader interface {
	GetGlobalLedger(ctx context.Context) (*query.GlobalLedgerResponse, error)
	GetTraderAccount(ctx context.Context, owner state.Principal) (*query.TraderAccountResponse, error)
	ListLiquidations(ctx context.Context, trader *state.Principal, page query.Page) (*query.HistoryResponse[query.LiquidationResponse], error)
	ListFunding(ctx context.Context, trader *state.Principal, page query.Page) (*query.HistoryResponse[query.FundingHistoryResponse], error)
	ListHedges(ctx context.Context, page query.Page) (*query.HistoryResponse[query.HedgeResponse], error)
}

// Maintenance runs the event log admin operations.
type Maintenance interface {
	LatestSequence(ctx context.Context) (int64, error)
	VerifyChain(ctx context.Context) (int64, error)
	RebuildProjections(ctx context.Context) (int64, error)
}

// --- request / response bodies ---

// GetTraderAccountRequest names one account.
type GetTraderAccountRequest struct {
	Owner state.Principal `json:"owner"`
}

// ListHistoryRequest pages a history table. Trader is optional.
type ListHistoryRequest struct {
	Trader *state.Principal `json:"trader,omitempty"`
	Limit  int              `json:"limit,omitempty"`
	Before int64            `json:"before,omitempty"`
}

func (r *ListHistoryRequest) page() query.Page {
	return query.Page{Limit: r.Limit, Before: r.Before}
}

type Empty struct{}

// EventLogInfo describes the event log and the live engine.
type EventLogInfo struct {
	PersistedSequence int64  `json:"persisted_sequence"`
	EngineSequence    int64  `json:"engine_sequence"`
	EngineStateHash   []byte `json:"engine_state_hash"`
}

// MaintenanceResult reports how many events an admin operation walked.
type MaintenanceResult struct {
	Events int64 `json:"events"`
}

// LedgerService implements flashledger.v1.LedgerService. The same methods
// back the gRPC service, the HTTP gateway and nothing else; NATS commands go
// straight to the engine.
type LedgerService struct {
	ledger      Ledger
	reader      Reader
	maintenance Maintenance
	log         zerolog.Logger
}

// NewLedgerService wires the service. reader and maintenance may be nil;
// their methods then return Unimplemented.
func NewLedgerService(ledger Ledger, reader Reader, maintenance Maintenance, log zerolog.Logger) *LedgerService {
	return &LedgerService{ledger: ledger, reader: reader, maintenance: maintenance, log: log}
}

// ExecuteCommand stamps cmd with the authenticated principal and runs it.
// A command without command_id gets a fresh one and cannot be deduplicated.
func (s *LedgerService) ExecuteCommand(ctx context.Context, cmd event.Command) (*core.Receipt, error) {
	caller, ok := PrincipalFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing principal")
	}
	m := event.MetaOf(cmd)
	m.Signer = caller
	m.EnsureID()

	receipt, err := s.ledger.Execute(ctx, cmd)
	if err != nil {
		return nil, toStatus(err)
	}
	return receipt, nil
}

func (s *LedgerService) GetGlobalLedger(ctx context.Context, _ *Empty) (*query.GlobalLedgerResponse, error) {
	if s.reader == nil {
		return nil, status.Error(codes.Unimplemented, "queries not configured")
	}
	resp, err := s.reader.GetGlobalLedger(ctx)
	return resp, toStatus(err)
}

func (s *LedgerService) GetTraderAccount(ctx context.Context, req *GetTraderAccountRequest) (*query.TraderAccountResponse, error) {
	if s.reader == nil {
		return nil, status.Error(codes.Unimplemented, "queries not configured")
	}
	if req.Owner.IsZero() {
		return nil, status.Error(codes.InvalidArgument, "owner is required")
	}
	resp, err := s.reader.GetTraderAccount(ctx, req.Owner)
	return resp, toStatus(err)
}

func (s *LedgerService) ListLiquidations(ctx context.Context, req *ListHistoryRequest) (*query.HistoryResponse[query.LiquidationResponse], error) {
	if s.reader == nil {
		return nil, status.Error(codes.Unimplemented, "queries not configured")
	}
	resp, err := s.reader.ListLiquidations(ctx, req.Trader, req.page())
	return resp, toStatus(err)
}

func (s *LedgerService) ListFunding(ctx context.Context, req *ListHistoryRequest) (*query.HistoryResponse[query.FundingHistoryResponse], error) {
	if s.reader == nil {
		return nil, status.Error(codes.Unimplemented, "queries not configured")
	}
	resp, err := s.reader.ListFunding(ctx, req.Trader, req.page())
	return resp, toStatus(err)
}

func (s *LedgerService) ListHedges(ctx context.Context, req *ListHistoryRequest) (*query.HistoryResponse[query.HedgeResponse], error) {
	if s.reader == nil {
		return nil, status.Error(codes.Unimplemented, "queries not configured")
	}
	resp, err := s.reader.ListHedges(ctx, req.page())
	return resp, toStatus(err)
}

func (s *LedgerService) GetEventLogInfo(ctx context.Context, _ *Empty) (*EventLogInfo, error) {
	info := &EventLogInfo{EngineSequence: s.ledger.GetSequence()}
	hash := s.ledger.GetStateHash()
	info.EngineStateHash = hash[:]
	if s.maintenance != nil {
		seq, err := s.maintenance.LatestSequence(ctx)
		if err != nil {
			return nil, toStatus(err)
		}
		info.PersistedSequence = seq
	}
	return info, nil
}

func (s *LedgerService) VerifyChain(ctx context.Context, _ *Empty) (*MaintenanceResult, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}
	n, err := s.maintenance.VerifyChain(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &MaintenanceResult{Events: n}, nil
}

func (s *LedgerService) RebuildProjections(ctx context.Context, _ *Empty) (*MaintenanceResult, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}
	n, err := s.maintenance.RebuildProjections(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	s.log.Info().Int64("events", n).Msg("projections rebuilt")
	return &MaintenanceResult{Events: n}, nil
}

// requireAdmin allows maintenance only to the ledger admin.
func (s *LedgerService) requireAdmin(ctx context.Context) error {
	if s.maintenance == nil {
		return status.Error(codes.Unimplemented, "maintenance not configured")
	}
	caller, ok := PrincipalFromContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing principal")
	}
	g, err := s.ledger.GlobalLedger()
	if err != nil {
		return toStatus(err)
	}
	if !g.IsAdmin(caller) {
		return toStatus(state.ErrUnauthorized)
	}
	return nil
}

// PostgresMaintenance runs maintenance against the event log database.
type PostgresMaintenance struct {
	db       *sql.DB
	snaps    *persistence.SnapshotManager
	opts     core.Options
	pageSize int
	log      zerolog.Logger
}

// NewPostgresMaintenance returns maintenance over db. opts are the options
// the live engine runs with; projection rebuilds replay under them.
func NewPostgresMaintenance(db *sql.DB, opts core.Options, log zerolog.Logger) *PostgresMaintenance {
	return &PostgresMaintenance{
		db:       db,
		snaps:    persistence.NewSnapshotManager(db),
		opts:     opts,
		pageSize: 1000,
		log:      log,
	}
}

func (m *PostgresMaintenance) LatestSequence(ctx context.Context) (int64, error) {
	return m.snaps.GetLatestSequence(ctx)
}

func (m *PostgresMaintenance) VerifyChain(ctx context.Context) (int64, error) {
	return m.snaps.VerifyChain(ctx, m.pageSize)
}

func (m *PostgresMaintenance) RebuildProjections(ctx context.Context) (int64, error) {
	return projection.RebuildProjections(ctx, m.db, m.opts, m.pageSize, m.log)
}
