package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"FlashLedger/internal/core"
	"FlashLedger/internal/event"
	"FlashLedger/internal/observability"
	"FlashLedger/internal/query"
	"FlashLedger/internal/server"
	"FlashLedger/internal/state"
	"FlashLedger/internal/testutil"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

var (
	admin = testutil.Principal(1)
	vault = testutil.Principal(2)
	alice = testutil.Principal(10)
)

type fakeReader struct {
	lastTrader *state.Principal
	lastPage   query.Page
}

func (f *fakeReader) GetGlobalLedger(ctx context.Context) (*query.GlobalLedgerResponse, error) {
	return &query.GlobalLedgerResponse{AsOfSequence: 7}, nil
}

func (f *fakeReader) GetTraderAccount(ctx context.Context, owner state.Principal) (*query.TraderAccountResponse, error) {
	if owner != alice {
		return nil, state.ErrAccountNotFound
	}
	return &query.TraderAccountResponse{Owner: owner, LastSequence: 3}, nil
}

func (f *fakeReader) ListLiquidations(ctx context.Context, trader *state.Principal, page query.Page) (*query.HistoryResponse[query.LiquidationResponse], error) {
	f.lastTrader, f.lastPage = trader, page
	return &query.HistoryResponse[query.LiquidationResponse]{AsOfSequence: 5}, nil
}

func (f *fakeReader) ListFunding(ctx context.Context, trader *state.Principal, page query.Page) (*query.HistoryResponse[query.FundingHistoryResponse], error) {
	f.lastTrader, f.lastPage = trader, page
	return &query.HistoryResponse[query.FundingHistoryResponse]{AsOfSequence: 5}, nil
}

func (f *fakeReader) ListHedges(ctx context.Context, page query.Page) (*query.HistoryResponse[query.HedgeResponse], error) {
	f.lastPage = page
	return &query.HistoryResponse[query.HedgeResponse]{AsOfSequence: 5}, nil
}

type fakeMaintenance struct {
	verified, rebuilt int
}

func (f *fakeMaintenance) LatestSequence(ctx context.Context) (int64, error) { return 42, nil }

func (f *fakeMaintenance) VerifyChain(ctx context.Context) (int64, error) {
	f.verified++
	return 42, nil
}

func (f *fakeMaintenance) RebuildProjections(ctx context.Context) (int64, error) {
	f.rebuilt++
	return 42, nil
}

type fixture struct {
	eng    *core.Engine
	reader *fakeReader
	maint  *fakeMaintenance
	svc    *server.LedgerService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	eng, err := core.NewEngine(core.Options{Vault: vault}, core.Deps{
		Clock:   testutil.NewFakeClock(1000),
		Custody: &testutil.RecordingTransferer{},
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	f := &fixture{eng: eng, reader: &fakeReader{}, maint: &fakeMaintenance{}}
	f.svc = server.NewLedgerService(eng, f.reader, f.maint, observability.NopLogger())
	return f
}

func (f *fixture) initialize(t *testing.T) {
	t.Helper()
	ctx := server.WithPrincipal(context.Background(), admin)
	_, err := f.svc.ExecuteCommand(ctx, &event.Initialize{GlobalParams: state.GlobalParams{
		FeeRate:           1,
		MaintenanceMargin: 150,
		MinStakeDuration:  30,
		ExecutionFee:      5,
	}})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
}

func expectCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	if got := status.Code(err); got != want {
		t.Errorf("code: got %s, want %s (%v)", got, want, err)
	}
}

// --- gRPC ---

func dialBufconn(t *testing.T, svc *server.LedgerService) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := server.NewGRPCServer(svc, observability.NopLogger())
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(server.CodecName)),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func method(name string) string {
	return "/" + server.ServiceName + "/" + name
}

func asCaller(p state.Principal) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), server.PrincipalMetadataKey, p.String())
}

func TestGRPC_CommandsAndQueries(t *testing.T) {
	f := newFixture(t)
	conn := dialBufconn(t, f.svc)

	initCmd := &event.Initialize{
		Meta:         event.Meta{CommandID: uuid.New()},
		GlobalParams: state.GlobalParams{FeeRate: 1, MaintenanceMargin: 150, MinStakeDuration: 30, ExecutionFee: 5},
	}
	var receipt core.Receipt
	if err := conn.Invoke(asCaller(admin), method("Initialize"), initCmd, &receipt); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if receipt.Sequence != 1 || receipt.EventType != "Initialize" || len(receipt.StateHash) != 32 {
		t.Errorf("unexpected receipt: %+v", receipt)
	}

	g, err := f.eng.GlobalLedger()
	if err != nil {
		t.Fatalf("GlobalLedger: %v", err)
	}
	if !g.IsAdmin(admin) {
		t.Errorf("caller must come from metadata, not the body")
	}

	// Redelivery of the same command id is a duplicate, not a second commit.
	var dup core.Receipt
	if err := conn.Invoke(asCaller(admin), method("Initialize"), initCmd, &dup); err != nil {
		t.Fatalf("redelivered Initialize: %v", err)
	}
	if !dup.Duplicate || f.eng.GetSequence() != 1 {
		t.Errorf("redelivery committed again: duplicate=%v sequence=%d", dup.Duplicate, f.eng.GetSequence())
	}

	var stake core.Receipt
	if err := conn.Invoke(asCaller(alice), method("Stake"), &event.Stake{Amount: 100}, &stake); err != nil {
		t.Fatalf("Stake: %v", err)
	}
	if stake.Account == nil || stake.Account.StakedAmount != 100 {
		t.Errorf("stake receipt account: %+v", stake.Account)
	}

	var ledger query.GlobalLedgerResponse
	if err := conn.Invoke(context.Background(), method("GetGlobalLedger"), &server.Empty{}, &ledger); err != nil {
		t.Fatalf("GetGlobalLedger: %v", err)
	}
	if ledger.AsOfSequence != 7 {
		t.Errorf("as_of_sequence: got %d, want 7", ledger.AsOfSequence)
	}

	var info server.EventLogInfo
	if err := conn.Invoke(context.Background(), method("GetEventLogInfo"), &server.Empty{}, &info); err != nil {
		t.Fatalf("GetEventLogInfo: %v", err)
	}
	if info.PersistedSequence != 42 || info.EngineSequence != 2 {
		t.Errorf("event log info: %+v", info)
	}
}

func TestGRPC_ErrorCodes(t *testing.T) {
	f := newFixture(t)
	conn := dialBufconn(t, f.svc)

	var receipt core.Receipt
	err := conn.Invoke(context.Background(), method("Stake"), &event.Stake{Amount: 1}, &receipt)
	expectCode(t, err, codes.Unauthenticated)

	// not initialized
	err = conn.Invoke(asCaller(alice), method("Stake"), &event.Stake{Amount: 1}, &receipt)
	expectCode(t, err, codes.FailedPrecondition)

	f.initialize(t)

	err = conn.Invoke(asCaller(alice), method("AutoHedge"), &event.AutoHedge{HedgeAmount: 1}, &receipt)
	expectCode(t, err, codes.PermissionDenied)
	if msg := status.Convert(err).Message(); !strings.Contains(msg, "unauthorized") {
		t.Errorf("message must carry the reason label: %q", msg)
	}

	err = conn.Invoke(asCaller(alice), method("VerifyChain"), &server.Empty{}, &server.MaintenanceResult{})
	expectCode(t, err, codes.PermissionDenied)
	if f.maint.verified != 0 {
		t.Errorf("non-admin reached VerifyChain")
	}

	var res server.MaintenanceResult
	if err := conn.Invoke(asCaller(admin), method("VerifyChain"), &server.Empty{}, &res); err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if res.Events != 42 || f.maint.verified != 1 {
		t.Errorf("VerifyChain: events=%d calls=%d", res.Events, f.maint.verified)
	}

	bad := metadata.AppendToOutgoingContext(context.Background(), server.PrincipalMetadataKey, "not-base58-0OIl")
	err = conn.Invoke(bad, method("Stake"), &event.Stake{Amount: 1}, &receipt)
	expectCode(t, err, codes.Unauthenticated)

	var acct query.TraderAccountResponse
	err = conn.Invoke(context.Background(), method("GetTraderAccount"), &server.GetTraderAccountRequest{Owner: admin}, &acct)
	expectCode(t, err, codes.NotFound)
}

func TestServiceDesc_CoversEveryCommand(t *testing.T) {
	names := make(map[string]bool)
	for _, m := range server.ServiceDesc().Methods {
		if names[m.MethodName] {
			t.Errorf("duplicate method %s", m.MethodName)
		}
		names[m.MethodName] = true
	}
	for _, et := range event.AllEventTypes() {
		if !names[et.String()] {
			t.Errorf("missing method for %s", et)
		}
	}
}

// --- HTTP gateway ---

func newGateway(t *testing.T, f *fixture) *httptest.Server {
	t.Helper()
	health := observability.NewHealthChecker()
	health.SetReady(true)
	gw, err := server.NewHTTPGateway("127.0.0.1:0", f.svc, health, observability.NopLogger())
	if err != nil {
		t.Fatalf("NewHTTPGateway: %v", err)
	}
	ts := httptest.NewServer(gw.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url string, caller *state.Principal, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if caller != nil {
		req.Header.Set(server.PrincipalHeader, caller.String())
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	out := map[string]any{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("%s %s: decode body: %v", method, url, err)
	}
	return resp, out
}

func expectStatus(t *testing.T, resp *http.Response, want int, body map[string]any) {
	t.Helper()
	if resp.StatusCode != want {
		t.Errorf("%s %s: status %d, want %d (%v)", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, body)
	}
}

// number reads a JSON number field.
func number(out map[string]any, key string) float64 {
	n, _ := out[key].(float64)
	return n
}

func TestGateway_Commands(t *testing.T) {
	f := newFixture(t)
	ts := newGateway(t, f)

	body := `{"fee_rate":1,"maintenance_margin":150,"min_stake_duration":30,"execution_fee":5}`
	resp, out := do(t, http.MethodPost, ts.URL+"/v1/commands/initialize", &admin, body)
	expectStatus(t, resp, http.StatusOK, out)
	if number(out, "sequence") != 1 {
		t.Errorf("initialize sequence: %v", out["sequence"])
	}

	resp, out = do(t, http.MethodPost, ts.URL+"/v1/commands/Stake", &alice, `{"amount":100}`)
	expectStatus(t, resp, http.StatusOK, out)
	if number(out, "sequence") != 2 {
		t.Errorf("stake sequence: %v", out["sequence"])
	}

	acct, err := f.eng.TraderAccount(alice)
	if err != nil {
		t.Fatalf("TraderAccount: %v", err)
	}
	if acct.StakedAmount != 100 {
		t.Errorf("staked: got %d, want 100", acct.StakedAmount)
	}

	// Time lock has not elapsed.
	resp, out = do(t, http.MethodPost, ts.URL+"/v1/commands/open_position", &alice, `{"leverage":2,"amount":10}`)
	expectStatus(t, resp, http.StatusBadRequest, out)
	if out["code"] != codes.FailedPrecondition.String() {
		t.Errorf("error code: %v", out["code"])
	}

	resp, out = do(t, http.MethodPost, ts.URL+"/v1/commands/auto_hedge", &alice, `{"hedge_amount":1}`)
	expectStatus(t, resp, http.StatusForbidden, out)

	resp, out = do(t, http.MethodPost, ts.URL+"/v1/commands/stake", nil, `{"amount":1}`)
	expectStatus(t, resp, http.StatusUnauthorized, out)

	resp, out = do(t, http.MethodPost, ts.URL+"/v1/commands/withdraw", &alice, `{}`)
	expectStatus(t, resp, http.StatusNotFound, out)

	resp, out = do(t, http.MethodPost, ts.URL+"/v1/commands/stake", &alice, `{"amount":`)
	expectStatus(t, resp, http.StatusBadRequest, out)
}

func TestGateway_Queries(t *testing.T) {
	f := newFixture(t)
	ts := newGateway(t, f)

	resp, out := do(t, http.MethodGet, ts.URL+"/v1/ledger", nil, "")
	expectStatus(t, resp, http.StatusOK, out)
	if number(out, "as_of_sequence") != 7 {
		t.Errorf("as_of_sequence: %v", out["as_of_sequence"])
	}

	resp, out = do(t, http.MethodGet, ts.URL+"/v1/traders/"+alice.String(), nil, "")
	expectStatus(t, resp, http.StatusOK, out)

	resp, out = do(t, http.MethodGet, ts.URL+"/v1/traders/"+admin.String(), nil, "")
	expectStatus(t, resp, http.StatusNotFound, out)

	resp, out = do(t, http.MethodGet, ts.URL+"/v1/traders/xyz0", nil, "")
	expectStatus(t, resp, http.StatusBadRequest, out)

	url := fmt.Sprintf("%s/v1/liquidations?trader=%s&limit=10&before=99", ts.URL, alice)
	resp, out = do(t, http.MethodGet, url, nil, "")
	expectStatus(t, resp, http.StatusOK, out)
	if f.reader.lastTrader == nil || *f.reader.lastTrader != alice {
		t.Errorf("trader filter not passed: %v", f.reader.lastTrader)
	}
	if want := (query.Page{Limit: 10, Before: 99}); f.reader.lastPage != want {
		t.Errorf("page: got %+v, want %+v", f.reader.lastPage, want)
	}

	resp, out = do(t, http.MethodGet, ts.URL+"/v1/funding?limit=abc", nil, "")
	expectStatus(t, resp, http.StatusBadRequest, out)

	resp, out = do(t, http.MethodGet, ts.URL+"/v1/hedges", nil, "")
	expectStatus(t, resp, http.StatusOK, out)

	resp, out = do(t, http.MethodGet, ts.URL+"/healthz", nil, "")
	expectStatus(t, resp, http.StatusOK, out)
	if out["status"] != "alive" {
		t.Errorf("healthz status: %v", out["status"])
	}
}

func TestGateway_Admin(t *testing.T) {
	f := newFixture(t)
	ts := newGateway(t, f)
	f.initialize(t)

	resp, out := do(t, http.MethodPost, ts.URL+"/v1/admin/rebuild-projections", &alice, "")
	expectStatus(t, resp, http.StatusForbidden, out)
	if f.maint.rebuilt != 0 {
		t.Errorf("non-admin reached RebuildProjections")
	}

	resp, out = do(t, http.MethodPost, ts.URL+"/v1/admin/rebuild-projections", &admin, "")
	expectStatus(t, resp, http.StatusOK, out)
	if number(out, "events") != 42 || f.maint.rebuilt != 1 {
		t.Errorf("rebuild: events=%v calls=%d", out["events"], f.maint.rebuilt)
	}

	resp, out = do(t, http.MethodGet, ts.URL+"/v1/admin/event-log", nil, "")
	expectStatus(t, resp, http.StatusOK, out)
	if number(out, "engine_sequence") != 1 {
		t.Errorf("engine_sequence: %v", out["engine_sequence"])
	}
}

func TestCode(t *testing.T) {
	cases := []struct {
		err  error
		want codes.Code
	}{
		{nil, codes.OK},
		{state.ErrUnauthorized, codes.PermissionDenied},
		{fmt.Errorf("wrapped: %w", state.ErrStakeTimeLock), codes.FailedPrecondition},
		{state.ErrInvalidLiquidationAmount, codes.InvalidArgument},
		{state.ErrCapacityExceeded, codes.ResourceExhausted},
		{state.ErrMathOverflow, codes.OutOfRange},
		{state.ErrAlreadyInitialized, codes.AlreadyExists},
		{state.ErrTransferFailed, codes.Unavailable},
		{fmt.Errorf("stake: %w", state.ErrDedupUnavailable), codes.Unavailable},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{status.Error(codes.Aborted, "x"), codes.Aborted},
		{errors.New("boom"), codes.Internal},
	}
	for _, tc := range cases {
		if got := server.Code(tc.err); got != tc.want {
			t.Errorf("Code(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}
