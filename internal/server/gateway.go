package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"FlashLedger/internal/event"
	"FlashLedger/internal/observability"
	"FlashLedger/internal/state"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// PrincipalHeader is the HTTP form of PrincipalMetadataKey.
const PrincipalHeader = "X-Flash-Principal"

const maxCommandBody = 1 << 20

var jsonMarshaler = &runtime.JSONBuiltin{}

// errorBody is the JSON shape of every gateway error.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewGatewayMux exposes svc over HTTP/JSON. Handlers call the service in
// process and share its error mapping with the gRPC surface.
func NewGatewayMux(svc *LedgerService) (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux()
	g := &gateway{svc: svc}

	routes := []struct {
		method, pattern string
		h               runtime.HandlerFunc
	}{
		{http.MethodPost, "/v1/commands/{operation}", g.command},
		{http.MethodGet, "/v1/ledger", g.globalLedger},
		{http.MethodGet, "/v1/traders/{owner}", g.traderAccount},
		{http.MethodGet, "/v1/liquidations", g.liquidations},
		{http.MethodGet, "/v1/funding", g.funding},
		{http.MethodGet, "/v1/hedges", g.hedges},
		{http.MethodGet, "/v1/admin/event-log", g.eventLogInfo},
		{http.MethodPost, "/v1/admin/verify-chain", g.verifyChain},
		{http.MethodPost, "/v1/admin/rebuild-projections", g.rebuildProjections},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, g.withPrincipal(rt.h)); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}
	return mux, nil
}

type gateway struct {
	svc *LedgerService
}

func (g *gateway) withPrincipal(next runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		if raw := r.Header.Get(PrincipalHeader); raw != "" {
			p, err := state.ParsePrincipal(raw)
			if err != nil {
				writeError(w, status.Errorf(codes.Unauthenticated, "invalid principal: %v", err))
				return
			}
			r = r.WithContext(WithPrincipal(r.Context(), p))
		}
		next(w, r, params)
	}
}

func (g *gateway) command(w http.ResponseWriter, r *http.Request, params map[string]string) {
	et := event.ParseEventType(params["operation"])
	cmd, err := event.New(et)
	if err != nil {
		writeError(w, status.Errorf(codes.NotFound, "unknown operation %q", params["operation"]))
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody))
	if err != nil {
		writeError(w, status.Errorf(codes.InvalidArgument, "read body: %v", err))
		return
	}
	if len(body) > 0 {
		if err := jsonMarshaler.Unmarshal(body, cmd); err != nil {
			writeError(w, status.Errorf(codes.InvalidArgument, "decode %s: %v", et, err))
			return
		}
	}
	receipt, err := g.svc.ExecuteCommand(r.Context(), cmd)
	writeResult(w, receipt, err)
}

func (g *gateway) globalLedger(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := g.svc.GetGlobalLedger(r.Context(), &Empty{})
	writeResult(w, resp, err)
}

func (g *gateway) traderAccount(w http.ResponseWriter, r *http.Request, params map[string]string) {
	owner, err := state.ParsePrincipal(params["owner"])
	if err != nil {
		writeError(w, status.Errorf(codes.InvalidArgument, "owner: %v", err))
		return
	}
	resp, err := g.svc.GetTraderAccount(r.Context(), &GetTraderAccountRequest{Owner: owner})
	writeResult(w, resp, err)
}

func (g *gateway) liquidations(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	req, err := historyRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	resp, err := g.svc.ListLiquidations(r.Context(), req)
	writeResult(w, resp, err)
}

func (g *gateway) funding(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	req, err := historyRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	resp, err := g.svc.ListFunding(r.Context(), req)
	writeResult(w, resp, err)
}

func (g *gateway) hedges(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	req, err := historyRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	resp, err := g.svc.ListHedges(r.Context(), req)
	writeResult(w, resp, err)
}

func (g *gateway) eventLogInfo(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := g.svc.GetEventLogInfo(r.Context(), &Empty{})
	writeResult(w, resp, err)
}

func (g *gateway) verifyChain(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := g.svc.VerifyChain(r.Context(), &Empty{})
	writeResult(w, resp, err)
}

func (g *gateway) rebuildProjections(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := g.svc.RebuildProjections(r.Context(), &Empty{})
	writeResult(w, resp, err)
}

// historyRequest reads ?trader=&limit=&before= from r.
func historyRequest(r *http.Request) (*ListHistoryRequest, error) {
	q := r.URL.Query()
	req := &ListHistoryRequest{}
	if raw := q.Get("trader"); raw != "" {
		p, err := state.ParsePrincipal(raw)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "trader: %v", err)
		}
		req.Trader = &p
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "limit: %v", err)
		}
		req.Limit = n
	}
	if raw := q.Get("before"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "before: %v", err)
		}
		req.Before = n
	}
	return req, nil
}

func writeResult(w http.ResponseWriter, resp any, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeError(w http.ResponseWriter, err error) {
	s := status.Convert(toStatus(err))
	writeJSON(w, runtime.HTTPStatusFromCode(s.Code()), errorBody{
		Code:    s.Code().String(),
		Message: s.Message(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := jsonMarshaler.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", jsonMarshaler.ContentType(v))
	w.WriteHeader(code)
	w.Write(data)
}

// HTTPGateway serves the JSON gateway alongside /healthz and /readyz.
type HTTPGateway struct {
	server *http.Server
	log    zerolog.Logger
}

// NewHTTPGateway mounts the gateway mux and health endpoints on addr.
func NewHTTPGateway(addr string, svc *LedgerService, health *observability.HealthChecker, log zerolog.Logger) (*HTTPGateway, error) {
	gw, err := NewGatewayMux(svc)
	if err != nil {
		return nil, err
	}

	httpMux := http.NewServeMux()
	if health != nil {
		httpMux.HandleFunc("/healthz", health.LivenessHandler)
		httpMux.HandleFunc("/readyz", health.ReadinessHandler)
	}
	httpMux.Handle("/", gw)

	return &HTTPGateway{
		server: &http.Server{
			Addr:              addr,
			Handler:           httpMux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}, nil
}

// Handler exposes the mounted routes, mainly for httptest.
func (h *HTTPGateway) Handler() http.Handler {
	return h.server.Handler
}

// Start serves until ctx is done. It returns only after in-flight requests
// have finished or the shutdown grace period expired.
func (h *HTTPGateway) Start(ctx context.Context) error {
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		h.log.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.server.Shutdown(shutdownCtx)
	}()

	h.log.Info().Str("addr", h.server.Addr).Msg("HTTP gateway listening")
	if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-drained
	return nil
}
