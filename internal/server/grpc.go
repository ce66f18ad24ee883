package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/firyx-protocol/lendcore/internal/ingestion"
	"github.com/firyx-protocol/lendcore/internal/observability"
	"github.com/firyx-protocol/lendcore/internal/persistence"
	"github.com/firyx-protocol/lendcore/internal/projection"
	"github.com/firyx-protocol/lendcore/internal/query"
)

// GRPCServer wraps the gRPC server and the HTTP/JSON gateway.
type GRPCServer struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	deps          *ServerDeps
	healthChecker *observability.HealthChecker
}

// ServerDeps holds all dependencies needed by the API surface.
type ServerDeps struct {
	DB            *sql.DB
	QueryService  *query.QueryService
	IngestService *ingestion.GRPCIngestService
	SnapshotMgr   *persistence.SnapshotManager
	History       *projection.History
	StartTime     time.Time
	HealthChecker *observability.HealthChecker
}

// NewGRPCServer creates the gRPC server with health and reflection
// registered. Domain queries are served over the JSON gateway; the
// gRPC side carries health checks and is the attachment point for
// generated service stubs.
func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps) *GRPCServer {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &GRPCServer{
		grpcServer:    grpcServer,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		deps:          deps,
		healthChecker: deps.HealthChecker,
	}
}

// StartGRPC starts the gRPC server (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		log.Println("INFO: gRPC server shutting down...")
		s.grpcServer.GracefulStop()
	}()

	log.Printf("INFO: gRPC server listening on %s", s.grpcAddr)
	return s.grpcServer.Serve(lis)
}

// StartHTTPGateway starts the HTTP/JSON API (blocking). HTTP/JSON is
// the surface for tooling, dashboards, and curl.
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	mux := runtime.NewServeMux()

	if err := s.registerRoutes(mux); err != nil {
		return fmt.Errorf("register routes: %w", err)
	}

	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, `{"status":"ok"}`)
		})
	}
	httpMux.Handle("/", mux)

	s.httpServer = &http.Server{
		Addr:    s.httpAddr,
		Handler: httpMux,
	}

	go func() {
		<-ctx.Done()
		log.Println("INFO: HTTP gateway shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("INFO: HTTP gateway listening on %s", s.httpAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *GRPCServer) registerRoutes(mux *runtime.ServeMux) error {
	routes := []struct {
		method  string
		pattern string
		handler runtime.HandlerFunc
	}{
		{"GET", "/v1/positions", s.handleListPositions},
		{"GET", "/v1/positions/{id}", s.handleGetPosition},
		{"GET", "/v1/positions/{id}/balances", s.handlePositionBalances},
		{"GET", "/v1/positions/{id}/accruals", s.handleAccrualHistory},
		{"GET", "/v1/owners/{owner}/deposit-slots", s.handleDepositSlots},
		{"GET", "/v1/owners/{owner}/loan-slots", s.handleLoanSlots},
		{"GET", "/v1/owners/{owner}/balance", s.handleWalletBalance},
		{"GET", "/v1/owners/{owner}/journal", s.handleJournalHistory},
		{"GET", "/v1/owners/{owner}/yield", s.handleYieldHistory},
		{"POST", "/v1/ops", s.handleSubmitOperation},
		{"POST", "/v1/admin/rebuild-projections", s.handleRebuildProjections},
		{"GET", "/v1/admin/integrity", s.handleVerifyIntegrity},
		{"GET", "/v1/admin/event-log", s.handleEventLogInfo},
	}

	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, r.handler); err != nil {
			return fmt.Errorf("route %s %s: %w", r.method, r.pattern, err)
		}
	}
	return nil
}

// --- Query handlers ---

func (s *GRPCServer) handleListPositions(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	limit := queryLimit(r, 100, 500)

	positions, err := s.deps.QueryService.ListPositions(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]interface{}{"positions": positions})
}

func (s *GRPCServer) handleGetPosition(w http.ResponseWriter, r *http.Request, params map[string]string) {
	positionID, err := uuid.Parse(params["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid position id: %w", err))
		return
	}

	position, err := s.deps.QueryService.GetPosition(r.Context(), positionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if position == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("position %s not found", positionID))
		return
	}
	writeJSON(w, position)
}

func (s *GRPCServer) handlePositionBalances(w http.ResponseWriter, r *http.Request, params map[string]string) {
	positionID, err := uuid.Parse(params["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid position id: %w", err))
		return
	}

	balances, err := s.deps.QueryService.GetPositionBalances(r.Context(), positionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]interface{}{"balances": balances})
}

func (s *GRPCServer) handleAccrualHistory(w http.ResponseWriter, r *http.Request, params map[string]string) {
	positionID, err := uuid.Parse(params["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid position id: %w", err))
		return
	}

	limit := queryLimit(r, 50, 100)
	history, err := s.deps.QueryService.GetAccrualHistory(r.Context(), positionID, limit, queryCursor(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	// The projection may lag behind the core; fill from the in-memory
	// recent view when the DB has nothing yet.
	if len(history) == 0 && s.deps.History != nil {
		for _, e := range s.deps.History.AccrualsByPosition(positionID, limit) {
			history = append(history, query.AccrualHistoryResponse{
				Sequence:        e.Sequence,
				PositionID:      e.Position,
				OldDebtIndex:    strconv.FormatInt(e.OldDebtIndex, 10),
				NewDebtIndex:    strconv.FormatInt(e.NewDebtIndex, 10),
				InterestAccrued: strconv.FormatInt(e.InterestAccrued, 10),
				AprBps:          e.AprBps,
				Timestamp:       e.Timestamp,
			})
		}
	}
	writeJSON(w, map[string]interface{}{"accruals": history})
}

func (s *GRPCServer) handleDepositSlots(w http.ResponseWriter, r *http.Request, params map[string]string) {
	owner, err := uuid.Parse(params["owner"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid owner: %w", err))
		return
	}

	slots, err := s.deps.QueryService.GetDepositSlots(r.Context(), owner)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]interface{}{"deposit_slots": slots})
}

func (s *GRPCServer) handleLoanSlots(w http.ResponseWriter, r *http.Request, params map[string]string) {
	owner, err := uuid.Parse(params["owner"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid owner: %w", err))
		return
	}

	slots, err := s.deps.QueryService.GetLoanSlots(r.Context(), owner)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]interface{}{"loan_slots": slots})
}

func (s *GRPCServer) handleWalletBalance(w http.ResponseWriter, r *http.Request, params map[string]string) {
	owner, err := uuid.Parse(params["owner"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid owner: %w", err))
		return
	}

	asset := r.URL.Query().Get("asset")
	if asset == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("asset query parameter is required"))
		return
	}

	balance, err := s.deps.QueryService.GetWalletBalance(r.Context(), owner, asset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, balance)
}

func (s *GRPCServer) handleJournalHistory(w http.ResponseWriter, r *http.Request, params map[string]string) {
	owner, err := uuid.Parse(params["owner"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid owner: %w", err))
		return
	}

	entries, err := s.deps.QueryService.GetJournalHistory(
		r.Context(), owner, queryLimit(r, 100, 500), queryCursor(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]interface{}{"journals": entries})
}

func (s *GRPCServer) handleYieldHistory(w http.ResponseWriter, r *http.Request, params map[string]string) {
	owner, err := uuid.Parse(params["owner"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid owner: %w", err))
		return
	}

	history, err := s.deps.QueryService.GetYieldHistory(
		r.Context(), owner, queryLimit(r, 50, 100), queryCursor(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]interface{}{"yields": history})
}

// --- Ingest handler ---

// handleSubmitOperation accepts an operation descriptor, parses it into
// a typed event, and enqueues it on the core's input channel. This is
// the HTTP alternative to the NATS ingestion path.
func (s *GRPCServer) handleSubmitOperation(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return
	}

	if err := s.deps.IngestService.SubmitDescriptor(r.Context(), body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintf(w, `{"accepted":true}`)
}

// --- Admin handlers ---

func (s *GRPCServer) handleRebuildProjections(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if err := projection.RebuildProjections(r.Context(), s.deps.DB); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("rebuild failed: %w", err))
		return
	}
	writeJSON(w, map[string]interface{}{"rebuilt": true})
}

func (s *GRPCServer) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	report, err := s.deps.QueryService.VerifyIntegrity(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, report)
}

func (s *GRPCServer) handleEventLogInfo(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	latestSeq, err := s.deps.SnapshotMgr.GetLatestSequence(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"last_sequence":  latestSeq,
		"uptime_seconds": int64(time.Since(s.deps.StartTime).Seconds()),
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("WARN: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func queryLimit(r *http.Request, def, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > max {
		return def
	}
	return limit
}

func queryCursor(r *http.Request) *int64 {
	raw := r.URL.Query().Get("after")
	if raw == "" {
		return nil
	}
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seq <= 0 {
		return nil
	}
	return &seq
}
