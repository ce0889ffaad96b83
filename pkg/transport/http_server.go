package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/baxromumarov/ha-master/pkg/master"
	"github.com/baxromumarov/ha-master/pkg/protocol"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// TxService is the coordinator as seen by the HTTP layer
type TxService interface {
	InitializeTx(ctx context.Context, rc protocol.RequestContext) error
	FinishTx(ctx context.Context, rc protocol.RequestContext, success bool) error
	KeepAlive(rc protocol.RequestContext) error
	Active() []protocol.ActiveTx
	TransactionID(key protocol.ContextKey) (string, bool)
}

// HTTPServer serves the transaction API and cluster endpoints of a node
type HTTPServer struct {
	addr   string
	mux    *http.ServeMux
	server *http.Server
	logger *zap.Logger

	tx             TxService
	role           func() protocol.NodeRole
	accessible     func() bool
	getClusterInfo func() *protocol.ClusterInfoResponse
	propagator     propagation.TextMapPropagator
}

// NewHTTPServer creates a server for the node listening on addr
func NewHTTPServer(addr string, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &HTTPServer{
		addr:       addr,
		mux:        http.NewServeMux(),
		logger:     logger.Named("http"),
		role:       func() protocol.NodeRole { return protocol.RoleSlave },
		accessible: func() bool { return false },
	}
	s.setupRoutes()
	return s
}

// SetTxService sets the coordinator handling /tx requests
func (s *HTTPServer) SetTxService(tx TxService) {
	s.tx = tx
}

// SetRoleFunc sets how the server learns this node's role
func (s *HTTPServer) SetRoleFunc(f func() protocol.NodeRole) {
	s.role = f
}

// SetAccessibleFunc sets the accessibility reported on /health
func (s *HTTPServer) SetAccessibleFunc(f func() bool) {
	s.accessible = f
}

// SetClusterInfoHandler sets the callback for getting cluster info
func (s *HTTPServer) SetClusterInfoHandler(handler func() *protocol.ClusterInfoResponse) {
	s.getClusterInfo = handler
}

// SetPropagator sets how trace context is read from request headers.
// Without one the otel global propagator is used.
func (s *HTTPServer) SetPropagator(p propagation.TextMapPropagator) {
	s.propagator = p
}

// Handler exposes the routes, mainly for httptest
func (s *HTTPServer) Handler() http.Handler {
	return s.mux
}

func (s *HTTPServer) setupRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /role", s.handleRole)
	s.mux.HandleFunc("GET /cluster/nodes", s.handleClusterNodes)
	s.mux.HandleFunc("POST /tx/initialize", s.handleInitialize)
	s.mux.HandleFunc("POST /tx/finish", s.handleFinish)
	s.mux.HandleFunc("POST /tx/keepalive", s.handleKeepAlive)
	s.mux.HandleFunc("GET /tx/active", s.handleActive)
}

// Start serves until Stop is called
func (s *HTTPServer) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("starting server", zap.String("addr", s.addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down
func (s *HTTPServer) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, protocol.HealthResponse{
		Status:     "OK",
		Address:    s.addr,
		Role:       string(s.role()),
		Accessible: s.accessible(),
	})
}

func (s *HTTPServer) handleRole(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, protocol.RoleResponse{
		Role:    string(s.role()),
		Address: s.addr,
	})
}

func (s *HTTPServer) handleClusterNodes(w http.ResponseWriter, r *http.Request) {
	if s.getClusterInfo == nil {
		http.Error(w, "Cluster info handler not configured", http.StatusInternalServerError)
		return
	}

	info := s.getClusterInfo()
	if info == nil {
		http.Error(w, "Cluster info unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *HTTPServer) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req protocol.InitializeTxRequest
	if !s.decodeContext(w, r, &req, &req.Context) {
		return
	}

	err := s.tx.InitializeTx(s.extractTrace(r), req.Context)
	s.writeTxResult(w, req.Context, err)
}

func (s *HTTPServer) writeTxResult(w http.ResponseWriter, rc protocol.RequestContext, err error) {
	code := master.CodeOf(err)
	resp := protocol.TxResponse{Code: code}
	if err != nil {
		resp.Error = err.Error()
		s.logger.Debug("transaction request failed",
			zap.Stringer("key", rc.Key()), zap.String("code", string(code)), zap.Error(err))
	} else if id, ok := s.tx.TransactionID(rc.Key()); ok {
		resp.TransactionID = id
	}
	writeJSON(w, statusFor(code), resp)
}

func (s *HTTPServer) handleFinish(w http.ResponseWriter, r *http.Request) {
	var req protocol.FinishTxRequest
	if !s.decodeContext(w, r, &req, &req.Context) {
		return
	}

	err := s.tx.FinishTx(s.extractTrace(r), req.Context, req.Success)
	s.writeTxResult(w, req.Context, err)
}

func (s *HTTPServer) handleKeepAlive(w http.ResponseWriter, r *http.Request) {
	var req protocol.InitializeTxRequest
	if !s.decodeContext(w, r, &req, &req.Context) {
		return
	}

	s.writeTxResult(w, req.Context, s.tx.KeepAlive(req.Context))
}

func (s *HTTPServer) handleActive(w http.ResponseWriter, r *http.Request) {
	if s.tx == nil {
		writeJSON(w, http.StatusOK, protocol.ActiveTxResponse{Transactions: []protocol.ActiveTx{}})
		return
	}
	active := s.tx.Active()
	writeJSON(w, http.StatusOK, protocol.ActiveTxResponse{Transactions: active, Total: len(active)})
}

// decodeContext decodes the body into req and validates rc, which must
// point into req. It writes the error response itself and returns false on
// failure.
func (s *HTTPServer) decodeContext(w http.ResponseWriter, r *http.Request, req any, rc *protocol.RequestContext) bool {
	if s.tx == nil {
		writeJSON(w, http.StatusInternalServerError, protocol.TxResponse{
			Code:  protocol.CodeBeginFailed,
			Error: "Transaction handler not configured",
		})
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.TxResponse{
			Code:  protocol.CodeBadRequest,
			Error: "Invalid request body",
		})
		return false
	}
	if err := rc.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.TxResponse{
			Code:  protocol.CodeBadRequest,
			Error: err.Error(),
		})
		return false
	}
	return true
}

func statusFor(code protocol.ErrorCode) int {
	switch code {
	case protocol.CodeOK:
		return http.StatusOK
	case protocol.CodeNotAccessible:
		return http.StatusServiceUnavailable
	case protocol.CodeUnknownTransaction:
		return http.StatusNotFound
	case protocol.CodeBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *HTTPServer) extractTrace(r *http.Request) context.Context {
	p := s.propagator
	if p == nil {
		p = otel.GetTextMapPropagator()
	}
	return p.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
