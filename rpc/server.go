package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"commitvault/core/events"
	"commitvault/core/state"
	"commitvault/core/types"
	"commitvault/native/commitment"
	"commitvault/observability/logging"
	"commitvault/storage/audit"
)

const (
	jsonRPCVersion    = "2.0"
	maxRequestBytes   = 1 << 20 // 1 MiB
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second

	// maxForwardedForAddrs bounds the X-Forwarded-For chain accepted from a
	// trusted proxy.
	maxForwardedForAddrs = 16
)

// CommitmentService is the engine surface the server drives.
type CommitmentService interface {
	Create(owner types.Address, params commitment.CreateParams) (*commitment.Commitment, error)
	Get(id commitment.ID) (*commitment.Commitment, error)
	Apply(id commitment.ID, action commitment.Action, caller types.Address) (*commitment.Resolution, error)
	Now() int64
}

// LedgerReader exposes read-only ledger queries.
type LedgerReader interface {
	Balance(addr types.Address) (*uint256.Int, error)
	Commitments(filter state.CommitmentFilter, limit int) ([]*commitment.Commitment, error)
}

// Journal persists mutating requests and serves them back per commitment.
type Journal interface {
	Record(ctx context.Context, entry audit.Entry) (int64, error)
	ByCommitment(ctx context.Context, commitmentID string) ([]audit.Entry, error)
}

// ServerConfig carries the transport settings of the server.
type ServerConfig struct {
	Auth      AuthConfig
	RateLimit RateLimit
	// TrustedProxies lists peer IPs whose X-Real-IP and X-Forwarded-For
	// headers identify the client. Headers from other peers are ignored.
	TrustedProxies []string
	// ServiceName labels spans produced by the HTTP instrumentation.
	ServiceName string
}

// Server serves the commitment JSON-RPC API, the lifecycle event stream,
// health and metrics.
type Server struct {
	engine   CommitmentService
	ledger   LedgerReader
	journal  Journal
	events   *events.Broadcaster
	verifier *Verifier
	limiter  *RateLimiter
	proxies  map[string]struct{}
	logger   *slog.Logger
	cfg      ServerConfig
}

// NewServer wires the handlers. journal and broadcaster may be nil.
func NewServer(engine CommitmentService, ledger LedgerReader, journal Journal, broadcaster *events.Broadcaster, cfg ServerConfig, logger *slog.Logger) (*Server, error) {
	if engine == nil {
		return nil, errors.New("rpc: commitment service required")
	}
	if ledger == nil {
		return nil, errors.New("rpc: ledger reader required")
	}
	verifier, err := NewVerifier(cfg.Auth)
	if err != nil {
		return nil, err
	}
	proxies, err := parseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "commitd"
	}
	return &Server{
		engine:   engine,
		ledger:   ledger,
		journal:  journal,
		events:   broadcaster,
		verifier: verifier,
		limiter:  NewRateLimiter(cfg.RateLimit),
		proxies:  proxies,
		logger:   logger.With(slog.String("component", "rpc")),
		cfg:      cfg,
	}, nil
}

// Handler returns the routed, instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws/events", s.handleEventsWS)
	r.With(s.limiter.Middleware(s.clientID)).Post("/", s.handle)
	return otelhttp.NewHandler(r, s.cfg.ServiceName)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("json-rpc server listening", logging.MaskField("address", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown rpc server: %w", err)
		}
		return nil
	}
}

type methodHandler func(w http.ResponseWriter, r *http.Request, req *RPCRequest)

func (s *Server) methods() map[string]methodHandler {
	return map[string]methodHandler{
		methodCreate:           s.handleCommitmentCreate,
		methodGet:              s.handleCommitmentGet,
		methodList:             s.handleCommitmentList,
		methodConfirmCompleted: s.transition(commitment.ActionConfirmCompleted),
		methodConfirmFailed:    s.transition(commitment.ActionConfirmFailed),
		methodClaimExpired:     s.transition(commitment.ActionClaimExpired),
		methodBalance:          s.handleAccountBalance,
		methodHistory:          s.handleCommitmentHistory,
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")
	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	w = recorder
	// Requests rejected before dispatch are labelled so that arbitrary
	// method names never become metric labels.
	label := methodLabelInvalid
	defer func() {
		observeRequest(label, recorder.status, time.Since(start))
	}()

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	handler, ok := s.methods()[req.Method]
	if !ok {
		label = methodLabelUnknown
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}
	label = req.Method
	req.digest = audit.Digest(body)
	handler(w, r, req)
}

// requireCaller authenticates the bearer token and returns the caller
// identity. It writes the error response itself when authentication fails.
func (s *Server) requireCaller(w http.ResponseWriter, r *http.Request, req *RPCRequest) (types.Address, bool) {
	caller, err := s.verifier.Caller(r)
	if err != nil {
		s.logger.Warn("rejected bearer token",
			logging.MaskField("method", req.Method),
			logging.MaskField("remote", s.clientID(r)),
			logging.MaskField("reason", authFailureReason(err)))
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "unauthorized", err.Error())
		return types.Address{}, false
	}
	return caller, true
}

// record journals a mutating request. Journal failures are logged, never
// surfaced: the ledger write has already committed or been rejected. The
// write outlives a client that disconnects after the transition.
func (s *Server) record(r *http.Request, req *RPCRequest, caller types.Address, id string, err error) {
	if s.journal == nil {
		return
	}
	entry := audit.Entry{
		Method:       req.Method,
		Caller:       caller.Hex(),
		CommitmentID: id,
		Digest:       req.digest,
		Outcome:      "ok",
	}
	if err != nil {
		mapped := classify(err)
		entry.Code = mapped.code
		entry.Outcome = mapped.message
	}
	if _, jerr := s.journal.Record(context.WithoutCancel(r.Context()), entry); jerr != nil {
		s.logger.Error("audit journal write failed",
			logging.MaskField("method", req.Method),
			logging.MaskField("id", id),
			logging.MaskField("error", jerr.Error()))
	}
}

func parseTrustedProxies(entries []string) (map[string]struct{}, error) {
	proxies := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		ip := net.ParseIP(strings.TrimSpace(entry))
		if ip == nil {
			return nil, fmt.Errorf("rpc: invalid trusted proxy %q", entry)
		}
		proxies[ip.String()] = struct{}{}
	}
	return proxies, nil
}

// clientID identifies the peer for rate limiting and logs. Forwarding headers
// are honoured only when the direct peer is a trusted proxy.
func (s *Server) clientID(r *http.Request) string {
	host := remoteHost(r)
	if _, trusted := s.proxies[host]; !trusted {
		return host
	}
	if forwarded := forwardedClient(r.Header); forwarded != "" {
		return forwarded
	}
	return host
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return host
}

func forwardedClient(header http.Header) string {
	if ip := canonicalIP(header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	forwarded := header.Get("X-Forwarded-For")
	if forwarded == "" {
		return ""
	}
	parts := strings.Split(forwarded, ",")
	if len(parts) > maxForwardedForAddrs {
		return ""
	}
	return canonicalIP(parts[0])
}

func canonicalIP(value string) string {
	candidate := strings.TrimSpace(value)
	if candidate == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(candidate); err == nil {
		candidate = host
	}
	ip := net.ParseIP(candidate)
	if ip == nil {
		return ""
	}
	return ip.String()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
