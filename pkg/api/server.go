package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/exchange"
	"github.com/uhyunpark/hyperswap/pkg/order"
	"github.com/uhyunpark/hyperswap/pkg/util"
)

const (
	maxBodyBytes       = 1 << 20
	defaultSettlements = 20
	maxSettlements     = 200
)

var errBadRequest = errors.New("bad request")

type Config struct {
	Exchange       *exchange.Exchange
	Metrics        *exchange.Metrics // nil: no /metrics route
	Clock          util.Clock        // nil: wall clock
	Logger         *zap.SugaredLogger
	AllowedOrigins []string
	// CallLog receives one JSON line per accepted call. Optional.
	CallLog io.Writer
}

// Server handles REST API and WebSocket connections
type Server struct {
	x       *exchange.Exchange
	chainID *big.Int
	self    common.Address
	router  *mux.Router
	hub     *Hub
	clock   util.Clock
	log     *zap.SugaredLogger
	origins []string
	replay  *replayGuard

	callLogMu sync.Mutex
	callLog   io.Writer
}

// NewServer builds the router and subscribes the WebSocket hub to exchange
// events. The hub only delivers once Start (or Hub().Run) is running.
func NewServer(cfg Config) *Server {
	s := &Server{
		x:       cfg.Exchange,
		chainID: cfg.Exchange.Domain().ChainID,
		self:    cfg.Exchange.Address(),
		router:  mux.NewRouter(),
		clock:   cfg.Clock,
		log:     cfg.Logger,
		origins: cfg.AllowedOrigins,
		replay:  newReplayGuard(),
		callLog: cfg.CallLog,
	}
	if s.clock == nil {
		s.clock = util.RealClock{}
	}
	if s.log == nil {
		s.log = zap.NewNop().Sugar()
	}
	s.hub = NewHub(s.log)
	s.x.OnEvent(s.hub.Publish)

	s.setupRoutes(cfg.Metrics)
	return s
}

func (s *Server) setupRoutes(metrics *exchange.Metrics) {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/params", s.handleGetParams).Methods("GET")
	api.HandleFunc("/nonces/{maker}", s.handleGetNonce).Methods("GET")
	api.HandleFunc("/settlements", s.handleGetSettlements).Methods("GET")
	api.HandleFunc("/orders/{hash}/status", s.handleGetStatus).Methods("GET")

	// Read-only order tooling
	api.HandleFunc("/orders/hash", s.handleHashOrder).Methods("POST")
	api.HandleFunc("/orders/validate", s.handleValidateOrder).Methods("POST")
	api.HandleFunc("/orders/match", s.handleValidateMatch).Methods("POST")
	api.HandleFunc("/orders/price", s.handlePrice).Methods("POST")

	// Every state change is a signed call
	api.HandleFunc("/calls", s.handleCall).Methods("POST")

	if metrics != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	}
	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the router wrapped in the CORS policy.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warnw("api_shutdown_failed", "err", err)
		}
	}()

	s.log.Infow("api_server_starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]interface{}{"status": "ok", "wsClients": s.hub.Clients()})
}

func (s *Server) handleGetParams(w http.ResponseWriter, r *http.Request) {
	p, err := s.x.Params()
	if err != nil {
		respondErr(w, err)
		return
	}
	routes := make(map[string]common.Address, len(p.Intermediaries))
	for class, addr := range p.Intermediaries {
		routes[class.String()] = addr
	}
	respondJSON(w, ParamsResponse{
		Owner:          p.Owner,
		FeeSink:        p.FeeSink,
		FeeBps:         p.FeeBps,
		MaxFeeBps:      exchange.MaxFeeBps,
		Intermediaries: routes,
		Exchange:       s.self,
		ChainID:        s.chainID,
	})
}

func (s *Server) handleGetNonce(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["maker"]
	if !common.IsHexAddress(raw) {
		respondError(w, http.StatusBadRequest, "invalid address", raw)
		return
	}
	maker := common.HexToAddress(raw)
	n, err := s.x.NonceOf(maker)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, NonceResponse{Maker: maker, Nonce: n})
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["hash"]
	b, err := hexutil.Decode(raw)
	if err != nil || len(b) != common.HashLength {
		respondError(w, http.StatusBadRequest, "invalid order hash", raw)
		return
	}
	h := common.BytesToHash(b)
	st, err := s.x.StatusOf(h)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, StatusResponse{Hash: h, Status: st.String()})
}

func (s *Server) handleGetSettlements(w http.ResponseWriter, r *http.Request) {
	limit := defaultSettlements
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", raw)
			return
		}
		limit = min(n, maxSettlements)
	}
	recent, err := s.x.RecentSettlements(limit)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, recent)
}

func (s *Server) handleHashOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if !decodeBody(w, r, &req) || !requireOrder(w, req.Order) {
		return
	}
	h, err := s.x.HashOrder(req.Order)
	if err != nil {
		respondErr(w, fmt.Errorf("%w: %v", exchange.ErrInvalidOrder, err))
		return
	}
	typed, err := order.TypedDataJSON(s.x.Signer(), req.Order)
	if err != nil {
		respondErr(w, fmt.Errorf("%w: %v", exchange.ErrInvalidOrder, err))
		return
	}
	respondJSON(w, HashResponse{Hash: h, TypedData: typed})
}

func (s *Server) handleValidateOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if !decodeBody(w, r, &req) || !requireOrder(w, req.Order) {
		return
	}
	v := s.x.ValidateOrder(req.Order, req.Signature, s.now(req.Now))
	resp := ValidationResponse{
		Valid:    v.Valid,
		Hash:     v.Hash,
		Signer:   v.Signer,
		Approved: v.Approved,
		Reason:   exchange.Reason(v.Err),
	}
	if v.Err != nil {
		resp.Message = v.Err.Error()
	}
	respondJSON(w, resp)
}

func (s *Server) handleValidateMatch(w http.ResponseWriter, r *http.Request) {
	var req MatchRequest
	if !decodeBody(w, r, &req) || !requireOrder(w, req.Sell) || !requireOrder(w, req.Buy) {
		return
	}
	m, err := exchange.ValidateMatch(req.Sell, req.Buy, s.now(req.Now))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, m)
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if !decodeBody(w, r, &req) || !requireOrder(w, req.Order) {
		return
	}
	if err := req.Order.Validate(); err != nil {
		respondErr(w, fmt.Errorf("%w: %v", exchange.ErrInvalidOrder, err))
		return
	}
	now := s.now(req.Now)
	p, err := order.CurrentDecreasingPrice(req.Order, now)
	if err != nil {
		respondErr(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	respondJSON(w, PriceResponse{Price: p, Now: now})
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	var call SignedCall
	if !decodeBody(w, r, &call) {
		return
	}
	if err := call.Validate(); err != nil {
		respondErr(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	now := util.Unix(s.clock)
	if err := checkDeadline(call.Deadline, now); err != nil {
		respondErr(w, err)
		return
	}
	caller, err := call.Verify(s.chainID, s.self)
	if err != nil {
		s.log.Warnw("call_rejected", "type", call.Type, "caller", call.Caller, "err", err)
		respondErr(w, err)
		return
	}
	digest := CallDigest(s.chainID, s.self, &call)
	if err := s.replay.admit(digest, call.Deadline, now); err != nil {
		respondErr(w, err)
		return
	}

	resp, err := s.dispatch(r.Context(), caller, &call, now)
	if err != nil {
		// Failed calls leave no state behind and may be resubmitted.
		s.replay.forget(digest)
		respondErr(w, err)
		return
	}

	s.log.Infow("call_accepted", "type", call.Type, "caller", caller.Hex(), "call", digest.Hex())
	s.logCall(call.Type, caller, digest)
	respondJSON(w, resp)
}

func (s *Server) dispatch(ctx context.Context, caller common.Address, call *SignedCall, now uint64) (*CallResponse, error) {
	value, err := call.AttachedValue()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if value.Sign() > 0 && call.Type != CallBuy && call.Type != CallSwap {
		return nil, fmt.Errorf("%w: %s calls take no value", errBadRequest, call.Type)
	}
	resp := &CallResponse{Status: "ok", Type: call.Type, Caller: caller}
	xcall := exchange.Call{Caller: caller, Value: value, Now: now}

	switch call.Type {
	case CallBuy:
		var p BuyPayload
		if err := decodePayload(call, &p); err != nil {
			return nil, err
		}
		if p.Order == nil {
			return nil, fmt.Errorf("%w: missing order", errBadRequest)
		}
		resp.Receipt, err = s.x.BuyNow(ctx, xcall, p.Order, p.Signature)

	case CallSwap:
		var p SwapPayload
		if err := decodePayload(call, &p); err != nil {
			return nil, err
		}
		if p.Sell == nil || p.Buy == nil {
			return nil, fmt.Errorf("%w: swap needs both orders", errBadRequest)
		}
		resp.Receipt, err = s.x.ExecuteSwap(ctx, xcall, p.Sell, p.Buy, [2][]byte{p.SellSignature, p.BuySignature})

	case CallCancel, CallApprove:
		var p OrderPayload
		if err := decodePayload(call, &p); err != nil {
			return nil, err
		}
		if p.Order == nil {
			return nil, fmt.Errorf("%w: missing order", errBadRequest)
		}
		var h common.Hash
		if call.Type == CallCancel {
			h, err = s.x.Cancel(caller, p.Order)
		} else {
			h, err = s.x.Approve(caller, p.Order)
		}
		resp.Order = &h

	case CallAdvanceNonce:
		var n uint64
		n, err = s.x.AdvanceNonce(caller)
		resp.Nonce = &n

	case CallWhitelist:
		var p WhitelistPayload
		if err := decodePayload(call, &p); err != nil {
			return nil, err
		}
		err = s.x.SetWhitelisted(caller, p.Token, p.Whitelisted)

	case CallFeeRate:
		var p FeeRatePayload
		if err := decodePayload(call, &p); err != nil {
			return nil, err
		}
		err = s.x.SetFeeRate(caller, p.FeeBps)

	case CallIntermediary:
		var p IntermediaryPayload
		if err := decodePayload(call, &p); err != nil {
			return nil, err
		}
		err = s.x.SetIntermediary(caller, p.Class, p.Address)

	case CallFeeSink, CallOwnership:
		var p AddressPayload
		if err := decodePayload(call, &p); err != nil {
			return nil, err
		}
		if call.Type == CallFeeSink {
			err = s.x.SetFeeSink(caller, p.Address)
		} else {
			err = s.x.TransferOwnership(caller, p.Address)
		}

	default:
		return nil, fmt.Errorf("%w: unknown call type %s", errBadRequest, call.Type)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// now resolves a request's optional evaluation time.
func (s *Server) now(requested uint64) uint64 {
	if requested != 0 {
		return requested
	}
	return util.Unix(s.clock)
}

// ==============================
// Helper Functions
// ==============================

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	return true
}

func decodePayload(call *SignedCall, dst interface{}) error {
	if err := json.Unmarshal(call.Payload, dst); err != nil {
		return fmt.Errorf("%w: %s payload: %v", errBadRequest, call.Type, err)
	}
	return nil
}

func requireOrder(w http.ResponseWriter, o *order.Order) bool {
	if o == nil {
		respondError(w, http.StatusBadRequest, "missing order", "")
		return false
	}
	return true
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, exchange.ErrInvalidOrder):
		return http.StatusBadRequest
	case errors.Is(err, ErrCallSignature), errors.Is(err, exchange.ErrSignatureMismatch):
		return http.StatusUnauthorized
	case errors.Is(err, exchange.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrCallReplayed), errors.Is(err, exchange.ErrAlreadyConsumed),
		errors.Is(err, exchange.ErrStaleNonce), errors.Is(err, exchange.ErrAlreadyApproved):
		return http.StatusConflict
	case errors.Is(err, ErrCallExpired), errors.Is(err, exchange.ErrOutOfWindow),
		errors.Is(err, exchange.ErrUnwhitelistedAsset), errors.Is(err, exchange.ErrMatchMismatch),
		errors.Is(err, exchange.ErrFeeCapExceeded), errors.Is(err, exchange.ErrTransferFailed):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// errorName is the stable machine-readable label of err.
func errorName(err error) string {
	switch {
	case errors.Is(err, errBadRequest):
		return "bad_request"
	case errors.Is(err, ErrCallSignature):
		return "call_signature"
	case errors.Is(err, ErrCallExpired):
		return "call_expired"
	case errors.Is(err, ErrCallReplayed):
		return "call_replayed"
	default:
		return exchange.Reason(err)
	}
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}

func respondErr(w http.ResponseWriter, err error) {
	respondError(w, statusFor(err), errorName(err), err.Error())
}

// logCall appends an accepted call to the call log
func (s *Server) logCall(typ CallType, caller common.Address, digest common.Hash) {
	if s.callLog == nil {
		return
	}
	entry, err := json.Marshal(map[string]interface{}{
		"timestamp": s.clock.Now().UTC().Format(time.RFC3339),
		"type":      typ,
		"caller":    caller.Hex(),
		"call":      digest.Hex(),
	})
	if err != nil {
		s.log.Warnw("call_log_marshal_failed", "err", err)
		return
	}

	s.callLogMu.Lock()
	defer s.callLogMu.Unlock()
	if _, err := s.callLog.Write(append(entry, '\n')); err != nil {
		s.log.Warnw("call_log_write_failed", "err", err)
	}
}
