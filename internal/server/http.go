// Package server exposes the ledger over HTTP/JSON and serves the gRPC
// health service.
package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"DiceLedger/internal/ledger"
	"DiceLedger/internal/money"
	"DiceLedger/internal/observability"
	"DiceLedger/internal/query"
)

// API routes HTTP/JSON requests to the ledger and query service.
type API struct {
	led           *ledger.Ledger
	queries       *query.Service
	health        *observability.HealthChecker
	metrics       *observability.Metrics
	logger        zerolog.Logger
	treasuryToken string
}

func NewAPI(
	led *ledger.Ledger,
	queries *query.Service,
	health *observability.HealthChecker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
	treasuryToken string,
) *API {
	return &API{
		led:           led,
		queries:       queries,
		health:        health,
		metrics:       metrics,
		logger:        logger,
		treasuryToken: treasuryToken,
	}
}

// Handler builds the route table.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/bets", a.instrument("resolve_bet", a.handleResolveBet))
	mux.HandleFunc("GET /v1/games/{id}", a.instrument("get_game", a.handleGetGame))
	mux.HandleFunc("GET /v1/players/{player}/stats", a.instrument("player_stats", a.handlePlayerStats))
	mux.HandleFunc("GET /v1/stats", a.instrument("contract_stats", a.handleContractStats))
	mux.HandleFunc("GET /v1/integrity", a.instrument("integrity", a.handleIntegrity))

	mux.HandleFunc("POST /v1/treasury/deposit", a.instrument("treasury_deposit", a.handleDeposit))
	mux.HandleFunc("POST /v1/treasury/withdraw", a.instrument("treasury_withdraw", a.handleWithdraw))
	mux.HandleFunc("POST /v1/treasury/credit", a.instrument("treasury_credit", a.handleCredit))

	mux.HandleFunc("GET /healthz", a.health.LivenessHandler)
	mux.HandleFunc("GET /readyz", a.health.ReadinessHandler)

	return mux
}

// --- Bet resolution ---

type resolveBetRequest struct {
	BetID      string `json:"bet_id"`
	Player     string `json:"player"`
	Stake      int64  `json:"stake"`
	StakeUnits string `json:"stake_units,omitempty"`
	Prediction int    `json:"prediction"`
	ClientSeed string `json:"client_seed,omitempty"`
}

type resolveBetResponse struct {
	GameID      int64  `json:"game_id"`
	Outcome     int    `json:"outcome"`
	Won         bool   `json:"won"`
	Payout      int64  `json:"payout"`
	PayoutUnits string `json:"payout_units"`
}

func (a *API) handleResolveBet(w http.ResponseWriter, r *http.Request) {
	var req resolveBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	betID, err := uuid.Parse(req.BetID)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "bet_id must be a UUID")
		return
	}
	if req.Player == "" {
		a.writeError(w, http.StatusBadRequest, "player is required")
		return
	}

	stake := req.Stake
	if req.StakeUnits != "" {
		stake, err = money.ParseUnits(req.StakeUnits)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, "stake_units: "+err.Error())
			return
		}
	}

	receipt, err := a.led.ResolveBet(betID, req.Player, stake, req.Prediction, req.ClientSeed)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}

	a.logger.Info().
		Int64("game_id", receipt.GameID).
		Str("player", req.Player).
		Int64("stake", stake).
		Bool("won", receipt.Game.Won).
		Int("outcome", receipt.Game.Outcome).
		Msg("bet resolved")

	a.writeJSON(w, http.StatusOK, resolveBetResponse{
		GameID:      receipt.GameID,
		Outcome:     receipt.Game.Outcome,
		Won:         receipt.Game.Won,
		Payout:      receipt.Game.Payout,
		PayoutUnits: money.FormatUnits(receipt.Game.Payout),
	})
}

// --- Queries ---

func (a *API) handleGetGame(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "game id must be an integer")
		return
	}
	game, err := a.queries.GetGame(id)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, game)
}

func (a *API) handlePlayerStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.queries.GetPlayerStats(r.PathValue("player"))
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleContractStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.queries.GetContractStats()
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := a.queries.VerifyIntegrity(r.Context())
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	a.writeJSON(w, http.StatusOK, report)
}

// --- Treasury ---

type treasuryRequest struct {
	OpID        string `json:"op_id"`
	Actor       string `json:"actor,omitempty"`
	From        string `json:"from,omitempty"`
	Amount      int64  `json:"amount"`
	AmountUnits string `json:"amount_units,omitempty"`
}

func (a *API) parseTreasuryRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, *treasuryRequest, bool) {
	var req treasuryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, "malformed request body")
		return uuid.Nil, nil, false
	}
	opID, err := uuid.Parse(req.OpID)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "op_id must be a UUID")
		return uuid.Nil, nil, false
	}
	if req.AmountUnits != "" {
		amount, err := money.ParseUnits(req.AmountUnits)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, "amount_units: "+err.Error())
			return uuid.Nil, nil, false
		}
		req.Amount = amount
	}
	return opID, &req, true
}

// authorizeTreasury validates the bearer token and resolves the actor name.
func (a *API) authorizeTreasury(w http.ResponseWriter, r *http.Request, req *treasuryRequest) (string, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if a.treasuryToken == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(a.treasuryToken)) != 1 {
		a.writeError(w, http.StatusForbidden, "invalid treasury token")
		return "", false
	}
	actor := req.Actor
	if actor == "" {
		actor = "treasury"
	}
	return actor, true
}

func (a *API) handleDeposit(w http.ResponseWriter, r *http.Request) {
	opID, req, ok := a.parseTreasuryRequest(w, r)
	if !ok {
		return
	}
	actor, ok := a.authorizeTreasury(w, r, req)
	if !ok {
		return
	}
	if err := a.led.Deposit(opID, actor, req.Amount); err != nil {
		a.writeLedgerError(w, err)
		return
	}
	a.logger.Info().Str("actor", actor).Int64("amount", req.Amount).Msg("treasury deposit")
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	opID, req, ok := a.parseTreasuryRequest(w, r)
	if !ok {
		return
	}
	actor, ok := a.authorizeTreasury(w, r, req)
	if !ok {
		return
	}
	if err := a.led.Withdraw(opID, actor, req.Amount); err != nil {
		a.writeLedgerError(w, err)
		return
	}
	a.logger.Info().Str("actor", actor).Int64("amount", req.Amount).Msg("treasury withdrawal")
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleCredit(w http.ResponseWriter, r *http.Request) {
	opID, req, ok := a.parseTreasuryRequest(w, r)
	if !ok {
		return
	}
	from := req.From
	if from == "" {
		from = "anonymous"
	}
	if err := a.led.ReceiveUnsolicitedFunds(opID, from, req.Amount); err != nil {
		a.writeLedgerError(w, err)
		return
	}
	a.logger.Info().Str("from", from).Int64("amount", req.Amount).Msg("unsolicited credit")
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Error mapping ---

type errorResponse struct {
	Error string `json:"error"`
}

// writeLedgerError maps the ledger error taxonomy to HTTP status codes.
func (a *API) writeLedgerError(w http.ResponseWriter, err error) {
	var (
		validationErr *ledger.ValidationError
		solvencyErr   *ledger.SolvencyError
		transferErr   *ledger.TransferError
		authErr       *ledger.AuthorizationError
		notFoundErr   *ledger.NotFoundError
	)

	switch {
	case errors.Is(err, ledger.ErrDuplicateBet):
		a.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrReentrantCall):
		a.writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &validationErr):
		a.writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &solvencyErr):
		a.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &transferErr):
		a.writeError(w, http.StatusBadGateway, err.Error())
	case errors.As(err, &authErr):
		a.writeError(w, http.StatusForbidden, err.Error())
	case errors.As(err, &notFoundErr):
		a.writeError(w, http.StatusNotFound, err.Error())
	default:
		a.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, msg string) {
	a.writeJSON(w, status, errorResponse{Error: msg})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// instrument wraps a handler with request counting and latency metrics.
func (a *API) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		if a.metrics != nil {
			a.metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(rec.status)).Inc()
			a.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
