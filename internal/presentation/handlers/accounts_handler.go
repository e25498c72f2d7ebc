package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/chainsheet/chainsheet/internal/application/aggregator"
	"github.com/chainsheet/chainsheet/internal/domain/entities"
)

// AccountsHandler handles HTTP requests for tracked accounts
type AccountsHandler struct {
	aggregator *aggregator.Aggregator
	cache      ResponseCache
	logger     *zap.Logger
}

// NewAccountsHandler creates a new accounts handler. The cache may be nil.
func NewAccountsHandler(agg *aggregator.Aggregator, responseCache ResponseCache, logger *zap.Logger) *AccountsHandler {
	return &AccountsHandler{
		aggregator: agg,
		cache:      responseCache,
		logger:     logger,
	}
}

// RegisterRoutes registers the accounts routes
func (h *AccountsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/accounts/{chain}", h.GetAccounts)
	r.Put("/accounts/evm/all", h.AddToAllEvm)
	r.Put("/accounts/{chain}", h.AddAccounts)
	r.Delete("/accounts/{chain}", h.RemoveAccounts)
}

type accountsRequest struct {
	Accounts []string `json:"accounts"`
}

// GetAccounts handles GET /api/v1/accounts/{chain}
func (h *AccountsHandler) GetAccounts(w http.ResponseWriter, r *http.Request) {
	chain, ok := h.parseChain(w, r)
	if !ok {
		return
	}
	h.respondJSON(w, http.StatusOK, map[string][]string{
		"accounts": h.aggregator.Accounts(chain),
	})
}

// AddAccounts handles PUT /api/v1/accounts/{chain}
func (h *AccountsHandler) AddAccounts(w http.ResponseWriter, r *http.Request) {
	chain, ok := h.parseChain(w, r)
	if !ok {
		return
	}

	var req accountsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.aggregator.AddAccounts(r.Context(), chain, req.Accounts); err != nil {
		h.respondModifyError(w, err)
		return
	}
	h.dropCachedBalances(r.Context(), chain)
	h.respondJSON(w, http.StatusOK, map[string][]string{
		"accounts": h.aggregator.Accounts(chain),
	})
}

// RemoveAccounts handles DELETE /api/v1/accounts/{chain}
func (h *AccountsHandler) RemoveAccounts(w http.ResponseWriter, r *http.Request) {
	chain, ok := h.parseChain(w, r)
	if !ok {
		return
	}

	var req accountsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.aggregator.RemoveAccounts(r.Context(), chain, req.Accounts); err != nil {
		h.respondModifyError(w, err)
		return
	}
	h.dropCachedBalances(r.Context(), chain)
	h.respondJSON(w, http.StatusOK, map[string][]string{
		"accounts": h.aggregator.Accounts(chain),
	})
}

type allEvmRequest struct {
	Address string `json:"address"`
}

// AddToAllEvm handles PUT /api/v1/accounts/evm/all
func (h *AccountsHandler) AddToAllEvm(w http.ResponseWriter, r *http.Request) {
	var req allEvmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	statuses, err := h.aggregator.AddAccountsToAllEvm(r.Context(), req.Address)
	if err != nil {
		h.respondModifyError(w, err)
		return
	}
	h.dropCachedBalances(r.Context(), entities.EvmChains...)
	h.respondJSON(w, http.StatusOK, statuses)
}

// dropCachedBalances invalidates the cached balance responses that include
// the mutated chains; stale snapshots must not outlive an account change.
func (h *AccountsHandler) dropCachedBalances(ctx context.Context, chains ...entities.Chain) {
	if h.cache == nil {
		return
	}
	keys := []string{balancesCacheKeyAll}
	for _, chain := range chains {
		keys = append(keys, balancesCacheKey(chain))
	}
	for _, key := range keys {
		if err := h.cache.Delete(ctx, key); err != nil {
			h.logger.Warn("Failed to drop cached balances",
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}
}

func (h *AccountsHandler) parseChain(w http.ResponseWriter, r *http.Request) (entities.Chain, bool) {
	param := chi.URLParam(r, "chain")
	chain := entities.Chain(strings.ToUpper(param))
	if !chain.IsValid() {
		h.respondError(w, http.StatusBadRequest, "Unknown chain "+param)
		return "", false
	}
	return chain, true
}

func (h *AccountsHandler) respondModifyError(w http.ResponseWriter, err error) {
	var (
		inputErr  *entities.InputError
		remoteErr *entities.RemoteError
	)
	switch {
	case errors.As(err, &inputErr):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &remoteErr):
		h.respondError(w, http.StatusBadGateway, err.Error())
	default:
		h.logger.Error("Failed to modify accounts", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "Failed to modify accounts")
	}
}

func (h *AccountsHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (h *AccountsHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
