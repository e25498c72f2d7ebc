package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/chainsheet/chainsheet/internal/application/aggregator"
	"github.com/chainsheet/chainsheet/internal/domain/entities"
)

// BalancesHandler handles HTTP requests for balance snapshots
type BalancesHandler struct {
	aggregator *aggregator.Aggregator
	cache      ResponseCache
	logger     *zap.Logger
}

// NewBalancesHandler creates a new balances handler. The cache may be nil.
func NewBalancesHandler(agg *aggregator.Aggregator, responseCache ResponseCache, logger *zap.Logger) *BalancesHandler {
	return &BalancesHandler{
		aggregator: agg,
		cache:      responseCache,
		logger:     logger,
	}
}

// RegisterRoutes registers the balances routes
func (h *BalancesHandler) RegisterRoutes(r chi.Router) {
	r.Get("/balances", h.GetBalances)
}

// GetBalances handles GET /api/v1/balances?chain=&ignore_cache=
func (h *BalancesHandler) GetBalances(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ignoreCache := r.URL.Query().Get("ignore_cache") == "true"

	var chain *entities.Chain
	if v := r.URL.Query().Get("chain"); v != "" {
		c := entities.Chain(strings.ToUpper(v))
		if !c.IsValid() {
			h.respondError(w, http.StatusBadRequest, "Unknown chain "+v)
			return
		}
		chain = &c
	}

	cacheKey := balancesCacheKeyAll
	if chain != nil {
		cacheKey = balancesCacheKey(*chain)
	}
	if !ignoreCache && h.cache != nil {
		var cached json.RawMessage
		if err := h.cache.Get(ctx, cacheKey, &cached); err == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write(cached)
			return
		}
	}

	snapshot, err := h.aggregator.QueryBalances(ctx, chain, ignoreCache)
	if err != nil {
		h.respondQueryError(w, err)
		return
	}

	if h.cache != nil {
		if err := h.cache.Set(ctx, cacheKey, snapshot); err != nil {
			h.logger.Warn("Failed to cache balances response", zap.Error(err))
		}
	}
	h.respondJSON(w, http.StatusOK, snapshot)
}

// respondQueryError maps the error taxonomy of a balance query onto HTTP
// status codes.
func (h *BalancesHandler) respondQueryError(w http.ResponseWriter, err error) {
	var (
		inputErr    *entities.InputError
		inactiveErr *entities.ModuleInactiveError
		syncErr     *entities.EthSyncError
		remoteErr   *entities.RemoteError
	)
	switch {
	case errors.As(err, &inputErr):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &inactiveErr):
		h.respondError(w, http.StatusConflict, err.Error())
	case errors.As(err, &syncErr):
		h.respondError(w, http.StatusBadGateway, err.Error())
	case errors.As(err, &remoteErr):
		h.respondError(w, http.StatusBadGateway, err.Error())
	default:
		h.logger.Error("Failed to query balances", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "Failed to query balances")
	}
}

func (h *BalancesHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (h *BalancesHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
