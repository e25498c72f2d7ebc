package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/chainsheet/chainsheet/internal/application/aggregator"
	"github.com/chainsheet/chainsheet/internal/application/modules"
	"github.com/chainsheet/chainsheet/internal/application/modules/makerdao"
	"github.com/chainsheet/chainsheet/internal/domain/entities"
)

// ModulesHandler handles HTTP requests for the protocol module registry
type ModulesHandler struct {
	registry   *aggregator.Registry
	aggregator *aggregator.Aggregator
	logger     *zap.Logger
}

// NewModulesHandler creates a new modules handler
func NewModulesHandler(registry *aggregator.Registry, agg *aggregator.Aggregator, logger *zap.Logger) *ModulesHandler {
	return &ModulesHandler{
		registry:   registry,
		aggregator: agg,
		logger:     logger,
	}
}

// RegisterRoutes registers the modules routes
func (h *ModulesHandler) RegisterRoutes(r chi.Router) {
	r.Get("/modules", h.GetModules)
	r.Put("/modules", h.SetModules)
	r.Put("/premium", h.SetPremium)
	r.Get("/modules/makerdao/vaults", h.GetMakerdaoVaults)
	r.Get("/modules/makerdao/vaultdetails", h.GetMakerdaoVaultDetails)
}

// GetModules handles GET /api/v1/modules
func (h *ModulesHandler) GetModules(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string][]string{
		"active":    h.registry.ActiveNames(),
		"available": h.registry.AvailableNames(),
	})
}

type modulesRequest struct {
	Modules []string `json:"modules"`
}

// SetModules handles PUT /api/v1/modules, replacing the active module set
func (h *ModulesHandler) SetModules(w http.ResponseWriter, r *http.Request) {
	var req modulesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.registry.ProcessNewModulesList(req.Modules); err != nil {
		var inputErr *entities.InputError
		if errors.As(err, &inputErr) {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("Failed to update module list", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "Failed to update module list")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string][]string{
		"active": h.registry.ActiveNames(),
	})
}

type premiumRequest struct {
	Active bool `json:"active"`
}

// SetPremium handles PUT /api/v1/premium
func (h *ModulesHandler) SetPremium(w http.ResponseWriter, r *http.Request) {
	var req premiumRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	h.registry.SetPremium(req.Active)
	h.respondJSON(w, http.StatusOK, map[string]bool{"premium": req.Active})
}

// GetMakerdaoVaults handles GET /api/v1/modules/makerdao/vaults
func (h *ModulesHandler) GetMakerdaoVaults(w http.ResponseWriter, r *http.Request) {
	vaults, ok := h.makerdaoVaults(w)
	if !ok {
		return
	}

	owned, err := vaults.Vaults(r.Context(), h.aggregator.Accounts(entities.ChainEthereum))
	if err != nil {
		h.respondReaderError(w, err)
		return
	}
	if owned == nil {
		owned = []*makerdao.Vault{}
	}
	h.respondJSON(w, http.StatusOK, map[string][]*makerdao.Vault{"vaults": owned})
}

// GetMakerdaoVaultDetails handles GET /api/v1/modules/makerdao/vaultdetails.
// Vault histories are a premium feature.
func (h *ModulesHandler) GetMakerdaoVaultDetails(w http.ResponseWriter, r *http.Request) {
	vaults, ok := h.makerdaoVaults(w)
	if !ok {
		return
	}

	details, err := vaults.VaultDetails(r.Context(), h.aggregator.Accounts(entities.ChainEthereum))
	if err != nil {
		h.respondReaderError(w, err)
		return
	}
	if details == nil {
		details = []makerdao.VaultDetails{}
	}
	h.respondJSON(w, http.StatusOK, map[string][]makerdao.VaultDetails{"vault_details": details})
}

func (h *ModulesHandler) makerdaoVaults(w http.ResponseWriter) (*makerdao.Vaults, bool) {
	reader, active := h.registry.Get(modules.ModuleMakerdaoVaults)
	if !active {
		h.respondError(w, http.StatusConflict, "makerdao_vaults module is not active")
		return nil, false
	}
	vaults, ok := reader.(*makerdao.Vaults)
	if !ok {
		h.logger.Error("Registry holds an unexpected makerdao_vaults implementation")
		h.respondError(w, http.StatusInternalServerError, "Failed to query makerdao vaults")
		return nil, false
	}
	return vaults, true
}

func (h *ModulesHandler) respondReaderError(w http.ResponseWriter, err error) {
	var (
		inputErr  *entities.InputError
		syncErr   *entities.EthSyncError
		remoteErr *entities.RemoteError
	)
	switch {
	case errors.As(err, &inputErr):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &syncErr):
		h.respondError(w, http.StatusBadGateway, err.Error())
	case errors.As(err, &remoteErr):
		h.respondError(w, http.StatusBadGateway, err.Error())
	default:
		h.logger.Error("Failed to query makerdao vaults", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "Failed to query makerdao vaults")
	}
}

func (h *ModulesHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (h *ModulesHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
