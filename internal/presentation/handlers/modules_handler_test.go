package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/chainsheet/chainsheet/internal/application/modules"
)

func TestGetModules(t *testing.T) {
	env := newAPIEnv(t)
	if err := env.registry.Activate(modules.ModuleLiquity); err != nil {
		t.Fatalf("failed to activate module: %v", err)
	}

	rec := env.request(http.MethodGet, "/api/v1/modules", "")
	assertStatus(t, rec, http.StatusOK)

	var response struct {
		Active    []string `json:"active"`
		Available []string `json:"available"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(response.Active) != 1 || response.Active[0] != modules.ModuleLiquity {
		t.Errorf("unexpected active modules: %v", response.Active)
	}
	if len(response.Available) != 4 {
		t.Errorf("expected 4 available modules, got %v", response.Available)
	}
}

func TestSetModules(t *testing.T) {
	env := newAPIEnv(t)
	if err := env.registry.Activate(modules.ModuleLiquity); err != nil {
		t.Fatalf("failed to activate module: %v", err)
	}

	rec := env.request(http.MethodPut, "/api/v1/modules",
		`{"modules":["makerdao_vaults"]}`)
	assertStatus(t, rec, http.StatusOK)

	var response struct {
		Active []string `json:"active"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(response.Active) != 1 || response.Active[0] != modules.ModuleMakerdaoVaults {
		t.Errorf("unexpected active modules: %v", response.Active)
	}
}

func TestSetModulesUnknown(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.request(http.MethodPut, "/api/v1/modules",
		`{"modules":["frobnicator"]}`)
	assertStatus(t, rec, http.StatusBadRequest)
}

func TestSetModulesInvalidBody(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.request(http.MethodPut, "/api/v1/modules", `{"modules":`)
	assertStatus(t, rec, http.StatusBadRequest)
}

func TestGetMakerdaoVaultsInactiveModule(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.request(http.MethodGet, "/api/v1/modules/makerdao/vaults", "")
	assertStatus(t, rec, http.StatusConflict)
}

func TestGetMakerdaoVaults(t *testing.T) {
	env := newAPIEnv(t)
	if err := env.registry.Activate(modules.ModuleMakerdaoVaults); err != nil {
		t.Fatalf("failed to activate module: %v", err)
	}

	rec := env.request(http.MethodGet, "/api/v1/modules/makerdao/vaults", "")
	assertStatus(t, rec, http.StatusOK)

	var response struct {
		Vaults []json.RawMessage `json:"vaults"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(response.Vaults) != 0 {
		t.Errorf("expected no vaults without tracked accounts, got %v", response.Vaults)
	}
}

func TestGetMakerdaoVaultDetailsNeedsPremium(t *testing.T) {
	env := newAPIEnv(t)
	if err := env.registry.Activate(modules.ModuleMakerdaoVaults); err != nil {
		t.Fatalf("failed to activate module: %v", err)
	}

	rec := env.request(http.MethodGet, "/api/v1/modules/makerdao/vaultdetails", "")
	assertStatus(t, rec, http.StatusBadRequest)
}

func TestGetMakerdaoVaultDetails(t *testing.T) {
	env := newAPIEnv(t)
	if err := env.registry.Activate(modules.ModuleMakerdaoVaults); err != nil {
		t.Fatalf("failed to activate module: %v", err)
	}
	env.registry.SetPremium(true)

	rec := env.request(http.MethodGet, "/api/v1/modules/makerdao/vaultdetails", "")
	assertStatus(t, rec, http.StatusOK)

	var response struct {
		VaultDetails []json.RawMessage `json:"vault_details"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(response.VaultDetails) != 0 {
		t.Errorf("expected no vault details without tracked accounts, got %v",
			response.VaultDetails)
	}
}

func TestSetPremium(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.request(http.MethodPut, "/api/v1/premium", `{"active":true}`)
	assertStatus(t, rec, http.StatusOK)

	var response map[string]bool
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !response["premium"] {
		t.Error("expected premium to be enabled")
	}
}
