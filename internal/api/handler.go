package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/bankprofile"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/validator"
)

// summaryCacheTTL bounds how long a summary stays readable without
// hitting the database.
const summaryCacheTTL = time.Hour

// ReloadFunc reloads the active rule sets and returns the lint report.
type ReloadFunc func() (*rules.LintReport, error)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	engine    *rules.Engine
	validator *validator.Service
	banks     *bankprofile.Registry
	linter    *rules.Linter
	reload    ReloadFunc
	version   string
}

// NewHandler creates a new API handler. repo, cache, bus, banks and
// reload may be nil; the corresponding endpoints degrade gracefully.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *rules.Engine, svc *validator.Service, banks *bankprofile.Registry, linter *rules.Linter, reload ReloadFunc, version string) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		engine:    engine,
		validator: svc,
		banks:     banks,
		linter:    linter,
		reload:    reload,
		version:   version,
	}
}

// Validate handles POST /validate requests.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req domain.ValidationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Document == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "document is required",
		})
		return
	}
	if req.Tier != "" && !req.Tier.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "unknown tier: " + string(req.Tier),
		})
		return
	}
	if req.BankCode != "" && h.banks != nil && h.banks.Get(req.BankCode) == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "unknown bank code: " + req.BankCode,
		})
		return
	}

	summary, err := h.validator.ValidateRequest(ctx, tenantID, &req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if req.BankCode != "" && h.banks != nil {
		summary = h.banks.Apply(summary, req.BankCode)
	}

	if h.repo != nil {
		if err := h.repo.SaveValidation(ctx, tenantID, summary); err != nil {
			slog.Error("failed to save validation", "summary_id", summary.ID, "error", err)
		}
	}
	if h.cache != nil {
		if err := h.cache.SetSummary(ctx, tenantID, summary.ID, summary, summaryCacheTTL); err != nil {
			slog.Warn("failed to cache summary", "summary_id", summary.ID, "error", err)
		}
	}

	if h.bus != nil {
		payload, _ := json.Marshal(summary)
		if err := h.bus.Publish(ctx, tenantID, domain.TopicValidationCompleted, payload); err != nil {
			slog.Warn("failed to publish validation event", "summary_id", summary.ID, "error", err)
		}
		if summary.UpsellTriggered {
			if err := h.bus.Publish(ctx, tenantID, domain.TopicUpsellTriggered, payload); err != nil {
				slog.Warn("failed to publish upsell event", "summary_id", summary.ID, "error", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, summary)
}

// GetValidation retrieves a stored validation summary by ID.
func (h *Handler) GetValidation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	id := chi.URLParam(r, "id")

	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "validation id is required",
		})
		return
	}

	if h.cache != nil {
		if summary, err := h.cache.GetSummary(ctx, tenantID, id); err == nil && summary != nil {
			writeJSON(w, http.StatusOK, summary)
			return
		}
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	summary, err := h.repo.GetValidation(ctx, tenantID, id)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "validation not found",
		})
		return
	}
	if err != nil {
		slog.Error("failed to get validation", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load validation",
		})
		return
	}

	if h.cache != nil {
		_ = h.cache.SetSummary(ctx, tenantID, id, summary, summaryCacheTTL)
	}

	writeJSON(w, http.StatusOK, summary)
}

// ListRules returns all rules in the active engine snapshot.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.engine.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":    loaded,
		"count":    len(loaded),
		"versions": h.engine.RuleVersions(),
	})
}

// GetRule retrieves a rule by ID from the active snapshot.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	for _, rule := range h.engine.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// LintRules handles POST /rules/lint: statically checks a candidate rule
// set without activating it.
func (h *Handler) LintRules(w http.ResponseWriter, r *http.Request) {
	var set rules.RuleSet
	if err := json.NewDecoder(r.Body).Decode(&set); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if set.Name == "" || len(set.Rules) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name and rules are required",
		})
		return
	}

	for _, rule := range set.Rules {
		rule.RuleSet = set.Name
		if err := rule.ValidateStructure(); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
	}

	report := h.linter.Lint([]*rules.RuleSet{&set})
	writeJSON(w, http.StatusOK, report)
}

// ReloadRules reloads rule sets from disk into the engine.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if h.reload == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "reload not available",
		})
		return
	}

	report, err := h.reload()
	if err != nil {
		slog.Error("rule reload failed", "error", err)
		resp := map[string]interface{}{
			"error": "reload failed: " + err.Error(),
		}
		if report != nil {
			resp["report"] = report
		}
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	if h.bus != nil {
		payload, _ := json.Marshal(h.engine.RuleVersions())
		_ = h.bus.Publish(r.Context(), GetTenantID(r.Context()), domain.TopicRulesReloaded, payload)
	}

	slog.Info("rules reloaded", "count", h.engine.RulesCount())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":  "rules reloaded successfully",
		"count":    h.engine.RulesCount(),
		"versions": h.engine.RuleVersions(),
		"report":   report,
	})
}

// ListBanks returns the loaded issuing-bank profiles.
func (h *Handler) ListBanks(w http.ResponseWriter, r *http.Request) {
	if h.banks == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "bank profiles not available",
		})
		return
	}

	banks := h.banks.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"banks": banks,
		"count": len(banks),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
// The server is not ready until a rule snapshot is active.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.engine.RulesCount() == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
			"error": "no rules loaded",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
