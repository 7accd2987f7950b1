package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/loandesk/internal/auth"
	"github.com/opensource-finance/loandesk/internal/budget"
	"github.com/opensource-finance/loandesk/internal/domain"
	"github.com/opensource-finance/loandesk/internal/repository"
	"github.com/opensource-finance/loandesk/internal/review"
	"github.com/opensource-finance/loandesk/internal/validate"
	"github.com/opensource-finance/loandesk/internal/workflow"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Handler holds dependencies for API handlers.
type Handler struct {
	svc     *workflow.Service
	issuer  *auth.Issuer
	profile domain.Profile
	version string
}

// NewHandler creates a new API handler.
func NewHandler(svc *workflow.Service, issuer *auth.Issuer, profile domain.Profile, version string) *Handler {
	return &Handler{
		svc:     svc,
		issuer:  issuer,
		profile: profile,
		version: version,
	}
}

// LoginRequest is the request body for POST /login.
type LoginRequest struct {
	Name string `json:"name"`
}

// LoginResponse is the response for POST /login.
type LoginResponse struct {
	User  *domain.User `json:"user"`
	Token string       `json:"token"`
}

// ActionRequest is the request body for POST /applications/{appNumber}/actions.
type ActionRequest struct {
	Action string `json:"action"`
	domain.TransitionPayload
}

// ActionResponse is the response for an applied action.
type ActionResponse struct {
	Application *domain.Application `json:"application"`
	Transition  *domain.Transition  `json:"transition"`
}

// DocumentRequest is the request body for POST /applications/{appNumber}/documents.
type DocumentRequest struct {
	Type      string `json:"type"`
	Reference string `json:"reference"`
}

// ViewRequest is the request body for POST /review/view.
type ViewRequest struct {
	Status string `json:"status"`
	Stage  string `json:"stage"`
	Role   string `json:"role"`
}

// TransitionRequest is the request body for POST /review/transition.
type TransitionRequest struct {
	Status  string                   `json:"status"`
	Stage   string                   `json:"stage"`
	Role    string                   `json:"role"`
	Action  string                   `json:"action"`
	Payload domain.TransitionPayload `json:"payload"`
}

// BudgetRequest is the request body for POST /budget/summary.
type BudgetRequest struct {
	Items    []domain.BudgetItem    `json:"items"`
	Turnover []domain.TurnoverMonth `json:"turnover"`
}

// BudgetResponse is the response for POST /budget/summary.
type BudgetResponse struct {
	Budget   budget.Summary  `json:"budget"`
	Turnover budget.Turnover `json:"turnover"`
}

// Health returns liveness and the active profile.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"profile": string(h.profile),
		"version": h.version,
	})
}

// Ready reports whether the repository, cache and bus are reachable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	components := map[string]string{}
	ready := true
	for name, err := range h.svc.Ping(r.Context()) {
		if err != nil {
			components[name] = err.Error()
			ready = false
			continue
		}
		components[name] = "ok"
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"ready":      ready,
		"components": components,
	})
}

// Login issues a session token for a directory user.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decode(w, r, &req) {
		return
	}

	user, err := h.svc.Login(r.Context(), req.Name)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	token, err := h.issuer.Issue(user)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{User: user, Token: token})
}

// Me returns the caller's directory entry.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.svc.Login(r.Context(), caller(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// ListUsers returns the directory. Admin only.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	if _, err := h.svc.RequireAdmin(r.Context(), caller(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	users, err := h.svc.ListUsers(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if users == nil {
		users = []*domain.User{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"users": users,
		"count": len(users),
	})
}

// AddUser adds a directory user. Admin only.
func (h *Handler) AddUser(w http.ResponseWriter, r *http.Request) {
	var user domain.User
	if !decode(w, r, &user) {
		return
	}
	if err := h.svc.AddUser(r.Context(), caller(r), &user); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// DeleteUser removes a directory user. Admin only.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.svc.DeleteUser(r.Context(), caller(r), name); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "user deleted",
		"name":    name,
	})
}

// CreateApplication opens a new draft application.
func (h *Handler) CreateApplication(w http.ResponseWriter, r *http.Request) {
	app, err := h.svc.CreateApplication(r.Context(), caller(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, app)
}

// ListApplications lists applications, optionally by ?status=.
func (h *Handler) ListApplications(w http.ResponseWriter, r *http.Request) {
	apps, err := h.svc.ListApplications(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if apps == nil {
		apps = []*domain.Application{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"applications": apps,
		"count":        len(apps),
	})
}

// Counts returns the number of applications per status.
func (h *Handler) Counts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.svc.Counts(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// Pending returns the applications awaiting the caller.
func (h *Handler) Pending(w http.ResponseWriter, r *http.Request) {
	apps, err := h.svc.PendingFor(r.Context(), caller(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"applications": apps,
		"count":        len(apps),
	})
}

// GetApplication returns the caller's view of an application.
func (h *Handler) GetApplication(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.View(r.Context(), chi.URLParam(r, "appNumber"), caller(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// SaveApplication stores the applicant form. ?draft=true keeps it a draft.
func (h *Handler) SaveApplication(w http.ResponseWriter, r *http.Request) {
	draft := false
	if v := r.URL.Query().Get("draft"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "draft must be a boolean")
			return
		}
		draft = b
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	app, err := h.svc.SaveApplication(r.Context(), chi.URLParam(r, "appNumber"), caller(r), raw, draft)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// Act performs a review action as the caller.
func (h *Handler) Act(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if !decode(w, r, &req) {
		return
	}

	app, tr, err := h.svc.Act(r.Context(), chi.URLParam(r, "appNumber"), caller(r), req.Action, req.TransitionPayload)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ActionResponse{Application: app, Transition: tr})
}

// History returns the audit trail of an application.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.History(r.Context(), chi.URLParam(r, "appNumber"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if records == nil {
		records = []*domain.TransitionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"history": records,
		"count":   len(records),
	})
}

// ApplicationChecks evaluates the advisory checks for an application.
func (h *Handler) ApplicationChecks(w http.ResponseWriter, r *http.Request) {
	app, err := h.svc.GetApplication(r.Context(), chi.URLParam(r, "appNumber"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"appNumber": app.AppNumber,
		"checks":    h.svc.EvaluateChecks(r.Context(), app),
	})
}

// AddDocument registers a document reference.
func (h *Handler) AddDocument(w http.ResponseWriter, r *http.Request) {
	var req DocumentRequest
	if !decode(w, r, &req) {
		return
	}
	app, err := h.svc.AddDocument(r.Context(), chi.URLParam(r, "appNumber"), caller(r), req.Type, req.Reference)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// ResolveView exposes the visibility resolver directly.
func (h *Handler) ResolveView(w http.ResponseWriter, r *http.Request) {
	var req ViewRequest
	if !decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, review.ResolveView(req.Status, req.Stage, req.Role))
}

// ComputeTransition exposes the transition validator directly. Nothing is
// persisted.
func (h *Handler) ComputeTransition(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if !decode(w, r, &req) {
		return
	}
	tr, err := review.ComputeTransition(req.Status, req.Stage, req.Role, req.Action, req.Payload)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

// BudgetSummary computes budget and turnover metrics.
func (h *Handler) BudgetSummary(w http.ResponseWriter, r *http.Request) {
	var req BudgetRequest
	if !decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, BudgetResponse{
		Budget:   budget.Summarize(req.Items),
		Turnover: budget.SummarizeTurnover(req.Turnover),
	})
}

// ListChecks returns every stored check. Admin only.
func (h *Handler) ListChecks(w http.ResponseWriter, r *http.Request) {
	if _, err := h.svc.RequireAdmin(r.Context(), caller(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	configs, err := h.svc.ListChecks(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if configs == nil {
		configs = []*domain.CheckConfig{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"checks": configs,
		"count":  len(configs),
	})
}

// SaveCheck creates or replaces a check. Admin only.
func (h *Handler) SaveCheck(w http.ResponseWriter, r *http.Request) {
	var cfg domain.CheckConfig
	if !decode(w, r, &cfg) {
		return
	}
	if err := h.svc.SaveCheck(r.Context(), caller(r), &cfg); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

// DeleteCheck disables a check. Admin only.
func (h *Handler) DeleteCheck(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.DeleteCheck(r.Context(), caller(r), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "check disabled",
		"id":      id,
	})
}

// ReloadChecks recompiles checks from the repository. Admin only.
func (h *Handler) ReloadChecks(w http.ResponseWriter, r *http.Request) {
	if _, err := h.svc.RequireAdmin(r.Context(), caller(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := h.svc.ReloadChecks(r.Context()); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "checks reloaded successfully",
	})
}

// caller returns the authenticated user's name.
func caller(r *http.Request) string {
	if c := GetUser(r.Context()); c != nil {
		return c.Name
	}
	return ""
}

// decode reads a JSON body into v, answering 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}
	return true
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, review.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, review.ErrInvalidRequest),
		errors.Is(err, validate.ErrInvalidForm),
		errors.Is(err, repository.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, review.ErrTerminalState),
		errors.Is(err, repository.ErrConflict),
		errors.Is(err, workflow.ErrNotEditable):
		return http.StatusConflict
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrUnknownUser):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed",
			"path", r.URL.Path,
			"trace_id", GetTraceID(r.Context()),
			"error", err,
		)
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
