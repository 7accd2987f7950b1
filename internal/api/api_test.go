package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/loandesk/internal/auth"
	"github.com/opensource-finance/loandesk/internal/bus"
	"github.com/opensource-finance/loandesk/internal/cache"
	"github.com/opensource-finance/loandesk/internal/checks"
	"github.com/opensource-finance/loandesk/internal/domain"
	"github.com/opensource-finance/loandesk/internal/repository"
	"github.com/opensource-finance/loandesk/internal/validate"
	"github.com/opensource-finance/loandesk/internal/workflow"
)

// createTestServer creates a server backed by a temporary SQLite database
// and a seeded user directory.
func createTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "api.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	engine, _ := checks.NewEngine(2)
	validator, _ := validate.New()
	svc := workflow.New(workflow.Deps{
		Repo:           repo,
		Cache:          cache.NewLRUCache(100),
		Bus:            eventBus,
		Checks:         engine,
		Validator:      validator,
		ApplicationTTL: time.Minute,
	})

	ctx := context.Background()
	for _, u := range []*domain.User{
		{Name: "Admin", Role: "Admin"},
		{Name: "Ama", Role: "Credit Officer"},
		{Name: "Kwame", Role: "AMLRO"},
		{Name: "Yaw", Role: "Branch Manager/Approver"},
	} {
		if err := repo.SaveUser(ctx, u); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}
	if err := svc.SeedChecks(ctx); err != nil {
		t.Fatalf("seed checks: %v", err)
	}

	issuer, err := auth.NewIssuer(domain.AuthConfig{Secret: "test-secret", Issuer: "loandesk", TokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	return NewServer(cfg, svc, issuer, domain.ProfileStandalone, "test-v1")
}

func do(t *testing.T, s *Server, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			json.NewEncoder(&buf).Encode(b)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func login(t *testing.T, s *Server, name string) string {
	t.Helper()
	rr := do(t, s, http.MethodPost, "/login", "", LoginRequest{Name: name})
	if rr.Code != http.StatusOK {
		t.Fatalf("login %s: expected 200, got %d: %s", name, rr.Code, rr.Body.String())
	}
	var resp LoginResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return resp.Token
}

func TestHealthAndReady(t *testing.T) {
	server := createTestServer(t)

	rr := do(t, server, http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var health map[string]string
	json.Unmarshal(rr.Body.Bytes(), &health)
	if health["status"] != "healthy" || health["profile"] != "standalone" {
		t.Errorf("unexpected health: %v", health)
	}

	rr = do(t, server, http.MethodGet, "/ready", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected ready, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = do(t, server, http.MethodGet, "/metrics", "", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "go_goroutines") {
		t.Errorf("expected prometheus metrics, got %d", rr.Code)
	}
}

func TestLogin(t *testing.T) {
	server := createTestServer(t)

	t.Run("KnownUser", func(t *testing.T) {
		token := login(t, server, "ama")
		rr := do(t, server, http.MethodGet, "/me", token, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		var u domain.User
		json.Unmarshal(rr.Body.Bytes(), &u)
		if u.Name != "Ama" || u.Role != "Credit Officer" {
			t.Errorf("unexpected user: %+v", u)
		}
	})

	t.Run("UnknownUser", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/login", "", LoginRequest{Name: "ghost"})
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rr.Code)
		}
	})

	t.Run("MissingToken", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/applications", "", nil)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rr.Code)
		}
	})

	t.Run("BadToken", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/applications", "not-a-jwt", nil)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/login", "", "{not json")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})
}

func TestApplicationLifecycle(t *testing.T) {
	server := createTestServer(t)
	ama := login(t, server, "Ama")
	kwame := login(t, server, "Kwame")

	rr := do(t, server, http.MethodPost, "/applications", ama, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var app domain.Application
	json.Unmarshal(rr.Body.Bytes(), &app)
	base := "/applications/" + app.AppNumber

	// Draft cannot be submitted.
	rr = do(t, server, http.MethodPost, base+"/actions", ama, ActionRequest{Action: "SUBMIT"})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("submit draft: expected 400, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = do(t, server, http.MethodPut, base+"?draft=false", ama, `{"applicantName":"Kofi"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("incomplete form: expected 400, got %d", rr.Code)
	}

	form := `{"applicantName":"Kofi Mensah","amount":5000,"purpose":"stock","duration":12,"interestRate":24,
		"personalBudget":[{"type":"Income","description":"salary","amount":1000},{"type":"Repayment","description":"loan","amount":250}]}`
	rr = do(t, server, http.MethodPut, base, ama, form)
	if rr.Code != http.StatusOK {
		t.Fatalf("save: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	json.Unmarshal(rr.Body.Bytes(), &app)
	if app.DebtServiceRatio != "25.00%" || app.CompletionStatus != domain.CompletionSubmitted {
		t.Errorf("unexpected saved application: dsr=%s completion=%s", app.DebtServiceRatio, app.CompletionStatus)
	}

	rr = do(t, server, http.MethodPost, base+"/documents", ama, DocumentRequest{Type: "bankStatement", Reference: "s3://bs.pdf"})
	if rr.Code != http.StatusOK {
		t.Errorf("document: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	// AMLRO cannot act on a NEW application.
	rr = do(t, server, http.MethodPost, base+"/actions", kwame, ActionRequest{Action: "SUBMIT"})
	if rr.Code != http.StatusForbidden {
		t.Errorf("AMLRO submit at NEW: expected 403, got %d", rr.Code)
	}

	rr = do(t, server, http.MethodPost, base+"/actions", ama, ActionRequest{
		Action:            "SUBMIT",
		TransitionPayload: domain.TransitionPayload{Comment: "ready for review"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("submit: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var act ActionResponse
	json.Unmarshal(rr.Body.Bytes(), &act)
	if act.Transition.NewStatus != domain.StatusPending || act.Application.CreditOfficerComment != "ready for review" {
		t.Errorf("unexpected action response: %+v", act.Transition)
	}

	// Form is locked once under review.
	rr = do(t, server, http.MethodPut, base, ama, form)
	if rr.Code != http.StatusConflict {
		t.Errorf("save under review: expected 409, got %d", rr.Code)
	}

	rr = do(t, server, http.MethodGet, base, kwame, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("view: expected 200, got %d", rr.Code)
	}
	var view workflow.ApplicationView
	json.Unmarshal(rr.Body.Bytes(), &view)
	if !view.Permissions.Allows(domain.ActionSubmit) || !view.Permissions.Shows(domain.EditorAMLRO) {
		t.Errorf("unexpected AMLRO view: %+v", view.Permissions)
	}
	if view.Budget.DebtServiceRatio != "25.00%" {
		t.Errorf("unexpected budget in view: %+v", view.Budget)
	}

	rr = do(t, server, http.MethodGet, "/applications/pending", kwame, nil)
	var pending struct{ Count int }
	json.Unmarshal(rr.Body.Bytes(), &pending)
	if pending.Count != 1 {
		t.Errorf("expected 1 pending for AMLRO, got %d", pending.Count)
	}

	rr = do(t, server, http.MethodGet, "/applications/counts", kwame, nil)
	var counts map[string]int
	json.Unmarshal(rr.Body.Bytes(), &counts)
	if counts["PENDING"] != 1 || counts["NEW"] != 0 {
		t.Errorf("unexpected counts: %v", counts)
	}

	rr = do(t, server, http.MethodGet, "/applications?status=pending", kwame, nil)
	var list struct{ Count int }
	json.Unmarshal(rr.Body.Bytes(), &list)
	if list.Count != 1 {
		t.Errorf("expected 1 pending application listed, got %d", list.Count)
	}

	rr = do(t, server, http.MethodGet, base+"/history", kwame, nil)
	var history struct{ Count int }
	json.Unmarshal(rr.Body.Bytes(), &history)
	if history.Count != 1 {
		t.Errorf("expected 1 history record, got %d", history.Count)
	}

	rr = do(t, server, http.MethodGet, base+"/checks", kwame, nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "dsr-above-50") {
		t.Errorf("checks: got %d %s", rr.Code, rr.Body.String())
	}

	rr = do(t, server, http.MethodGet, "/applications/LN-00000000-NOPE00", kwame, nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing application: expected 404, got %d", rr.Code)
	}
}

func TestApprovedIsTerminal(t *testing.T) {
	server := createTestServer(t)
	ama := login(t, server, "Ama")
	yaw := login(t, server, "Yaw")

	rr := do(t, server, http.MethodPost, "/applications", ama, nil)
	var app domain.Application
	json.Unmarshal(rr.Body.Bytes(), &app)
	base := "/applications/" + app.AppNumber

	do(t, server, http.MethodPut, base, ama, `{"applicantName":"Esi","amount":100,"purpose":"x","duration":1,"interestRate":1}`)
	do(t, server, http.MethodPost, base+"/actions", ama, ActionRequest{Action: "SUBMIT"})

	// Branch Manager/Approver holds both seats: approve twice to reach APPROVED.
	for i, want := range []domain.Status{domain.StatusPendingApproval, domain.StatusApproved} {
		rr = do(t, server, http.MethodPost, base+"/actions", yaw, ActionRequest{Action: "APPROVE"})
		if rr.Code != http.StatusOK {
			t.Fatalf("approve %d: expected 200, got %d: %s", i, rr.Code, rr.Body.String())
		}
		var act ActionResponse
		json.Unmarshal(rr.Body.Bytes(), &act)
		if act.Application.Status != want {
			t.Fatalf("approve %d: expected %s, got %s", i, want, act.Application.Status)
		}
	}

	rr = do(t, server, http.MethodPost, base+"/actions", yaw, ActionRequest{
		Action:            "REVERT",
		TransitionPayload: domain.TransitionPayload{TargetStage: "New"},
	})
	if rr.Code != http.StatusConflict {
		t.Errorf("revert approved: expected 409, got %d", rr.Code)
	}

	rr = do(t, server, http.MethodGet, base, yaw, nil)
	var view workflow.ApplicationView
	json.Unmarshal(rr.Body.Bytes(), &view)
	if !view.Permissions.PrintEnabled || !view.Permissions.SignatureVisible {
		t.Errorf("approved view should allow print and show signatures: %+v", view.Permissions)
	}
}

func TestPureEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("ResolveView", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/review/view", "", ViewRequest{Status: "Pending Approval", Stage: "Approval", Role: "Approver"})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		var v domain.ViewPermissions
		json.Unmarshal(rr.Body.Bytes(), &v)
		if !v.Allows(domain.ActionApprove) || !v.Allows(domain.ActionRevert) || !v.SignatureVisible {
			t.Errorf("unexpected view: %+v", v)
		}
	})

	t.Run("ComputeTransition", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/review/transition", "", TransitionRequest{
			Status: "PENDING", Stage: "Assessment", Role: "AMLRO", Action: "SUBMIT",
			Payload: domain.TransitionPayload{Comment: "clean"},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var tr domain.Transition
		json.Unmarshal(rr.Body.Bytes(), &tr)
		if tr.NewStage != domain.StageCompliance || tr.FieldsToPersist[domain.FieldAMLROComments] != "clean" {
			t.Errorf("unexpected transition: %+v", tr)
		}
	})

	t.Run("ComputeTransitionErrors", func(t *testing.T) {
		tests := []struct {
			req  TransitionRequest
			want int
		}{
			{TransitionRequest{Status: "NEW", Role: "AMLRO", Action: "SUBMIT"}, http.StatusForbidden},
			{TransitionRequest{Status: "NEW", Role: "Credit Officer", Action: "ESCALATE"}, http.StatusBadRequest},
			{TransitionRequest{Status: "APPROVED", Role: "Approver", Action: "REVERT"}, http.StatusConflict},
		}
		for _, tt := range tests {
			rr := do(t, server, http.MethodPost, "/review/transition", "", tt.req)
			if rr.Code != tt.want {
				t.Errorf("%s/%s/%s: expected %d, got %d", tt.req.Status, tt.req.Role, tt.req.Action, tt.want, rr.Code)
			}
		}
	})

	t.Run("BudgetSummary", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/budget/summary", "", BudgetRequest{
			Items: []domain.BudgetItem{
				{Type: "Income", Amount: 500},
				{Type: "Expense", Amount: 600},
				{Type: "Repayment", Amount: 100},
			},
		})
		var resp BudgetResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Budget.DebtServiceRatio != "N/A" || resp.Budget.NetIncome != -100 {
			t.Errorf("unexpected summary: %+v", resp.Budget)
		}
	})
}

func TestAdminEndpoints(t *testing.T) {
	server := createTestServer(t)
	admin := login(t, server, "Admin")
	ama := login(t, server, "Ama")

	rr := do(t, server, http.MethodGet, "/users", ama, nil)
	if rr.Code != http.StatusForbidden {
		t.Errorf("non-admin list users: expected 403, got %d", rr.Code)
	}

	rr = do(t, server, http.MethodPost, "/users", admin, domain.User{Name: "Efua", Role: "Head of Credit", Level: 3})
	if rr.Code != http.StatusCreated {
		t.Fatalf("add user: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = do(t, server, http.MethodPost, "/users", admin, domain.User{Name: "efua", Role: "AMLRO"})
	if rr.Code != http.StatusConflict {
		t.Errorf("duplicate user: expected 409, got %d", rr.Code)
	}

	rr = do(t, server, http.MethodGet, "/users", admin, nil)
	var users struct{ Count int }
	json.Unmarshal(rr.Body.Bytes(), &users)
	if users.Count != 5 {
		t.Errorf("expected 5 users, got %d", users.Count)
	}

	rr = do(t, server, http.MethodDelete, "/users/Efua", admin, nil)
	if rr.Code != http.StatusOK {
		t.Errorf("delete user: expected 200, got %d", rr.Code)
	}
	rr = do(t, server, http.MethodDelete, "/users/Efua", admin, nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("delete missing user: expected 404, got %d", rr.Code)
	}

	rr = do(t, server, http.MethodPost, "/checks", admin, domain.CheckConfig{
		ID: "long-tenure", Name: "Long tenure", Expression: "duration > 36", Severity: domain.SeverityWarning, Enabled: true,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("save check: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = do(t, server, http.MethodPost, "/checks", admin, domain.CheckConfig{ID: "broken", Expression: "duration +", Enabled: true})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("invalid check: expected 400, got %d", rr.Code)
	}

	rr = do(t, server, http.MethodGet, "/checks", admin, nil)
	var list struct{ Count int }
	json.Unmarshal(rr.Body.Bytes(), &list)
	if list.Count != len(checks.DefaultChecks())+1 {
		t.Errorf("expected %d checks, got %d", len(checks.DefaultChecks())+1, list.Count)
	}

	rr = do(t, server, http.MethodDelete, "/checks/long-tenure", admin, nil)
	if rr.Code != http.StatusOK {
		t.Errorf("delete check: expected 200, got %d", rr.Code)
	}
	rr = do(t, server, http.MethodPost, "/checks/reload", ama, nil)
	if rr.Code != http.StatusForbidden {
		t.Errorf("non-admin reload: expected 403, got %d", rr.Code)
	}
	rr = do(t, server, http.MethodPost, "/checks/reload", admin, nil)
	if rr.Code != http.StatusOK {
		t.Errorf("reload: expected 200, got %d", rr.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	server := createTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/applications", nil)
	req.Header.Set("Origin", "http://desk.local")
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "http://desk.local" {
		t.Errorf("unexpected allow origin %q", rr.Header().Get("Access-Control-Allow-Origin"))
	}
}
