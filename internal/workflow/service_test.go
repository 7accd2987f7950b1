package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/loandesk/internal/bus"
	"github.com/opensource-finance/loandesk/internal/cache"
	"github.com/opensource-finance/loandesk/internal/checks"
	"github.com/opensource-finance/loandesk/internal/domain"
	"github.com/opensource-finance/loandesk/internal/repository"
	"github.com/opensource-finance/loandesk/internal/review"
	"github.com/opensource-finance/loandesk/internal/validate"
)

type testEnv struct {
	svc  *Service
	repo domain.Repository
	bus  *bus.ChannelBus
}

var directory = []*domain.User{
	{Name: "Admin", Role: "Administrator"},
	{Name: "Ama", Role: "Credit Officer", Email: "ama@example.com"},
	{Name: "Kwame", Role: "AMLRO"},
	{Name: "Efua", Role: "Head of Credit"},
	{Name: "Yaw", Role: "Branch Manager"},
	{Name: "Abena", Role: "Approver"},
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "workflow.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	engine, err := checks.NewEngine(2)
	if err != nil {
		t.Fatalf("failed to create checks engine: %v", err)
	}
	v, err := validate.New()
	if err != nil {
		t.Fatalf("failed to create validator: %v", err)
	}
	b := bus.NewChannelBus(100)
	t.Cleanup(func() { b.Close() })

	svc := New(Deps{
		Repo:           repo,
		Cache:          cache.NewLRUCache(100),
		Bus:            b,
		Checks:         engine,
		Validator:      v,
		ApplicationTTL: time.Minute,
	})

	ctx := context.Background()
	for _, u := range directory {
		cp := *u
		if err := repo.SaveUser(ctx, &cp); err != nil {
			t.Fatalf("failed to seed user %s: %v", u.Name, err)
		}
	}
	if err := svc.SeedChecks(ctx); err != nil {
		t.Fatalf("SeedChecks failed: %v", err)
	}
	return &testEnv{svc: svc, repo: repo, bus: b}
}

func completeForm(t *testing.T) []byte {
	t.Helper()
	form := domain.ApplicationForm{
		ApplicantName: "Kofi Mensah",
		Amount:        5000,
		Purpose:       "working capital",
		Duration:      12,
		InterestRate:  24,
		PersonalBudget: []domain.BudgetItem{
			{Type: domain.BudgetIncome, Description: "salary", Amount: 1000},
			{Type: domain.BudgetExpense, Description: "rent", Amount: 300},
			{Type: domain.BudgetRepayment, Description: "car loan", Amount: 200},
		},
	}
	raw, err := json.Marshal(form)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return raw
}

func submittedApplication(t *testing.T, env *testEnv) string {
	t.Helper()
	ctx := context.Background()
	app, err := env.svc.CreateApplication(ctx, "Ama")
	if err != nil {
		t.Fatalf("CreateApplication failed: %v", err)
	}
	if _, err := env.svc.SaveApplication(ctx, app.AppNumber, "Ama", completeForm(t), false); err != nil {
		t.Fatalf("SaveApplication failed: %v", err)
	}
	return app.AppNumber
}

func TestCreateApplication(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	app, err := env.svc.CreateApplication(ctx, "Ama")
	if err != nil {
		t.Fatalf("CreateApplication failed: %v", err)
	}
	if app.Status != domain.StatusNew || app.Stage != domain.StageNew || app.CompletionStatus != domain.CompletionDraft {
		t.Errorf("unexpected new application context: %s/%s/%s", app.Status, app.Stage, app.CompletionStatus)
	}
	if len(app.AppNumber) != len("LN-20060102-ABCDEF") || app.AppNumber[:3] != "LN-" {
		t.Errorf("unexpected app number %q", app.AppNumber)
	}

	if _, err := env.svc.CreateApplication(ctx, "Kwame"); !errors.Is(err, review.ErrNotAuthorized) {
		t.Errorf("expected AMLRO create to be NotAuthorized, got %v", err)
	}
	if _, err := env.svc.CreateApplication(ctx, "nobody"); !errors.Is(err, ErrUnknownUser) {
		t.Errorf("expected ErrUnknownUser, got %v", err)
	}
}

func TestSaveApplication(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	app, _ := env.svc.CreateApplication(ctx, "Ama")

	t.Run("draft accepts partial form", func(t *testing.T) {
		saved, err := env.svc.SaveApplication(ctx, app.AppNumber, "Ama", []byte(`{"applicantName":"Kofi"}`), true)
		if err != nil {
			t.Fatalf("draft save failed: %v", err)
		}
		if saved.CompletionStatus != domain.CompletionDraft {
			t.Errorf("expected DRAFT, got %s", saved.CompletionStatus)
		}
	})

	t.Run("submitted requires complete form", func(t *testing.T) {
		_, err := env.svc.SaveApplication(ctx, app.AppNumber, "Ama", []byte(`{"applicantName":"Kofi"}`), false)
		if !errors.Is(err, validate.ErrInvalidForm) {
			t.Errorf("expected ErrInvalidForm, got %v", err)
		}
	})

	t.Run("submitted computes metrics", func(t *testing.T) {
		saved, err := env.svc.SaveApplication(ctx, app.AppNumber, "Ama", completeForm(t), false)
		if err != nil {
			t.Fatalf("save failed: %v", err)
		}
		if saved.CompletionStatus != domain.CompletionSubmitted {
			t.Errorf("expected SUBMITTED, got %s", saved.CompletionStatus)
		}
		if saved.NetIncome != 700 || saved.TotalRepayments != 200 || saved.DebtServiceRatio != "28.57%" {
			t.Errorf("unexpected metrics: %v %v %s", saved.NetIncome, saved.TotalRepayments, saved.DebtServiceRatio)
		}

		got, err := env.svc.GetApplication(ctx, app.AppNumber)
		if err != nil {
			t.Fatalf("GetApplication failed: %v", err)
		}
		if got.ApplicantName != "Kofi Mensah" {
			t.Errorf("expected stored applicant, got %q", got.ApplicantName)
		}
	})

	t.Run("reviewers cannot edit the form", func(t *testing.T) {
		_, err := env.svc.SaveApplication(ctx, app.AppNumber, "Kwame", completeForm(t), false)
		if !errors.Is(err, review.ErrNotAuthorized) {
			t.Errorf("expected NotAuthorized, got %v", err)
		}
	})
}

func TestSubmitDraftRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	app, _ := env.svc.CreateApplication(ctx, "Ama")
	_, _, err := env.svc.Act(ctx, app.AppNumber, "Ama", "SUBMIT", domain.TransitionPayload{Comment: "go"})
	if !errors.Is(err, review.ErrInvalidRequest) {
		t.Errorf("expected InvalidRequest for a draft, got %v", err)
	}
}

func TestFullPipeline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	number := submittedApplication(t, env)

	var mu sync.Mutex
	var events []domain.TransitionEvent
	_, err := env.bus.Subscribe(ctx, domain.TopicApplicationTransitioned, func(_ context.Context, msg *domain.Message) error {
		var ev domain.TransitionEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return err
		}
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	steps := []struct {
		user, action string
		status       domain.Status
		stage        string
	}{
		{"Ama", "SUBMIT", domain.StatusPending, domain.StageAssessment},
		{"Kwame", "SUBMIT", domain.StatusPending, domain.StageCompliance},
		{"Efua", "SUBMIT", domain.StatusPending, domain.StageFirst},
		{"Yaw", "APPROVE", domain.StatusPendingApproval, domain.StageApproval},
		{"Abena", "APPROVE", domain.StatusApproved, domain.StageApproval},
	}
	for _, step := range steps {
		app, tr, err := env.svc.Act(ctx, number, step.user, step.action, domain.TransitionPayload{Comment: step.user + " ok"})
		if err != nil {
			t.Fatalf("%s %s failed: %v", step.user, step.action, err)
		}
		if app.Status != step.status || app.Stage != step.stage {
			t.Fatalf("%s %s: expected %s/%s, got %s/%s", step.user, step.action, step.status, step.stage, app.Status, app.Stage)
		}
		if tr.NewStatus != step.status {
			t.Errorf("transition reports %s, expected %s", tr.NewStatus, step.status)
		}
	}

	final, err := env.svc.GetApplication(ctx, number)
	if err != nil {
		t.Fatalf("GetApplication failed: %v", err)
	}
	if final.AMLROComments != "Kwame ok" || final.Approver1Comments != "Abena ok" {
		t.Errorf("comments not persisted: %+v", final.ReviewComments)
	}
	if final.Signatures[domain.FieldApprover1Name] != "Abena" {
		t.Errorf("expected approver signature, got %v", final.Signatures)
	}
	if final.Signatures[domain.FieldBranchManagerName] != "Yaw" {
		t.Errorf("expected branch manager signature, got %v", final.Signatures)
	}

	history, err := env.svc.History(ctx, number)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != len(steps) {
		t.Fatalf("expected %d history records, got %d", len(steps), len(history))
	}
	if history[0].Actor != "Ama" || history[len(history)-1].ToStatus != domain.StatusApproved {
		t.Errorf("unexpected history order: first=%s last=%s", history[0].Actor, history[len(history)-1].ToStatus)
	}

	_, _, err = env.svc.Act(ctx, number, "Abena", "REVERT", domain.TransitionPayload{TargetStage: domain.StageNew})
	if !errors.Is(err, review.ErrTerminalState) {
		t.Errorf("expected TerminalState after approval, got %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(events)
		mu.Unlock()
		if n == len(steps) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(events) != len(steps) {
		t.Errorf("expected %d transition events, got %d", len(steps), len(events))
	}
}

func TestRevertReturnsToOriginator(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	number := submittedApplication(t, env)

	for _, step := range []struct{ user, action string }{{"Ama", "SUBMIT"}, {"Kwame", "SUBMIT"}} {
		if _, _, err := env.svc.Act(ctx, number, step.user, step.action, domain.TransitionPayload{}); err != nil {
			t.Fatalf("%s failed: %v", step.user, err)
		}
	}

	if _, _, err := env.svc.Act(ctx, number, "Kwame", "REVERT", domain.TransitionPayload{TargetStage: domain.StageNew}); !errors.Is(err, review.ErrNotAuthorized) {
		t.Errorf("expected AMLRO revert to be NotAuthorized, got %v", err)
	}

	app, _, err := env.svc.Act(ctx, number, "Yaw", "REVERT", domain.TransitionPayload{Comment: "fix income", TargetStage: domain.StageNew})
	if err != nil {
		t.Fatalf("revert failed: %v", err)
	}
	if app.Status != domain.StatusReverted || app.BranchManager != "fix income" {
		t.Errorf("unexpected revert outcome: %s %q", app.Status, app.BranchManager)
	}

	list, err := env.svc.ListApplications(ctx, "NEW")
	if err != nil {
		t.Fatalf("ListApplications failed: %v", err)
	}
	if len(list) != 1 || list[0].AppNumber != number {
		t.Errorf("expected reverted application in NEW list, got %d", len(list))
	}

	pending, err := env.svc.PendingFor(ctx, "Ama")
	if err != nil {
		t.Fatalf("PendingFor failed: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("expected 1 pending for credit officer, got %d", len(pending))
	}

	if _, err := env.svc.SaveApplication(ctx, number, "Ama", completeForm(t), false); err != nil {
		t.Errorf("expected reverted application to be editable, got %v", err)
	}
}

func TestStaleTransitionConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	number := submittedApplication(t, env)

	stale, err := env.repo.GetApplication(ctx, number)
	if err != nil {
		t.Fatalf("GetApplication failed: %v", err)
	}
	if _, _, err := env.svc.Act(ctx, number, "Ama", "SUBMIT", domain.TransitionPayload{}); err != nil {
		t.Fatalf("SUBMIT failed: %v", err)
	}

	tr, err := review.ComputeTransition(string(stale.Status), stale.Stage, "Credit Officer", "SUBMIT", domain.TransitionPayload{})
	if err != nil {
		t.Fatalf("ComputeTransition failed: %v", err)
	}
	_, err = env.repo.ApplyTransition(ctx, number, tr, &domain.TransitionRecord{ID: "stale", CreatedAt: time.Now()})
	if !errors.Is(err, repository.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestNotEditableUnderReview(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	number := submittedApplication(t, env)
	env.svc.Act(ctx, number, "Ama", "SUBMIT", domain.TransitionPayload{})

	if _, err := env.svc.SaveApplication(ctx, number, "Ama", completeForm(t), false); !errors.Is(err, ErrNotEditable) {
		t.Errorf("expected ErrNotEditable, got %v", err)
	}
	if _, err := env.svc.AddDocument(ctx, number, "Ama", domain.DocPayslip, "s3://docs/p.pdf"); !errors.Is(err, ErrNotEditable) {
		t.Errorf("expected ErrNotEditable for documents, got %v", err)
	}
}

func TestCountsAndCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	number := submittedApplication(t, env)

	counts, err := env.svc.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}
	if counts[domain.StatusNew] != 1 || counts[domain.StatusPending] != 0 {
		t.Errorf("unexpected counts: %v", counts)
	}

	env.svc.Act(ctx, number, "Ama", "SUBMIT", domain.TransitionPayload{})

	counts, _ = env.svc.Counts(ctx)
	if counts[domain.StatusNew] != 0 || counts[domain.StatusPending] != 1 {
		t.Errorf("counts not refreshed after transition: %v", counts)
	}
	app, _ := env.svc.GetApplication(ctx, number)
	if app.Status != domain.StatusPending {
		t.Errorf("cached record not refreshed, got %s", app.Status)
	}
}

func TestViewAndDocuments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	number := submittedApplication(t, env)

	view, err := env.svc.View(ctx, number, "Ama")
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
	if !view.Permissions.Allows(domain.ActionSubmit) {
		t.Errorf("credit officer should be able to submit, got %v", view.Permissions.ButtonsEnabled)
	}
	if view.Budget.DebtServiceRatio != "28.57%" {
		t.Errorf("unexpected DSR %s", view.Budget.DebtServiceRatio)
	}
	if !triggered(view.Checks, "missing-bank-statement") {
		t.Errorf("expected missing bank statement finding, got %+v", view.Checks)
	}

	if _, err := env.svc.AddDocument(ctx, number, "Ama", "selfie", "x"); !errors.Is(err, review.ErrInvalidRequest) {
		t.Errorf("expected InvalidRequest for unknown type, got %v", err)
	}
	if _, err := env.svc.AddDocument(ctx, number, "Ama", domain.DocBankStatement, "s3://docs/bs.pdf"); err != nil {
		t.Fatalf("AddDocument failed: %v", err)
	}
	if _, err := env.svc.AddDocument(ctx, number, "Ama", "other:title deed", "s3://docs/td.pdf"); err != nil {
		t.Fatalf("AddDocument(other) failed: %v", err)
	}

	view, _ = env.svc.View(ctx, number, "Kwame")
	if triggered(view.Checks, "missing-bank-statement") {
		t.Error("bank statement finding should clear once attached")
	}
	if len(view.Permissions.ButtonsEnabled) != 0 {
		t.Errorf("AMLRO has no buttons on a NEW application, got %v", view.Permissions.ButtonsEnabled)
	}
	if len(view.Application.Documents) != 2 {
		t.Errorf("expected 2 documents, got %v", view.Application.Documents)
	}
}

func triggered(results []domain.CheckResult, id string) bool {
	for _, r := range results {
		if r.CheckID == id {
			return r.Triggered
		}
	}
	return false
}

func TestUserDirectory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.Login(ctx, "ama"); err != nil {
		t.Errorf("login should ignore case: %v", err)
	}
	if ok, _ := env.svc.VerifyUser(ctx, "ghost"); ok {
		t.Error("ghost should not verify")
	}

	err := env.svc.AddUser(ctx, "Ama", &domain.User{Name: "Kojo", Role: "AMLRO"})
	if !errors.Is(err, review.ErrNotAuthorized) {
		t.Errorf("expected non-admin add to be NotAuthorized, got %v", err)
	}
	err = env.svc.AddUser(ctx, "Admin", &domain.User{Name: "Kojo", Role: "Janitor"})
	if !errors.Is(err, review.ErrInvalidRequest) {
		t.Errorf("expected unrecognized role to be InvalidRequest, got %v", err)
	}
	if err := env.svc.AddUser(ctx, "Admin", &domain.User{Name: "Kojo", Role: "Senior Credit Analyst", Level: 2}); err != nil {
		t.Fatalf("AddUser failed: %v", err)
	}
	if err := env.svc.AddUser(ctx, "Admin", &domain.User{Name: "kojo", Role: "AMLRO"}); !errors.Is(err, repository.ErrConflict) {
		t.Errorf("expected duplicate name conflict, got %v", err)
	}

	if err := env.svc.DeleteUser(ctx, "Admin", "Admin"); !errors.Is(err, review.ErrInvalidRequest) {
		t.Errorf("expected self delete to be rejected, got %v", err)
	}
	if err := env.svc.DeleteUser(ctx, "Admin", "Kojo"); err != nil {
		t.Fatalf("DeleteUser failed: %v", err)
	}
	users, _ := env.svc.ListUsers(ctx)
	if len(users) != len(directory) {
		t.Errorf("expected %d users, got %d", len(directory), len(users))
	}
}

func TestSeedUsers(t *testing.T) {
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "seed.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()
	svc := New(Deps{Repo: repo})

	path := filepath.Join(t.TempDir(), "users.yaml")
	seed := `users:
  - name: Admin
    role: admin
  - name: Ama
    role: Credit Officer
    level: 1
    email: ama@example.com
  - name: Bogus
    role: Gardener
`
	if err := os.WriteFile(path, []byte(seed), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	n, err := svc.SeedUsers(context.Background(), path)
	if err != nil {
		t.Fatalf("SeedUsers failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 seeded users, got %d", n)
	}
	ama, err := svc.Login(context.Background(), "Ama")
	if err != nil || ama.Email != "ama@example.com" {
		t.Errorf("seeded user not stored correctly: %+v %v", ama, err)
	}

	n, _ = svc.SeedUsers(context.Background(), path)
	if n != 0 {
		t.Errorf("seeding a populated directory should be a no-op, got %d", n)
	}
}

func TestCheckAdministration(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	before := env.svc.checks.Count()

	bad := &domain.CheckConfig{ID: "bad", Name: "bad", Expression: "amount + 1", Enabled: true}
	if err := env.svc.SaveCheck(ctx, "Admin", bad); !errors.Is(err, review.ErrInvalidRequest) {
		t.Errorf("expected non-bool expression to be rejected, got %v", err)
	}

	big := &domain.CheckConfig{ID: "large-loan", Name: "Large loan", Expression: "amount > 1000.0", Enabled: true}
	if err := env.svc.SaveCheck(ctx, "Ama", big); !errors.Is(err, review.ErrNotAuthorized) {
		t.Errorf("expected non-admin to be NotAuthorized, got %v", err)
	}
	if err := env.svc.SaveCheck(ctx, "Admin", big); err != nil {
		t.Fatalf("SaveCheck failed: %v", err)
	}
	if env.svc.checks.Count() != before+1 {
		t.Errorf("expected %d checks loaded, got %d", before+1, env.svc.checks.Count())
	}

	if err := env.svc.DeleteCheck(ctx, "Admin", "large-loan"); err != nil {
		t.Fatalf("DeleteCheck failed: %v", err)
	}
	if env.svc.checks.Count() != before {
		t.Errorf("expected %d checks after delete, got %d", before, env.svc.checks.Count())
	}
}
