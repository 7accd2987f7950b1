package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/loandesk/internal/budget"
	"github.com/opensource-finance/loandesk/internal/domain"
	"github.com/opensource-finance/loandesk/internal/review"
	"github.com/opensource-finance/loandesk/internal/telemetry"
)

// ApplicationView is everything a reviewer sees when opening an application.
type ApplicationView struct {
	Application *domain.Application    `json:"application"`
	Permissions domain.ViewPermissions `json:"permissions"`
	Budget      budget.Summary         `json:"budget"`
	Turnover    budget.Turnover        `json:"turnover"`
	Checks      []domain.CheckResult   `json:"checks"`
}

// newAppNumber returns an application number of the form LN-YYYYMMDD-XXXXXX.
func newAppNumber(t time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:6])
	return "LN-" + t.Format("20060102") + "-" + suffix
}

// canEditForm reports whether a user may change the applicant form in the
// given state: only those who could submit it.
func canEditForm(app *domain.Application, u *domain.User) bool {
	return review.ResolveView(string(app.Status), app.Stage, u.Role).Allows(domain.ActionSubmit)
}

// CreateApplication opens a new draft application for userName.
func (s *Service) CreateApplication(ctx context.Context, userName string) (*domain.Application, error) {
	u, err := s.user(ctx, userName)
	if err != nil {
		return nil, err
	}

	now := s.now()
	app := &domain.Application{
		AppNumber:        newAppNumber(now),
		Status:           domain.StatusNew,
		Stage:            domain.StageNew,
		CompletionStatus: domain.CompletionDraft,
		DebtServiceRatio: budget.DebtServiceRatio(0, 0),
		CreatedBy:        u.Name,
		UpdatedBy:        u.Name,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if !canEditForm(app, u) {
		return nil, &review.Error{Kind: review.ErrNotAuthorized, Message: fmt.Sprintf("role %q cannot create applications", u.Role)}
	}

	if err := s.repo.CreateApplication(ctx, app); err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}
	s.invalidate(ctx, app.AppNumber)

	slog.InfoContext(ctx, "application created", "app_number", app.AppNumber, "user", u.Name)
	return app, nil
}

// SaveApplication stores the applicant form. A draft keeps the DRAFT
// completion status and is only type checked; otherwise the form must be
// complete and the application becomes SUBMITTED. Budget metrics are
// recomputed on every save.
func (s *Service) SaveApplication(ctx context.Context, appNumber, userName string, raw []byte, draft bool) (*domain.Application, error) {
	ctx, span := tracer.Start(ctx, "workflow.SaveApplication",
		trace.WithAttributes(
			attribute.String("app.number", appNumber),
			attribute.Bool("app.draft", draft),
		),
	)
	defer span.End()

	if s.validator != nil {
		if err := s.validator.Form(raw, draft); err != nil {
			return nil, err
		}
	}
	var form domain.ApplicationForm
	if err := json.Unmarshal(raw, &form); err != nil {
		return nil, review.InvalidRequest(fmt.Sprintf("malformed form: %v", err))
	}

	u, err := s.user(ctx, userName)
	if err != nil {
		return nil, err
	}
	app, err := s.repo.GetApplication(ctx, appNumber)
	if err != nil {
		return nil, err
	}
	if !app.Editable() {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotEditable, appNumber, app.Status)
	}
	if !canEditForm(app, u) {
		return nil, &review.Error{Kind: review.ErrNotAuthorized, Message: fmt.Sprintf("role %q cannot edit the application form", u.Role)}
	}

	app.ApplicationForm = form
	budget.Apply(app)
	if draft {
		app.CompletionStatus = domain.CompletionDraft
	} else {
		app.CompletionStatus = domain.CompletionSubmitted
	}
	app.UpdatedBy = u.Name
	app.UpdatedAt = s.now()

	if err := s.repo.SaveApplication(ctx, app); err != nil {
		return nil, err
	}
	s.invalidate(ctx, appNumber)
	s.publish(ctx, domain.TopicApplicationSaved, domain.SavedEvent{
		AppNumber:        appNumber,
		CompletionStatus: app.CompletionStatus,
		Actor:            u.Name,
		OccurredAt:       app.UpdatedAt,
	})

	slog.InfoContext(ctx, "application saved",
		"app_number", appNumber,
		"completion", app.CompletionStatus,
		"dsr", app.DebtServiceRatio,
	)
	return app, nil
}

// GetApplication returns a record, serving it from cache when possible.
func (s *Service) GetApplication(ctx context.Context, appNumber string) (*domain.Application, error) {
	if s.cache != nil && s.ttl > 0 {
		if app, err := s.cache.GetApplication(ctx, appNumber); err == nil && app != nil {
			return app, nil
		}
	}

	app, err := s.repo.GetApplication(ctx, appNumber)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && s.ttl > 0 {
		if err := s.cache.SetApplication(ctx, app, s.ttl); err != nil {
			slog.DebugContext(ctx, "failed to cache application", "app_number", appNumber, "error", err)
		}
	}
	return app, nil
}

// ListApplications lists applications in a status. Asking for NEW also
// returns REVERTED applications, which are back with their originator.
// An empty status lists everything.
func (s *Service) ListApplications(ctx context.Context, status string) ([]*domain.Application, error) {
	if strings.TrimSpace(status) == "" {
		return s.repo.ListApplications(ctx)
	}
	st, ok := domain.ParseStatus(status)
	if !ok {
		return nil, review.InvalidRequest(fmt.Sprintf("unknown status %q", status))
	}
	if st == domain.StatusNew {
		return s.repo.ListApplications(ctx, domain.StatusNew, domain.StatusReverted)
	}
	return s.repo.ListApplications(ctx, st)
}

// Counts returns the number of applications per status.
func (s *Service) Counts(ctx context.Context) (map[domain.Status]int, error) {
	if s.cache != nil && s.ttl > 0 {
		if data, err := s.cache.Get(ctx, domain.CacheKeyStatusCounts); err == nil && data != nil {
			var counts map[domain.Status]int
			if json.Unmarshal(data, &counts) == nil {
				return counts, nil
			}
		}
	}

	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count applications: %w", err)
	}

	if s.cache != nil && s.ttl > 0 {
		if data, err := json.Marshal(counts); err == nil {
			_ = s.cache.Set(ctx, domain.CacheKeyStatusCounts, data, s.ttl)
		}
	}
	return counts, nil
}

// PendingFor returns the applications on which userName has at least one
// enabled action.
func (s *Service) PendingFor(ctx context.Context, userName string) ([]*domain.Application, error) {
	u, err := s.user(ctx, userName)
	if err != nil {
		return nil, err
	}

	apps, err := s.repo.ListApplications(ctx,
		domain.StatusNew, domain.StatusPending, domain.StatusPendingApproval, domain.StatusReverted)
	if err != nil {
		return nil, err
	}

	pending := make([]*domain.Application, 0)
	for _, app := range apps {
		view := review.ResolveView(string(app.Status), app.Stage, u.Role)
		if len(view.ButtonsEnabled) > 0 {
			pending = append(pending, app)
		}
	}
	return pending, nil
}

// View resolves what userName sees on an application, together with its
// derived metrics and advisory check findings.
func (s *Service) View(ctx context.Context, appNumber, userName string) (*ApplicationView, error) {
	ctx, span := tracer.Start(ctx, "workflow.View",
		trace.WithAttributes(attribute.String("app.number", appNumber)),
	)
	defer span.End()

	u, err := s.user(ctx, userName)
	if err != nil {
		return nil, err
	}
	app, err := s.GetApplication(ctx, appNumber)
	if err != nil {
		return nil, err
	}

	view := &ApplicationView{
		Application: app,
		Permissions: review.ResolveView(string(app.Status), app.Stage, u.Role),
		Budget:      budget.Summarize(app.PersonalBudget),
		Turnover:    budget.SummarizeTurnover(app.MonthlyTurnover),
	}
	view.Checks = s.EvaluateChecks(ctx, app)

	telemetry.ViewsResolved.WithLabelValues(string(app.Status)).Inc()
	span.SetAttributes(attribute.Int("view.buttons", len(view.Permissions.ButtonsEnabled)))
	return view, nil
}

// EvaluateChecks runs the advisory checks against app.
func (s *Service) EvaluateChecks(ctx context.Context, app *domain.Application) []domain.CheckResult {
	if s.checks == nil {
		return []domain.CheckResult{}
	}
	start := time.Now()
	results := s.checks.Evaluate(ctx, app)
	telemetry.CheckDuration.Observe(time.Since(start).Seconds())
	return results
}

// History returns the audit trail of an application.
func (s *Service) History(ctx context.Context, appNumber string) ([]*domain.TransitionRecord, error) {
	if _, err := s.repo.GetApplication(ctx, appNumber); err != nil {
		return nil, err
	}
	return s.repo.ListHistory(ctx, appNumber)
}

var standardDocuments = map[string]bool{
	domain.DocBankStatement:       true,
	domain.DocPayslip:             true,
	domain.DocLetterOfUndertaking: true,
	domain.DocLoanStatement:       true,
}

// AddDocument registers a document reference on an editable application.
// docType is a standard key or "other:<label>".
func (s *Service) AddDocument(ctx context.Context, appNumber, userName, docType, reference string) (*domain.Application, error) {
	docType = strings.TrimSpace(docType)
	if !standardDocuments[docType] {
		label := strings.TrimPrefix(docType, domain.DocOtherPrefix)
		if label == docType || strings.TrimSpace(label) == "" {
			return nil, review.InvalidRequest(fmt.Sprintf("unknown document type %q", docType))
		}
	}
	if strings.TrimSpace(reference) == "" {
		return nil, review.InvalidRequest("document reference is required")
	}

	u, err := s.user(ctx, userName)
	if err != nil {
		return nil, err
	}
	app, err := s.repo.GetApplication(ctx, appNumber)
	if err != nil {
		return nil, err
	}
	if !app.Editable() {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotEditable, appNumber, app.Status)
	}
	if !canEditForm(app, u) {
		return nil, &review.Error{Kind: review.ErrNotAuthorized, Message: fmt.Sprintf("role %q cannot attach documents", u.Role)}
	}

	if app.Documents == nil {
		app.Documents = make(map[string]string)
	}
	app.Documents[docType] = reference
	app.UpdatedBy = u.Name
	app.UpdatedAt = s.now()

	if err := s.repo.SaveApplication(ctx, app); err != nil {
		return nil, err
	}
	s.invalidate(ctx, appNumber)

	slog.InfoContext(ctx, "document attached", "app_number", appNumber, "type", docType)
	return app, nil
}
