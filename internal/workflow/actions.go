package workflow

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/loandesk/internal/domain"
	"github.com/opensource-finance/loandesk/internal/review"
	"github.com/opensource-finance/loandesk/internal/telemetry"
)

// Act performs action on an application on behalf of userName and returns
// the stored record with the transition that was applied.
//
// The review engine decides whether the action is allowed. An APPROVE
// without a signature is signed with the user's name and today's date.
// A SUBMIT of an application still in DRAFT is rejected. Persistence only
// succeeds if nobody changed the application's status or stage in between.
func (s *Service) Act(ctx context.Context, appNumber, userName, action string, p domain.TransitionPayload) (*domain.Application, *domain.Transition, error) {
	ctx, span := tracer.Start(ctx, "workflow.Act",
		trace.WithAttributes(
			attribute.String("app.number", appNumber),
			attribute.String("review.action", action),
		),
	)
	defer span.End()

	app, tr, err := s.act(ctx, appNumber, userName, action, p)
	if err != nil {
		telemetry.TransitionsRejected.WithLabelValues(strings.ToUpper(action), rejectReason(err)).Inc()
		span.SetStatus(codes.Error, err.Error())
		slog.InfoContext(ctx, "action rejected",
			"app_number", appNumber,
			"user", userName,
			"action", action,
			"error", err,
		)
		return nil, nil, err
	}

	span.SetAttributes(
		attribute.String("review.new_status", string(tr.NewStatus)),
		attribute.String("review.new_stage", tr.NewStage),
	)
	telemetry.TransitionsApplied.WithLabelValues(string(tr.Action), string(tr.NewStatus)).Inc()
	return app, tr, nil
}

func (s *Service) act(ctx context.Context, appNumber, userName, action string, p domain.TransitionPayload) (*domain.Application, *domain.Transition, error) {
	u, err := s.user(ctx, userName)
	if err != nil {
		return nil, nil, err
	}
	current, err := s.repo.GetApplication(ctx, appNumber)
	if err != nil {
		return nil, nil, err
	}

	now := s.now()
	if act, _ := domain.ParseAction(action); act == domain.ActionApprove {
		if p.Signature == nil || strings.TrimSpace(p.Signature.Name) == "" {
			p.Signature = &domain.Signature{Name: u.Name}
		}
		if p.Signature.Date == "" {
			p.Signature.Date = now.Format("2006-01-02")
		}
	}

	tr, err := review.ComputeTransition(string(current.Status), current.Stage, u.Role, action, p)
	if err != nil {
		return nil, nil, err
	}
	if tr.Action == domain.ActionSubmit && current.CompletionStatus == domain.CompletionDraft {
		return nil, nil, review.InvalidRequest("the application form is still a draft")
	}

	rec := &domain.TransitionRecord{
		ID:         uuid.New().String(),
		AppNumber:  appNumber,
		Action:     tr.Action,
		Actor:      u.Name,
		Role:       u.Role,
		Editor:     tr.Editor,
		FromStatus: tr.FromStatus,
		FromStage:  tr.FromStage,
		ToStatus:   tr.NewStatus,
		ToStage:    tr.NewStage,
		Comment:    p.Comment,
		CreatedAt:  now,
	}

	// The engine works on the parsed status; the stored row keeps its own.
	tr.FromStatus = current.Status
	updated, err := s.repo.ApplyTransition(ctx, appNumber, tr, rec)
	if err != nil {
		return nil, nil, err
	}
	s.invalidate(ctx, appNumber)

	s.publish(ctx, domain.TopicApplicationTransitioned, domain.TransitionEvent{
		AppNumber:     appNumber,
		ApplicantName: updated.ApplicantName,
		Action:        tr.Action,
		Actor:         u.Name,
		FromStatus:    rec.FromStatus,
		FromStage:     rec.FromStage,
		ToStatus:      tr.NewStatus,
		ToStage:       tr.NewStage,
		OccurredAt:    now,
	})

	slog.InfoContext(ctx, "transition applied",
		"app_number", appNumber,
		"user", u.Name,
		"action", tr.Action,
		"editor", tr.Editor,
		"from", string(rec.FromStatus)+"/"+rec.FromStage,
		"to", string(tr.NewStatus)+"/"+tr.NewStage,
	)
	return updated, tr, nil
}
