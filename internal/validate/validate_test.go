package validate

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/opensource-finance/loandesk/internal/domain"
)

func TestForm(t *testing.T) {
	v, err := New()
	if err != nil {
		t.Fatalf("failed to compile schemas: %v", err)
	}

	tests := []struct {
		name    string
		raw     string
		draft   bool
		wantErr bool
	}{
		{"empty draft", `{}`, true, false},
		{"partial draft", `{"applicantName":"Ama","amount":500}`, true, false},
		{"draft with bad type", `{"amount":"lots"}`, true, true},
		{"draft negative amount", `{"amount":-1}`, true, true},
		{"incomplete submission", `{"applicantName":"Ama","amount":500}`, false, true},
		{"complete submission", `{"applicantName":"Ama","amount":500,"purpose":"stock","duration":12,"interestRate":3.5,
			"personalBudget":[{"type":"Income","amount":1000}]}`, false, false},
		{"zero amount submission", `{"applicantName":"Ama","amount":0,"purpose":"stock","duration":12,"interestRate":3.5}`, false, true},
		{"budget line without amount", `{"applicantName":"Ama","amount":5,"purpose":"p","duration":1,"interestRate":1,
			"personalBudget":[{"type":"Income"}]}`, false, true},
		{"not json", `{`, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Form([]byte(tt.raw), tt.draft)
			if tt.wantErr && !errors.Is(err, ErrInvalidForm) {
				t.Errorf("expected ErrInvalidForm, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestFormAcceptsMarshalledForm(t *testing.T) {
	v, err := New()
	if err != nil {
		t.Fatalf("failed to compile schemas: %v", err)
	}

	// nil slices marshal as null
	raw, err := json.Marshal(domain.ApplicationForm{
		ApplicantName: "Kofi",
		Amount:        5000,
		Purpose:       "working capital",
		Duration:      12,
		InterestRate:  24,
		PersonalBudget: []domain.BudgetItem{
			{Type: domain.BudgetIncome, Description: "salary", Amount: 1000},
		},
	})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	for _, draft := range []bool{true, false} {
		if err := v.Form(raw, draft); err != nil {
			t.Errorf("draft=%v: unexpected error: %v", draft, err)
		}
	}

	empty, _ := json.Marshal(domain.ApplicationForm{})
	if err := v.Form(empty, true); err != nil {
		t.Errorf("empty draft rejected: %v", err)
	}
}
