package checks

import "github.com/opensource-finance/loandesk/internal/domain"

// DefaultChecks returns the checks seeded into an empty repository.
func DefaultChecks() []*domain.CheckConfig {
	return []*domain.CheckConfig{
		{
			ID:         "dsr-above-50",
			Name:       "Debt service ratio above 50%",
			Expression: "dsr_available && dsr > 50.0",
			Severity:   domain.SeverityWarning,
			Message:    "repayments take more than half of net income",
			Enabled:    true,
		},
		{
			ID:         "dsr-not-applicable",
			Name:       "Repayments without net income",
			Expression: "!dsr_available",
			Severity:   domain.SeverityCritical,
			Message:    "applicant has repayments but no positive net income",
			Enabled:    true,
		},
		{
			ID:         "missing-bank-statement",
			Name:       "Bank statement missing",
			Expression: "!('bankStatement' in documents)",
			Severity:   domain.SeverityInfo,
			Message:    "no bank statement has been attached",
			Enabled:    true,
		},
		{
			ID:         "amount-exceeds-turnover",
			Name:       "Amount above six months of turnover",
			Expression: "monthly_turnover > 0.0 && amount > monthly_turnover * 6.0",
			Severity:   domain.SeverityWarning,
			Message:    "requested amount exceeds six months of average credit turnover",
			Enabled:    true,
		},
	}
}
