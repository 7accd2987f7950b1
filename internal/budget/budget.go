// Package budget derives the affordability figures shown on a loan
// application from its personal budget and bank statement turnover.
package budget

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/loandesk/internal/domain"
)

// NotApplicable is reported as the debt service ratio when repayments exist
// but there is no positive net income to service them.
const NotApplicable = "N/A"

// Summary holds the derived budget metrics.
type Summary struct {
	TotalIncome      float64 `json:"totalIncome"`
	TotalExpense     float64 `json:"totalExpense"`
	NetIncome        float64 `json:"netIncome"`
	TotalRepayments  float64 `json:"totalRepayments"`
	DebtServiceRatio string  `json:"debtServiceRatio"`
}

// ItemType classifies a budget line. Anything that is not income or a
// repayment counts as an expense.
func ItemType(t domain.BudgetType) domain.BudgetType {
	switch strings.ToLower(strings.TrimSpace(string(t))) {
	case "income":
		return domain.BudgetIncome
	case "repayment":
		return domain.BudgetRepayment
	default:
		return domain.BudgetExpense
	}
}

func totals(items []domain.BudgetItem) (income, expense, repayments float64) {
	for _, it := range items {
		switch ItemType(it.Type) {
		case domain.BudgetIncome:
			income += it.Amount
		case domain.BudgetRepayment:
			repayments += it.Amount
		default:
			expense += it.Amount
		}
	}
	return income, expense, repayments
}

// NetIncome returns total income minus total expenses.
func NetIncome(items []domain.BudgetItem) float64 {
	income, expense, _ := totals(items)
	return income - expense
}

// TotalRepayments returns the sum of repayment lines.
func TotalRepayments(items []domain.BudgetItem) float64 {
	_, _, repayments := totals(items)
	return repayments
}

// DebtServiceRatio formats repayments as a percentage of net income.
func DebtServiceRatio(netIncome, totalRepayments float64) string {
	switch {
	case netIncome > 0 && totalRepayments > 0:
		return fmt.Sprintf("%.2f%%", totalRepayments/netIncome*100)
	case totalRepayments > 0:
		return NotApplicable
	default:
		return "0.00%"
	}
}

// Summarize computes every budget metric in one pass.
func Summarize(items []domain.BudgetItem) Summary {
	income, expense, repayments := totals(items)
	net := income - expense
	return Summary{
		TotalIncome:      income,
		TotalExpense:     expense,
		NetIncome:        net,
		TotalRepayments:  repayments,
		DebtServiceRatio: DebtServiceRatio(net, repayments),
	}
}

// Apply recomputes the cached metrics on an application.
func Apply(app *domain.Application) Summary {
	s := Summarize(app.PersonalBudget)
	app.NetIncome = s.NetIncome
	app.TotalRepayments = s.TotalRepayments
	app.DebtServiceRatio = s.DebtServiceRatio
	return s
}
