package budget

import "github.com/opensource-finance/loandesk/internal/domain"

// StatementMonths is the number of statement months turnover is averaged over.
const StatementMonths = 3

// TurnoverColumns holds one figure per statement column.
type TurnoverColumns struct {
	Credit     float64 `json:"crTO"`
	Debit      float64 `json:"drTO"`
	MaxBalance float64 `json:"maxBal"`
	MinBalance float64 `json:"minBal"`
}

func (c TurnoverColumns) div(n float64) TurnoverColumns {
	return TurnoverColumns{
		Credit:     c.Credit / n,
		Debit:      c.Debit / n,
		MaxBalance: c.MaxBalance / n,
		MinBalance: c.MinBalance / n,
	}
}

// Turnover summarizes bank statement activity.
type Turnover struct {
	Total            TurnoverColumns `json:"total"`
	Monthly          TurnoverColumns `json:"monthlyAverage"`
	Weekly           TurnoverColumns `json:"weeklyAverage"`
	Daily            TurnoverColumns `json:"dailyAverage"`
	MonthsConsidered int             `json:"monthsConsidered"`
}

// SummarizeTurnover sums every column over the first StatementMonths months
// and averages each total per month, week and day. Averages always divide by
// the full statement period so a missing month lowers them.
func SummarizeTurnover(months []domain.TurnoverMonth) Turnover {
	var t Turnover
	if len(months) > StatementMonths {
		months = months[:StatementMonths]
	}
	for _, m := range months {
		t.Total.Credit += m.CreditTurnover
		t.Total.Debit += m.DebitTurnover
		t.Total.MaxBalance += m.MaxBalance
		t.Total.MinBalance += m.MinBalance
	}
	t.MonthsConsidered = len(months)
	t.Monthly = t.Total.div(StatementMonths)
	t.Weekly = t.Total.div(StatementMonths * 4)
	t.Daily = t.Total.div(StatementMonths * 30)
	return t
}
