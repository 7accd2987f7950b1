package domain

import "time"

// CompletionStatus separates drafts from applications in the review pipeline.
type CompletionStatus string

const (
	CompletionDraft     CompletionStatus = "DRAFT"
	CompletionSubmitted CompletionStatus = "SUBMITTED"
)

// BudgetType tags a personal budget line.
type BudgetType string

const (
	BudgetIncome    BudgetType = "Income"
	BudgetExpense   BudgetType = "Expense"
	BudgetRepayment BudgetType = "Repayment"
)

// BudgetItem is one line of the applicant's personal budget.
type BudgetItem struct {
	Type        BudgetType `json:"type"`
	Description string     `json:"description"`
	Amount      float64    `json:"amount"`
}

// LoanRecord is a prior loan held by the applicant.
type LoanRecord struct {
	DisbursementDate string  `json:"disbursementDate"`
	Tenure           string  `json:"tenure"`
	Amount           float64 `json:"amount"`
	EndDate          string  `json:"endDate"`
	Comment          string  `json:"comment"`
}

// TurnoverMonth is one month of bank statement activity.
type TurnoverMonth struct {
	Month          string  `json:"month"`
	CreditTurnover float64 `json:"crTO"`
	DebitTurnover  float64 `json:"drTO"`
	MaxBalance     float64 `json:"maxBal"`
	MinBalance     float64 `json:"minBal"`
}

// ApplicationForm is the applicant data captured by the credit officer.
type ApplicationForm struct {
	ApplicantName    string          `json:"applicantName"`
	Amount           float64         `json:"amount"`
	Purpose          string          `json:"purpose"`
	Duration         int             `json:"duration"` // months
	InterestRate     float64         `json:"interestRate"`
	CharacterComment string          `json:"characterComment"`
	LoanHistory      []LoanRecord    `json:"loanHistory"`
	PersonalBudget   []BudgetItem    `json:"personalBudget"`
	MonthlyTurnover  []TurnoverMonth `json:"monthlyTurnover"`

	MarginComment         string `json:"marginComment"`
	RepaymentComment      string `json:"repaymentComment"`
	SecurityComment       string `json:"securityComment"`
	FinancialsComment     string `json:"financialsComment"`
	RisksComment          string `json:"risksComment"`
	RiskMitigationComment string `json:"riskMitigationComment"`
}

// ReviewComments holds one comment per review role.
type ReviewComments struct {
	CreditOfficerComment string `json:"creditOfficerComment"`
	AMLROComments        string `json:"amlroComments"`
	HeadOfCredit         string `json:"headOfCredit"`
	BranchManager        string `json:"branchManager"`
	Approver1Comments    string `json:"approver1Comments"`
}

// Set writes a comment by field name and reports whether the name is known.
func (c *ReviewComments) Set(field, value string) bool {
	switch field {
	case FieldCreditOfficerComment:
		c.CreditOfficerComment = value
	case FieldAMLROComments:
		c.AMLROComments = value
	case FieldHeadOfCredit:
		c.HeadOfCredit = value
	case FieldBranchManager:
		c.BranchManager = value
	case FieldApprover1Comments:
		c.Approver1Comments = value
	default:
		return false
	}
	return true
}

// Application is one loan application under review.
type Application struct {
	AppNumber        string           `json:"appNumber"`
	Status           Status           `json:"status"`
	Stage            string           `json:"stage"`
	CompletionStatus CompletionStatus `json:"completionStatus"`

	ApplicationForm
	ReviewComments

	// Derived from PersonalBudget; cached for display.
	NetIncome        float64 `json:"netIncome"`
	TotalRepayments  float64 `json:"totalRepayments"`
	DebtServiceRatio string  `json:"debtServiceRatio"`

	Signatures map[string]string `json:"signatures,omitempty"`
	Documents  map[string]string `json:"documents,omitempty"`

	CreatedBy string    `json:"createdBy"`
	UpdatedBy string    `json:"updatedBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ApplyFields writes transition fields onto the record. Comment fields land
// in ReviewComments; everything else is treated as a signature field.
func (a *Application) ApplyFields(fields map[string]string) {
	for k, v := range fields {
		if a.ReviewComments.Set(k, v) {
			continue
		}
		if a.Signatures == nil {
			a.Signatures = make(map[string]string)
		}
		a.Signatures[k] = v
	}
}

// Editable reports whether the form may still be changed outside the engine.
func (a *Application) Editable() bool {
	return a.Status == StatusNew || a.Status == StatusReverted
}

// Document type keys for the standard attachments.
const (
	DocBankStatement       = "bankStatement"
	DocPayslip             = "payslip"
	DocLetterOfUndertaking = "letterOfUndertaking"
	DocLoanStatement       = "loanStatement"
	DocOtherPrefix         = "other:"
)
