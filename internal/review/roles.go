package review

import (
	"strings"

	"github.com/opensource-finance/loandesk/internal/domain"
)

// roleAliases maps substrings of a normalized job title to role classes.
// Titles are matched by containment so variants such as
// "Senior Credit Sales Officer" resolve without a table entry of their own.
var roleAliases = []struct {
	contains string
	role     domain.Roles
}{
	{"credit officer", domain.RoleCreditOfficer},
	{"credit sales officer", domain.RoleCreditOfficer},
	{"credit analyst", domain.RoleCreditOfficer},
	{"amlro", domain.RoleAMLRO},
	{"head of credit", domain.RoleHeadOfCredit},
	{"branch manager", domain.RoleBranchManager},
	{"approver", domain.RoleApprover},
}

// adminTitles must match exactly; "admin" as a substring is too loose.
var adminTitles = map[string]bool{
	"admin":         true,
	"administrator": true,
}

// NormalizeRole maps a free-text job title to its role classes.
// A composite title like "Branch Manager/Approver" yields several classes.
// An unrecognized title yields the empty set.
func NormalizeRole(title string) domain.Roles {
	t := strings.Join(strings.Fields(strings.ToLower(title)), " ")
	if t == "" {
		return 0
	}
	if adminTitles[t] {
		return domain.RoleAdmin
	}
	var roles domain.Roles
	for _, a := range roleAliases {
		if strings.Contains(t, a.contains) {
			roles |= a.role
		}
	}
	return roles
}
