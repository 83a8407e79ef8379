package core

import "strings"

// OtherCategory is the fallback label for records that arrive without a category.
const OtherCategory = "Other"

// Recognized category lists offered by the entry form. The server does not
// validate against them.
var (
	ExpenseCategories = []string{"Food", "Transport", "Shopping", "Medical", "Culture", OtherCategory}
	IncomeCategories  = []string{"Salary", "Side job", "Allowance", OtherCategory}
)

// CategoriesFor returns the recognized categories for kind.
func CategoriesFor(kind Kind) []string {
	if kind == Income {
		return IncomeCategories
	}
	return ExpenseCategories
}

// IsRecognizedCategory reports whether category is in kind's list, ignoring case.
func IsRecognizedCategory(kind Kind, category string) bool {
	for _, c := range CategoriesFor(kind) {
		if strings.EqualFold(c, strings.TrimSpace(category)) {
			return true
		}
	}
	return false
}
