package core

// MonthWindow is the number of trailing calendar months covered by MonthlyBuckets.
const MonthWindow = 6

// MonthlyBucket holds the totals of one calendar month.
type MonthlyBucket struct {
	Label        string // Month number, "1".."12"
	MonthKey     string // YYYY-MM
	TotalExpense Money
	TotalIncome  Money
}

// CategoryBucket represents an expense amount aggregated by category name.
type CategoryBucket struct {
	Category    string
	TotalAmount Money
}

// CategoryShare is a CategoryBucket with its share of the expense total.
type CategoryShare struct {
	Category    string
	TotalAmount Money
	Percent     float64 // Rounded to one decimal place
}

// Summary is the income/expense/balance triple shown on the dashboard.
type Summary struct {
	TotalIncome  Money
	TotalExpense Money
	Balance      Money
}
