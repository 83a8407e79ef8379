package core

import (
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MonthlyBuckets returns exactly MonthWindow buckets for the calendar months
// ending with now's month, oldest first. Transactions outside the window are
// ignored.
func MonthlyBuckets(ts []Transaction, now time.Time) []MonthlyBucket {
	buckets := make([]MonthlyBucket, MonthWindow)
	index := make(map[string]int, MonthWindow)
	for i := range buckets {
		// Day 1 keeps AddDate from normalising e.g. Mar 31 - 1 month into March.
		m := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, i-(MonthWindow-1), 0)
		key := monthKey(m.Year(), m.Month())
		buckets[i] = MonthlyBucket{Label: strconv.Itoa(int(m.Month())), MonthKey: key}
		index[key] = i
	}

	for _, t := range ts {
		if t.OccurredOn.IsZero() {
			continue
		}
		i, ok := index[t.OccurredOn.MonthKey()]
		if !ok {
			continue
		}
		switch t.Kind {
		case Income:
			buckets[i].TotalIncome = buckets[i].TotalIncome.Add(t.Amount)
		case Expense:
			buckets[i].TotalExpense = buckets[i].TotalExpense.Add(t.Amount)
		}
	}
	return buckets
}

// CategoryBuckets sums expense amounts per category, largest first. Equal
// totals keep the order in which their category first appeared.
func CategoryBuckets(ts []Transaction) []CategoryBucket {
	var out []CategoryBucket
	index := map[string]int{}
	for _, t := range ts {
		if t.Kind != Expense {
			continue
		}
		i, seen := index[t.Category]
		if !seen {
			i = len(out)
			index[t.Category] = i
			out = append(out, CategoryBucket{Category: t.Category})
		}
		out[i].TotalAmount = out[i].TotalAmount.Add(t.Amount)
	}

	slices.SortStableFunc(out, func(a, b CategoryBucket) int {
		switch {
		case a.TotalAmount.Minor > b.TotalAmount.Minor:
			return -1
		case a.TotalAmount.Minor < b.TotalAmount.Minor:
			return 1
		}
		return 0
	})

	// Only zero-amount expenses reached this point; nothing to chart.
	if len(out) > 0 && sumBuckets(out).IsZero() {
		return nil
	}
	return out
}

// CategoryShares derives each bucket's percentage of the bucket total,
// rounded to one decimal place.
func CategoryShares(buckets []CategoryBucket) []CategoryShare {
	total := sumBuckets(buckets)
	if total.IsZero() {
		return nil
	}
	hundred := decimal.NewFromInt(100)
	out := make([]CategoryShare, len(buckets))
	for i, b := range buckets {
		pct := decimal.NewFromInt(b.TotalAmount.Minor).
			Mul(hundred).
			Div(decimal.NewFromInt(total.Minor)).
			Round(1)
		out[i] = CategoryShare{
			Category:    b.Category,
			TotalAmount: b.TotalAmount,
			Percent:     pct.InexactFloat64(),
		}
	}
	return out
}

func sumBuckets(buckets []CategoryBucket) Money {
	var total Money
	for _, b := range buckets {
		total = total.Add(b.TotalAmount)
	}
	return total
}

// MonthlySummary totals income and expense over all of ts.
func MonthlySummary(ts []Transaction) Summary {
	var s Summary
	for _, t := range ts {
		switch t.Kind {
		case Income:
			s.TotalIncome = s.TotalIncome.Add(t.Amount)
		case Expense:
			s.TotalExpense = s.TotalExpense.Add(t.Amount)
		}
	}
	s.Balance = s.TotalIncome.Sub(s.TotalExpense)
	return s
}

// FilterByText keeps transactions whose description or category contains
// query, ignoring case. A blank query returns ts itself.
func FilterByText(ts []Transaction, query string) []Transaction {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return ts
	}
	out := make([]Transaction, 0, len(ts))
	for _, t := range ts {
		if strings.Contains(strings.ToLower(t.Description), q) ||
			strings.Contains(strings.ToLower(t.Category), q) {
			out = append(out, t)
		}
	}
	return out
}

// RecentFirst returns a copy of ts ordered by date, newest first, then by ID.
func RecentFirst(ts []Transaction) []Transaction {
	out := slices.Clone(ts)
	slices.SortStableFunc(out, func(a, b Transaction) int {
		if c := b.OccurredOn.Compare(a.OccurredOn.Time); c != 0 {
			return c
		}
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		}
		return 0
	})
	return out
}
