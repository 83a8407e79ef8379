package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"accountbook/internal/amqp"
	"accountbook/internal/core"
	"accountbook/internal/services"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func writeTransactions(w io.Writer, ts []core.Transaction) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tDATE\tTYPE\tCATEGORY\tAMOUNT\tDESCRIPTION")
	for _, t := range ts {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.OccurredOn, t.Kind, t.Category, signed(t), t.Description)
	}
	return tw.Flush()
}

// signed prefixes expenses with a minus sign.
func signed(t core.Transaction) string {
	if t.Kind == core.Expense {
		return "-" + t.Amount.String()
	}
	return "+" + t.Amount.String()
}

func writeDashboard(w io.Writer, d services.Dashboard) error {
	tw := newTable(w)

	fmt.Fprintf(tw, "Income\t%s\n", d.Summary.TotalIncome)
	fmt.Fprintf(tw, "Expense\t%s\n", d.Summary.TotalExpense)
	fmt.Fprintf(tw, "Balance\t%s\n", d.Summary.Balance)

	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "MONTH\tINCOME\tEXPENSE")
	for _, b := range d.Monthly {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", b.MonthKey, b.TotalIncome, b.TotalExpense)
	}

	fmt.Fprintln(tw)
	if len(d.Categories) == 0 {
		fmt.Fprintln(tw, "No expenses yet.")
	} else {
		fmt.Fprintln(tw, "CATEGORY\tSPENT\tSHARE")
		for _, c := range d.Categories {
			fmt.Fprintf(tw, "%s\t%s\t%s%%\n", c.Category, c.TotalAmount, strconv.FormatFloat(c.Percent, 'f', 1, 64))
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(d.Recent) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Recent")
		return writeTransactions(w, d.Recent)
	}
	return nil
}

func writeEvent(w io.Writer, ev *amqp.Event) error {
	var detail string
	switch {
	case ev.Transaction != nil:
		t := ev.Transaction
		detail = fmt.Sprintf("#%d %s %s %s %s", t.ID, strings.ToLower(t.Kind), t.Category, t.Amount, t.Date)
	case ev.Email != "":
		detail = ev.Email
	}
	_, err := fmt.Fprintf(w, "%s %s %s\n", ev.Timestamp.Format("2006-01-02T15:04:05Z07:00"), ev.Type, detail)
	return err
}
