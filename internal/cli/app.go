package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"accountbook/internal/amqp"
	"accountbook/internal/apiclient"
	"accountbook/internal/core"
	"accountbook/internal/ledger"
	"accountbook/internal/log"
	"accountbook/internal/services"
	"accountbook/internal/session"
)

// Process exit codes.
const (
	ExitOK            = 0
	ExitFailure       = 1
	ExitUsage         = 2
	ExitLoginRequired = 3
)

var errNotLoggedIn = errors.New("not logged in")

// EventConsumer streams published account-book events.
type EventConsumer interface {
	Consume(ctx context.Context, handler func(*amqp.Event) error) error
}

// App dispatches command lines to the ledger service and renders results.
type App struct {
	svc    *services.LedgerService
	store  *session.Store
	events EventConsumer
	out    io.Writer
	errOut io.Writer
	logger *log.Logger
	now    func() time.Time
}

// NewApp wires the command surface. events may be nil when no broker is
// configured.
func NewApp(svc *services.LedgerService, store *session.Store, events EventConsumer, out, errOut io.Writer, logger *log.Logger) *App {
	if logger == nil {
		logger = log.Discard()
	}
	return &App{
		svc:    svc,
		store:  store,
		events: events,
		out:    out,
		errOut: errOut,
		logger: logger.WithComponent(log.ComponentCLI),
		now:    time.Now,
	}
}

type command struct {
	name    string
	summary string
	run     func(a *App, ctx context.Context, args []string) error
}

var commands = []command{
	{"login", "start a session", (*App).login},
	{"signup", "create an account", (*App).signup},
	{"logout", "end the session", (*App).logout},
	{"whoami", "show the signed-in user", (*App).whoami},
	{"list", "list transactions, optionally filtered", (*App).list},
	{"add", "record a transaction", (*App).add},
	{"update", "change a transaction", (*App).update},
	{"dashboard", "summary, monthly trend and category breakdown", (*App).dashboard},
	{"categories", "show the recognised categories", (*App).categories},
	{"events", "stream published events until interrupted", (*App).streamEvents},
}

// Run executes one command line and returns the process exit code.
func (a *App) Run(ctx context.Context, args []string) int {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		a.usage()
		if len(args) == 0 {
			return ExitUsage
		}
		return ExitOK
	}

	for _, cmd := range commands {
		if cmd.name != args[0] {
			continue
		}
		ctx = log.NewContext(ctx, a.logger.With("command", cmd.name))
		return a.report(ctx, cmd.run(a, ctx, args[1:]))
	}

	fmt.Fprintf(a.errOut, "unknown command %q\n\n", args[0])
	a.usage()
	return ExitUsage
}

func (a *App) usage() {
	fmt.Fprintln(a.errOut, "usage: accountbook <command> [flags]")
	fmt.Fprintln(a.errOut)
	for _, cmd := range commands {
		fmt.Fprintf(a.errOut, "  %-11s %s\n", cmd.name, cmd.summary)
	}
}

// report maps err to a message and an exit code.
func (a *App) report(ctx context.Context, err error) int {
	if err == nil {
		return ExitOK
	}

	var usageErr usageError
	switch {
	case errors.Is(err, flag.ErrHelp):
		return ExitOK
	case errors.As(err, &usageErr):
		fmt.Fprintln(a.errOut, usageErr.Error())
		return ExitUsage
	case errors.Is(err, errNotLoggedIn):
		fmt.Fprintln(a.errOut, "You are not logged in. Run: accountbook login -email <email>")
		return ExitLoginRequired
	case errors.Is(err, apiclient.ErrSessionExpired), errors.Is(err, apiclient.ErrForbidden):
		fmt.Fprintln(a.errOut, "Your session has ended. Please log in again: accountbook login -email <email>")
		return ExitLoginRequired
	case errors.Is(err, ledger.ErrInvalidCredentials):
		fmt.Fprintln(a.errOut, "Login failed: invalid email or password.")
		return ExitFailure
	case errors.Is(err, apiclient.ErrNetworkUnavailable):
		fmt.Fprintln(a.errOut, "Could not reach the server. Check your connection and try again.")
		return ExitFailure
	case errors.Is(err, apiclient.ErrApplication):
		msg := err.Error()
		if apiErr, ok := apiclient.AsError(err); ok && apiErr.Message != "" {
			msg = apiErr.Message
		}
		fmt.Fprintf(a.errOut, "The server could not complete the request: %s. Try again.\n", msg)
		return ExitFailure
	case isValidationError(err):
		fmt.Fprintf(a.errOut, "Invalid input: %v\n", err)
		return ExitUsage
	}

	log.FromContext(ctx).ErrorContext(ctx, "Command failed", log.FieldError, err)
	fmt.Fprintf(a.errOut, "Error: %v\n", err)
	return ExitFailure
}

func isValidationError(err error) bool {
	for _, target := range []error{
		core.ErrInvalidAmount, core.ErrEmptyDescription, core.ErrDescriptionTooLong,
		core.ErrEmptyCategory, core.ErrInvalidKind, core.ErrInvalidDate,
		ledger.ErrMissingField, ledger.ErrMissingID,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func (a *App) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return usageError{msg: fmt.Sprintf("%s: %v", fs.Name(), err)}
	}
	if fs.NArg() > 0 {
		return usageError{msg: fmt.Sprintf("%s: unexpected argument %q", fs.Name(), fs.Arg(0))}
	}
	return nil
}

func (a *App) requireSession() error {
	if _, ok := a.store.Credential(); !ok {
		return errNotLoggedIn
	}
	return nil
}

func (a *App) login(ctx context.Context, args []string) error {
	fs := a.newFlagSet("login")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	profile, err := a.svc.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	name := profile.Name
	if name == "" {
		name = profile.Email
	}
	fmt.Fprintf(a.out, "Logged in as %s.\n", name)
	return nil
}

func (a *App) signup(ctx context.Context, args []string) error {
	fs := a.newFlagSet("signup")
	var req ledger.SignupRequest
	fs.StringVar(&req.Email, "email", "", "account email")
	fs.StringVar(&req.Password, "password", "", "account password")
	fs.StringVar(&req.Name, "name", "", "display name")
	fs.StringVar(&req.Phone, "phone", "", "phone number")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	msg, err := a.svc.Signup(ctx, req)
	if err != nil {
		return err
	}
	if msg == "" {
		msg = "Account created."
	}
	fmt.Fprintln(a.out, msg)
	return nil
}

func (a *App) logout(ctx context.Context, args []string) error {
	if err := parseFlags(a.newFlagSet("logout"), args); err != nil {
		return err
	}
	if err := a.svc.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Logged out.")
	return nil
}

func (a *App) whoami(_ context.Context, args []string) error {
	if err := parseFlags(a.newFlagSet("whoami"), args); err != nil {
		return err
	}
	profile, ok := a.store.Profile()
	if !ok {
		return errNotLoggedIn
	}
	if profile.Name != "" {
		fmt.Fprintf(a.out, "%s <%s>\n", profile.Name, profile.Email)
	} else {
		fmt.Fprintln(a.out, profile.Email)
	}
	return nil
}

func (a *App) list(ctx context.Context, args []string) error {
	fs := a.newFlagSet("list")
	query := fs.String("q", "", "only show transactions whose description or category contains this text")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := a.requireSession(); err != nil {
		return err
	}

	if _, err := a.svc.Refresh(ctx); err != nil {
		return err
	}
	ts := core.RecentFirst(a.svc.Search(*query))
	if len(ts) == 0 {
		fmt.Fprintln(a.out, "No transactions.")
		return nil
	}
	return writeTransactions(a.out, ts)
}

// transactionFlags binds the editable transaction fields to fs.
type transactionFlags struct {
	kind, category, amount, description, date *string
}

func bindTransactionFlags(fs *flag.FlagSet, defaultDate string) transactionFlags {
	return transactionFlags{
		kind:        fs.String("type", string(core.Expense), "EXPENSE or INCOME"),
		category:    fs.String("category", "", "category name"),
		amount:      fs.String("amount", "", "positive amount, for example 12.50"),
		description: fs.String("desc", "", "description"),
		date:        fs.String("date", defaultDate, "transaction date (YYYY-MM-DD)"),
	}
}

// apply copies every flag named in set onto t.
func (f transactionFlags) apply(t *core.Transaction, set map[string]bool) error {
	if set["type"] {
		kind, err := core.ParseKind(*f.kind)
		if err != nil {
			return err
		}
		t.Kind = kind
	}
	if set["category"] {
		t.Category = strings.TrimSpace(*f.category)
	}
	if set["amount"] {
		amount, err := core.ParseAmount(*f.amount)
		if err != nil {
			return err
		}
		t.Amount = amount
	}
	if set["desc"] {
		t.Description = strings.TrimSpace(*f.description)
	}
	if set["date"] {
		date, err := core.ParseDate(*f.date)
		if err != nil {
			return err
		}
		t.OccurredOn = date
	}
	return nil
}

func visited(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

func (a *App) add(ctx context.Context, args []string) error {
	fs := a.newFlagSet("add")
	tf := bindTransactionFlags(fs, core.DateOf(a.now()).String())
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := a.requireSession(); err != nil {
		return err
	}

	var t core.Transaction
	all := map[string]bool{"type": true, "category": true, "amount": true, "desc": true, "date": true}
	if err := tf.apply(&t, all); err != nil {
		return err
	}
	if !core.IsRecognizedCategory(t.Kind, t.Category) {
		log.FromContext(ctx).DebugContext(ctx, "Unrecognised category", log.FieldCategory, t.Category)
	}

	created, err := a.svc.Create(ctx, t)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Recorded %s #%d: %s %s on %s.\n",
		created.Kind, created.ID, created.Category, created.Amount, created.OccurredOn)
	return nil
}

func (a *App) update(ctx context.Context, args []string) error {
	fs := a.newFlagSet("update")
	id := fs.Int64("id", 0, "transaction id")
	tf := bindTransactionFlags(fs, "")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *id <= 0 {
		return usageError{msg: "update: -id is required"}
	}
	set := visited(fs)
	delete(set, "id")
	if len(set) == 0 {
		return usageError{msg: "update: nothing to change"}
	}
	if err := a.requireSession(); err != nil {
		return err
	}

	if _, err := a.svc.Refresh(ctx); err != nil {
		return err
	}
	var (
		current core.Transaction
		found   bool
	)
	for _, t := range a.svc.Transactions() {
		if t.ID == *id {
			current, found = t, true
			break
		}
	}
	if !found {
		return fmt.Errorf("transaction %d is not in the current page", *id)
	}

	if err := tf.apply(&current, set); err != nil {
		return err
	}
	updated, err := a.svc.Update(ctx, current)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Updated #%d.\n", updated.ID)
	return nil
}

func (a *App) dashboard(ctx context.Context, args []string) error {
	if err := parseFlags(a.newFlagSet("dashboard"), args); err != nil {
		return err
	}
	if err := a.requireSession(); err != nil {
		return err
	}
	if _, err := a.svc.Refresh(ctx); err != nil {
		return err
	}
	return writeDashboard(a.out, a.svc.Dashboard())
}

func (a *App) categories(_ context.Context, args []string) error {
	if err := parseFlags(a.newFlagSet("categories"), args); err != nil {
		return err
	}
	for _, kind := range []core.Kind{core.Expense, core.Income} {
		fmt.Fprintf(a.out, "%s: %s\n", kind, strings.Join(core.CategoriesFor(kind), ", "))
	}
	return nil
}

func (a *App) streamEvents(ctx context.Context, args []string) error {
	if err := parseFlags(a.newFlagSet("events"), args); err != nil {
		return err
	}
	if a.events == nil {
		return usageError{msg: "events: AMQP_URL is not configured"}
	}

	err := a.events.Consume(ctx, func(ev *amqp.Event) error {
		return writeEvent(a.out, ev)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
