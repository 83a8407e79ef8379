package ledger

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"accountbook/internal/apiclient"
	"accountbook/internal/core"
	"accountbook/internal/log"
)

const (
	transactionsPath = "/transactions"
	DefaultPageSize  = 20
)

var ErrMissingID = errors.New("transaction has no id")

// Requester is the subset of *apiclient.Client the endpoint bindings use.
type Requester interface {
	Get(ctx context.Context, path string) (*apiclient.Result, error)
	Post(ctx context.Context, path string, body any) (*apiclient.Result, error)
	Put(ctx context.Context, path string, body any) (*apiclient.Result, error)
}

type TransactionAPI struct {
	client Requester
	logger *log.Logger
	now    func() time.Time
}

func NewTransactionAPI(client Requester, logger *log.Logger) *TransactionAPI {
	if logger == nil {
		logger = log.Discard()
	}
	return &TransactionAPI{
		client: client,
		logger: logger.WithComponent(log.ComponentLedger),
		now:    time.Now,
	}
}

// List fetches one page. Negative page and non-positive size fall back to
// the first page of DefaultPageSize.
func (a *TransactionAPI) List(ctx context.Context, page, size int) (Page, error) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))

	res, err := a.client.Get(ctx, transactionsPath+"?"+q.Encode())
	if err != nil {
		return Page{}, err
	}
	if res.IsRaw() {
		res.Close()
		return Page{}, fmt.Errorf("%w: %v", ErrMalformedPage, apiclient.ErrNotJSON)
	}

	p, err := DecodePage(res.Body, core.DateOf(a.now()))
	if err != nil {
		return Page{}, err
	}
	if p.Skipped > 0 {
		a.logger.WarnContext(ctx, "Skipped unreadable transaction records",
			log.FieldOperation, log.OpList, log.FieldCount, p.Skipped)
	}
	a.logger.DebugContext(ctx, "Transactions fetched",
		log.FieldOperation, log.OpList, log.FieldCount, len(p.Content), "page", page)
	return p, nil
}

// Create validates t and posts it. The server's echo of the record is
// returned; without one, t is returned unchanged.
func (a *TransactionAPI) Create(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	if err := t.Validate(); err != nil {
		return core.Transaction{}, fmt.Errorf("invalid transaction: %w", err)
	}
	res, err := a.client.Post(ctx, transactionsPath, newTransactionRequest(t))
	if err != nil {
		return core.Transaction{}, err
	}
	created := a.echo(res, t)
	a.logger.InfoContext(ctx, "Transaction created", log.NewFields().
		WithOperation(log.OpCreate).
		WithTransaction(created.ID, string(created.Kind), created.Category, created.Amount.Minor).
		ToSlice()...)
	return created, nil
}

// Update replaces the transaction with t.ID.
func (a *TransactionAPI) Update(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	if t.ID <= 0 {
		return core.Transaction{}, ErrMissingID
	}
	if err := t.Validate(); err != nil {
		return core.Transaction{}, fmt.Errorf("invalid transaction: %w", err)
	}
	res, err := a.client.Put(ctx, transactionsPath+"/"+strconv.FormatInt(t.ID, 10), newTransactionRequest(t))
	if err != nil {
		return core.Transaction{}, err
	}
	updated := a.echo(res, t)
	a.logger.InfoContext(ctx, "Transaction updated", log.NewFields().
		WithOperation(log.OpUpdate).
		WithTransaction(updated.ID, string(updated.Kind), updated.Category, updated.Amount.Minor).
		ToSlice()...)
	return updated, nil
}

func (a *TransactionAPI) echo(res *apiclient.Result, sent core.Transaction) core.Transaction {
	if res.IsRaw() {
		res.Close()
		return sent
	}
	if len(res.Body) == 0 {
		return sent
	}
	t, ok := DecodeTransaction(res.Body, sent.OccurredOn)
	if !ok {
		return sent
	}
	return t
}
