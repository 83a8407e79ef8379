package services

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"accountbook/internal/core"
	"accountbook/internal/ledger"
	"accountbook/internal/log"
	"accountbook/internal/session"
)

// RecentLimit is the number of transactions shown in the dashboard's
// recent list.
const RecentLimit = 5

// EventPublisher receives account-book events. It may be nil.
type EventPublisher interface {
	PublishSessionExpired(ctx context.Context, email string) error
	PublishTransactionCreated(ctx context.Context, t core.Transaction) error
	PublishTransactionUpdated(ctx context.Context, t core.Transaction) error
}

// Dashboard is every derived view of the current transaction set.
type Dashboard struct {
	Summary    core.Summary
	Monthly    []core.MonthlyBucket
	Categories []core.CategoryShare
	Recent     []core.Transaction
}

// LedgerService owns the session lifecycle and the current transaction
// set. The set is replaced wholesale on every successful fetch; derived
// views are recomputed from it on demand.
type LedgerService struct {
	auth     *ledger.AuthAPI
	txs      *ledger.TransactionAPI
	store    *session.Store
	events   EventPublisher
	logger   *log.Logger
	pageSize int
	now      func() time.Time

	mu           sync.RWMutex
	transactions []core.Transaction
}

func NewLedgerService(auth *ledger.AuthAPI, txs *ledger.TransactionAPI, store *session.Store, events EventPublisher, logger *log.Logger, pageSize int) *LedgerService {
	if logger == nil {
		logger = log.Discard()
	}
	if pageSize <= 0 {
		pageSize = ledger.DefaultPageSize
	}
	return &LedgerService{
		auth:     auth,
		txs:      txs,
		store:    store,
		events:   events,
		logger:   logger.WithComponent(log.ComponentService),
		pageSize: pageSize,
		now:      time.Now,
	}
}

// Login authenticates and stores the new session.
func (s *LedgerService) Login(ctx context.Context, email, password string) (session.Profile, error) {
	res, err := s.auth.Login(ctx, ledger.LoginRequest{Email: email, Password: password})
	if err != nil {
		return session.Profile{}, err
	}

	// The store keeps the values in memory even when persisting fails, so
	// the session still works for this process.
	if err := s.store.SetCredential(ctx, res.Token); err != nil {
		s.logger.WarnContext(ctx, "Session will not survive a restart", log.FieldError, err)
	}
	if err := s.store.SetProfile(ctx, res.Profile); err != nil {
		s.logger.WarnContext(ctx, "Profile will not survive a restart", log.FieldError, err)
	}
	s.replace(nil)

	s.logger.InfoContext(ctx, "Session started", log.FieldOperation, log.OpLogin)
	return res.Profile, nil
}

func (s *LedgerService) Signup(ctx context.Context, req ledger.SignupRequest) (string, error) {
	return s.auth.Signup(ctx, req)
}

// Logout ends the session on the server and locally. The local session is
// cleared whatever the server says.
func (s *LedgerService) Logout(ctx context.Context) error {
	if _, ok := s.store.Credential(); ok {
		if err := s.auth.Logout(ctx); err != nil {
			s.logger.WarnContext(ctx, "Server logout failed, clearing locally",
				log.FieldOperation, log.OpLogout, log.FieldError, err)
		}
	}
	s.replace(nil)
	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	s.logger.InfoContext(ctx, "Logged out", log.FieldOperation, log.OpLogout)
	return nil
}

// HandleSessionExpired is the session-expiry subscriber. It drops local
// session state and publishes one event per episode; later calls are no-ops.
func (s *LedgerService) HandleSessionExpired() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	profile, hadProfile := s.store.Profile()
	_, hadCredential := s.store.Credential()
	s.replace(nil)
	if !hadProfile && !hadCredential {
		return
	}

	if err := s.store.Clear(ctx); err != nil {
		s.logger.WarnContext(ctx, "Failed to clear expired session", log.FieldError, err)
	}
	s.logger.WarnContext(ctx, "Session ended by server, login required")

	if s.events != nil {
		if err := s.events.PublishSessionExpired(ctx, profile.Email); err != nil {
			s.logger.ErrorContext(ctx, "Failed to publish session expiry", log.FieldError, err)
		}
	}
}

// Refresh fetches the first page and replaces the current set with it.
func (s *LedgerService) Refresh(ctx context.Context) ([]core.Transaction, error) {
	page, err := s.txs.List(ctx, 0, s.pageSize)
	if err != nil {
		return nil, err
	}
	s.replace(page.Content)
	return slices.Clone(page.Content), nil
}

// Transactions returns a copy of the current set.
func (s *LedgerService) Transactions() []core.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.transactions)
}

// Create submits t, then refetches so the set reflects the server.
func (s *LedgerService) Create(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	created, err := s.txs.Create(ctx, t)
	if err != nil {
		return core.Transaction{}, err
	}
	if s.events != nil {
		if err := s.events.PublishTransactionCreated(ctx, created); err != nil {
			s.logger.ErrorContext(ctx, "Failed to publish transaction event",
				log.FieldOperation, log.OpPublish, log.FieldTxID, created.ID, log.FieldError, err)
		}
	}
	s.refetch(ctx)
	return created, nil
}

// Update replaces the stored transaction with t.ID, then refetches.
func (s *LedgerService) Update(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	updated, err := s.txs.Update(ctx, t)
	if err != nil {
		return core.Transaction{}, err
	}
	if s.events != nil {
		if err := s.events.PublishTransactionUpdated(ctx, updated); err != nil {
			s.logger.ErrorContext(ctx, "Failed to publish transaction event",
				log.FieldOperation, log.OpPublish, log.FieldTxID, updated.ID, log.FieldError, err)
		}
	}
	s.refetch(ctx)
	return updated, nil
}

// Dashboard computes every view from the current set.
func (s *LedgerService) Dashboard() Dashboard {
	ts := s.Transactions()
	recent := core.RecentFirst(ts)
	if len(recent) > RecentLimit {
		recent = recent[:RecentLimit]
	}
	return Dashboard{
		Summary:    core.MonthlySummary(ts),
		Monthly:    core.MonthlyBuckets(ts, s.now()),
		Categories: core.CategoryShares(core.CategoryBuckets(ts)),
		Recent:     recent,
	}
}

// Search filters the current set by description or category.
func (s *LedgerService) Search(query string) []core.Transaction {
	return core.FilterByText(s.Transactions(), query)
}

func (s *LedgerService) refetch(ctx context.Context) {
	if _, err := s.Refresh(ctx); err != nil {
		s.logger.WarnContext(ctx, "Refetch after write failed", log.FieldError, err)
	}
}

func (s *LedgerService) replace(ts []core.Transaction) {
	s.mu.Lock()
	s.transactions = ts
	s.mu.Unlock()
}
