package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"accountbook/internal/apiclient"
	"accountbook/internal/core"
	"accountbook/internal/ledger"
	"accountbook/internal/session"
	"accountbook/internal/session/memory"
)

type recordingPublisher struct {
	mu      sync.Mutex
	expired []string
	created []core.Transaction
	updated []core.Transaction
}

func (p *recordingPublisher) PublishSessionExpired(_ context.Context, email string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expired = append(p.expired, email)
	return nil
}

func (p *recordingPublisher) PublishTransactionCreated(_ context.Context, t core.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, t)
	return nil
}

func (p *recordingPublisher) PublishTransactionUpdated(_ context.Context, t core.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updated = append(p.updated, t)
	return nil
}

// fakeServer is a minimal account-book backend.
type fakeServer struct {
	mu        sync.Mutex
	records   []map[string]any
	nextID    int
	expired   bool // every authenticated call answers 401, refresh included
	logouts   int
	refreshes int
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	writeJSON := func(status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(v)
	}

	switch {
	case r.URL.Path == "/api/auth/login":
		var req ledger.LoginRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Password != "secret" {
			writeJSON(http.StatusUnauthorized, map[string]string{"message": "bad credentials"})
			return
		}
		w.Header().Add("Set-Cookie", "accessToken=tok-1; Path=/; HttpOnly")
		writeJSON(http.StatusOK, map[string]any{"user": map[string]any{"id": 1, "email": "dana@example.com", "name": "Dana"}})
		return
	case r.URL.Path == "/api/auth/refresh":
		f.refreshes++
	case r.URL.Path == "/api/auth/logout":
		f.logouts++
		writeJSON(http.StatusOK, map[string]string{"message": "bye"})
		return
	}

	if f.expired || r.Header.Get("Authorization") != "Bearer tok-1" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/transactions":
		writeJSON(http.StatusOK, map[string]any{"content": f.records, "totalElements": len(f.records)})
	case r.Method == http.MethodPost && r.URL.Path == "/api/transactions":
		var rec map[string]any
		json.NewDecoder(r.Body).Decode(&rec)
		f.nextID++
		rec["id"] = f.nextID
		f.records = append(f.records, rec)
		writeJSON(http.StatusCreated, rec)
	case r.Method == http.MethodPut:
		var rec map[string]any
		json.NewDecoder(r.Body).Decode(&rec)
		rec["id"] = 1
		f.records[0] = rec
		writeJSON(http.StatusOK, rec)
	default:
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"message":"not found"}`)
	}
}

func (f *fakeServer) logoutCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logouts
}

type harness struct {
	server *fakeServer
	store  *session.Store
	events *recordingPublisher
	svc    *LedgerService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		server: &fakeServer{},
		store:  session.New(memory.New(), nil),
		events: &recordingPublisher{},
	}
	srv := httptest.NewServer(h.server)
	t.Cleanup(srv.Close)

	client := apiclient.New(apiclient.Config{BaseURL: srv.URL + "/api", Timeout: time.Second}, h.store)
	h.svc = NewLedgerService(
		ledger.NewAuthAPI(client, nil),
		ledger.NewTransactionAPI(client, nil),
		h.store, h.events, nil, 20,
	)
	client.Notifier().Register(h.svc.HandleSessionExpired)
	h.svc.now = func() time.Time { return time.Date(2024, 1, 20, 9, 0, 0, 0, time.UTC) }
	return h
}

func mustCreate(t *testing.T, svc *LedgerService, kind core.Kind, category, amount, desc, date string) core.Transaction {
	t.Helper()
	m, err := core.ParseAmount(amount)
	if err != nil {
		t.Fatal(err)
	}
	d, err := core.ParseDate(date)
	if err != nil {
		t.Fatal(err)
	}
	created, err := svc.Create(context.Background(), core.Transaction{Kind: kind, Category: category, Amount: m, Description: desc, OccurredOn: d})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return created
}

func TestLedgerService_LoginCreateDashboard(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	profile, err := h.svc.Login(ctx, "dana@example.com", "secret")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if profile.Name != "Dana" {
		t.Errorf("profile = %+v", profile)
	}
	if c, _ := h.store.Credential(); c != "tok-1" {
		t.Fatalf("credential = %q", c)
	}

	mustCreate(t, h.svc, core.Expense, "Food", "15000", "lunch", "2024-01-15")
	mustCreate(t, h.svc, core.Income, "Salary", "3000000", "pay", "2024-01-01")
	mustCreate(t, h.svc, core.Expense, "Transit", "5000", "bus", "2024-01-14")

	if got := len(h.svc.Transactions()); got != 3 {
		t.Fatalf("expected the set to be refetched after each create, have %d", got)
	}
	if len(h.events.created) != 3 {
		t.Errorf("created events = %d, want 3", len(h.events.created))
	}

	d := h.svc.Dashboard()
	if d.Summary.Balance.Minor != 298000000 || d.Summary.TotalExpense.Minor != 2000000 {
		t.Errorf("summary = %+v", d.Summary)
	}
	if len(d.Monthly) != core.MonthWindow || d.Monthly[5].MonthKey != "2024-01" {
		t.Errorf("monthly = %+v", d.Monthly)
	}
	if len(d.Categories) != 2 || d.Categories[0].Category != "Food" || d.Categories[0].Percent != 75 {
		t.Errorf("categories = %+v", d.Categories)
	}
	if len(d.Recent) != 3 || d.Recent[0].Description != "lunch" {
		t.Errorf("recent = %+v", d.Recent)
	}

	if got := h.svc.Search("BUS"); len(got) != 1 || got[0].Category != "Transit" {
		t.Errorf("Search() = %+v", got)
	}
	if got := h.svc.Search(""); len(got) != 3 {
		t.Errorf("blank search should return everything, got %d", len(got))
	}
}

func TestLedgerService_Update(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.svc.Login(ctx, "dana@example.com", "secret"); err != nil {
		t.Fatal(err)
	}
	created := mustCreate(t, h.svc, core.Expense, "Food", "10", "snack", "2024-01-10")

	created.Description = "big snack"
	created.Amount = core.Money{Minor: 2000}
	if _, err := h.svc.Update(ctx, created); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	ts := h.svc.Transactions()
	if len(ts) != 1 || ts[0].Description != "big snack" || ts[0].Amount.Minor != 2000 {
		t.Fatalf("set after update = %+v", ts)
	}
	if len(h.events.updated) != 1 {
		t.Errorf("updated events = %d, want 1", len(h.events.updated))
	}
}

func TestLedgerService_SessionExpiry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.svc.Login(ctx, "dana@example.com", "secret"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.svc.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	h.server.mu.Lock()
	h.server.expired = true
	h.server.mu.Unlock()

	_, err := h.svc.Refresh(ctx)
	if !errors.Is(err, apiclient.ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if _, ok := h.store.Credential(); ok {
		t.Error("credential should be cleared")
	}
	if _, ok := h.store.Profile(); ok {
		t.Error("profile should be cleared by the expiry handler")
	}
	if len(h.events.expired) != 1 || h.events.expired[0] != "dana@example.com" {
		t.Fatalf("expired events = %v", h.events.expired)
	}

	// A second episode with nothing left to clear publishes nothing.
	_, _ = h.svc.Refresh(ctx)
	h.svc.HandleSessionExpired()
	if len(h.events.expired) != 1 {
		t.Errorf("expiry handler should be idempotent, got %d events", len(h.events.expired))
	}
}

func TestLedgerService_FailedLoginKeepsExistingSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.svc.Login(ctx, "dana@example.com", "secret"); err != nil {
		t.Fatal(err)
	}

	_, err := h.svc.Login(ctx, "dana@example.com", "typo")
	if !errors.Is(err, ledger.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if c, ok := h.store.Credential(); !ok || c != "tok-1" {
		t.Errorf("credential = %q, %v; the previous session should survive", c, ok)
	}
	if _, ok := h.store.Profile(); !ok {
		t.Error("profile should survive a rejected login")
	}
	if len(h.events.expired) != 0 {
		t.Errorf("expired events = %v, want none", h.events.expired)
	}
	h.server.mu.Lock()
	refreshes := h.server.refreshes
	h.server.mu.Unlock()
	if refreshes != 0 {
		t.Errorf("refreshes = %d, a rejected login must not refresh", refreshes)
	}
}

func TestLedgerService_LogoutClearsLocallyRegardless(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.svc.Login(ctx, "dana@example.com", "secret"); err != nil {
		t.Fatal(err)
	}
	mustCreate(t, h.svc, core.Expense, "Food", "1", "x", "2024-01-01")

	if err := h.svc.Logout(ctx); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if n := h.server.logoutCount(); n != 1 {
		t.Errorf("server logouts = %d, want 1", n)
	}
	if _, ok := h.store.Credential(); ok {
		t.Error("credential should be cleared")
	}
	if len(h.svc.Transactions()) != 0 {
		t.Error("transactions should be dropped on logout")
	}

	// Repeated logout is a no-op and does not call the server.
	if err := h.svc.Logout(ctx); err != nil {
		t.Fatalf("second Logout() error = %v", err)
	}
	if n := h.server.logoutCount(); n != 1 {
		t.Errorf("server logouts = %d, want 1", n)
	}
}

func TestLedgerService_TransactionsIsACopy(t *testing.T) {
	h := newHarness(t)
	h.svc.replace([]core.Transaction{{ID: 1, Category: "Food"}})

	got := h.svc.Transactions()
	got[0].Category = "changed"

	if h.svc.Transactions()[0].Category != "Food" {
		t.Fatal("callers must not be able to mutate the stored set")
	}
}
