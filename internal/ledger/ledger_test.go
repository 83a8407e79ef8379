package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"accountbook/internal/apiclient"
	"accountbook/internal/core"
	"accountbook/internal/session"
	"accountbook/internal/session/memory"
)

func newClient(t *testing.T, h http.HandlerFunc) *apiclient.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return apiclient.New(apiclient.Config{BaseURL: srv.URL + "/api", Timeout: time.Second}, session.New(memory.New(), nil))
}

func TestDecodeTransaction_Tolerant(t *testing.T) {
	fallback := core.NewDate(2024, 1, 20)
	tests := []struct {
		name string
		raw  string
		want core.Transaction
	}{
		{
			name: "complete record",
			raw:  `{"id":5,"type":"INCOME","category":"Salary","amount":3000000,"description":"pay","transactionDate":"2024-01-01","createdAt":"2024-01-01T09:00:00"}`,
			want: core.Transaction{ID: 5, Kind: core.Income, Category: "Salary", Amount: core.Money{Minor: 300000000}, Description: "pay", OccurredOn: core.NewDate(2024, 1, 1)},
		},
		{
			name: "lower-case tag and timestamp date",
			raw:  `{"id":"6","type":"expense","category":"Food","amount":"12.345","description":"x","transactionDate":"2024-01-15T10:30:00"}`,
			want: core.Transaction{ID: 6, Kind: core.Expense, Category: "Food", Amount: core.Money{Minor: 1235}, Description: "x", OccurredOn: core.NewDate(2024, 1, 15)},
		},
		{
			name: "everything missing",
			raw:  `{}`,
			want: core.Transaction{Kind: core.Expense, Category: core.OtherCategory, OccurredOn: fallback},
		},
		{
			name: "garbage fields",
			raw:  `{"type":"TRANSFER","category":"  ","amount":"abc","transactionDate":"yesterday"}`,
			want: core.Transaction{Kind: core.Expense, Category: core.OtherCategory, OccurredOn: fallback},
		},
		{
			name: "negative amount",
			raw:  `{"type":"EXPENSE","category":"Food","amount":-5,"transactionDate":"2024-01-02"}`,
			want: core.Transaction{Kind: core.Expense, Category: "Food", OccurredOn: core.NewDate(2024, 1, 2)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DecodeTransaction(json.RawMessage(tt.raw), fallback)
			if !ok {
				t.Fatal("expected record to decode")
			}
			got.CreatedAt, got.UpdatedAt = time.Time{}, time.Time{}
			if got != tt.want {
				t.Errorf("DecodeTransaction() = %+v, want %+v", got, tt.want)
			}
		})
	}

	if _, ok := DecodeTransaction(json.RawMessage(`[1,2]`), fallback); ok {
		t.Error("non-object records should be rejected")
	}
}

func TestDecodePage(t *testing.T) {
	data := []byte(`{
		"content": [
			{"id":1,"type":"EXPENSE","category":"Food","amount":15000,"description":"a","transactionDate":"2024-01-15"},
			"not a record",
			{"id":2,"type":"INCOME","category":"Salary","amount":3000000,"description":"b","transactionDate":"2024-01-01"}
		],
		"totalElements": 3, "totalPages": 1, "number": 0, "size": 20,
		"first": true, "last": true, "empty": false, "numberOfElements": 3
	}`)

	p, err := DecodePage(data, core.NewDate(2024, 1, 20))
	if err != nil {
		t.Fatalf("DecodePage() error = %v", err)
	}
	if len(p.Content) != 2 || p.Skipped != 1 {
		t.Fatalf("content = %d, skipped = %d", len(p.Content), p.Skipped)
	}
	if p.TotalElements != 3 || p.Size != 20 || !p.First || !p.Last || p.Empty {
		t.Errorf("metadata not carried: %+v", p)
	}

	if _, err := DecodePage([]byte(`nope`), core.Date{}); !errors.Is(err, ErrMalformedPage) {
		t.Errorf("expected ErrMalformedPage, got %v", err)
	}
}

func TestTransactionAPI_List(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/transactions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.URL.Query().Get("page") != "0" || r.URL.Query().Get("size") != "20" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"content":[{"id":1,"type":"EXPENSE","category":"Food","amount":15000,"description":"lunch","transactionDate":"2024-01-15"}],"totalElements":1}`)
	})

	api := NewTransactionAPI(c, nil)
	p, err := api.List(context.Background(), -1, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(p.Content) != 1 || p.Content[0].Amount.Minor != 1500000 {
		t.Fatalf("unexpected content %+v", p.Content)
	}
}

func TestTransactionAPI_Create(t *testing.T) {
	var got map[string]any
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/transactions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"id":42,"type":"EXPENSE","category":"Food","amount":150.5,"description":"lunch","transactionDate":"2024-01-15","createdAt":"2024-01-15T12:00:00"}`)
	})

	api := NewTransactionAPI(c, nil)
	amount, _ := core.ParseAmount("150.50")
	created, err := api.Create(context.Background(), core.Transaction{
		Kind:        core.Expense,
		Category:    "Food",
		Amount:      amount,
		Description: " lunch ",
		OccurredOn:  core.NewDate(2024, 1, 15),
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.ID != 42 || created.CreatedAt.IsZero() {
		t.Errorf("server echo not decoded: %+v", created)
	}

	want := map[string]any{
		"type":            "EXPENSE",
		"category":        "Food",
		"amount":          150.5,
		"description":     "lunch",
		"transactionDate": "2024-01-15",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("request %s = %v, want %v", k, got[k], v)
		}
	}
}

func TestTransactionAPI_CreateRejectsInvalid(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("invalid transactions must not reach the server")
	})
	api := NewTransactionAPI(c, nil)
	_, err := api.Create(context.Background(), core.Transaction{Kind: core.Expense, Category: "Food", Description: "x", OccurredOn: core.NewDate(2024, 1, 1)})
	if !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestTransactionAPI_Update(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/api/transactions/7" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":7,"type":"INCOME","category":"Salary","amount":100,"description":"fixed","transactionDate":"2024-02-01"}`)
	})
	api := NewTransactionAPI(c, nil)

	tx := core.Transaction{ID: 7, Kind: core.Income, Category: "Salary", Amount: core.Money{Minor: 10000}, Description: "fixed", OccurredOn: core.NewDate(2024, 2, 1)}
	updated, err := api.Update(context.Background(), tx)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.ID != 7 || updated.Kind != core.Income {
		t.Errorf("unexpected echo %+v", updated)
	}

	tx.ID = 0
	if _, err := api.Update(context.Background(), tx); !errors.Is(err, ErrMissingID) {
		t.Errorf("expected ErrMissingID, got %v", err)
	}
}

func TestAuthAPI_Login(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Password != "secret" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"message":"bad credentials"}`)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "accessToken", Value: "jwt-token", Path: "/", HttpOnly: true})
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"user":{"id":3,"email":"dana@example.com","name":"Dana"}}`)
	})
	api := NewAuthAPI(c, nil)

	res, err := api.Login(context.Background(), LoginRequest{Email: "dana@example.com", Password: "secret"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if res.Token != "jwt-token" {
		t.Errorf("Token = %q", res.Token)
	}
	if res.Profile != (session.Profile{ID: 3, Email: "dana@example.com", Name: "Dana"}) {
		t.Errorf("Profile = %+v", res.Profile)
	}

	if _, err := api.Login(context.Background(), LoginRequest{Email: "dana@example.com", Password: "wrong"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := api.Login(context.Background(), LoginRequest{Email: " "}); !errors.Is(err, ErrMissingField) {
		t.Errorf("expected ErrMissingField, got %v", err)
	}
}

func TestAuthAPI_LoginWithoutToken(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"user":{"email":"a@example.com"}}`)
	})
	_, err := NewAuthAPI(c, nil).Login(context.Background(), LoginRequest{Email: "a@example.com", Password: "p"})
	if !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
}

func TestAuthAPI_SignupAndLogout(t *testing.T) {
	var paths []string
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/api/auth/signup" {
			var req SignupRequest
			json.NewDecoder(r.Body).Decode(&req)
			if req.Name != "Dana" || req.Phone != "010" {
				t.Errorf("unexpected signup body %+v", req)
			}
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"message":"Signup complete"}`)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	api := NewAuthAPI(c, nil)

	msg, err := api.Signup(context.Background(), SignupRequest{Email: "d@example.com", Password: "p", Name: "Dana", Phone: "010"})
	if err != nil || msg != "Signup complete" {
		t.Fatalf("Signup() = %q, %v", msg, err)
	}
	if err := api.Logout(context.Background()); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if len(paths) != 2 || paths[1] != "/api/auth/logout" {
		t.Fatalf("paths = %v", paths)
	}
}
