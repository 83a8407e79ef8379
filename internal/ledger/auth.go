package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"accountbook/internal/apiclient"
	"accountbook/internal/log"
	"accountbook/internal/session"
)

const (
	loginPath  = "/auth/login"
	signupPath = "/auth/signup"
	logoutPath = "/auth/logout"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrMissingToken       = errors.New("login response carried no access token")
	ErrMissingField       = errors.New("required field is empty")
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
}

// LoginResult is what a successful login yields. The caller decides where
// to keep it.
type LoginResult struct {
	Token   string
	Profile session.Profile
}

type AuthAPI struct {
	client Requester
	logger *log.Logger
}

func NewAuthAPI(client Requester, logger *log.Logger) *AuthAPI {
	if logger == nil {
		logger = log.Discard()
	}
	return &AuthAPI{client: client, logger: logger.WithComponent(log.ComponentLedger)}
}

type loginResponse struct {
	User  *session.Profile `json:"user"`
	ID    int64            `json:"id"`
	Name  string           `json:"name"`
	Email string           `json:"email"`
}

func (a *AuthAPI) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		return LoginResult{}, fmt.Errorf("login: %w", ErrMissingField)
	}

	// A 401 here rejects the submitted credentials and must not touch the
	// session already stored.
	res, err := a.client.Post(apiclient.WithoutSessionRecovery(ctx), loginPath, req)
	if err != nil {
		if errors.Is(err, apiclient.ErrSessionExpired) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}
	if res.IsRaw() {
		res.Close()
		return LoginResult{}, ErrMissingToken
	}

	token := apiclient.ExtractToken(res.Header, res.Body)
	if token == "" {
		return LoginResult{}, ErrMissingToken
	}

	var body loginResponse
	if len(res.Body) > 0 {
		if err := json.Unmarshal(res.Body, &body); err != nil {
			a.logger.WarnContext(ctx, "Unreadable login profile, using email", log.FieldError, err)
		}
	}
	profile := session.Profile{ID: body.ID, Name: body.Name, Email: body.Email}
	if body.User != nil {
		profile = *body.User
	}
	if profile.Email == "" {
		profile.Email = req.Email
	}

	a.logger.InfoContext(ctx, "Logged in", log.FieldOperation, log.OpLogin)
	return LoginResult{Token: token, Profile: profile}, nil
}

// Signup registers an account and returns the server's confirmation message.
func (a *AuthAPI) Signup(ctx context.Context, req SignupRequest) (string, error) {
	req.Email = strings.TrimSpace(req.Email)
	req.Name = strings.TrimSpace(req.Name)
	if req.Email == "" || req.Password == "" || req.Name == "" {
		return "", fmt.Errorf("signup: %w", ErrMissingField)
	}

	res, err := a.client.Post(ctx, signupPath, req)
	if err != nil {
		return "", err
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := res.Decode(&body); err != nil {
		res.Close()
	}
	a.logger.InfoContext(ctx, "Signed up", log.FieldOperation, log.OpSignup)
	return body.Message, nil
}

// Logout tells the server to end the session.
func (a *AuthAPI) Logout(ctx context.Context) error {
	res, err := a.client.Post(ctx, logoutPath, nil)
	if err != nil {
		return err
	}
	res.Close()
	return nil
}
