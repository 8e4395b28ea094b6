// Package account wraps the backend's auth and balance endpoints and keeps
// the process's single signed-in session.
package account

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cfdfeed/internal/rest"
	"cfdfeed/logger"
	"cfdfeed/models"
)

var (
	// ErrNotLoggedIn is returned when an operation needs a session and none exists.
	ErrNotLoggedIn = errors.New("not logged in")
	// ErrMissingCredentials is returned when email or password is empty.
	ErrMissingCredentials = errors.New("email and password are required")
)

const usdcSymbol = "USDC"

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

// Client calls the auth and balance endpoints.
type Client struct {
	api *rest.Client
}

func NewClient(api *rest.Client) *Client {
	return &Client{api: api}
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (string, models.User, error) {
	return c.authenticate(ctx, "/auth/login", email, password)
}

// Register creates an account and signs it in.
func (c *Client) Register(ctx context.Context, email, password string) (string, models.User, error) {
	return c.authenticate(ctx, "/auth/register", email, password)
}

func (c *Client) authenticate(ctx context.Context, path, email, password string) (string, models.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return "", models.User{}, ErrMissingCredentials
	}

	var resp authResponse
	if err := c.api.Do(ctx, rest.Request{
		Method: http.MethodPost,
		Path:   path,
		Body:   credentials{Email: email, Password: password},
	}, &resp); err != nil {
		return "", models.User{}, err
	}
	if resp.Token == "" {
		return "", models.User{}, fmt.Errorf("%s: response carried no token", path)
	}
	if resp.User.Email == "" {
		resp.User.Email = email
	}
	return resp.Token, resp.User, nil
}

// Balances lists the balances of the account behind token.
func (c *Client) Balances(ctx context.Context, token string) ([]models.Balance, error) {
	if token == "" {
		return nil, ErrNotLoggedIn
	}
	var resp struct {
		Balances []models.Balance `json:"balances"`
	}
	if err := c.api.Do(ctx, rest.Request{Path: "/balances", Token: token}, &resp); err != nil {
		return nil, fmt.Errorf("fetch balances: %w", err)
	}
	return resp.Balances, nil
}

// TotalUSDC sums the USDC balances converted from base units.
func TotalUSDC(balances []models.Balance) decimal.Decimal {
	total := decimal.Zero
	for _, b := range balances {
		if b.Symbol != usdcSymbol {
			continue
		}
		total = total.Add(decimal.New(b.Balance, -b.Decimals))
	}
	return total
}

// Authenticator is the part of Client that Sessions needs.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (string, models.User, error)
	Register(ctx context.Context, email, password string) (string, models.User, error)
}

// Sessions holds at most one signed-in session.
type Sessions struct {
	auth Authenticator
	log  *logger.Log
	now  func() time.Time

	mu      sync.RWMutex
	current *models.Session
}

func NewSessions(auth Authenticator) *Sessions {
	return &Sessions{auth: auth, log: logger.GetLogger(), now: time.Now}
}

// Current returns the active session.
func (s *Sessions) Current() (models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return models.Session{}, ErrNotLoggedIn
	}
	return *s.current, nil
}

// Login authenticates and replaces any existing session.
func (s *Sessions) Login(ctx context.Context, email, password string) (models.Session, error) {
	token, user, err := s.auth.Login(ctx, email, password)
	if err != nil {
		s.log.WithComponent("sessions").WithError(err).Warn("login failed")
		return models.Session{}, err
	}
	return s.begin(token, user, "logged in"), nil
}

// Register creates the account and signs it in, replacing any existing
// session.
func (s *Sessions) Register(ctx context.Context, email, password string) (models.Session, error) {
	token, user, err := s.auth.Register(ctx, email, password)
	if err != nil {
		s.log.WithComponent("sessions").WithError(err).Warn("registration failed")
		return models.Session{}, err
	}
	return s.begin(token, user, "registered"), nil
}

func (s *Sessions) begin(token string, user models.User, msg string) models.Session {
	session := &models.Session{
		ID:        uuid.NewString(),
		User:      user,
		Token:     token,
		CreatedAt: s.now(),
	}

	s.mu.Lock()
	s.current = session
	s.mu.Unlock()

	s.log.WithComponent("sessions").WithFields(logger.Fields{
		"session_id": session.ID,
		"user":       user.Email,
	}).Info(msg)
	return *session
}

// Logout drops the session. It reports ErrNotLoggedIn when there was none.
func (s *Sessions) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ErrNotLoggedIn
	}
	s.log.WithComponent("sessions").WithField("session_id", s.current.ID).Info("logged out")
	s.current = nil
	return nil
}
