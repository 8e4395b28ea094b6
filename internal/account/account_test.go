package account

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"cfdfeed/config"
	"cfdfeed/internal/rest"
	"cfdfeed/models"
)

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body credentials
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Password != "secret" {
			http.Error(w, `{"message":"invalid credentials"}`, http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"token":"tok-1","user":{"id":"u1","email":"` + body.Email + `"}}`))
	})
	mux.HandleFunc("/auth/register", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"token":"tok-2"}`))
	})
	mux.HandleFunc("/balances", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"balances":[{"symbol":"USDC","balance":1234500,"decimals":6},{"symbol":"BTC","balance":5,"decimals":8}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T) *Client {
	srv := newBackend(t)
	return NewClient(rest.NewClient(config.APIConfig{BaseURL: srv.URL}, nil))
}

func TestLoginAndBalances(t *testing.T) {
	c := newTestClient(t)

	token, user, err := c.Login(context.Background(), "a@b.c", "secret")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)
	assert.Equal(t, models.User{ID: "u1", Email: "a@b.c"}, user)

	balances, err := c.Balances(context.Background(), token)
	require.NoError(t, err)
	require.Len(t, balances, 2)
	assert.Equal(t, "1.2345", TotalUSDC(balances).String())
}

func TestLoginRejected(t *testing.T) {
	c := newTestClient(t)

	_, _, err := c.Login(context.Background(), "a@b.c", "wrong")
	assert.True(t, errors.Is(err, rest.ErrUnauthorized))

	_, _, err = c.Login(context.Background(), " ", "secret")
	assert.True(t, errors.Is(err, ErrMissingCredentials))
}

func TestRegisterFillsEmail(t *testing.T) {
	c := newTestClient(t)

	token, user, err := c.Register(context.Background(), "new@b.c", "pw")
	require.NoError(t, err)
	assert.Equal(t, "tok-2", token)
	assert.Equal(t, "new@b.c", user.Email)
}

func TestBalancesNeedToken(t *testing.T) {
	c := newTestClient(t)

	_, err := c.Balances(context.Background(), "")
	assert.True(t, errors.Is(err, ErrNotLoggedIn))

	_, err = c.Balances(context.Background(), "other")
	assert.True(t, errors.Is(err, rest.ErrUnauthorized))
}

func TestTotalUSDC(t *testing.T) {
	balances := []models.Balance{
		{Symbol: "USDC", Balance: 100, Decimals: 2},
		{Symbol: "USDC", Balance: 5, Decimals: 1},
		{Symbol: "BTC", Balance: 99999, Decimals: 0},
	}
	assert.Equal(t, "1.5", TotalUSDC(balances).String())
	assert.True(t, TotalUSDC(nil).IsZero())
}

type MockAuthenticator struct {
	mock.Mock
}

func (m *MockAuthenticator) Login(ctx context.Context, email, password string) (string, models.User, error) {
	args := m.Called(ctx, email, password)
	return args.String(0), args.Get(1).(models.User), args.Error(2)
}

func (m *MockAuthenticator) Register(ctx context.Context, email, password string) (string, models.User, error) {
	args := m.Called(ctx, email, password)
	return args.String(0), args.Get(1).(models.User), args.Error(2)
}

func TestSessionsRegister(t *testing.T) {
	auth := new(MockAuthenticator)
	auth.On("Register", mock.Anything, "new@b.c", "pw").Return("tok-new", models.User{ID: "u2", Email: "new@b.c"}, nil)
	auth.On("Register", mock.Anything, "taken@b.c", "pw").Return("", models.User{}, &rest.StatusError{Status: http.StatusConflict})

	s := NewSessions(auth)

	_, err := s.Register(context.Background(), "taken@b.c", "pw")
	assert.True(t, errors.Is(err, rest.ErrUnexpectedStatus))
	_, err = s.Current()
	assert.True(t, errors.Is(err, ErrNotLoggedIn))

	session, err := s.Register(context.Background(), "new@b.c", "pw")
	require.NoError(t, err)
	assert.Equal(t, "tok-new", session.Token)

	current, err := s.Current()
	require.NoError(t, err)
	assert.Equal(t, session.ID, current.ID)
	assert.Equal(t, "u2", current.User.ID)
	auth.AssertExpectations(t)
}

func TestSessionsLifecycle(t *testing.T) {
	auth := new(MockAuthenticator)
	auth.On("Login", mock.Anything, "a@b.c", "secret").Return("tok", models.User{ID: "u1", Email: "a@b.c"}, nil)
	auth.On("Login", mock.Anything, "a@b.c", "bad").Return("", models.User{}, rest.ErrUnauthorized)

	s := NewSessions(auth)

	_, err := s.Current()
	assert.True(t, errors.Is(err, ErrNotLoggedIn))

	first, err := s.Login(context.Background(), "a@b.c", "secret")
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "tok", first.Token)

	current, err := s.Current()
	require.NoError(t, err)
	assert.Equal(t, first.ID, current.ID)

	_, err = s.Login(context.Background(), "a@b.c", "bad")
	assert.Error(t, err)
	current, _ = s.Current()
	assert.Equal(t, first.ID, current.ID, "failed login keeps the old session")

	second, err := s.Login(context.Background(), "a@b.c", "secret")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	require.NoError(t, s.Logout())
	assert.True(t, errors.Is(s.Logout(), ErrNotLoggedIn))
	auth.AssertExpectations(t)
}
