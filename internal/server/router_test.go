package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	gosync "sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/oauth2"

	"github.com/peteski22/donorsync/internal/auth"
	"github.com/peteski22/donorsync/internal/contacts"
	"github.com/peteski22/donorsync/internal/sync"
)

const (
	testAccount   = "acct-1"
	testUIBaseURL = "https://app.example.org"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeConnections struct {
	mu      gosync.Mutex
	conns   map[string]contacts.Connection
	loadErr error
	saveErr error
}

func newFakeConnections(conns ...contacts.Connection) *fakeConnections {
	f := &fakeConnections{conns: map[string]contacts.Connection{}}
	for _, c := range conns {
		f.conns[c.AccountID] = c
	}
	return f
}

func (f *fakeConnections) Connection(_ context.Context, accountID string) (*contacts.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.loadErr != nil {
		return nil, f.loadErr
	}
	conn, ok := f.conns[accountID]
	if !ok {
		return nil, nil
	}
	return &conn, nil
}

func (f *fakeConnections) SaveConnection(_ context.Context, conn contacts.Connection) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.saveErr != nil {
		return f.saveErr
	}
	f.conns[conn.AccountID] = conn
	return nil
}

func (f *fakeConnections) get(accountID string) (contacts.Connection, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	conn, ok := f.conns[accountID]
	return conn, ok
}

type fakeDispatcher struct {
	asyncErr  error
	asyncRuns []sync.RunOptions
	result    *sync.Result
	running   bool
	runs      []sync.RunOptions
	runErr    error
}

func (f *fakeDispatcher) Running(string) bool { return f.running }

func (f *fakeDispatcher) Trigger(_ context.Context, opts sync.RunOptions) (*sync.Result, error) {
	f.runs = append(f.runs, opts)
	return f.result, f.runErr
}

func (f *fakeDispatcher) TriggerAsync(_ context.Context, opts sync.RunOptions) error {
	f.asyncRuns = append(f.asyncRuns, opts)
	return f.asyncErr
}

type fakeLogs struct {
	err    error
	limits []int
	logs   []sync.Log
}

func (f *fakeLogs) RecentLogs(_ context.Context, _ string, limit int) ([]sync.Log, error) {
	f.limits = append(f.limits, limit)
	if f.err != nil {
		return nil, f.err
	}
	return f.logs[:min(limit, len(f.logs))], nil
}

type fakeOAuth struct {
	email       string
	emailErr    error
	exchangeErr error
	codes       []string
}

func (f *fakeOAuth) AuthCodeURL(state string) string {
	return "https://accounts.example.com/auth?state=" + state
}

func (f *fakeOAuth) Exchange(_ context.Context, code string) (*oauth2.Token, error) {
	f.codes = append(f.codes, code)
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return &oauth2.Token{AccessToken: "access-" + code, RefreshToken: "refresh-" + code}, nil
}

func (f *fakeOAuth) UserEmail(context.Context, string) (string, error) {
	return f.email, f.emailErr
}

type fixture struct {
	connections *fakeConnections
	dispatcher  *fakeDispatcher
	handler     http.Handler
	logs        *fakeLogs
	now         time.Time
	oauth       *fakeOAuth
	sessions    *auth.TokenIssuer
	states      *auth.TokenIssuer
}

func newFixture(t *testing.T, conns ...contacts.Connection) *fixture {
	t.Helper()

	fx := &fixture{
		connections: newFakeConnections(conns...),
		dispatcher:  &fakeDispatcher{result: &sync.Result{Success: true}},
		logs:        &fakeLogs{},
		now:         testNow,
		oauth:       &fakeOAuth{email: "ada@example.org"},
	}
	clock := func() time.Time { return fx.now }

	var err error
	fx.sessions, err = auth.NewTokenIssuer(auth.TokenIssuerConfig{
		Audience:      auth.AudienceSession,
		Clock:         clock,
		SigningSecret: []byte("test-secret"),
	})
	require.NoError(t, err)
	fx.states, err = auth.NewTokenIssuer(auth.TokenIssuerConfig{
		Audience:      auth.AudienceOAuthState,
		Clock:         clock,
		SigningSecret: []byte("test-secret"),
		TokenTTL:      10 * time.Minute,
	})
	require.NoError(t, err)

	fx.handler, err = NewHTTPHandler(Dependencies{
		Clock:       clock,
		Connections: fx.connections,
		Dispatcher:  fx.dispatcher,
		Logs:        fx.logs,
		OAuth:       fx.oauth,
		Sessions:    fx.sessions,
		States:      fx.states,
		UIBaseURL:   testUIBaseURL + "/",
	})
	require.NoError(t, err)

	return fx
}

func (fx *fixture) do(t *testing.T, method string, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	token, _, err := fx.sessions.Issue(testAccount)
	require.NoError(t, err)

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)
	return rec
}

func connected() contacts.Connection {
	return contacts.Connection{
		AccountID:    testAccount,
		Active:       true,
		ConnectedAt:  testNow.Add(-24 * time.Hour),
		Email:        "ada@example.org",
		Enabled:      true,
		RefreshToken: "refresh-1",
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestNewHTTPHandler(t *testing.T) {
	t.Parallel()

	valid := func(t *testing.T) Dependencies {
		t.Helper()

		issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{Audience: auth.AudienceSession, SigningSecret: []byte("s")})
		require.NoError(t, err)
		return Dependencies{
			Connections: newFakeConnections(),
			Dispatcher:  &fakeDispatcher{},
			Logs:        &fakeLogs{},
			OAuth:       &fakeOAuth{},
			Sessions:    issuer,
			States:      issuer,
			UIBaseURL:   testUIBaseURL,
		}
	}

	tests := map[string]struct {
		mutate  func(d *Dependencies)
		wantErr error
	}{
		"valid":               {mutate: func(*Dependencies) {}},
		"missing connections": {mutate: func(d *Dependencies) { d.Connections = nil }, wantErr: errMissingConnections},
		"missing dispatcher":  {mutate: func(d *Dependencies) { d.Dispatcher = nil }, wantErr: errMissingDispatcher},
		"missing logs":        {mutate: func(d *Dependencies) { d.Logs = nil }, wantErr: errMissingLogs},
		"missing oauth":       {mutate: func(d *Dependencies) { d.OAuth = nil }, wantErr: errMissingOAuth},
		"missing sessions":    {mutate: func(d *Dependencies) { d.Sessions = nil }, wantErr: errMissingSessions},
		"missing states":      {mutate: func(d *Dependencies) { d.States = nil }, wantErr: errMissingStates},
		"missing UI base URL": {mutate: func(d *Dependencies) { d.UIBaseURL = " " }, wantErr: errMissingUIBaseURL},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			deps := valid(t)
			tc.mutate(&deps)

			handler, err := NewHTTPHandler(deps)

			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				require.Nil(t, handler)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, handler)
		})
	}
}

func TestAuthorizeRequest(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, connected())
	otherIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{Audience: auth.AudienceSession, SigningSecret: []byte("other")})
	require.NoError(t, err)
	forged, _, err := otherIssuer.Issue(testAccount)
	require.NoError(t, err)
	state, _, err := fx.states.Issue(testAccount)
	require.NoError(t, err)

	tests := map[string]struct {
		header string
	}{
		"missing header":      {header: ""},
		"not bearer":          {header: "Basic abc"},
		"empty bearer":        {header: "Bearer  "},
		"forged token":        {header: "Bearer " + forged},
		"state token as auth": {header: "Bearer " + state},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/sync/status", http.NoBody)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			fx.handler.ServeHTTP(rec, req)

			require.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestAuthorizeRequest_LogLevels(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		validateErr error
		wantLevel   zapcore.Level
	}{
		"expired token": {validateErr: auth.ErrExpiredToken, wantLevel: zapcore.InfoLevel},
		"invalid token": {validateErr: auth.ErrInvalidToken, wantLevel: zapcore.WarnLevel},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			recorder := httptest.NewRecorder()
			ctx, _ := gin.CreateTestContext(recorder)
			ctx.Request = httptest.NewRequest(http.MethodGet, "/sync/status", http.NoBody)
			ctx.Request.Header.Set("Authorization", "Bearer some-token")

			core, logs := observer.New(zapcore.DebugLevel)
			handler := &httpHandler{
				logger:   zap.New(core),
				sessions: stubValidator{err: tc.validateErr},
			}

			handler.authorizeRequest(ctx)

			require.Equal(t, http.StatusUnauthorized, recorder.Code)
			entries := logs.All()
			require.Len(t, entries, 1)
			require.Equal(t, tc.wantLevel, entries[0].Level)
			require.Equal(t, "token validation failed", entries[0].Message)
		})
	}
}

type stubValidator struct {
	err error
}

func (s stubValidator) Validate(string) (string, error) {
	return "", s.err
}

func TestCORS(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/sync/trigger", http.NoBody)
	req.Header.Set("Origin", testUIBaseURL)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, testUIBaseURL, rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)

	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestParseLimit(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		value   string
		want    int
		wantErr bool
	}{
		"empty":    {value: "", want: 20},
		"explicit": {value: "5", want: 5},
		"capped":   {value: "500", want: 100},
		"zero":     {value: "0", wantErr: true},
		"negative": {value: "-3", wantErr: true},
		"not int":  {value: "ten", wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got, err := parseLimit(tc.value)

			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

var errBoom = errors.New("boom")
