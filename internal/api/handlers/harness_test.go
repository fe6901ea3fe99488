package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"weatherdesk/internal/access"
	"weatherdesk/internal/config"
	"weatherdesk/internal/core"
	"weatherdesk/internal/policy"
	"weatherdesk/internal/session"
	"weatherdesk/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testPolicy = policy.MustNew()

// harness is a fully wired server with the domain handlers under test.
type harness struct {
	server  *core.Server
	backend *session.MemoryBackend
}

func newHarness(t *testing.T, register func(s *core.Server) []func(chi.Router)) *harness {
	t.Helper()
	cfg := &config.Config{
		Service:     "weatherdesk",
		Environment: "local",
		Server:      config.ServerConfig{RequestTimeout: 5 * time.Second},
		Session:     config.SessionConfig{CookieName: "wd", TTL: time.Hour},
	}
	backend := session.NewMemoryBackend()
	s, err := core.NewServer(cfg, backend, testPolicy, testLogger())
	require.NoError(t, err)

	s.V1RouteRegistrars = register(s)
	s.MountRoutes()
	return &harness{server: s, backend: backend}
}

// client carries one browser's cookie and CSRF token.
type client struct {
	cookie *http.Cookie
	csrf   string
}

var anonymous = client{}

// signIn seeds a session for id directly in the backend.
func (h *harness) signIn(t *testing.T, id types.Identity) client {
	t.Helper()
	token, store := h.server.NewSessionStore()
	_, err := session.Begin(context.Background(), store, id)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	csrf, err := h.server.IssueSession(rec, httptest.NewRequest(http.MethodPost, "/", nil), token, store)
	require.NoError(t, err)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	return client{cookie: cookies[0], csrf: csrf}
}

func (h *harness) do(c client, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	if c.csrf != "" {
		req.Header.Set("X-CSRF-Token", c.csrf)
	}
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body core.APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Error.Code
}

// decodeData unmarshals the "data" member of a success envelope into dst
// and returns the raw meta.
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) *types.ResponseMeta {
	t.Helper()
	var env struct {
		Data json.RawMessage     `json:"data"`
		Meta *types.ResponseMeta `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	if dst != nil {
		require.NoError(t, json.Unmarshal(env.Data, dst))
	}
	return env.Meta
}

// fakeDirectory is an in-memory directory service that keeps the same flags
// the real one does.
type fakeDirectory struct {
	mu      sync.Mutex
	users   []types.UserRecord
	pending []string
	calls   []string
	failOn  map[string]error
	audit   []types.AuditEntry
}

func newFakeDirectory(users ...types.UserRecord) *fakeDirectory {
	d := &fakeDirectory{failOn: map[string]error{}}
	for _, u := range users {
		d.users = append(d.users, u)
		if u.AccessRequested && !u.HasLLMAccess {
			d.pending = append(d.pending, u.Username)
		}
	}
	return d
}

func (d *fakeDirectory) record(op string) error {
	d.calls = append(d.calls, op)
	return d.failOn[op]
}

func (d *fakeDirectory) find(username string) int {
	return slices.IndexFunc(d.users, func(u types.UserRecord) bool { return u.Username == username })
}

func (d *fakeDirectory) ListUsers(context.Context) ([]types.UserRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("ListUsers"); err != nil {
		return nil, err
	}
	return slices.Clone(d.users), nil
}

func (d *fakeDirectory) ListPending(context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("ListPending"); err != nil {
		return nil, err
	}
	return slices.Clone(d.pending), nil
}

func (d *fakeDirectory) AccessStatus(_ context.Context, username string) (types.AccessStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("AccessStatus"); err != nil {
		return "", err
	}
	if i := d.find(username); i >= 0 {
		return d.users[i].Status(), nil
	}
	return types.AccessNone, nil
}

func (d *fakeDirectory) RequestAccess(_ context.Context, username string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("RequestAccess"); err != nil {
		return err
	}
	if i := d.find(username); i >= 0 {
		d.users[i].AccessRequested = true
		d.pending = append(d.pending, username)
	}
	return nil
}

func (d *fakeDirectory) RevokeAccess(_ context.Context, username string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("RevokeAccess"); err != nil {
		return err
	}
	if i := d.find(username); i >= 0 {
		d.users[i].HasLLMAccess = false
		d.users[i].AccessRequested = false
	}
	d.pending = slices.DeleteFunc(d.pending, func(n string) bool { return n == username })
	return nil
}

func (d *fakeDirectory) ToggleAccess(_ context.Context, username string, on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("ToggleAccess"); err != nil {
		return err
	}
	if i := d.find(username); i >= 0 {
		d.users[i].HasLLMAccess = on
	}
	d.pending = slices.DeleteFunc(d.pending, func(n string) bool { return n == username })
	return nil
}

func (d *fakeDirectory) DeleteUser(_ context.Context, username string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("DeleteUser"); err != nil {
		return err
	}
	d.users = slices.DeleteFunc(d.users, func(u types.UserRecord) bool { return u.Username == username })
	d.pending = slices.DeleteFunc(d.pending, func(n string) bool { return n == username })
	return nil
}

func (d *fakeDirectory) AuditLogs(context.Context) ([]types.AuditEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("AuditLogs"); err != nil {
		return nil, err
	}
	return slices.Clone(d.audit), nil
}

func (d *fakeDirectory) called(op string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Contains(d.calls, op)
}

func managersFor(dir access.Directory) AccessFactory {
	return func(sess *session.Session, confirm access.Confirmer) *access.Manager {
		return access.NewManager(dir, sess, testPolicy, confirm, nil, testLogger())
	}
}

// directoryUsers is the standard account set: an admin, a debugger and one
// user in each access state.
func directoryUsers() []types.UserRecord {
	return []types.UserRecord{
		{Username: "root", Role: types.RoleAdmin},
		{Username: "dbg", Role: types.RoleDebugger},
		{Username: "alice", Role: types.RoleUser, AccessRequested: true},
		{Username: "bob", Role: types.RoleUser, HasLLMAccess: true, AccessRequested: true},
		{Username: "carol", Role: types.RoleUser},
	}
}

var (
	adminID    = types.Identity{Username: "root", Role: types.RoleAdmin}
	debuggerID = types.Identity{Username: "dbg", Role: types.RoleDebugger}
	aliceID    = types.Identity{Username: "alice", Role: types.RoleUser}
	bobID      = types.Identity{Username: "bob", Role: types.RoleUser}
	carolID    = types.Identity{Username: "carol", Role: types.RoleUser}
)
