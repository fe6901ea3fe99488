package access

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"weatherdesk/internal/policy"
	"weatherdesk/internal/session"
	"weatherdesk/internal/types"
)

// --- Mock Directory ---

type mockDirectory struct {
	mock.Mock
}

func (m *mockDirectory) ListUsers(ctx context.Context) ([]types.UserRecord, error) {
	args := m.Called(ctx)
	if u := args.Get(0); u != nil {
		return u.([]types.UserRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDirectory) ListPending(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if p := args.Get(0); p != nil {
		return p.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDirectory) AccessStatus(ctx context.Context, username string) (types.AccessStatus, error) {
	args := m.Called(ctx, username)
	return args.Get(0).(types.AccessStatus), args.Error(1)
}

func (m *mockDirectory) RequestAccess(ctx context.Context, username string) error {
	return m.Called(ctx, username).Error(0)
}

func (m *mockDirectory) RevokeAccess(ctx context.Context, username string) error {
	return m.Called(ctx, username).Error(0)
}

func (m *mockDirectory) ToggleAccess(ctx context.Context, username string, access bool) error {
	return m.Called(ctx, username, access).Error(0)
}

func (m *mockDirectory) DeleteUser(ctx context.Context, username string) error {
	return m.Called(ctx, username).Error(0)
}

// --- Recording publisher ---

type recordingPublisher struct {
	events []types.AccessEvent
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, evt types.AccessEvent) error {
	r.events = append(r.events, evt)
	return r.err
}

var testPolicy = policy.MustNew()

var directoryDown = types.NewAppError(types.ErrCodeUpstreamDirectory, "directory unavailable", nil)

type fixture struct {
	dir    *mockDirectory
	store  *session.MemoryStore
	sess   *session.Session
	events *recordingPublisher
	mgr    *Manager
}

func newFixture(t *testing.T, id types.Identity, confirm Confirmer) *fixture {
	t.Helper()
	store := session.NewMemoryStore()
	sess, err := session.Begin(context.Background(), store, id)
	require.NoError(t, err)

	dir := new(mockDirectory)
	events := &recordingPublisher{}
	return &fixture{
		dir:    dir,
		store:  store,
		sess:   sess,
		events: events,
		mgr:    NewManager(dir, sess, testPolicy, confirm, events, nil),
	}
}

var (
	alice = types.Identity{Username: "alice", Role: types.RoleUser}
	root  = types.Identity{Username: "root", Role: types.RoleAdmin}
	debug = types.Identity{Username: "dbg", Role: types.RoleDebugger}
)

func adminUsers() []types.UserRecord {
	return []types.UserRecord{
		{Username: "root", Role: types.RoleAdmin, HasLLMAccess: true},
		{Username: "dbg", Role: types.RoleDebugger},
		{Username: "alice", Role: types.RoleUser, AccessRequested: true},
		{Username: "bob", Role: types.RoleUser, HasLLMAccess: true},
		{Username: "carol", Role: types.RoleUser},
	}
}

func newAdminFixture(t *testing.T, confirm Confirmer) *fixture {
	t.Helper()
	f := newFixture(t, root, confirm)
	f.dir.On("ListUsers", mock.Anything).Return(adminUsers(), nil).Once()
	f.dir.On("ListPending", mock.Anything).Return([]string{"alice"}, nil).Once()
	require.NoError(t, f.mgr.Load(context.Background()))
	return f
}

func findUser(users []types.UserRecord, name string) (types.UserRecord, bool) {
	for _, u := range users {
		if u.Username == name {
			return u, true
		}
	}
	return types.UserRecord{}, false
}

func TestLoad_User(t *testing.T) {
	f := newFixture(t, alice, nil)
	f.dir.On("AccessStatus", mock.Anything, "alice").Return(types.AccessApproved, nil)

	require.NoError(t, f.mgr.Load(context.Background()))
	assert.Equal(t, types.AccessApproved, f.mgr.Status())
	f.dir.AssertNotCalled(t, "ListUsers", mock.Anything)
}

func TestLoad_AdminReconcilesPending(t *testing.T) {
	f := newFixture(t, root, nil)
	f.dir.On("ListUsers", mock.Anything).Return(adminUsers(), nil)
	// bob is already approved and ghost no longer exists; neither may show as pending.
	f.dir.On("ListPending", mock.Anything).Return([]string{"alice", "bob", "ghost", "alice"}, nil)

	require.NoError(t, f.mgr.Load(context.Background()))
	assert.Len(t, f.mgr.Users(), 5)
	assert.Equal(t, []string{"alice"}, f.mgr.Pending())
}

func TestLoad_AdminFailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, root, nil)
	f.dir.On("ListUsers", mock.Anything).Return(nil, directoryDown)
	f.dir.On("ListPending", mock.Anything).Return([]string{"alice"}, nil)

	err := f.mgr.Load(context.Background())
	assert.Equal(t, types.ErrCodeUpstreamDirectory, types.CodeOf(err))
	assert.Empty(t, f.mgr.Users())
	assert.Empty(t, f.mgr.Pending())
}

func TestLoad_DebuggerMakesNoCalls(t *testing.T) {
	f := newFixture(t, debug, nil)
	require.NoError(t, f.mgr.Load(context.Background()))
	f.dir.AssertExpectations(t)
	assert.Empty(t, f.dir.Calls)
}

func TestRequestAccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, alice, nil)
	f.dir.On("AccessStatus", mock.Anything, "alice").Return(types.AccessNone, nil).Once()
	f.dir.On("RequestAccess", mock.Anything, "alice").Return(nil).Once()

	require.NoError(t, f.mgr.RequestAccess(ctx))
	assert.Equal(t, types.AccessPending, f.mgr.Status())
	require.Len(t, f.events.events, 1)
	assert.Equal(t, types.ActionAccessRequested, f.events.events[0].Action)
	assert.Equal(t, alice, f.events.events[0].Actor)

	// A second request is refused locally without touching the directory.
	err := f.mgr.RequestAccess(ctx)
	assert.Equal(t, types.ErrCodeConflictAccessRequested, types.CodeOf(err))
	f.dir.AssertNumberOfCalls(t, "RequestAccess", 1)
}

func TestRequestAccess_AlreadyApproved(t *testing.T) {
	f := newFixture(t, alice, nil)
	f.dir.On("AccessStatus", mock.Anything, "alice").Return(types.AccessApproved, nil)

	err := f.mgr.RequestAccess(context.Background())
	assert.Equal(t, types.ErrCodeConflictAccessApproved, types.CodeOf(err))
	f.dir.AssertNotCalled(t, "RequestAccess", mock.Anything, mock.Anything)
}

func TestRequestAccess_RemoteFailureKeepsStatus(t *testing.T) {
	f := newFixture(t, alice, nil)
	f.dir.On("AccessStatus", mock.Anything, "alice").Return(types.AccessNone, nil)
	f.dir.On("RequestAccess", mock.Anything, "alice").Return(directoryDown)

	err := f.mgr.RequestAccess(context.Background())
	assert.Equal(t, types.ErrCodeUpstreamDirectory, types.CodeOf(err))
	assert.Equal(t, types.AccessNone, f.mgr.Status())
	assert.Empty(t, f.events.events)
}

func TestRequestAccess_RoleGuard(t *testing.T) {
	for _, id := range []types.Identity{root, debug} {
		t.Run(string(id.Role), func(t *testing.T) {
			f := newFixture(t, id, nil)
			err := f.mgr.RequestAccess(context.Background())
			assert.Equal(t, types.ErrCodePermissionRole, types.CodeOf(err))
			assert.Empty(t, f.dir.Calls)
		})
	}
}

func TestApprove(t *testing.T) {
	f := newAdminFixture(t, nil)
	f.dir.On("ToggleAccess", mock.Anything, "alice", true).Return(nil).Once()

	require.NoError(t, f.mgr.Approve(context.Background(), "alice"))

	rec, ok := findUser(f.mgr.Users(), "alice")
	require.True(t, ok)
	assert.True(t, rec.HasLLMAccess)
	assert.Equal(t, types.AccessApproved, rec.Status())
	assert.NotContains(t, f.mgr.Pending(), "alice")
	require.Len(t, f.events.events, 1)
	assert.Equal(t, types.ActionAccessApproved, f.events.events[0].Action)
}

func TestApprove_Errors(t *testing.T) {
	tests := []struct {
		name   string
		target string
		want   types.ErrorCode
	}{
		{"already approved", "bob", types.ErrCodeConflictAccessApproved},
		{"unknown user", "ghost", types.ErrCodeNotFoundUser},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAdminFixture(t, nil)
			err := f.mgr.Approve(context.Background(), tt.target)
			assert.Equal(t, tt.want, types.CodeOf(err))
			f.dir.AssertNotCalled(t, "ToggleAccess", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestApprove_RemoteFailureLeavesAggregate(t *testing.T) {
	f := newAdminFixture(t, nil)
	f.dir.On("ToggleAccess", mock.Anything, "alice", true).Return(directoryDown)

	err := f.mgr.Approve(context.Background(), "alice")
	require.Error(t, err)

	rec, _ := findUser(f.mgr.Users(), "alice")
	assert.False(t, rec.HasLLMAccess)
	assert.Equal(t, []string{"alice"}, f.mgr.Pending())
	assert.Empty(t, f.events.events)
}

func TestApprove_UserRoleDenied(t *testing.T) {
	f := newFixture(t, alice, nil)
	err := f.mgr.Approve(context.Background(), "carol")
	assert.Equal(t, types.ErrCodePermissionRole, types.CodeOf(err))
}

func TestRevoke_Self(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, alice, Confirmed(true))
	f.dir.On("AccessStatus", mock.Anything, "alice").Return(types.AccessApproved, nil)
	f.dir.On("RevokeAccess", mock.Anything, "alice").Return(nil).Once()

	require.NoError(t, f.mgr.Revoke(ctx, "alice"))
	assert.Equal(t, types.AccessNone, f.mgr.Status())

	ok, err := f.mgr.CanPredict(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRevoke_SelfNotApproved(t *testing.T) {
	f := newFixture(t, alice, Confirmed(true))
	f.dir.On("AccessStatus", mock.Anything, "alice").Return(types.AccessPending, nil)

	err := f.mgr.Revoke(context.Background(), "alice")
	assert.Equal(t, types.ErrCodeConflictAccessNotActive, types.CodeOf(err))
	f.dir.AssertNotCalled(t, "RevokeAccess", mock.Anything, mock.Anything)
}

func TestRevoke_UserCannotRevokeOthers(t *testing.T) {
	f := newFixture(t, alice, Confirmed(true))
	err := f.mgr.Revoke(context.Background(), "bob")
	assert.Equal(t, types.ErrCodePermissionRole, types.CodeOf(err))
	assert.Empty(t, f.dir.Calls)
}

func TestRevoke_Declined(t *testing.T) {
	f := newAdminFixture(t, Confirmed(false))

	err := f.mgr.Revoke(context.Background(), "bob")
	assert.Equal(t, types.ErrCodeConfirmationDeclined, types.CodeOf(err))
	f.dir.AssertNotCalled(t, "RevokeAccess", mock.Anything, mock.Anything)

	rec, _ := findUser(f.mgr.Users(), "bob")
	assert.True(t, rec.HasLLMAccess)
}

func TestRevoke_AdminUpdatesAggregate(t *testing.T) {
	var prompt string
	confirm := ConfirmFunc(func(_ context.Context, p string) (bool, error) {
		prompt = p
		return true, nil
	})
	f := newAdminFixture(t, confirm)
	f.dir.On("RevokeAccess", mock.Anything, "bob").Return(nil)

	require.NoError(t, f.mgr.Revoke(context.Background(), "bob"))
	assert.Contains(t, prompt, "bob")

	rec, _ := findUser(f.mgr.Users(), "bob")
	assert.False(t, rec.HasLLMAccess)
	assert.Equal(t, types.AccessNone, rec.Status())
}

func TestRevoke_ConfirmerError(t *testing.T) {
	confirm := ConfirmFunc(func(context.Context, string) (bool, error) {
		return false, errors.New("stdin closed")
	})
	f := newAdminFixture(t, confirm)

	err := f.mgr.Revoke(context.Background(), "bob")
	assert.Equal(t, types.ErrCodeInternalUnexpected, types.CodeOf(err))
}

func TestToggleAccess(t *testing.T) {
	ctx := context.Background()
	f := newAdminFixture(t, nil)
	f.dir.On("ToggleAccess", mock.Anything, "carol", true).Return(nil)
	f.dir.On("RevokeAccess", mock.Anything, "alice").Return(nil)

	require.NoError(t, f.mgr.ToggleAccess(ctx, "carol", true))
	rec, _ := findUser(f.mgr.Users(), "carol")
	assert.Equal(t, types.AccessApproved, rec.Status())

	// Turning a pending account off clears the request as well.
	require.NoError(t, f.mgr.ToggleAccess(ctx, "alice", false))
	rec, _ = findUser(f.mgr.Users(), "alice")
	assert.Equal(t, types.AccessNone, rec.Status())
	assert.Empty(t, f.mgr.Pending())
	f.dir.AssertNotCalled(t, "ToggleAccess", mock.Anything, "alice", false)
}

func TestDeleteUser_Self(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, alice, Confirmed(true))
	f.dir.On("DeleteUser", mock.Anything, "alice").Return(nil)

	require.NoError(t, f.mgr.DeleteUser(ctx, "alice"))
	assert.False(t, f.sess.Active())

	_, err := session.Load(ctx, f.store)
	assert.ErrorIs(t, err, session.ErrNoSession)
	require.Len(t, f.events.events, 1)
	assert.Equal(t, types.ActionUserDeleted, f.events.events[0].Action)
}

func TestDeleteUser_SelfRemoteFailureKeepsSession(t *testing.T) {
	f := newFixture(t, alice, Confirmed(true))
	f.dir.On("DeleteUser", mock.Anything, "alice").Return(directoryDown)

	require.Error(t, f.mgr.DeleteUser(context.Background(), "alice"))
	assert.True(t, f.sess.Active())
}

func TestDeleteUser_Admin(t *testing.T) {
	f := newAdminFixture(t, Confirmed(true))
	f.dir.On("DeleteUser", mock.Anything, "alice").Return(nil)

	require.NoError(t, f.mgr.DeleteUser(context.Background(), "alice"))
	_, ok := findUser(f.mgr.Users(), "alice")
	assert.False(t, ok)
	assert.Empty(t, f.mgr.Pending())
	assert.True(t, f.sess.Active(), "deleting someone else keeps the admin signed in")
}

func TestDeleteUser_Protected(t *testing.T) {
	for _, target := range []string{"root", "dbg"} {
		t.Run(target, func(t *testing.T) {
			f := newAdminFixture(t, Confirmed(true))
			err := f.mgr.DeleteUser(context.Background(), target)
			assert.Equal(t, types.ErrCodePermissionProtected, types.CodeOf(err))
			f.dir.AssertNotCalled(t, "DeleteUser", mock.Anything, mock.Anything)
		})
	}
}

func TestDeleteUser_DebuggerDenied(t *testing.T) {
	f := newFixture(t, debug, Confirmed(true))
	err := f.mgr.DeleteUser(context.Background(), "dbg")
	assert.Equal(t, types.ErrCodePermissionRole, types.CodeOf(err))
}

func TestDeleteUser_NilConfirmerDeclines(t *testing.T) {
	f := newFixture(t, alice, nil)
	err := f.mgr.DeleteUser(context.Background(), "alice")
	assert.Equal(t, types.ErrCodeConfirmationDeclined, types.CodeOf(err))
	assert.True(t, f.sess.Active())
}

func TestCanPredict(t *testing.T) {
	tests := []struct {
		name   string
		id     types.Identity
		status types.AccessStatus
		want   bool
	}{
		{"admin", root, "", true},
		{"debugger", debug, "", false},
		{"approved user", alice, types.AccessApproved, true},
		{"pending user", alice, types.AccessPending, false},
		{"none user", alice, types.AccessNone, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.id, nil)
			if tt.id.Role == types.RoleUser {
				f.dir.On("AccessStatus", mock.Anything, "alice").Return(tt.status, nil)
			}
			ok, err := f.mgr.CanPredict(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)

			err = f.mgr.RequirePredict(context.Background())
			if tt.want {
				assert.NoError(t, err)
			} else {
				assert.Equal(t, types.ErrCodePermissionFeature, types.CodeOf(err))
			}
		})
	}
}

func TestPublishFailureDoesNotFailMutation(t *testing.T) {
	f := newFixture(t, alice, nil)
	f.events.err = errors.New("queue down")
	f.dir.On("AccessStatus", mock.Anything, "alice").Return(types.AccessNone, nil)
	f.dir.On("RequestAccess", mock.Anything, "alice").Return(nil)

	require.NoError(t, f.mgr.RequestAccess(context.Background()))
	assert.Equal(t, types.AccessPending, f.mgr.Status())
}
