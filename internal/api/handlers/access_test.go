package handlers

import (
	"errors"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weatherdesk/internal/core"
	"weatherdesk/internal/types"
)

func newAccessHarness(t *testing.T, dir *fakeDirectory) *harness {
	t.Helper()
	return newHarness(t, func(s *core.Server) []func(chi.Router) {
		return []func(chi.Router){
			NewAccessHandler(managersFor(dir), s, s, s.Validator, testLogger()).RegisterRoutes,
		}
	})
}

func TestAccessStatus(t *testing.T) {
	dir := newFakeDirectory(directoryUsers()...)
	h := newAccessHarness(t, dir)

	tests := []struct {
		id         types.Identity
		status     types.AccessStatus
		canPredict bool
	}{
		{aliceID, types.AccessPending, false},
		{bobID, types.AccessApproved, true},
		{carolID, types.AccessNone, false},
	}
	for _, tt := range tests {
		t.Run(tt.id.Username, func(t *testing.T) {
			rec := h.do(h.signIn(t, tt.id), http.MethodGet, "/v1/access/status", "")
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			var got AccessStatusResponse
			decodeData(t, rec, &got)
			assert.Equal(t, AccessStatusResponse{Username: tt.id.Username, Status: tt.status, CanPredict: tt.canPredict}, got)
		})
	}
}

func TestAccessStatus_RoleGate(t *testing.T) {
	h := newAccessHarness(t, newFakeDirectory(directoryUsers()...))

	rec := h.do(h.signIn(t, debuggerID), http.MethodGet, "/v1/access/status", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, string(types.ErrCodePermissionRole), errorCode(t, rec))

	rec = h.do(anonymous, http.MethodGet, "/v1/access/status", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequestAccess(t *testing.T) {
	dir := newFakeDirectory(directoryUsers()...)
	h := newAccessHarness(t, dir)
	carol := h.signIn(t, carolID)

	rec := h.do(carol, http.MethodPost, "/v1/access/request", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got AccessStatusResponse
	decodeData(t, rec, &got)
	assert.Equal(t, types.AccessPending, got.Status)

	rec = h.do(carol, http.MethodPost, "/v1/access/request", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(types.ErrCodeConflictAccessRequested), errorCode(t, rec))

	rec = h.do(h.signIn(t, bobID), http.MethodPost, "/v1/access/request", "")
	assert.Equal(t, string(types.ErrCodeConflictAccessApproved), errorCode(t, rec))
}

func TestRevokeOwn_NeedsConfirmation(t *testing.T) {
	dir := newFakeDirectory(directoryUsers()...)
	h := newAccessHarness(t, dir)
	bob := h.signIn(t, bobID)

	rec := h.do(bob, http.MethodPost, "/v1/access/revoke", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, string(types.ErrCodeConfirmationDeclined), errorCode(t, rec))
	assert.False(t, dir.called("RevokeAccess"))

	rec = h.do(bob, http.MethodPost, "/v1/access/revoke?confirm=true", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got AccessStatusResponse
	decodeData(t, rec, &got)
	assert.Equal(t, types.AccessNone, got.Status)
	assert.False(t, got.CanPredict)

	rec = h.do(bob, http.MethodPost, "/v1/access/revoke?confirm=true", "")
	assert.Equal(t, string(types.ErrCodeConflictAccessNotActive), errorCode(t, rec))
}

func TestAdminListUsers(t *testing.T) {
	h := newAccessHarness(t, newFakeDirectory(directoryUsers()...))

	rec := h.do(h.signIn(t, adminID), http.MethodGet, "/v1/admin/users", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got UsersResponse
	decodeData(t, rec, &got)
	assert.Len(t, got.Users, 5)
	assert.Equal(t, []string{"alice"}, got.Pending)

	rec = h.do(h.signIn(t, aliceID), http.MethodGet, "/v1/admin/users", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminApprove(t *testing.T) {
	dir := newFakeDirectory(directoryUsers()...)
	h := newAccessHarness(t, dir)
	admin := h.signIn(t, adminID)

	rec := h.do(admin, http.MethodPost, "/v1/admin/users/alice/approve", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got UsersResponse
	decodeData(t, rec, &got)
	assert.Empty(t, got.Pending)
	for _, u := range got.Users {
		if u.Username == "alice" {
			assert.True(t, u.HasLLMAccess)
		}
	}

	rec = h.do(admin, http.MethodPost, "/v1/admin/users/alice/approve", "")
	assert.Equal(t, string(types.ErrCodeConflictAccessApproved), errorCode(t, rec))

	rec = h.do(admin, http.MethodPost, "/v1/admin/users/ghost/approve", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminToggle(t *testing.T) {
	dir := newFakeDirectory(directoryUsers()...)
	h := newAccessHarness(t, dir)
	admin := h.signIn(t, adminID)

	rec := h.do(admin, http.MethodPut, "/v1/admin/users/carol/access", `{"access":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(admin, http.MethodPut, "/v1/admin/users/alice/access", `{"access":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var got UsersResponse
	decodeData(t, rec, &got)
	assert.Empty(t, got.Pending, "turning access off clears the request")

	rec = h.do(admin, http.MethodPut, "/v1/admin/users/carol/access", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(types.ErrCodeValidationMissingField), errorCode(t, rec))
}

func TestAdminRevoke(t *testing.T) {
	dir := newFakeDirectory(directoryUsers()...)
	h := newAccessHarness(t, dir)
	admin := h.signIn(t, adminID)

	rec := h.do(admin, http.MethodPost, "/v1/admin/users/bob/revoke?confirm=true", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, dir.called("RevokeAccess"))

	rec = h.do(admin, http.MethodPost, "/v1/admin/users/carol/revoke?confirm=true", "")
	assert.Equal(t, string(types.ErrCodeConflictAccessNotActive), errorCode(t, rec))
}

func TestAdminMutation_DirectoryFailure(t *testing.T) {
	dir := newFakeDirectory(directoryUsers()...)
	dir.failOn["ToggleAccess"] = types.NewAppError(types.ErrCodeUpstreamDirectory, "directory unavailable", errors.New("boom"))
	h := newAccessHarness(t, dir)

	rec := h.do(h.signIn(t, adminID), http.MethodPost, "/v1/admin/users/alice/approve", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, string(types.ErrCodeUpstreamDirectory), errorCode(t, rec))
}

func TestDeleteUser_Self(t *testing.T) {
	dir := newFakeDirectory(directoryUsers()...)
	h := newAccessHarness(t, dir)
	carol := h.signIn(t, carolID)

	rec := h.do(carol, http.MethodDelete, "/v1/users/carol", "")
	assert.Equal(t, string(types.ErrCodeConfirmationDeclined), errorCode(t, rec))

	rec = h.do(carol, http.MethodDelete, "/v1/users/carol?confirm=true", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Negative(t, cookies[0].MaxAge)

	rec = h.do(carol, http.MethodGet, "/v1/access/status", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "the session ended with the account")
}

func TestDeleteUser_Rules(t *testing.T) {
	dir := newFakeDirectory(directoryUsers()...)
	h := newAccessHarness(t, dir)
	admin := h.signIn(t, adminID)

	rec := h.do(h.signIn(t, aliceID), http.MethodDelete, "/v1/users/bob?confirm=true", "")
	assert.Equal(t, string(types.ErrCodePermissionRole), errorCode(t, rec))

	for _, target := range []string{"root", "dbg"} {
		rec = h.do(admin, http.MethodDelete, "/v1/users/"+target+"?confirm=true", "")
		assert.Equal(t, string(types.ErrCodePermissionProtected), errorCode(t, rec), target)
	}
	assert.False(t, dir.called("DeleteUser"))

	rec = h.do(admin, http.MethodDelete, "/v1/users/bob?confirm=true", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Result().Cookies(), "deleting someone else keeps the admin signed in")
	assert.True(t, dir.called("DeleteUser"))
}
