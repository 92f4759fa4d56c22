package gcloud

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/cloudresourcemanager/v1"
	"google.golang.org/api/googleapi"
)

func TestParseFreshness(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "", want: 0},
		{in: "400d", want: 400 * 24 * time.Hour},
		{in: "12h", want: 12 * time.Hour},
		{in: "30m", want: 30 * time.Minute},
		{in: "xd", wantErr: true},
		{in: "-1d", wantErr: true},
		{in: "soon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFreshness(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSortNewestFirst(t *testing.T) {
	projects := []Project{
		{ID: "old", CreateTime: "2019-03-01T00:00:00Z"},
		{ID: "new", CreateTime: "2024-03-01T00:00:00.5Z"},
		{ID: "mid", CreateTime: "2021-03-01T00:00:00.123Z"},
	}

	SortNewestFirst(projects)

	ids := []string{projects[0].ID, projects[1].ID, projects[2].ID}
	assert.Equal(t, []string{"new", "mid", "old"}, ids)
}

func TestMembersOf(t *testing.T) {
	policy := &cloudresourcemanager.Policy{
		Bindings: []*cloudresourcemanager.Binding{
			{Role: "roles/viewer", Members: []string{"user:v@x.com"}},
			{Role: OwnerRole, Members: []string{"user:a@x.com", "serviceAccount:svc@x.iam"}},
			{Role: OwnerRole, Members: []string{"user:temp@x.com"}, Condition: &cloudresourcemanager.Expr{Expression: "request.time < timestamp('2020-01-01T00:00:00Z')"}},
		},
	}

	assert.Equal(t, []string{"user:a@x.com", "serviceAccount:svc@x.iam"}, membersOf(policy, OwnerRole))
	assert.Empty(t, membersOf(&cloudresourcemanager.Policy{}, OwnerRole))
}

func TestAddMember(t *testing.T) {
	t.Run("new binding", func(t *testing.T) {
		policy := &cloudresourcemanager.Policy{}
		assert.True(t, addMember(policy, LogViewerRole, "user:a@x.com"))
		require.Len(t, policy.Bindings, 1)
		assert.Equal(t, []string{"user:a@x.com"}, policy.Bindings[0].Members)
	})

	t.Run("existing binding", func(t *testing.T) {
		policy := &cloudresourcemanager.Policy{
			Bindings: []*cloudresourcemanager.Binding{{Role: LogViewerRole, Members: []string{"user:b@x.com"}}},
		}
		assert.True(t, addMember(policy, LogViewerRole, "user:a@x.com"))
		assert.Equal(t, []string{"user:b@x.com", "user:a@x.com"}, policy.Bindings[0].Members)
	})

	t.Run("already present", func(t *testing.T) {
		policy := &cloudresourcemanager.Policy{
			Bindings: []*cloudresourcemanager.Binding{{Role: LogViewerRole, Members: []string{"user:a@x.com"}}},
		}
		assert.False(t, addMember(policy, LogViewerRole, "user:a@x.com"))
	})
}

func TestPrincipalEmail(t *testing.T) {
	raw := googleapi.RawMessage(`{"@type":"type.googleapis.com/google.cloud.audit.AuditLog","authenticationInfo":{"principalEmail":"alice@example.com"},"methodName":"CreateProject"}`)

	email, err := principalEmail(raw)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", email)

	email, err = principalEmail(nil)
	require.NoError(t, err)
	assert.Empty(t, email)

	_, err = principalEmail(googleapi.RawMessage(`{`))
	assert.Error(t, err)
}

func TestClassifyAPIError(t *testing.T) {
	denied := &googleapi.Error{Code: http.StatusForbidden, Message: "The caller does not have permission"}
	assert.ErrorIs(t, classifyAPIError(denied), ErrPermissionDenied)

	disabledForbidden := &googleapi.Error{
		Code:    http.StatusForbidden,
		Message: "Cloud Logging API has not been used in project 42 before or it is disabled.",
		Errors:  []googleapi.ErrorItem{{Reason: "accessNotConfigured"}},
	}
	got := classifyAPIError(disabledForbidden)
	assert.ErrorIs(t, got, ErrPermissionDenied)
	assert.NotErrorIs(t, got, ErrAPIDisabled)

	disabled := &googleapi.Error{
		Code:    http.StatusBadRequest,
		Message: "Cloud Logging API has not been used in project 42 before or it is disabled.",
		Errors:  []googleapi.ErrorItem{{Reason: "SERVICE_DISABLED"}},
	}
	assert.ErrorIs(t, classifyAPIError(disabled), ErrAPIDisabled)

	notFound := &googleapi.Error{Code: http.StatusNotFound, Message: "not found"}
	got = classifyAPIError(notFound)
	assert.NotErrorIs(t, got, ErrPermissionDenied)
	assert.Same(t, notFound, got)

	plain := errors.New("dial tcp: timeout")
	assert.Equal(t, plain, classifyAPIError(plain))
}
