package gcloud

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/cloudresourcemanager/v1"
	logging "google.golang.org/api/logging/v2"
	"google.golang.org/api/option"

	"github.com/yairfalse/projaudit/internal/logger"
)

// apiRecorder collects requests served by a test endpoint.
type apiRecorder struct {
	mu    sync.Mutex
	calls []*http.Request
	sets  []*cloudresourcemanager.SetIamPolicyRequest
}

func (r *apiRecorder) record(req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, req)
}

func (r *apiRecorder) paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var paths []string
	for _, c := range r.calls {
		paths = append(paths, c.Method+" "+c.URL.Path)
	}
	return paths
}

func newTestAPIClient(t *testing.T, handler http.HandlerFunc) *APIClient {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := newAPIClient(context.Background(), logger.NewNop(), 30*24*time.Hour,
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"}),
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	client.now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }
	return client
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, status int, reason, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    status,
			"message": message,
			"errors":  []map[string]string{{"reason": reason, "message": message}},
		},
	})
}

func TestAPIClient_ActiveAccount(t *testing.T) {
	var gotToken string
	client := newTestAPIClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/oauth2/v2/tokeninfo", r.URL.Path)
		gotToken = r.URL.Query().Get("access_token")
		writeJSON(w, http.StatusOK, map[string]string{"email": "alice@example.com"})
	})

	account, err := client.ActiveAccount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", account)
	assert.Equal(t, "test-token", gotToken)
}

func TestAPIClient_ActiveAccountWithoutEmail(t *testing.T) {
	client := newTestAPIClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"audience": "x"})
	})

	_, err := client.ActiveAccount(context.Background())
	assert.ErrorIs(t, err, ErrNoActiveAccount)
}

func TestAPIClient_ListProjectsPaginates(t *testing.T) {
	rec := &apiRecorder{}
	client := newTestAPIClient(t, func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		assert.Equal(t, "/v1/projects", r.URL.Path)

		if r.URL.Query().Get("pageToken") == "" {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"projects":      []map[string]string{{"projectId": "old", "createTime": "2020-01-01T00:00:00.000Z"}},
				"nextPageToken": "page-2",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"projects": []map[string]string{
				{"projectId": "new", "createTime": "2024-01-01T00:00:00.000Z"},
				{"projectId": "mid", "createTime": "2022-01-01T00:00:00.000Z"},
			},
		})
	})

	projects, err := client.ListProjects(context.Background(), "123456")
	require.NoError(t, err)

	assert.Equal(t, []Project{
		{ID: "new", CreateTime: "2024-01-01T00:00:00.000Z"},
		{ID: "mid", CreateTime: "2022-01-01T00:00:00.000Z"},
		{ID: "old", CreateTime: "2020-01-01T00:00:00.000Z"},
	}, projects)

	require.Len(t, rec.calls, 2)
	filter := rec.calls[0].URL.Query().Get("filter")
	assert.Contains(t, filter, "parent.type:organization")
	assert.Contains(t, filter, "parent.id:123456")
	assert.Equal(t, "page-2", rec.calls[1].URL.Query().Get("pageToken"))
}

func TestAPIClient_ProjectCreator(t *testing.T) {
	var req logging.ListLogEntriesRequest
	client := newTestAPIClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/entries:list", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"entries": []map[string]interface{}{{
				"protoPayload": map[string]interface{}{
					"@type":              "type.googleapis.com/google.cloud.audit.AuditLog",
					"authenticationInfo": map[string]string{"principalEmail": "alice@example.com"},
				},
			}},
		})
	})

	creator, err := client.ProjectCreator(context.Background(), "proj-a")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", creator)

	assert.Equal(t, []string{"projects/proj-a"}, req.ResourceNames)
	assert.Equal(t, "timestamp asc", req.OrderBy)
	assert.EqualValues(t, 1, req.PageSize)
	assert.True(t, strings.HasPrefix(req.Filter, createProjectFilter))
	assert.Contains(t, req.Filter, `timestamp>="2024-05-02T00:00:00Z"`)
}

func TestAPIClient_ProjectCreatorNoEntries(t *testing.T) {
	client := newTestAPIClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{})
	})

	creator, err := client.ProjectCreator(context.Background(), "proj-a")
	require.NoError(t, err)
	assert.Empty(t, creator)
}

func TestAPIClient_ProjectCreatorErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		reason string
		msg    string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "forbidden",
			status: http.StatusForbidden,
			reason: "forbidden",
			msg:    "The caller does not have permission",
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrPermissionDenied)
			},
		},
		{
			name:   "forbidden with service disabled reason",
			status: http.StatusForbidden,
			reason: "SERVICE_DISABLED",
			msg:    "Cloud Logging API has not been used in project 42 before or it is disabled.",
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrPermissionDenied)
				assert.NotErrorIs(t, err, ErrAPIDisabled)
			},
		},
		{
			name:   "disabled outside a denial",
			status: http.StatusBadRequest,
			reason: "accessNotConfigured",
			msg:    "Cloud Logging API has not been used in project 42 before or it is disabled.",
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrAPIDisabled)
			},
		},
		{
			name:   "not found",
			status: http.StatusNotFound,
			reason: "notFound",
			msg:    "project not found",
			check: func(t *testing.T, err error) {
				assert.Error(t, err)
				assert.NotErrorIs(t, err, ErrPermissionDenied)
				assert.NotErrorIs(t, err, ErrAPIDisabled)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestAPIClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeAPIError(w, tt.status, tt.reason, tt.msg)
			})

			_, err := client.ProjectCreator(context.Background(), "proj-a")
			tt.check(t, err)
		})
	}
}

func TestAPIClient_ProjectOwners(t *testing.T) {
	client := newTestAPIClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/projects/proj-a:getIamPolicy", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"bindings": []map[string]interface{}{
				{"role": "roles/viewer", "members": []string{"user:v@x.com"}},
				{"role": OwnerRole, "members": []string{"user:a@x.com", "serviceAccount:svc@x.iam"}},
			},
		})
	})

	owners, err := client.ProjectOwners(context.Background(), "proj-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"user:a@x.com", "serviceAccount:svc@x.iam"}, owners)
}

func TestAPIClient_GrantOrgRole(t *testing.T) {
	// Organization policy served by the test endpoint.
	newPolicyServer := func(rec *apiRecorder, members []string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			rec.record(r)
			switch r.URL.Path {
			case "/v1/organizations/123:getIamPolicy":
				writeJSON(w, http.StatusOK, map[string]interface{}{
					"etag":     "BwYabc=",
					"bindings": []map[string]interface{}{{"role": LogViewerRole, "members": members}},
				})
			case "/v1/organizations/123:setIamPolicy":
				var req cloudresourcemanager.SetIamPolicyRequest
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				rec.mu.Lock()
				rec.sets = append(rec.sets, &req)
				rec.mu.Unlock()
				writeJSON(w, http.StatusOK, req.Policy)
			default:
				http.NotFound(w, r)
			}
		}
	}

	t.Run("adds member with etag", func(t *testing.T) {
		rec := &apiRecorder{}
		client := newTestAPIClient(t, newPolicyServer(rec, []string{"user:b@x.com"}))

		require.NoError(t, client.GrantOrgRole(context.Background(), "123", "user:a@x.com", LogViewerRole))

		require.Len(t, rec.sets, 1)
		policy := rec.sets[0].Policy
		assert.Equal(t, "BwYabc=", policy.Etag)
		require.Len(t, policy.Bindings, 1)
		assert.Equal(t, []string{"user:b@x.com", "user:a@x.com"}, policy.Bindings[0].Members)
	})

	t.Run("existing member is not duplicated", func(t *testing.T) {
		rec := &apiRecorder{}
		client := newTestAPIClient(t, newPolicyServer(rec, []string{"user:a@x.com"}))

		require.NoError(t, client.GrantOrgRole(context.Background(), "123", "user:a@x.com", LogViewerRole))

		assert.Empty(t, rec.sets)
		assert.Equal(t, []string{"POST /v1/organizations/123:getIamPolicy"}, rec.paths())
	})

	t.Run("denied", func(t *testing.T) {
		client := newTestAPIClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeAPIError(w, http.StatusForbidden, "forbidden", "The caller does not have permission")
		})

		err := client.GrantOrgRole(context.Background(), "123", "user:a@x.com", LogViewerRole)
		assert.ErrorIs(t, err, ErrPermissionDenied)
	})
}
