package gcloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/cloudresourcemanager/v1"
	"google.golang.org/api/googleapi"
	logging "google.golang.org/api/logging/v2"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/yairfalse/projaudit/internal/logger"
)

// APIConfig holds configuration for the REST backend
type APIConfig struct {
	CredentialsFile string
	Freshness       string
	Logger          logger.Logger
}

// APIClient implements Client with the Google API client libraries.
type APIClient struct {
	resourceManager *cloudresourcemanager.Service
	logging         *logging.Service
	oauth2          *oauth2api.Service
	tokenSource     oauth2.TokenSource
	freshness       time.Duration
	log             logger.Logger
	now             func() time.Time
}

// NewAPIClient creates a client authenticated with the given credentials
// file or, when empty, Application Default Credentials.
func NewAPIClient(ctx context.Context, config APIConfig) (*APIClient, error) {
	if config.Logger == nil {
		config.Logger = logger.NewNop()
	}

	freshness, err := ParseFreshness(config.Freshness)
	if err != nil {
		return nil, err
	}

	scopes := []string{cloudresourcemanager.CloudPlatformScope, oauth2api.UserinfoEmailScope}

	var creds *google.Credentials
	if config.CredentialsFile != "" {
		data, err := os.ReadFile(config.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials file: %w", err)
		}
		creds, err = google.CredentialsFromJSON(ctx, data, scopes...)
		if err != nil {
			return nil, fmt.Errorf("failed to parse credentials file: %w", err)
		}
	} else {
		creds, err = google.FindDefaultCredentials(ctx, scopes...)
		if err != nil {
			return nil, fmt.Errorf("failed to find default credentials: %w", err)
		}
	}

	return newAPIClient(ctx, config.Logger, freshness, creds.TokenSource, option.WithCredentials(creds))
}

// newAPIClient builds the services with opts. ts supplies the token whose
// owner ActiveAccount reports.
func newAPIClient(ctx context.Context, log logger.Logger, freshness time.Duration, ts oauth2.TokenSource, opts ...option.ClientOption) (*APIClient, error) {
	var err error
	client := &APIClient{
		tokenSource: ts,
		freshness:   freshness,
		log:         log.WithField("backend", "api"),
		now:         time.Now,
	}

	client.resourceManager, err = cloudresourcemanager.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource manager service: %w", err)
	}

	client.logging, err = logging.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create logging service: %w", err)
	}

	client.oauth2, err = oauth2api.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth2 service: %w", err)
	}

	return client, nil
}

// ActiveAccount implements Client.
func (c *APIClient) ActiveAccount(ctx context.Context) (string, error) {
	token, err := c.tokenSource.Token()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoActiveAccount, err)
	}

	info, err := c.oauth2.Tokeninfo().AccessToken(token.AccessToken).Context(ctx).Do()
	if err != nil {
		return "", classifyAPIError(err)
	}
	if info.Email == "" {
		return "", ErrNoActiveAccount
	}
	return info.Email, nil
}

// ListProjects implements Client. Like the CLI backend it lists only direct
// children of the organization.
func (c *APIClient) ListProjects(ctx context.Context, org string) ([]Project, error) {
	filter := fmt.Sprintf("parent.type:organization parent.id:%s lifecycleState:ACTIVE", org)

	var projects []Project
	err := c.resourceManager.Projects.List().Filter(filter).Pages(ctx, func(resp *cloudresourcemanager.ListProjectsResponse) error {
		for _, p := range resp.Projects {
			projects = append(projects, Project{ID: p.ProjectId, CreateTime: p.CreateTime})
		}
		return nil
	})
	if err != nil {
		return nil, classifyAPIError(err)
	}

	SortNewestFirst(projects)
	return projects, nil
}

// ProjectCreator implements Client.
func (c *APIClient) ProjectCreator(ctx context.Context, projectID string) (string, error) {
	filter := createProjectFilter
	if c.freshness > 0 {
		since := c.now().Add(-c.freshness).UTC().Format(time.RFC3339)
		filter = fmt.Sprintf(`%s AND timestamp>="%s"`, filter, since)
	}

	resp, err := c.logging.Entries.List(&logging.ListLogEntriesRequest{
		ResourceNames: []string{"projects/" + projectID},
		Filter:        filter,
		OrderBy:       "timestamp asc",
		PageSize:      1,
	}).Context(ctx).Do()
	if err != nil {
		return "", classifyAPIError(err)
	}
	if len(resp.Entries) == 0 {
		return "", nil
	}

	return principalEmail(resp.Entries[0].ProtoPayload)
}

// ProjectOwners implements Client.
func (c *APIClient) ProjectOwners(ctx context.Context, projectID string) ([]string, error) {
	policy, err := c.resourceManager.Projects.GetIamPolicy(projectID, &cloudresourcemanager.GetIamPolicyRequest{}).Context(ctx).Do()
	if err != nil {
		return nil, classifyAPIError(err)
	}
	return membersOf(policy, OwnerRole), nil
}

// GrantOrgRole implements Client. The policy is read and written back with
// its etag so a concurrent edit fails instead of being overwritten.
func (c *APIClient) GrantOrgRole(ctx context.Context, org, member, role string) error {
	resource := "organizations/" + org

	policy, err := c.resourceManager.Organizations.GetIamPolicy(resource, &cloudresourcemanager.GetIamPolicyRequest{}).Context(ctx).Do()
	if err != nil {
		return classifyAPIError(err)
	}

	if !addMember(policy, role, member) {
		c.log.WithFields(map[string]interface{}{"member": member, "role": role}).Debug("Binding already present")
		return nil
	}

	_, err = c.resourceManager.Organizations.SetIamPolicy(resource, &cloudresourcemanager.SetIamPolicyRequest{
		Policy: policy,
	}).Context(ctx).Do()
	if err != nil {
		return classifyAPIError(err)
	}
	return nil
}

// SortNewestFirst orders projects by creation time, most recent first.
func SortNewestFirst(projects []Project) {
	slices.SortStableFunc(projects, func(a, b Project) int {
		ta, errA := time.Parse(time.RFC3339Nano, a.CreateTime)
		tb, errB := time.Parse(time.RFC3339Nano, b.CreateTime)
		if errA != nil || errB != nil {
			return strings.Compare(b.CreateTime, a.CreateTime)
		}
		return tb.Compare(ta)
	})
}

// ParseFreshness parses gcloud-style freshness values such as "400d",
// "12h" or "30m". An empty string means no lower bound.
func ParseFreshness(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil || days < 0 {
			return 0, fmt.Errorf("invalid freshness %q", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid freshness %q", s)
	}
	return d, nil
}

func membersOf(policy *cloudresourcemanager.Policy, role string) []string {
	var members []string
	for _, b := range policy.Bindings {
		if b.Role == role && b.Condition == nil {
			members = append(members, b.Members...)
		}
	}
	return members
}

// addMember reports whether the policy changed.
func addMember(policy *cloudresourcemanager.Policy, role, member string) bool {
	for _, b := range policy.Bindings {
		if b.Role != role || b.Condition != nil {
			continue
		}
		if slices.Contains(b.Members, member) {
			return false
		}
		b.Members = append(b.Members, member)
		return true
	}

	policy.Bindings = append(policy.Bindings, &cloudresourcemanager.Binding{
		Role:    role,
		Members: []string{member},
	})
	return true
}

type auditPayload struct {
	AuthenticationInfo struct {
		PrincipalEmail string `json:"principalEmail"`
	} `json:"authenticationInfo"`
}

func principalEmail(raw googleapi.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}

	var payload auditPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("failed to decode audit payload: %w", err)
	}
	return payload.AuthenticationInfo.PrincipalEmail, nil
}

// classifyAPIError maps googleapi errors onto the package sentinels. A 403
// is a denial even when the service is disabled, matching Classify.
func classifyAPIError(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return err
	}

	if gerr.Code == http.StatusForbidden {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, gerr.Message)
	}

	for _, item := range gerr.Errors {
		if item.Reason == "accessNotConfigured" || item.Reason == "SERVICE_DISABLED" {
			return fmt.Errorf("%w: %s", ErrAPIDisabled, gerr.Message)
		}
	}
	if containsAny(strings.ToLower(gerr.Message), apiDisabledMarkers) {
		return fmt.Errorf("%w: %s", ErrAPIDisabled, gerr.Message)
	}

	return err
}
