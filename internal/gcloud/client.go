// Package gcloud talks to Google Cloud on behalf of the auditor, either by
// shelling out to the gcloud CLI or through the REST client libraries.
package gcloud

import (
	"context"
	"errors"
	"strings"
)

const (
	// OwnerRole is the role whose members are reported as project owners.
	OwnerRole = "roles/owner"
	// LogViewerRole is granted at organization scope to heal log-read denials.
	LogViewerRole = "roles/logging.viewer"
)

var (
	// ErrPermissionDenied marks a query rejected by IAM.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrAPIDisabled marks a query against a service that is not enabled.
	ErrAPIDisabled = errors.New("api not enabled")
	// ErrNoActiveAccount is returned when no authenticated principal exists.
	ErrNoActiveAccount = errors.New("no active account")
)

// Project is an organization project as returned by the lister.
type Project struct {
	ID         string
	CreateTime string
}

// Client is the set of cloud operations an audit run depends on.
type Client interface {
	// ActiveAccount returns the authenticated principal's email.
	ActiveAccount(ctx context.Context) (string, error)

	// ListProjects returns the projects whose parent is org, newest first.
	// Projects inside folders are not listed.
	ListProjects(ctx context.Context, org string) ([]Project, error)

	// ProjectCreator returns the principal of the earliest CreateProject
	// audit entry, or "" when no entry is retained.
	ProjectCreator(ctx context.Context, projectID string) (string, error)

	// ProjectOwners returns the raw members bound to OwnerRole.
	ProjectOwners(ctx context.Context, projectID string) ([]string, error)

	// GrantOrgRole adds member to role on the organization policy.
	GrantOrgRole(ctx context.Context, org, member, role string) error
}

// MemberFor builds the IAM member string for an account email.
func MemberFor(account string) string {
	if strings.HasSuffix(account, ".gserviceaccount.com") {
		return "serviceAccount:" + account
	}
	return "user:" + account
}
