package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/yairfalse/projaudit/internal/gcloud"
)

// ConfigurationError reports invalid or missing settings.
func ConfigurationError(originalErr error) *AuditError {
	err := Wrap(ErrorTypeConfiguration, "Invalid configuration", originalErr)

	err.WithSolutions(
		`projaudit --org 123456789012`,
		`export PROJAUDIT_ORG=123456789012`,
		`Add "audit: {org: 123456789012}" to ~/.projaudit/config.yaml`,
	)
	err.WithVerify("gcloud organizations list")

	return err
}

// IdentityError reports that no authenticated principal could be resolved.
func IdentityError(originalErr error) *AuditError {
	err := Wrap(ErrorTypeAuthentication, "No active Google Cloud account", originalErr)

	if err.Environment == "CI/CD detected" {
		err.WithSolutions(
			`echo "$GCP_SA_KEY" | base64 -d > service-account.json`,
			`gcloud auth activate-service-account --key-file=service-account.json`,
			`projaudit --backend api --credentials service-account.json --org <ORG_ID>`,
		)
	} else {
		err.WithSolutions(
			`gcloud auth login`,
			`gcloud auth application-default login   (for --backend api)`,
		)
	}

	err.WithVerify("gcloud auth list --filter=status:ACTIVE")

	return err
}

// ListingError reports that the organization's projects could not be listed.
func ListingError(org string, originalErr error) *AuditError {
	err := Wrap(ErrorTypeProvider, fmt.Sprintf("Failed to list projects in organization %s", org), originalErr)

	if stderrors.Is(originalErr, gcloud.ErrPermissionDenied) {
		err.WithSolutions(
			"Ask an organization admin for roles/browser on the organization",
			fmt.Sprintf("gcloud organizations get-iam-policy %s", org),
		)
	} else {
		err.WithSolutions(
			"Check the organization id",
			"Check network access to cloudresourcemanager.googleapis.com",
		)
	}

	err.WithVerify(fmt.Sprintf("gcloud projects list --filter=parent.id:%s --limit=1", org))

	return err
}

// ReportFileError reports a failure to create or append to the CSV report.
func ReportFileError(path string, originalErr error) *AuditError {
	err := Wrap(ErrorTypeFileSystem, fmt.Sprintf("Cannot write report %s", path), originalErr)

	err.WithSolutions(
		"Check that the directory exists and is writable",
		"Choose another location with --out",
	)

	return err
}

// UploadError reports a failed copy of the finished report.
func UploadError(destination string, originalErr error) *AuditError {
	err := Wrap(ErrorTypeProvider, fmt.Sprintf("Failed to upload report to %s", destination), originalErr)

	err.WithSolutions(
		"The local report is complete; upload it manually",
		"Check bucket permissions for the active credentials",
	)

	return err
}

// InterruptedError reports a run stopped by a signal.
func InterruptedError(path string, originalErr error) *AuditError {
	err := Wrap(ErrorTypeInterrupted, "Audit interrupted", originalErr)
	err.WithSolutions(fmt.Sprintf("Rows written so far are kept in %s", path))
	return err
}
