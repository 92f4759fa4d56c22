package gcloud

import (
	"errors"
	"fmt"
	"strings"
)

// Markers are matched case-insensitively against the combined output of a
// failed CLI invocation. Permission markers win when both kinds are present,
// so a disabled service that gcloud reports as PERMISSION_DENIED is deferred
// and retried like any other denial.
var (
	apiDisabledMarkers = []string{
		"service_disabled",
		"has not been used in project",
		"api has not been enabled",
		"it is disabled",
		"accessnotconfigured",
	}

	permissionDeniedMarkers = []string{
		"permission_denied",
		"does not have permission",
		"permission denied",
		"the caller does not have permission",
	}
)

// Classify turns the output of a collaborator call into a sentinel error.
// It returns nil when the call succeeded and no marker was found.
//
//   - ErrPermissionDenied: PERMISSION_DENIED, "does not have permission",
//     "Permission denied"
//   - ErrAPIDisabled: SERVICE_DISABLED, "has not been used in project",
//     "API has not been enabled", "it is disabled", accessNotConfigured
//
// Any other failure is returned with the first line of output as context.
func Classify(output string, err error) error {
	lower := strings.ToLower(output)

	switch {
	case containsAny(lower, permissionDeniedMarkers):
		return fmt.Errorf("%w: %s", ErrPermissionDenied, firstLine(output))
	case containsAny(lower, apiDisabledMarkers):
		return fmt.Errorf("%w: %s", ErrAPIDisabled, firstLine(output))
	case err != nil:
		if line := firstLine(output); line != "" {
			return fmt.Errorf("%s: %w", line, err)
		}
		return err
	}

	return nil
}

// IsPermissionDenied reports whether err is a permission denial.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

// IsAPIDisabled reports whether err is a disabled-service failure.
func IsAPIDisabled(err error) bool {
	return errors.Is(err, ErrAPIDisabled)
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// firstLine returns the first non-empty line, with gcloud's "ERROR: (cmd)"
// prefix removed.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "ERROR: (") {
			if i := strings.Index(line, ") "); i > 0 {
				line = strings.TrimSpace(line[i+2:])
			}
		}
		return line
	}
	return ""
}
