package errors

import (
	stderrors "errors"
	"fmt"
	"os"
	"strings"
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeAuthentication ErrorType = "Authentication"
	ErrorTypeConfiguration  ErrorType = "Configuration"
	ErrorTypeProvider       ErrorType = "Provider"
	ErrorTypeFileSystem     ErrorType = "FileSystem"
	ErrorTypeInterrupted    ErrorType = "Interrupted"
)

// AuditError is a process-level failure with actionable guidance.
// Per-project failures never become an AuditError; they are report content.
type AuditError struct {
	Type        ErrorType
	Message     string
	Cause       string
	Solutions   []string
	Verify      string
	Environment string
	Err         error
}

// Error implements the error interface
func (e *AuditError) Error() string {
	var sb strings.Builder

	sb.WriteString(e.Message)
	if e.Cause != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Cause)
	}

	return sb.String()
}

// Unwrap exposes the underlying error to errors.Is and errors.As.
func (e *AuditError) Unwrap() error {
	return e.Err
}

// Format implements fmt.Formatter for custom formatting
func (e *AuditError) Format(f fmt.State, verb rune) {
	switch verb {
	case 'v':
		if f.Flag('+') {
			fmt.Fprintf(f, "[%s] %s", e.Type, e.Error())
			return
		}
		fmt.Fprint(f, e.Error())
	default:
		fmt.Fprint(f, e.Error())
	}
}

// New creates a new AuditError
func New(errType ErrorType, message string) *AuditError {
	return &AuditError{
		Type:        errType,
		Message:     message,
		Environment: detectEnvironment(),
	}
}

// Wrap creates an AuditError around err, using its text as the cause.
func Wrap(errType ErrorType, message string, err error) *AuditError {
	e := New(errType, message)
	e.Err = err
	if err != nil {
		e.Cause = err.Error()
	}
	return e
}

// WithCause adds cause information
func (e *AuditError) WithCause(cause string) *AuditError {
	e.Cause = cause
	return e
}

// WithSolutions adds solution steps
func (e *AuditError) WithSolutions(solutions ...string) *AuditError {
	e.Solutions = append(e.Solutions, solutions...)
	return e
}

// WithVerify adds verification command
func (e *AuditError) WithVerify(verify string) *AuditError {
	e.Verify = verify
	return e
}

// detectEnvironment detects the current environment
func detectEnvironment() string {
	ciVars := []string{"CI", "CONTINUOUS_INTEGRATION", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_HOME"}
	for _, v := range ciVars {
		if os.Getenv(v) != "" {
			return "CI/CD detected"
		}
	}

	if os.Getenv("CLOUD_SHELL") == "true" || os.Getenv("GOOGLE_CLOUD_SHELL") == "true" {
		return "Cloud Shell detected"
	}

	if _, err := os.Stat("/.dockerenv"); err == nil {
		return "Container environment detected"
	}

	return "Development workstation detected"
}

// GetExitCode returns appropriate exit code for error type
func GetExitCode(err error) int {
	if err == nil {
		return 0
	}

	var auditErr *AuditError
	if !stderrors.As(err, &auditErr) {
		return 1
	}

	switch auditErr.Type {
	case ErrorTypeAuthentication:
		return 77 // EX_NOPERM
	case ErrorTypeConfiguration:
		return 78 // EX_CONFIG
	case ErrorTypeFileSystem:
		return 66 // EX_NOINPUT
	case ErrorTypeProvider:
		return 69 // EX_UNAVAILABLE
	case ErrorTypeInterrupted:
		return 130
	default:
		return 1
	}
}
