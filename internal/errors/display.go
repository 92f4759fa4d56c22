package errors

import (
	stderrors "errors"
	"fmt"
	"io"

	"github.com/fatih/color"
)

// DisplayError writes err to w, with guidance when it is an AuditError.
func DisplayError(w io.Writer, err error, noColor bool) {
	if err == nil {
		return
	}
	if noColor {
		color.NoColor = true
	}

	var auditErr *AuditError
	if !stderrors.As(err, &auditErr) {
		fmt.Fprintf(w, "%s %v\n", color.RedString("Error:"), err)
		return
	}

	colorFunc := getErrorStyle(auditErr.Type)

	fmt.Fprintf(w, "\n%s\n", colorFunc("Error: %s", auditErr.Message))

	if auditErr.Cause != "" {
		fmt.Fprintf(w, "   %s %s\n", color.YellowString("Cause:"), color.HiBlackString(auditErr.Cause))
	}

	if auditErr.Environment != "" {
		fmt.Fprintf(w, "   %s %s\n", color.CyanString("Environment:"), color.HiBlackString(auditErr.Environment))
	}

	if len(auditErr.Solutions) > 0 {
		fmt.Fprintf(w, "\n   %s\n", color.GreenString("Solutions:"))
		for i, solution := range auditErr.Solutions {
			fmt.Fprintf(w, "   %s %s\n", color.HiBlackString(fmt.Sprintf("%d.", i+1)), solution)
		}
	}

	if auditErr.Verify != "" {
		fmt.Fprintf(w, "\n   %s %s\n", color.BlueString("Verify:"), color.HiWhiteString(auditErr.Verify))
	}

	fmt.Fprintln(w)
}

// getErrorStyle returns the appropriate color function for an error type
func getErrorStyle(errType ErrorType) func(format string, a ...interface{}) string {
	switch errType {
	case ErrorTypeConfiguration:
		return color.YellowString
	case ErrorTypeProvider:
		return color.CyanString
	case ErrorTypeFileSystem:
		return color.MagentaString
	default:
		return color.RedString
	}
}
