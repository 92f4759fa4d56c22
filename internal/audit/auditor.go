// Package audit recovers the creator and current owners of every project
// in an organization and writes them to a report.
package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/yairfalse/projaudit/internal/gcloud"
	"github.com/yairfalse/projaudit/internal/logger"
	"github.com/yairfalse/projaudit/internal/report"
)

// Creator classifications.
const (
	CreatorLoggingDisabled = "Logging Disabled"
	CreatorLogsExpired     = "Unknown: Logs Expired"
	CreatorFixFailed       = "Still No Access (Fix Failed)"
)

// Owner classifications.
const (
	OwnersNoAccess = "Error: No IAM Access"
	OwnersNotFound = "No Owners Found"
)

// Outcome is the result of auditing one project.
type Outcome int

const (
	// Written means a row was appended to the report.
	Written Outcome = iota
	// Deferred means the log read was denied on the first attempt and the
	// project must be retried; no row was written.
	Deferred
	// Interrupted means the run was cancelled while the project was being
	// queried; no row was written.
	Interrupted
)

// RowWriter receives audited rows.
type RowWriter interface {
	WriteRow(row report.Row) error
}

// Auditor audits one project at a time.
type Auditor struct {
	client gcloud.Client
	out    RowWriter
	log    logger.Logger
}

// NewAuditor creates an auditor writing to out.
func NewAuditor(client gcloud.Client, out RowWriter, log logger.Logger) *Auditor {
	if log == nil {
		log = logger.NewNop()
	}
	return &Auditor{client: client, out: out, log: log}
}

// Audit looks up the creator and owners of p and appends a row. On the first
// attempt a denied log read returns Deferred without touching the report or
// querying IAM. A cancelled ctx returns Interrupted with ctx's error and
// writes nothing. Otherwise the only error returned is a failure to write
// the row.
func (a *Auditor) Audit(ctx context.Context, state *RunState, p gcloud.Project, retry bool) (Outcome, error) {
	log := a.log.WithFields(map[string]interface{}{"project": p.ID, "retry": retry})

	rawCreator, logErr := a.client.ProjectCreator(ctx, p.ID)
	if err := ctx.Err(); err != nil {
		return Interrupted, err
	}
	if gcloud.IsPermissionDenied(logErr) && !retry {
		log.Debug("Log read denied, deferring")
		return Deferred, nil
	}
	creator := ClassifyCreator(rawCreator, logErr)

	members, iamErr := a.client.ProjectOwners(ctx, p.ID)
	if err := ctx.Err(); err != nil {
		return Interrupted, err
	}
	owners := ClassifyOwners(members, iamErr)

	if logErr != nil || iamErr != nil {
		fields := map[string]interface{}{}
		if logErr != nil {
			fields["logs_error"] = logErr.Error()
		}
		if iamErr != nil {
			fields["iam_error"] = iamErr.Error()
		}
		log.WithFields(fields).Debug("Query failed, recorded as classification")
	}

	row := report.Row{
		ProjectID: p.ID,
		Created:   p.CreateTime,
		Creator:   creator,
		Owners:    owners,
	}
	if err := a.out.WriteRow(row); err != nil {
		return Written, fmt.Errorf("failed to record %s: %w", p.ID, err)
	}

	state.Completed++
	if gcloud.IsPermissionDenied(logErr) {
		state.StillDenied++
	}
	log.WithFields(map[string]interface{}{"creator": creator, "owners": owners}).Debug("Project audited")

	return Written, nil
}

// ClassifyCreator maps a log query result to the creator column. A
// permission denial reaching this point is terminal.
func ClassifyCreator(raw string, err error) string {
	switch {
	case gcloud.IsPermissionDenied(err):
		return CreatorFixFailed
	case gcloud.IsAPIDisabled(err):
		return CreatorLoggingDisabled
	case err != nil:
		return "Error: " + err.Error()
	case strings.TrimSpace(raw) == "":
		return CreatorLogsExpired
	default:
		return strings.TrimSpace(raw)
	}
}

// ClassifyOwners maps an owner query result to the owners column.
func ClassifyOwners(members []string, err error) string {
	switch {
	case gcloud.IsPermissionDenied(err):
		return OwnersNoAccess
	case err != nil:
		return "Error: " + err.Error()
	}

	owners := make([]string, 0, len(members))
	for _, m := range members {
		if m = strings.TrimSpace(m); m == "" {
			continue
		}
		owners = append(owners, StripMemberPrefix(m))
	}
	if len(owners) == 0 {
		return OwnersNotFound
	}
	return strings.Join(owners, ",")
}

// StripMemberPrefix removes the user: or serviceAccount: type prefix.
func StripMemberPrefix(member string) string {
	for _, prefix := range []string{"user:", "serviceAccount:"} {
		if strings.HasPrefix(member, prefix) {
			return strings.TrimPrefix(member, prefix)
		}
	}
	return member
}
