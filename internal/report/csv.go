// Package report writes the audit CSV and ships it to object storage.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Header is the first line of every report.
var Header = []string{
	"Project ID",
	"Created",
	"Creator (from Logs)",
	"Current Owner(s) (from IAM)",
}

// Row is one audited project.
type Row struct {
	ProjectID string
	Created   string
	Creator   string
	Owners    string
}

// Fields returns the row in column order.
func (r Row) Fields() []string {
	return []string{r.ProjectID, r.Created, r.Creator, r.Owners}
}

type syncer interface {
	Sync() error
}

// CSVWriter appends rows as they are produced. Each row is flushed to the
// underlying writer (and synced when it is a file) before WriteRow returns,
// so an interrupted run leaves every completed row on disk.
type CSVWriter struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
}

// Create truncates path, writes the header and returns a writer for it.
func Create(path string) (*CSVWriter, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create report directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create report: %w", err)
	}

	w, err := NewCSVWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f

	return w, nil
}

// NewCSVWriter writes the header to w and returns a writer for it.
func NewCSVWriter(w io.Writer) (*CSVWriter, error) {
	cw := &CSVWriter{w: w}
	if err := cw.writeLine(strings.Join(Header, ",")); err != nil {
		return nil, fmt.Errorf("failed to write report header: %w", err)
	}
	return cw, nil
}

// WriteRow appends one fully quoted row.
func (c *CSVWriter) WriteRow(row Row) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fields := row.Fields()
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = Quote(f)
	}

	if err := c.writeLine(strings.Join(quoted, ",")); err != nil {
		return fmt.Errorf("failed to write row for %s: %w", row.ProjectID, err)
	}
	return nil
}

// Close closes the underlying file, if any.
func (c *CSVWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closer == nil {
		return nil
	}
	err := c.closer.Close()
	c.closer = nil
	return err
}

func (c *CSVWriter) writeLine(line string) error {
	if _, err := io.WriteString(c.w, line+"\n"); err != nil {
		return err
	}
	if s, ok := c.w.(syncer); ok {
		return s.Sync()
	}
	return nil
}

// Quote wraps s in double quotes, doubling any embedded quote.
func Quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
