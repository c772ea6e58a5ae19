package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hullside/cutover/pkg/types"
)

// Writer appends one line per deployment attempt to a plain-text log.
// The log is the only durable trace a deployment leaves behind; colors
// and container state stay derivable from the host itself.
type Writer struct {
	path string
	now  func() time.Time
}

// New creates a writer for the given log path. An empty path disables
// auditing (every Append becomes a no-op).
func New(path string) *Writer {
	return &Writer{path: path, now: time.Now}
}

// NewRecord builds a record for the current attempt with a fresh ID and
// the operator taken from the environment.
func (w *Writer) NewRecord(app, version, image, commit string) types.DeploymentRecord {
	operator := os.Getenv("USER")
	if operator == "" {
		operator = "unknown"
	}
	return types.DeploymentRecord{
		ID:        uuid.NewString(),
		Timestamp: w.now().UTC(),
		Operator:  operator,
		App:       app,
		Version:   version,
		Image:     image,
		Commit:    commit,
	}
}

// Append writes the record as one tab-separated line. Failures to audit
// are returned but callers treat them as warnings; a deployment must
// not fail because the log disk is full.
func (w *Writer) Append(rec types.DeploymentRecord) error {
	if w.path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("failed to create audit log directory: %w", err)
	}

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(formatLine(rec)); err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

func formatLine(rec types.DeploymentRecord) string {
	fields := []string{
		rec.Timestamp.Format(time.RFC3339),
		rec.ID,
		rec.Operator,
		rec.App,
		rec.Version,
		rec.Image,
		rec.Commit,
		rec.Result,
	}
	for i, f := range fields {
		if f == "" {
			fields[i] = "-"
		}
	}
	return strings.Join(fields, "\t") + "\n"
}
