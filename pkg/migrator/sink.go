package migrator

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pthm/rlsguard/internal/sqlgen"
	"github.com/pthm/rlsguard/pkg/model"
)

// WriteScripts writes each script to dir as <id>.up.sql and <id>.down.sql,
// creating dir if needed. The validation query is appended to the up file
// as a comment. It returns the written paths in order.
func WriteScripts(dir string, scripts []model.MigrationScript) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating migrations directory: %w", err)
	}

	paths := make([]string, 0, 2*len(scripts))
	for _, s := range scripts {
		up := filepath.Join(dir, s.ID+".up.sql")
		if err := os.WriteFile(up, []byte(upFile(s)), 0o644); err != nil { //nolint:gosec // migrations are meant to be readable
			return paths, fmt.Errorf("writing %s: %w", up, err)
		}
		paths = append(paths, up)

		down := filepath.Join(dir, s.ID+".down.sql")
		if err := os.WriteFile(down, []byte(s.DownSQL+"\n"), 0o644); err != nil { //nolint:gosec // migrations are meant to be readable
			return paths, fmt.Errorf("writing %s: %w", down, err)
		}
		paths = append(paths, down)
	}
	return paths, nil
}

func upFile(s model.MigrationScript) string {
	out := sqlgen.Comment(s.Description) + "\n"
	if s.EstimatedImpact != "" {
		out += sqlgen.Comment("Impact: "+s.EstimatedImpact) + "\n"
	}
	out += "\n" + s.UpSQL + "\n"
	if s.ValidationSQL != "" {
		out += "\n" + sqlgen.Comment(s.ValidationSQL) + "\n"
	}
	return out
}

// DryRun writes the scripts to w instead of files.
func DryRun(w io.Writer, scripts []model.MigrationScript) {
	_, _ = fmt.Fprintf(w, "-- rlsguard migrations (dry-run)\n")
	_, _ = fmt.Fprintf(w, "-- %d migration(s)\n\n", len(scripts))
	for _, s := range scripts {
		_, _ = fmt.Fprintf(w, "-- ============================================================\n")
		_, _ = fmt.Fprintf(w, "-- %s\n", s.ID)
		_, _ = fmt.Fprintf(w, "-- ============================================================\n\n")
		_, _ = fmt.Fprintf(w, "%s\n", upFile(s))
		_, _ = fmt.Fprintf(w, "-- Down:\n%s\n\n", s.DownSQL)
	}
}
