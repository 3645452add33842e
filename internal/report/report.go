// Package report holds what the artifact generators share: the Generator
// contract, deterministic field formatting, and atomic file output.
package report

import (
	"bufio"
	"context"
	"database/sql"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/locmap/internal/errs"
	"github.com/roach88/locmap/internal/record"
)

// Generator renders a normalized sequence into one artifact.
//
// Implementations must not modify the sequence and must produce identical
// bytes for identical input, so a rerun over the same source is reproducible.
type Generator interface {
	// Name identifies the artifact in logs, metrics, and errors.
	Name() string

	// Generate writes the artifact to path. Failures are ArtifactWriteErrors.
	Generate(ctx context.Context, seq *record.Sequence, path string) error
}

const (
	// TimeLayout is the timestamp rendering used by every artifact.
	TimeLayout = "2006-01-02 15:04:05.000"

	// DefaultSpeedPrecision is the number of decimals shown for speeds.
	DefaultSpeedPrecision = 2

	// UnknownSpeed is shown in place of a NULL speed.
	UnknownSpeed = "unknown"

	// FlagSeparator joins a record's flags into one cell.
	FlagSeparator = "; "
)

// FormatTime renders t in UTC with millisecond precision.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// FormatSpeed renders a speed with a fixed number of decimals. A negative
// precision selects DefaultSpeedPrecision. NULL renders as UnknownSpeed.
func FormatSpeed(mph sql.NullFloat64, precision int) string {
	if !mph.Valid {
		return UnknownSpeed
	}
	if precision < 0 {
		precision = DefaultSpeedPrecision
	}
	return strconv.FormatFloat(mph.Float64, 'f', precision, 64)
}

// FormatCoordinate renders a coordinate as the shortest round-tripping
// decimal. NULL renders as the empty string.
func FormatCoordinate(c sql.NullFloat64) string {
	if !c.Valid {
		return ""
	}
	return strconv.FormatFloat(c.Float64, 'f', -1, 64)
}

// FormatValue renders a passthrough metadata value.
func FormatValue(v record.Value) string {
	return record.Text(v)
}

// FormatFlags joins flags with FlagSeparator.
func FormatFlags(flags []string) string {
	return strings.Join(flags, FlagSeparator)
}

// WriteFile writes an artifact atomically: content goes to a temporary file
// in the destination directory which is then renamed over path. Missing
// parent directories are created. On failure the destination is left as it
// was and the temporary file is removed.
//
// Every failure, including one returned by write, is reported as an
// ArtifactWriteError for stage and path.
func WriteFile(stage, path string, write func(w io.Writer) error) (err error) {
	fail := func(cause error) error {
		return errs.ArtifactWriteError(stage, path, cause)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fail(err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fail(err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	bw := bufio.NewWriter(tmp)
	if err := write(bw); err != nil {
		return fail(err)
	}
	if err := bw.Flush(); err != nil {
		return fail(err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		return fail(err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fail(err)
	}
	return nil
}
