// -- internal/reporting/reporter.go --
package reporting

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/widgetprobe/api/schemas"
)

// Reporter renders a finished run to an output.
type Reporter interface {
	// Write renders one run report.
	Write(report *schemas.RunReport) error
	// Close finalizes the output and closes any underlying file.
	Close() error
}

// Formats lists the supported report formats.
var Formats = []string{"json", "junit", "text"}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// Extension returns the file extension used for a format.
func Extension(format string) string {
	switch format {
	case "json":
		return ".json"
	case "junit":
		return ".junit.xml"
	default:
		return ".txt"
	}
}

// New creates a reporter for format writing to outputPath, or stdout when the
// path is empty or "stdout".
func New(format, outputPath string) (Reporter, error) {
	if !supported(format) {
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	var writer io.WriteCloser
	if outputPath == "" || outputPath == "stdout" {
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}
	return NewWithWriter(format, writer)
}

// NewWithWriter creates a reporter that takes ownership of w.
func NewWithWriter(format string, w io.WriteCloser) (Reporter, error) {
	switch format {
	case "json":
		return NewJSONReporter(w), nil
	case "junit":
		return NewJUnitReporter(w), nil
	case "text":
		return NewTextReporter(w), nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// NewForStream creates a reporter on a stream it does not own, such as a
// command's stdout. Closing the reporter leaves w open.
func NewForStream(format string, w io.Writer) (Reporter, error) {
	return NewWithWriter(format, &nopWriteCloser{w})
}

// WriteArtifacts writes report in every requested format into
// <dir>/<run id>/report<ext>, concurrently. It returns the written paths in
// the order of formats.
func WriteArtifacts(ctx context.Context, dir string, report *schemas.RunReport, formats []string) ([]string, error) {
	for _, f := range formats {
		if !supported(f) {
			return nil, fmt.Errorf("unsupported output format: %s", f)
		}
	}
	runDir := RunDir(dir, report.ID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create artifact directory: %w", err)
	}

	paths := make([]string, len(formats))
	g, ctx := errgroup.WithContext(ctx)
	for i, format := range formats {
		path := filepath.Join(runDir, "report"+Extension(format))
		paths[i] = path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return writeFile(format, path, report)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

// RunDir is the artifact directory of one run.
func RunDir(dir, runID string) string {
	return filepath.Join(dir, runID)
}

func writeFile(format, path string, report *schemas.RunReport) error {
	r, err := New(format, path)
	if err != nil {
		return err
	}
	if err := r.Write(report); err != nil {
		r.Close()
		return fmt.Errorf("failed to write %s report: %w", format, err)
	}
	if err := r.Close(); err != nil {
		return fmt.Errorf("failed to close %s report: %w", format, err)
	}
	return nil
}

func supported(format string) bool {
	for _, f := range Formats {
		if f == format {
			return true
		}
	}
	return false
}
