// package formatter writes export data to disk: tab-separated query results, run manifests and property files
package formatter

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/desertthunder/exporter/internal/models"
	"github.com/desertthunder/exporter/internal/shared"
)

// ManifestFilename is the name of the manifest written into each working directory.
const ManifestFilename = "export_manifest.json"

var valueEscaper = strings.NewReplacer(
	`\`, `\\`,
	"\r", `\r`,
	"\t", `\t`,
	"\n", `\n`,
	"\x00", "",
)

// EscapeValue renders a database value as a TSV field.
//
// NULL becomes the literal NULL and embedded backslashes, tabs, newlines and carriage returns are escaped.
// NUL bytes are dropped.
func EscapeValue(v any) string {
	var s string
	switch v := v.(type) {
	case nil:
		s = "NULL"
	case []byte:
		if v == nil {
			s = "NULL"
		} else {
			s = string(v)
		}
	case string:
		s = v
	case time.Time:
		s = formatTime(v)
	case bool:
		if v {
			s = "1"
		} else {
			s = "0"
		}
	default:
		s = fmt.Sprint(v)
	}
	return valueEscaper.Replace(s)
}

func formatTime(t time.Time) string {
	if t.Nanosecond() != 0 {
		return t.Format("2006-01-02 15:04:05.000000")
	}
	return t.Format(time.DateTime)
}

// Rows is the subset of [database/sql.Rows] used by [WriteRows].
type Rows interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// TSVWriter writes tab-separated records without quoting.
type TSVWriter struct {
	w *bufio.Writer
}

// NewTSVWriter creates a TSVWriter on w.
func NewTSVWriter(w io.Writer) *TSVWriter {
	return &TSVWriter{w: bufio.NewWriter(w)}
}

// Write writes one record followed by a newline.
func (t *TSVWriter) Write(fields []string) error {
	if _, err := t.w.WriteString(strings.Join(fields, "\t")); err != nil {
		return err
	}
	return t.w.WriteByte('\n')
}

// WriteValues escapes values with [EscapeValue] and writes them as one record.
func (t *TSVWriter) WriteValues(values []any) error {
	fields := make([]string, len(values))
	for i, v := range values {
		fields[i] = EscapeValue(v)
	}
	return t.Write(fields)
}

// Flush writes any buffered data to the underlying writer.
func (t *TSVWriter) Flush() error {
	return t.w.Flush()
}

// WriteRows writes a header of column names followed by every row and returns the number of data rows written.
func WriteRows(w io.Writer, rows Rows) (int, error) {
	cols, err := rows.Columns()
	if err != nil {
		return 0, fmt.Errorf("failed to read columns: %w", err)
	}

	tw := NewTSVWriter(w)
	if err := tw.Write(cols); err != nil {
		return 0, fmt.Errorf("failed to write TSV header: %w", err)
	}

	values := make([]any, len(cols))
	dest := make([]any, len(cols))
	for i := range values {
		dest[i] = &values[i]
	}

	count := 0
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return count, fmt.Errorf("failed to scan row %d: %w", count+1, err)
		}
		if err := tw.WriteValues(values); err != nil {
			return count, fmt.Errorf("failed to write TSV record: %w", err)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return count, fmt.Errorf("row iteration failed: %w", err)
	}

	if err := tw.Flush(); err != nil {
		return count, fmt.Errorf("TSV writer error: %w", err)
	}
	return count, nil
}

// Manifest describes the artifacts of one scope instance.
type Manifest struct {
	RunID        string            `json:"run_id"`
	Organization string            `json:"organization,omitempty"`
	Course       string            `json:"course,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	Produced     int               `json:"produced"`
	Failed       int               `json:"failed"`
	Artifacts    []models.Artifact `json:"artifacts"`
}

// NewManifest builds a manifest and counts produced and failed artifacts.
func NewManifest(runID, org, course string, artifacts []models.Artifact) Manifest {
	m := Manifest{
		RunID:        runID,
		Organization: org,
		Course:       course,
		CreatedAt:    time.Now().UTC(),
		Artifacts:    artifacts,
	}
	for _, a := range artifacts {
		if a.Failed() {
			m.Failed++
		} else {
			m.Produced++
		}
	}
	return m
}

// WriteManifest writes m as indented JSON into dir and returns the file path.
//
// Artifact paths are written relative to dir when possible.
func WriteManifest(dir string, m Manifest) (string, error) {
	rel := make([]models.Artifact, len(m.Artifacts))
	for i, a := range m.Artifacts {
		if p, err := filepath.Rel(dir, a.Path); err == nil && !strings.HasPrefix(p, "..") {
			a.Path = p
		}
		rel[i] = a
	}
	m.Artifacts = rel

	data, err := shared.MarshalJSON(m, true)
	if err != nil {
		return "", fmt.Errorf("failed to generate manifest JSON: %w", err)
	}

	path := filepath.Join(dir, ManifestFilename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write manifest file: %w", err)
	}
	return path, nil
}

// Properties are the KEY=VALUE parameters handed to a downstream job for one organization.
type Properties struct {
	Organization string
	Bucket       string
	Prefix       string
	Extra        string // appended verbatim, newline terminated
}

// FormatProperties renders p as a property file.
func FormatProperties(p Properties) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "ORG=%s\n", p.Organization)
	fmt.Fprintf(&b, "OUTPUT_BUCKET=%s\n", p.Bucket)
	fmt.Fprintf(&b, "OUTPUT_PREFIX=%s\n", p.Prefix)
	b.WriteString(p.Extra)
	return []byte(b.String())
}

// WriteProperties writes the property file for p.Organization into dir.
func WriteProperties(dir string, p Properties) (string, error) {
	path := filepath.Join(dir, p.Organization)
	if err := os.WriteFile(path, FormatProperties(p), 0644); err != nil {
		return "", fmt.Errorf("failed to write property file: %w", err)
	}
	return path, nil
}

// LoadIncludes concatenates files, making sure each one ends with a newline.
func LoadIncludes(files []string) (string, error) {
	var b strings.Builder
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return "", fmt.Errorf("failed to read include file %s: %w", f, err)
		}
		b.Write(data)
		if len(data) == 0 || data[len(data)-1] != '\n' {
			b.WriteByte('\n')
		}
	}
	return b.String(), nil
}
