// Package filename builds transcript file names from a configurable template.
package filename

import (
	"strings"
	"time"

	"github.com/runlog-project/runlog/internal/audit"
	"github.com/runlog-project/runlog/pkg/config"
	"github.com/runlog-project/runlog/pkg/pathutil"
	"github.com/runlog-project/runlog/pkg/template"
)

// Extension is required for a file to be discovered by the index.
const Extension = ".log"

// Template placeholders.
const (
	PlaceholderID        = "ID"
	PlaceholderUsername  = "USERNAME"
	PlaceholderHostname  = "HOSTNAME"
	PlaceholderIP        = "IP"
	PlaceholderDate      = "DATE"
	PlaceholderAuditName = "AUDIT_NAME"
	PlaceholderScript    = "SCRIPT"
)

// Generator renders transcript file names.
type Generator struct {
	pattern    string
	dateFormat string
	location   *time.Location
}

// New returns a Generator. Empty arguments select the defaults
// "${SCRIPT}_${AUDIT_NAME}_${DATE}" and "060102_150405".
func New(pattern, dateFormat string) *Generator {
	if pattern == "" {
		pattern = config.DefaultFilenamePattern
	}
	if dateFormat == "" {
		dateFormat = config.DefaultDateFormat
	}
	return &Generator{
		pattern:    pattern,
		dateFormat: dateFormat,
		location:   time.Local,
	}
}

// FromConfig returns a Generator for cfg's pattern and date layout.
func FromConfig(cfg *config.Config) *Generator {
	return New(cfg.FilenamePattern, cfg.DateFormat)
}

// In sets the zone used to render ${DATE}.
func (g *Generator) In(loc *time.Location) *Generator {
	g.location = loc
	return g
}

// Filename returns the file name (not a path) for one execution. Values and
// the substituted result are sanitized into single path components, so
// separators in the pattern itself cannot leave the transcript directory.
// Placeholders with no value stay literal. The result always ends in ".log".
func (g *Generator) Filename(executionID string, names audit.Names, scriptName string, startMillis int64) string {
	hostname := names.Hostname()
	if hostname == "" {
		hostname = audit.UnknownHost
	}

	vars := map[string]string{
		PlaceholderID:        executionID,
		PlaceholderHostname:  hostname,
		PlaceholderDate:      time.UnixMilli(startMillis).In(g.location).Format(g.dateFormat),
		PlaceholderAuditName: names.AuditName(),
		PlaceholderScript:    scriptName,
	}
	if u := names.Username(); u != "" {
		vars[PlaceholderUsername] = u
	}
	if ip := names.IP(); ip != "" {
		vars[PlaceholderIP] = ip
	}
	for k, v := range vars {
		vars[k] = pathutil.ToFilename(v)
	}

	name := pathutil.ToFilename(template.Substitute(g.pattern, vars))
	if !strings.HasSuffix(strings.ToLower(name), Extension) {
		name += Extension
	}
	return strings.ReplaceAll(name, " ", "_")
}
