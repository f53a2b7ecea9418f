// Package transcript reads and writes execution transcript files: a
// key:value header, a marker line, then the raw output body.
package transcript

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"runtime"
	"strings"

	"github.com/runlog-project/runlog/pkg/errclass"
	"github.com/runlog-project/runlog/pkg/model"
)

// Marker separates the header from the body. It appears on a line of its own.
const Marker = ">>>>>  OUTPUT STARTED <<<<<"

// LineSeparator terminates header lines and the marker line.
var LineSeparator = platformLineSeparator()

func platformLineSeparator() string {
	if runtime.GOOS == "windows" {
		return "\r\n"
	}
	return "\n"
}

// ErrMalformedHeader is returned when a header starts with a continuation line.
var ErrMalformedHeader = errors.New("header starts with a continuation line")

// fieldLine matches the start of a header field. The value group keeps the
// line terminator.
var fieldLine = regexp.MustCompile(`^([A-Za-z0-9_]+):((?s).*)$`)

// Field is one header key and value.
type Field struct {
	Key   string
	Value string
}

// EncodeField renders a single header line.
func EncodeField(key, value string) string {
	return key + ":" + value + LineSeparator
}

// EncodeHeader renders fields in order followed by the marker line.
func EncodeHeader(fields []Field) string {
	var b strings.Builder
	for _, f := range fields {
		b.WriteString(EncodeField(f.Key, f.Value))
	}
	b.WriteString(Marker)
	b.WriteString(LineSeparator)
	return b.String()
}

// ReadHeader reads lines from r up to the marker line and returns the text
// before it. wellFormed is false when r ends without a marker line.
//
// A line is the marker when it equals Marker after dropping one trailing
// '\n'; a trailing '\r' is not dropped.
func ReadHeader(r io.Reader) (wellFormed bool, header string, err error) {
	br := bufio.NewReader(r)
	var b strings.Builder

	for {
		line, readErr := br.ReadString('\n')
		if line != "" {
			if strings.TrimSuffix(line, "\n") == Marker {
				return true, b.String(), nil
			}
			b.WriteString(line)
		}
		if readErr == io.EOF {
			return false, b.String(), nil
		}
		if readErr != nil {
			return false, "", fmt.Errorf("read header: %w", readErr)
		}
	}
}

// DecodeHeader turns header text into a field map. Lines that do not start
// a field are appended to the previous field's value. One trailing '\n' is
// removed from every value. For duplicate keys the last one wins.
func DecodeHeader(header string) (map[string]string, error) {
	fields := make(map[string]string)

	var (
		key   string
		value strings.Builder
		open  bool
	)
	flush := func() {
		if open {
			fields[key] = strings.TrimSuffix(value.String(), "\n")
		}
	}

	for _, line := range splitLinesKeepEnds(header) {
		m := fieldLine.FindStringSubmatch(line)
		if m == nil {
			if !open {
				return nil, ErrMalformedHeader
			}
			value.WriteString(line)
			continue
		}

		flush()
		key = m[1]
		value.Reset()
		value.WriteString(m[2])
		open = true
	}
	flush()

	return fields, nil
}

func splitLinesKeepEnds(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// markerIndex returns the offset of the marker line in content, or -1.
// Only an occurrence at the start of a line that is followed by a line end
// (or end of content) counts.
func markerIndex(content []byte) int {
	marker := []byte(Marker)
	offset := 0
	for {
		i := bytes.Index(content[offset:], marker)
		if i < 0 {
			return -1
		}
		at := offset + i
		atLineStart := at == 0 || content[at-1] == '\n'
		rest := content[at+len(marker):]
		atLineEnd := len(rest) == 0 || rest[0] == '\n' || bytes.HasPrefix(rest, []byte("\r\n"))
		if atLineStart && atLineEnd {
			return at
		}
		offset = at + 1
	}
}

// SplitBody returns the bytes after the marker line. One leading "\r\n" or
// LineSeparator is stripped.
func SplitBody(content []byte) ([]byte, bool) {
	i := markerIndex(content)
	if i < 0 {
		return nil, false
	}
	body := content[i+len(Marker):]
	switch {
	case bytes.HasPrefix(body, []byte("\r\n")):
		body = body[2:]
	case bytes.HasPrefix(body, []byte(LineSeparator)):
		body = body[len(LineSeparator):]
	}
	return body, true
}

// InsertField appends a header field just before the marker line. Everything
// from the marker on is copied unchanged.
func InsertField(content []byte, key, value string) ([]byte, error) {
	i := markerIndex(content)
	if i < 0 {
		return nil, errclass.ErrTranscriptMalformed.WithMessage("no output marker")
	}
	line := EncodeField(key, value)

	out := make([]byte, 0, len(content)+len(line))
	out = append(out, content[:i]...)
	out = append(out, line...)
	out = append(out, content[i:]...)
	return out, nil
}

// ReadEntry parses the header of the transcript at path.
//
// A file without a marker, with an undecodable header or without an id
// yields an error wrapping errclass.ErrTranscriptMalformed.
func ReadEntry(path string) (*model.HistoryEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	wellFormed, header, err := ReadHeader(f)
	if err != nil {
		return nil, err
	}
	if !wellFormed {
		return nil, errclass.ErrTranscriptMalformed.WithMessage("no output marker")
	}

	fields, err := DecodeHeader(header)
	if err != nil {
		return nil, errclass.ErrTranscriptMalformed.WithMessage(err.Error())
	}

	entry, err := model.EntryFromFields(fields)
	if err != nil {
		return nil, errclass.ErrTranscriptMalformed.WithMessage(err.Error())
	}
	if entry == nil {
		return nil, errclass.ErrTranscriptMalformed.WithMessage("missing id")
	}
	return entry, nil
}
