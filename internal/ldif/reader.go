// Package ldif reads LDIF content records and writes LDIF change records.
package ldif

import (
	"bufio"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// LDIF errors.
var (
	ErrInvalidLDIF           = errors.New("invalid LDIF format")
	ErrMissingDN             = errors.New("missing DN in LDIF record")
	ErrInvalidBase64         = errors.New("invalid base64 encoding")
	ErrUnsupportedChangeType = errors.New("unsupported change type")
	ErrUnsupportedURL        = errors.New("unsupported URL value")
	ErrSchemaViolation       = errors.New("schema violation")
)

const defaultMaxLineSize = 16 * 1024 * 1024

// ParseError reports the line on which an LDIF problem was found.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithMaxLineSize bounds the length of one physical line.
func WithMaxLineSize(n int) ReaderOption {
	return func(r *Reader) {
		if n > 0 {
			r.maxLineSize = n
		}
	}
}

// WithURLValues enables or disables "attr:< file://..." values.
func WithURLValues(enabled bool) ReaderOption {
	return func(r *Reader) {
		r.urlValues = enabled
	}
}

// Reader streams LDIF content records as go-ldap entries.
type Reader struct {
	scanner     *bufio.Scanner
	maxLineSize int
	urlValues   bool

	line       int
	recordLine int
	peeked     bool
	peekText   string
	seenRecord bool
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader, opts ...ReaderOption) *Reader {
	rd := &Reader{
		maxLineSize: defaultMaxLineSize,
		urlValues:   true,
	}
	for _, opt := range opts {
		opt(rd)
	}

	rd.scanner = bufio.NewScanner(r)
	rd.scanner.Buffer(make([]byte, 0, min(64*1024, rd.maxLineSize)), rd.maxLineSize)
	return rd
}

// Line returns the number of the last physical line read.
func (r *Reader) Line() int {
	return r.line
}

// RecordLine returns the first line of the most recently returned record.
func (r *Reader) RecordLine() int {
	return r.recordLine
}

// Next returns the next content record, or io.EOF when the input is exhausted.
func (r *Reader) Next() (*ldap.Entry, error) {
	var entry *ldap.Entry

	for {
		text, line, ok := r.logicalLine()
		if !ok {
			break
		}

		if strings.TrimSpace(text) == "" {
			if entry != nil {
				return entry, nil
			}
			continue
		}

		// Comments, including their folded continuations.
		if text[0] == '#' {
			continue
		}

		if text[0] == ' ' {
			return nil, &ParseError{Line: line, Err: fmt.Errorf("%w: continuation line without a preceding line", ErrInvalidLDIF)}
		}

		name, value, err := r.parseAttrValue(text)
		if err != nil {
			return nil, &ParseError{Line: line, Err: err}
		}

		if entry == nil {
			if !r.seenRecord && strings.EqualFold(name, "version") {
				if strings.TrimSpace(value) != "1" {
					return nil, &ParseError{Line: line, Err: fmt.Errorf("%w: unsupported version %q", ErrInvalidLDIF, value)}
				}
				continue
			}
			if !strings.EqualFold(name, "dn") {
				return nil, &ParseError{Line: line, Err: ErrMissingDN}
			}

			r.seenRecord = true
			r.recordLine = line
			entry = &ldap.Entry{DN: strings.TrimSpace(value)}
			continue
		}

		switch {
		case strings.EqualFold(name, "dn"):
			return nil, &ParseError{Line: line, Err: fmt.Errorf("%w: records must be separated by a blank line", ErrInvalidLDIF)}
		case strings.EqualFold(name, "changetype"):
			if !strings.EqualFold(strings.TrimSpace(value), "add") {
				return nil, &ParseError{Line: line, Err: fmt.Errorf("%w: %q", ErrUnsupportedChangeType, value)}
			}
		case strings.EqualFold(name, "control"):
			// Controls only apply to change records being replayed.
		default:
			appendValue(entry, name, value)
		}
	}

	if err := r.scanner.Err(); err != nil {
		return nil, &ParseError{Line: r.line + 1, Err: fmt.Errorf("%w: %v", ErrInvalidLDIF, err)}
	}

	if entry != nil {
		return entry, nil
	}
	return nil, io.EOF
}

func (r *Reader) readPhysical() (string, bool) {
	if r.peeked {
		r.peeked = false
		return r.peekText, true
	}
	if !r.scanner.Scan() {
		return "", false
	}
	r.line++
	return strings.TrimSuffix(r.scanner.Text(), "\r"), true
}

// logicalLine returns the next line with folded continuations joined, and the
// number of its first physical line.
func (r *Reader) logicalLine() (string, int, bool) {
	first, ok := r.readPhysical()
	if !ok {
		return "", 0, false
	}
	line := r.line

	if first == "" {
		return "", line, true
	}

	var b strings.Builder
	b.WriteString(first)
	for {
		next, ok := r.readPhysical()
		if !ok {
			break
		}
		if strings.HasPrefix(next, " ") {
			b.WriteString(next[1:])
			continue
		}
		r.peeked = true
		r.peekText = next
		break
	}
	return b.String(), line, true
}

// parseAttrValue splits "name: value", "name:: base64" and "name:< url".
func (r *Reader) parseAttrValue(text string) (string, string, error) {
	name, rest, found := strings.Cut(text, ":")
	name = strings.TrimRight(name, " ")
	if !found || name == "" {
		return "", "", fmt.Errorf("%w: missing attribute separator in %q", ErrInvalidLDIF, text)
	}

	switch {
	case strings.HasPrefix(rest, ":"):
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(rest[1:]))
		if err != nil {
			return "", "", fmt.Errorf("%w: attribute %s: %v", ErrInvalidBase64, name, err)
		}
		return name, string(decoded), nil
	case strings.HasPrefix(rest, "<"):
		value, err := r.readURL(strings.TrimSpace(rest[1:]))
		if err != nil {
			return "", "", fmt.Errorf("attribute %s: %w", name, err)
		}
		return name, value, nil
	default:
		return name, strings.TrimLeft(rest, " "), nil
	}
}

func (r *Reader) readURL(raw string) (string, error) {
	if !r.urlValues {
		return "", fmt.Errorf("%w: URL values are disabled", ErrUnsupportedURL)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedURL, err)
	}
	if !strings.EqualFold(u.Scheme, "file") {
		return "", fmt.Errorf("%w: scheme %q", ErrUnsupportedURL, u.Scheme)
	}

	data, err := os.ReadFile(u.Path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedURL, err)
	}
	return string(data), nil
}

// appendValue adds value to the attribute named name, keeping the first
// spelling of the name seen in the record.
func appendValue(entry *ldap.Entry, name, value string) {
	for _, attr := range entry.Attributes {
		if strings.EqualFold(attr.Name, name) {
			attr.Values = append(attr.Values, value)
			attr.ByteValues = append(attr.ByteValues, []byte(value))
			return
		}
	}

	entry.Attributes = append(entry.Attributes, &ldap.EntryAttribute{
		Name:       name,
		Values:     []string{value},
		ByteValues: [][]byte{[]byte(value)},
	})
}
