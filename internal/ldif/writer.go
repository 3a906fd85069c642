package ldif

import (
	"bufio"
	"encoding/base64"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/isometry/ldifdiff/internal/ldap"
)

// DefaultWrapColumn is the default maximum length of an output line.
const DefaultWrapColumn = 80

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithWrapColumn folds lines longer than n bytes. Zero disables folding.
func WithWrapColumn(n int) WriterOption {
	return func(w *Writer) {
		if n >= 0 {
			w.wrapColumn = n
		}
	}
}

// WithAnnotator renders recognised binary values readably in comments.
func WithAnnotator(a *ldap.Annotator) WriterOption {
	return func(w *Writer) {
		w.annotator = a
	}
}

// Writer writes LDIF change records. Every record is flushed to the
// underlying writer before the call returns.
type Writer struct {
	w          *bufio.Writer
	wrapColumn int
	annotator  *ldap.Annotator
}

// NewWriter creates a Writer over w.
func NewWriter(w io.Writer, opts ...WriterOption) *Writer {
	lw := &Writer{
		w:          bufio.NewWriter(w),
		wrapColumn: DefaultWrapColumn,
	}
	for _, opt := range opts {
		opt(lw)
	}
	return lw
}

// WriteAdd writes an add change record carrying the entry's object classes
// and user attributes.
func (w *Writer) WriteAdd(entry *ldap.Entry) error {
	req := entry.AddRequest()

	w.writeAttrValue("dn", req.DN)
	w.writeLine("changetype: add")
	for _, attr := range req.Attributes {
		for _, value := range attr.Vals {
			w.writeAttrValue(attr.Type, value)
		}
	}
	return w.endRecord()
}

// WriteDelete writes a delete change record. With includeContent the full
// entry follows as comment lines.
func (w *Writer) WriteDelete(entry *ldap.Entry, includeContent bool) error {
	req := ldap.DelRequest(entry.DN)

	w.writeAttrValue("dn", req.DN)
	w.writeLine("changetype: delete")

	if includeContent {
		attrs := []*ldap.Attribute{entry.ObjectClasses}
		attrs = append(attrs, entry.UserAttributes()...)
		attrs = append(attrs, entry.OperationalAttributes()...)

		for _, attr := range attrs {
			for _, value := range attr.Values() {
				w.writeCommentedValue(attr, value)
			}
		}
	}
	return w.endRecord()
}

// WriteModify writes a modify change record with one block per modification.
func (w *Writer) WriteModify(dn ldap.DN, mods []ldap.Modification) error {
	req := ldap.ModifyRequest(dn, mods)

	w.writeAttrValue("dn", req.DN)
	w.writeLine("changetype: modify")
	for _, change := range req.Changes {
		w.writeLine(ldap.ModType(change.Operation).String() + ": " + change.Modification.Type)
		for _, value := range change.Modification.Vals {
			w.writeAttrValue(change.Modification.Type, value)
		}
		w.writeLine("-")
	}
	return w.endRecord()
}

// WriteComment writes msg as comment lines, one per line of msg.
func (w *Writer) WriteComment(msg string) error {
	for line := range strings.Lines(msg) {
		w.writeLine("# " + strings.TrimRight(line, "\r\n"))
	}
	return w.w.Flush()
}

func (w *Writer) writeAttrValue(name, value string) {
	if needsBase64Encoding(value) {
		w.writeLine(name + ":: " + base64.StdEncoding.EncodeToString([]byte(value)))
		return
	}
	w.writeLine(name + ": " + value)
}

func (w *Writer) writeCommentedValue(attr *ldap.Attribute, value string) {
	if w.annotator != nil {
		if text, ok := w.annotator.Format(attr.Key, value); ok {
			w.writeLine("# " + attr.Name + ": " + text)
			return
		}
	}

	if needsBase64Encoding(value) {
		w.writeLine("# " + attr.Name + ":: " + base64.StdEncoding.EncodeToString([]byte(value)))
		return
	}
	w.writeLine("# " + attr.Name + ": " + value)
}

// writeLine writes line, folding it at the wrap column. Continuation lines
// start with a single space. Multi-byte characters are never split.
func (w *Writer) writeLine(line string) {
	if w.wrapColumn <= 1 || len(line) <= w.wrapColumn {
		w.w.WriteString(line)
		w.w.WriteByte('\n')
		return
	}

	width := w.wrapColumn
	for len(line) > width {
		cut := width
		for cut > 1 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		w.w.WriteString(line[:cut])
		w.w.WriteString("\n ")
		line = line[cut:]
		width = w.wrapColumn - 1
	}
	w.w.WriteString(line)
	w.w.WriteByte('\n')
}

func (w *Writer) endRecord() error {
	w.w.WriteByte('\n')
	return w.w.Flush()
}

// needsBase64Encoding reports whether value is not an RFC 2849 SAFE-STRING.
// Values with a trailing space are encoded too.
func needsBase64Encoding(value string) bool {
	if value == "" {
		return false
	}

	switch value[0] {
	case ' ', ':', '<':
		return true
	}
	if value[len(value)-1] == ' ' {
		return true
	}

	for i := 0; i < len(value); i++ {
		b := value[i]
		if b == 0 || b == '\n' || b == '\r' || b > 0x7F {
			return true
		}
	}
	return false
}
