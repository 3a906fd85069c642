package ldif

import (
	"fmt"
	"io"

	"github.com/isometry/ldifdiff/internal/ldap"
)

// Schema is the registry view the Decoder needs.
type Schema interface {
	ldap.Schema
	KnownAttribute(name string) bool
	KnownObjectClass(name string) bool
}

// Decoder reads LDIF content records and builds model entries.
type Decoder struct {
	reader      *Reader
	builder     *ldap.EntryBuilder
	schema      Schema
	checkSchema bool
}

// NewDecoder creates a Decoder over r. With checkSchema, records that carry
// no object class or name unknown attribute types or object classes are
// rejected.
func NewDecoder(r io.Reader, schema Schema, checkSchema bool, opts ...ReaderOption) *Decoder {
	return &Decoder{
		reader:      NewReader(r, opts...),
		builder:     ldap.NewEntryBuilder(schema),
		schema:      schema,
		checkSchema: checkSchema,
	}
}

// Next returns the next entry, or io.EOF when the input is exhausted.
func (d *Decoder) Next() (*ldap.Entry, error) {
	raw, err := d.reader.Next()
	if err != nil {
		return nil, err
	}

	entry, err := d.builder.Build(raw)
	if err != nil {
		return nil, &ParseError{Line: d.reader.RecordLine(), Err: fmt.Errorf("%w: %v", ErrInvalidLDIF, err)}
	}

	if d.checkSchema {
		if err := d.check(entry); err != nil {
			opErr := ldap.NewOperationError("schema check", ldap.ErrorCategoryDecode, err).WithDN(entry.DN.String())
			return nil, &ParseError{Line: d.reader.RecordLine(), Err: opErr}
		}
	}

	return entry, nil
}

func (d *Decoder) check(entry *ldap.Entry) error {
	if entry.ObjectClasses.Len() == 0 {
		return fmt.Errorf("%w: entry %q has no object classes", ErrSchemaViolation, entry.DN)
	}

	for _, oc := range entry.ObjectClasses.Values() {
		if !d.schema.KnownObjectClass(oc) {
			return fmt.Errorf("%w: entry %q: unknown object class %q", ErrSchemaViolation, entry.DN, oc)
		}
	}

	attrs := append(entry.UserAttributes(), entry.OperationalAttributes()...)
	for _, attr := range attrs {
		if !d.schema.KnownAttribute(attr.Name) {
			return fmt.Errorf("%w: entry %q: unknown attribute type %q", ErrSchemaViolation, entry.DN, attr.Name)
		}
	}

	return nil
}
