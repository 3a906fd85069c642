package ldap

import (
	"fmt"
	"slices"

	"github.com/go-ldap/ldap/v3"
)

// ObjectClassAttribute is the attribute type name used for object classes.
const ObjectClassAttribute = "objectClass"

// Schema resolves attribute types, object classes and values to the canonical
// keys used for comparison.
type Schema interface {
	// AttributeKey returns the canonical identifier for an attribute type name,
	// alias or OID.
	AttributeKey(name string) string
	// ObjectClassKey returns the canonical identifier for an object class name or OID.
	ObjectClassKey(name string) string
	// IsObjectClassAttribute reports whether key identifies the objectClass attribute.
	IsObjectClassAttribute(key string) bool
	// IsOperational reports whether key identifies an operational attribute.
	IsOperational(key string) bool
	// ValueKey returns the match key for a value of the given attribute type.
	ValueKey(attrKey, value string) string
}

// Attribute is a named set of values. Values keep the order in which they were
// first added; duplicates (by match key) are dropped.
type Attribute struct {
	Name string // type name as first written in the input
	Key  string // canonical type identifier

	values []string
	keys   []string
	index  map[string]int
}

// NewAttribute creates an empty attribute.
func NewAttribute(name, key string) *Attribute {
	return &Attribute{
		Name:  name,
		Key:   key,
		index: make(map[string]int),
	}
}

// add inserts value under matchKey and reports whether it was new.
func (a *Attribute) add(value, matchKey string) bool {
	if _, exists := a.index[matchKey]; exists {
		return false
	}
	a.index[matchKey] = len(a.values)
	a.values = append(a.values, value)
	a.keys = append(a.keys, matchKey)
	return true
}

// Values returns a copy of the raw values.
func (a *Attribute) Values() []string {
	if a == nil {
		return nil
	}
	return slices.Clone(a.values)
}

// Len returns the number of distinct values.
func (a *Attribute) Len() int {
	if a == nil {
		return 0
	}
	return len(a.values)
}

// Minus returns the values of a whose match key is not present in other,
// in a's order. A nil other yields all of a's values.
func (a *Attribute) Minus(other *Attribute) []string {
	if a == nil {
		return nil
	}

	var out []string
	for i, key := range a.keys {
		if other != nil {
			if _, found := other.index[key]; found {
				continue
			}
		}
		out = append(out, a.values[i])
	}
	return out
}

// Equal reports set equality of match keys.
func (a *Attribute) Equal(other *Attribute) bool {
	if a.Len() != other.Len() {
		return false
	}
	return len(a.Minus(other)) == 0
}

// Entry is an in-memory directory entry: a DN, its object classes and its
// user attributes keyed by canonical type. Entries are not modified after
// construction.
type Entry struct {
	DN            DN
	ObjectClasses *Attribute

	attributes  map[string]*Attribute
	order       []string
	operational []*Attribute
}

// NewEntry creates an empty entry.
func NewEntry(dn DN) *Entry {
	return &Entry{
		DN:            dn,
		ObjectClasses: NewAttribute(ObjectClassAttribute, "objectclass"),
		attributes:    make(map[string]*Attribute),
	}
}

// Attribute returns the user attribute with the given canonical key.
func (e *Entry) Attribute(key string) (*Attribute, bool) {
	attr, ok := e.attributes[key]
	return attr, ok
}

// AttributeKeys returns the canonical keys of the user attributes in input order.
func (e *Entry) AttributeKeys() []string {
	return slices.Clone(e.order)
}

// UserAttributes returns the user attributes in input order.
func (e *Entry) UserAttributes() []*Attribute {
	attrs := make([]*Attribute, 0, len(e.order))
	for _, key := range e.order {
		attrs = append(attrs, e.attributes[key])
	}
	return attrs
}

// OperationalAttributes returns the operational attributes retained for display.
func (e *Entry) OperationalAttributes() []*Attribute {
	return slices.Clone(e.operational)
}

// EntryBuilder converts decoded go-ldap entries into Entries using a Schema.
type EntryBuilder struct {
	schema Schema
}

// NewEntryBuilder creates a builder bound to schema.
func NewEntryBuilder(schema Schema) *EntryBuilder {
	return &EntryBuilder{schema: schema}
}

// Build converts raw into an Entry. Attribute lines that repeat a type (by
// alias, OID or case) are merged into one attribute.
func (b *EntryBuilder) Build(raw *ldap.Entry) (*Entry, error) {
	if raw == nil {
		return nil, fmt.Errorf("entry cannot be nil")
	}

	dn, err := ParseDN(raw.DN)
	if err != nil {
		return nil, err
	}

	entry := NewEntry(dn)
	operational := make(map[string]*Attribute)

	for _, rawAttr := range raw.Attributes {
		if len(rawAttr.Values) == 0 {
			continue
		}
		key := b.schema.AttributeKey(rawAttr.Name)

		switch {
		case b.schema.IsObjectClassAttribute(key):
			if entry.ObjectClasses.Len() == 0 {
				entry.ObjectClasses.Name = rawAttr.Name
				entry.ObjectClasses.Key = key
			}
			for _, value := range rawAttr.Values {
				entry.ObjectClasses.add(value, b.schema.ObjectClassKey(value))
			}

		case b.schema.IsOperational(key):
			attr, ok := operational[key]
			if !ok {
				attr = NewAttribute(rawAttr.Name, key)
				operational[key] = attr
				entry.operational = append(entry.operational, attr)
			}
			for _, value := range rawAttr.Values {
				attr.add(value, value)
			}

		default:
			attr, ok := entry.attributes[key]
			if !ok {
				attr = NewAttribute(rawAttr.Name, key)
				entry.attributes[key] = attr
				entry.order = append(entry.order, key)
			}
			for _, value := range rawAttr.Values {
				attr.add(value, b.schema.ValueKey(key, value))
			}
		}
	}

	return entry, nil
}
