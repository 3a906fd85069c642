package ldap

import (
	"fmt"

	"github.com/go-ldap/ldap/v3"
)

// ModType is the operation of a Modification. Values match the go-ldap
// change operations so a Modification converts directly to an ldap.Change.
type ModType uint

const (
	ModAdd    = ModType(ldap.AddAttribute)
	ModDelete = ModType(ldap.DeleteAttribute)
)

// String returns the LDIF keyword for the operation.
func (m ModType) String() string {
	switch m {
	case ModAdd:
		return "add"
	case ModDelete:
		return "delete"
	default:
		return fmt.Sprintf("unknown(%d)", uint(m))
	}
}

// Modification adds or removes explicit values of one attribute. A DELETE
// always lists the values it removes so that it can be inverted.
type Modification struct {
	Type      ModType
	Attribute string // type name as written in the input
	Key       string // canonical type identifier
	Values    []string
}

// Change converts m to a go-ldap change.
func (m Modification) Change() ldap.Change {
	return ldap.Change{
		Operation: uint(m.Type),
		Modification: ldap.PartialAttribute{
			Type: m.Attribute,
			Vals: m.Values,
		},
	}
}

// Split fans m out into one modification per value. Modifications with at
// most one value are returned unchanged.
func (m Modification) Split() []Modification {
	if len(m.Values) <= 1 {
		return []Modification{m}
	}

	out := make([]Modification, 0, len(m.Values))
	for _, value := range m.Values {
		out = append(out, Modification{
			Type:      m.Type,
			Attribute: m.Attribute,
			Key:       m.Key,
			Values:    []string{value},
		})
	}
	return out
}

// ChangeKind identifies the kind of a ChangeRecord.
type ChangeKind int

const (
	ChangeAdd ChangeKind = iota
	ChangeDelete
	ChangeModify
)

// String returns the LDIF changetype keyword.
func (k ChangeKind) String() string {
	switch k {
	case ChangeAdd:
		return "add"
	case ChangeDelete:
		return "delete"
	case ChangeModify:
		return "modify"
	default:
		return "unknown"
	}
}

// ChangeRecord is one unit of the change log.
//
// For ChangeAdd, Entry is the entry to create. For ChangeDelete, Entry is the
// deleted entry, kept as a non-executable annotation. For ChangeModify,
// Modifications holds the ordered changes and Entry is nil.
type ChangeRecord struct {
	Kind          ChangeKind
	DN            DN
	Entry         *Entry
	Modifications []Modification
}

// NewAddRecord returns an ADD record for entry.
func NewAddRecord(entry *Entry) ChangeRecord {
	return ChangeRecord{Kind: ChangeAdd, DN: entry.DN, Entry: entry}
}

// NewDeleteRecord returns a DELETE record annotated with entry's content.
func NewDeleteRecord(entry *Entry) ChangeRecord {
	return ChangeRecord{Kind: ChangeDelete, DN: entry.DN, Entry: entry}
}

// NewModifyRecord returns a MODIFY record.
func NewModifyRecord(dn DN, mods []Modification) ChangeRecord {
	return ChangeRecord{Kind: ChangeModify, DN: dn, Modifications: mods}
}

// AddRequest renders an entry as a go-ldap add request: object classes first,
// then user attributes in input order.
func (e *Entry) AddRequest() *ldap.AddRequest {
	req := ldap.NewAddRequest(e.DN.String(), nil)
	if e.ObjectClasses.Len() > 0 {
		req.Attribute(e.ObjectClasses.Name, e.ObjectClasses.Values())
	}
	for _, attr := range e.UserAttributes() {
		req.Attribute(attr.Name, attr.Values())
	}
	return req
}

// ModifyRequest builds a go-ldap modify request from a DN and modifications.
func ModifyRequest(dn DN, mods []Modification) *ldap.ModifyRequest {
	req := ldap.NewModifyRequest(dn.String(), nil)
	for _, mod := range mods {
		req.Changes = append(req.Changes, mod.Change())
	}
	return req
}

// DelRequest builds a go-ldap delete request.
func DelRequest(dn DN) *ldap.DelRequest {
	return ldap.NewDelRequest(dn.String(), nil)
}
