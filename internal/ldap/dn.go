package ldap

import (
	"fmt"
	"slices"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"golang.org/x/text/cases"
)

// DN is a parsed Distinguished Name with a canonical comparison key.
//
// Two DNs are equal when their keys are equal. The key lower-cases attribute
// types, case-folds values, sorts the AVAs of multi-valued RDNs and re-escapes
// values per RFC 4514, so "CN=John,DC=Example" and "cn=john,dc=example" are
// the same DN.
type DN struct {
	raw  string
	rdns []string // canonical RDNs, leaf first
	key  string
}

// ParseDN parses a Distinguished Name using go-ldap for RFC 4514 compliance.
// The empty string parses to the root DN.
func ParseDN(dn string) (DN, error) {
	trimmed := strings.TrimSpace(dn)
	if trimmed == "" {
		return DN{raw: ""}, nil
	}

	parsedDN, err := ldap.ParseDN(trimmed)
	if err != nil {
		return DN{}, fmt.Errorf("invalid DN syntax: %w", err)
	}

	rdns := make([]string, 0, len(parsedDN.RDNs))
	for _, rdn := range parsedDN.RDNs {
		rdns = append(rdns, canonicalRDN(rdn))
	}

	return DN{
		raw:  trimmed,
		rdns: rdns,
		key:  strings.Join(rdns, ","),
	}, nil
}

// MustParseDN is like ParseDN but panics on invalid input.
func MustParseDN(dn string) DN {
	parsed, err := ParseDN(dn)
	if err != nil {
		panic(err)
	}
	return parsed
}

// canonicalRDN renders one RDN with lower-case types, folded values and AVAs
// sorted by type so that "sn=a+cn=b" and "cn=b+sn=a" compare equal.
func canonicalRDN(rdn *ldap.RelativeDN) string {
	folder := cases.Fold()
	avas := make([]string, 0, len(rdn.Attributes))
	for _, attr := range rdn.Attributes {
		attrType := strings.ToLower(strings.TrimSpace(attr.Type))
		attrValue := EscapeDNValue(folder.String(attr.Value))
		avas = append(avas, attrType+"="+attrValue)
	}
	slices.Sort(avas)
	return strings.Join(avas, "+")
}

// String returns the DN as it was written in the input.
func (d DN) String() string {
	return d.raw
}

// Key returns the canonical form used for equality and map lookups.
func (d DN) Key() string {
	return d.key
}

// IsRoot reports whether d is the empty (root) DN.
func (d DN) IsRoot() bool {
	return len(d.rdns) == 0
}

// RDNCount returns the number of RDN components.
func (d DN) RDNCount() int {
	return len(d.rdns)
}

// Equal reports whether d and other name the same entry.
func (d DN) Equal(other DN) bool {
	return d.key == other.key
}

// Compare orders DNs hierarchically: RDNs are compared starting at the
// suffix (rightmost) component, and an ancestor sorts before its descendants.
// It returns -1, 0 or +1.
func (d DN) Compare(other DN) int {
	i, j := len(d.rdns)-1, len(other.rdns)-1
	for i >= 0 && j >= 0 {
		if c := strings.Compare(d.rdns[i], other.rdns[j]); c != 0 {
			return c
		}
		i--
		j--
	}

	switch {
	case len(d.rdns) < len(other.rdns):
		return -1
	case len(d.rdns) > len(other.rdns):
		return 1
	default:
		return 0
	}
}

// Parent returns the DN with the leaf RDN removed. The parent of a single-RDN
// DN is the root DN; the root DN has no parent.
func (d DN) Parent() (DN, error) {
	if d.IsRoot() {
		return DN{}, fmt.Errorf("DN has no parent: %q", d.raw)
	}

	parentDN, err := GetDNParent(d.raw)
	if err != nil {
		return DN{}, err
	}
	return ParseDN(parentDN)
}

// IsDescendantOf reports whether d lies strictly below ancestor.
func (d DN) IsDescendantOf(ancestor DN) bool {
	if len(d.rdns) <= len(ancestor.rdns) {
		return false
	}
	offset := len(d.rdns) - len(ancestor.rdns)
	return slices.Equal(d.rdns[offset:], ancestor.rdns)
}

// reconstructDNWithUppercaseTypes rebuilds a DN from parsed components
// with attribute type descriptors in uppercase and values re-escaped.
func reconstructDNWithUppercaseTypes(parsedDN *ldap.DN) string {
	rdnStrings := make([]string, 0, len(parsedDN.RDNs))

	for _, rdn := range parsedDN.RDNs {
		attrStrings := make([]string, 0, len(rdn.Attributes))
		for _, attr := range rdn.Attributes {
			attrStrings = append(attrStrings, strings.ToUpper(attr.Type)+"="+EscapeDNValue(attr.Value))
		}
		rdnStrings = append(rdnStrings, strings.Join(attrStrings, "+"))
	}

	return strings.Join(rdnStrings, ",")
}

// ValidateDNSyntax validates that a string is a properly formatted Distinguished Name.
func ValidateDNSyntax(dn string) error {
	if strings.TrimSpace(dn) == "" {
		return fmt.Errorf("DN cannot be empty")
	}

	if _, err := ldap.ParseDN(dn); err != nil {
		return fmt.Errorf("invalid DN syntax: %w", err)
	}

	return nil
}

// GetDNParent returns the parent DN by removing the first RDN component.
// For example, "CN=John,OU=Users,DC=example,DC=com" becomes "OU=Users,DC=example,DC=com".
func GetDNParent(dn string) (string, error) {
	if dn == "" {
		return "", fmt.Errorf("DN cannot be empty")
	}

	parsedDN, err := ldap.ParseDN(dn)
	if err != nil {
		return "", fmt.Errorf("invalid DN syntax: %w", err)
	}

	if len(parsedDN.RDNs) == 0 {
		return "", fmt.Errorf("DN has no parent: %s", dn)
	}

	parentDN := &ldap.DN{
		RDNs: parsedDN.RDNs[1:],
	}

	return reconstructDNWithUppercaseTypes(parentDN), nil
}

// EscapeDNValue escapes an attribute value for use in a DN string (RFC 4514
// section 2.4): the characters `,+"\<>;` anywhere, a leading '#' or space, a
// trailing space, and NUL as \00.
func EscapeDNValue(value string) string {
	if value == "" {
		return value
	}

	var b strings.Builder
	b.Grow(len(value) + 8)

	last := len(value) - 1
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch {
		case c == 0:
			b.WriteString(`\00`)
			continue
		case strings.IndexByte(`,+"\<>;`, c) >= 0:
			b.WriteByte('\\')
		case c == '#' && i == 0:
			b.WriteByte('\\')
		case c == ' ' && (i == 0 || i == last):
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}

	return b.String()
}
