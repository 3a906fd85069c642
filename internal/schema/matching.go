package schema

import (
	"slices"
	"strconv"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// foldCase returns the Unicode case fold of s. A Caser is stateful, so one is
// made per call.
func foldCase(s string) string {
	return cases.Fold().String(s)
}

// normalize applies the named equality rule to value. Unknown rules compare
// exactly.
func (r *Registry) normalize(rule, value string) string {
	switch strings.ToLower(rule) {
	case "caseignorematch", "caseignoreia5match", "caseignorelistmatch":
		return foldCase(collapseSpaces(norm.NFKC.String(value)))
	case "caseexactmatch", "caseexactia5match":
		return collapseSpaces(norm.NFKC.String(value))
	case "numericstringmatch":
		return stripChars(value, " ")
	case "telephonenumbermatch":
		return foldCase(stripChars(value, " -"))
	case "distinguishednamematch", "uniquemembermatch":
		return dnValueKey(value)
	case "objectidentifiermatch":
		return r.oidValueKey(value)
	case "integermatch":
		v := strings.TrimSpace(value)
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return strconv.FormatInt(n, 10)
		}
		return v
	case "booleanmatch":
		return strings.ToUpper(strings.TrimSpace(value))
	default:
		return value
	}
}

// collapseSpaces trims value and reduces inner whitespace runs to one space.
func collapseSpaces(value string) string {
	return strings.Join(strings.Fields(value), " ")
}

func stripChars(value, chars string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(chars, r) {
			return -1
		}
		return r
	}, value)
}

// dnValueKey canonicalizes a DN-valued attribute value. Values that do not
// parse as DNs compare exactly.
func dnValueKey(value string) string {
	parsed, err := ldap.ParseDN(value)
	if err != nil {
		return value
	}

	rdns := make([]string, 0, len(parsed.RDNs))
	for _, rdn := range parsed.RDNs {
		avas := make([]string, 0, len(rdn.Attributes))
		for _, ava := range rdn.Attributes {
			avas = append(avas, strings.ToLower(ava.Type)+"="+foldCase(collapseSpaces(ava.Value)))
		}
		slices.Sort(avas)
		rdns = append(rdns, strings.Join(avas, "+"))
	}
	return strings.Join(rdns, ",")
}

// oidValueKey resolves a descriptor or numeric OID naming an attribute type or
// object class to its canonical key.
func (r *Registry) oidValueKey(value string) string {
	v := strings.TrimSpace(value)
	if at, ok := r.LookupAttribute(v); ok {
		return at.Key()
	}
	return r.ObjectClassKey(v)
}

func canonicalOptions(options []string) string {
	lowered := make([]string, 0, len(options))
	for _, option := range options {
		if option = strings.ToLower(strings.TrimSpace(option)); option != "" {
			lowered = append(lowered, option)
		}
	}
	slices.Sort(lowered)
	return strings.Join(slices.Compact(lowered), ";")
}
