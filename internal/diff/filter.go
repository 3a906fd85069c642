package diff

import (
	"fmt"

	"github.com/isometry/ldifdiff/internal/ldap"
	"github.com/isometry/ldifdiff/internal/schema"
)

// AttributeResolver maps attribute names to canonical keys.
type AttributeResolver interface {
	AttributeKey(name string) string
	KnownAttribute(name string) bool
}

// DNFilter is the set of DNs excluded from both snapshots. A nil filter
// excludes nothing.
type DNFilter struct {
	keys map[string]struct{}
}

// NewDNFilter parses dns into a filter.
func NewDNFilter(dns []string) (*DNFilter, error) {
	f := &DNFilter{keys: make(map[string]struct{}, len(dns))}
	for _, raw := range dns {
		dn, err := ldap.ParseDN(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid ignored DN %q: %w", raw, err)
		}
		f.keys[dn.Key()] = struct{}{}
	}
	return f, nil
}

// Excludes reports whether dn is ignored.
func (f *DNFilter) Excludes(dn ldap.DN) bool {
	if f == nil {
		return false
	}
	_, ok := f.keys[dn.Key()]
	return ok
}

// Len returns the number of ignored DNs.
func (f *DNFilter) Len() int {
	if f == nil {
		return 0
	}
	return len(f.keys)
}

// AttributeFilter is the set of attribute types dropped from computed
// modifications. A plain type also covers its optioned variants
// ("description" covers "description;lang-en"). A nil filter excludes nothing.
type AttributeFilter struct {
	keys map[string]struct{}
}

// NewAttributeFilter resolves names through resolver. Names the resolver does
// not know are kept (they still match attributes of the same lower-cased
// name) and reported with a warning.
func NewAttributeFilter(names []string, resolver AttributeResolver, logger ldap.Logger) *AttributeFilter {
	if logger == nil {
		logger = ldap.NopLogger{}
	}

	f := &AttributeFilter{keys: make(map[string]struct{}, len(names))}
	for _, name := range names {
		if !resolver.KnownAttribute(name) {
			logger.Warn("Ignored attribute type is not defined in the schema", map[string]any{
				"attribute": name,
			})
		}
		f.keys[resolver.AttributeKey(name)] = struct{}{}
	}
	return f
}

// Excludes reports whether the attribute with canonical key is ignored.
func (f *AttributeFilter) Excludes(key string) bool {
	if f == nil {
		return false
	}
	if _, ok := f.keys[key]; ok {
		return true
	}
	_, ok := f.keys[schema.BaseKey(key)]
	return ok
}

// Len returns the number of ignored attribute types.
func (f *AttributeFilter) Len() int {
	if f == nil {
		return 0
	}
	return len(f.keys)
}
