package schema

import (
	"fmt"
	"strings"
	"sync"
)

// MatchingMode selects how attribute values are compared.
type MatchingMode string

const (
	// MatchExact compares raw values byte for byte.
	MatchExact MatchingMode = "exact"
	// MatchSchema normalizes values with the attribute type's equality rule.
	MatchSchema MatchingMode = "schema"
)

// ParseMatchingMode validates a matching mode name.
func ParseMatchingMode(s string) (MatchingMode, error) {
	switch MatchingMode(strings.ToLower(strings.TrimSpace(s))) {
	case MatchExact, "":
		return MatchExact, nil
	case MatchSchema:
		return MatchSchema, nil
	default:
		return "", fmt.Errorf("invalid value matching mode %q (expected %q or %q)", s, MatchExact, MatchSchema)
	}
}

// AttributeType describes one attribute type definition.
type AttributeType struct {
	OID         string   `yaml:"oid"`
	Names       []string `yaml:"names"`
	Equality    string   `yaml:"equality,omitempty"`
	Operational bool     `yaml:"operational,omitempty"`
}

// Key returns the canonical identifier: the lower-cased primary name, or the
// OID for unnamed types.
func (a *AttributeType) Key() string {
	if len(a.Names) > 0 {
		return strings.ToLower(a.Names[0])
	}
	return a.OID
}

// ObjectClass describes one object class definition.
type ObjectClass struct {
	OID   string   `yaml:"oid"`
	Names []string `yaml:"names"`
}

// Key returns the canonical identifier of the object class.
func (o *ObjectClass) Key() string {
	if len(o.Names) > 0 {
		return strings.ToLower(o.Names[0])
	}
	return o.OID
}

// Registry resolves attribute type and object class identifiers (names,
// aliases, OIDs, any case) to canonical keys. A Registry is safe for
// concurrent reads once populated.
type Registry struct {
	mu         sync.RWMutex
	attributes map[string]*AttributeType
	classes    map[string]*ObjectClass
	matching   MatchingMode
}

// New returns an empty registry using exact value matching.
func New() *Registry {
	return &Registry{
		attributes: make(map[string]*AttributeType),
		classes:    make(map[string]*ObjectClass),
		matching:   MatchExact,
	}
}

// SetMatching selects the value matching mode.
func (r *Registry) SetMatching(mode MatchingMode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matching = mode
}

// Matching returns the value matching mode.
func (r *Registry) Matching() MatchingMode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.matching
}

// AddAttributeType registers at under its OID and every name. A later
// definition replaces an earlier one for the same identifiers.
func (r *Registry) AddAttributeType(at AttributeType) error {
	if at.OID == "" && len(at.Names) == 0 {
		return fmt.Errorf("attribute type needs an OID or a name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	def := at
	for _, id := range identifiers(def.OID, def.Names) {
		r.attributes[id] = &def
	}
	return nil
}

// AddObjectClass registers oc under its OID and every name.
func (r *Registry) AddObjectClass(oc ObjectClass) error {
	if oc.OID == "" && len(oc.Names) == 0 {
		return fmt.Errorf("object class needs an OID or a name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	def := oc
	for _, id := range identifiers(def.OID, def.Names) {
		r.classes[id] = &def
	}
	return nil
}

func identifiers(oid string, names []string) []string {
	ids := make([]string, 0, len(names)+1)
	if oid != "" {
		ids = append(ids, strings.ToLower(oid))
	}
	for _, name := range names {
		ids = append(ids, strings.ToLower(name))
	}
	return ids
}

// splitOptions separates an attribute description into its type and its
// options ("description;lang-en" -> "description", ["lang-en"]).
func splitOptions(name string) (string, []string) {
	parts := strings.Split(strings.TrimSpace(name), ";")
	return parts[0], parts[1:]
}

// LookupAttribute returns the definition for an attribute type name, alias or
// OID. Attribute options are ignored.
func (r *Registry) LookupAttribute(name string) (*AttributeType, bool) {
	base, _ := splitOptions(name)

	r.mu.RLock()
	defer r.mu.RUnlock()

	at, ok := r.attributes[strings.ToLower(base)]
	return at, ok
}

// KnownAttribute reports whether name resolves to a registered attribute type.
func (r *Registry) KnownAttribute(name string) bool {
	_, ok := r.LookupAttribute(name)
	return ok
}

// KnownObjectClass reports whether name resolves to a registered object class.
func (r *Registry) KnownObjectClass(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.classes[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// AttributeKey returns the canonical identifier of an attribute description.
// Aliases, OIDs and case variants of one type share a key; options are kept,
// lower-cased and sorted (so "cn;lang-de" and "commonName;LANG-DE" match).
// Unknown types fall back to their lower-cased name.
func (r *Registry) AttributeKey(name string) string {
	base, options := splitOptions(name)

	key := strings.ToLower(base)
	if at, ok := r.LookupAttribute(base); ok {
		key = at.Key()
	}

	if len(options) == 0 {
		return key
	}
	return key + ";" + canonicalOptions(options)
}

// BaseKey strips attribute options from a canonical key.
func BaseKey(key string) string {
	base, _, _ := strings.Cut(key, ";")
	return base
}

// ObjectClassKey returns the canonical identifier of an object class.
func (r *Registry) ObjectClassKey(name string) string {
	id := strings.ToLower(strings.TrimSpace(name))

	r.mu.RLock()
	defer r.mu.RUnlock()

	if oc, ok := r.classes[id]; ok {
		return oc.Key()
	}
	return id
}

// IsObjectClassAttribute reports whether key identifies the objectClass attribute.
func (r *Registry) IsObjectClassAttribute(key string) bool {
	return key == "objectclass"
}

// IsOperational reports whether key identifies an operational attribute.
func (r *Registry) IsOperational(key string) bool {
	at, ok := r.LookupAttribute(BaseKey(key))
	return ok && at.Operational
}

// ValueKey returns the match key for value. Under MatchExact it is the value
// itself; under MatchSchema the equality rule of the attribute type is applied.
func (r *Registry) ValueKey(attrKey, value string) string {
	if r.Matching() != MatchSchema {
		return value
	}

	at, ok := r.LookupAttribute(BaseKey(attrKey))
	if !ok {
		return value
	}
	return r.normalize(at.Equality, value)
}
