package schema

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed definitions.yaml
var builtinDefinitions []byte

// Definitions is the on-disk layout of a schema definition file.
type Definitions struct {
	AttributeTypes []AttributeType `yaml:"attributeTypes"`
	ObjectClasses  []ObjectClass   `yaml:"objectClasses"`
}

var (
	builtinOnce sync.Once
	builtin     Definitions
	builtinErr  error
)

// Default returns a registry holding the built-in core, cosine,
// inetOrgPerson, NIS and Active Directory definitions.
func Default() *Registry {
	builtinOnce.Do(func() {
		builtinErr = yaml.Unmarshal(builtinDefinitions, &builtin)
	})
	if builtinErr != nil {
		panic(fmt.Sprintf("built-in schema definitions are invalid: %v", builtinErr))
	}

	r := New()
	if err := r.apply(builtin); err != nil {
		panic(fmt.Sprintf("built-in schema definitions are invalid: %v", err))
	}
	return r
}

// LoadDefinitions merges YAML definitions from rd into the registry. Unknown
// fields are rejected.
func (r *Registry) LoadDefinitions(rd io.Reader) error {
	dec := yaml.NewDecoder(rd)
	dec.KnownFields(true)

	var defs Definitions
	if err := dec.Decode(&defs); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to decode schema definitions: %w", err)
	}
	return r.apply(defs)
}

// LoadFile merges the YAML definitions stored at path.
func (r *Registry) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open schema file: %w", err)
	}
	defer f.Close()

	if err := r.LoadDefinitions(f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func (r *Registry) apply(defs Definitions) error {
	for i, at := range defs.AttributeTypes {
		if err := r.AddAttributeType(at); err != nil {
			return fmt.Errorf("attributeTypes[%d]: %w", i, err)
		}
	}
	for i, oc := range defs.ObjectClasses {
		if err := r.AddObjectClass(oc); err != nil {
			return fmt.Errorf("objectClasses[%d]: %w", i, err)
		}
	}
	return nil
}
