package diff

import (
	"iter"

	"github.com/isometry/ldifdiff/internal/ldap"
)

// Class says on which side of the comparison a DN was found.
type Class int

const (
	// Added entries exist only in the target.
	Added Class = iota
	// Deleted entries exist only in the source.
	Deleted
	// Common entries exist on both sides and may or may not differ.
	Common
)

func (c Class) String() string {
	switch c {
	case Added:
		return "added"
	case Deleted:
		return "deleted"
	case Common:
		return "common"
	default:
		return "unknown"
	}
}

// Classified is one step of the merge-join.
type Classified struct {
	Class  Class
	Source *ldap.Entry // nil for Added
	Target *ldap.Entry // nil for Deleted
}

// DN returns the DN the classification refers to.
func (c Classified) DN() ldap.DN {
	if c.Source != nil {
		return c.Source.DN
	}
	return c.Target.DN
}

// Merge walks source and target in DN order and classifies every DN. The
// sequence is lazy and ends early when the consumer stops.
func Merge(source, target *Snapshot) iter.Seq[Classified] {
	return func(yield func(Classified) bool) {
		var s, t []*ldap.Entry
		if source != nil {
			s = source.entries
		}
		if target != nil {
			t = target.entries
		}

		i, j := 0, 0
		for i < len(s) && j < len(t) {
			var c Classified
			switch cmp := s[i].DN.Compare(t[j].DN); {
			case cmp < 0:
				c = Classified{Class: Deleted, Source: s[i]}
				i++
			case cmp > 0:
				c = Classified{Class: Added, Target: t[j]}
				j++
			default:
				c = Classified{Class: Common, Source: s[i], Target: t[j]}
				i++
				j++
			}
			if !yield(c) {
				return
			}
		}

		for ; i < len(s); i++ {
			if !yield(Classified{Class: Deleted, Source: s[i]}) {
				return
			}
		}
		for ; j < len(t); j++ {
			if !yield(Classified{Class: Added, Target: t[j]}) {
				return
			}
		}
	}
}
