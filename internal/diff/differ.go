package diff

import (
	"slices"

	"github.com/isometry/ldifdiff/internal/ldap"
)

// DiffEntries returns the add/delete modifications that turn source into
// target, which must share a DN. Object-class changes come first (delete,
// then add), then the source's attribute types in source order (add, then
// delete), then types present only in target. Modifications on ignored
// attribute types are dropped last. Neither entry is modified.
func DiffEntries(source, target *ldap.Entry, ignored *AttributeFilter) []ldap.Modification {
	var mods []ldap.Modification

	if removed := source.ObjectClasses.Minus(target.ObjectClasses); len(removed) > 0 {
		mods = append(mods, newModification(ldap.ModDelete, source.ObjectClasses, removed))
	}
	if added := target.ObjectClasses.Minus(source.ObjectClasses); len(added) > 0 {
		mods = append(mods, newModification(ldap.ModAdd, target.ObjectClasses, added))
	}

	for _, sourceAttr := range source.UserAttributes() {
		targetAttr, ok := target.Attribute(sourceAttr.Key)
		if !ok {
			mods = append(mods, newModification(ldap.ModDelete, sourceAttr, sourceAttr.Values()))
			continue
		}

		if added := targetAttr.Minus(sourceAttr); len(added) > 0 {
			mods = append(mods, newModification(ldap.ModAdd, sourceAttr, added))
		}
		if removed := sourceAttr.Minus(targetAttr); len(removed) > 0 {
			mods = append(mods, newModification(ldap.ModDelete, sourceAttr, removed))
		}
	}

	for _, targetAttr := range target.UserAttributes() {
		if _, ok := source.Attribute(targetAttr.Key); !ok {
			mods = append(mods, newModification(ldap.ModAdd, targetAttr, targetAttr.Values()))
		}
	}

	mods = slices.DeleteFunc(mods, func(m ldap.Modification) bool {
		return ignored.Excludes(m.Key)
	})
	if len(mods) == 0 {
		return nil
	}
	return mods
}

func newModification(modType ldap.ModType, attr *ldap.Attribute, values []string) ldap.Modification {
	return ldap.Modification{
		Type:      modType,
		Attribute: attr.Name,
		Key:       attr.Key,
		Values:    values,
	}
}
