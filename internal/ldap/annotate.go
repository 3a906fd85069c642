package ldap

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/go-objectsid"
	"github.com/google/uuid"
)

// GUIDBytesLength is the length of a binary objectGUID value.
const GUIDBytesLength = 16

// Annotator renders binary Active Directory identifiers in a readable form
// for change-log comments. Values it does not recognise are left to the
// caller.
type Annotator struct {
	sidAttributes  map[string]bool
	guidAttributes map[string]bool
}

// NewAnnotator creates an annotator for the well-known AD binary identifier
// attributes. Keys are canonical (lower-case) attribute identifiers.
func NewAnnotator() *Annotator {
	return &Annotator{
		sidAttributes: map[string]bool{
			"objectsid":              true,
			"securityidentifier":     true,
			"sidhistory":             true,
			"msds-creatorsid":        true,
			"tokengroups":            true,
			"msexchmasteraccountsid": true,
		},
		guidAttributes: map[string]bool{
			"objectguid":           true,
			"msds-consistencyguid": true,
			"schemaidguid":         true,
		},
	}
}

// Format returns a readable rendering of value for attrKey and whether the
// annotator handled it. Attribute options in attrKey are ignored.
func (a *Annotator) Format(attrKey, value string) (string, bool) {
	attrKey, _, _ = strings.Cut(attrKey, ";")
	switch {
	case a.sidAttributes[attrKey]:
		sid, err := ConvertBinarySIDToString([]byte(value))
		if err != nil {
			return "", false
		}
		return sid, true
	case a.guidAttributes[attrKey]:
		guid, err := GUIDBytesToString([]byte(value))
		if err != nil {
			return "", false
		}
		return guid, true
	default:
		return "", false
	}
}

// ConvertBinarySIDToString converts a binary SID to its S-1-5-21-... form.
func ConvertBinarySIDToString(binarySID []byte) (string, error) {
	// revision, sub-authority count and the 6-byte identifier authority
	if len(binarySID) < 8 {
		return "", fmt.Errorf("binary SID too short: %d bytes", len(binarySID))
	}
	if want := 8 + 4*int(binarySID[1]); len(binarySID) != want {
		return "", fmt.Errorf("invalid binary SID length: expected %d, got %d", want, len(binarySID))
	}

	sid := objectsid.Decode(binarySID)
	return sid.String(), nil
}

// GUIDBytesToString converts Active Directory GUID bytes to the hyphenated
// string form. AD stores the first three GUID fields little-endian.
func GUIDBytesToString(guidBytes []byte) (string, error) {
	if len(guidBytes) != GUIDBytesLength {
		return "", fmt.Errorf("invalid GUID byte length: expected %d, got %d", GUIDBytesLength, len(guidBytes))
	}

	var standard uuid.UUID
	standard[0], standard[1], standard[2], standard[3] = guidBytes[3], guidBytes[2], guidBytes[1], guidBytes[0]
	standard[4], standard[5] = guidBytes[5], guidBytes[4]
	standard[6], standard[7] = guidBytes[7], guidBytes[6]
	copy(standard[8:], guidBytes[8:])

	return standard.String(), nil
}
