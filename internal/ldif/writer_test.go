package ldif

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/ldifdiff/internal/ldap"
)

func decodeOne(t *testing.T, input string) *ldap.Entry {
	t.Helper()

	entries, err := decodeAll(t, input, false)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	return entries[0]
}

func TestWriter_WriteAdd(t *testing.T) {
	entry := decodeOne(t, `dn: cn=John,dc=x
cn: John
objectClass: person
sn: Doe
createTimestamp: 20240101000000Z
`)

	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf).WriteAdd(entry))

	assert.Equal(t, `dn: cn=John,dc=x
changetype: add
objectClass: person
cn: John
sn: Doe

`, buf.String())
}

func TestWriter_WriteDelete(t *testing.T) {
	sid := []byte{0x01, 0x05, 0x00, 0x00, 0x00, 0x00, 0x00, 0x05,
		0x15, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00,
		0x02, 0x00, 0x00, 0x00, 0x03, 0x00, 0x00, 0x00,
		0xf4, 0x01, 0x00, 0x00}

	entry := decodeOne(t, "dn: cn=b,dc=x\nobjectClass: person\ncn: b\nobjectSid:: "+
		base64.StdEncoding.EncodeToString(sid)+"\nmodifyTimestamp: 20240101000000Z\n")

	t.Run("with content", func(t *testing.T) {
		var buf bytes.Buffer
		w := NewWriter(&buf, WithAnnotator(ldap.NewAnnotator()))
		require.NoError(t, w.WriteDelete(entry, true))

		assert.Equal(t, `dn: cn=b,dc=x
changetype: delete
# objectClass: person
# cn: b
# objectSid: S-1-5-21-1-2-3-500
# modifyTimestamp: 20240101000000Z

`, buf.String())
	})

	t.Run("without annotator binary values are base64", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, NewWriter(&buf).WriteDelete(entry, true))
		assert.Contains(t, buf.String(), "# objectSid:: "+base64.StdEncoding.EncodeToString(sid)+"\n")
	})

	t.Run("without content", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, NewWriter(&buf).WriteDelete(entry, false))
		assert.Equal(t, "dn: cn=b,dc=x\nchangetype: delete\n\n", buf.String())
	})
}

func TestWriter_WriteModify(t *testing.T) {
	var buf bytes.Buffer
	err := NewWriter(&buf).WriteModify(ldap.MustParseDN("cn=a,dc=x"), []ldap.Modification{
		{Type: ldap.ModDelete, Attribute: "objectClass", Key: "objectclass", Values: []string{"account"}},
		{Type: ldap.ModAdd, Attribute: "mail", Key: "mail", Values: []string{"a2@x", "a3@x"}},
		{Type: ldap.ModDelete, Attribute: "description", Key: "description", Values: []string{" leading space"}},
	})
	require.NoError(t, err)

	assert.Equal(t, `dn: cn=a,dc=x
changetype: modify
delete: objectClass
objectClass: account
-
add: mail
mail: a2@x
mail: a3@x
-
delete: description
description:: IGxlYWRpbmcgc3BhY2U=
-

`, buf.String())
}

func TestWriter_WriteComment(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf).WriteComment("No differences were detected\nsecond line"))
	assert.Equal(t, "# No differences were detected\n# second line\n", buf.String())
}

func TestWriter_Folding(t *testing.T) {
	entry := decodeOne(t, "dn: cn=a,dc=x\nobjectClass: person\ndescription: "+strings.Repeat("abcdefghij", 3)+"\n")

	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf, WithWrapColumn(20)).WriteAdd(entry))

	for _, line := range strings.Split(strings.TrimRight(buf.String(), "\n"), "\n") {
		assert.LessOrEqual(t, len(line), 20, "line %q", line)
	}

	roundTrip, err := readAll(t, buf.String())
	require.NoError(t, err)
	require.Len(t, roundTrip, 1)
	assert.Equal(t, strings.Repeat("abcdefghij", 3), roundTrip[0].GetAttributeValue("description"))

	buf.Reset()
	require.NoError(t, NewWriter(&buf, WithWrapColumn(0)).WriteAdd(entry))
	assert.Contains(t, buf.String(), "description: "+strings.Repeat("abcdefghij", 3)+"\n")
}

func TestNeedsBase64Encoding(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{value: "", want: false},
		{value: "plain value", want: false},
		{value: "tab\tinside", want: false},
		{value: " leading space", want: true},
		{value: "trailing space ", want: true},
		{value: ":colon", want: true},
		{value: "<angle", want: true},
		{value: "line\nbreak", want: true},
		{value: "carriage\rreturn", want: true},
		{value: "nul\x00byte", want: true},
		{value: "Jürgen", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			assert.Equal(t, tt.want, needsBase64Encoding(tt.value))
		})
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestWriter_PropagatesWriteErrors(t *testing.T) {
	w := NewWriter(failingWriter{})
	err := w.WriteModify(ldap.MustParseDN("cn=a,dc=x"), []ldap.Modification{
		{Type: ldap.ModAdd, Attribute: "mail", Key: "mail", Values: []string{"a@x"}},
	})
	assert.EqualError(t, err, "disk full")
}
