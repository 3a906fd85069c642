package diff

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/ldifdiff/internal/ldap"
	"github.com/isometry/ldifdiff/internal/ldif"
	"github.com/isometry/ldifdiff/internal/schema"
)

const sourceLDIF = `dn: cn=a,dc=x
objectClass: top
mail: a@x

dn: cn=b,dc=x
objectClass: top
cn: b

dn: cn=c,dc=x
objectClass: top
description: one
description: two
`

const targetLDIF = `dn: cn=a,dc=x
objectClass: top
objectClass: person
mail: a@x
mail: a2@x

dn: cn=c,dc=x
objectClass: top
description: two
description: one
`

const wantChangeLog = `dn: cn=a,dc=x
changetype: modify
add: objectClass
objectClass: person
-
add: mail
mail: a2@x
-

dn: cn=b,dc=x
changetype: delete
# objectClass: top
# cn: b

`

func TestRun_Scenario(t *testing.T) {
	for _, concurrent := range []bool{false, true} {
		var out bytes.Buffer

		result, err := Run(context.Background(), decoder(sourceLDIF), decoder(targetLDIF), ldif.NewWriter(&out), Options{
			ConcurrentLoad: concurrent,
		})
		require.NoError(t, err)

		assert.Equal(t, wantChangeLog, out.String())
		assert.True(t, result.AnyDifference())
		assert.Equal(t, 1, result.Modified)
		assert.Equal(t, 1, result.Deleted)
		assert.Equal(t, 0, result.Added)
		assert.Equal(t, 3, result.Source.Read)
		assert.Equal(t, 2, result.Target.Read)
	}
}

func TestRun_Identity(t *testing.T) {
	var out bytes.Buffer

	result, err := Run(context.Background(), decoder(sourceLDIF), decoder(sourceLDIF), ldif.NewWriter(&out), Options{})
	require.NoError(t, err)

	assert.False(t, result.AnyDifference())
	assert.Equal(t, "# "+NoDifferencesMessage+"\n", out.String())
}

func TestRun_EmptyInputs(t *testing.T) {
	var out bytes.Buffer

	result, err := Run(context.Background(), decoder(""), decoder(""), ldif.NewWriter(&out), Options{})
	require.NoError(t, err)
	assert.False(t, result.AnyDifference())
	assert.Contains(t, out.String(), NoDifferencesMessage)
}

func TestRun_DNExclusionSymmetry(t *testing.T) {
	ignored, err := NewDNFilter([]string{"cn=a,dc=x", "cn=b,dc=x", "cn=new,dc=x"})
	require.NoError(t, err)

	target := targetLDIF + "\ndn: cn=new,dc=x\nobjectClass: top\n"

	sink := &recordingSink{}
	_, err = Run(context.Background(), decoder(sourceLDIF), decoder(target), sink, Options{IgnoredDNs: ignored})
	require.NoError(t, err)
	assert.Equal(t, []string{"# " + NoDifferencesMessage}, sink.calls)
}

func TestRun_IgnoredAttributes(t *testing.T) {
	registry := schema.Default()

	sink := &recordingSink{}
	_, err := Run(context.Background(), decoder(sourceLDIF), decoder(targetLDIF), sink, Options{
		IgnoredAttributes: NewAttributeFilter([]string{"rfc822Mailbox", "objectClass"}, registry, nil),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"delete cn=b,dc=x"}, sink.calls)
}

func TestRun_UnreadableInputs(t *testing.T) {
	broken := "dn: cn=a,dc=x\ncn:: ***\n"

	tests := []struct {
		name       string
		source     string
		target     string
		concurrent bool
		wantErr    error
	}{
		{name: "source", source: broken, target: targetLDIF, wantErr: ldap.ErrSourceUnreadable},
		{name: "target", source: sourceLDIF, target: broken, wantErr: ldap.ErrTargetUnreadable},
		{name: "target concurrent", source: sourceLDIF, target: broken, concurrent: true, wantErr: ldap.ErrTargetUnreadable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			_, err := Run(context.Background(), decoder(tt.source), decoder(tt.target), sink, Options{
				ConcurrentLoad: tt.concurrent,
			})
			require.Error(t, err)

			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, ldif.ErrInvalidBase64)
			assert.True(t, ldap.IsDecodeError(err))
			assert.EqualValues(t, 84, ldap.ResultCode(err))

			var parseErr *ldif.ParseError
			require.ErrorAs(t, err, &parseErr)
			assert.Equal(t, 2, parseErr.Line)

			assert.Empty(t, sink.calls, "nothing is written when an input is unreadable")
		})
	}
}
