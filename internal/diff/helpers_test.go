package diff

import (
	"context"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/isometry/ldifdiff/internal/ldap"
	"github.com/isometry/ldifdiff/internal/ldif"
	"github.com/isometry/ldifdiff/internal/schema"
)

func decoder(text string) *ldif.Decoder {
	return decoderWith(text, schema.Default())
}

func decoderWith(text string, s ldif.Schema) *ldif.Decoder {
	return ldif.NewDecoder(strings.NewReader(text), s, false)
}

func snapshotFromLDIF(t *testing.T, text string) *Snapshot {
	t.Helper()

	snapshot, err := LoadSnapshot(context.Background(), decoder(text), nil, nil)
	require.NoError(t, err)
	return snapshot
}

func entryFromLDIF(t *testing.T, text string) *ldap.Entry {
	t.Helper()

	snapshot := snapshotFromLDIF(t, text)
	require.Equal(t, 1, snapshot.Len())
	for entry := range snapshot.All() {
		return entry
	}
	return nil
}

func dnStrings(entries []*ldap.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.DN.String())
	}
	return out
}

// applyModifications replays mods against entry and returns the resulting
// object classes and user attributes as match-key sets.
func applyModifications(entry *ldap.Entry, mods []ldap.Modification) (map[string][]string, map[string][]string) {
	oc := map[string][]string{"objectclass": entry.ObjectClasses.Values()}
	attrs := make(map[string][]string)
	for _, attr := range entry.UserAttributes() {
		attrs[attr.Key] = attr.Values()
	}

	for _, mod := range mods {
		target := attrs
		if mod.Key == "objectclass" {
			target = oc
		}

		switch mod.Type {
		case ldap.ModAdd:
			target[mod.Key] = append(target[mod.Key], mod.Values...)
		case ldap.ModDelete:
			target[mod.Key] = slices.DeleteFunc(target[mod.Key], func(v string) bool {
				return slices.Contains(mod.Values, v)
			})
			if len(target[mod.Key]) == 0 {
				delete(target, mod.Key)
			}
		}
	}

	for _, m := range []map[string][]string{oc, attrs} {
		for key := range m {
			slices.Sort(m[key])
		}
	}
	return oc, attrs
}

func contents(entry *ldap.Entry) (map[string][]string, map[string][]string) {
	return applyModifications(entry, nil)
}

// mockSink is a testify mock of Sink.
type mockSink struct {
	mock.Mock
}

func (m *mockSink) WriteAdd(entry *ldap.Entry) error {
	return m.Called(entry.DN.String()).Error(0)
}

func (m *mockSink) WriteDelete(entry *ldap.Entry, includeContent bool) error {
	return m.Called(entry.DN.String(), includeContent).Error(0)
}

func (m *mockSink) WriteModify(dn ldap.DN, mods []ldap.Modification) error {
	return m.Called(dn.String(), mods).Error(0)
}

func (m *mockSink) WriteComment(msg string) error {
	return m.Called(msg).Error(0)
}

// recordingSink keeps a one-line summary of every call.
type recordingSink struct {
	calls []string
}

func (r *recordingSink) WriteAdd(entry *ldap.Entry) error {
	r.calls = append(r.calls, "add "+entry.DN.String())
	return nil
}

func (r *recordingSink) WriteDelete(entry *ldap.Entry, _ bool) error {
	r.calls = append(r.calls, "delete "+entry.DN.String())
	return nil
}

func (r *recordingSink) WriteModify(dn ldap.DN, mods []ldap.Modification) error {
	parts := make([]string, 0, len(mods))
	for _, mod := range mods {
		parts = append(parts, mod.Type.String()+":"+mod.Attribute+"="+strings.Join(mod.Values, "|"))
	}
	r.calls = append(r.calls, "modify "+dn.String()+" "+strings.Join(parts, ","))
	return nil
}

func (r *recordingSink) WriteComment(msg string) error {
	r.calls = append(r.calls, "# "+msg)
	return nil
}
