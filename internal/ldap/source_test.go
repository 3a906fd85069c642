package ldap

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPages struct {
	pages  [][]*ldap.Entry
	err    error
	closed bool
}

func (s *stubPages) NextPage(context.Context) ([]*ldap.Entry, error) {
	if len(s.pages) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	page := s.pages[0]
	s.pages = s.pages[1:]
	return page, nil
}

func (s *stubPages) Close() { s.closed = true }

func TestDirectorySource_Next(t *testing.T) {
	pages := &stubPages{pages: [][]*ldap.Entry{
		{rawEntry("dc=example,dc=com", "objectClass", "domain", "dc", "example")},
		{},
		{
			rawEntry("cn=a,dc=example,dc=com", "objectClass", "person", "cn", "a", "createTimestamp", "20240101000000Z"),
			rawEntry("cn=b,dc=example,dc=com", "objectClass", "person", "cn", "b"),
		},
	}}
	source := newDirectorySource(context.Background(), pages, lowerSchema{})

	var dns []string
	for {
		entry, err := source.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		dns = append(dns, entry.DN.String())

		if entry.DN.String() == "cn=a,dc=example,dc=com" {
			_, ok := entry.Attribute("createtimestamp")
			assert.False(t, ok, "operational attributes are kept apart")
			assert.Len(t, entry.OperationalAttributes(), 1)
		}
	}

	assert.Equal(t, []string{"dc=example,dc=com", "cn=a,dc=example,dc=com", "cn=b,dc=example,dc=com"}, dns)

	require.NoError(t, source.Close())
	assert.True(t, pages.closed)
}

func TestDirectorySource_SearchError(t *testing.T) {
	busy := ldap.NewError(ldap.LDAPResultBusy, errors.New("server busy"))
	source := newDirectorySource(context.Background(), &stubPages{err: busy}, lowerSchema{})

	_, err := source.Next()
	require.Error(t, err)
	assert.ErrorIs(t, err, busy)
	assert.Contains(t, err.Error(), "search directory")
}

func TestDirectorySource_BadDN(t *testing.T) {
	pages := &stubPages{pages: [][]*ldap.Entry{{rawEntry("notadn", "cn", "x")}}}
	source := newDirectorySource(context.Background(), pages, lowerSchema{})

	_, err := source.Next()
	require.Error(t, err)
	assert.True(t, IsDecodeError(err))

	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "notadn", opErr.DN)
}

func TestOpenDirectory_InvalidURL(t *testing.T) {
	_, err := OpenDirectory(context.Background(), "ldap://dc1.example.com/dc=example,dc=com??tree", nil, lowerSchema{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid scope")
}

func TestOpenDirectory_NoDomain(t *testing.T) {
	_, err := OpenDirectory(context.Background(), "ldap:///o=example", nil, lowerSchema{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no domain is configured")
}
