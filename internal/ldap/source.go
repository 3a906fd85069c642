package ldap

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/go-ldap/ldap/v3"
)

// pageReader yields search result pages until io.EOF.
type pageReader interface {
	NextPage(ctx context.Context) ([]*ldap.Entry, error)
	Close()
}

// DirectorySource reads a snapshot from a live directory, one entry at a
// time. Entries arrive in server order.
type DirectorySource struct {
	ctx     context.Context
	pages   pageReader
	builder *EntryBuilder
	client  *Client
	pending []*ldap.Entry
}

// NewDirectorySource builds entries from the pages of search. ctx bounds
// every page request.
func NewDirectorySource(ctx context.Context, search *PagedSearch, schema Schema) *DirectorySource {
	return newDirectorySource(ctx, search, schema)
}

func newDirectorySource(ctx context.Context, pages pageReader, schema Schema) *DirectorySource {
	return &DirectorySource{
		ctx:     ctx,
		pages:   pages,
		builder: NewEntryBuilder(schema),
	}
}

// OpenDirectory connects to the directory named by rawURL with the
// connection settings of base, and starts a paged search over it. An URL
// without a host is resolved through SRV records for base.Domain, or for
// the domain named by the dc= components of its base DN.
func OpenDirectory(ctx context.Context, rawURL string, base *ConnectionConfig, schema Schema, logger Logger) (*DirectorySource, error) {
	searchURL, err := ParseSearchURL(rawURL)
	if err != nil {
		return nil, err
	}

	config := DefaultConfig()
	if base != nil {
		copied := *base
		config = &copied
	}
	if config.TLSConfig != nil {
		config.TLSConfig = config.TLSConfig.Clone()
	}

	if server := searchURL.ServerURL(); server != "" {
		config.LDAPURLs = []string{server}
	} else {
		config.LDAPURLs = nil
		if config.Domain == "" {
			config.Domain = DomainFromDN(searchURL.BaseDN)
		}
		if config.Domain == "" {
			return nil, fmt.Errorf("LDAP URL %q names no host and no domain is configured for discovery", rawURL)
		}
	}

	client, err := NewClient(ctx, config, logger)
	if err != nil {
		return nil, err
	}

	baseDN := searchURL.BaseDN
	if baseDN == "" {
		if baseDN, err = client.NamingContext(ctx); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to determine base DN: %w", err)
		}
	}

	search, err := client.NewPagedSearch(searchURL.Request(baseDN, config.Timeout))
	if err != nil {
		client.Close()
		return nil, err
	}

	source := NewDirectorySource(ctx, search, schema)
	source.client = client
	return source, nil
}

// Next returns the next entry, or io.EOF when the search is exhausted.
func (s *DirectorySource) Next() (*Entry, error) {
	for len(s.pending) == 0 {
		page, err := s.pages.NextPage(s.ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, WrapError("search directory", ErrorCategoryUnknown, err)
		}
		s.pending = page
	}

	raw := s.pending[0]
	s.pending[0] = nil
	s.pending = s.pending[1:]

	entry, err := s.builder.Build(raw)
	if err != nil {
		return nil, NewOperationError("build entry", ErrorCategoryDecode, err).WithDN(raw.DN)
	}
	return entry, nil
}

// Close stops the search and closes the client opened by OpenDirectory.
func (s *DirectorySource) Close() error {
	s.pages.Close()
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
