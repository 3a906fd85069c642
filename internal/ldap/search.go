package ldap

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// searcher is the part of *ldap.Conn a paged search needs.
type searcher interface {
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
}

type acquireFunc func(ctx context.Context) (searcher, func(), error)

type retryFunc func(ctx context.Context, operation func() error) error

// PagedSearch walks a search result with the simple paged results control,
// one page per NextPage call. The connection is held from the first page
// until the last one (the paging cookie is bound to it).
type PagedSearch struct {
	request *SearchRequest
	paging  *ldap.ControlPaging
	acquire acquireFunc
	retry   retryFunc
	logger  Logger

	conn    searcher
	release func()

	pages   int
	entries int
	done    bool
	start   time.Time
}

func newPagedSearch(req *SearchRequest, pageSize uint32, acquire acquireFunc, retry retryFunc, logger Logger) *PagedSearch {
	if logger == nil {
		logger = NopLogger{}
	}
	if retry == nil {
		retry = func(_ context.Context, operation func() error) error { return operation() }
	}
	return &PagedSearch{
		request: req,
		paging:  ldap.NewControlPaging(pageSize),
		acquire: acquire,
		retry:   retry,
		logger:  logger,
	}
}

// NextPage returns the entries of the next page, or io.EOF once the server
// has returned the last one.
func (s *PagedSearch) NextPage(ctx context.Context) ([]*ldap.Entry, error) {
	if s.done {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		s.Close()
		return nil, err
	}

	if s.conn == nil {
		conn, release, err := s.acquire(ctx)
		if err != nil {
			s.done = true
			return nil, err
		}
		s.conn, s.release = conn, release
		s.start = time.Now()

		s.logger.Debug("Starting paged search", map[string]any{
			"base_dn":    s.request.BaseDN,
			"scope":      s.request.Scope.String(),
			"filter":     s.request.Filter,
			"attributes": s.request.Attributes,
			"page_size":  s.paging.PagingSize,
		})
	}

	req := ldap.NewSearchRequest(
		s.request.BaseDN,
		int(s.request.Scope),
		ldap.NeverDerefAliases,
		0, // no size limit when paging
		int(s.request.TimeLimit.Seconds()),
		false,
		s.request.Filter,
		s.request.Attributes,
		[]ldap.Control{s.paging},
	)

	var result *ldap.SearchResult
	search := func() error {
		var err error
		result, err = s.conn.Search(req)
		return err
	}

	// Only the first page can be retried: later pages depend on the cookie.
	var err error
	if s.pages == 0 {
		err = s.retry(ctx, search)
	} else {
		err = search()
	}
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("paged search failed: %w", err)
	}

	s.pages++
	s.entries += len(result.Entries)

	s.logger.Trace("Completed search page", map[string]any{
		"page_number":     s.pages,
		"entries_in_page": len(result.Entries),
		"total_entries":   s.entries,
	})

	if len(result.Referrals) > 0 {
		s.logger.Warn("Search returned referrals that are not followed", map[string]any{
			"referrals": result.Referrals,
		})
	}

	control, ok := ldap.FindControl(result.Controls, ldap.ControlTypePaging).(*ldap.ControlPaging)
	if !ok || len(control.Cookie) == 0 {
		s.logger.Debug("Paged search completed", map[string]any{
			"base_dn":       s.request.BaseDN,
			"pages":         s.pages,
			"total_entries": s.entries,
			"duration_ms":   time.Since(s.start).Milliseconds(),
		})
		s.Close()
	} else {
		s.paging.SetCookie(control.Cookie)
	}

	return result.Entries, nil
}

// Close releases the connection. Further NextPage calls return io.EOF.
func (s *PagedSearch) Close() {
	s.done = true
	if s.release != nil {
		s.release()
		s.release = nil
	}
	s.conn = nil
}

// SearchURL is a parsed RFC 4516 LDAP URL:
//
//	ldap[s]://[host[:port]]/[dn[?[attributes][?[scope][?[filter][?extensions]]]]]
type SearchURL struct {
	Scheme     string // ldap or ldaps
	Host       string // host[:port]; empty selects SRV discovery
	BaseDN     string // empty selects the server's naming context
	Attributes []string
	Scope      SearchScope
	Filter     string
}

// IsSearchURL reports whether s names a directory rather than a file.
func IsSearchURL(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "ldap://") || strings.HasPrefix(lower, "ldaps://")
}

// ParseSearchURL parses an LDAP URL. Unlike RFC 4516 the scope defaults to
// the whole subtree; the filter defaults to (objectClass=*). Critical
// extensions are rejected.
func ParseSearchURL(rawURL string) (*SearchURL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid LDAP URL: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "ldap" && scheme != "ldaps" {
		return nil, fmt.Errorf("unsupported scheme %q, must be ldap or ldaps", u.Scheme)
	}

	parsed := &SearchURL{
		Scheme: scheme,
		Host:   u.Host,
		BaseDN: strings.TrimPrefix(u.Path, "/"),
		Scope:  ScopeWholeSubtree,
		Filter: "(objectClass=*)",
	}

	if parsed.BaseDN != "" {
		if _, err := ParseDN(parsed.BaseDN); err != nil {
			return nil, fmt.Errorf("invalid base DN in LDAP URL: %w", err)
		}
	}

	parts := strings.Split(u.RawQuery, "?")
	if len(parts) > 4 {
		return nil, fmt.Errorf("too many components in LDAP URL")
	}
	for i := range parts {
		if parts[i], err = url.PathUnescape(parts[i]); err != nil {
			return nil, fmt.Errorf("invalid escape in LDAP URL: %w", err)
		}
	}

	if len(parts) > 0 && parts[0] != "" {
		for attr := range strings.SplitSeq(parts[0], ",") {
			if attr = strings.TrimSpace(attr); attr != "" {
				parsed.Attributes = append(parsed.Attributes, attr)
			}
		}
	}

	if len(parts) > 1 && parts[1] != "" {
		switch strings.ToLower(parts[1]) {
		case "base":
			parsed.Scope = ScopeBaseObject
		case "one":
			parsed.Scope = ScopeSingleLevel
		case "sub":
			parsed.Scope = ScopeWholeSubtree
		default:
			return nil, fmt.Errorf("invalid scope %q in LDAP URL (expected base, one or sub)", parts[1])
		}
	}

	if len(parts) > 2 && parts[2] != "" {
		if _, err := ldap.CompileFilter(parts[2]); err != nil {
			return nil, fmt.Errorf("invalid filter in LDAP URL: %w", err)
		}
		parsed.Filter = parts[2]
	}

	if len(parts) > 3 && parts[3] != "" {
		for ext := range strings.SplitSeq(parts[3], ",") {
			if strings.HasPrefix(strings.TrimSpace(ext), "!") {
				return nil, fmt.Errorf("unsupported critical extension %q in LDAP URL", ext)
			}
		}
	}

	return parsed, nil
}

// ServerURL returns the scheme and host part, or "" when the host is left
// to discovery.
func (u *SearchURL) ServerURL() string {
	if u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// Request builds the search request for u, with baseDN standing in for an
// empty base DN.
func (u *SearchURL) Request(baseDN string, timeLimit time.Duration) *SearchRequest {
	if u.BaseDN != "" {
		baseDN = u.BaseDN
	}
	return &SearchRequest{
		BaseDN:     baseDN,
		Scope:      u.Scope,
		Filter:     u.Filter,
		Attributes: u.Attributes,
		TimeLimit:  timeLimit,
	}
}

// DomainFromDN derives a DNS domain from the dc= components of dn.
func DomainFromDN(dn string) string {
	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return ""
	}

	var labels []string
	for _, rdn := range parsed.RDNs {
		for _, attr := range rdn.Attributes {
			if strings.EqualFold(attr.Type, "dc") {
				labels = append(labels, attr.Value)
			}
		}
	}
	return strings.Join(labels, ".")
}
