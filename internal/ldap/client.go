package ldap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// Client reads from one directory through a connection pool.
type Client struct {
	pool   *ConnectionPool
	config *ConnectionConfig
	logger Logger
}

// NewClient creates a client for config. Servers are resolved immediately;
// connections are opened on first use.
func NewClient(ctx context.Context, config *ConnectionConfig, logger Logger) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = NopLogger{}
	}

	logger.Debug("Creating directory client", map[string]any{
		"domain":          config.Domain,
		"ldap_urls_count": len(config.LDAPURLs),
		"auth_method":     config.GetAuthMethod().String(),
		"use_tls":         config.UseTLS,
		"max_connections": config.MaxConnections,
	})

	pool, err := NewConnectionPool(ctx, config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &Client{
		pool:   pool,
		config: config,
		logger: logger,
	}, nil
}

// Close closes the client and all its connections.
func (c *Client) Close() error {
	return c.pool.Close()
}

// Stats returns pool statistics.
func (c *Client) Stats() PoolStats {
	return c.pool.Stats()
}

// Ping opens (or reuses) a connection and reads the root DSE.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.RootDSE(ctx, "defaultNamingContext")
	return err
}

// RootDSE reads attrs from the root DSE.
func (c *Client) RootDSE(ctx context.Context, attrs ...string) (*ldap.Entry, error) {
	conn, err := c.pool.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	req := ldap.NewSearchRequest(
		"",
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		1, int(c.config.Timeout.Seconds()), false,
		"(objectClass=*)",
		attrs,
		nil,
	)

	var result *ldap.SearchResult
	err = c.withRetry(ctx, func() error {
		var searchErr error
		result, searchErr = conn.Conn().Search(req)
		return searchErr
	})
	if err != nil {
		return nil, fmt.Errorf("root DSE search failed: %w", err)
	}
	if len(result.Entries) == 0 {
		return nil, errors.New("no root DSE found")
	}
	return result.Entries[0], nil
}

// NamingContext returns the default naming context advertised by the
// server, or its first naming context.
func (c *Client) NamingContext(ctx context.Context) (string, error) {
	entry, err := c.RootDSE(ctx, "defaultNamingContext", "namingContexts")
	if err != nil {
		return "", err
	}

	if dn := entry.GetAttributeValue("defaultNamingContext"); dn != "" {
		return dn, nil
	}
	if contexts := entry.GetAttributeValues("namingContexts"); len(contexts) > 0 {
		return contexts[0], nil
	}
	return "", errors.New("root DSE advertises no naming context")
}

// NewPagedSearch prepares a paged search. Nothing is sent until the first
// NextPage call.
func (c *Client) NewPagedSearch(req *SearchRequest) (*PagedSearch, error) {
	if req == nil {
		return nil, errors.New("search request cannot be nil")
	}

	acquire := func(ctx context.Context) (searcher, func(), error) {
		conn, err := c.pool.Get(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get connection: %w", err)
		}
		return conn.Conn(), conn.Close, nil
	}

	return newPagedSearch(req, c.config.PageSize, acquire, c.withRetry, c.logger), nil
}

// withRetry executes an operation with exponential backoff while it fails
// with a retryable error.
func (c *Client) withRetry(ctx context.Context, operation func() error) error {
	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Debug("Retrying operation", map[string]any{
				"attempt":    attempt,
				"max_retry":  c.config.MaxRetries,
				"backoff_ms": backoff.Milliseconds(),
				"last_error": lastErr.Error(),
			})
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryableError(err) {
			return err
		}

		if attempt == c.config.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff = min(time.Duration(float64(backoff)*c.config.BackoffFactor), c.config.MaxBackoff)
		}
	}

	c.logger.Error("Operation failed after all retries exhausted", map[string]any{
		"total_attempts": c.config.MaxRetries + 1,
		"final_error":    lastErr.Error(),
	})

	return NewConnectionError("operation failed after retries", false, lastErr)
}

// isRetryableError determines if an error should be retried.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var retryable RetryableError
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}

	if ldap.IsErrorWithCode(err, ldap.LDAPResultBusy) ||
		ldap.IsErrorWithCode(err, ldap.LDAPResultUnavailable) ||
		ldap.IsErrorWithCode(err, ldap.LDAPResultServerDown) ||
		ldap.IsErrorWithCode(err, ldap.ErrorNetwork) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "timeout")
}
