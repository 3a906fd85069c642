package ldap

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// MaxConnectionPoolLimit is the maximum allowed connections in a pool.
const MaxConnectionPoolLimit = 100

// ConnectionPool hands out authenticated connections to one directory.
type ConnectionPool struct {
	logger      Logger
	config      *ConnectionConfig
	servers     []*ServerInfo
	connections chan *PooledConnection
	mu          sync.RWMutex
	closed      bool

	activeConns  int64
	totalCreated int64
	totalErrors  int64
	startTime    time.Time
}

// NewConnectionPool validates config, resolves the server list and prepares
// the TLS configuration. No connection is opened until Get.
func NewConnectionPool(ctx context.Context, config *ConnectionConfig, logger Logger) (*ConnectionPool, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = NopLogger{}
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := prepareTLSConfig(config); err != nil {
		return nil, fmt.Errorf("invalid TLS configuration: %w", err)
	}

	pool := &ConnectionPool{
		logger:      logger,
		config:      config,
		connections: make(chan *PooledConnection, config.MaxConnections),
		startTime:   time.Now(),
	}

	if err := pool.discoverServers(ctx); err != nil {
		return nil, fmt.Errorf("server discovery failed: %w", err)
	}

	return pool, nil
}

// discoverServers resolves the configured URLs, or the domain through SRV
// records.
func (p *ConnectionPool) discoverServers(ctx context.Context) error {
	var servers []*ServerInfo

	switch {
	case len(p.config.LDAPURLs) > 0:
		for _, url := range p.config.LDAPURLs {
			server, err := ParseLDAPURL(url)
			if err != nil {
				return fmt.Errorf("invalid LDAP URL %s: %w", url, err)
			}
			servers = append(servers, server)
		}
	case p.config.Domain != "":
		ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()

		discovered, err := NewSRVDiscovery(p.logger).DiscoverServers(ctx, p.config.Domain)
		if err != nil {
			return err
		}
		servers = discovered
	default:
		return errors.New("either domain or LDAP URLs must be specified")
	}

	if len(servers) == 0 {
		return errors.New("no servers discovered")
	}

	p.logger.Debug("Directory servers resolved", map[string]any{
		"server_count": len(servers),
		"first_server": ServerInfoToURL(servers[0]),
	})

	p.mu.Lock()
	p.servers = servers
	p.mu.Unlock()
	return nil
}

// Get returns an idle connection or dials a new one. Callers must Close
// the returned connection to hand it back.
func (p *ConnectionPool) Get(ctx context.Context) (*PooledConnection, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, errors.New("connection pool is closed")
	}
	p.mu.RUnlock()

	select {
	case conn := <-p.connections:
		if p.isConnectionHealthy(conn) {
			conn.lastUsed = time.Now()
			atomic.AddInt64(&p.activeConns, 1)
			return conn, nil
		}
		p.closeConnection(conn)
	default:
	}

	return p.createConnection(ctx)
}

// createConnection tries every server, with exponential backoff between
// rounds.
func (p *ConnectionPool) createConnection(ctx context.Context) (*PooledConnection, error) {
	var lastErr error
	backoff := p.config.InitialBackoff

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		for _, server := range p.servers {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			conn, err := p.createSingleConnection(server)
			if err != nil {
				lastErr = err
				atomic.AddInt64(&p.totalErrors, 1)
				p.logger.Debug("Connection attempt failed", map[string]any{
					"server":  ServerInfoToURL(server),
					"attempt": attempt + 1,
					"error":   err.Error(),
				})
				continue
			}

			atomic.AddInt64(&p.totalCreated, 1)
			atomic.AddInt64(&p.activeConns, 1)
			return conn, nil
		}

		if attempt < p.config.MaxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
				backoff = min(time.Duration(float64(backoff)*p.config.BackoffFactor), p.config.MaxBackoff)
			}
		}
	}

	return nil, NewConnectionError("failed to create connection after retries", true, lastErr)
}

// createSingleConnection dials and authenticates one server.
func (p *ConnectionPool) createSingleConnection(server *ServerInfo) (*PooledConnection, error) {
	url := ServerInfoToURL(server)
	tlsConfig := serverTLSConfig(p.config.TLSConfig, server)

	dialer := ldap.DialWithDialer(&net.Dialer{Timeout: p.config.Timeout})

	var conn *ldap.Conn
	var err error

	if server.UseTLS {
		conn, err = ldap.DialURL(url, dialer, ldap.DialWithTLSConfig(tlsConfig))
	} else {
		conn, err = ldap.DialURL(url, dialer)
		if err == nil && p.config.UseTLS {
			if err = conn.StartTLS(tlsConfig); err != nil {
				conn.Close()
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	conn.SetTimeout(p.config.Timeout)

	pooledConn := &PooledConnection{
		conn:         conn,
		lastUsed:     time.Now(),
		healthy:      true,
		serverInfo:   server,
		returnToPool: p.returnConnection,
	}

	if err := p.authenticateConnection(pooledConn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to authenticate connection to %s: %w", url, err)
	}

	return pooledConn, nil
}

// authenticateConnection binds a pooled connection using the configured method.
func (p *ConnectionPool) authenticateConnection(pooledConn *PooledConnection) error {
	if pooledConn == nil || pooledConn.conn == nil {
		return fmt.Errorf("connection is nil")
	}

	authMethod := p.config.GetAuthMethod()
	var err error

	switch authMethod {
	case AuthMethodAnonymous:
	case AuthMethodSimpleBind:
		err = pooledConn.conn.Bind(p.config.Username, p.config.Password)
	case AuthMethodKerberos:
		err = performKerberosAuth(pooledConn.conn, p.config, pooledConn.serverInfo)
	case AuthMethodExternal:
		err = pooledConn.conn.ExternalBind()
	default:
		return fmt.Errorf("unsupported authentication method: %s", authMethod.String())
	}

	if err != nil {
		pooledConn.authenticated = false
		return err
	}

	pooledConn.authenticated = true
	p.logger.Trace("Connection authenticated", map[string]any{
		"auth_method": authMethod.String(),
		"server":      ServerInfoToURL(pooledConn.serverInfo),
	})
	return nil
}

// returnConnection returns a connection to the pool.
func (p *ConnectionPool) returnConnection(conn *PooledConnection) {
	if conn == nil {
		return
	}

	atomic.AddInt64(&p.activeConns, -1)

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed || !p.isConnectionHealthy(conn) {
		p.closeConnection(conn)
		return
	}

	select {
	case p.connections <- conn:
	default:
		p.closeConnection(conn)
	}
}

// isConnectionHealthy checks if a connection can be reused.
func (p *ConnectionPool) isConnectionHealthy(conn *PooledConnection) bool {
	if conn == nil || conn.conn == nil || !conn.healthy || conn.conn.IsClosing() {
		return false
	}

	if time.Since(conn.lastUsed) > p.config.MaxIdleTime {
		return false
	}

	if p.config.HasAuthentication() && !conn.authenticated {
		return false
	}

	return true
}

// closeConnection closes a pooled connection.
func (p *ConnectionPool) closeConnection(conn *PooledConnection) {
	if conn != nil && conn.conn != nil {
		conn.conn.Close()
		conn.healthy = false
		conn.authenticated = false
	}
}

// Close closes all idle connections and shuts down the pool.
func (p *ConnectionPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	close(p.connections)
	for conn := range p.connections {
		p.closeConnection(conn)
	}
	return nil
}

// Stats returns pool statistics.
func (p *ConnectionPool) Stats() PoolStats {
	return PoolStats{
		Idle:    len(p.connections),
		Active:  atomic.LoadInt64(&p.activeConns),
		Created: atomic.LoadInt64(&p.totalCreated),
		Errors:  atomic.LoadInt64(&p.totalErrors),
		Uptime:  time.Since(p.startTime),
	}
}

// validateConfig validates the connection configuration.
func validateConfig(config *ConnectionConfig) error {
	if config.MaxConnections <= 0 {
		return errors.New("MaxConnections must be positive")
	}
	if config.MaxConnections > MaxConnectionPoolLimit {
		return fmt.Errorf("MaxConnections too high (max %d)", MaxConnectionPoolLimit)
	}
	if config.MaxIdleTime <= 0 {
		return errors.New("MaxIdleTime must be positive")
	}
	if config.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if config.MaxRetries < 0 {
		return errors.New("MaxRetries cannot be negative")
	}
	if config.BackoffFactor <= 1.0 {
		return errors.New("BackoffFactor must be greater than 1.0")
	}
	if config.PageSize == 0 {
		return errors.New("PageSize must be positive")
	}
	if config.GetAuthMethod() == AuthMethodSimpleBind && config.Password == "" {
		return errors.New("a password is required for simple bind")
	}
	if (config.TLSClientCertFile == "") != (config.TLSClientKeyFile == "") {
		return errors.New("TLS client certificate and key must be given together")
	}
	return nil
}

// prepareTLSConfig loads the CA pool and client certificate into
// config.TLSConfig.
func prepareTLSConfig(config *ConnectionConfig) error {
	if config.TLSConfig == nil {
		config.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	if config.TLSCACertFile != "" || config.TLSCACert != "" {
		pool, err := buildCertPool(config.TLSCACertFile, config.TLSCACert)
		if err != nil {
			return err
		}
		config.TLSConfig.RootCAs = pool
	}

	if config.TLSClientCertFile != "" && config.TLSClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(config.TLSClientCertFile, config.TLSClientKeyFile)
		if err != nil {
			return fmt.Errorf("failed to load client certificate: %w", err)
		}
		config.TLSConfig.Certificates = []tls.Certificate{cert}
	}

	return nil
}

// buildCertPool returns the system pool extended with the CA certificates
// from caFile and caPEM.
func buildCertPool(caFile, caPEM string) (*x509.CertPool, error) {
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}

	if caFile != "" {
		data, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate file: %w", err)
		}
		if !pool.AppendCertsFromPEM(data) {
			return nil, fmt.Errorf("invalid PEM format in CA certificate file %s", caFile)
		}
	}

	if caPEM != "" {
		if !pool.AppendCertsFromPEM([]byte(caPEM)) {
			return nil, errors.New("invalid PEM format in CA certificate")
		}
	}

	return pool, nil
}

// serverTLSConfig clones base for server, pinning ServerName unless
// verification is disabled.
func serverTLSConfig(base *tls.Config, server *ServerInfo) *tls.Config {
	if base == nil {
		base = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	cfg := base.Clone()
	if !cfg.InsecureSkipVerify {
		cfg.ServerName = server.Host
	}
	return cfg
}

// Close hands the connection back to its pool.
func (pc *PooledConnection) Close() {
	if pc.returnToPool != nil {
		pc.returnToPool(pc)
	}
}

// Conn returns the underlying go-ldap connection.
func (pc *PooledConnection) Conn() *ldap.Conn {
	return pc.conn
}

// ServerInfo returns the server the connection is bound to.
func (pc *PooledConnection) ServerInfo() *ServerInfo {
	return pc.serverInfo
}

// MarkUnhealthy prevents the connection from being reused.
func (pc *PooledConnection) MarkUnhealthy() {
	pc.healthy = false
}
