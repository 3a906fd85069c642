package ldap

import (
	"context"
	"crypto/tls"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testCACert is a self-signed CA certificate, for testing only.
const testCACert = `-----BEGIN CERTIFICATE-----
MIIDBTCCAe2gAwIBAgIUF3pBeK7vWjkiOn5vkdviUpPSZDIwDQYJKoZIhvcNAQEL
BQAwEjEQMA4GA1UEAwwHVGVzdCBDQTAeFw0yNTEwMjQxNzM3NDNaFw0yNjEwMjQx
NzM3NDNaMBIxEDAOBgNVBAMMB1Rlc3QgQ0EwggEiMA0GCSqGSIb3DQEBAQUAA4IB
DwAwggEKAoIBAQDcyerW4aUDqSKC9QPHuL1wZadQqNOP97LwivFl0rnJ1TTUw8Xn
qX+V16tViOSuPq+tp4vxLDE4Sv0dJbXm35+7mb9xkmJFvIQaP8wQweza/k/GnkuM
pCM9voUpxC2wDnNSenw46L0eTdFPyXDTDRQR8vbS85OektHdsSgMwxubugS0CihD
WlIKYZnvpLPrvjBoplfS5Ff3gdse2d5K9qzl4Vs+KDyfxJegML9ATmPnXWLkyl13
3WjV/rjlQrxqtIJH+APUVyGBCNe+LtymOHeIy+FMX3JpKV1CLGyVoQ1sowzgm17D
wgErA2L6/quQpkNKNuoZSuDbFdJBiHyGWNsRAgMBAAGjUzBRMB0GA1UdDgQWBBRg
vCPlMaoj4A/WZxqd7kvtbfQpZTAfBgNVHSMEGDAWgBRgvCPlMaoj4A/WZxqd7kvt
bfQpZTAPBgNVHRMBAf8EBTADAQH/MA0GCSqGSIb3DQEBCwUAA4IBAQBFbrOXuzvE
pdNN/f64PpkJakfrWGXAR4xhZul+2lXgJQd0iq7mEOkWpPlOq8/UeDTlLfOSPcDw
FrQuODeDQeUmeglZvvmJIinOzFYf4wsxaJNqdQoF3bwY6UmUWlABDoRvVkWHFMwA
VpAD/4I2VNcE+Mqe03Lx0UO+xkZ74KzHrEwKpYcPP4J3K78S16NAlz3MaH4eLRWK
yVZWTBLVmuIFB5ITwdrdL92vdP6IQoXYOSrFDyhXkSoB+UxgaZwDji2wnYw3KZrm
aomYL4gPZz6Cnw2euSkQEY64gm/e1ueJDarBkzWUFUhmTMTJ/XRJpnhdu5FTqwKj
eNsm2nzlwhTR
-----END CERTIFICATE-----`

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config == nil {
		t.Fatal("DefaultConfig() returned nil")
	}

	// Verify security defaults
	if !config.UseTLS {
		t.Error("Default config should use TLS")
	}

	if config.TLSConfig == nil {
		t.Fatal("Default config should have TLS config")
	}

	if config.TLSConfig.InsecureSkipVerify {
		t.Error("Default config should validate certificates")
	}

	assert.Equal(t, 2, config.MaxConnections)
	assert.Equal(t, 5*time.Minute, config.MaxIdleTime)
	assert.Equal(t, 30*time.Second, config.Timeout)
	assert.Equal(t, 3, config.MaxRetries)
	assert.Equal(t, uint32(1000), config.PageSize)
	assert.Equal(t, AuthMethodAnonymous, config.GetAuthMethod())
	require.NoError(t, validateConfig(config))
}

func TestValidateConfig(t *testing.T) {
	valid := func(modify func(*ConnectionConfig)) *ConnectionConfig {
		config := DefaultConfig()
		modify(config)
		return config
	}

	tests := []struct {
		name    string
		config  *ConnectionConfig
		wantErr string
	}{
		{
			name:   "defaults",
			config: DefaultConfig(),
		},
		{
			name:    "zero connections",
			config:  valid(func(c *ConnectionConfig) { c.MaxConnections = 0 }),
			wantErr: "MaxConnections must be positive",
		},
		{
			name:    "too many connections",
			config:  valid(func(c *ConnectionConfig) { c.MaxConnections = MaxConnectionPoolLimit + 1 }),
			wantErr: "MaxConnections too high",
		},
		{
			name:    "zero idle time",
			config:  valid(func(c *ConnectionConfig) { c.MaxIdleTime = 0 }),
			wantErr: "MaxIdleTime must be positive",
		},
		{
			name:    "zero timeout",
			config:  valid(func(c *ConnectionConfig) { c.Timeout = 0 }),
			wantErr: "timeout must be positive",
		},
		{
			name:    "negative retries",
			config:  valid(func(c *ConnectionConfig) { c.MaxRetries = -1 }),
			wantErr: "MaxRetries cannot be negative",
		},
		{
			name:    "backoff factor too small",
			config:  valid(func(c *ConnectionConfig) { c.BackoffFactor = 1.0 }),
			wantErr: "BackoffFactor must be greater than 1.0",
		},
		{
			name:    "zero page size",
			config:  valid(func(c *ConnectionConfig) { c.PageSize = 0 }),
			wantErr: "PageSize must be positive",
		},
		{
			name:    "simple bind without password",
			config:  valid(func(c *ConnectionConfig) { c.Username = "cn=reader,dc=example,dc=com" }),
			wantErr: "a password is required for simple bind",
		},
		{
			name: "simple bind with password",
			config: valid(func(c *ConnectionConfig) {
				c.Username = "cn=reader,dc=example,dc=com"
				c.Password = "secret"
			}),
		},
		{
			name:    "client certificate without key",
			config:  valid(func(c *ConnectionConfig) { c.TLSClientCertFile = "/path/client.pem" }),
			wantErr: "TLS client certificate and key must be given together",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateConfig(tt.config)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConnectionPool_CreateWithInvalidConfig(t *testing.T) {
	config := DefaultConfig()
	config.LDAPURLs = []string{"ldap://dc1.example.com:389"}
	config.MaxConnections = 0

	_, err := NewConnectionPool(context.Background(), config, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestConnectionPool_CreateWithURLs(t *testing.T) {
	config := DefaultConfig()
	config.LDAPURLs = []string{"ldaps://dc1.example.com:636", "ldap://dc2.example.com"}

	pool, err := NewConnectionPool(context.Background(), config, nil)
	require.NoError(t, err)
	defer pool.Close()

	require.Len(t, pool.servers, 2)
	assert.Equal(t, "dc1.example.com", pool.servers[0].Host)
	assert.True(t, pool.servers[0].UseTLS)
	assert.Equal(t, 389, pool.servers[1].Port)
}

func TestConnectionPool_CreateWithInvalidURL(t *testing.T) {
	config := DefaultConfig()
	config.LDAPURLs = []string{"http://dc1.example.com"}

	_, err := NewConnectionPool(context.Background(), config, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server discovery failed")
}

func TestConnectionPool_CreateWithoutServers(t *testing.T) {
	_, err := NewConnectionPool(context.Background(), DefaultConfig(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "either domain or LDAP URLs must be specified")
}

func TestConnectionPool_Stats(t *testing.T) {
	config := DefaultConfig()
	config.LDAPURLs = []string{"ldap://dc1.example.com:389"}

	pool, err := NewConnectionPool(context.Background(), config, nil)
	require.NoError(t, err)
	defer pool.Close()

	stats := pool.Stats()
	assert.Zero(t, stats.Idle)
	assert.Zero(t, stats.Active)
	assert.Zero(t, stats.Created)
	assert.Zero(t, stats.Errors)
	assert.GreaterOrEqual(t, stats.Uptime, time.Duration(0))
}

func TestConnectionPool_CloseBeforeUse(t *testing.T) {
	config := DefaultConfig()
	config.LDAPURLs = []string{"ldap://dc1.example.com:389"}

	pool, err := NewConnectionPool(context.Background(), config, nil)
	require.NoError(t, err)
	require.NoError(t, pool.Close())

	_, err = pool.Get(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection pool is closed")
}

func TestConnectionPool_DoubleClose(t *testing.T) {
	config := DefaultConfig()
	config.LDAPURLs = []string{"ldap://dc1.example.com:389"}

	pool, err := NewConnectionPool(context.Background(), config, nil)
	require.NoError(t, err)

	assert.NoError(t, pool.Close())
	assert.NoError(t, pool.Close())
}

func TestConnectionPool_GetCancelled(t *testing.T) {
	config := DefaultConfig()
	config.LDAPURLs = []string{"ldap://dc1.example.com:389"}

	pool, err := NewConnectionPool(context.Background(), config, nil)
	require.NoError(t, err)
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = pool.Get(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPooledConnection_Methods(t *testing.T) {
	server := &ServerInfo{Host: "dc1.example.com", Port: 636, UseTLS: true}
	returned := 0
	conn := &PooledConnection{
		healthy:      true,
		serverInfo:   server,
		returnToPool: func(*PooledConnection) { returned++ },
	}

	assert.Same(t, server, conn.ServerInfo())
	assert.Nil(t, conn.Conn())

	conn.MarkUnhealthy()
	assert.False(t, conn.healthy)

	conn.Close()
	assert.Equal(t, 1, returned)
}

func TestConnectionPool_UnhealthyConnections(t *testing.T) {
	config := DefaultConfig()
	config.LDAPURLs = []string{"ldap://dc1.example.com:389"}

	pool, err := NewConnectionPool(context.Background(), config, nil)
	require.NoError(t, err)
	defer pool.Close()

	assert.False(t, pool.isConnectionHealthy(nil))
	assert.False(t, pool.isConnectionHealthy(&PooledConnection{healthy: true}))
}

func TestConnectionError(t *testing.T) {
	cause := os.ErrDeadlineExceeded
	err := NewConnectionError("dial failed", true, cause)

	assert.Equal(t, "dial failed: "+cause.Error(), err.Error())
	assert.True(t, err.IsRetryable())
	assert.ErrorIs(t, err, cause)

	bare := NewConnectionError("no servers", false, nil)
	assert.Equal(t, "no servers", bare.Error())
	assert.False(t, bare.IsRetryable())
	assert.Nil(t, bare.Unwrap())
}

func TestServerTLSConfig(t *testing.T) {
	tests := []struct {
		name           string
		serverHost     string
		tlsConfig      *tls.Config
		wantServerName string
	}{
		{
			name:           "certificate validation",
			serverHost:     "dc1.example.com",
			tlsConfig:      &tls.Config{MinVersion: tls.VersionTLS12},
			wantServerName: "dc1.example.com",
		},
		{
			name:           "FQDN",
			serverHost:     "dc-ws19-dc2.corp.example.local",
			tlsConfig:      &tls.Config{MinVersion: tls.VersionTLS12},
			wantServerName: "dc-ws19-dc2.corp.example.local",
		},
		{
			name:       "InsecureSkipVerify leaves ServerName unset",
			serverHost: "dc1.example.com",
			tlsConfig:  &tls.Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS12},
		},
		{
			name:           "nil base config",
			serverHost:     "dc1.example.com",
			wantServerName: "dc1.example.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := &ServerInfo{Host: tt.serverHost, Port: 636, UseTLS: true}

			got := serverTLSConfig(tt.tlsConfig, server)
			require.NotNil(t, got)
			assert.Equal(t, tt.wantServerName, got.ServerName)
			assert.GreaterOrEqual(t, got.MinVersion, uint16(tls.VersionTLS12))
			if tt.tlsConfig != nil {
				assert.NotSame(t, tt.tlsConfig, got)
				assert.Empty(t, tt.tlsConfig.ServerName)
			}
		})
	}
}

func TestBuildCertPool_SystemOnly(t *testing.T) {
	pool, err := buildCertPool("", "")
	require.NoError(t, err)
	assert.NotNil(t, pool)
}

func TestBuildCertPool_WithContent(t *testing.T) {
	pool, err := buildCertPool("", testCACert)
	require.NoError(t, err)
	assert.NotNil(t, pool)
}

func TestBuildCertPool_WithFile(t *testing.T) {
	caFile := filepath.Join(t.TempDir(), "test-ca.pem")
	require.NoError(t, os.WriteFile(caFile, []byte(testCACert), 0o600))

	pool, err := buildCertPool(caFile, "")
	require.NoError(t, err)
	assert.NotNil(t, pool)
}

func TestBuildCertPool_InvalidPEM(t *testing.T) {
	_, err := buildCertPool("", "this is not valid PEM content")
	if err == nil {
		t.Fatal("buildCertPool() should fail with invalid PEM")
	}

	if !strings.Contains(err.Error(), "invalid PEM format") {
		t.Errorf("Expected 'invalid PEM format' error, got: %v", err)
	}
}

func TestBuildCertPool_FileNotFound(t *testing.T) {
	_, err := buildCertPool("/nonexistent/path/to/ca.pem", "")
	if err == nil {
		t.Fatal("buildCertPool() should fail with nonexistent file")
	}

	if !strings.Contains(err.Error(), "failed to read CA certificate file") {
		t.Errorf("Expected 'failed to read CA certificate file' error, got: %v", err)
	}
}

func TestNewConnectionPool_CertPoolSet(t *testing.T) {
	config := DefaultConfig()
	config.LDAPURLs = []string{"ldaps://dc1.example.com:636"}
	config.TLSCACert = testCACert

	pool, err := NewConnectionPool(context.Background(), config, nil)
	require.NoError(t, err)
	defer pool.Close()

	assert.NotNil(t, config.TLSConfig.RootCAs, "TLSConfig.RootCAs should be set by NewConnectionPool")
}

func TestNewConnectionPool_InvalidCACert(t *testing.T) {
	config := DefaultConfig()
	config.LDAPURLs = []string{"ldaps://dc1.example.com:636"}
	config.TLSCACert = "not a certificate"

	_, err := NewConnectionPool(context.Background(), config, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid TLS configuration")
}

func BenchmarkServerInfoToURL(b *testing.B) {
	server := &ServerInfo{
		Host:   "dc1.example.com",
		Port:   636,
		UseTLS: true,
	}

	for b.Loop() {
		url := ServerInfoToURL(server)
		_ = url
	}
}
