// Package config holds the settings of an ldifdiff run.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/isometry/ldifdiff/internal/ldap"
	"github.com/isometry/ldifdiff/internal/schema"
)

// Stdio names standard input (for sources) or standard output (for the
// change log).
const Stdio = "-"

// Config controls one ldifdiff run.
type Config struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"`
	Output string `yaml:"output"`

	IgnoreAttributes     []string `yaml:"ignoreAttributes"`
	IgnoreAttributesFile string   `yaml:"ignoreAttributesFile"`
	IgnoreEntries        []string `yaml:"ignoreEntries"`
	IgnoreEntriesFile    string   `yaml:"ignoreEntriesFile"`

	OverwriteExisting    bool `yaml:"overwriteExisting"`
	SingleValueChanges   bool `yaml:"singleValueChanges"`
	UseCompareResultCode bool `yaml:"useCompareResultCode"`
	CheckSchema          bool `yaml:"checkSchema"`
	ConcurrentLoad       bool `yaml:"concurrentLoad"`

	ValueMatching string   `yaml:"valueMatching" default:"exact"`
	WrapColumn    int      `yaml:"wrapColumn" default:"80"`
	SchemaFiles   []string `yaml:"schemaFiles"`

	Directory DirectoryConfig `yaml:"directory"`

	Log LogConfig `yaml:"log"`
}

// DirectoryConfig holds the connection settings used when the source or
// target is an LDAP URL. Unset credentials fall back to the LDIFDIFF_*
// environment variables.
type DirectoryConfig struct {
	Domain           string `yaml:"domain"`
	BindDN           string `yaml:"bindDN"`
	BindPassword     string `yaml:"bindPassword"`
	BindPasswordFile string `yaml:"bindPasswordFile"`

	KerberosRealm  string `yaml:"kerberosRealm"`
	KerberosKeytab string `yaml:"kerberosKeytab"`
	KerberosConfig string `yaml:"kerberosConfig"`
	KerberosCCache string `yaml:"kerberosCCache"`
	KerberosSPN    string `yaml:"kerberosSPN"`

	StartTLS       bool   `yaml:"startTLS" default:"true"`
	SkipTLSVerify  bool   `yaml:"skipTLSVerify"`
	CACertFile     string `yaml:"caCertFile"`
	ClientCertFile string `yaml:"clientCertFile"`
	ClientKeyFile  string `yaml:"clientKeyFile"`

	Timeout    time.Duration `yaml:"timeout" default:"30s"`
	PageSize   uint32        `yaml:"pageSize" default:"1000"`
	MaxRetries int           `yaml:"maxRetries" default:"3"`
}

// Environment variables consulted for unset directory settings.
const (
	EnvDomain         = "LDIFDIFF_DOMAIN"
	EnvBindDN         = "LDIFDIFF_BIND_DN"
	EnvBindPassword   = "LDIFDIFF_BIND_PASSWORD"
	EnvKerberosRealm  = "LDIFDIFF_KERBEROS_REALM"
	EnvKerberosKeytab = "LDIFDIFF_KERBEROS_KEYTAB"
	EnvKerberosConfig = "LDIFDIFF_KERBEROS_CONFIG"
	EnvKerberosCCache = "LDIFDIFF_KERBEROS_CCACHE"
)

// LogConfig selects the diagnostic log level and format.
type LogConfig struct {
	Level  string `yaml:"level" default:"warn"`
	Format string `yaml:"format" default:"text"`
}

// Default returns a Config with every default applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to set default values: %w", err)
	}
	// defaults treats a "-" tag as "skip", so standard output is set here.
	cfg.Output = Stdio
	return cfg, nil
}

// Load reads a YAML configuration file on top of the defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Decode reads YAML configuration from r on top of the defaults. Unknown
// keys are rejected.
func Decode(r io.Reader) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// ResolveIgnoreLists appends the contents of the ignore-list files to the
// inline ignore lists.
func (c *Config) ResolveIgnoreLists() error {
	if c.IgnoreAttributesFile != "" {
		attrs, err := ReadIgnoreFile(c.IgnoreAttributesFile)
		if err != nil {
			return err
		}
		c.IgnoreAttributes = append(c.IgnoreAttributes, attrs...)
	}

	if c.IgnoreEntriesFile != "" {
		dns, err := ReadIgnoreFile(c.IgnoreEntriesFile)
		if err != nil {
			return err
		}
		c.IgnoreEntries = append(c.IgnoreEntries, dns...)
	}

	return nil
}

// ConnectionConfig builds the directory client configuration. The bind
// password is read from BindPasswordFile when one is named.
func (d *DirectoryConfig) ConnectionConfig() (*ldap.ConnectionConfig, error) {
	config := ldap.DefaultConfig()

	config.Domain = stringValue(d.Domain, EnvDomain)
	config.Username = stringValue(d.BindDN, EnvBindDN)
	config.Password = stringValue(d.BindPassword, EnvBindPassword)
	if d.BindPasswordFile != "" {
		data, err := os.ReadFile(d.BindPasswordFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read bind password file: %w", err)
		}
		config.Password = strings.TrimRight(string(data), "\r\n")
	}

	config.KerberosRealm = stringValue(d.KerberosRealm, EnvKerberosRealm)
	config.KerberosKeytab = stringValue(d.KerberosKeytab, EnvKerberosKeytab)
	config.KerberosConfig = stringValue(d.KerberosConfig, EnvKerberosConfig)
	config.KerberosCCache = stringValue(d.KerberosCCache, EnvKerberosCCache)
	config.KerberosSPN = d.KerberosSPN

	config.UseTLS = d.StartTLS
	if d.SkipTLSVerify {
		config.TLSConfig.InsecureSkipVerify = true
	}
	config.TLSCACertFile = d.CACertFile
	config.TLSClientCertFile = d.ClientCertFile
	config.TLSClientKeyFile = d.ClientKeyFile

	if d.Timeout > 0 {
		config.Timeout = d.Timeout
	}
	if d.PageSize > 0 {
		config.PageSize = d.PageSize
	}
	config.MaxRetries = d.MaxRetries

	return config, nil
}

// stringValue returns value, or the named environment variable when value
// is empty.
func stringValue(value, envVar string) string {
	if value != "" {
		return value
	}
	return os.Getenv(envVar)
}

// Validate reports every problem with the configuration at once. The
// returned error is a validation OperationError.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.Source == "" {
		result = multierror.Append(result, errors.New("source LDIF is required"))
	}
	if c.Target == "" {
		result = multierror.Append(result, errors.New("target LDIF is required"))
	}
	if c.Source == Stdio && c.Target == Stdio {
		result = multierror.Append(result, errors.New("source and target cannot both be read from standard input"))
	}

	if c.Output == "" {
		result = multierror.Append(result, errors.New("output is required (use - for standard output)"))
	} else if c.Output != Stdio {
		if c.Output == c.Source || c.Output == c.Target {
			result = multierror.Append(result, fmt.Errorf("output %q would overwrite an input", c.Output))
		}
		if _, err := os.Stat(c.Output); err == nil && !c.OverwriteExisting {
			result = multierror.Append(result, fmt.Errorf("output %q already exists (use overwriteExisting to replace it)", c.Output))
		} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
			result = multierror.Append(result, fmt.Errorf("output %q: %w", c.Output, err))
		}
	}

	if _, err := schema.ParseMatchingMode(c.ValueMatching); err != nil {
		result = multierror.Append(result, err)
	}
	if c.WrapColumn < 0 {
		result = multierror.Append(result, fmt.Errorf("wrapColumn must not be negative, got %d", c.WrapColumn))
	}

	if hclog.LevelFromString(c.Log.Level) == hclog.NoLevel {
		result = multierror.Append(result, fmt.Errorf("invalid log level %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		result = multierror.Append(result, fmt.Errorf("invalid log format %q (expected text or json)", c.Log.Format))
	}

	for _, side := range []struct{ name, value string }{{"source", c.Source}, {"target", c.Target}} {
		if !ldap.IsSearchURL(side.value) {
			continue
		}
		if _, err := ldap.ParseSearchURL(side.value); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %v", side.name, err))
		}
	}
	if c.Directory.MaxRetries < 0 {
		result = multierror.Append(result, fmt.Errorf("directory.maxRetries must not be negative, got %d", c.Directory.MaxRetries))
	}
	if (c.Directory.ClientCertFile == "") != (c.Directory.ClientKeyFile == "") {
		result = multierror.Append(result, errors.New("directory.clientCertFile and directory.clientKeyFile must be given together"))
	}

	for _, dn := range c.IgnoreEntries {
		if _, err := ldap.ParseDN(dn); err != nil {
			result = multierror.Append(result, fmt.Errorf("invalid ignored entry DN %q: %w", dn, err))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return ldap.NewOperationError("validate configuration", ldap.ErrorCategoryValidation, err)
	}
	return nil
}

// LogFields returns the configuration as log fields.
func (c *Config) LogFields() map[string]any {
	return ldap.SanitizeFields(map[string]any{
		"source":                  c.Source,
		"target":                  c.Target,
		"output":                  c.Output,
		"ignore_attributes":       len(c.IgnoreAttributes),
		"ignore_entries":          len(c.IgnoreEntries),
		"single_value_changes":    c.SingleValueChanges,
		"use_compare_result_code": c.UseCompareResultCode,
		"check_schema":            c.CheckSchema,
		"value_matching":          c.ValueMatching,
		"wrap_column":             c.WrapColumn,
		"concurrent_load":         c.ConcurrentLoad,
		"schema_files":            c.SchemaFiles,
		"directory_bind_dn":       c.Directory.BindDN,
		"password":                c.Directory.BindPassword,
	})
}

// ReadIgnoreList reads one item per line. Blank lines and lines starting
// with '#' are skipped; surrounding whitespace is trimmed.
func ReadIgnoreList(r io.Reader) ([]string, error) {
	var items []string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		items = append(items, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ignore list: %w", err)
	}
	return items, nil
}

// ReadIgnoreFile reads an ignore list from path.
func ReadIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ignore list: %w", err)
	}
	defer f.Close()

	items, err := ReadIgnoreList(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return items, nil
}
