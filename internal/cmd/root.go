// Package cmd implements the ldifdiff command line.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	goldap "github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/isometry/ldifdiff/internal/config"
	"github.com/isometry/ldifdiff/internal/diff"
	"github.com/isometry/ldifdiff/internal/ldap"
	"github.com/isometry/ldifdiff/internal/ldif"
	"github.com/isometry/ldifdiff/internal/schema"
)

// EnvLogLevel overrides the default log level when --loglevel is not given.
const EnvLogLevel = "LDIFDIFF_LOG"

var rootLongHelp = strings.TrimSpace(`
ldifdiff compares two LDIF snapshots of a directory and writes the LDIF
change records (add, delete and modify) that turn the source into the target.

Modify records only ever add or delete explicit values, so the change log can
be inverted. Deleted entries are written with their full content as comments.

Examples:
  ldifdiff -s before.ldif -t after.ldif                  # changes on stdout
  ldifdiff -s before.ldif -t after.ldif -o changes.ldif  # changes to a file
  ldifdiff -s before.ldif -t after.ldif -a modifyTimestamp -a modifiersName
  export-tool | ldifdiff -s - -t after.ldif -r           # exit 5 if different, 6 if not

Either side may instead name a live directory with an LDAP URL:
  ldifdiff -s before.ldif -t 'ldaps://dc1.example.com/dc=example,dc=com??sub?(objectClass=*)' \
           --bindDN cn=reader,dc=example,dc=com --bindPasswordFile ~/.ldap-password

A URL without a host (ldap:///dc=example,dc=com) discovers servers through DNS
SRV records for --domain, or for the domain named by the base DN.
`)

type rootOpts struct {
	configFile string
	flags      *config.Config

	stdin    io.Reader
	exitCode int
}

func newRoot(stdin io.Reader) *rootOpts {
	flags, err := config.Default()
	if err != nil {
		panic(err)
	}
	return &rootOpts{flags: flags, stdin: stdin}
}

func (opts *rootOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ldifdiff",
		Short:         "Compare two LDIF files and write the changes between them",
		Long:          rootLongHelp,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          opts.noArgs,
		RunE:          opts.RunE,
	}

	f := opts.flags
	flags := cmd.Flags()
	flags.StringVarP(&f.Source, "sourceLDIF", "s", "", "LDIF file or LDAP URL with the source data (- for standard input)")
	flags.StringVarP(&f.Target, "targetLDIF", "t", "", "LDIF file or LDAP URL with the target data (- for standard input)")
	flags.StringVarP(&f.Output, "outputLDIF", "o", f.Output, "file to which the changes are written (- for standard output)")
	flags.StringSliceVarP(&f.IgnoreAttributes, "ignoreAttrs", "a", nil, "attribute type to ignore when comparing entries (repeatable)")
	flags.StringVar(&f.IgnoreAttributesFile, "ignoreAttrsFile", "", "file listing attribute types to ignore, one per line")
	flags.StringArrayVarP(&f.IgnoreEntries, "ignoreEntries", "e", nil, "DN of an entry to ignore (repeatable)")
	flags.StringVar(&f.IgnoreEntriesFile, "ignoreEntriesFile", "", "file listing DNs to ignore, one per line")
	flags.BoolVarP(&f.OverwriteExisting, "overwriteExisting", "O", false, "overwrite an existing output file")
	flags.BoolVarP(&f.SingleValueChanges, "singleValueChanges", "S", false, "write one modify record per attribute value")
	flags.BoolVarP(&f.UseCompareResultCode, "useCompareResultCode", "r", false, "exit with 6 (compare true) if the inputs match, 5 (compare false) if they differ")
	flags.BoolVar(&f.CheckSchema, "checkSchema", false, "reject entries that do not conform to the schema")
	flags.StringVar(&f.ValueMatching, "valueMatching", f.ValueMatching, "attribute value matching: exact or schema")
	flags.IntVar(&f.WrapColumn, "wrapColumn", f.WrapColumn, "fold output lines longer than this (0 disables folding)")
	flags.BoolVar(&f.ConcurrentLoad, "concurrentLoad", false, "load source and target concurrently")
	flags.StringArrayVar(&f.SchemaFiles, "schemaFile", nil, "YAML file with additional schema definitions (repeatable)")
	flags.StringVar(&f.Log.Level, "loglevel", f.Log.Level, "log level: trace, debug, info, warn or error")
	flags.StringVar(&f.Log.Format, "logformat", f.Log.Format, "log format: text or json")
	flags.StringVar(&opts.configFile, "config", "", "YAML configuration file; flags override its settings")

	d := &f.Directory
	flags.StringVar(&d.BindDN, "bindDN", "", "DN (or user principal) to bind as when reading from a directory")
	flags.StringVar(&d.BindPasswordFile, "bindPasswordFile", "", "file holding the bind password (default $"+config.EnvBindPassword+")")
	flags.StringVar(&d.Domain, "domain", "", "DNS domain for directory server discovery")
	flags.StringVar(&d.KerberosRealm, "kerberosRealm", "", "Kerberos realm; enables GSSAPI binds")
	flags.BoolVar(&d.SkipTLSVerify, "skipTLSVerify", false, "do not verify directory server certificates")
	flags.StringVar(&d.CACertFile, "caCertFile", "", "PEM file with additional CA certificates for directory servers")
	flags.Uint32Var(&d.PageSize, "pageSize", d.PageSize, "directory search page size")

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return ldap.NewOperationError("parse arguments", ldap.ErrorCategoryValidation, err)
	})

	return cmd
}

func (opts *rootOpts) noArgs(_ *cobra.Command, args []string) error {
	if len(args) > 0 {
		return ldap.NewOperationError("parse arguments", ldap.ErrorCategoryValidation,
			fmt.Errorf("unexpected arguments %q (use --sourceLDIF and --targetLDIF)", args))
	}
	return nil
}

// resolveConfig layers the flags the user set over the config file (or the
// defaults).
func (opts *rootOpts) resolveConfig(flags *pflag.FlagSet) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configFile != "" {
		cfg, err = config.Load(opts.configFile)
	} else {
		cfg, err = config.Default()
	}
	if err != nil {
		return nil, ldap.NewOperationError("load configuration", ldap.ErrorCategoryValidation, err)
	}

	if level := os.Getenv(EnvLogLevel); level != "" && !flags.Changed("loglevel") {
		cfg.Log.Level = level
	}

	f := opts.flags
	flags.Visit(func(flag *pflag.Flag) {
		switch flag.Name {
		case "sourceLDIF":
			cfg.Source = f.Source
		case "targetLDIF":
			cfg.Target = f.Target
		case "outputLDIF":
			cfg.Output = f.Output
		case "ignoreAttrs":
			cfg.IgnoreAttributes = append(cfg.IgnoreAttributes, f.IgnoreAttributes...)
		case "ignoreAttrsFile":
			cfg.IgnoreAttributesFile = f.IgnoreAttributesFile
		case "ignoreEntries":
			cfg.IgnoreEntries = append(cfg.IgnoreEntries, f.IgnoreEntries...)
		case "ignoreEntriesFile":
			cfg.IgnoreEntriesFile = f.IgnoreEntriesFile
		case "overwriteExisting":
			cfg.OverwriteExisting = f.OverwriteExisting
		case "singleValueChanges":
			cfg.SingleValueChanges = f.SingleValueChanges
		case "useCompareResultCode":
			cfg.UseCompareResultCode = f.UseCompareResultCode
		case "checkSchema":
			cfg.CheckSchema = f.CheckSchema
		case "valueMatching":
			cfg.ValueMatching = f.ValueMatching
		case "wrapColumn":
			cfg.WrapColumn = f.WrapColumn
		case "concurrentLoad":
			cfg.ConcurrentLoad = f.ConcurrentLoad
		case "schemaFile":
			cfg.SchemaFiles = append(cfg.SchemaFiles, f.SchemaFiles...)
		case "loglevel":
			cfg.Log.Level = f.Log.Level
		case "logformat":
			cfg.Log.Format = f.Log.Format
		case "bindDN":
			cfg.Directory.BindDN = f.Directory.BindDN
		case "bindPasswordFile":
			cfg.Directory.BindPasswordFile = f.Directory.BindPasswordFile
		case "domain":
			cfg.Directory.Domain = f.Directory.Domain
		case "kerberosRealm":
			cfg.Directory.KerberosRealm = f.Directory.KerberosRealm
		case "skipTLSVerify":
			cfg.Directory.SkipTLSVerify = f.Directory.SkipTLSVerify
		case "caCertFile":
			cfg.Directory.CACertFile = f.Directory.CACertFile
		case "pageSize":
			cfg.Directory.PageSize = f.Directory.PageSize
		}
	})

	if err := cfg.ResolveIgnoreLists(); err != nil {
		return nil, ldap.NewOperationError("load configuration", ldap.ErrorCategoryValidation, err)
	}
	return cfg, cfg.Validate()
}

func (opts *rootOpts) RunE(cmd *cobra.Command, _ []string) error {
	cfg, err := opts.resolveConfig(cmd.Flags())
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log, cmd.ErrOrStderr())
	logger.Debug("Configuration resolved", cfg.LogFields())

	registry, err := newRegistry(cfg)
	if err != nil {
		return err
	}

	ignoredDNs, err := diff.NewDNFilter(cfg.IgnoreEntries)
	if err != nil {
		return ldap.NewOperationError("load configuration", ldap.ErrorCategoryValidation, err)
	}
	ignoredAttrs := diff.NewAttributeFilter(cfg.IgnoreAttributes, registry, logger)

	source, err := opts.openSource(cmd.Context(), cfg.Source, cfg, registry, logger)
	if err != nil {
		return ldap.NewOperationError("open source", ldap.ErrorCategoryUnknown, fmt.Errorf("%w: %w", ldap.ErrSourceUnreadable, err))
	}
	defer source.Close()

	target, err := opts.openSource(cmd.Context(), cfg.Target, cfg, registry, logger)
	if err != nil {
		return ldap.NewOperationError("open target", ldap.ErrorCategoryUnknown, fmt.Errorf("%w: %w", ldap.ErrTargetUnreadable, err))
	}
	defer target.Close()

	output, err := openOutput(cfg, cmd.OutOrStdout())
	if err != nil {
		return ldap.NewOperationError("open output", ldap.ErrorCategoryEncode, fmt.Errorf("%w: %w", ldap.ErrOutputWrite, err))
	}

	writer := ldif.NewWriter(output,
		ldif.WithWrapColumn(cfg.WrapColumn),
		ldif.WithAnnotator(ldap.NewAnnotator()),
	)

	result, err := diff.Run(cmd.Context(), source, target, writer,
		diff.Options{
			IgnoredDNs:         ignoredDNs,
			IgnoredAttributes:  ignoredAttrs,
			SingleValueChanges: cfg.SingleValueChanges,
			ConcurrentLoad:     cfg.ConcurrentLoad,
			Logger:             logger,
		})

	if closeErr := output.Close(); err == nil && closeErr != nil {
		err = ldap.NewOperationError("close output", ldap.ErrorCategoryEncode, fmt.Errorf("%w: %w", ldap.ErrOutputWrite, closeErr))
	}
	if err != nil {
		return err
	}

	if cfg.UseCompareResultCode {
		if result.AnyDifference() {
			opts.exitCode = goldap.LDAPResultCompareFalse
		} else {
			opts.exitCode = goldap.LDAPResultCompareTrue
		}
	}
	return nil
}

// snapshotSource is an entry source that holds a file or a directory
// connection open.
type snapshotSource interface {
	diff.EntrySource
	io.Closer
}

type decoderSource struct {
	*ldif.Decoder
	io.Closer
}

// openSource opens an LDIF file, standard input, or a directory search
// named by an LDAP URL.
func (opts *rootOpts) openSource(ctx context.Context, path string, cfg *config.Config, registry *schema.Registry, logger ldap.Logger) (snapshotSource, error) {
	if ldap.IsSearchURL(path) {
		conn, err := cfg.Directory.ConnectionConfig()
		if err != nil {
			return nil, err
		}
		directory, err := ldap.OpenDirectory(ctx, path, conn, registry, logger)
		if err != nil {
			return nil, err
		}
		return directory, nil
	}

	var r io.ReadCloser
	if path == config.Stdio {
		r = io.NopCloser(opts.stdin)
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		r = f
	}
	return decoderSource{Decoder: ldif.NewDecoder(r, registry, cfg.CheckSchema), Closer: r}, nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func openOutput(cfg *config.Config, stdout io.Writer) (io.WriteCloser, error) {
	if cfg.Output == config.Stdio {
		return nopWriteCloser{stdout}, nil
	}
	if cfg.OverwriteExisting {
		return os.Create(cfg.Output)
	}
	return os.OpenFile(cfg.Output, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
}

func newRegistry(cfg *config.Config) (*schema.Registry, error) {
	mode, err := schema.ParseMatchingMode(cfg.ValueMatching)
	if err != nil {
		return nil, ldap.NewOperationError("load schema", ldap.ErrorCategoryValidation, err)
	}

	registry := schema.Default()
	registry.SetMatching(mode)
	for _, path := range cfg.SchemaFiles {
		if err := registry.LoadFile(path); err != nil {
			return nil, ldap.NewOperationError("load schema", ldap.ErrorCategorySchema, err)
		}
	}
	return registry, nil
}

func newLogger(cfg config.LogConfig, out io.Writer) ldap.Logger {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:       "ldifdiff",
		Level:      hclog.LevelFromString(cfg.Level),
		Output:     out,
		JSONFormat: strings.EqualFold(cfg.Format, "json"),
	})
	return ldap.NewHCLogger(logger.With("run_id", uuid.NewString()))
}

// Execute runs ldifdiff with args and returns the process exit code: 0 on
// success (or the compare result code when requested) and the LDAP result
// code of the failure otherwise.
func Execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts := newRoot(stdin)
	cmd := opts.Command()
	cmd.SetArgs(args)
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "ldifdiff: %v\n", err)
		return int(ldap.ResultCode(err))
	}
	return opts.exitCode
}
