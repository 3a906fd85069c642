package diff

import (
	"fmt"
	"iter"

	"github.com/isometry/ldifdiff/internal/ldap"
)

// NoDifferencesMessage is written as a comment when a run finds nothing to do.
const NoDifferencesMessage = "No differences were detected between the source and target data"

// Sink receives change records in emission order.
type Sink interface {
	WriteAdd(entry *ldap.Entry) error
	WriteDelete(entry *ldap.Entry, includeContent bool) error
	WriteModify(dn ldap.DN, mods []ldap.Modification) error
	WriteComment(msg string) error
}

// EmitOptions controls how classifications become change records.
type EmitOptions struct {
	IgnoredAttributes  *AttributeFilter
	SingleValueChanges bool
	Logger             ldap.Logger
}

// EmitStats counts the emitted records.
type EmitStats struct {
	Added    int // ADD records
	Deleted  int // DELETE records
	Modified int // entries with at least one MODIFY record
	Records  int // records of any kind
}

// AnyDifference reports whether at least one record was emitted.
func (s EmitStats) AnyDifference() bool {
	return s.Records > 0
}

// Records converts classifications into change records without writing
// them anywhere.
func Records(changes iter.Seq[Classified], opts EmitOptions) []ldap.ChangeRecord {
	var records []ldap.ChangeRecord
	for c := range changes {
		records = append(records, recordsFor(c, opts)...)
	}
	return records
}

// Emit writes the change records for changes to sink, one record at a time.
// When nothing differs a single NoDifferencesMessage comment is written. A
// sink failure stops the emission; records already written stay written.
func Emit(changes iter.Seq[Classified], sink Sink, opts EmitOptions) (EmitStats, error) {
	logger := opts.Logger
	if logger == nil {
		logger = ldap.NopLogger{}
	}

	var stats EmitStats
	for c := range changes {
		records := recordsFor(c, opts)
		if len(records) == 0 {
			logger.Trace("Entry unchanged", map[string]any{"dn": c.DN().String()})
			continue
		}

		for _, record := range records {
			if err := writeRecord(sink, record); err != nil {
				return stats, ldap.NewOperationError("write change log", ldap.ErrorCategoryEncode,
					fmt.Errorf("%w: %w", ldap.ErrOutputWrite, err)).WithDN(record.DN.String())
			}
			stats.Records++
		}

		switch c.Class {
		case Added:
			stats.Added++
		case Deleted:
			stats.Deleted++
		case Common:
			stats.Modified++
		}

		logger.Debug("Change records written", map[string]any{
			"dn":      c.DN().String(),
			"change":  c.Class.String(),
			"records": len(records),
		})
	}

	if !stats.AnyDifference() {
		if err := sink.WriteComment(NoDifferencesMessage); err != nil {
			return stats, ldap.NewOperationError("write change log", ldap.ErrorCategoryEncode,
				fmt.Errorf("%w: %w", ldap.ErrOutputWrite, err))
		}
	}

	return stats, nil
}

// recordsFor returns the change records for one classification.
func recordsFor(c Classified, opts EmitOptions) []ldap.ChangeRecord {
	switch c.Class {
	case Added:
		return []ldap.ChangeRecord{ldap.NewAddRecord(c.Target)}
	case Deleted:
		return []ldap.ChangeRecord{ldap.NewDeleteRecord(c.Source)}
	}

	mods := DiffEntries(c.Source, c.Target, opts.IgnoredAttributes)
	if len(mods) == 0 {
		return nil
	}
	if !opts.SingleValueChanges {
		return []ldap.ChangeRecord{ldap.NewModifyRecord(c.Source.DN, mods)}
	}

	var records []ldap.ChangeRecord
	for _, mod := range mods {
		for _, single := range mod.Split() {
			records = append(records, ldap.NewModifyRecord(c.Source.DN, []ldap.Modification{single}))
		}
	}
	return records
}

func writeRecord(sink Sink, record ldap.ChangeRecord) error {
	switch record.Kind {
	case ldap.ChangeAdd:
		return sink.WriteAdd(record.Entry)
	case ldap.ChangeDelete:
		return sink.WriteDelete(record.Entry, true)
	case ldap.ChangeModify:
		return sink.WriteModify(record.DN, record.Modifications)
	default:
		return fmt.Errorf("unsupported change kind %s", record.Kind)
	}
}
