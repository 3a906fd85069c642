package diff

import (
	"context"
	"errors"
	"io"
	"iter"
	"slices"

	"github.com/isometry/ldifdiff/internal/ldap"
)

// EntrySource yields entries until it returns io.EOF.
type EntrySource interface {
	Next() (*ldap.Entry, error)
}

// LoadStats counts what happened while a snapshot was loaded.
type LoadStats struct {
	Read       int // entries read from the source
	Ignored    int // entries dropped by the DN filter
	Duplicates int // entries that replaced an earlier entry with the same DN
}

// Snapshot is an immutable, DN-ordered collection of entries with unique DNs.
type Snapshot struct {
	entries []*ldap.Entry
	stats   LoadStats
}

// NewSnapshot builds a snapshot from entries. For duplicate DNs the last
// entry wins.
func NewSnapshot(entries ...*ldap.Entry) *Snapshot {
	b := newSnapshotBuilder(len(entries))
	for _, entry := range entries {
		b.add(entry)
	}
	return b.build()
}

// LoadSnapshot reads src to exhaustion, dropping entries whose DN is
// excluded by ignored. Any error other than io.EOF aborts the load.
func LoadSnapshot(ctx context.Context, src EntrySource, ignored *DNFilter, logger ldap.Logger) (*Snapshot, error) {
	if logger == nil {
		logger = ldap.NopLogger{}
	}

	b := newSnapshotBuilder(0)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		entry, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		b.stats.Read++
		if ignored.Excludes(entry.DN) {
			b.stats.Ignored++
			logger.Trace("Ignoring entry", map[string]any{"dn": entry.DN.String()})
			continue
		}

		if b.add(entry) {
			logger.Debug("Duplicate DN replaces earlier entry", map[string]any{"dn": entry.DN.String()})
		}
	}

	snapshot := b.build()
	logger.Debug("Snapshot loaded", map[string]any{
		"entries":    snapshot.Len(),
		"read":       snapshot.stats.Read,
		"ignored":    snapshot.stats.Ignored,
		"duplicates": snapshot.stats.Duplicates,
	})
	return snapshot, nil
}

// Len returns the number of entries.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Stats returns the load counters.
func (s *Snapshot) Stats() LoadStats {
	if s == nil {
		return LoadStats{}
	}
	return s.stats
}

// All yields the entries in DN order.
func (s *Snapshot) All() iter.Seq[*ldap.Entry] {
	return func(yield func(*ldap.Entry) bool) {
		if s == nil {
			return
		}
		for _, entry := range s.entries {
			if !yield(entry) {
				return
			}
		}
	}
}

// Lookup returns the entry with the given DN.
func (s *Snapshot) Lookup(dn ldap.DN) (*ldap.Entry, bool) {
	if s == nil {
		return nil, false
	}
	i, found := slices.BinarySearchFunc(s.entries, dn, func(e *ldap.Entry, target ldap.DN) int {
		return e.DN.Compare(target)
	})
	if !found {
		return nil, false
	}
	return s.entries[i], true
}

// snapshotBuilder collects entries in a hash map and sorts them once.
type snapshotBuilder struct {
	byKey map[string]*ldap.Entry
	stats LoadStats
}

func newSnapshotBuilder(size int) *snapshotBuilder {
	return &snapshotBuilder{byKey: make(map[string]*ldap.Entry, size)}
}

// add stores entry and reports whether it replaced an earlier one.
func (b *snapshotBuilder) add(entry *ldap.Entry) bool {
	key := entry.DN.Key()
	_, replaced := b.byKey[key]
	if replaced {
		b.stats.Duplicates++
	}
	b.byKey[key] = entry
	return replaced
}

func (b *snapshotBuilder) build() *Snapshot {
	entries := make([]*ldap.Entry, 0, len(b.byKey))
	for _, entry := range b.byKey {
		entries = append(entries, entry)
	}
	slices.SortFunc(entries, func(x, y *ldap.Entry) int {
		return x.DN.Compare(y.DN)
	})
	return &Snapshot{entries: entries, stats: b.stats}
}
