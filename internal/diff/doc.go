// Package diff compares two directory snapshots and emits the change records
// that turn the source into the target.
//
// A run loads both inputs into DN-ordered snapshots (LoadSnapshot), walks them
// in lock-step (Merge), computes attribute-level modifications for entries
// present on both sides (DiffEntries) and writes ADD, DELETE and MODIFY
// records to a Sink (Emit). Modifications only ever add or delete explicit
// values, so every MODIFY record can be inverted without the original entry.
package diff
