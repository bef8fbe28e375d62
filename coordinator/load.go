package coordinator

import (
	"context"
	"fmt"

	"github.com/depotdb/depot"
)

// TableEntry is one entry of a load batch addressed down to its table.
type TableEntry struct {
	Table string
	Key   string
	Value []byte
}

// KeyValue is one entry of a load batch whose table is given once for the
// whole batch.
type KeyValue struct {
	Key   string
	Value []byte
}

// LoadEntries stages a batch of entries into a version that is awaiting
// entries. The checks run in order: the version must exist, it must belong
// to the named dataset, it must be awaiting entries, and every referenced
// table must be declared by the dataset. Missing tables are collected and
// reported together.
func (c *Coordinator) LoadEntries(ctx context.Context, versionID, dataset string, batch []TableEntry) error {
	v, err := c.meta.FindVersion(ctx, versionID)
	if err != nil {
		return err
	}
	if v.Dataset != dataset {
		return &depot.Error{
			Code: depot.EInvalid,
			Msg:  fmt.Sprintf("version %s belongs to dataset %s, not %s", versionID, v.Dataset, dataset),
			Data: map[string]interface{}{
				"error":   depot.KindInvalidVersionForDataset,
				"version": v,
			},
		}
	}
	if v.Status != depot.StatusAwaitingEntries {
		return &depot.Error{
			Code: depot.EInvalid,
			Msg:  fmt.Sprintf("version %s in state %s cannot accept entries", versionID, v.Status),
			Data: map[string]interface{}{
				"error":   depot.KindInvalidVersionState,
				"version": v,
			},
		}
	}

	// One metadata read covers the whole batch.
	d, err := c.meta.FindDataset(ctx, dataset)
	if err != nil {
		return err
	}

	var missing []map[string]string
	seen := map[string]struct{}{}
	for _, e := range batch {
		if _, ok := seen[e.Table]; ok {
			continue
		}
		seen[e.Table] = struct{}{}
		if !d.HasTable(e.Table) {
			missing = append(missing, map[string]string{
				"dataset": dataset,
				"table":   e.Table,
			})
		}
	}
	if len(missing) > 0 {
		return &depot.Error{
			Code: depot.ENotFound,
			Msg:  fmt.Sprintf("%d referenced tables do not exist in dataset %s", len(missing), dataset),
			Data: map[string]interface{}{
				"error":          depot.KindTablesNotFound,
				"missing-tables": missing,
			},
		}
	}

	entries := make([]depot.Entry, 0, len(batch))
	for _, e := range batch {
		entries = append(entries, depot.Entry{
			Key: depot.EntryKey{
				Dataset: dataset,
				Version: versionID,
				Table:   e.Table,
				Key:     e.Key,
			},
			Value: e.Value,
		})
	}
	return c.entries.PutEntries(ctx, entries)
}

// LoadTableEntries stages a batch whose entries all target one table.
func (c *Coordinator) LoadTableEntries(ctx context.Context, versionID, dataset, table string, batch []KeyValue) error {
	normalized := make([]TableEntry, 0, len(batch))
	for _, e := range batch {
		normalized = append(normalized, TableEntry{Table: table, Key: e.Key, Value: e.Value})
	}
	return c.LoadEntries(ctx, versionID, dataset, normalized)
}

// LoadEntry stages a single entry.
func (c *Coordinator) LoadEntry(ctx context.Context, versionID, dataset, table, key string, value []byte) error {
	return c.LoadEntries(ctx, versionID, dataset, []TableEntry{{Table: table, Key: key, Value: value}})
}
