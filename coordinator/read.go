package coordinator

import (
	"context"
	"fmt"

	"github.com/depotdb/depot"
)

// ReadResult carries the data of an entry read together with the version it
// was read from and the dataset's active version at resolution time. Both
// ids travel back to the caller in response headers, so a reader can pin
// version-id for repeatable reads across a publish cutover.
type ReadResult struct {
	ActiveVersionID string
	VersionID       string
	Data            map[string][]byte
}

// GetEntry reads one value. An empty versionID resolves to the dataset's
// active version through the read cache.
func (c *Coordinator) GetEntry(ctx context.Context, versionID, dataset, table, key string) (*ReadResult, error) {
	res, err := c.GetEntries(ctx, versionID, dataset, table, []string{key})
	if err != nil {
		return nil, err
	}
	if res.Data[key] == nil {
		return nil, &depot.Error{
			Code: depot.ENotFound,
			Msg:  fmt.Sprintf("entry %s/%s/%s not found in version %s", dataset, table, key, res.VersionID),
		}
	}
	return res, nil
}

// GetEntries reads a batch of keys. The returned data map contains only the
// keys that were found; the HTTP layer derives hit and miss counts from the
// request.
func (c *Coordinator) GetEntries(ctx context.Context, versionID, dataset, table string, keys []string) (*ReadResult, error) {
	active, resolved, err := c.resolveVersion(ctx, versionID, dataset)
	if err != nil {
		return nil, err
	}

	entryKeys := make([]depot.EntryKey, 0, len(keys))
	for _, k := range keys {
		entryKeys = append(entryKeys, depot.EntryKey{
			Dataset: dataset,
			Version: resolved,
			Table:   table,
			Key:     k,
		})
	}

	all, err := c.entries.GetEntries(ctx, entryKeys)
	if err != nil {
		return nil, err
	}

	data := make(map[string][]byte, len(all))
	for k, v := range all {
		if v != nil {
			data[k] = v
		}
	}
	return &ReadResult{
		ActiveVersionID: active,
		VersionID:       resolved,
		Data:            data,
	}, nil
}

// resolveVersion returns the dataset's active version and the version a read
// should use. Reads that pin a version still report the active version so
// callers can detect a cutover.
func (c *Coordinator) resolveVersion(ctx context.Context, versionID, dataset string) (active, resolved string, err error) {
	d, err := c.cache.Get(ctx, dataset)
	if err != nil {
		return "", "", err
	}

	if versionID != "" {
		return d.ActiveVersion, versionID, nil
	}
	if d.ActiveVersion == "" {
		return "", "", &depot.Error{
			Code: depot.EInvalid,
			Msg:  fmt.Sprintf("dataset %s has no active version and no version-id was given", dataset),
			Data: map[string]interface{}{"error": depot.KindNoActiveVersion},
		}
	}
	return d.ActiveVersion, d.ActiveVersion, nil
}
