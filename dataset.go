package depot

import (
	"context"
	"fmt"
	"time"
)

// ContentTypeJSON is the only content type the platform recognizes.
const ContentTypeJSON = "application/json"

// EvictionKeepLastX is the only eviction policy type the platform recognizes.
const EvictionKeepLastX = "keep-last-x-versions"

// DefaultEvictionVersions is the number of versions kept when a dataset does
// not specify its own eviction policy.
const DefaultEvictionVersions = 2

// EvictionPolicy describes how many saved versions of a dataset are retained.
// Enforcement is left to an external janitor; the core only round-trips it.
type EvictionPolicy struct {
	Type     string `json:"type"`
	Versions int    `json:"versions"`
}

// OperationRecord is one append-only audit entry on a dataset or version.
type OperationRecord struct {
	Action    string            `json:"action"`
	Timestamp time.Time         `json:"timestamp"`
	Detail    map[string]string `json:"detail,omitempty"`
}

// Dataset names a logical collection of tables. The dataset name doubles as
// its identifier. ActiveVersion points at the version currently serving
// reads; it is flipped only by the publish handler.
type Dataset struct {
	Name           string            `json:"name"`
	Tables         []string          `json:"tables"`
	ContentType    string            `json:"content-type"`
	EvictionPolicy EvictionPolicy    `json:"eviction-policy"`
	ActiveVersion  string            `json:"active-version,omitempty"`
	OperationLog   []OperationRecord `json:"operation-log,omitempty"`
}

// HasTable reports whether the dataset declares the named table.
func (d *Dataset) HasTable(table string) bool {
	for _, t := range d.Tables {
		if t == table {
			return true
		}
	}
	return false
}

// Validate checks the dataset for a well-formed name, a non-empty set of
// unique web-safe tables, and a recognized content type.
func (d *Dataset) Validate() error {
	if !ValidName(d.Name) {
		return &Error{
			Code: EInvalid,
			Msg:  fmt.Sprintf("dataset name %q must be a non-empty web-safe string", d.Name),
		}
	}
	if len(d.Tables) == 0 {
		return &Error{
			Code: EInvalid,
			Msg:  "dataset must declare at least one table",
		}
	}
	seen := make(map[string]struct{}, len(d.Tables))
	for _, t := range d.Tables {
		if !ValidName(t) {
			return &Error{
				Code: EInvalid,
				Msg:  fmt.Sprintf("table name %q must be a non-empty web-safe string", t),
			}
		}
		if _, ok := seen[t]; ok {
			return &Error{
				Code: EInvalid,
				Msg:  fmt.Sprintf("duplicate table name %q", t),
			}
		}
		seen[t] = struct{}{}
	}
	if d.ContentType != "" && d.ContentType != ContentTypeJSON {
		return &Error{
			Code: EInvalid,
			Msg:  fmt.Sprintf("unrecognized content type %q", d.ContentType),
		}
	}
	if d.EvictionPolicy.Type != "" && d.EvictionPolicy.Type != EvictionKeepLastX {
		return &Error{
			Code: EInvalid,
			Msg:  fmt.Sprintf("unrecognized eviction policy %q", d.EvictionPolicy.Type),
		}
	}
	if d.EvictionPolicy.Versions < 0 {
		return &Error{
			Code: EInvalid,
			Msg:  "eviction policy versions must not be negative",
		}
	}
	return nil
}

// SetDefaults fills in the content type and eviction policy when the caller
// left them unset.
func (d *Dataset) SetDefaults() {
	if d.ContentType == "" {
		d.ContentType = ContentTypeJSON
	}
	if d.EvictionPolicy.Type == "" {
		d.EvictionPolicy = EvictionPolicy{
			Type:     EvictionKeepLastX,
			Versions: DefaultEvictionVersions,
		}
	}
}

// DatasetService is the contract for dataset metadata access.
//
// FindDataset returns a coded ENotFound error when the dataset does not
// exist; callers that treat absence as a normal outcome should test the code
// with ErrorCode.
type DatasetService interface {
	CreateDataset(ctx context.Context, d *Dataset) error
	FindDataset(ctx context.Context, name string) (*Dataset, error)
	ListDatasets(ctx context.Context) ([]*Dataset, error)
}
