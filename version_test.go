package depot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	allowed := []struct {
		from, to Status
	}{
		{StatusPreparing, StatusAwaitingEntries},
		{StatusPreparing, StatusDiscarded},
		{StatusPreparing, StatusFailed},
		{StatusAwaitingEntries, StatusSaving},
		{StatusAwaitingEntries, StatusDiscarded},
		{StatusAwaitingEntries, StatusFailed},
		{StatusSaving, StatusSaved},
		{StatusSaving, StatusDiscarded},
		{StatusSaving, StatusFailed},
		{StatusSaved, StatusPublishing},
		{StatusSaved, StatusPublished},
		{StatusSaved, StatusDiscarded},
		{StatusSaved, StatusFailed},
		{StatusPublishing, StatusPublished},
		{StatusPublishing, StatusDiscarded},
		{StatusPublishing, StatusFailed},
		{StatusPublished, StatusSaved},
	}
	for _, tt := range allowed {
		assert.True(t, tt.from.CanTransitionTo(tt.to), "%s -> %s should be allowed", tt.from, tt.to)
	}

	denied := []struct {
		from, to Status
	}{
		{StatusPreparing, StatusSaving},
		{StatusPreparing, StatusPublished},
		{StatusAwaitingEntries, StatusSaved},
		{StatusSaving, StatusPublished},
		{StatusSaved, StatusAwaitingEntries},
		{StatusPublished, StatusPublishing},
		{StatusPublished, StatusDiscarded},
		{StatusDiscarded, StatusPreparing},
		{StatusDiscarded, StatusFailed},
		{StatusFailed, StatusSaved},
	}
	for _, tt := range denied {
		assert.False(t, tt.from.CanTransitionTo(tt.to), "%s -> %s should be denied", tt.from, tt.to)
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusDiscarded.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusPublished.Terminal())
	assert.False(t, Status("bogus").Terminal())
}

func TestVersionValidate(t *testing.T) {
	v := &Version{ID: "v1", Dataset: "recs", Status: StatusPreparing}
	require.NoError(t, v.Validate())

	assert.Error(t, (&Version{Dataset: "recs", Status: StatusPreparing}).Validate())
	assert.Error(t, (&Version{ID: "v1", Dataset: "no spaces", Status: StatusPreparing}).Validate())
	assert.Error(t, (&Version{ID: "v1", Dataset: "recs", Status: Status("nope")}).Validate())
}

func TestDatasetValidate(t *testing.T) {
	d := &Dataset{Name: "recs", Tables: []string{"items"}}
	d.SetDefaults()
	require.NoError(t, d.Validate())
	assert.Equal(t, ContentTypeJSON, d.ContentType)
	assert.Equal(t, EvictionKeepLastX, d.EvictionPolicy.Type)

	tests := []struct {
		name string
		d    Dataset
	}{
		{"empty name", Dataset{Tables: []string{"items"}}},
		{"bad name", Dataset{Name: "has space", Tables: []string{"items"}}},
		{"no tables", Dataset{Name: "recs"}},
		{"duplicate tables", Dataset{Name: "recs", Tables: []string{"items", "items"}}},
		{"bad table", Dataset{Name: "recs", Tables: []string{"bad table"}}},
		{"bad content type", Dataset{Name: "recs", Tables: []string{"items"}, ContentType: "text/csv"}},
		{"bad eviction policy", Dataset{Name: "recs", Tables: []string{"items"}, EvictionPolicy: EvictionPolicy{Type: "lru"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.d.Validate()
			require.Error(t, err)
			assert.Equal(t, EInvalid, ErrorCode(err))
		})
	}
}
