package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusEntryWireShapes(t *testing.T) {
	tests := []struct {
		name  string
		entry StatusEntry
		want  string
	}{
		{
			name: "RevocationList2020",
			entry: StatusEntry{
				ListType:             ListTypeRevocationList2020,
				ID:                   "https://example.com/slcs/1#42",
				StatusListCredential: "https://example.com/slcs/1",
				StatusListIndex:      42,
			},
			want: `{"id":"https://example.com/slcs/1#42",` +
				`"revocationListCredential":"https://example.com/slcs/1",` +
				`"revocationListIndex":"42",` +
				`"type":"RevocationList2020Status"}`,
		},
		{
			name: "StatusList2021",
			entry: StatusEntry{
				ListType:             ListTypeStatusList2021,
				ID:                   "https://example.com/slcs/2#7",
				StatusListCredential: "https://example.com/slcs/2",
				StatusListIndex:      7,
				StatusPurpose:        StatusPurposeRevocation,
			},
			want: `{"id":"https://example.com/slcs/2#7",` +
				`"statusListCredential":"https://example.com/slcs/2",` +
				`"statusListIndex":"7",` +
				`"statusPurpose":"revocation",` +
				`"type":"StatusList2021Entry"}`,
		},
		{
			name: "BitstringStatusList",
			entry: StatusEntry{
				ListType:             ListTypeBitstringStatusList,
				ID:                   "https://example.com/slcs/3#0",
				StatusListCredential: "https://example.com/slcs/3",
				StatusListIndex:      0,
				StatusPurpose:        StatusPurposeSuspension,
			},
			want: `{"id":"https://example.com/slcs/3#0",` +
				`"statusListCredential":"https://example.com/slcs/3",` +
				`"statusListIndex":"0",` +
				`"statusPurpose":"suspension",` +
				`"type":"BitstringStatusListEntry"}`,
		},
		{
			name: "TerseBitstringStatusList",
			entry: StatusEntry{
				ListType:             ListTypeTerseBitstringStatusList,
				TerseStatusListIndex: 131077,
			},
			want: `{"terseStatusListIndex":131077,` +
				`"type":"TerseBitstringStatusListEntry"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(&tt.entry)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))

			// Round trip.
			var decoded StatusEntry
			require.NoError(t, json.Unmarshal(data, &decoded))
			redone, err := json.Marshal(&decoded)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(redone))
		})
	}
}

func TestStatusEntryUnknownPropertiesSurvive(t *testing.T) {
	wire := `{"id":"https://example.com/slcs/2#7",` +
		`"type":"StatusList2021Entry",` +
		`"statusListCredential":"https://example.com/slcs/2",` +
		`"statusListIndex":"7",` +
		`"statusPurpose":"revocation",` +
		`"futureProperty":{"nested":true}}`

	var entry StatusEntry
	require.NoError(t, json.Unmarshal([]byte(wire), &entry))
	assert.Contains(t, entry.Extra, "futureProperty")

	out, err := json.Marshal(&entry)
	require.NoError(t, err)
	assert.JSONEq(t, wire, string(out))
}

func TestStatusEntryUnknownTypeRejected(t *testing.T) {
	var entry StatusEntry
	err := json.Unmarshal([]byte(`{"type":"SomethingElseEntry"}`), &entry)
	assert.Error(t, err)
}

func TestListConfigValidate(t *testing.T) {
	valid := ListConfig{
		IndexAllocator: "4b4f16c3-701b-4b8c-b999-14c24671b803",
		Type:           ListTypeStatusList2021,
		StatusPurpose:  StatusPurposeRevocation,
		BlockCount:     4096,
		BlockSize:      32,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*ListConfig)
	}{
		{"missing allocator", func(c *ListConfig) { c.IndexAllocator = "" }},
		{"bad type", func(c *ListConfig) { c.Type = "FancyList" }},
		{"bad purpose", func(c *ListConfig) { c.StatusPurpose = "archival" }},
		{"zero block count", func(c *ListConfig) { c.BlockCount = 0 }},
		{"negative block size", func(c *ListConfig) { c.BlockSize = -1 }},
		{"block count too large", func(c *ListConfig) { c.BlockCount = MaxBlockCount + 1 }},
		{"block size too large", func(c *ListConfig) { c.BlockSize = MaxBlockSize + 1 }},
		{"list too large", func(c *ListConfig) { c.BlockCount = MaxBlockCount; c.BlockSize = MaxBlockSize }},
		{"not multiple of 8", func(c *ListConfig) { c.BlockCount = 3; c.BlockSize = 3 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestListConfigDefaults(t *testing.T) {
	cfg := ListConfig{
		IndexAllocator: "4b4f16c3-701b-4b8c-b999-14c24671b803",
		Type:           ListTypeBitstringStatusList,
		StatusPurpose:  StatusPurposeRevocation,
	}
	cfg.ApplyDefaults()
	assert.Equal(t, DefaultBlockCount, cfg.BlockCount)
	assert.Equal(t, DefaultBlockSize, cfg.BlockSize)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 131072, cfg.ListSize())
}
