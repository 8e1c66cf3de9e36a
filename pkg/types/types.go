package types

import (
	"fmt"
)

// Limits on status list geometry. A list's bit length is blockCount times
// blockSize and must stay a multiple of 8 so the bitstring encodes to whole
// bytes.
const (
	MaxListSize   = 1 << 26
	MaxBlockSize  = 32
	MaxBlockCount = 1 << 21

	DefaultBlockCount        = 4096
	DefaultBlockSize         = 32
	DefaultMaxActiveListSize = 4
)

// ListType selects the credentialStatus entry shape emitted for a status
// list configuration.
type ListType string

const (
	ListTypeRevocationList2020       ListType = "RevocationList2020"
	ListTypeStatusList2021           ListType = "StatusList2021"
	ListTypeBitstringStatusList      ListType = "BitstringStatusList"
	ListTypeTerseBitstringStatusList ListType = "TerseBitstringStatusList"
)

// Status purposes understood by the issuer.
const (
	StatusPurposeRevocation = "revocation"
	StatusPurposeSuspension = "suspension"
)

// ListConfig configures one status list family for an issuer instance. Each
// config owns its own list management document, identified by IndexAllocator.
type ListConfig struct {
	// IndexAllocator is the caller-supplied UUID identifying the list
	// management document for this config.
	IndexAllocator string `json:"indexAllocator" yaml:"indexAllocator"`
	Type           ListType `json:"type" yaml:"type"`
	StatusPurpose  string   `json:"statusPurpose" yaml:"statusPurpose"`
	BlockCount     int      `json:"blockCount,omitempty" yaml:"blockCount"`
	BlockSize      int      `json:"blockSize,omitempty" yaml:"blockSize"`
	// ListCount caps how many status lists may ever be created for this
	// config. Zero means unbounded; issuance fails with insufficient
	// capacity once every list is fully assigned.
	ListCount int `json:"listCount,omitempty" yaml:"listCount"`
}

// ApplyDefaults fills unset geometry fields.
func (c *ListConfig) ApplyDefaults() {
	if c.BlockCount == 0 {
		c.BlockCount = DefaultBlockCount
	}
	if c.BlockSize == 0 {
		c.BlockSize = DefaultBlockSize
	}
}

// Validate rejects unusable configurations before any document is written.
func (c *ListConfig) Validate() error {
	if c.IndexAllocator == "" {
		return fmt.Errorf("indexAllocator is required")
	}
	switch c.Type {
	case ListTypeRevocationList2020, ListTypeStatusList2021,
		ListTypeBitstringStatusList, ListTypeTerseBitstringStatusList:
	default:
		return fmt.Errorf("unsupported status list type %q", c.Type)
	}
	switch c.StatusPurpose {
	case StatusPurposeRevocation, StatusPurposeSuspension:
	default:
		return fmt.Errorf("unsupported status purpose %q", c.StatusPurpose)
	}
	if c.BlockCount <= 0 || c.BlockSize <= 0 {
		return fmt.Errorf("blockCount and blockSize must be positive")
	}
	if c.ListCount < 0 {
		return fmt.Errorf("listCount must not be negative")
	}
	if c.BlockCount > MaxBlockCount {
		return fmt.Errorf("blockCount %d exceeds maximum %d", c.BlockCount, MaxBlockCount)
	}
	if c.BlockSize > MaxBlockSize {
		return fmt.Errorf("blockSize %d exceeds maximum %d", c.BlockSize, MaxBlockSize)
	}
	listSize := c.BlockCount * c.BlockSize
	if listSize > MaxListSize {
		return fmt.Errorf("list size %d exceeds maximum %d", listSize, MaxListSize)
	}
	if listSize%8 != 0 {
		return fmt.Errorf("list size %d must be a multiple of 8", listSize)
	}
	return nil
}

// ListSize returns the bit length of lists under this config.
func (c *ListConfig) ListSize() int {
	return c.BlockCount * c.BlockSize
}

// IssuerInstance is one issuer configuration served by the API.
type IssuerInstance struct {
	ID string `json:"id" yaml:"id"`
	// Issuer is the issuer URI stamped into credentials (typically a DID).
	Issuer string `json:"issuer" yaml:"issuer"`
	// BaseURL prefixes generated status list credential URLs.
	BaseURL           string       `json:"baseUrl" yaml:"baseUrl"`
	StatusLists       []ListConfig `json:"statusLists" yaml:"statusLists"`
	MaxActiveListSize int          `json:"maxActiveListSize,omitempty" yaml:"maxActiveListSize"`
}

// ApplyDefaults fills unset fields on the instance and its list configs.
func (i *IssuerInstance) ApplyDefaults() {
	if i.MaxActiveListSize == 0 {
		i.MaxActiveListSize = DefaultMaxActiveListSize
	}
	for idx := range i.StatusLists {
		i.StatusLists[idx].ApplyDefaults()
	}
}

// Validate checks the instance and every list config.
func (i *IssuerInstance) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("issuer instance id is required")
	}
	if i.Issuer == "" {
		return fmt.Errorf("issuer URI is required")
	}
	if i.MaxActiveListSize < 0 {
		return fmt.Errorf("maxActiveListSize must be positive")
	}
	seen := make(map[string]struct{}, len(i.StatusLists))
	for idx := range i.StatusLists {
		cfg := &i.StatusLists[idx]
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("status list %d: %w", idx, err)
		}
		if _, dup := seen[cfg.IndexAllocator]; dup {
			return fmt.Errorf("status list %d: indexAllocator %s reused", idx, cfg.IndexAllocator)
		}
		seen[cfg.IndexAllocator] = struct{}{}
	}
	return nil
}

// Document meta.type values.
const (
	DocTypeListManagement  = "listManagement"
	DocTypeBlockAssignment = "blockAssignment"
	DocTypeIndexAssignment = "indexAssignment"
	DocTypeCredential      = "verifiableCredential"
	DocTypeStatusList      = "statusListCredential"
)

// PreAllocatedList is one pre-generated status list identity the allocator
// intends to create next.
type PreAllocatedList struct {
	ID            string `json:"id"`
	StatusPurpose string `json:"statusPurpose"`
	Length        int    `json:"length"`
}

// ListItem ties an active or inactive slot in the list management document to
// a block assignment document and a specific status list version.
type ListItem struct {
	BlockAssignmentDocID string `json:"blockAssignmentDocId"`
	StatusListCredential string `json:"statusListCredential"`
	// SLSequence increases monotonically over the lifetime of the list
	// management document; it ties the item to one status list generation.
	SLSequence uint64 `json:"slSequence"`
}

// BlockAssignmentSets holds the active and inactive items of a list
// management document.
type BlockAssignmentSets struct {
	Active   []*ListItem `json:"active"`
	Inactive []*ListItem `json:"inactive"`
}

// ListManagementContent is the content of a list management document. One
// exists per (issuer config, indexAllocator).
type ListManagementContent struct {
	ID              string              `json:"id"`
	NextSlcIDs      []PreAllocatedList  `json:"nextSlcIds"`
	BlockAssignment BlockAssignmentSets `json:"blockAssignment"`
}

// BlockAssignmentContent tracks which blocks of one status list are fully
// assigned. Geometry is immutable per list.
type BlockAssignmentContent struct {
	SLSequence uint64 `json:"slSequence"`
	BlockCount int    `json:"blockCount"`
	BlockSize  int    `json:"blockSize"`
	// AssignedBlocks is an encoded bitstring of blockCount bits.
	AssignedBlocks     string `json:"assignedBlocks"`
	AssignedBlockCount int    `json:"assignedBlockCount"`
}

// IndexAssignmentContent is the cursor for one (block assignment doc, block)
// pair: the next unused index within the block.
type IndexAssignmentContent struct {
	SLSequence     uint64 `json:"slSequence"`
	NextLocalIndex int    `json:"nextLocalIndex"`
}
