package allocator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/credon/veridex/pkg/docstore"
	"github.com/credon/veridex/pkg/events"
	"github.com/credon/veridex/pkg/log"
	"github.com/credon/veridex/pkg/metrics"
	"github.com/credon/veridex/pkg/types"
)

// Config configures a ListManager.
type Config struct {
	Store      docstore.Store
	Source     ListSource
	ListConfig types.ListConfig
	// MaxActiveListSize caps the number of concurrently active lists.
	// Defaults to types.DefaultMaxActiveListSize.
	MaxActiveListSize int
	// BaseURL prefixes generated status list credential URLs.
	BaseURL string
	// Broker receives rotation and capacity events when set.
	Broker *events.Broker
	// NewListURL overrides status list URL generation (tests).
	NewListURL func() string
	// RandInt overrides the uniform block choice (tests).
	RandInt func(n int) int
}

// ListManager owns the list management document lifecycle for one status
// list configuration: ensure-exists, read-active, rotation of fully assigned
// lists, capacity growth and shard selection. A single manager serves any
// number of concurrent GetShard calls; all cross-worker coordination happens
// through CAS on the underlying documents, so per-call state stays local.
type ListManager struct {
	store             docstore.Store
	source            ListSource
	cfg               types.ListConfig
	maxActiveListSize int
	broker            *events.Broker
	newListURL        func() string
	randInt           func(n int) int
	logger            zerolog.Logger

	initMu      sync.Mutex
	initialized bool
}

// shardCall is the state of one GetShard invocation.
type shardCall struct {
	lmdDoc    *docstore.Document
	lmd       *types.ListManagementContent
	cache     *IndexAllocationCache
	conflicts int
}

// NewListManager creates a manager for the given configuration.
func NewListManager(cfg Config) (*ListManager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("list source is required")
	}
	listCfg := cfg.ListConfig
	listCfg.ApplyDefaults()
	if err := listCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid list config: %w", err)
	}
	maxActive := cfg.MaxActiveListSize
	if maxActive == 0 {
		maxActive = types.DefaultMaxActiveListSize
	}
	newListURL := cfg.NewListURL
	if newListURL == nil {
		base := cfg.BaseURL
		newListURL = func() string {
			return fmt.Sprintf("%s/slcs/%s", base, uuid.New().String())
		}
	}
	return &ListManager{
		store:             cfg.Store,
		source:            cfg.Source,
		cfg:               listCfg,
		maxActiveListSize: maxActive,
		broker:            cfg.Broker,
		newListURL:        newListURL,
		randInt:           cfg.RandInt,
		logger:            log.WithAllocatorID(listCfg.IndexAllocator),
	}, nil
}

// ListConfig returns the manager's list configuration.
func (m *ListManager) ListConfig() *types.ListConfig {
	return &m.cfg
}

// GetShard returns a shard with at least one assignable index. It loops
// through conflict and staleness recovery until a shard is available or
// capacity is exhausted.
func (m *ListManager) GetShard(ctx context.Context) (*Shard, error) {
	m.initMu.Lock()
	if !m.initialized {
		if err := m.ensureIndexes(ctx); err != nil {
			m.initMu.Unlock()
			return nil, err
		}
		m.initialized = true
	}
	m.initMu.Unlock()

	call := &shardCall{}
	if err := m.ensureListManagementDoc(ctx, call); err != nil {
		return nil, err
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := m.readActiveBlockAssignmentDocs(ctx, call); err != nil {
			return nil, err
		}
		shard, err := m.selectShard(ctx, call)
		if err != nil {
			return nil, err
		}
		if shard != nil {
			return shard, nil
		}
	}
}

// ensureIndexes registers the indexes the allocator depends on. The compound
// index on (blockAssignmentDocId, blockIndex) is what makes index assignment
// creation a reliable contention signal.
func (m *ListManager) ensureIndexes(ctx context.Context) error {
	if err := m.store.EnsureIndex(ctx, []string{"meta.type", "content.id"}, true); err != nil {
		return fmt.Errorf("failed to ensure list management index: %w", err)
	}
	if err := m.store.EnsureIndex(ctx,
		[]string{"meta.blockAssignmentDocId", "meta.blockIndex"}, true); err != nil {
		return fmt.Errorf("failed to ensure index assignment index: %w", err)
	}
	return nil
}

// ensureListManagementDoc finds or CAS-inserts the list management document.
// Losing the insert race converts to a read of the winner.
func (m *ListManager) ensureListManagementDoc(ctx context.Context, call *shardCall) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		docs, err := m.store.Find(ctx, map[string]string{
			"meta.type":  types.DocTypeListManagement,
			"content.id": m.cfg.IndexAllocator,
		}, 1)
		if err != nil {
			return err
		}
		if len(docs) > 0 {
			call.lmdDoc = docs[0]
			call.lmd = new(types.ListManagementContent)
			return call.lmdDoc.DecodeContent(call.lmd)
		}

		content := &types.ListManagementContent{
			ID:         m.cfg.IndexAllocator,
			NextSlcIDs: m.generateNextSlcIDs(0),
			BlockAssignment: types.BlockAssignmentSets{
				Active:   []*types.ListItem{},
				Inactive: []*types.ListItem{},
			},
		}
		doc, err := docstore.NewDocument(m.store.GenerateID(), content, map[string]any{
			"type": types.DocTypeListManagement,
		})
		if err != nil {
			return err
		}
		created, err := m.store.Update(ctx, doc)
		if err == nil {
			m.logger.Info().Msg("List management document created")
			call.lmdDoc = created
			call.lmd = content
			return nil
		}
		if errors.Is(err, docstore.ErrDuplicate) {
			// Another worker created it first; read theirs.
			continue
		}
		return err
	}
}

func (m *ListManager) rereadListManagementDoc(ctx context.Context, call *shardCall) error {
	doc, err := m.store.Get(ctx, call.lmdDoc.ID)
	if err != nil {
		return err
	}
	content := new(types.ListManagementContent)
	if err := doc.DecodeContent(content); err != nil {
		return err
	}
	call.lmdDoc = doc
	call.lmd = content
	return nil
}

// readActiveBlockAssignmentDocs builds the active cache, rotating fully
// assigned lists out of the active set and growing capacity when the set
// runs empty.
func (m *ListManager) readActiveBlockAssignmentDocs(ctx context.Context, call *shardCall) error {
	call.cache = nil
	for call.cache == nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		cache := NewIndexAllocationCache(m.store, &m.cfg, m.randInt)
		if err := cache.Populate(ctx, call.lmd.BlockAssignment.Active); err != nil {
			return err
		}
		if cache.OutOfSync() {
			if err := m.rereadListManagementDoc(ctx, call); err != nil {
				return err
			}
			continue
		}

		rotated := cache.Rotate(&call.lmd.BlockAssignment)
		if len(rotated) > 0 {
			metrics.ListRotationsTotal.Add(float64(len(rotated)))
			var repurposed *CacheRecord
			if cache.Len() == 0 {
				// Every active list was fully assigned. Create the next
				// batch of lists and optimistically reactivate the first
				// rotated record so this call can proceed without rereading.
				former, err := m.createNextStatusLists(ctx, call.lmd)
				if err != nil {
					return err
				}
				repurposed = rotated[0]
				m.reactivate(call.lmd, repurposed.Item, former[0].ID)
				fresh, err := newBlockAssignmentContent(repurposed.Item.SLSequence, &m.cfg)
				if err != nil {
					return err
				}
				repurposed.BlockAssignment = fresh
				cache.AddRecord(repurposed)
			}
			if err := call.lmdDoc.SetContent(call.lmd); err != nil {
				return err
			}
			updated, err := m.store.Update(ctx, call.lmdDoc)
			if err != nil {
				if errors.Is(err, docstore.ErrConflict) {
					if err := m.rereadListManagementDoc(ctx, call); err != nil {
						return err
					}
					continue
				}
				return err
			}
			call.lmdDoc = updated
			m.logger.Debug().Int("rotated", len(rotated)).Msg("Fully assigned lists rotated to inactive")

			if repurposed != nil {
				doc := repurposed.Doc.Clone()
				if err := doc.SetContent(repurposed.BlockAssignment); err != nil {
					return err
				}
				updatedBAD, err := m.store.Update(ctx, doc)
				if err != nil {
					if errors.Is(err, docstore.ErrConflict) {
						if err := m.rereadListManagementDoc(ctx, call); err != nil {
							return err
						}
						continue
					}
					return err
				}
				repurposed.Doc = updatedBAD
				m.publish(events.EventListRotated, repurposed.Item.StatusListCredential)
			}
		}

		if cache.Len() == 0 {
			if _, err := m.tryAddCapacity(ctx, call, 1); err != nil {
				return err
			}
			continue
		}
		call.cache = cache
	}
	return nil
}

// selectShard wraps the cache's selection with the conflict accounting that
// decides when contention justifies a new list.
func (m *ListManager) selectShard(ctx context.Context, call *shardCall) (*Shard, error) {
	shard, err := call.cache.SelectShard(ctx)
	if err != nil {
		if errors.Is(err, docstore.ErrConflict) || errors.Is(err, docstore.ErrDuplicate) {
			call.conflicts++
			metrics.ShardConflictsTotal.Inc()
			if m.preferNewList(call) {
				target := call.cache.Len() + 1
				if _, err := m.tryAddCapacity(ctx, call, target); err != nil {
					return nil, err
				}
				call.conflicts = 0
			}
			return nil, nil
		}
		return nil, err
	}
	return shard, nil
}

// preferNewList holds when repeated contention hits a mostly-assigned active
// set: at that point spreading writers over another list beats retrying.
func (m *ListManager) preferNewList(call *shardCall) bool {
	if call.conflicts < 2 {
		return false
	}
	for _, rec := range call.cache.Records() {
		if rec.BlockAssignment.AssignedBlockCount*2 < rec.BlockAssignment.BlockCount {
			return false
		}
	}
	return true
}

// tryAddCapacity grows the active set toward target, reusing inactive items
// before creating new ones. Returns true when a list was activated.
func (m *ListManager) tryAddCapacity(ctx context.Context, call *shardCall, target int) (bool, error) {
	for len(call.lmd.BlockAssignment.Active) < target && len(call.lmd.NextSlcIDs) > 0 {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if len(call.lmd.BlockAssignment.Active) >= m.maxActiveListSize {
			return false, nil
		}
		slSequence := maxSLSequence(call.lmd) + 1
		former, err := m.createNextStatusLists(ctx, call.lmd)
		if err != nil {
			return false, err
		}

		var item *types.ListItem
		if len(call.lmd.BlockAssignment.Inactive) > 0 {
			item = call.lmd.BlockAssignment.Inactive[0]
			call.lmd.BlockAssignment.Inactive = call.lmd.BlockAssignment.Inactive[1:]
		} else {
			item = &types.ListItem{BlockAssignmentDocID: m.store.GenerateID()}
		}
		item.StatusListCredential = former[0].ID
		item.SLSequence = slSequence
		call.lmd.BlockAssignment.Active = append(call.lmd.BlockAssignment.Active, item)

		if err := call.lmdDoc.SetContent(call.lmd); err != nil {
			return false, err
		}
		updated, err := m.store.Update(ctx, call.lmdDoc)
		if err == nil {
			call.lmdDoc = updated
			metrics.CapacityAddsTotal.Inc()
			metrics.ActiveListsGauge.WithLabelValues(m.cfg.IndexAllocator).
				Set(float64(len(call.lmd.BlockAssignment.Active)))
			m.publish(events.EventCapacityAdded, item.StatusListCredential)
			m.logger.Info().
				Str("list_id", item.StatusListCredential).
				Uint64("sl_sequence", slSequence).
				Int("active", len(call.lmd.BlockAssignment.Active)).
				Msg("Status list capacity added")
			return true, nil
		}
		if errors.Is(err, docstore.ErrConflict) {
			if err := m.rereadListManagementDoc(ctx, call); err != nil {
				return false, err
			}
			continue
		}
		return false, err
	}
	if len(call.lmd.BlockAssignment.Active) == 0 {
		return false, fmt.Errorf("allocator %s: %w", m.cfg.IndexAllocator, ErrInsufficientCapacity)
	}
	return false, nil
}

// createNextStatusLists creates every pre-allocated status list in parallel,
// then replaces nextSlcIds with a fresh batch (in memory; the caller persists
// the list management document). The consumed batch is returned so callers
// can bind the activated item to the first created list.
func (m *ListManager) createNextStatusLists(
	ctx context.Context, lmd *types.ListManagementContent) ([]types.PreAllocatedList, error) {
	if len(lmd.NextSlcIDs) == 0 {
		return nil, fmt.Errorf("allocator %s has no further lists to create: %w",
			m.cfg.IndexAllocator, ErrInsufficientCapacity)
	}

	errs := make(chan error, len(lmd.NextSlcIDs))
	for _, next := range lmd.NextSlcIDs {
		go func(next types.PreAllocatedList) {
			_, err := m.source.CreateStatusList(ctx, next.ID, next.StatusPurpose, next.Length)
			errs <- err
		}(next)
	}
	var firstErr error
	for range lmd.NextSlcIDs {
		if err := <-errs; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return nil, fmt.Errorf("failed to create status lists: %w", firstErr)
	}
	for _, created := range lmd.NextSlcIDs {
		m.publish(events.EventListCreated, created.ID)
	}

	former := lmd.NextSlcIDs
	lmd.NextSlcIDs = m.generateNextSlcIDs(int(maxSLSequence(lmd)) + 1)
	return former, nil
}

// generateNextSlcIDs pre-allocates the identities of the next list batch.
// plannedCount is the number of lists already created or about to be
// activated; when a list count cap is configured, generation stops there.
func (m *ListManager) generateNextSlcIDs(plannedCount int) []types.PreAllocatedList {
	if m.cfg.ListCount > 0 && plannedCount >= m.cfg.ListCount {
		return []types.PreAllocatedList{}
	}
	return []types.PreAllocatedList{{
		ID:            m.newListURL(),
		StatusPurpose: m.cfg.StatusPurpose,
		Length:        m.cfg.ListSize(),
	}}
}

// reactivate moves a just-rotated item from inactive back to active, bound
// to a new status list generation. The new slSequence is computed while the
// item still counts toward the maximum, so a lone rotated list advances
// rather than repeats its sequence.
func (m *ListManager) reactivate(lmd *types.ListManagementContent, item *types.ListItem, listID string) {
	slSequence := maxSLSequence(lmd) + 1
	var inactive []*types.ListItem
	for _, candidate := range lmd.BlockAssignment.Inactive {
		if candidate != item {
			inactive = append(inactive, candidate)
		}
	}
	lmd.BlockAssignment.Inactive = inactive
	item.StatusListCredential = listID
	item.SLSequence = slSequence
	lmd.BlockAssignment.Active = append(lmd.BlockAssignment.Active, item)
}

func (m *ListManager) publish(eventType events.EventType, listID string) {
	if m.broker == nil {
		return
	}
	m.broker.Publish(&events.Event{
		Type: eventType,
		Metadata: map[string]string{
			"allocator_id": m.cfg.IndexAllocator,
			"list_id":      listID,
		},
	})
}

func maxSLSequence(lmd *types.ListManagementContent) uint64 {
	var max uint64
	for _, item := range lmd.BlockAssignment.Active {
		if item.SLSequence > max {
			max = item.SLSequence
		}
	}
	for _, item := range lmd.BlockAssignment.Inactive {
		if item.SLSequence > max {
			max = item.SLSequence
		}
	}
	return max
}
