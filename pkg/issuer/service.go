package issuer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/credon/veridex/pkg/allocator"
	"github.com/credon/veridex/pkg/docstore"
	"github.com/credon/veridex/pkg/events"
	"github.com/credon/veridex/pkg/log"
	"github.com/credon/veridex/pkg/metrics"
	"github.com/credon/veridex/pkg/statuslist"
	"github.com/credon/veridex/pkg/types"
)

// Signer signs credentials under issuance.
type Signer interface {
	Sign(ctx context.Context, cred *types.Credential) (*types.Credential, error)
}

// Service issues credentials for a set of configured issuer instances. One
// service runs per process; its shard cache is the process-wide reuse pool.
type Service struct {
	store      docstore.Store
	signer     Signer
	broker     *events.Broker
	shardCache *ShardCache
	logger     zerolog.Logger

	mu        sync.RWMutex
	instances map[string]*Instance
}

// Instance is one issuer configuration wired to its allocators and status
// list manager.
type Instance struct {
	Config      types.IssuerInstance
	StatusLists *statuslist.Manager
	managers    []*allocator.ListManager
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Store  docstore.Store
	Signer Signer
	Broker *events.Broker
}

// NewService creates the issuance service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	shardCache, err := NewShardCache()
	if err != nil {
		return nil, err
	}
	return &Service{
		store:      cfg.Store,
		signer:     cfg.Signer,
		broker:     cfg.Broker,
		shardCache: shardCache,
		logger:     log.WithComponent("issuer"),
		instances:  make(map[string]*Instance),
	}, nil
}

// AddInstance registers an issuer instance and prepares its allocators and
// indexes.
func (s *Service) AddInstance(ctx context.Context, cfg types.IssuerInstance) (*Instance, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid issuer instance: %w", err)
	}
	if err := s.store.EnsureIndex(ctx, []string{"meta.credentialStatus.id"}, true); err != nil {
		return nil, fmt.Errorf("failed to ensure credential status index: %w", err)
	}

	lists, err := statuslist.NewManager(statuslist.Config{
		Store:  s.store,
		Signer: s.signer,
		Issuer: cfg.Issuer,
		Broker: s.broker,
	})
	if err != nil {
		return nil, err
	}

	instance := &Instance{Config: cfg, StatusLists: lists}
	for i := range cfg.StatusLists {
		listCfg := cfg.StatusLists[i]
		manager, err := allocator.NewListManager(allocator.Config{
			Store:             s.store,
			Source:            lists.NewSource(listCfg.Type),
			ListConfig:        listCfg,
			MaxActiveListSize: cfg.MaxActiveListSize,
			BaseURL:           fmt.Sprintf("%s/issuers/%s", cfg.BaseURL, cfg.ID),
			Broker:            s.broker,
		})
		if err != nil {
			return nil, err
		}
		instance.managers = append(instance.managers, manager)
	}

	s.mu.Lock()
	s.instances[cfg.ID] = instance
	s.mu.Unlock()
	s.logger.Info().Str("issuer_id", cfg.ID).
		Int("status_lists", len(cfg.StatusLists)).
		Msg("Issuer instance registered")
	return instance, nil
}

// Instance returns a registered issuer instance.
func (s *Service) Instance(id string) (*Instance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	instance, ok := s.instances[id]
	return instance, ok
}

// Issue stamps status entries into the credential, signs it and stores the
// result. On a status index collision with a concurrent worker it retries
// with the writer's recovery state until the insert lands.
func (s *Service) Issue(ctx context.Context, instanceID string, cred *types.Credential) (*types.Credential, error) {
	instance, ok := s.Instance(instanceID)
	if !ok {
		return nil, fmt.Errorf("issuer instance %s: %w", instanceID, docstore.ErrNotFound)
	}
	start := time.Now()
	if cred.ID == "" {
		cred.ID = "urn:uuid:" + uuid.New().String()
	}
	if len(cred.Issuer) == 0 {
		issuerRaw, err := json.Marshal(instance.Config.Issuer)
		if err != nil {
			return nil, err
		}
		cred.Issuer = issuerRaw
	}

	writers := make([]*CredentialStatusWriter, 0, len(instance.managers))
	for i, manager := range instance.managers {
		writers = append(writers, NewCredentialStatusWriter(
			s.store, manager, s.shardCache, &instance.Config.StatusLists[i]))
	}
	statusIssuer := NewCredentialStatusIssuer(cred, writers)

	var signed *types.Credential
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := statusIssuer.Issue(ctx); err != nil {
			return nil, err
		}
		var err error
		signed, err = s.signer.Sign(ctx, cred)
		if err != nil {
			return nil, fmt.Errorf("failed to sign credential: %w", err)
		}

		doc, err := s.credentialDocument(signed, statusIssuer.StatusMetas())
		if err != nil {
			return nil, err
		}
		if _, err := s.store.Update(ctx, doc); err != nil {
			if errors.Is(err, docstore.ErrDuplicate) {
				collided, dupErr := statusIssuer.HasDuplicate(ctx)
				if dupErr != nil {
					return nil, dupErr
				}
				if collided {
					// Another worker claimed the same index; re-stamp and retry.
					metrics.DuplicateRetriesTotal.Inc()
					s.logger.Debug().Str("credential_id", cred.ID).
						Msg("Status index collision, retrying issuance")
					continue
				}
			}
			return nil, err
		}
		break
	}

	statusIssuer.Finish()
	metrics.CredentialsIssuedTotal.WithLabelValues(instanceID).Inc()
	metrics.IssuanceDuration.Observe(time.Since(start).Seconds())
	if s.broker != nil {
		s.broker.Publish(&events.Event{
			Type: events.EventCredentialIssued,
			Metadata: map[string]string{
				"issuer_id":     instanceID,
				"credential_id": signed.ID,
			},
		})
	}
	return signed, nil
}

// UpdateStatus flips the status bit for a previously issued credential. The
// affected list is marked dirty; the publisher loop (or an explicit publish)
// makes the change visible.
func (s *Service) UpdateStatus(ctx context.Context, instanceID, credentialID, statusPurpose string) error {
	instance, ok := s.Instance(instanceID)
	if !ok {
		return fmt.Errorf("issuer instance %s: %w", instanceID, docstore.ErrNotFound)
	}
	if statusPurpose == "" {
		statusPurpose = types.StatusPurposeRevocation
	}

	docs, err := s.store.Find(ctx, map[string]string{
		"meta.type":  types.DocTypeCredential,
		"content.id": credentialID,
	}, 1)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return fmt.Errorf("credential %s: %w", credentialID, docstore.ErrNotFound)
	}

	listID, index, err := statusEntryMeta(docs[0], statusPurpose)
	if err != nil {
		return err
	}
	return instance.StatusLists.SetStatus(ctx, listID, index, true)
}

// credentialDocument wraps the signed credential for storage; the meta block
// drives the status-entry uniqueness index and later status lookups.
func (s *Service) credentialDocument(signed *types.Credential, metas []StatusMeta) (*docstore.Document, error) {
	statusMeta := make([]any, 0, len(metas))
	for _, m := range metas {
		statusMeta = append(statusMeta, map[string]any{
			"id":                   m.ID,
			"statusListCredential": m.StatusListCredential,
			"statusListIndex":      m.StatusListIndex,
			"statusPurpose":        m.StatusPurpose,
		})
	}
	return docstore.NewDocument(s.store.GenerateID(), signed, map[string]any{
		"type":             types.DocTypeCredential,
		"credentialStatus": statusMeta,
	})
}

// statusEntryMeta extracts the list and index recorded for the purpose from
// a stored credential document.
func statusEntryMeta(doc *docstore.Document, statusPurpose string) (string, int, error) {
	entries, _ := doc.Meta["credentialStatus"].([]any)
	for _, raw := range entries {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		purpose, _ := entry["statusPurpose"].(string)
		if purpose != statusPurpose {
			continue
		}
		listID, _ := entry["statusListCredential"].(string)
		index, err := toInt(entry["statusListIndex"])
		if err != nil {
			return "", 0, fmt.Errorf("credential %s has malformed status metadata: %w", doc.ID, err)
		}
		return listID, index, nil
	}
	return "", 0, fmt.Errorf("credential %s has no status entry with purpose %q", doc.ID, statusPurpose)
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	default:
		return 0, fmt.Errorf("unsupported index type %T", v)
	}
}
