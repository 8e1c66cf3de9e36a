package statuslist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/credon/veridex/pkg/bitstring"
	"github.com/credon/veridex/pkg/docstore"
	"github.com/credon/veridex/pkg/events"
	"github.com/credon/veridex/pkg/log"
	"github.com/credon/veridex/pkg/metrics"
	"github.com/credon/veridex/pkg/types"
)

// ErrNotPublished is returned when a status list exists but has no published
// credential yet.
var ErrNotPublished = errors.New("status list not published")

// publishedCacheSize bounds the read cache of published list credentials.
const publishedCacheSize = 128

// Signer signs status list credentials.
type Signer interface {
	Sign(ctx context.Context, cred *types.Credential) (*types.Credential, error)
}

// listRecord is the stored state of one status list: the working bitstring
// plus the most recently published credential over it.
type listRecord struct {
	ID            string           `json:"id"`
	Type          types.ListType   `json:"type"`
	StatusPurpose string           `json:"statusPurpose"`
	Length        int              `json:"length"`
	EncodedList   string           `json:"encodedList"`
	Published     *types.Credential `json:"published,omitempty"`
}

// Manager owns status list documents for one issuer: creation, bit flips,
// publication and reads. Writes go through CAS retry loops; reads of
// published credentials are served from a process-local LRU.
type Manager struct {
	store     docstore.Store
	signer    Signer
	issuer    string
	broker    *events.Broker
	published *lru.Cache[string, *types.Credential]
	logger    zerolog.Logger
}

// Config configures a Manager.
type Config struct {
	Store  docstore.Store
	Signer Signer
	// Issuer is the issuer URI stamped into status list credentials.
	Issuer string
	Broker *events.Broker
}

// NewManager creates a status list manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("issuer URI is required")
	}
	cache, err := lru.New[string, *types.Credential](publishedCacheSize)
	if err != nil {
		return nil, err
	}
	return &Manager{
		store:     cfg.Store,
		signer:    cfg.Signer,
		issuer:    cfg.Issuer,
		broker:    cfg.Broker,
		published: cache,
		logger:    log.WithComponent("statuslist"),
	}, nil
}

// Source binds a Manager to one list type so it satisfies the allocator's
// ListSource contract. Lists created through different configs carry their
// own credential shapes.
type Source struct {
	*Manager
	listType types.ListType
}

// NewSource returns a ListSource creating lists of the given type.
func (m *Manager) NewSource(listType types.ListType) *Source {
	return &Source{Manager: m, listType: listType}
}

// CreateStatusList creates the status list identified by id, publishing an
// initial all-clear credential. The call is idempotent: workers re-running a
// half-finished capacity change converge on the existing list.
func (s *Source) CreateStatusList(ctx context.Context, id, statusPurpose string, length int) (string, error) {
	for {
		docs, err := s.store.Find(ctx, map[string]string{
			"meta.type":  types.DocTypeStatusList,
			"content.id": id,
		}, 1)
		if err != nil {
			return "", err
		}
		if len(docs) > 0 {
			return id, nil
		}

		bits, err := bitstring.New(length)
		if err != nil {
			return "", err
		}
		encoded, err := bits.Encode()
		if err != nil {
			return "", err
		}
		record := &listRecord{
			ID:            id,
			Type:          s.listType,
			StatusPurpose: statusPurpose,
			Length:        length,
			EncodedList:   encoded,
		}
		record.Published, err = s.buildSignedCredential(ctx, record)
		if err != nil {
			return "", err
		}

		doc, err := docstore.NewDocument(s.store.GenerateID(), record, map[string]any{
			"type":  types.DocTypeStatusList,
			"dirty": false,
		})
		if err != nil {
			return "", err
		}
		if _, err := s.store.Update(ctx, doc); err != nil {
			if errors.Is(err, docstore.ErrDuplicate) {
				// Another worker created the list; use theirs.
				continue
			}
			return "", err
		}
		s.logger.Info().Str("list_id", id).Str("purpose", statusPurpose).
			Msg("Status list created")
		return id, nil
	}
}

// SetStatus flips one bit of the list's working bitstring and marks the list
// dirty for republication.
func (m *Manager) SetStatus(ctx context.Context, listID string, index int, value bool) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc, record, err := m.getRecord(ctx, listID)
		if err != nil {
			return err
		}
		if index < 0 || index >= record.Length {
			return fmt.Errorf("status index %d out of range for list %s of length %d",
				index, listID, record.Length)
		}
		bits, err := bitstring.Decode(record.EncodedList)
		if err != nil {
			return err
		}
		if err := bits.Set(index, value); err != nil {
			return err
		}
		record.EncodedList, err = bits.Encode()
		if err != nil {
			return err
		}
		if err := doc.SetContent(record); err != nil {
			return err
		}
		doc.Meta["dirty"] = true
		if _, err := m.store.Update(ctx, doc); err != nil {
			if errors.Is(err, docstore.ErrConflict) {
				continue
			}
			return err
		}
		metrics.StatusUpdatesTotal.WithLabelValues(record.StatusPurpose).Inc()
		m.publishEvent(events.EventStatusUpdated, listID)
		return nil
	}
}

// Publish signs the list's current bitstring and stores the result as the
// published credential.
func (m *Manager) Publish(ctx context.Context, listID string) (*types.Credential, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, record, err := m.getRecord(ctx, listID)
		if err != nil {
			return nil, err
		}
		signed, err := m.buildSignedCredential(ctx, record)
		if err != nil {
			return nil, err
		}
		record.Published = signed
		if err := doc.SetContent(record); err != nil {
			return nil, err
		}
		doc.Meta["dirty"] = false
		if _, err := m.store.Update(ctx, doc); err != nil {
			if errors.Is(err, docstore.ErrConflict) {
				continue
			}
			return nil, err
		}
		m.published.Add(listID, signed)
		metrics.ListsPublishedTotal.Inc()
		m.publishEvent(events.EventListPublished, listID)
		m.logger.Debug().Str("list_id", listID).Msg("Status list published")
		return signed, nil
	}
}

// Get returns the most recently published credential for the list.
func (m *Manager) Get(ctx context.Context, listID string) (*types.Credential, error) {
	if cached, ok := m.published.Get(listID); ok {
		return cached, nil
	}
	_, record, err := m.getRecord(ctx, listID)
	if err != nil {
		return nil, err
	}
	if record.Published == nil {
		return nil, fmt.Errorf("list %s: %w", listID, ErrNotPublished)
	}
	m.published.Add(listID, record.Published)
	return record.Published, nil
}

// DirtyLists returns the IDs of lists whose working bitstring has changed
// since their last publication.
func (m *Manager) DirtyLists(ctx context.Context) ([]string, error) {
	docs, err := m.store.Find(ctx, map[string]string{
		"meta.type":  types.DocTypeStatusList,
		"meta.dirty": "true",
	}, 0)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		record := new(listRecord)
		if err := doc.DecodeContent(record); err != nil {
			return nil, err
		}
		ids = append(ids, record.ID)
	}
	return ids, nil
}

func (m *Manager) getRecord(ctx context.Context, listID string) (*docstore.Document, *listRecord, error) {
	docs, err := m.store.Find(ctx, map[string]string{
		"meta.type":  types.DocTypeStatusList,
		"content.id": listID,
	}, 1)
	if err != nil {
		return nil, nil, err
	}
	if len(docs) == 0 {
		return nil, nil, fmt.Errorf("status list %s: %w", listID, docstore.ErrNotFound)
	}
	record := new(listRecord)
	if err := docs[0].DecodeContent(record); err != nil {
		return nil, nil, err
	}
	if docs[0].Meta == nil {
		docs[0].Meta = map[string]any{"type": types.DocTypeStatusList}
	}
	return docs[0], record, nil
}

// buildSignedCredential wraps the record's bitstring in the credential shape
// its list type requires and signs it.
func (m *Manager) buildSignedCredential(ctx context.Context, record *listRecord) (*types.Credential, error) {
	var (
		credType    string
		subjectType string
		contexts    []any
	)
	switch record.Type {
	case types.ListTypeRevocationList2020:
		credType = "RevocationList2020Credential"
		subjectType = "RevocationList2020"
		contexts = []any{types.ContextCredentialsV1, types.ContextRevocationList2020}
	case types.ListTypeStatusList2021:
		credType = "StatusList2021Credential"
		subjectType = "StatusList2021"
		contexts = []any{types.ContextCredentialsV1, types.ContextStatusList2021}
	case types.ListTypeBitstringStatusList, types.ListTypeTerseBitstringStatusList:
		credType = "BitstringStatusListCredential"
		subjectType = "BitstringStatusList"
		contexts = []any{types.ContextCredentialsV2}
	default:
		return nil, fmt.Errorf("unsupported status list type %q", record.Type)
	}

	subject := map[string]any{
		"id":          record.ID + "#list",
		"type":        subjectType,
		"encodedList": record.EncodedList,
	}
	if record.Type != types.ListTypeRevocationList2020 {
		subject["statusPurpose"] = record.StatusPurpose
	}
	cred := &types.Credential{
		Context: contexts,
		ID:      record.ID,
		Types:   []string{"VerifiableCredential", credType},
	}
	var err error
	if cred.Issuer, err = marshalRaw(m.issuer); err != nil {
		return nil, err
	}
	if cred.CredentialSubject, err = marshalRaw(subject); err != nil {
		return nil, err
	}
	return m.signer.Sign(ctx, cred)
}

func marshalRaw(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal credential field: %w", err)
	}
	return data, nil
}

func (m *Manager) publishEvent(eventType events.EventType, listID string) {
	if m.broker == nil {
		return
	}
	m.broker.Publish(&events.Event{
		Type:     eventType,
		Metadata: map[string]string{"list_id": listID},
	})
}
