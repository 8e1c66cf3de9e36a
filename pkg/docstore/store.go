package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Sentinel errors returned by Store implementations. Callers match them with
// errors.Is; the allocator's recovery paths depend on the distinction between
// a sequence conflict and a unique-index violation.
var (
	// ErrNotFound indicates the requested document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrConflict indicates a compare-and-swap failure: the stored sequence
	// did not match the sequence on the submitted document.
	ErrConflict = errors.New("document sequence conflict")
	// ErrDuplicate indicates a unique-index violation, including an insert of
	// an already-existing document ID.
	ErrDuplicate = errors.New("duplicate document")
)

// Document is the unit of storage. Content carries the entity payload; Meta
// carries attributes used only for indexing and lookup. Sequence increments
// on every successful update and is the store's only concurrency primitive.
type Document struct {
	ID       string          `json:"id"`
	Sequence uint64          `json:"sequence"`
	Content  json.RawMessage `json:"content"`
	Meta     map[string]any  `json:"meta,omitempty"`
}

// NewDocument builds a document around a JSON-marshalable content value.
func NewDocument(id string, content any, meta map[string]any) (*Document, error) {
	data, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document content: %w", err)
	}
	return &Document{ID: id, Content: data, Meta: meta}, nil
}

// DecodeContent unmarshals the document content into out.
func (d *Document) DecodeContent(out any) error {
	if err := json.Unmarshal(d.Content, out); err != nil {
		return fmt.Errorf("failed to decode content of document %s: %w", d.ID, err)
	}
	return nil
}

// SetContent replaces the document content with the marshaled value.
func (d *Document) SetContent(content any) error {
	data, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("failed to marshal document content: %w", err)
	}
	d.Content = data
	return nil
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	c := &Document{ID: d.ID, Sequence: d.Sequence}
	c.Content = append(json.RawMessage(nil), d.Content...)
	if d.Meta != nil {
		data, _ := json.Marshal(d.Meta)
		_ = json.Unmarshal(data, &c.Meta)
	}
	return c
}

// Store defines the document store contract the allocator coordinates
// through. Update is an insert when Sequence is zero and a compare-and-swap
// otherwise; both enforce every registered unique index. Find and Count match
// documents by equality on dotted attribute paths such as "content.id" or
// "meta.blockIndex".
type Store interface {
	// Get returns the document with the given ID, or ErrNotFound.
	Get(ctx context.Context, id string) (*Document, error)
	// Find returns up to limit documents whose attributes equal the given
	// values. A limit of zero means no limit.
	Find(ctx context.Context, equals map[string]string, limit int) ([]*Document, error)
	// Update inserts the document when doc.Sequence is zero, otherwise
	// replaces the stored document iff the stored sequence matches. The
	// returned document carries the post-update sequence.
	Update(ctx context.Context, doc *Document) (*Document, error)
	// Count returns the number of documents matching equals.
	Count(ctx context.Context, equals map[string]string) (int, error)
	// GenerateID returns a fresh unique document ID.
	GenerateID() string
	// EnsureIndex registers an index over the given attribute paths. Unique
	// indexes are enforced on every update; documents lacking one of the
	// attributes are exempt.
	EnsureIndex(ctx context.Context, attributes []string, unique bool) error
	// Close releases the store.
	Close() error
}

// indexSpec describes a registered index.
type indexSpec struct {
	Attributes []string `json:"attributes"`
	Unique     bool     `json:"unique"`
}

func (s indexSpec) name() string {
	return strings.Join(s.Attributes, "+")
}

// attributeValues resolves a dotted path against the document, fanning out
// over array elements. A VC's meta.credentialStatus is a list of entries, so
// "meta.credentialStatus.id" yields one value per entry.
func attributeValues(doc *Document, path string) []string {
	parts := strings.Split(path, ".")
	if len(parts) < 2 {
		return nil
	}
	var root any
	switch parts[0] {
	case "content":
		if err := json.Unmarshal(doc.Content, &root); err != nil {
			return nil
		}
	case "meta":
		root = anyMap(doc.Meta)
	default:
		return nil
	}
	return resolve(root, parts[1:])
}

func anyMap(m map[string]any) any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func resolve(node any, parts []string) []string {
	if node == nil {
		return nil
	}
	if len(parts) == 0 {
		if s, ok := canonicalValue(node); ok {
			return []string{s}
		}
		return nil
	}
	switch v := node.(type) {
	case map[string]any:
		child, ok := v[parts[0]]
		if !ok {
			return nil
		}
		return resolve(child, parts[1:])
	case []any:
		var out []string
		for _, elem := range v {
			out = append(out, resolve(elem, parts)...)
		}
		return out
	default:
		// Meta values may be typed structs; round-trip through JSON so the
		// same path logic applies.
		data, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return nil
		}
		switch generic.(type) {
		case map[string]any, []any:
			return resolve(generic, parts)
		}
		return nil
	}
}

// canonicalValue renders a scalar as the string form used for index keys and
// equality queries. Integer-valued floats render without a fraction so that
// meta attributes set as Go ints match queries built with strconv.Itoa.
func canonicalValue(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case bool:
		return strconv.FormatBool(x), true
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10), true
		}
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case uint64:
		return strconv.FormatUint(x, 10), true
	case json.Number:
		return x.String(), true
	default:
		return "", false
	}
}

// matches reports whether the document satisfies every equality constraint.
func matches(doc *Document, equals map[string]string) bool {
	for path, want := range equals {
		found := false
		for _, got := range attributeValues(doc, path) {
			if got == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// uniqueKeys computes the index keys the document occupies under the spec.
// Compound indexes require every attribute to be present; single-attribute
// indexes produce one key per fanned-out value.
func uniqueKeys(doc *Document, spec indexSpec) []string {
	tuples := [][]string{{}}
	for _, attr := range spec.Attributes {
		values := attributeValues(doc, attr)
		if len(values) == 0 {
			return nil
		}
		var next [][]string
		for _, tuple := range tuples {
			for _, v := range values {
				combined := append(append([]string(nil), tuple...), v)
				next = append(next, combined)
			}
		}
		tuples = next
	}
	keys := make([]string, 0, len(tuples))
	for _, tuple := range tuples {
		keys = append(keys, strings.Join(tuple, "\x1f"))
	}
	return keys
}
