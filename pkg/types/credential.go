package types

import (
	"encoding/json"
	"fmt"
)

// JSON-LD contexts required by the supported status entry types.
const (
	ContextCredentialsV1       = "https://www.w3.org/2018/credentials/v1"
	ContextCredentialsV2       = "https://www.w3.org/ns/credentials/v2"
	ContextRevocationList2020  = "https://w3id.org/vc-revocation-list-2020/v1"
	ContextStatusList2021      = "https://w3id.org/vc/status-list/2021/v1"
)

// StatusContext returns the JSON-LD context a status entry type requires on
// the enclosing credential, or empty for an unknown type. Bitstring types
// return the VC 2.0 base context, which defines them.
func StatusContext(listType ListType) string {
	switch listType {
	case ListTypeRevocationList2020:
		return ContextRevocationList2020
	case ListTypeStatusList2021:
		return ContextStatusList2021
	case ListTypeBitstringStatusList, ListTypeTerseBitstringStatusList:
		// Covered by the VC 2.0 base context.
		return ContextCredentialsV2
	default:
		return ""
	}
}

// Proof is a linked-data proof attached to a signed credential.
type Proof struct {
	Type               string `json:"type"`
	Created            string `json:"created"`
	VerificationMethod string `json:"verificationMethod"`
	ProofPurpose       string `json:"proofPurpose"`
	ProofValue         string `json:"proofValue"`
}

// Credential is a verifiable credential under issuance. Known fields are
// typed; any other properties survive a decode/encode round trip through
// Extra. CredentialStatus marshals as a single object when it holds exactly
// one entry, matching how most verifiers expect single-status credentials.
type Credential struct {
	Context           []any
	ID                string
	Types             []string
	Issuer            json.RawMessage
	CredentialSubject json.RawMessage
	CredentialStatus  []*StatusEntry
	Proof             *Proof
	Extra             map[string]json.RawMessage
}

// EnsureContext appends the context URL if it is not already present.
func (c *Credential) EnsureContext(url string) {
	if url == "" {
		return
	}
	for _, existing := range c.Context {
		if s, ok := existing.(string); ok && s == url {
			return
		}
	}
	c.Context = append(c.Context, url)
}

// StatusEntryForPurpose returns the credential's status entry with the given
// purpose, or nil.
func (c *Credential) StatusEntryForPurpose(purpose string) *StatusEntry {
	for _, entry := range c.CredentialStatus {
		if entry.StatusPurpose == purpose {
			return entry
		}
	}
	return nil
}

// MarshalJSON emits the credential with "@context" first-class and
// credentialStatus collapsed to an object for a single entry.
func (c *Credential) MarshalJSON() ([]byte, error) {
	fields := make(map[string]json.RawMessage, len(c.Extra)+7)
	for k, v := range c.Extra {
		fields[k] = v
	}
	set := func(key string, value any) error {
		data, err := json.Marshal(value)
		if err != nil {
			return err
		}
		fields[key] = data
		return nil
	}

	if len(c.Context) > 0 {
		if err := set("@context", c.Context); err != nil {
			return nil, err
		}
	}
	if c.ID != "" {
		if err := set("id", c.ID); err != nil {
			return nil, err
		}
	}
	if len(c.Types) > 0 {
		if err := set("type", c.Types); err != nil {
			return nil, err
		}
	}
	if len(c.Issuer) > 0 {
		fields["issuer"] = c.Issuer
	}
	if len(c.CredentialSubject) > 0 {
		fields["credentialSubject"] = c.CredentialSubject
	}
	switch len(c.CredentialStatus) {
	case 0:
	case 1:
		if err := set("credentialStatus", c.CredentialStatus[0]); err != nil {
			return nil, err
		}
	default:
		if err := set("credentialStatus", c.CredentialStatus); err != nil {
			return nil, err
		}
	}
	if c.Proof != nil {
		if err := set("proof", c.Proof); err != nil {
			return nil, err
		}
	}
	return json.Marshal(fields)
}

// UnmarshalJSON accepts credentialStatus as either an object or an array.
func (c *Credential) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	take := func(key string, out any) error {
		raw, ok := fields[key]
		if !ok {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("invalid credential field %s: %w", key, err)
		}
		delete(fields, key)
		return nil
	}

	if err := take("@context", &c.Context); err != nil {
		return err
	}
	if err := take("id", &c.ID); err != nil {
		return err
	}
	if err := take("type", &c.Types); err != nil {
		return err
	}
	if raw, ok := fields["issuer"]; ok {
		c.Issuer = raw
		delete(fields, "issuer")
	}
	if raw, ok := fields["credentialSubject"]; ok {
		c.CredentialSubject = raw
		delete(fields, "credentialSubject")
	}
	if raw, ok := fields["credentialStatus"]; ok {
		delete(fields, "credentialStatus")
		trimmed := firstNonSpace(raw)
		if trimmed == '[' {
			if err := json.Unmarshal(raw, &c.CredentialStatus); err != nil {
				return fmt.Errorf("invalid credentialStatus: %w", err)
			}
		} else {
			var entry StatusEntry
			if err := json.Unmarshal(raw, &entry); err != nil {
				return fmt.Errorf("invalid credentialStatus: %w", err)
			}
			c.CredentialStatus = []*StatusEntry{&entry}
		}
	}
	if err := take("proof", &c.Proof); err != nil {
		return err
	}
	if len(fields) > 0 {
		c.Extra = fields
	}
	return nil
}

func firstNonSpace(data []byte) byte {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return b
	}
	return 0
}
