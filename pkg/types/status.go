package types

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Wire type values for credentialStatus entries.
const (
	EntryTypeRevocationList2020       = "RevocationList2020Status"
	EntryTypeStatusList2021           = "StatusList2021Entry"
	EntryTypeBitstringStatusList      = "BitstringStatusListEntry"
	EntryTypeTerseBitstringStatusList = "TerseBitstringStatusListEntry"
)

// StatusEntry is one credentialStatus entry. The variant set is closed over
// the four supported list types, but unknown wire properties survive a
// decode/encode round trip through Extra.
type StatusEntry struct {
	ListType             ListType
	ID                   string
	StatusListCredential string
	StatusListIndex      int64
	StatusPurpose        string
	// TerseStatusListIndex is the offset into the cross-list index space,
	// used only by TerseBitstringStatusList entries.
	TerseStatusListIndex int64
	Extra                map[string]json.RawMessage
}

// EntryType returns the wire "type" value for the entry's variant.
func (e *StatusEntry) EntryType() string {
	switch e.ListType {
	case ListTypeRevocationList2020:
		return EntryTypeRevocationList2020
	case ListTypeStatusList2021:
		return EntryTypeStatusList2021
	case ListTypeBitstringStatusList:
		return EntryTypeBitstringStatusList
	case ListTypeTerseBitstringStatusList:
		return EntryTypeTerseBitstringStatusList
	default:
		return ""
	}
}

// MarshalJSON emits the exact wire shape for the entry's variant.
func (e *StatusEntry) MarshalJSON() ([]byte, error) {
	fields := make(map[string]json.RawMessage, len(e.Extra)+5)
	for k, v := range e.Extra {
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

	var err error
	switch e.ListType {
	case ListTypeRevocationList2020:
		err = firstErr(
			set("id", e.ID),
			set("type", EntryTypeRevocationList2020),
			set("revocationListCredential", e.StatusListCredential),
			set("revocationListIndex", strconv.FormatInt(e.StatusListIndex, 10)),
		)
	case ListTypeStatusList2021:
		err = firstErr(
			set("id", e.ID),
			set("type", EntryTypeStatusList2021),
			set("statusListCredential", e.StatusListCredential),
			set("statusListIndex", strconv.FormatInt(e.StatusListIndex, 10)),
			set("statusPurpose", e.StatusPurpose),
		)
	case ListTypeBitstringStatusList:
		err = firstErr(
			set("id", e.ID),
			set("type", EntryTypeBitstringStatusList),
			set("statusListCredential", e.StatusListCredential),
			set("statusListIndex", strconv.FormatInt(e.StatusListIndex, 10)),
			set("statusPurpose", e.StatusPurpose),
		)
	case ListTypeTerseBitstringStatusList:
		err = firstErr(
			set("type", EntryTypeTerseBitstringStatusList),
			set("terseStatusListIndex", e.TerseStatusListIndex),
		)
	default:
		return nil, fmt.Errorf("unsupported status list type %q", e.ListType)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}

// UnmarshalJSON dispatches on the wire "type" value and keeps unknown
// properties in Extra.
func (e *StatusEntry) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var entryType string
	if raw, ok := fields["type"]; ok {
		if err := json.Unmarshal(raw, &entryType); err != nil {
			return fmt.Errorf("invalid credentialStatus type: %w", err)
		}
	}

	take := func(key string, out any) error {
		raw, ok := fields[key]
		if !ok {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("invalid credentialStatus field %s: %w", key, err)
		}
		delete(fields, key)
		return nil
	}
	takeIndex := func(key string) error {
		var s string
		if err := take(key, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, s, err)
		}
		e.StatusListIndex = n
		return nil
	}
	delete(fields, "type")

	var err error
	switch entryType {
	case EntryTypeRevocationList2020:
		e.ListType = ListTypeRevocationList2020
		err = firstErr(
			take("id", &e.ID),
			take("revocationListCredential", &e.StatusListCredential),
			takeIndex("revocationListIndex"),
		)
	case EntryTypeStatusList2021:
		e.ListType = ListTypeStatusList2021
		err = firstErr(
			take("id", &e.ID),
			take("statusListCredential", &e.StatusListCredential),
			takeIndex("statusListIndex"),
			take("statusPurpose", &e.StatusPurpose),
		)
	case EntryTypeBitstringStatusList:
		e.ListType = ListTypeBitstringStatusList
		err = firstErr(
			take("id", &e.ID),
			take("statusListCredential", &e.StatusListCredential),
			takeIndex("statusListIndex"),
			take("statusPurpose", &e.StatusPurpose),
		)
	case EntryTypeTerseBitstringStatusList:
		e.ListType = ListTypeTerseBitstringStatusList
		err = take("terseStatusListIndex", &e.TerseStatusListIndex)
	default:
		return fmt.Errorf("unsupported credentialStatus type %q", entryType)
	}
	if err != nil {
		return err
	}
	if len(fields) > 0 {
		e.Extra = fields
	}
	return nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
