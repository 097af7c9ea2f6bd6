package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bloodconnect/platform/internal/shared/types"
)

// canonicalJSON encodes v with sorted map keys so the same entry always
// hashes the same, including after a JSONB round trip.
func canonicalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}

	return canonicalMarshal(parsed)
}

func canonicalMarshal(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyBytes, _ := json.Marshal(k)
			buf.Write(keyBytes)
			buf.WriteByte(':')
			valBytes, err := canonicalMarshal(val[k])
			if err != nil {
				return nil, err
			}
			buf.Write(valBytes)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil

	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			itemBytes, err := canonicalMarshal(item)
			if err != nil {
				return nil, err
			}
			buf.Write(itemBytes)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil

	default:
		return json.Marshal(val)
	}
}

// ActorType is who caused an audited change
type ActorType string

const (
	ActorTypePatient  ActorType = "patient"
	ActorTypeDonor    ActorType = "donor"
	ActorTypeHospital ActorType = "hospital"
	ActorTypeAdmin    ActorType = "admin"
	ActorTypeSystem   ActorType = "system"
)

// actorTypeFor maps an event actor onto an audit actor. Events without an
// actor come from background services.
func actorTypeFor(s string) ActorType {
	switch ActorType(s) {
	case ActorTypePatient, ActorTypeDonor, ActorTypeHospital, ActorTypeAdmin:
		return ActorType(s)
	}
	return ActorTypeSystem
}

// AuditEntry is one immutable, hash-chained record of a domain event
type AuditEntry struct {
	ID        types.ID  `json:"id"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Hash      string    `json:"hash"`
	PrevHash  string    `json:"prev_hash,omitempty"`

	ActorType     ActorType `json:"actor_type"`
	ActorID       types.ID  `json:"actor_id,omitempty"`
	ActorHospital types.ID  `json:"actor_hospital,omitempty"`

	// Action is the event type, such as "request.approved"
	Action       string `json:"action"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id,omitempty"`

	Changes       map[string]any `json:"changes,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	EventID       string         `json:"event_id,omitempty"`
}

// NewAuditEntry creates an entry chained to prevHash
func NewAuditEntry(
	actorType ActorType,
	actorID types.ID,
	action, resourceType, resourceID string,
	changes map[string]any,
	prevHash string,
	at time.Time,
) *AuditEntry {
	entry := &AuditEntry{
		ID:           types.NewID(),
		Timestamp:    at.UTC().Truncate(time.Microsecond),
		PrevHash:     prevHash,
		ActorType:    actorType,
		ActorID:      actorID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Changes:      changes,
	}
	entry.Hash = entry.calculateHash()
	return entry
}

// calculateHash is sha256 over the canonical JSON of the entry, which
// includes the previous entry's hash. Timestamps are hashed in UTC.
func (e *AuditEntry) calculateHash() string {
	data := map[string]any{
		"id":            e.ID,
		"timestamp":     e.Timestamp.UTC().Format(time.RFC3339Nano),
		"prev_hash":     e.PrevHash,
		"actor_type":    e.ActorType,
		"actor_id":      e.ActorID,
		"action":        e.Action,
		"resource_type": e.ResourceType,
	}
	if !e.ActorHospital.IsZero() {
		data["actor_hospital"] = e.ActorHospital
	}
	if e.ResourceID != "" {
		data["resource_id"] = e.ResourceID
	}
	if len(e.Changes) > 0 {
		data["changes"] = e.Changes
	}
	if e.CorrelationID != "" {
		data["correlation_id"] = e.CorrelationID
	}

	jsonData, _ := canonicalJSON(data)
	hash := sha256.Sum256(jsonData)
	return hex.EncodeToString(hash[:])
}

// VerifyHash verifies the entry's hash
func (e *AuditEntry) VerifyHash() bool {
	return e.Hash == e.calculateHash()
}

// ComputeHash computes and returns the correct hash for this entry
func (e *AuditEntry) ComputeHash() string {
	return e.calculateHash()
}

// chain links e to prevHash and recomputes its hash
func (e *AuditEntry) chain(prevHash string) {
	e.PrevHash = prevHash
	e.Hash = e.calculateHash()
}

// ListEntriesFilter defines filters for listing audit entries
type ListEntriesFilter struct {
	ActorID      types.ID   `json:"actor_id,omitempty"`
	ActorType    ActorType  `json:"actor_type,omitempty"`
	Action       string     `json:"action,omitempty"`
	ResourceType string     `json:"resource_type,omitempty"`
	ResourceID   string     `json:"resource_id,omitempty"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	Limit        int        `json:"limit,omitempty"`
	Offset       int        `json:"offset,omitempty"`
}

// EffectiveLimit clamps Limit to [1,200], defaulting to 50
func (f ListEntriesFilter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return 50
	}
	if f.Limit > 200 {
		return 200
	}
	return f.Limit
}

// Matches reports whether e passes the filter. Action matches by prefix so
// "request." selects every request event.
func (f ListEntriesFilter) Matches(e *AuditEntry) bool {
	if !f.ActorID.IsZero() && e.ActorID != f.ActorID {
		return false
	}
	if f.ActorType != "" && e.ActorType != f.ActorType {
		return false
	}
	if f.Action != "" && !strings.HasPrefix(e.Action, f.Action) {
		return false
	}
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	if f.ResourceID != "" && e.ResourceID != f.ResourceID {
		return false
	}
	if f.StartTime != nil && e.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.Timestamp.After(*f.EndTime) {
		return false
	}
	return true
}

// VerifyResult contains detailed verification results
type VerifyResult struct {
	Valid          bool                `json:"valid"`
	Checked        int                 `json:"checked"`
	ContentValid   int                 `json:"content_valid"`
	ContentInvalid int                 `json:"content_invalid"`
	LinkageValid   int                 `json:"linkage_valid"`
	LinkageInvalid int                 `json:"linkage_invalid"`
	Violations     []string            `json:"violations,omitempty"`
	Entries        []VerifyEntryResult `json:"entries,omitempty"`
}

// VerifyEntryResult contains verification result for a single entry
type VerifyEntryResult struct {
	ID            types.ID `json:"id"`
	Sequence      int64    `json:"sequence"`
	Hash          string   `json:"hash"`
	ComputedHash  string   `json:"computed_hash,omitempty"`
	PrevHash      string   `json:"prev_hash"`
	Valid         bool     `json:"valid"`
	ContentValid  bool     `json:"content_valid"`
	LinkageValid  bool     `json:"linkage_valid"`
	Action        string   `json:"action"`
	ViolationType string   `json:"violation_type,omitempty"` // content, linkage or both
}

// verifyEntries checks entries in ascending sequence order. Each entry's
// stored hash must match its content, and its prev_hash must equal the hash
// of the entry before it. The first entry is linked to anchor, the hash
// preceding the window ("" for the start of the log).
func verifyEntries(entries []AuditEntry, anchor string, includeDetails bool) *VerifyResult {
	result := &VerifyResult{Valid: true}
	prev := anchor

	for i := range entries {
		e := &entries[i]
		v := VerifyEntryResult{
			ID:           e.ID,
			Sequence:     e.Sequence,
			Hash:         e.Hash,
			PrevHash:     e.PrevHash,
			Action:       e.Action,
			Valid:        true,
			ContentValid: true,
			LinkageValid: true,
		}

		v.ComputedHash = e.ComputeHash()
		if v.ComputedHash != e.Hash {
			v.ContentValid = false
			v.Valid = false
			v.ViolationType = "content"
			result.ContentInvalid++
			result.Violations = append(result.Violations,
				fmt.Sprintf("content tampered: entry %s (seq %d) hash does not match its content", e.ID, e.Sequence))
		} else {
			result.ContentValid++
		}

		if e.PrevHash != prev {
			v.LinkageValid = false
			v.Valid = false
			if v.ViolationType == "content" {
				v.ViolationType = "both"
			} else {
				v.ViolationType = "linkage"
			}
			result.LinkageInvalid++
			result.Violations = append(result.Violations,
				fmt.Sprintf("chain broken: entry %s (seq %d) does not link to the previous entry", e.ID, e.Sequence))
		} else {
			result.LinkageValid++
		}

		if !v.Valid {
			result.Valid = false
		}
		if includeDetails {
			result.Entries = append(result.Entries, v)
		}
		prev = e.Hash
		result.Checked++
	}
	return result
}
