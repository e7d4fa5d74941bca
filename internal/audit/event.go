// Package audit provides tamper-evident audit logging for CA operations.
//
// Audit events are separate from technical logs: they record who asked the
// custody service to do what, as an append-only JSON-lines file chained
// with SHA-256 hashes so that removal or edits are detectable.
//
// Key principles:
//   - Audit failure = operation failure
//   - Never log secrets (tokens, key material)
//   - All timestamps in UTC
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// EventType represents the category of audit event.
type EventType string

const (
	// CA lifecycle
	EventRootCreated EventType = "ROOT_CREATED"

	// Certificate lifecycle
	EventCertIssued  EventType = "CERT_ISSUED"
	EventCertRenewed EventType = "CERT_RENEWED"
	EventCertRevoked EventType = "CERT_REVOKED"

	// Revocation publication
	EventCRLGenerated EventType = "CRL_GENERATED"
)

// Result represents the outcome of an audited operation.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
)

// Actor represents who performed the action.
type Actor struct {
	Type string `json:"type"`           // "user", "service"
	ID   string `json:"id"`             // username or service identifier
	Host string `json:"host,omitempty"` // hostname where the action ran
}

// Object represents what was acted upon. Certificates are identified by
// their custody reference (vault URL plus name) and, once known, serial.
type Object struct {
	Type    string `json:"type"`              // "ca", "certificate", "crl"
	Vault   string `json:"vault,omitempty"`   // custody namespace URL
	Name    string `json:"name,omitempty"`    // certificate name in the custody service
	Serial  string `json:"serial,omitempty"`  // certificate serial, canonical hex
	Subject string `json:"subject,omitempty"` // subject DN
}

// Context provides additional details about the operation.
type Context struct {
	Issuer  string `json:"issuer,omitempty"`   // issuing CA subject DN
	KeyType string `json:"key_type,omitempty"` // custody key type requested
	Reason  string `json:"reason,omitempty"`   // revocation reason, failure reason
	Entries int    `json:"entries,omitempty"`  // CRL entry count
}

// Event represents a single audit log entry.
type Event struct {
	EventType EventType `json:"event_type"`
	Timestamp string    `json:"timestamp"` // RFC3339 UTC
	Actor     Actor     `json:"actor"`
	Object    Object    `json:"object"`
	Context   Context   `json:"context,omitempty"`
	Result    Result    `json:"result"`
	HashPrev  string    `json:"hash_prev"` // SHA-256 hash of previous event
	Hash      string    `json:"hash"`      // SHA-256 hash of this event
}

// NewEvent creates an audit event stamped with the current time and the
// local user as actor.
func NewEvent(eventType EventType, result Result) *Event {
	hostname, _ := os.Hostname()
	username := os.Getenv("USER")
	if username == "" {
		username = os.Getenv("USERNAME") // Windows
	}
	if username == "" {
		username = "unknown"
	}

	return &Event{
		EventType: eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Actor: Actor{
			Type: "user",
			ID:   username,
			Host: hostname,
		},
		Result: result,
	}
}

// WithObject sets the object field.
func (e *Event) WithObject(obj Object) *Event {
	e.Object = obj
	return e
}

// WithContext sets the context field.
func (e *Event) WithContext(ctx Context) *Event {
	e.Context = ctx
	return e
}

// Validate checks that required fields are present.
func (e *Event) Validate() error {
	if e.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if e.Timestamp == "" {
		return fmt.Errorf("timestamp is required")
	}
	if e.Actor.Type == "" || e.Actor.ID == "" {
		return fmt.Errorf("actor type and id are required")
	}
	if e.Result == "" {
		return fmt.Errorf("result is required")
	}
	return nil
}

// CanonicalJSON returns the event as canonical JSON for hashing. The Hash
// field is excluded so the hash can be computed over the rest.
func (e *Event) CanonicalJSON() ([]byte, error) {
	type eventForHash struct {
		EventType EventType `json:"event_type"`
		Timestamp string    `json:"timestamp"`
		Actor     Actor     `json:"actor"`
		Object    Object    `json:"object"`
		Context   Context   `json:"context,omitempty"`
		Result    Result    `json:"result"`
		HashPrev  string    `json:"hash_prev"`
	}

	canonical := eventForHash{
		EventType: e.EventType,
		Timestamp: e.Timestamp,
		Actor:     e.Actor,
		Object:    e.Object,
		Context:   e.Context,
		Result:    e.Result,
		HashPrev:  e.HashPrev,
	}

	return json.Marshal(canonical)
}

// JSON returns the full event as JSON.
func (e *Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}
