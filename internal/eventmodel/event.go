// Package eventmodel — event.go
//
// Defines the immutable Event record ingested from the upstream activity
// feed and the closed enumeration of event types it can carry.
//
// Events arrive as open JSON maps upstream; this package pins them to
// tagged variants (EventType + per-variant payload struct) with a single
// fallback variant (PayloadOpaque) for forward compatibility with event
// types the detectors don't yet understand. Detectors only unmarshal the
// fields they actually consume; the remainder travels as opaque bytes so
// it can be re-serialized into an AnomalyRecord without loss.
package eventmodel

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

// EventType is a closed enumeration of upstream event kinds.
type EventType string

const (
	EventPush         EventType = "PushEvent"
	EventWorkflowRun  EventType = "WorkflowRunEvent"
	EventDelete       EventType = "DeleteEvent"
	EventMember       EventType = "MemberEvent"
	EventPullRequest  EventType = "PullRequestEvent"
	EventIssues       EventType = "IssuesEvent"
	EventCreate       EventType = "CreateEvent"
	EventRelease      EventType = "ReleaseEvent"
	EventFork         EventType = "ForkEvent"
	EventWatch        EventType = "WatchEvent"
	EventStar         EventType = "StarEvent"
	EventUnknown      EventType = "UnknownEvent"
)

// Priority is the ingestion priority tag assigned by the Poller (spec §4.1 step 4).
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// highPriorityTypes, mediumPriorityTypes classify event types per spec §4.1 step 4.
// Anything not listed in either set is low priority.
var highPriorityTypes = map[EventType]bool{
	EventPush:        true,
	EventWorkflowRun: true,
	EventDelete:      true,
	EventMember:      true,
}

var mediumPriorityTypes = map[EventType]bool{
	EventPullRequest: true,
	EventIssues:      true,
	EventCreate:      true,
	EventRelease:     true,
	EventFork:        true,
}

// PriorityFor returns the ingestion priority for an event type.
func PriorityFor(t EventType) Priority {
	switch {
	case highPriorityTypes[t]:
		return PriorityHigh
	case mediumPriorityTypes[t]:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Actor identifies the account that performed an event.
type Actor struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

// Repository identifies the repository an event occurred against.
type Repository struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
}

// Event is the immutable record received from upstream. It is created on
// ingest and never mutated; downstream components that need a modified
// copy construct a new value.
type Event struct {
	ID         string     `json:"id"`
	Type       EventType  `json:"type"`
	Actor      Actor      `json:"actor"`
	Repository Repository `json:"repository"`
	Timestamp  time.Time  `json:"timestamp"`
	Priority   Priority   `json:"priority,omitempty"`

	// Payload carries the typed, detector-relevant fields for this event's
	// Type. It is one of the Payload* structs below, or PayloadOpaque for
	// event types this module does not model in detail.
	Payload Payload `json:"payload"`
}

// Payload is implemented by every per-type payload struct plus PayloadOpaque.
type Payload interface {
	payloadMarker()
}

// CommitRef describes one commit within a push, to the extent the
// detectors need it: message, file-change counts, and diff-header
// filenames for the suspicious-file-category check.
type CommitRef struct {
	SHA             string   `json:"sha"`
	Message         string   `json:"message"`
	FilesChanged    int      `json:"files_changed"`
	FilesAdded      []string `json:"files_added,omitempty"`
	FilesRemoved    []string `json:"files_removed,omitempty"`
	FilesModified   []string `json:"files_modified,omitempty"`
	IsBinaryChange  bool     `json:"is_binary_change,omitempty"`
}

// PayloadPush backs PushEvent.
type PayloadPush struct {
	Ref     string      `json:"ref"`
	Forced  bool        `json:"forced"`
	Commits []CommitRef `json:"commits"`
	// DefaultBranch is true when Ref targets the repository's default branch.
	// Populated by the ingest layer since the raw event does not carry it.
	DefaultBranch bool `json:"default_branch"`
}

func (PayloadPush) payloadMarker() {}

// PayloadDelete backs DeleteEvent.
type PayloadDelete struct {
	RefType      string `json:"ref_type"`
	Ref          string `json:"ref"`
	FilesDeleted int    `json:"files_deleted"`
}

func (PayloadDelete) payloadMarker() {}

// PayloadWorkflowRun backs WorkflowRunEvent.
type PayloadWorkflowRun struct {
	Action     string `json:"action"`
	Conclusion string `json:"conclusion"`
	Name       string `json:"name"`
}

func (PayloadWorkflowRun) payloadMarker() {}

// PayloadMember backs MemberEvent.
type PayloadMember struct {
	Action string `json:"action"`
	Member Actor  `json:"member"`
}

func (PayloadMember) payloadMarker() {}

// PayloadPullRequest backs PullRequestEvent.
type PayloadPullRequest struct {
	Action string `json:"action"`
	Number int    `json:"number"`
}

func (PayloadPullRequest) payloadMarker() {}

// PayloadIssues backs IssuesEvent.
type PayloadIssues struct {
	Action string `json:"action"`
	Number int    `json:"number"`
}

func (PayloadIssues) payloadMarker() {}

// PayloadCreate backs CreateEvent.
type PayloadCreate struct {
	RefType string `json:"ref_type"`
	Ref     string `json:"ref"`
}

func (PayloadCreate) payloadMarker() {}

// PayloadRelease backs ReleaseEvent.
type PayloadRelease struct {
	Action  string `json:"action"`
	TagName string `json:"tag_name"`
}

func (PayloadRelease) payloadMarker() {}

// PayloadFork backs ForkEvent.
type PayloadFork struct {
	ForkeeFullName string `json:"forkee_full_name"`
}

func (PayloadFork) payloadMarker() {}

// PayloadWatch backs WatchEvent and StarEvent.
type PayloadWatch struct {
	Action string `json:"action"`
}

func (PayloadWatch) payloadMarker() {}

// PayloadOpaque is the fallback variant for event types not otherwise
// modeled. Raw carries the untouched upstream payload bytes so they can
// be re-serialized without loss.
type PayloadOpaque struct {
	Raw json.RawMessage `json:"raw"`
}

func (PayloadOpaque) payloadMarker() {}

// eventAlias mirrors Event but with Payload as a delayed-decode field, so
// UnmarshalJSON can pick the concrete Payload variant by Type before
// decoding it.
type eventAlias struct {
	ID         string          `json:"id"`
	Type       EventType       `json:"type"`
	Actor      Actor           `json:"actor"`
	Repository Repository      `json:"repository"`
	Timestamp  time.Time       `json:"timestamp"`
	Priority   Priority        `json:"priority,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// MarshalJSON encodes Event with its concrete Payload variant inline,
// matching the wire shape UnmarshalJSON expects back.
func (e Event) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("eventmodel: marshal payload: %w", err)
	}
	return json.Marshal(eventAlias{
		ID: e.ID, Type: e.Type, Actor: e.Actor, Repository: e.Repository,
		Timestamp: e.Timestamp, Priority: e.Priority, Payload: payload,
	})
}

// UnmarshalJSON decodes Event, dispatching Payload to the struct variant
// that matches Type. Unrecognized types decode into PayloadOpaque so the
// raw bytes survive a store-and-forward round trip undamaged.
func (e *Event) UnmarshalJSON(data []byte) error {
	var a eventAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	e.ID, e.Type, e.Actor, e.Repository, e.Timestamp, e.Priority =
		a.ID, a.Type, a.Actor, a.Repository, a.Timestamp, a.Priority

	if len(a.Payload) == 0 || string(a.Payload) == "null" {
		e.Payload = PayloadOpaque{}
		return nil
	}

	var target Payload
	switch a.Type {
	case EventPush:
		target = &PayloadPush{}
	case EventDelete:
		target = &PayloadDelete{}
	case EventWorkflowRun:
		target = &PayloadWorkflowRun{}
	case EventMember:
		target = &PayloadMember{}
	case EventPullRequest:
		target = &PayloadPullRequest{}
	case EventIssues:
		target = &PayloadIssues{}
	case EventCreate:
		target = &PayloadCreate{}
	case EventRelease:
		target = &PayloadRelease{}
	case EventFork:
		target = &PayloadFork{}
	case EventWatch, EventStar:
		target = &PayloadWatch{}
	default:
		e.Payload = PayloadOpaque{Raw: append(json.RawMessage(nil), a.Payload...)}
		return nil
	}
	if err := json.Unmarshal(a.Payload, target); err != nil {
		return fmt.Errorf("eventmodel: unmarshal payload for %s: %w", a.Type, err)
	}
	e.Payload = reflect.ValueOf(target).Elem().Interface().(Payload)
	return nil
}
