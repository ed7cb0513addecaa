package engine

import (
	"encoding/json"
	"fmt"

	"github.com/klppl/fedblog/internal/activitystreams"
)

// EventType discriminates the wire shape of a Job, per spec.md §6/§9: every
// persisted job record begins with event_type, and unknown discriminators
// must be ignored (parsed as Finished, not an error) for forward
// compatibility with a broker carrying jobs from a newer build.
type EventType string

const (
	EventInbox                      EventType = "Inbox"
	EventDeliveryNewArticleToAll     EventType = "DeliveryNewArticleToAll"
	EventDeliveryUpdateArticleToAll  EventType = "DeliveryUpdateArticleToAll"
	EventDeliveryDeleteArticleToAll  EventType = "DeliveryDeleteArticleToAll"
	EventDeliveryNewArticleBatch     EventType = "DeliveryNewArticleBatch"
	EventDeliveryUpdateArticleBatch  EventType = "DeliveryUpdateArticleBatch"
	EventDeliveryDeleteArticleBatch  EventType = "DeliveryDeleteArticleBatch"
	EventDeliveryNewArticle          EventType = "DeliveryNewArticle"
	EventDeliveryUpdateArticle       EventType = "DeliveryUpdateArticle"
	EventDeliveryDeleteArticle       EventType = "DeliveryDeleteArticle"
)

// Job is the tagged-variant queue record. Every variant stores into the same
// struct; only the fields relevant to EventType are populated. This mirrors
// the wire shape spec.md §6 requires (one JSON object, event_type first) and
// keeps (de)serialization trivial for the SQL-backed queue.
type Job struct {
	EventType EventType `json:"event_type"`

	// Inbox fields.
	Username     string          `json:"username,omitempty"`
	ActivityType string          `json:"activity_type,omitempty"`
	ActivityID   string          `json:"activity_id,omitempty"`
	VerifiedBody json.RawMessage `json:"verified_body,omitempty"`

	// Delivery fields (ToAll / Batch / single).
	Slug      string `json:"slug,omitempty"`
	Author    string `json:"author,omitempty"`
	LastInbox string `json:"last_inbox,omitempty"`
	Inbox     string `json:"inbox,omitempty"`
}

// deliveryASKind maps a single-delivery EventType to its activitystreams
// kind. ok is false for non-single-delivery event types.
func deliveryASKind(t EventType) (activitystreams.DeliveryKind, bool) {
	switch t {
	case EventDeliveryNewArticle:
		return activitystreams.KindCreate, true
	case EventDeliveryUpdateArticle:
		return activitystreams.KindUpdate, true
	case EventDeliveryDeleteArticle:
		return activitystreams.KindDelete, true
	default:
		return "", false
	}
}

// MarshalJob serializes a Job for the queue broker.
func MarshalJob(j Job) ([]byte, error) {
	b, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("engine: marshal job: %w", err)
	}
	return b, nil
}

// UnmarshalJob parses a broker record back into a Job. A record whose
// event_type is absent or unrecognized is not an error here — callers
// detect that case via IsKnown and treat it as Finished per §9.
func UnmarshalJob(data []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return Job{}, fmt.Errorf("engine: unmarshal job: %w", err)
	}
	return j, nil
}

// IsKnown reports whether j.EventType is one of the ten named variants.
func (j Job) IsKnown() bool {
	switch j.EventType {
	case EventInbox,
		EventDeliveryNewArticleToAll, EventDeliveryUpdateArticleToAll, EventDeliveryDeleteArticleToAll,
		EventDeliveryNewArticleBatch, EventDeliveryUpdateArticleBatch, EventDeliveryDeleteArticleBatch,
		EventDeliveryNewArticle, EventDeliveryUpdateArticle, EventDeliveryDeleteArticle:
		return true
	default:
		return false
	}
}
