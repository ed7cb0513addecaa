// Package activitystreams builds and parses the canonical ActivityStreams 2.0
// JSON-LD shapes this engine sends and receives: notes, actors, the handful
// of activity types the inbound state machine understands, and the
// delivery/accept-follow activities the outbound side builds.
package activitystreams

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/tidwall/gjson"
)

// Context is the JSON-LD @context every outbound object carries.
const Context = "https://www.w3.org/ns/activitystreams"

// WithContext returns a copy of v with "@context" added. encoding/json writes
// map keys in sorted order and "@" sorts before letters, so the emitted JSON
// starts with @context whenever v's own keys begin with a letter.
func WithContext(v map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(v)+1)
	out["@context"] = Context
	for k, val := range v {
		out[k] = val
	}
	return out
}

// DeliveryKind is one of the three article lifecycle events that get
// delivered to followers and exposed at /events/articles/{kind}/*slug.
type DeliveryKind string

const (
	KindCreate DeliveryKind = "Create"
	KindUpdate DeliveryKind = "Update"
	KindDelete DeliveryKind = "Delete"
)

// KindPath is the URL path segment for a DeliveryKind, e.g. "create".
func (k DeliveryKind) KindPath() string {
	switch k {
	case KindCreate:
		return "create"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	default:
		return ""
	}
}

// EventID returns the canonical, deterministic id of the delivery activity
// for (kind, slug) given baseURL — the same id must appear in the POSTed
// delivery body, the GET /events/articles/{kind}/*slug response, and (for
// the current article state) the AP rendering of the article itself.
func EventID(baseURL string, kind DeliveryKind, slug string) string {
	return fmt.Sprintf("%s/events/articles/%s/%s", baseURL, kind.KindPath(), slug)
}

// DeliveryActivity builds the canonical Create/Update/Delete activity for an
// article event. The returned map has no "@context" key; wrap with
// WithContext before serializing a top-level response.
func DeliveryActivity(baseURL string, kind DeliveryKind, slug, author string) map[string]interface{} {
	return map[string]interface{}{
		"id":     EventID(baseURL, kind, slug),
		"type":   string(kind),
		"actor":  baseURL + "/users/" + author,
		"object": baseURL + "/articles/" + slug,
	}
}

// AcceptFollowID is the canonical id of the Accept{Follow} activity sent (and
// re-derivable, for GET /users/:username/accept_follow) in reply to a Follow.
// followEventID is the inner Follow activity's own id (spec.md §4.D resolved
// meaning of the "object" query parameter).
func AcceptFollowID(baseURL, username, followEventID string) string {
	return fmt.Sprintf("%s/users/%s/accept_follow?object=%s", baseURL, username, url.QueryEscape(followEventID))
}

// AcceptFollowActivity builds the Accept{Follow} activity a user sends back
// to a follower. GET .../accept_follow also builds it, passing the Follow
// event id as both followEventID and followerActor, so its object.actor
// differs from the one in the Accept delivered by the Follow branch.
func AcceptFollowActivity(baseURL, username, followEventID, followerActor string) map[string]interface{} {
	selfID := AcceptFollowID(baseURL, username, followEventID)
	actorURL := baseURL + "/users/" + username
	return map[string]interface{}{
		"id":    selfID,
		"type":  "Accept",
		"actor": actorURL,
		"object": map[string]interface{}{
			"type":   "Follow",
			"actor":  followerActor,
			"object": actorURL,
		},
	}
}

// Person is the subset of an ActivityPub actor document this engine needs:
// its inbox, optional shared inbox, and public key.
type Person struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Inbox       string `json:"inbox"`
	SharedInbox string `json:"-"`
	PublicKeyPem string `json:"-"`
}

type rawPerson struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Inbox     string `json:"inbox"`
	Endpoints struct {
		SharedInbox string `json:"sharedInbox"`
	} `json:"endpoints"`
	PublicKey struct {
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
}

// ParsePerson decodes an actor document, pulling sharedInbox and
// publicKey.publicKeyPem out of their nested positions.
func ParsePerson(body []byte) (*Person, error) {
	var raw rawPerson
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("activitystreams: parse actor: %w", err)
	}
	return &Person{
		ID:           raw.ID,
		Type:         raw.Type,
		Inbox:        raw.Inbox,
		SharedInbox:  raw.Endpoints.SharedInbox,
		PublicKeyPem: raw.PublicKey.PublicKeyPem,
	}, nil
}

// EffectiveInbox returns SharedInbox if set, else Inbox — the inbox the
// Follow branch of the state machine actually delivers to.
func (p *Person) EffectiveInbox() string {
	if p.SharedInbox != "" {
		return p.SharedInbox
	}
	return p.Inbox
}

// PublicKeyPemOf extracts publicKey.publicKeyPem from a raw actor document,
// for callers (the httpsig verifier's ActorKeyFetcher) that only need the key.
func PublicKeyPemOf(body []byte) (string, error) {
	var raw rawPerson
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", fmt.Errorf("activitystreams: parse actor for key: %w", err)
	}
	if raw.PublicKey.PublicKeyPem == "" {
		return "", fmt.Errorf("activitystreams: actor has no publicKey.publicKeyPem")
	}
	return raw.PublicKey.PublicKeyPem, nil
}

// Note is the narrow projection of an inbound Note/Article object this
// engine cares about: its reply target, wherever the activity chose to
// express it.
type Note struct {
	ID           string `json:"id"`
	AttributedTo string `json:"attributedTo"`
	Published    string `json:"published"`
	Content      string `json:"content"`
	ReplyTarget  string `json:"-"`
}

type rawNote struct {
	ID           string `json:"id"`
	AttributedTo string `json:"attributedTo"`
	Published    string `json:"published"`
	Content      string `json:"content"`
	InReplyTo    string `json:"inReplyTo"`
	QuoteURI     string `json:"quoteUri"`
	QuoteURL     string `json:"quoteUrl"`
}

// ParseNote decodes a Note object and resolves replyTarget as whichever of
// inReplyTo/quoteUri/quoteUrl is present.
func ParseNote(raw json.RawMessage) (*Note, error) {
	var rn rawNote
	if err := json.Unmarshal(raw, &rn); err != nil {
		return nil, fmt.Errorf("activitystreams: parse note: %w", err)
	}
	n := &Note{
		ID:           rn.ID,
		AttributedTo: rn.AttributedTo,
		Published:    rn.Published,
		Content:      rn.Content,
	}
	switch {
	case rn.InReplyTo != "":
		n.ReplyTarget = rn.InReplyTo
	case rn.QuoteURI != "":
		n.ReplyTarget = rn.QuoteURI
	case rn.QuoteURL != "":
		n.ReplyTarget = rn.QuoteURL
	}
	return n, nil
}

// Sniff is the lenient {id,type} peek performed ahead of full decoding into
// a typed union (§4.F step 4 / §4.G step 2), grounded in gjson's
// peek-before-decode idiom.
type Sniff struct {
	ID   string
	Type string
}

// SniffActivity peeks at the top-level id/type fields of a raw activity
// without fully unmarshaling it. Returns ok=false if either is missing or
// not a string — callers treat that as a malformed activity.
func SniffActivity(body []byte) (Sniff, bool) {
	idRes := gjson.GetBytes(body, "id")
	typeRes := gjson.GetBytes(body, "type")
	if !idRes.Exists() || idRes.Type != gjson.String || idRes.Str == "" {
		return Sniff{}, false
	}
	if !typeRes.Exists() || typeRes.Type != gjson.String || typeRes.Str == "" {
		return Sniff{}, false
	}
	return Sniff{ID: idRes.Str, Type: typeRes.Str}, true
}

// OrderedCollection is the root followers/following/outbox collection shape
// (no "items" key per spec.md's resolved wire shape).
type OrderedCollection struct {
	Context    string `json:"@context"`
	ID         string `json:"id"`
	Type       string `json:"type"`
	TotalItems int    `json:"totalItems"`
	First      string `json:"first,omitempty"`
}

// OrderedCollectionPage is one page of a paginated collection; it always
// carries an "items" key, even when empty.
type OrderedCollectionPage struct {
	Context string      `json:"@context"`
	ID      string      `json:"id"`
	Type    string      `json:"type"`
	PartOf  string      `json:"partOf"`
	Items   []string    `json:"items"`
	Next    string      `json:"next,omitempty"`
}
