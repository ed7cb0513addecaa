// Package engine is the federation engine: the typed inbound-activity state
// machine, the outbound delivery fan-out, and the provider/queue/http-client
// contracts they run against. The engine never names a concrete backend —
// callers inject one at construction (internal/db's Store for the
// provider/queue contracts, a real net/http client for the rest).
package engine

import (
	"context"
	"encoding/json"
	"time"
)

// Env exposes process-wide configuration the engine needs but does not own.
type Env interface {
	URL() string // base URL, no trailing slash
	TimestampNow() time.Time
	SigningKeyID(username string) string // keyId URL for a user's HTTP signatures
}

// Comment is a recorded reply to an article.
type Comment struct {
	ID        string
	AuthorID  string
	CreatedAt string
	Content   string
	Raw       json.RawMessage
}

// Reaction is a recorded Like on an article.
type Reaction struct {
	ID       string
	AuthorID string
	Reaction string
	Raw      json.RawMessage
}

// ArticleProvider is the persistent store for articles, comments, and
// reactions. Implemented externally (internal/db's Store); the engine
// only calls through this interface.
type ArticleProvider interface {
	ExistsArticle(ctx context.Context, slug string) (bool, error)
	GetAuthorID(ctx context.Context, slug string) (string, error)
	AddComment(ctx context.Context, slug string, c Comment) error
	AddReaction(ctx context.Context, slug string, r Reaction) error
	RemoveReactionBy(ctx context.Context, slug, actorID string) error
	CommentCount(ctx context.Context, slug string) (int, error)
	ReactionCount(ctx context.Context, slug string) (int, error)
}

// UserProvider is the persistent store for users and their followers.
// Implemented externally (internal/db's Store).
type UserProvider interface {
	ExistsUser(ctx context.Context, username string) (bool, error)
	AddFollower(ctx context.Context, username, actorID, inbox, eventID string) error
	RemoveFollower(ctx context.Context, username, eventID string) error
	RemoveFollowerByActor(ctx context.Context, username, actorID string) error
	// GetFollowersInboxBatch returns up to a provider-chosen batch size (spec:
	// 10) of distinct inbox URLs for username strictly greater than
	// lastInbox, in ascending order, plus the new cursor (the last inbox
	// returned, or "" when the batch is empty).
	GetFollowersInboxBatch(ctx context.Context, username, lastInbox string) ([]string, string, error)
	GetFollowersLen(ctx context.Context, username string) (int, error)
	// GetFollowerIdsUntil returns up to 10 follower actor ids for username
	// with id > until (or from the start when until == ""), plus the next
	// cursor; the page is used directly for OrderedCollectionPage.items.
	GetFollowerIdsUntil(ctx context.Context, username, until string) ([]string, string, error)
}

// JobResult is the terminal outcome of processing one QueueJob.
type JobResult int

const (
	Finished JobResult = iota
	Retry
)

// Queue is the durable at-least-once work queue the engine enqueues jobs to.
// It does not itself run jobs; a separate driver pops and dispatches them to
// Engine.Process.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
}

// HTTPResponse is the bounded response the engine's HTTP client contract
// returns: status plus a body already capped at the 64 KiB resource bound.
type HTTPResponse struct {
	StatusCode int
	Header     map[string][]string
	Body       []byte
}

// HTTPClient is the outbound transport contract (§6): callers build the full
// request, the client preserves it verbatim and returns a bounded response.
// A nil error with a non-nil resp means "got a response"; a non-nil error
// means no response was obtainable at all (DNS/TLS/timeout/connection reset).
type HTTPClient interface {
	Do(ctx context.Context, req *OutboundRequest) (*HTTPResponse, error)
}

// OutboundRequest is a fully prepared outbound HTTP request.
type OutboundRequest struct {
	Method string
	URL    string
	Header map[string]string
	Body   []byte
}
