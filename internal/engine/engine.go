package engine

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/klppl/fedblog/internal/activitystreams"
	"github.com/klppl/fedblog/internal/httpsig"
	"github.com/klppl/fedblog/internal/negotiate"
)

// ErrGone is returned by actor/activity fetches when the origin responds 410.
var ErrGone = errors.New("engine: resource gone (410)")

// BodyLimit bounds remote reads (actor fetch, activity re-fetch, delivery
// replies) to the resource cap spec.md §5/§9 names.
const BodyLimit = 64 * 1024

// FollowerBatchSize is the per-job fan-out cap (§4.G/§9).
const FollowerBatchSize = 10

// Engine is the federation engine: stateless over the injected
// providers/queue/http-client/signing-key, safe for concurrent use.
type Engine struct {
	Articles ArticleProvider
	Users    UserProvider
	Queue    Queue
	Env      Env
	HTTP     HTTPClient

	SigningKey *rsa.PrivateKey

	Log *slog.Logger
}

func (e *Engine) logger() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

// Process drives one job to its terminal outcome. Unknown event types are
// dropped as Finished (logged), per §9's forward-compatibility rule.
func (e *Engine) Process(ctx context.Context, job Job) (JobResult, error) {
	if !job.IsKnown() {
		e.logger().Warn("engine: dropping unknown job", "event_type", job.EventType)
		return Finished, nil
	}

	switch job.EventType {
	case EventInbox:
		return e.processInbox(ctx, job)
	case EventDeliveryNewArticleToAll, EventDeliveryUpdateArticleToAll, EventDeliveryDeleteArticleToAll:
		return e.processDeliveryToAll(ctx, job)
	case EventDeliveryNewArticleBatch, EventDeliveryUpdateArticleBatch, EventDeliveryDeleteArticleBatch:
		return e.processDeliveryBatch(ctx, job)
	case EventDeliveryNewArticle, EventDeliveryUpdateArticle, EventDeliveryDeleteArticle:
		return e.processDeliverySingle(ctx, job)
	default:
		return Finished, nil
	}
}

// ─── Inbound: §4.G ──────────────────────────────────────────────────────────

// FetchActivity re-fetches a raw activity by its id through the HTTP client,
// validating the response content type per §4.A.
func (e *Engine) FetchActivity(ctx context.Context, id string) ([]byte, error) {
	resp, err := e.HTTP.Do(ctx, &OutboundRequest{
		Method: http.MethodGet,
		URL:    id,
		Header: map[string]string{"Accept": activityAcceptHeader},
	})
	if err != nil {
		return nil, fmt.Errorf("engine: fetch activity %s: %w", id, err)
	}
	if resp.StatusCode == http.StatusGone {
		return nil, ErrGone
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("engine: fetch activity %s: status %d", id, resp.StatusCode)
	}
	ct := firstHeader(resp.Header, "Content-Type")
	if !negotiate.IsContentTypeAP(ct) {
		return nil, fmt.Errorf("engine: fetch activity %s: unexpected content-type %q", id, ct)
	}
	return resp.Body, nil
}

// FetchPerson fetches and parses an actor document.
func (e *Engine) FetchPerson(ctx context.Context, actorURL string) (*activitystreams.Person, error) {
	resp, err := e.HTTP.Do(ctx, &OutboundRequest{
		Method: http.MethodGet,
		URL:    actorURL,
		Header: map[string]string{"Accept": activityAcceptHeader},
	})
	if err != nil {
		return nil, fmt.Errorf("engine: fetch actor %s: %w", actorURL, err)
	}
	if resp.StatusCode == http.StatusGone {
		return nil, ErrGone
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("engine: fetch actor %s: status %d", actorURL, resp.StatusCode)
	}
	person, err := activitystreams.ParsePerson(resp.Body)
	if err != nil {
		return nil, err
	}
	return person, nil
}

const activityAcceptHeader = `application/activity+json, application/ld+json; profile="https://www.w3.org/ns/activitystreams"`

func firstHeader(h map[string][]string, key string) string {
	for k, v := range h {
		if strings.EqualFold(k, key) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

func (e *Engine) processInbox(ctx context.Context, job Job) (JobResult, error) {
	var raw []byte
	if len(job.VerifiedBody) > 0 {
		raw = job.VerifiedBody
	} else {
		body, err := e.FetchActivity(ctx, job.ActivityID)
		if err != nil {
			e.logger().Warn("engine: inbox activity unreachable, dropping", "id", job.ActivityID, "error", err)
			return Finished, nil
		}
		raw = body
	}

	sniff, ok := activitystreams.SniffActivity(raw)
	if !ok {
		e.logger().Warn("engine: inbox activity malformed, dropping", "id", job.ActivityID)
		return Finished, nil
	}

	var err error
	switch sniff.Type {
	case "Create":
		err = e.handleCreate(ctx, job.Username, raw)
	case "Like":
		err = e.handleLike(ctx, job.Username, raw)
	case "Follow":
		err = e.handleFollow(ctx, job.Username, raw)
	case "Undo":
		err = e.handleUndo(ctx, job.Username, raw)
	default:
		e.logger().Debug("engine: inbox activity type not handled, dropping", "type", sniff.Type)
		return Finished, nil
	}
	if err != nil {
		e.logger().Warn("engine: inbox activity rejected, dropping", "type", sniff.Type, "error", err)
	}
	return Finished, nil
}

type createActivity struct {
	Object json.RawMessage `json:"object"`
}

func (e *Engine) handleCreate(ctx context.Context, username string, raw []byte) error {
	var act createActivity
	if err := json.Unmarshal(raw, &act); err != nil {
		return fmt.Errorf("parse Create: %w", err)
	}
	note, err := activitystreams.ParseNote(act.Object)
	if err != nil {
		return err
	}
	slug, err := e.slugFromReplyTarget(note.ReplyTarget)
	if err != nil {
		return err
	}
	author, err := e.Articles.GetAuthorID(ctx, slug)
	if err != nil {
		return fmt.Errorf("lookup author for slug %s: %w", slug, err)
	}
	if author != username {
		return fmt.Errorf("article %s is not authored by %s", slug, username)
	}
	return e.Articles.AddComment(ctx, slug, Comment{
		ID:        note.ID,
		AuthorID:  note.AttributedTo,
		CreatedAt: note.Published,
		Content:   note.Content,
		Raw:       raw,
	})
}

type likeActivity struct {
	ID      string `json:"id"`
	Actor   string `json:"actor"`
	Object  string `json:"object"`
	Content string `json:"content"`
}

func (e *Engine) handleLike(ctx context.Context, username string, raw []byte) error {
	var act likeActivity
	if err := json.Unmarshal(raw, &act); err != nil {
		return fmt.Errorf("parse Like: %w", err)
	}
	slug, err := e.slugFromReplyTarget(act.Object)
	if err != nil {
		return err
	}
	author, err := e.Articles.GetAuthorID(ctx, slug)
	if err != nil {
		return fmt.Errorf("lookup author for slug %s: %w", slug, err)
	}
	if author != username {
		return fmt.Errorf("article %s is not authored by %s", slug, username)
	}
	// Like.content defaults to "" when absent (spec.md §9 resolved open question).
	return e.Articles.AddReaction(ctx, slug, Reaction{
		ID:       act.ID,
		AuthorID: act.Actor,
		Reaction: act.Content,
		Raw:      raw,
	})
}

type followActivity struct {
	ID     string `json:"id"`
	Actor  string `json:"actor"`
	Object string `json:"object"`
}

func (e *Engine) handleFollow(ctx context.Context, username string, raw []byte) error {
	var act followActivity
	if err := json.Unmarshal(raw, &act); err != nil {
		return fmt.Errorf("parse Follow: %w", err)
	}
	wantObject := e.Env.URL() + "/users/" + username
	if act.Object != wantObject {
		return fmt.Errorf("Follow.object %q does not address %s", act.Object, username)
	}
	person, err := e.FetchPerson(ctx, act.Actor)
	if err != nil {
		return fmt.Errorf("fetch follower actor %s: %w", act.Actor, err)
	}
	if person.Type != "Person" {
		return fmt.Errorf("follower actor %s is not a Person (got %s)", act.Actor, person.Type)
	}
	inbox := person.EffectiveInbox()
	if err := e.Users.AddFollower(ctx, username, act.Actor, inbox, act.ID); err != nil {
		return fmt.Errorf("add follower: %w", err)
	}

	accept := activitystreams.AcceptFollowActivity(e.Env.URL(), username, act.ID, act.Actor)
	body, err := json.Marshal(activitystreams.WithContext(accept))
	if err != nil {
		return fmt.Errorf("build Accept{Follow}: %w", err)
	}
	if err := e.signAndPost(ctx, inbox, username, body); err != nil {
		return fmt.Errorf("deliver Accept{Follow} to %s: %w", inbox, err)
	}
	return nil
}

type undoActivity struct {
	Actor  string          `json:"actor"`
	Object json.RawMessage `json:"object"`
}

type undoInner struct {
	Type   string `json:"type"`
	Actor  string `json:"actor"`
	Object string `json:"object"`
}

func (e *Engine) handleUndo(ctx context.Context, username string, raw []byte) error {
	var outer undoActivity
	if err := json.Unmarshal(raw, &outer); err != nil {
		return fmt.Errorf("parse Undo: %w", err)
	}
	var inner undoInner
	if err := json.Unmarshal(outer.Object, &inner); err != nil {
		return fmt.Errorf("parse Undo.object: %w", err)
	}
	if inner.Actor != outer.Actor {
		return fmt.Errorf("Undo actor %q does not match inner actor %q", outer.Actor, inner.Actor)
	}

	switch inner.Type {
	case "Like":
		slug, err := e.slugFromReplyTarget(inner.Object)
		if err != nil {
			return err
		}
		author, err := e.Articles.GetAuthorID(ctx, slug)
		if err != nil {
			return fmt.Errorf("lookup author for slug %s: %w", slug, err)
		}
		if author != username {
			return fmt.Errorf("article %s is not authored by %s", slug, username)
		}
		return e.Articles.RemoveReactionBy(ctx, slug, outer.Actor)
	case "Follow":
		wantObject := e.Env.URL() + "/users/" + username
		if inner.Object != wantObject {
			return fmt.Errorf("Undo{Follow}.object %q does not address %s", inner.Object, username)
		}
		return e.Users.RemoveFollowerByActor(ctx, username, outer.Actor)
	default:
		return fmt.Errorf("Undo of unsupported inner type %q", inner.Type)
	}
}

func (e *Engine) slugFromReplyTarget(target string) (string, error) {
	prefix := e.Env.URL() + "/articles/"
	if !strings.HasPrefix(target, prefix) {
		return "", fmt.Errorf("reply target %q does not start with %s", target, prefix)
	}
	return strings.TrimPrefix(target, prefix), nil
}

// ─── Outbound: §4.G/§4.H ────────────────────────────────────────────────────

func (e *Engine) processDeliveryToAll(ctx context.Context, job Job) (JobResult, error) {
	author, err := e.Articles.GetAuthorID(ctx, job.Slug)
	if err != nil {
		e.logger().Warn("engine: delivery-to-all: no author for slug, dropping", "slug", job.Slug, "error", err)
		return Finished, nil
	}
	batchType := toAllToBatch(job.EventType)
	if err := e.Queue.Enqueue(ctx, Job{EventType: batchType, Slug: job.Slug, Author: author, LastInbox: ""}); err != nil {
		return Finished, fmt.Errorf("enqueue batch: %w", err)
	}
	return Finished, nil
}

func toAllToBatch(t EventType) EventType {
	switch t {
	case EventDeliveryNewArticleToAll:
		return EventDeliveryNewArticleBatch
	case EventDeliveryUpdateArticleToAll:
		return EventDeliveryUpdateArticleBatch
	case EventDeliveryDeleteArticleToAll:
		return EventDeliveryDeleteArticleBatch
	default:
		return t
	}
}

func batchToSingle(t EventType) EventType {
	switch t {
	case EventDeliveryNewArticleBatch:
		return EventDeliveryNewArticle
	case EventDeliveryUpdateArticleBatch:
		return EventDeliveryUpdateArticle
	case EventDeliveryDeleteArticleBatch:
		return EventDeliveryDeleteArticle
	default:
		return t
	}
}

func (e *Engine) processDeliveryBatch(ctx context.Context, job Job) (JobResult, error) {
	inboxes, cursor, err := e.Users.GetFollowersInboxBatch(ctx, job.Author, job.LastInbox)
	if err != nil {
		return Finished, fmt.Errorf("get follower batch: %w", err)
	}

	singleType := batchToSingle(job.EventType)
	for _, inbox := range inboxes {
		if err := e.Queue.Enqueue(ctx, Job{
			EventType: singleType,
			Slug:      job.Slug,
			Author:    job.Author,
			Inbox:     inbox,
		}); err != nil {
			return Finished, fmt.Errorf("enqueue delivery to %s: %w", inbox, err)
		}
	}

	if len(inboxes) == FollowerBatchSize {
		if err := e.Queue.Enqueue(ctx, Job{
			EventType: job.EventType,
			Slug:      job.Slug,
			Author:    job.Author,
			LastInbox: cursor,
		}); err != nil {
			return Finished, fmt.Errorf("enqueue next batch: %w", err)
		}
	}
	return Finished, nil
}

func (e *Engine) processDeliverySingle(ctx context.Context, job Job) (JobResult, error) {
	asKind, ok := deliveryASKind(job.EventType)
	if !ok {
		return Finished, nil
	}

	activity := activitystreams.DeliveryActivity(e.Env.URL(), asKind, job.Slug, job.Author)
	body, err := json.Marshal(activitystreams.WithContext(activity))
	if err != nil {
		return Finished, fmt.Errorf("build delivery activity: %w", err)
	}

	resp, err := e.postSigned(ctx, job.Inbox, job.Author, body)
	if err != nil {
		// No response at all: spec.md §9 adopts Retry over the original's Finished.
		e.logger().Warn("engine: delivery transport error, retrying", "inbox", job.Inbox, "error", err)
		return Retry, nil
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Finished, nil
	case resp.StatusCode == http.StatusGone:
		return Finished, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return Finished, nil
	default:
		return Retry, nil
	}
}

// ─── Signing + delivery plumbing ────────────────────────────────────────────

// signAndPost signs body as username's key and POSTs it to inbox, returning
// an error unless the response is 2xx (used for the Accept{Follow} reply,
// which has no retry/dead-letter classification of its own).
func (e *Engine) signAndPost(ctx context.Context, inbox, username string, body []byte) error {
	resp, err := e.postSigned(ctx, inbox, username, body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func (e *Engine) postSigned(ctx context.Context, inbox, username string, body []byte) (*HTTPResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inbox, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/activity+json")

	keyID := e.Env.SigningKeyID(username)
	if err := httpsig.Sign(req, body, keyID, e.SigningKey, e.Env.TimestampNow()); err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}

	header := make(map[string]string, len(req.Header))
	for k := range req.Header {
		header[k] = req.Header.Get(k)
	}
	resp, err := e.HTTP.Do(ctx, &OutboundRequest{
		Method: http.MethodPost,
		URL:    inbox,
		Header: header,
		Body:   body,
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}
