package engine_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/klppl/fedblog/internal/activitystreams"
	"github.com/klppl/fedblog/internal/engine"
)

// ─── in-memory fakes ─────────────────────────────────────────────────────────

type fakeArticles struct {
	mu        sync.Mutex
	authors   map[string]string
	comments  map[string][]engine.Comment
	reactions map[string]map[string]engine.Reaction
}

func newFakeArticles() *fakeArticles {
	return &fakeArticles{
		authors:   map[string]string{},
		comments:  map[string][]engine.Comment{},
		reactions: map[string]map[string]engine.Reaction{},
	}
}

func (f *fakeArticles) ExistsArticle(ctx context.Context, slug string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.authors[slug]
	return ok, nil
}

func (f *fakeArticles) GetAuthorID(ctx context.Context, slug string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.authors[slug]
	if !ok {
		return "", fmt.Errorf("no such article %s", slug)
	}
	return a, nil
}

func (f *fakeArticles) AddComment(ctx context.Context, slug string, c engine.Comment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments[slug] = append(f.comments[slug], c)
	return nil
}

func (f *fakeArticles) AddReaction(ctx context.Context, slug string, r engine.Reaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reactions[slug] == nil {
		f.reactions[slug] = map[string]engine.Reaction{}
	}
	f.reactions[slug][r.AuthorID] = r
	return nil
}

func (f *fakeArticles) RemoveReactionBy(ctx context.Context, slug, actorID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.reactions[slug], actorID)
	return nil
}

func (f *fakeArticles) CommentCount(ctx context.Context, slug string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.comments[slug]), nil
}

func (f *fakeArticles) ReactionCount(ctx context.Context, slug string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reactions[slug]), nil
}

type follower struct {
	actorID string
	inbox   string
	eventID string
}

type fakeUsers struct {
	mu        sync.Mutex
	exists    map[string]bool
	followers map[string][]follower
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{exists: map[string]bool{}, followers: map[string][]follower{}}
}

func (f *fakeUsers) ExistsUser(ctx context.Context, username string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exists[username], nil
}

func (f *fakeUsers) AddFollower(ctx context.Context, username, actorID, inbox, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.followers[username] = append(f.followers[username], follower{actorID, inbox, eventID})
	return nil
}

func (f *fakeUsers) RemoveFollower(ctx context.Context, username, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.followers[username][:0]
	for _, fl := range f.followers[username] {
		if fl.eventID != eventID {
			out = append(out, fl)
		}
	}
	f.followers[username] = out
	return nil
}

func (f *fakeUsers) RemoveFollowerByActor(ctx context.Context, username, actorID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.followers[username][:0]
	for _, fl := range f.followers[username] {
		if fl.actorID != actorID {
			out = append(out, fl)
		}
	}
	f.followers[username] = out
	return nil
}

func (f *fakeUsers) GetFollowersInboxBatch(ctx context.Context, username, lastInbox string) ([]string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	distinct := map[string]bool{}
	for _, fl := range f.followers[username] {
		distinct[fl.inbox] = true
	}
	var all []string
	for inbox := range distinct {
		if inbox > lastInbox {
			all = append(all, inbox)
		}
	}
	sort.Strings(all)
	if len(all) > engine.FollowerBatchSize {
		all = all[:engine.FollowerBatchSize]
	}
	cursor := ""
	if len(all) > 0 {
		cursor = all[len(all)-1]
	}
	return all, cursor, nil
}

func (f *fakeUsers) GetFollowersLen(ctx context.Context, username string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.followers[username]), nil
}

func (f *fakeUsers) GetFollowerIdsUntil(ctx context.Context, username, until string) ([]string, string, error) {
	return nil, "", nil
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []engine.Job
}

func (q *fakeQueue) Enqueue(ctx context.Context, job engine.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

// drain runs e.Process over every queued job (including jobs enqueued by
// processing itself) until the queue is empty, mirroring how a worker pool
// would drive a ToAll → Batch → single fan-out to completion.
func (q *fakeQueue) drain(t *testing.T, ctx context.Context, e *engine.Engine) {
	t.Helper()
	for {
		q.mu.Lock()
		if len(q.jobs) == 0 {
			q.mu.Unlock()
			return
		}
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		q.mu.Unlock()

		if _, err := e.Process(ctx, job); err != nil {
			t.Fatalf("process %s: %v", job.EventType, err)
		}
	}
}

type fakeEnv struct {
	baseURL string
	now     time.Time
}

func (e *fakeEnv) URL() string            { return e.baseURL }
func (e *fakeEnv) TimestampNow() time.Time { return e.now }
func (e *fakeEnv) SigningKeyID(username string) string {
	return e.baseURL + "/users/" + username + "#main-key"
}

type recordedPost struct {
	url  string
	body []byte
}

type fakeHTTP struct {
	mu        sync.Mutex
	responses map[string]*engine.HTTPResponse
	posts     []recordedPost
}

func newFakeHTTP() *fakeHTTP {
	return &fakeHTTP{responses: map[string]*engine.HTTPResponse{}}
}

func (h *fakeHTTP) Do(ctx context.Context, req *engine.OutboundRequest) (*engine.HTTPResponse, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if req.Method == http.MethodPost {
		h.posts = append(h.posts, recordedPost{url: req.URL, body: req.Body})
	}
	resp, ok := h.responses[req.URL]
	if !ok {
		return &engine.HTTPResponse{StatusCode: 200, Header: map[string][]string{"Content-Type": {"application/activity+json"}}}, nil
	}
	return resp, nil
}

func personDoc(inbox string) []byte {
	b, _ := json.Marshal(map[string]interface{}{
		"id": "actor", "type": "Person", "inbox": inbox,
	})
	return b
}

// ─── scenarios ───────────────────────────────────────────────────────────────

func newEngine(t *testing.T) (*engine.Engine, *fakeArticles, *fakeUsers, *fakeQueue, *fakeHTTP) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	articles := newFakeArticles()
	users := newFakeUsers()
	queue := &fakeQueue{}
	httpc := newFakeHTTP()
	e := &engine.Engine{
		Articles:   articles,
		Users:      users,
		Queue:      queue,
		Env:        &fakeEnv{baseURL: "https://blog.test", now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		HTTP:       httpc,
		SigningKey: key,
	}
	return e, articles, users, queue, httpc
}

func TestInboxFollow(t *testing.T) {
	e, _, users, queue, httpc := newEngine(t)
	users.exists["user1"] = true
	httpc.responses["https://a.test/users/a"] = &engine.HTTPResponse{
		StatusCode: 200,
		Header:     map[string][]string{"Content-Type": {"application/activity+json"}},
		Body:       personDoc("https://a.test/inbox"),
	}

	followBody, _ := json.Marshal(map[string]string{
		"id": "https://a.test/f1", "type": "Follow",
		"actor": "https://a.test/users/a", "object": "https://blog.test/users/user1",
	})
	ctx := context.Background()
	result, err := e.Process(ctx, engine.Job{
		EventType: engine.EventInbox, Username: "user1",
		ActivityType: "Follow", ActivityID: "https://a.test/f1", VerifiedBody: followBody,
	})
	if err != nil || result != engine.Finished {
		t.Fatalf("process follow: result=%v err=%v", result, err)
	}
	_ = queue

	if len(users.followers["user1"]) != 1 {
		t.Fatalf("expected 1 follower, got %d", len(users.followers["user1"]))
	}
	got := users.followers["user1"][0]
	if got.actorID != "https://a.test/users/a" || got.inbox != "https://a.test/inbox" || got.eventID != "https://a.test/f1" {
		t.Fatalf("unexpected follower row: %+v", got)
	}

	if len(httpc.posts) != 1 {
		t.Fatalf("expected 1 Accept{Follow} POST, got %d", len(httpc.posts))
	}
	if httpc.posts[0].url != "https://a.test/inbox" {
		t.Fatalf("Accept{Follow} posted to wrong inbox: %s", httpc.posts[0].url)
	}
}

func TestBatchedDelivery(t *testing.T) {
	e, articles, users, queue, httpc := newEngine(t)
	articles.authors["first-post"] = "user1"

	letters := "abcdefghijklmnopqrstuvwxyz"
	for i, c := range letters {
		inbox := fmt.Sprintf("https://%c.test/inbox", c)
		users.followers["user1"] = append(users.followers["user1"], follower{
			actorID: fmt.Sprintf("https://%c.test/users/f%d", c, i),
			inbox:   inbox,
			eventID: fmt.Sprintf("event-%d", i),
		})
	}

	ctx := context.Background()
	if err := queue.Enqueue(ctx, engine.Job{EventType: engine.EventDeliveryNewArticleToAll, Slug: "first-post"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	queue.drain(t, ctx, e)

	if len(httpc.posts) != len(letters) {
		t.Fatalf("expected %d deliveries, got %d", len(letters), len(httpc.posts))
	}
	for _, p := range httpc.posts {
		var body map[string]string
		if err := json.Unmarshal(p.body, &body); err != nil {
			t.Fatalf("unmarshal delivery body: %v", err)
		}
		if body["id"] != "https://blog.test/events/articles/create/first-post" ||
			body["type"] != "Create" ||
			body["actor"] != "https://blog.test/users/user1" ||
			body["object"] != "https://blog.test/articles/first-post" {
			t.Fatalf("unexpected delivery body: %+v", body)
		}
	}

	eventID := activitystreams.EventID("https://blog.test", activitystreams.KindCreate, "first-post")
	if eventID != "https://blog.test/events/articles/create/first-post" {
		t.Fatalf("EventID mismatch: %s", eventID)
	}
}

func TestReactionThenUndo(t *testing.T) {
	e, articles, _, _, _ := newEngine(t)
	articles.authors["article1"] = "user1"
	ctx := context.Background()

	likeBody, _ := json.Marshal(map[string]string{
		"id": "https://a.test/like1", "type": "Like", "actor": "https://a.test/users/a",
		"object": "https://blog.test/articles/article1",
	})
	if _, err := e.Process(ctx, engine.Job{
		EventType: engine.EventInbox, Username: "user1", ActivityType: "Like",
		ActivityID: "https://a.test/like1", VerifiedBody: likeBody,
	}); err != nil {
		t.Fatalf("process like: %v", err)
	}
	n, _ := articles.ReactionCount(ctx, "article1")
	if n != 1 {
		t.Fatalf("reaction count after Like = %d, want 1", n)
	}

	undoBody, _ := json.Marshal(map[string]interface{}{
		"id": "https://a.test/undo1", "type": "Undo",
		"actor": "https://a.test/users/a",
		"object": map[string]string{
			"type": "Like", "actor": "https://a.test/users/a",
			"object": "https://blog.test/articles/article1",
		},
	})
	for i := 0; i < 2; i++ {
		if _, err := e.Process(ctx, engine.Job{
			EventType: engine.EventInbox, Username: "user1", ActivityType: "Undo",
			ActivityID: fmt.Sprintf("https://a.test/undo%d", i), VerifiedBody: undoBody,
		}); err != nil {
			t.Fatalf("process undo %d: %v", i, err)
		}
		n, _ := articles.ReactionCount(ctx, "article1")
		if n != 0 {
			t.Fatalf("reaction count after undo %d = %d, want 0", i, n)
		}
	}
}

func TestDeliveryClassification(t *testing.T) {
	tests := []struct {
		status int
		want   engine.JobResult
	}{
		{503, engine.Retry},
		{410, engine.Finished},
		{404, engine.Finished},
		{202, engine.Finished},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			e, articles, _, _, httpc := newEngine(t)
			articles.authors["first-post"] = "user1"
			httpc.responses["https://a.test/inbox"] = &engine.HTTPResponse{StatusCode: tt.status}

			result, err := e.Process(context.Background(), engine.Job{
				EventType: engine.EventDeliveryNewArticle, Slug: "first-post",
				Author: "user1", Inbox: "https://a.test/inbox",
			})
			if err != nil {
				t.Fatalf("process: %v", err)
			}
			if result != tt.want {
				t.Fatalf("status %d: result = %v, want %v", tt.status, result, tt.want)
			}
		})
	}
}

func TestDeliveryTransportErrorRetries(t *testing.T) {
	e, articles, _, _, httpc := newEngine(t)
	articles.authors["first-post"] = "user1"
	httpc.responses["https://broken.test/inbox"] = nil
	// Force a transport error by swapping in a client whose Do always fails.
	e.HTTP = transportErrorClient{}

	result, err := e.Process(context.Background(), engine.Job{
		EventType: engine.EventDeliveryNewArticle, Slug: "first-post",
		Author: "user1", Inbox: "https://broken.test/inbox",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result != engine.Retry {
		t.Fatalf("transport error classification = %v, want Retry", result)
	}
}

type transportErrorClient struct{}

func (transportErrorClient) Do(ctx context.Context, req *engine.OutboundRequest) (*engine.HTTPResponse, error) {
	return nil, fmt.Errorf("connection refused")
}
