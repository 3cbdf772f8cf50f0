package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/deemkeen/pubgate/db"
	"github.com/deemkeen/pubgate/db/dbtest"
	"github.com/deemkeen/pubgate/domain"
	"github.com/deemkeen/pubgate/events"
	"github.com/deemkeen/pubgate/kv"
	"github.com/deemkeen/pubgate/util"
	"github.com/stretchr/testify/require"
)

const testHost = "blog.example"

type sentActivity struct {
	From     string
	Inbox    string
	Activity map[string]any
}

// recordingTransport records deliveries instead of sending them. Inboxes in
// failing return an error.
type recordingTransport struct {
	mu      sync.Mutex
	sent    []sentActivity
	failing map[string]bool
}

func (t *recordingTransport) Deliver(ctx context.Context, from *domain.Account, inbox string, body []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failing[inbox] {
		return errors.New("connection refused")
	}
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return err
	}
	t.sent = append(t.sent, sentActivity{From: from.ActorURI, Inbox: inbox, Activity: doc})
	return nil
}

func (t *recordingTransport) fail(inbox string, failing bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failing == nil {
		t.failing = map[string]bool{}
	}
	t.failing[inbox] = failing
}

func (t *recordingTransport) ofType(typ string) []sentActivity {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []sentActivity
	for _, s := range t.sent {
		if s.Activity["type"] == typ {
			out = append(out, s)
		}
	}
	return out
}

// offlineTransport fails every request so tests never reach the network.
type offlineTransport struct{}

func (offlineTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("network disabled in tests")
}

type testEnv struct {
	ctx         context.Context
	db          *db.DB
	kv          *kv.Store
	docs        *DocumentStore
	bus         *events.Bus
	resolver    *Resolver
	transport   *recordingTransport
	sender      *Sender
	dispatcher  *Dispatcher
	outbox      *Outbox
	processor   *Processor
	builder     *Builder
	views       *Views
	collections *Collections
	site        *domain.Site
	siteAcc     *domain.Account
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithClient(t, &http.Client{Transport: offlineTransport{}})
}

func newTestEnvWithClient(t *testing.T, client *http.Client) *testEnv {
	t.Helper()
	logger := util.DiscardLogger()
	store := dbtest.NewDB(t)
	kvStore, err := kv.Open("test", &pebble.Options{FS: vfs.NewMem()})
	require.NoError(t, err)
	t.Cleanup(func() { kvStore.Close() })

	env := &testEnv{ctx: context.Background(), db: store, kv: kvStore, transport: &recordingTransport{}}
	env.docs = NewDocumentStore(kvStore, store)
	env.bus = events.NewBus(store, logger)
	env.resolver = NewResolver(store, env.docs, ResolverOptions{HTTPClient: client, RetryMax: 0}, logger)
	env.sender = NewSender(store, env.transport, 4, logger)
	env.dispatcher = NewDispatcher(env.sender, logger)
	t.Cleanup(func() { env.dispatcher.Close(context.Background()) })
	env.outbox = NewOutbox(store, env.docs, env.resolver, env.dispatcher, env.bus, logger)
	env.processor = NewProcessor(store, env.docs, env.resolver, env.dispatcher, env.bus, logger)
	env.builder = NewBuilder(store, env.docs, logger)
	env.views = NewViews(store, env.docs, env.resolver, env.builder, logger)
	env.collections = NewCollections(store, env.docs, logger)
	env.site, env.siteAcc = dbtest.Site(t, store, testHost)
	return env
}

// remote stores an external account with a fresh profile so that resolving
// it never fetches.
func (e *testEnv) remote(t *testing.T, host, username string) *domain.Account {
	t.Helper()
	acc := dbtest.External(t, e.db, host, username)
	actor := map[string]any{
		"id":                acc.ActorURI,
		"type":              "Person",
		"preferredUsername": username,
		"inbox":             acc.InboxURI,
		"followers":         acc.FollowersURI,
	}
	require.NoError(t, e.docs.PutObject(e.ctx, actor))
	return acc
}

// deliver runs raw through the processor and waits for the resulting sends.
func (e *testEnv) deliver(t *testing.T, activity map[string]any) error {
	t.Helper()
	raw, err := json.Marshal(activity)
	require.NoError(t, err)
	err = e.processor.Handle(e.ctx, e.site, e.siteAcc, raw)
	e.dispatcher.Wait()
	return err
}

func (e *testEnv) wait() {
	e.dispatcher.Wait()
}

// note builds a Create of a public Note by author.
func note(author *domain.Account, id, content string, extra map[string]any) map[string]any {
	object := map[string]any{
		"id":           id,
		"type":         "Note",
		"attributedTo": author.ActorURI,
		"content":      content,
		"published":    time.Now().UTC().Format(time.RFC3339),
		"to":           []any{PublicCollection},
		"cc":           []any{author.FollowersURI},
	}
	for k, v := range extra {
		object[k] = v
	}
	return map[string]any{
		"@context": ContextActivityStreams,
		"id":       id + "/activity",
		"type":     "Create",
		"actor":    author.ActorURI,
		"object":   object,
	}
}

func followOf(follower *domain.Account, target, id string) map[string]any {
	return map[string]any{
		"@context": ContextActivityStreams,
		"id":       id,
		"type":     "Follow",
		"actor":    follower.ActorURI,
		"object":   target,
	}
}
