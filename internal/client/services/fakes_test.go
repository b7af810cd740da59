package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/trustkeeper/internal/client/client"
	"github.com/dmitrijs2005/trustkeeper/internal/client/credstore"
	"github.com/dmitrijs2005/trustkeeper/internal/client/events"
	"github.com/dmitrijs2005/trustkeeper/internal/client/models"
	"github.com/dmitrijs2005/trustkeeper/internal/client/session"
)

// ---- fake client ----

type fakeReply struct {
	status int
	body   string
	err    error
	// gate, when set, holds the call until closed.
	gate chan struct{}
}

// fakeClient implements client.Client with canned replies keyed by
// "METHOD /path" and records every request it receives.
type fakeClient struct {
	mu       sync.Mutex
	replies  map[string]fakeReply
	requests []*client.Request
	entered  chan string
}

func newFakeClient() *fakeClient {
	return &fakeClient{replies: make(map[string]fakeReply), entered: make(chan string, 64)}
}

func (f *fakeClient) on(method, path string, status int, body string) *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[method+" "+path] = fakeReply{status: status, body: body}
	return f
}

func (f *fakeClient) onErr(method, path string, err error) *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[method+" "+path] = fakeReply{err: err}
	return f
}

// gated makes the route block until the returned channel is closed.
func (f *fakeClient) gated(method, path string, status int, body string) chan struct{} {
	gate := make(chan struct{})
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[method+" "+path] = fakeReply{status: status, body: body, gate: gate}
	return gate
}

func (f *fakeClient) Do(_ context.Context, req *client.Request) (*client.Response, error) {
	key := req.Method + " " + req.Path

	f.mu.Lock()
	f.requests = append(f.requests, req)
	reply, ok := f.replies[key]
	f.mu.Unlock()

	select {
	case f.entered <- key:
	default:
	}
	if reply.gate != nil {
		<-reply.gate
	}
	if !ok {
		return &client.Response{Status: 404, Body: []byte(`{"detail":"Not Found"}`)}, nil
	}
	if reply.err != nil {
		return nil, reply.err
	}
	return &client.Response{Status: reply.status, Body: []byte(reply.body)}, nil
}

func (f *fakeClient) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// last returns the most recent request for method and path, or nil.
func (f *fakeClient) last(method, path string) *client.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.requests) - 1; i >= 0; i-- {
		r := f.requests[i]
		if r.Method == method && r.Path == path {
			return r
		}
	}
	return nil
}

func waitEntered(t *testing.T, f *fakeClient, key string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-f.entered:
			if got == key {
				return
			}
		case <-deadline:
			t.Fatalf("request %q was not sent", key)
		}
	}
}

// ---- other fakes ----

type fakeFingerprint struct {
	fp  models.DeviceFingerprint
	err error
}

func (f fakeFingerprint) Fingerprint(context.Context) (models.DeviceFingerprint, error) {
	return f.fp, f.err
}

var testFingerprint = models.DeviceFingerprint{
	Model: "cli-amd64", OS: "linux", AppVersion: "1.0.0",
	Timezone: "UTC", Locale: "en-US", DeviceID: "dev-1",
}

type failingStore struct {
	credstore.Store
	err error
}

func (s failingStore) Read(context.Context) (string, bool, error) { return "", false, s.err }
func (s failingStore) Save(context.Context, string) error         { return s.err }
func (s failingStore) Clear(context.Context) error                { return s.err }

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturePublisher) Publish(_ context.Context, evt events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *capturePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

var errDisk = errors.New("disk I/O error")

type fixture struct {
	client *fakeClient
	state  *session.State
	store  *credstore.MemoryStore
	pub    *capturePublisher
	auth   AuthService
	trust  TrustService
}

func newFixture() *fixture {
	f := &fixture{
		client: newFakeClient(),
		state:  session.NewState(nil, nil),
		store:  credstore.NewMemoryStore(),
		pub:    &capturePublisher{},
	}
	f.auth = NewAuthService(f.client, f.state, f.store, fakeFingerprint{fp: testFingerprint}, f.pub, nil)
	f.trust = NewTrustService(f.client, f.state, f.store, f.pub, nil)
	return f
}

func (f *fixture) login(t *testing.T, token string) {
	t.Helper()
	if err := f.state.SetSession(context.Background(), token, "a@x.com"); err != nil {
		t.Fatalf("SetSession: %v", err)
	}
}
