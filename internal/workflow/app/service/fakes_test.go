package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/flowvault/flowvault/internal/audit"
	"github.com/flowvault/flowvault/internal/credential"
	"github.com/flowvault/flowvault/internal/remote"
	"github.com/flowvault/flowvault/internal/workflow/domain/model"
	"github.com/flowvault/flowvault/internal/workflow/domain/repository"
)

// In-memory collaborators for service tests.

type fakeWorkflowRepo struct {
	mu        sync.Mutex
	workflows map[model.WorkflowID]*model.Workflow
	saveErr   error
}

func newFakeWorkflowRepo(workflows ...*model.Workflow) *fakeWorkflowRepo {
	repo := &fakeWorkflowRepo{workflows: make(map[model.WorkflowID]*model.Workflow)}
	for _, w := range workflows {
		repo.workflows[w.ID()] = w
	}
	return repo
}

func (r *fakeWorkflowRepo) Save(ctx context.Context, workflow *model.Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	for _, existing := range r.workflows {
		if existing.OwnerID() == workflow.OwnerID() && existing.RemoteID() == workflow.RemoteID() {
			return repository.ErrDuplicateRemoteID
		}
	}
	r.workflows[workflow.ID()] = workflow
	return nil
}

func (r *fakeWorkflowRepo) FindByID(ctx context.Context, id model.WorkflowID) (*model.Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	workflow, ok := r.workflows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return workflow, nil
}

func (r *fakeWorkflowRepo) FindByOwner(ctx context.Context, ownerID string, offset, limit int) ([]*model.Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Workflow
	for _, w := range r.workflows {
		if w.OwnerID() == ownerID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (r *fakeWorkflowRepo) FindProtectedByOwner(ctx context.Context, ownerID string) ([]*model.Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Workflow
	for _, w := range r.workflows {
		if w.OwnerID() == ownerID && w.Protected() {
			out = append(out, w)
		}
	}
	return out, nil
}

func (r *fakeWorkflowRepo) Update(ctx context.Context, workflow *model.Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workflows[workflow.ID()]; !ok {
		return repository.ErrNotFound
	}
	r.workflows[workflow.ID()] = workflow
	return nil
}

func (r *fakeWorkflowRepo) Delete(ctx context.Context, id model.WorkflowID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workflows[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.workflows, id)
	return nil
}

func (r *fakeWorkflowRepo) Count(ctx context.Context, ownerID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, w := range r.workflows {
		if w.OwnerID() == ownerID {
			n++
		}
	}
	return n, nil
}

func (r *fakeWorkflowRepo) Owners(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, w := range r.workflows {
		if w.Protected() && !seen[w.OwnerID()] {
			seen[w.OwnerID()] = true
			out = append(out, w.OwnerID())
		}
	}
	return out, nil
}

type fakeVersionRepo struct {
	mu        sync.Mutex
	versions  map[model.WorkflowID][]*model.WorkflowVersion
	appendErr error
}

func newFakeVersionRepo() *fakeVersionRepo {
	return &fakeVersionRepo{versions: make(map[model.WorkflowID][]*model.WorkflowVersion)}
}

func (r *fakeVersionRepo) Append(ctx context.Context, version *model.WorkflowVersion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appendErr != nil {
		return r.appendErr
	}
	version.Number = len(r.versions[version.WorkflowID]) + 1
	r.versions[version.WorkflowID] = append(r.versions[version.WorkflowID], version)
	return nil
}

func (r *fakeVersionRepo) Latest(ctx context.Context, workflowID model.WorkflowID) (*model.WorkflowVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	history := r.versions[workflowID]
	if len(history) == 0 {
		return nil, repository.ErrNotFound
	}
	return history[len(history)-1], nil
}

func (r *fakeVersionRepo) List(ctx context.Context, workflowID model.WorkflowID, limit int) ([]*model.WorkflowVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	history := r.versions[workflowID]
	out := make([]*model.WorkflowVersion, 0, len(history))
	for i := len(history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, history[i])
	}
	return out, nil
}

func (r *fakeVersionRepo) Get(ctx context.Context, id model.VersionID) (*model.WorkflowVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, history := range r.versions {
		for _, v := range history {
			if v.ID == id {
				return v, nil
			}
		}
	}
	return nil, repository.ErrNotFound
}

// CountByOwner ignores owner scoping; service tests run single-owner
func (r *fakeVersionRepo) CountByOwner(ctx context.Context, ownerID string, since time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, history := range r.versions {
		for _, v := range history {
			if !v.CreatedAt.Before(since) {
				n++
			}
		}
	}
	return n, nil
}

func (r *fakeVersionRepo) count(workflowID model.WorkflowID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.versions[workflowID])
}

// fakeGateway scripts remote responses per remote workflow ID. When
// failUntilKey is set, calls fail with authErr until the given API key is
// presented, exercising the refresh-and-retry path.
type fakeGateway struct {
	mu           sync.Mutex
	definitions  map[string]json.RawMessage
	fetchErr     error
	writeErr     error
	failUntilKey string
	fetchCalls   int
	updateCalls  int
	createCalls  int
	lastUpdateID string
	lastName     string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{definitions: make(map[string]json.RawMessage)}
}

func authExpiredErr(op string) error {
	return &remote.Error{Kind: remote.KindAuthExpired, Op: op}
}

func notFoundErr(op string) error {
	return &remote.Error{Kind: remote.KindNotFound, Op: op}
}

func (g *fakeGateway) Fetch(ctx context.Context, apiKey, remoteID string) (*remote.Definition, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetchCalls++
	if g.failUntilKey != "" && apiKey != g.failUntilKey {
		return nil, authExpiredErr("fetch")
	}
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	payload, ok := g.definitions[remoteID]
	if !ok {
		return nil, notFoundErr("fetch")
	}
	return &remote.Definition{RemoteID: remoteID, Name: "remote workflow", Payload: payload}, nil
}

func (g *fakeGateway) Update(ctx context.Context, apiKey, remoteID string, payload json.RawMessage) (*remote.Definition, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.updateCalls++
	g.lastUpdateID = remoteID
	if g.failUntilKey != "" && apiKey != g.failUntilKey {
		return nil, authExpiredErr("update")
	}
	if g.writeErr != nil {
		return nil, g.writeErr
	}
	g.definitions[remoteID] = payload
	return &remote.Definition{RemoteID: remoteID, Name: "remote workflow", Payload: payload}, nil
}

func (g *fakeGateway) CreateInactive(ctx context.Context, apiKey, name string, payload json.RawMessage) (*remote.Definition, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls++
	g.lastName = name
	if g.failUntilKey != "" && apiKey != g.failUntilKey {
		return nil, authExpiredErr("create")
	}
	if g.writeErr != nil {
		return nil, g.writeErr
	}
	return &remote.Definition{RemoteID: "new-remote-id", Name: name, Active: false, Payload: payload}, nil
}

// fakeCredentials hands out keys in sequence so a refresh observes a new key
type fakeCredentials struct {
	mu    sync.Mutex
	keys  []string
	calls int
	err   error
}

func (p *fakeCredentials) GetValidCredential(ctx context.Context, accountID string) (*credential.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	idx := p.calls
	if idx >= len(p.keys) {
		idx = len(p.keys) - 1
	}
	p.calls++
	return &credential.Credential{AccountID: accountID, APIKey: p.keys[idx]}, nil
}

type fakeAuditSink struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (s *fakeAuditSink) Record(ctx context.Context, entry audit.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
}

func (s *fakeAuditSink) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Action
	}
	return out
}

type fakeDispatcher struct {
	mu     sync.Mutex
	events []string
}

func (d *fakeDispatcher) Notify(ctx context.Context, name string, payload interface{}, ownerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, name)
}

func (d *fakeDispatcher) names() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.events...)
}
