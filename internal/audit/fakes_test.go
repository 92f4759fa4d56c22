package audit

import (
	"context"
	"sync"
	"time"

	"github.com/yairfalse/projaudit/internal/gcloud"
	"github.com/yairfalse/projaudit/internal/report"
)

type creatorResult struct {
	email string
	err   error
}

type ownersResult struct {
	members []string
	err     error
}

type grantCall struct {
	org, member, role string
}

// fakeClient replays scripted creator results per project, one per call,
// repeating the last one when the script runs out.
type fakeClient struct {
	mu sync.Mutex

	account    string
	accountErr error
	projects   []gcloud.Project
	listErr    error
	creators   map[string][]creatorResult
	owners     map[string]ownersResult
	grantErr   error

	clock       *fakeClock
	callCost    time.Duration
	onCreator   func(projectID string)
	onOwners    func(projectID string)
	creatorHits map[string]int
	ownerHits   map[string]int
	grants      []grantCall
}

func newFakeClient(projects ...gcloud.Project) *fakeClient {
	return &fakeClient{
		account:     "alice@example.com",
		projects:    projects,
		creators:    map[string][]creatorResult{},
		owners:      map[string]ownersResult{},
		creatorHits: map[string]int{},
		ownerHits:   map[string]int{},
	}
}

func (f *fakeClient) ActiveAccount(context.Context) (string, error) {
	return f.account, f.accountErr
}

func (f *fakeClient) ListProjects(context.Context, string) ([]gcloud.Project, error) {
	return f.projects, f.listErr
}

func (f *fakeClient) ProjectCreator(ctx context.Context, projectID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.clock != nil {
		f.clock.Advance(f.callCost)
	}
	if f.onCreator != nil {
		f.onCreator(projectID)
	}
	if err := ctx.Err(); err != nil {
		f.creatorHits[projectID]++
		return "", err
	}

	script := f.creators[projectID]
	n := f.creatorHits[projectID]
	f.creatorHits[projectID]++
	if len(script) == 0 {
		return "", nil
	}
	if n >= len(script) {
		n = len(script) - 1
	}
	return script[n].email, script[n].err
}

func (f *fakeClient) ProjectOwners(ctx context.Context, projectID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ownerHits[projectID]++
	if f.onOwners != nil {
		f.onOwners(projectID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := f.owners[projectID]
	return r.members, r.err
}

func (f *fakeClient) GrantOrgRole(_ context.Context, org, member, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.grants = append(f.grants, grantCall{org: org, member: member, role: role})
	return f.grantErr
}

func (f *fakeClient) grantCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.grants)
}

func (f *fakeClient) creatorCalls(projectID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creatorHits[projectID]
}

func (f *fakeClient) ownerCalls(projectID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ownerHits[projectID]
}

// fakeClock only moves when told to; Sleep advances it instantly.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) slept() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total time.Duration
	for _, d := range c.sleeps {
		total += d
	}
	return total
}

type memoryReport struct {
	rows   []report.Row
	closed bool
	err    error
}

func (m *memoryReport) WriteRow(row report.Row) error {
	if m.err != nil {
		return m.err
	}
	m.rows = append(m.rows, row)
	return nil
}

func (m *memoryReport) Close() error {
	m.closed = true
	return nil
}

type recordingProgress struct {
	total      int
	updates    []int
	countdowns []time.Duration
	finished   bool
}

func (p *recordingProgress) SetTotal(total int) {
	p.total = total
}

func (p *recordingProgress) Update(completed int) {
	p.updates = append(p.updates, completed)
}

func (p *recordingProgress) Countdown(remaining time.Duration) {
	p.countdowns = append(p.countdowns, remaining)
}

func (p *recordingProgress) Finish() {
	p.finished = true
}

func denied() error {
	return gcloud.Classify("ERROR: (gcloud.logging.read) PERMISSION_DENIED: Permission 'logging.logEntries.list' denied", nil)
}
