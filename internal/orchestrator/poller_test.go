package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/swarmleads/leadengine/internal/lead"
	"github.com/swarmleads/leadengine/internal/maps"
	"github.com/swarmleads/leadengine/internal/store"
)

type fakeJobs struct {
	mu         sync.Mutex
	pending    []lead.ScrapeJob
	finished   map[uuid.UUID]lead.Status
	results    map[uuid.UUID]int
	processing map[uuid.UUID]bool
}

func newFakeJobs(jobs ...lead.ScrapeJob) *fakeJobs {
	return &fakeJobs{
		pending:    jobs,
		finished:   map[uuid.UUID]lead.Status{},
		results:    map[uuid.UUID]int{},
		processing: map[uuid.UUID]bool{},
	}
}

func (f *fakeJobs) Create(_ context.Context, _ lead.ScrapeJob) error { return nil }

func (f *fakeJobs) Get(_ context.Context, _ uuid.UUID) (lead.ScrapeJob, error) {
	return lead.ScrapeJob{}, store.ErrNotFound
}

func (f *fakeJobs) NextPending(_ context.Context) (*lead.ScrapeJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return nil, nil
	}
	job := f.pending[0]
	f.pending = f.pending[1:]
	return &job, nil
}

func (f *fakeJobs) MarkProcessing(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processing[id] = true
	return nil
}

func (f *fakeJobs) SetResultsFound(_ context.Context, id uuid.UUID, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[id] = n
	return nil
}

func (f *fakeJobs) Finish(_ context.Context, id uuid.UUID, status lead.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished[id] = status
	return nil
}

func (f *fakeJobs) ListResumable(_ context.Context) ([]lead.ScrapeJob, error) { return nil, nil }

func (f *fakeJobs) statusOf(id uuid.UUID) lead.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finished[id]
}

type fakeLeads struct {
	mu        sync.Mutex
	existing  map[string]bool
	created   []lead.Lead
	emails    map[uuid.UUID][]string
	createErr error
}

func newFakeLeads() *fakeLeads {
	return &fakeLeads{existing: map[string]bool{}, emails: map[uuid.UUID][]string{}}
}

func (f *fakeLeads) CreateIfAbsent(_ context.Context, l lead.Lead) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return false, f.createErr
	}
	key := l.Name + "|" + l.Address
	if f.existing[key] {
		return false, nil
	}
	f.existing[key] = true
	f.created = append(f.created, l)
	return true, nil
}

func (f *fakeLeads) SetEmails(_ context.Context, id uuid.UUID, emails []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emails[id] = emails
	return nil
}

func (f *fakeLeads) FailPendingForJob(_ context.Context, _ uuid.UUID) (int64, error) {
	return 0, nil
}

type fakeQueue struct {
	mu        sync.Mutex
	completed map[uuid.UUID]bool
	released  int
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{completed: map[uuid.UUID]bool{}}
}

func (f *fakeQueue) ClaimNext(_ context.Context, _ string) (*lead.Lead, error) { return nil, nil }

func (f *fakeQueue) ReleaseStalled(_ context.Context, _ time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released++
	return 0, nil
}

func (f *fakeQueue) Complete(_ context.Context, id uuid.UUID, success bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[id] = success
	return nil
}

func (f *fakeQueue) FailOrRetry(_ context.Context, _ uuid.UUID, _ int) (lead.Status, error) {
	return lead.StatusPending, nil
}

type fakeCredits struct {
	mu          sync.Mutex
	accounts    map[string]*store.Account
	denials     int
	forceDenial bool
}

func (f *fakeCredits) Deduct(_ context.Context, ownerID string, amount int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct := f.accounts[ownerID]
	if f.forceDenial || acct == nil || acct.Credits < amount {
		f.denials++
		return 0, store.ErrInsufficientCredits
	}
	acct.Credits -= amount
	return acct.Credits, nil
}

func (f *fakeCredits) Account(_ context.Context, ownerID string) (store.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct := f.accounts[ownerID]
	if acct == nil {
		return store.Account{}, store.ErrNotFound
	}
	return *acct, nil
}

func (f *fakeCredits) EnsureAccount(_ context.Context, _ string, _ bool) error { return nil }

type fakeContacts struct {
	mu       sync.Mutex
	inserted []lead.Contact
}

func (f *fakeContacts) Insert(_ context.Context, contacts []lead.Contact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, contacts...)
	return nil
}

// listSource emits a fixed set of leads.
type listSource struct {
	leads []lead.Lead
	err   error
}

func (s *listSource) Discover(_ context.Context, _ lead.ScrapeJob, emit func(lead.Lead) (bool, error)) error {
	if s.err != nil {
		return s.err
	}
	for _, l := range s.leads {
		keepGoing, err := emit(l)
		if err != nil {
			return err
		}
		if !keepGoing {
			return nil
		}
	}
	return nil
}

func discovered(t *testing.T, job lead.ScrapeJob, names ...string) []lead.Lead {
	t.Helper()
	out := make([]lead.Lead, 0, len(names))
	for _, name := range names {
		l, err := lead.NewLead(job.OwnerID, job.ID, name)
		require.NoError(t, err)
		l.Website = "https://" + name + ".ge"
		out = append(out, l)
	}
	return out
}

func newJob(t *testing.T, maxResults int) lead.ScrapeJob {
	t.Helper()
	job, err := lead.NewScrapeJob("tenant-1", "bakeries in tbilisi", maxResults)
	require.NoError(t, err)
	return job
}

func newTestPoller(jobs *fakeJobs, leads *fakeLeads, queue *fakeQueue, credits *fakeCredits, source MapSource) *Poller {
	if credits == nil {
		credits = &fakeCredits{accounts: map[string]*store.Account{}}
	}
	return NewPoller(Config{
		PollInterval:     5 * time.Millisecond,
		FailureThreshold: 3,
		Cooldown:         10 * time.Millisecond,
		StallTimeout:     time.Minute,
	}, jobs, leads, queue, credits, &fakeContacts{}, source, nil, nil, nil)
}

func TestProcessJobCompletesWithResults(t *testing.T) {
	t.Parallel()

	job := newJob(t, 10)
	jobs := newFakeJobs()
	leads := newFakeLeads()
	source := &listSource{leads: discovered(t, job, "bakery-a", "bakery-b", "bakery-c")}

	p := newTestPoller(jobs, leads, newFakeQueue(), nil, source)
	require.NoError(t, p.ProcessJob(context.Background(), job))

	require.Equal(t, lead.StatusCompleted, jobs.statusOf(job.ID))
	require.Equal(t, 3, jobs.results[job.ID])
	require.Len(t, leads.created, 3)
	require.True(t, jobs.processing[job.ID])
}

func TestProcessJobStopsAtMaxResults(t *testing.T) {
	t.Parallel()

	job := newJob(t, 2)
	jobs := newFakeJobs()
	leads := newFakeLeads()
	source := &listSource{leads: discovered(t, job, "a", "b", "c", "d")}

	p := newTestPoller(jobs, leads, newFakeQueue(), nil, source)
	require.NoError(t, p.ProcessJob(context.Background(), job))
	require.Equal(t, 2, jobs.results[job.ID])
	require.Len(t, leads.created, 2)
}

func TestProcessJobSkipsDuplicates(t *testing.T) {
	t.Parallel()

	job := newJob(t, 10)
	jobs := newFakeJobs()
	leads := newFakeLeads()
	ls := discovered(t, job, "bakery-a", "bakery-a", "bakery-b")
	// Same name and empty address collide in the dedup key.
	ls[1].ID = uuid.New()
	source := &listSource{leads: ls}

	p := newTestPoller(jobs, leads, newFakeQueue(), nil, source)
	require.NoError(t, p.ProcessJob(context.Background(), job))
	require.Equal(t, 2, jobs.results[job.ID])
	require.Len(t, leads.created, 2)
}

func TestProcessJobSkipsUnnamedListings(t *testing.T) {
	t.Parallel()

	job := newJob(t, 10)
	jobs := newFakeJobs()
	leads := newFakeLeads()
	credits := &fakeCredits{accounts: map[string]*store.Account{
		"tenant-1": {OwnerID: "tenant-1", Credits: 5, Metered: true},
	}}
	source := &listSource{leads: discovered(t, job, maps.UnknownName, "bakery-a")}

	p := newTestPoller(jobs, leads, newFakeQueue(), credits, source)
	require.NoError(t, p.ProcessJob(context.Background(), job))

	// The unnamed listing is a failed extraction: not persisted, not billed.
	require.Len(t, leads.created, 1)
	require.Equal(t, "bakery-a", leads.created[0].Name)
	require.Equal(t, 1, jobs.results[job.ID])
	require.Equal(t, 4, credits.accounts["tenant-1"].Credits)
}

func TestProcessJobFailsFastWithoutCredits(t *testing.T) {
	t.Parallel()

	job := newJob(t, 10)
	jobs := newFakeJobs()
	leads := newFakeLeads()
	credits := &fakeCredits{accounts: map[string]*store.Account{
		"tenant-1": {OwnerID: "tenant-1", Credits: 0, Metered: true},
	}}
	source := &listSource{leads: discovered(t, job, "never-visited")}

	p := newTestPoller(jobs, leads, newFakeQueue(), credits, source)
	require.NoError(t, p.ProcessJob(context.Background(), job))

	require.Equal(t, lead.StatusFailed, jobs.statusOf(job.ID))
	require.Empty(t, leads.created)
}

func TestProcessJobPartialCompletionOnExhaustion(t *testing.T) {
	t.Parallel()

	job := newJob(t, 10)
	jobs := newFakeJobs()
	leads := newFakeLeads()
	queue := newFakeQueue()
	credits := &fakeCredits{accounts: map[string]*store.Account{
		"tenant-1": {OwnerID: "tenant-1", Credits: 2, Metered: true},
	}}
	source := &listSource{leads: discovered(t, job, "a", "b", "c", "d")}

	p := newTestPoller(jobs, leads, queue, credits, source)
	require.NoError(t, p.ProcessJob(context.Background(), job))

	// Two leads were paid for; the zero-balance deduction stops discovery
	// and the job settles as a partial success.
	require.Equal(t, lead.StatusCompleted, jobs.statusOf(job.ID))
	require.Equal(t, 2, jobs.results[job.ID])
	require.Len(t, leads.created, 2)
	require.Equal(t, 0, credits.accounts["tenant-1"].Credits)
}

func TestProcessJobStopsOnPostDebitZero(t *testing.T) {
	t.Parallel()

	job := newJob(t, 10)
	jobs := newFakeJobs()
	leads := newFakeLeads()
	queue := newFakeQueue()
	credits := &fakeCredits{accounts: map[string]*store.Account{
		"tenant-1": {OwnerID: "tenant-1", Credits: 1, Metered: true},
	}}
	ls := discovered(t, job, "a", "b")
	source := &listSource{leads: ls}

	p := newTestPoller(jobs, leads, queue, credits, source)
	require.NoError(t, p.ProcessJob(context.Background(), job))

	// One paid lead; discovery stops on the post-debit zero before the
	// second lead is ever created.
	require.Equal(t, lead.StatusCompleted, jobs.statusOf(job.ID))
	require.Equal(t, 1, jobs.results[job.ID])
	require.Len(t, leads.created, 1)
}

func TestProcessJobRetiresUnpaidLeadOnDeductRace(t *testing.T) {
	t.Parallel()

	// The upfront check passes but another process drains the balance
	// before the first deduction lands.
	job := newJob(t, 10)
	jobs := newFakeJobs()
	leads := newFakeLeads()
	queue := newFakeQueue()
	credits := &fakeCredits{
		accounts:    map[string]*store.Account{"tenant-1": {OwnerID: "tenant-1", Credits: 5, Metered: true}},
		forceDenial: true,
	}
	source := &listSource{leads: discovered(t, job, "a", "b")}

	p := newTestPoller(jobs, leads, queue, credits, source)
	require.NoError(t, p.ProcessJob(context.Background(), job))

	require.Equal(t, lead.StatusCompleted, jobs.statusOf(job.ID))
	require.Equal(t, 0, jobs.results[job.ID])
	require.Len(t, leads.created, 1)
	require.False(t, queue.completed[leads.created[0].ID])
	require.Contains(t, queue.completed, leads.created[0].ID)
}

func TestProcessJobUnmeteredTenantNeverDebited(t *testing.T) {
	t.Parallel()

	job := newJob(t, 10)
	jobs := newFakeJobs()
	leads := newFakeLeads()
	credits := &fakeCredits{accounts: map[string]*store.Account{
		"tenant-1": {OwnerID: "tenant-1", Credits: 5, Metered: false},
	}}
	source := &listSource{leads: discovered(t, job, "a", "b", "c")}

	p := newTestPoller(jobs, leads, newFakeQueue(), credits, source)
	require.NoError(t, p.ProcessJob(context.Background(), job))

	require.Equal(t, lead.StatusCompleted, jobs.statusOf(job.ID))
	require.Equal(t, 5, credits.accounts["tenant-1"].Credits)
}

func TestProcessJobDiscoveryFailureFailsJob(t *testing.T) {
	t.Parallel()

	job := newJob(t, 10)
	jobs := newFakeJobs()
	source := &listSource{err: errors.New("browser crashed")}

	p := newTestPoller(jobs, newFakeLeads(), newFakeQueue(), nil, source)
	require.Error(t, p.ProcessJob(context.Background(), job))
	require.Equal(t, lead.StatusFailed, jobs.statusOf(job.ID))
}

type inlineEnricher struct {
	mu   sync.Mutex
	seen []uuid.UUID
	fail bool
}

func (e *inlineEnricher) Enrich(_ context.Context, l lead.Lead) ([]string, []lead.Contact, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail {
		return nil, nil, errors.New("crawl failed")
	}
	e.seen = append(e.seen, l.ID)
	return []string{"info@" + l.Name + ".ge"}, []lead.Contact{{LeadID: l.ID, OwnerID: l.OwnerID, Email: "info@" + l.Name + ".ge"}}, nil
}

func TestInlineEnrichmentCompletesLeads(t *testing.T) {
	t.Parallel()

	job := newJob(t, 10)
	jobs := newFakeJobs()
	leads := newFakeLeads()
	queue := newFakeQueue()
	enricher := &inlineEnricher{}
	source := &listSource{leads: discovered(t, job, "bakery-a")}

	p := newTestPoller(jobs, leads, queue, nil, source)
	p.enricher = enricher
	require.NoError(t, p.ProcessJob(context.Background(), job))

	require.Len(t, enricher.seen, 1)
	leadID := leads.created[0].ID
	require.True(t, queue.completed[leadID])
	require.Equal(t, []string{"info@bakery-a.ge"}, leads.emails[leadID])
}

func TestInlineEnrichmentFailureLeavesLeadQueued(t *testing.T) {
	t.Parallel()

	job := newJob(t, 10)
	jobs := newFakeJobs()
	leads := newFakeLeads()
	queue := newFakeQueue()
	source := &listSource{leads: discovered(t, job, "bakery-a")}

	p := newTestPoller(jobs, leads, queue, nil, source)
	p.enricher = &inlineEnricher{fail: true}
	require.NoError(t, p.ProcessJob(context.Background(), job))

	// The job still completes; the lead stays available for workers.
	require.Equal(t, lead.StatusCompleted, jobs.statusOf(job.ID))
	require.Empty(t, queue.completed)
}

func TestRunProcessesPendingJobAndStops(t *testing.T) {
	t.Parallel()

	job := newJob(t, 10)
	jobs := newFakeJobs(job)
	leads := newFakeLeads()
	source := &listSource{leads: discovered(t, job, "a")}

	p := newTestPoller(jobs, leads, newFakeQueue(), nil, source)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		return jobs.statusOf(job.ID) == lead.StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestRunCoolsDownAfterRepeatedFailures(t *testing.T) {
	t.Parallel()

	var failing []lead.ScrapeJob
	for i := 0; i < 4; i++ {
		failing = append(failing, newJob(t, 5))
	}
	jobs := newFakeJobs(failing...)
	source := &listSource{err: errors.New("always down")}

	p := newTestPoller(jobs, newFakeLeads(), newFakeQueue(), nil, source)
	p.cfg.Cooldown = 250 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	// Three failures trip the breaker; the fourth job must wait out the
	// cooldown instead of being polled immediately.
	require.Eventually(t, func() bool {
		jobs.mu.Lock()
		defer jobs.mu.Unlock()
		return len(jobs.finished) == 3
	}, 2*time.Second, 5*time.Millisecond)

	jobs.mu.Lock()
	remaining := len(jobs.pending)
	jobs.mu.Unlock()
	require.Equal(t, 1, remaining)

	require.Eventually(t, func() bool {
		jobs.mu.Lock()
		defer jobs.mu.Unlock()
		return len(jobs.finished) == 4
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
