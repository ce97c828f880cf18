package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/ticket-monitor/internal/clock"
	"github.com/prohmpiriya/ticket-monitor/internal/domain"
	"github.com/prohmpiriya/ticket-monitor/internal/eventstore"
	"github.com/prohmpiriya/ticket-monitor/internal/repository"
	"github.com/prohmpiriya/ticket-monitor/internal/scraper"
	"github.com/prohmpiriya/ticket-monitor/pkg/kafka"
)

type fakeRunner struct {
	mu      sync.Mutex
	pending map[domain.Platform]int
	calls   atomic.Int64
}

func (r *fakeRunner) RunOnce(ctx context.Context, platform domain.Platform) (bool, error) {
	r.calls.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	if platform == domain.PlatformAXS {
		return false, errors.New("store unavailable")
	}
	if r.pending[platform] == 0 {
		return false, nil
	}
	r.pending[platform]--
	return true, nil
}

func TestScrapeWorker_DrainsEveryPlatform(t *testing.T) {
	runner := &fakeRunner{pending: map[domain.Platform]int{
		domain.PlatformStubHub:  3,
		domain.PlatformSeatGeek: 2,
	}}
	w := NewScrapeWorker(&ScrapeWorkerConfig{
		Platforms:    []domain.Platform{domain.PlatformStubHub, domain.PlatformSeatGeek, domain.PlatformAXS},
		Concurrency:  2,
		PollInterval: 5 * time.Millisecond,
	}, runner, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	require.Eventually(t, func() bool {
		m := w.GetMetrics()
		return m.JobsRun == 5 && m.Errors > 0
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	m := w.GetMetrics()
	assert.Equal(t, int64(5), m.JobsRun)
	assert.False(t, m.LastRunAt.IsZero())
}

type recordingEnqueuer struct {
	mu     sync.Mutex
	active map[string]bool
	calls  []string
}

func (e *recordingEnqueuer) Enqueue(ctx context.Context, platform domain.Platform, eventID domain.EventID, criteria domain.SearchCriteria) (*domain.ScrapingJob, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := string(platform) + ":" + string(eventID)
	e.calls = append(e.calls, key+"|"+criteria.Keywords)
	if e.active[key] {
		return nil, true, nil
	}
	e.active[key] = true
	return &domain.ScrapingJob{Platform: platform, EventID: eventID}, false, nil
}

func TestRefreshScheduler_RunOnce(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(t0)
	store := eventstore.NewMemoryStore()
	events := repository.NewMemorySportsEventRepository(store)
	tickets := repository.NewMemoryTicketRepository(store)

	soon, err := domain.ScheduleSportsEvent(domain.ScheduleEventParams{
		Name: "Title Fight", Category: domain.CategoryOther, EventDate: t0.Add(48 * time.Hour), Venue: "MSG",
	}, t0)
	require.NoError(t, err)
	require.NoError(t, events.Save(ctx, soon))
	past, err := domain.ScheduleSportsEvent(domain.ScheduleEventParams{
		Name: "Old Game", Category: domain.CategoryOther, EventDate: t0.Add(-48 * time.Hour), Venue: "MSG",
	}, t0)
	require.NoError(t, err)
	require.NoError(t, events.Save(ctx, past))

	// a stale ticket on a platform not otherwise refreshed for the event
	src, err := domain.NewPlatformSource(domain.PlatformTickPick, "https://www.tickpick.com/l/9")
	require.NoError(t, err)
	stale, err := domain.DiscoverTicket(domain.DiscoverTicketParams{
		EventID: past.ID(), Price: domain.MustPrice("40", "USD"), Availability: domain.AvailabilityAvailable, Source: src,
	}, t0.Add(-2*time.Hour))
	require.NoError(t, err)
	require.NoError(t, tickets.Save(ctx, stale))

	configs := map[domain.Platform]scraper.PlatformConfig{
		domain.PlatformStubHub:  scraper.DefaultPlatformConfig(domain.PlatformStubHub),
		domain.PlatformTickPick: scraper.DefaultPlatformConfig(domain.PlatformTickPick),
	}
	disabled := scraper.DefaultPlatformConfig(domain.PlatformViagogo)
	disabled.Enabled = false
	configs[domain.PlatformViagogo] = disabled

	enq := &recordingEnqueuer{active: map[string]bool{}}
	s := NewRefreshScheduler(&RefreshSchedulerConfig{
		Platforms:       []domain.Platform{domain.PlatformStubHub, domain.PlatformTickPick, domain.PlatformViagogo},
		Horizon:         7 * 24 * time.Hour,
		FreshnessWindow: 30 * time.Minute,
	}, enq, events, tickets, scraper.NewStaticConfigProvider(configs), clk, nil)

	result, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, RefreshResult{Events: 1, Stale: 1, Enqueued: 3}, result)
	assert.ElementsMatch(t, []string{
		"stubhub:" + string(soon.ID()) + "|Title Fight",
		"tickpick:" + string(soon.ID()) + "|Title Fight",
		"tickpick:" + string(past.ID()) + "|",
	}, enq.calls)

	result, err = s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Coalesced)
	assert.Zero(t, result.Enqueued)
}

type countingProcessor struct {
	backlog atomic.Int64
	calls   atomic.Int64
}

func (p *countingProcessor) ProcessBatch(ctx context.Context) (int, error) {
	p.calls.Add(1)
	if p.backlog.Load() == 0 {
		return 0, nil
	}
	p.backlog.Add(-1)
	return 1, nil
}

func TestPollingWorker_DrainsThenWaits(t *testing.T) {
	p := &countingProcessor{}
	p.backlog.Store(4)
	w := NewPollingWorker("test", 20*time.Millisecond, p, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	require.Eventually(t, func() bool { return p.backlog.Load() == 0 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.GreaterOrEqual(t, p.calls.Load(), int64(5))
}

type fakeSource struct {
	mu        sync.Mutex
	batches   [][]*kafka.Record
	committed []*kafka.Record
}

func (s *fakeSource) Poll(ctx context.Context) ([]*kafka.Record, error) {
	s.mu.Lock()
	if len(s.batches) > 0 {
		batch := s.batches[0]
		s.batches = s.batches[1:]
		s.mu.Unlock()
		return batch, nil
	}
	s.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *fakeSource) CommitRecords(ctx context.Context, records []*kafka.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed = append(s.committed, records...)
	return nil
}

func (s *fakeSource) committedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.committed)
}

type flakyHandler struct {
	mu       sync.Mutex
	failures int
	handled  []string
}

func (h *flakyHandler) Handle(ctx context.Context, evt domain.DomainEvent) ([]domain.DomainEvent, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failures > 0 {
		h.failures--
		return nil, errors.New("rules unavailable")
	}
	h.handled = append(h.handled, evt.EventID)
	return nil, nil
}

func TestAlertConsumer_RetriesAndCommits(t *testing.T) {
	store := eventstore.NewMemoryStore()
	seedTicket(t, store)
	recs, err := store.ReadAll(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	batch := []*kafka.Record{{Topic: "ticket-events", Value: []byte("{not json"), Offset: 0}}
	for i, rec := range recs {
		value, err := json.Marshal(rec.Event)
		require.NoError(t, err)
		batch = append(batch, &kafka.Record{Topic: "ticket-events", Value: value, Offset: int64(i + 1)})
	}
	source := &fakeSource{batches: [][]*kafka.Record{batch}}
	handler := &flakyHandler{failures: 2}

	c := NewAlertConsumer(source, handler, nil)
	c.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	require.Eventually(t, func() bool { return source.committedCount() == 3 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	handler.mu.Lock()
	defer handler.mu.Unlock()
	assert.Equal(t, []string{recs[0].Event.EventID, recs[1].Event.EventID}, handler.handled)
}
