package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	queueadapter "github.com/LTPPPP/BrainStormEra-v2-sub002/internal/infrastructure/queue/adapter"
	"github.com/LTPPPP/BrainStormEra-v2-sub002/internal/infrastructure/queue/port"
	chat "github.com/LTPPPP/BrainStormEra-v2-sub002/internal/pkg/chat/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRepo is an in-memory ChatRepository with failure injection and a
// concurrency gauge on SaveMessage.
type fakeRepo struct {
	mu            sync.Mutex
	conversations map[string]*chat.Conversation
	messages      map[string]chat.Message
	updates       int
	saveFailures  map[string]int // message id -> failures left
	updateFails   int            // UpdateConversation failures left
	failAllSaves  bool
	saveDelay     time.Duration
	inFlight      int
	peakInFlight  int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		conversations: make(map[string]*chat.Conversation),
		messages:      make(map[string]chat.Message),
		saveFailures:  make(map[string]int),
	}
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

func (r *fakeRepo) GetOrCreateConversation(_ context.Context, userA, userB string) (*chat.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := pairKey(userA, userB)
	if c, ok := r.conversations[key]; ok {
		copied := *c
		return &copied, nil
	}
	now := time.Now().UTC()
	c := &chat.Conversation{ID: uuid.NewString(), CreatedAt: now, UpdatedAt: now}
	r.conversations[key] = c
	copied := *c
	return &copied, nil
}

func (r *fakeRepo) SaveMessage(ctx context.Context, m chat.Message) error {
	r.mu.Lock()
	r.inFlight++
	if r.inFlight > r.peakInFlight {
		r.peakInFlight = r.inFlight
	}
	delay := r.saveDelay
	r.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.inFlight--

	if r.failAllSaves {
		return errors.New("storage down")
	}
	if left := r.saveFailures[m.ID]; left > 0 {
		r.saveFailures[m.ID] = left - 1
		return fmt.Errorf("transient save failure for %s", m.ID)
	}
	if _, exists := r.messages[m.ID]; !exists {
		r.messages[m.ID] = m
	}
	return nil
}

func (r *fakeRepo) UpdateConversation(_ context.Context, c chat.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateFails > 0 {
		r.updateFails--
		return errors.New("transient update failure")
	}
	r.updates++
	for key, existing := range r.conversations {
		if existing.ID == c.ID {
			copied := c
			r.conversations[key] = &copied
			return nil
		}
	}
	return errors.New("conversation not found")
}

func (r *fakeRepo) GetMessageByID(_ context.Context, messageID string) (*chat.PersistedMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[messageID]
	if !ok {
		return nil, nil
	}
	return &chat.PersistedMessage{Message: m, SenderName: "Sender " + m.SenderID}, nil
}

func (r *fakeRepo) savedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func (r *fakeRepo) peak() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peakInFlight
}

// fakeDLQ records dead-lettered messages.
type fakeDLQ struct {
	mu      sync.Mutex
	entries []string
}

func (d *fakeDLQ) Add(_ context.Context, m chat.Message, _ int, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, m.ID)
	return nil
}

func (d *fakeDLQ) recorded() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.entries...)
}

// fakeSink records pushed events.
type sinkEvent struct {
	UserID string
	Event  string
}

type fakeSink struct {
	mu     sync.Mutex
	events []sinkEvent
	err    error
}

func (s *fakeSink) PushToUser(userID, event string, _ any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, sinkEvent{UserID: userID, Event: event})
	return nil
}

func (s *fakeSink) count(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Event == event {
			n++
		}
	}
	return n
}

// recordingStore wraps a Store and counts MarkProcessed calls.
type recordingStore struct {
	port.Store
	mu            sync.Mutex
	markProcessed []string
}

func (s *recordingStore) MarkProcessed(ctx context.Context, item port.Item) error {
	s.mu.Lock()
	s.markProcessed = append(s.markProcessed, item.Message.ID)
	s.mu.Unlock()
	return s.Store.MarkProcessed(ctx, item)
}

func (s *recordingStore) markedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.markProcessed)
}

func fastOptions() Options {
	return Options{
		BatchSize:      100,
		MaxConcurrency: 10,
		MaxAttempts:    3,
		AttemptDelay:   time.Millisecond,
		CycleDelay:     time.Millisecond,
		ErrorCooldown:  time.Millisecond,
		BackoffBase:    time.Millisecond,
	}
}

func enqueueMessages(t *testing.T, q port.Store, n int) []chat.Message {
	t.Helper()
	msgs := make([]chat.Message, 0, n)
	for i := 0; i < n; i++ {
		m, err := chat.NewOutgoingMessage("user-1", "user-2", fmt.Sprintf("message %d", i), nil)
		require.NoError(t, err)
		require.NoError(t, q.Enqueue(context.Background(), port.NewItem(*m)))
		msgs = append(msgs, *m)
	}
	return msgs
}

func TestDispatcher_DeliversBatch(t *testing.T) {
	store := &recordingStore{Store: queueadapter.NewMemoryQueue()}
	repo := newFakeRepo()
	dlq := &fakeDLQ{}
	sink := &fakeSink{}
	d := NewDispatcher(store, repo, dlq, sink, discardLogger(), fastOptions())

	enqueueMessages(t, store, 3)
	require.NoError(t, d.runCycle(context.Background()))

	assert.Equal(t, 3, repo.savedCount())
	assert.Equal(t, 3, repo.updates)
	assert.Equal(t, 3, sink.count(EventMessageDelivered))
	assert.Equal(t, 3, sink.count(EventMessageConfirmed))
	assert.Equal(t, 3, store.markedCount())
	assert.Empty(t, dlq.recorded())

	size, err := store.Size(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, size)
}

func TestDispatcher_StampsConversationBeforePersist(t *testing.T) {
	store := queueadapter.NewMemoryQueue()
	repo := newFakeRepo()
	sink := &fakeSink{}
	d := NewDispatcher(store, repo, &fakeDLQ{}, sink, discardLogger(), fastOptions())

	msgs := enqueueMessages(t, store, 1)
	require.NoError(t, d.runCycle(context.Background()))

	repo.mu.Lock()
	saved := repo.messages[msgs[0].ID]
	conv := repo.conversations[pairKey("user-1", "user-2")]
	repo.mu.Unlock()

	assert.Equal(t, conv.ID, saved.ConversationID)
	require.NotNil(t, conv.LastMessageID)
	assert.Equal(t, msgs[0].ID, *conv.LastMessageID)
	require.NotNil(t, conv.LastMessageAt)
}

func TestDispatcher_BothDirectionsConvergeOnOneConversation(t *testing.T) {
	store := queueadapter.NewMemoryQueue()
	repo := newFakeRepo()
	d := NewDispatcher(store, repo, &fakeDLQ{}, &fakeSink{}, discardLogger(), fastOptions())

	// Alternate sender and receiver so the batch carries (A,B) and (B,A)
	// messages that get processed concurrently within the cycle.
	for i := 0; i < 10; i++ {
		sender, receiver := "user-1", "user-2"
		if i%2 == 1 {
			sender, receiver = receiver, sender
		}
		m, err := chat.NewOutgoingMessage(sender, receiver, fmt.Sprintf("message %d", i), nil)
		require.NoError(t, err)
		require.NoError(t, store.Enqueue(context.Background(), port.NewItem(*m)))
	}

	require.NoError(t, d.runCycle(context.Background()))
	assert.Equal(t, 10, repo.savedCount())

	repo.mu.Lock()
	assert.Len(t, repo.conversations, 1, "unordered pair maps to one conversation")
	conv := repo.conversations[pairKey("user-1", "user-2")]
	stamped := make(map[string]int)
	for _, m := range repo.messages {
		stamped[m.ConversationID]++
	}
	repo.mu.Unlock()

	require.NotNil(t, conv)
	assert.Equal(t, map[string]int{conv.ID: 10}, stamped, "every saved message carries the shared conversation id")
}

func TestDispatcher_EmptyQueueIsNotAnError(t *testing.T) {
	store := queueadapter.NewMemoryQueue()
	d := NewDispatcher(store, newFakeRepo(), &fakeDLQ{}, &fakeSink{}, discardLogger(), fastOptions())

	assert.NoError(t, d.runCycle(context.Background()))
}

func TestDispatcher_RetriesWithinCycle(t *testing.T) {
	store := queueadapter.NewMemoryQueue()
	repo := newFakeRepo()
	sink := &fakeSink{}
	d := NewDispatcher(store, repo, &fakeDLQ{}, sink, discardLogger(), fastOptions())

	msgs := enqueueMessages(t, store, 1)
	repo.saveFailures[msgs[0].ID] = 2 // fails twice, succeeds on the third in-cycle attempt

	require.NoError(t, d.runCycle(context.Background()))

	assert.Equal(t, 1, repo.savedCount())
	assert.Equal(t, 1, sink.count(EventMessageDelivered))

	size, err := store.Size(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, size, "recovered item must not be re-enqueued")
}

func TestDispatcher_RetryIsIdempotentPerMessage(t *testing.T) {
	store := queueadapter.NewMemoryQueue()
	repo := newFakeRepo()
	d := NewDispatcher(store, repo, &fakeDLQ{}, &fakeSink{}, discardLogger(), fastOptions())

	// UpdateConversation failing after a successful save forces the whole
	// attempt to repeat; the repeated SaveMessage must not duplicate the row.
	enqueueMessages(t, store, 1)
	repo.updateFails = 1

	require.NoError(t, d.runCycle(context.Background()))
	assert.Equal(t, 1, repo.savedCount())
	assert.Equal(t, 1, repo.updates)
}

func TestDispatcher_FailedItemRequeuedWithIncrementedAttempts(t *testing.T) {
	store := queueadapter.NewMemoryQueue()
	repo := newFakeRepo()
	repo.failAllSaves = true
	d := NewDispatcher(store, repo, &fakeDLQ{}, &fakeSink{}, discardLogger(), fastOptions())

	enqueueMessages(t, store, 1)
	require.NoError(t, d.runCycle(context.Background()))

	item, err := store.DequeueOne(context.Background())
	require.NoError(t, err)
	require.NotNil(t, item, "failed item must re-enter the queue")
	assert.Equal(t, 1, item.Attempts)
	assert.Equal(t, "message 0", item.Message.Content, "retry bookkeeping must not touch content")
}

func TestDispatcher_BackoffDelayGrowsPerAttempt(t *testing.T) {
	opts := fastOptions()
	opts.BackoffBase = 25 * time.Millisecond

	store := queueadapter.NewMemoryQueue()
	repo := newFakeRepo()
	repo.failAllSaves = true
	d := NewDispatcher(store, repo, &fakeDLQ{}, &fakeSink{}, discardLogger(), opts)

	enqueueMessages(t, store, 1)

	start := time.Now()
	require.NoError(t, d.runCycle(context.Background()))
	firstCycle := time.Since(start)
	assert.GreaterOrEqual(t, firstCycle, 25*time.Millisecond, "first re-enqueue waits backoffBase")

	start = time.Now()
	require.NoError(t, d.runCycle(context.Background()))
	secondCycle := time.Since(start)
	assert.GreaterOrEqual(t, secondCycle, 50*time.Millisecond, "second re-enqueue waits 2*backoffBase")
}

func TestDispatcher_DeadLetterIsTerminal(t *testing.T) {
	store := &recordingStore{Store: queueadapter.NewMemoryQueue()}
	repo := newFakeRepo()
	repo.failAllSaves = true
	dlq := &fakeDLQ{}
	d := NewDispatcher(store, repo, dlq, &fakeSink{}, discardLogger(), fastOptions())

	msgs := enqueueMessages(t, store, 1)

	// MaxAttempts failing cycles, then the dead-letter cycle.
	for i := 0; i < 4; i++ {
		require.NoError(t, d.runCycle(context.Background()))
	}

	recorded := dlq.recorded()
	require.Len(t, recorded, 1, "dead-lettered exactly once")
	assert.Equal(t, msgs[0].ID, recorded[0])

	size, err := store.Size(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, size, "dead-lettered item never re-enters the queue")

	// Further cycles find nothing and change nothing.
	require.NoError(t, d.runCycle(context.Background()))
	assert.Len(t, dlq.recorded(), 1)
}

func TestDispatcher_BoundedConcurrency(t *testing.T) {
	opts := fastOptions()
	opts.BatchSize = 250
	opts.MaxConcurrency = 10

	store := queueadapter.NewMemoryQueue()
	repo := newFakeRepo()
	repo.saveDelay = 2 * time.Millisecond
	d := NewDispatcher(store, repo, &fakeDLQ{}, &fakeSink{}, discardLogger(), opts)

	enqueueMessages(t, store, 250)
	require.NoError(t, d.runCycle(context.Background()))

	assert.Equal(t, 250, repo.savedCount())
	assert.LessOrEqual(t, repo.peak(), 10, "no more than maxConcurrency items in flight")
	assert.Greater(t, repo.peak(), 1, "processing should actually overlap")
}

func TestDispatcher_NotificationFailureIsNotFatal(t *testing.T) {
	store := queueadapter.NewMemoryQueue()
	repo := newFakeRepo()
	sink := &fakeSink{err: errors.New("socket gone")}
	dlq := &fakeDLQ{}
	d := NewDispatcher(store, repo, dlq, sink, discardLogger(), fastOptions())

	enqueueMessages(t, store, 2)
	require.NoError(t, d.runCycle(context.Background()))

	assert.Equal(t, 2, repo.savedCount())
	assert.Empty(t, dlq.recorded())

	size, err := store.Size(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, size, "persistence success is the sole success criterion")
}

// erroringStore fails the drain a fixed number of times, then delegates.
type erroringStore struct {
	port.Store
	mu        sync.Mutex
	failures  int
	drainSeen int
}

func (s *erroringStore) DequeueBatch(ctx context.Context, max int) ([]port.Item, error) {
	s.mu.Lock()
	s.drainSeen++
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()
	if fail {
		return nil, errors.New("backend unreachable")
	}
	return s.Store.DequeueBatch(ctx, max)
}

func (s *erroringStore) drains() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drainSeen
}

func TestDispatcher_RunSurvivesBackendOutage(t *testing.T) {
	store := &erroringStore{Store: queueadapter.NewMemoryQueue(), failures: 2}
	repo := newFakeRepo()
	d := NewDispatcher(store, repo, &fakeDLQ{}, &fakeSink{}, discardLogger(), fastOptions())

	enqueueMessages(t, store, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return repo.savedCount() == 1
	}, 2*time.Second, 5*time.Millisecond, "loop recovers from drain failures and delivers")
	assert.GreaterOrEqual(t, store.drains(), 3)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop on cancellation")
	}
}

func TestDispatcher_RunStopsPromptlyDuringCooldown(t *testing.T) {
	opts := fastOptions()
	opts.ErrorCooldown = time.Minute // cancellation must cut this short

	store := &erroringStore{Store: queueadapter.NewMemoryQueue(), failures: 1000}
	d := NewDispatcher(store, newFakeRepo(), &fakeDLQ{}, &fakeSink{}, discardLogger(), opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return store.drains() >= 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cancellation during cooldown did not abort the wait")
	}
}
