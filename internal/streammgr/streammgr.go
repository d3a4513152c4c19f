// Package streammgr implements StreamManager (spec.md §4.10): the
// per-request append-only stream log plus live SSE frame fan-out to
// in-flight subscribers. Persistence batching is already provided by
// internal/store.Store.AppendStreamEntry/FlushStreamEntries; this package
// adds sequence assignment, SSE frame construction, and the live pub/sub
// needed by the HTTP layer's "wait=true"/stream/tail endpoints, grounded on
// the teacher's buffered channel backpressure pattern
// (llm/streaming/backpressure.go) adapted from an LLM token-chunk buffer to
// a per-request broadcast channel.
package streammgr

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/agentflow/internal/store"
	"github.com/BaSui01/agentflow/types"
)

// subscriberBuffer bounds how many frames a slow subscriber can lag behind
// before frames are dropped for it (the log in the store remains complete).
const subscriberBuffer = 64

// Manager owns the live per-request broadcast channels and assigns
// monotonic sequence numbers before handing entries to the store.
type Manager struct {
	store *store.Store

	mu   sync.Mutex
	subs map[string][]chan types.SSEFrame
	seq  map[string]*int64
}

// New creates a Manager bound to a Store for persistence.
func New(s *store.Store) *Manager {
	return &Manager{
		store: s,
		subs:  make(map[string][]chan types.SSEFrame),
		seq:   make(map[string]*int64),
	}
}

func (m *Manager) nextSeq(requestID string) int64 {
	m.mu.Lock()
	counter, ok := m.seq[requestID]
	if !ok {
		var c int64
		counter = &c
		m.seq[requestID] = counter
	}
	m.mu.Unlock()
	return atomic.AddInt64(counter, 1) - 1
}

// Append records one stream entry, assigns it the next sequence number for
// its request, persists it via the store's batched writer, and broadcasts
// the corresponding SSE frame to any live subscribers.
func (m *Manager) Append(ctx context.Context, requestID string, entryType types.StreamEntryType, content string) error {
	entry := types.StreamEntry{
		RequestID: requestID,
		Seq:       m.nextSeq(requestID),
		Type:      entryType,
		Content:   content,
		Timestamp: time.Now(),
	}
	if err := m.store.AppendStreamEntry(ctx, entry); err != nil {
		return err
	}
	m.broadcast(requestID, toFrame(entry, false))
	return nil
}

// Complete records the terminal "complete" entry and marks its frame final,
// closing out any live subscribers for the request.
func (m *Manager) Complete(ctx context.Context, requestID string, success bool, elapsedMs int64) error {
	entry := types.StreamEntry{
		RequestID: requestID,
		Seq:       m.nextSeq(requestID),
		Type:      types.StreamComplete,
		Timestamp: time.Now(),
		Success:   success,
		ElapsedMs: elapsedMs,
	}
	if err := m.store.AppendStreamEntry(ctx, entry); err != nil {
		return err
	}
	m.broadcast(requestID, toFrame(entry, true))
	m.closeSubscribers(requestID)
	return nil
}

func toFrame(e types.StreamEntry, isFinal bool) types.SSEFrame {
	return types.SSEFrame{
		RequestID: e.RequestID,
		Index:     e.Seq,
		Type:      e.Type,
		Content:   e.Content,
		IsFinal:   isFinal,
	}
}

// Subscribe returns a channel of live SSE frames for requestID. Callers
// must call the returned cancel func when done reading (e.g. on client
// disconnect) to release the channel.
func (m *Manager) Subscribe(requestID string) (<-chan types.SSEFrame, func()) {
	ch := make(chan types.SSEFrame, subscriberBuffer)

	m.mu.Lock()
	m.subs[requestID] = append(m.subs[requestID], ch)
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		chans := m.subs[requestID]
		for i, c := range chans {
			if c == ch {
				m.subs[requestID] = append(chans[:i], chans[i+1:]...)
				close(ch)
				break
			}
		}
	}
	return ch, cancel
}

func (m *Manager) broadcast(requestID string, frame types.SSEFrame) {
	m.mu.Lock()
	chans := append([]chan types.SSEFrame(nil), m.subs[requestID]...)
	m.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- frame:
		default:
			// slow subscriber; drop the frame rather than block the pipeline
		}
	}
}

func (m *Manager) closeSubscribers(requestID string) {
	m.mu.Lock()
	chans := m.subs[requestID]
	delete(m.subs, requestID)
	delete(m.seq, requestID)
	m.mu.Unlock()

	for _, ch := range chans {
		close(ch)
	}
}

// Tail returns the full persisted log for a request, for the
// /api/stream/{id}/tail endpoint.
func (m *Manager) Tail(ctx context.Context, requestID string) ([]*types.StreamEntry, error) {
	return m.store.StreamEntriesForRequest(ctx, requestID)
}

// SearchThinking proxies the store's thinking-content search.
func (m *Manager) SearchThinking(ctx context.Context, query string) ([]*types.StreamEntry, error) {
	return m.store.SearchThinking(ctx, query)
}

// Flush forces any buffered entries to persist, used on shutdown.
func (m *Manager) Flush(ctx context.Context) error {
	return m.store.FlushStreamEntries(ctx)
}
