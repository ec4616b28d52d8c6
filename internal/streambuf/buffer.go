// Package streambuf implements the Streaming Buffer of spec §4.2: a
// per-msgId coalescing layer in front of the storage layer that reduces
// write amplification of token-by-token text streams.
package streambuf

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/agentcore/deskrt/internal/storage"
	"github.com/agentcore/deskrt/pkg/deskrt/message"
)

// Mode selects how a chunk combines with the entry's accumulated content.
type Mode int

const (
	// Accumulate appends the chunk to the existing content.
	Accumulate Mode = iota
	// Replace overwrites the existing content with the chunk.
	Replace
)

const (
	// DefaultBatch is the chunk-count flush trigger (spec §4.2).
	DefaultBatch = 20
	// DefaultInterval is the elapsed-time flush trigger (spec §4.2).
	DefaultInterval = 300 * time.Millisecond
)

type entry struct {
	mu        sync.Mutex
	content   string
	count     int
	lastFlush time.Time
	timer     *time.Timer
	rowID     string
	convID    string
	mode      Mode
}

// Buffer coalesces append() calls per msgId and flushes to Store on a
// count-or-interval trigger, whichever comes first. One lock guards the
// entries map; a second lock (per entry) guards that entry's mutable state,
// so concurrent appends to different msgIds never contend.
type Buffer struct {
	store    *storage.Store
	batch    int
	interval time.Duration

	mu      sync.Mutex
	entries map[string]*entry // key: msgId
}

// New creates a Buffer flushing to store with the given batch/interval
// thresholds. Zero values fall back to DefaultBatch/DefaultInterval.
func New(store *storage.Store, batch int, interval time.Duration) *Buffer {
	if batch <= 0 {
		batch = DefaultBatch
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Buffer{store: store, batch: batch, interval: interval, entries: make(map[string]*entry)}
}

// Append adds chunk to the entry for msgId, creating it on first call, and
// flushes immediately when the count threshold is crossed or the interval
// has elapsed since the last flush; otherwise it (re)arms a timer so a
// stalled stream still flushes eventually.
func (b *Buffer) Append(ctx context.Context, rowID, msgID, convID, chunk string, mode Mode) {
	if b == nil || msgID == "" {
		return
	}
	b.mu.Lock()
	e, ok := b.entries[msgID]
	if !ok {
		e = &entry{rowID: rowID, convID: convID, mode: mode, lastFlush: time.Now()}
		b.entries[msgID] = e
	}
	b.mu.Unlock()

	e.mu.Lock()
	switch mode {
	case Replace:
		e.content = chunk
	default:
		e.content += chunk
	}
	e.count++
	e.mode = mode
	countTrigger := e.count%b.batch == 0
	elapsedTrigger := time.Since(e.lastFlush) > b.interval
	shouldFlush := countTrigger || elapsedTrigger

	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if !shouldFlush {
		e.timer = time.AfterFunc(b.interval, func() { b.flushTimer(ctx, msgID) })
	}
	e.mu.Unlock()

	if shouldFlush {
		b.flush(ctx, msgID, e)
	}
}

func (b *Buffer) flushTimer(ctx context.Context, msgID string) {
	b.mu.Lock()
	e := b.entries[msgID]
	b.mu.Unlock()
	if e == nil {
		return
	}
	b.flush(ctx, msgID, e)
}

// flush writes the entry's current content to storage via the
// getMessageByMsgId + update/insert upsert described in spec §4.2. Flush
// errors are logged and do not drop the in-memory entry so the next append
// retries the upsert.
func (b *Buffer) flush(ctx context.Context, msgID string, e *entry) {
	e.mu.Lock()
	content := e.content
	convID := e.convID
	rowID := e.rowID
	e.lastFlush = time.Now()
	e.mu.Unlock()

	existing, err := b.store.GetMessageByMsgID(ctx, convID, msgID)
	if err != nil {
		// Not found -> first flush for this msgId: insert.
		m := message.Message{
			ID:             rowID,
			ConversationID: convID,
			MsgID:          msgID,
			Type:           message.TypeText,
			Content:        message.TextContent{Content: content},
			Position:       message.PositionLeft,
			Status:         message.StatusWork,
		}
		if insertErr := b.store.InsertMessage(ctx, m); insertErr != nil {
			log.Printf("streambuf: flush insert failed for msgId=%s: %v", msgID, insertErr)
		}
		return
	}
	existing.Content = message.TextContent{Content: content}
	if updErr := b.store.UpdateMessage(ctx, existing.ID, existing); updErr != nil {
		log.Printf("streambuf: flush update failed for msgId=%s: %v", msgID, updErr)
	}
}

// Finalize marks the entry's final status and performs a terminal flush.
// The in-memory entry is left in place (ordinary flushes never delete it)
// so late-arriving chunks after a "finish" signal can still be appended.
func (b *Buffer) Finalize(ctx context.Context, msgID string, status message.Status) {
	b.mu.Lock()
	e := b.entries[msgID]
	b.mu.Unlock()
	if e == nil {
		return
	}
	b.flush(ctx, msgID, e)
	existing, err := b.store.GetMessageByMsgID(ctx, e.convID, msgID)
	if err != nil {
		return
	}
	existing.Status = status
	if err := b.store.UpdateMessage(ctx, existing.ID, existing); err != nil {
		log.Printf("streambuf: finalize status update failed for msgId=%s: %v", msgID, err)
	}
}
