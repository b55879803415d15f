// Package signal implements the change-notification bus shared by the
// cache manager (G), the UserOp graph (H), the executor (I), and the RPC
// facade (J) that fans events out to UI clients (spec.md §4.J).
//
// Grounded on the teacher's internal/sync/worker.go WorkerPool: a bounded
// buffered channel per consumer, with a dropped-message counter instead of
// blocking a publisher that a slow subscriber can't keep up with
// (spec.md §4.J: "slow subscribers are dropped after a bounded queue
// fills — no backpressure to producers").
package signal

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/duotree/agent/internal/node"
)

// Type discriminates the signal payloads of spec.md §4.G and §4.J.
type Type int

const (
	NodeUpserted Type = iota
	NodeRemoved
	SubtreeNodesChanged
	TreeLoadStateUpdated
	StatsUpdated
	RootGone
	BatchFailed
	UIEnablementChanged
	SelectionChanged
)

func (t Type) String() string {
	switch t {
	case NodeUpserted:
		return "NODE_UPSERTED"
	case NodeRemoved:
		return "NODE_REMOVED"
	case SubtreeNodesChanged:
		return "SUBTREE_NODES_CHANGED"
	case TreeLoadStateUpdated:
		return "TREE_LOAD_STATE_UPDATED"
	case StatsUpdated:
		return "STATS_UPDATED"
	case RootGone:
		return "ROOT_GONE"
	case BatchFailed:
		return "BATCH_FAILED"
	case UIEnablementChanged:
		return "UI_ENABLEMENT_CHANGED"
	case SelectionChanged:
		return "SELECTION_CHANGED"
	default:
		return "UNKNOWN"
	}
}

// Msg is one event on the bus. Every event carries SigInt (a monotonic
// per-bus sequence number, for client-side dedup/ordering) and Sender
// (the component that published it), per spec.md §6's SignalMsg.
type Msg struct {
	TreeID string
	Type   Type
	SigInt int64
	Sender string

	Node       *node.Node // NODE_UPSERTED
	RemovedUID node.UID   // NODE_REMOVED
	LoadState  string     // TREE_LOAD_STATE_UPDATED
	BatchUID   string     // BATCH_FAILED
	ErrorCode  string     // BATCH_FAILED
	Detail     string     // human-readable message, BATCH_FAILED / ROOT_GONE
}

// subscriberQueueSize bounds each subscriber's channel. When a subscriber's
// queue is full, Publish drops the new message for that subscriber rather
// than blocking the publisher.
const subscriberQueueSize = 256

type subscriber struct {
	treeID  string // empty means "all trees"
	ch      chan Msg
	dropped atomic.Int64
}

// Bus multiplexes published signals to subscribers by tree_id (spec.md
// §4.J: "Multiplexes subscribers by tree_id and signal type").
type Bus struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	seq    atomic.Int64
	logger *slog.Logger
}

// NewBus constructs an empty signal bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{subs: make(map[*subscriber]struct{}), logger: logger}
}

// Subscription is a live subscriber handle returned by Subscribe.
type Subscription struct {
	bus *Bus
	sub *subscriber
}

// C returns the channel to read signals from.
func (s *Subscription) C() <-chan Msg {
	return s.sub.ch
}

// Dropped returns the count of messages this subscriber missed because its
// queue was full.
func (s *Subscription) Dropped() int64 {
	return s.sub.dropped.Load()
}

// Close unsubscribes, releasing the channel.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.sub)
	s.bus.mu.Unlock()
	close(s.sub.ch)
}

// Subscribe registers a new subscriber. An empty treeID subscribes to
// every tree (spec.md §6's subscribe_to_signals with no tree filter).
func (b *Bus) Subscribe(treeID string) *Subscription {
	sub := &subscriber{treeID: treeID, ch: make(chan Msg, subscriberQueueSize)}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return &Subscription{bus: b, sub: sub}
}

// Publish fans msg out to every matching subscriber. msg.SigInt is always
// set here to the bus's next sequence number; msg.Sender is passed through
// as given. Never blocks: a subscriber whose
// queue is full has the message dropped and its counter incremented.
func (b *Bus) Publish(msg Msg) {
	msg.SigInt = b.seq.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		if sub.treeID != "" && sub.treeID != msg.TreeID {
			continue
		}

		select {
		case sub.ch <- msg:
		default:
			sub.dropped.Add(1)
			if b.logger != nil {
				b.logger.Warn("signal subscriber queue full, dropping message",
					"type", msg.Type.String(), "tree_id", msg.TreeID)
			}
		}
	}
}
