// Package signature implements the per-device signature calculator
// (spec.md §4.D): a single worker consuming a priority queue of local
// files needing MD5/SHA256, batched by byte count and paced by a sleep
// between batches.
//
// Grounded on the teacher's internal/sync/worker.go WorkerPool for the
// cancellation/panic-recovery shape and its sleepFunc-as-a-field pattern
// (internal/graph/client.go) for injectable backoff in tests. Hashing uses
// the standard library's crypto/md5 and crypto/sha256: spec.md §3/§4.D
// name these two algorithms literally, so there is no third-party
// "signature algorithm" library to wire here — only a vendor-specific one
// (pkg/xorhash) that a cloud driver may additionally report.
package signature

import (
	"container/heap"
	"context"
	"crypto/md5"  //nolint:gosec // content fingerprint, not a security boundary
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/duotree/agent/internal/node"
	"github.com/duotree/agent/internal/signal"
	"github.com/duotree/agent/internal/store"
)

// Job describes one file awaiting a signature computation.
type Job struct {
	NodeUID   node.UID
	Path      string
	SizeBytes int64
	ModifyTS  int64
	Priority  int // lower runs first
}

// Queue is a min-heap of pending Jobs ordered by Priority, then by
// insertion order for equal priorities (FIFO tie-break via seq).
type Queue struct {
	mu    sync.Mutex
	items jobHeap
	seq   int64
}

// NewQueue returns an empty signature job queue.
func NewQueue() *Queue {
	q := &Queue{}
	heap.Init(&q.items)

	return q
}

// Push enqueues a job.
func (q *Queue) Push(j Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	heap.Push(&q.items, jobEntry{job: j, seq: q.seq})
}

// Pop removes and returns the highest-priority job, or ok=false if empty.
func (q *Queue) Pop() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Len() == 0 {
		return Job{}, false
	}

	e := heap.Pop(&q.items).(jobEntry) //nolint:errcheck // heap.Pop's element type is always jobEntry here

	return e.job, true
}

// Len reports the number of pending jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.items.Len()
}

type jobEntry struct {
	job Job
	seq int64
}

type jobHeap []jobEntry

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority < h[j].job.Priority
	}

	return h[i].seq < h[j].seq
}
func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x any)   { *h = append(*h, x.(jobEntry)) } //nolint:forcetypeassert
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]

	return item
}

// Calculator is the component D worker for one device.
type Calculator struct {
	store  store.Store
	bus    *signal.Bus
	treeID string
	queue  *Queue
	logger *slog.Logger

	bytesPerBatchHighWatermark int64
	batchInterval              time.Duration

	// sleepFunc is the injectable pacing delay between batches, mirroring
	// the teacher's graph.Client.sleepFunc test-injection point.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// Config bundles Calculator's tunables, sourced from
// config.TransfersConfig.
type Config struct {
	BytesPerBatchHighWatermark int64
	BatchInterval              time.Duration
}

// New constructs a Calculator for one device's cache store.
func New(st store.Store, bus *signal.Bus, treeID string, cfg Config, logger *slog.Logger) *Calculator {
	return &Calculator{
		store:                      st,
		bus:                        bus,
		treeID:                     treeID,
		queue:                      NewQueue(),
		logger:                     logger,
		bytesPerBatchHighWatermark: cfg.BytesPerBatchHighWatermark,
		batchInterval:              cfg.BatchInterval,
		sleepFunc:                  defaultSleep,
	}
}

// Enqueue adds a job to the pending queue. Safe to call concurrently with Run.
func (c *Calculator) Enqueue(j Job) {
	c.queue.Push(j)
}

// Run drains the queue until ctx is cancelled, computing signatures in
// byte-bounded batches and sleeping BatchInterval between them
// (spec.md §4.D). Cancellation is checked between files, never mid-file.
func (c *Calculator) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		did, err := c.runBatch(ctx)
		if err != nil {
			return err
		}

		if !did {
			// Nothing to do; back off briefly rather than spin.
			if err := c.sleepFunc(ctx, c.batchInterval); err != nil {
				return err
			}

			continue
		}

		if err := c.sleepFunc(ctx, c.batchInterval); err != nil {
			return err
		}
	}
}

// runBatch processes jobs up to bytesPerBatchHighWatermark, returning
// whether any job was processed.
func (c *Calculator) runBatch(ctx context.Context) (bool, error) {
	var batchBytes int64

	processed := false

	for batchBytes < c.bytesPerBatchHighWatermark {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}

		j, ok := c.queue.Pop()
		if !ok {
			break
		}

		if err := c.processJob(ctx, j); err != nil {
			c.logger.Warn("signature computation failed", "path", j.Path, "error", err)
		}

		processed = true
		batchBytes += j.SizeBytes
	}

	return processed, nil
}

// processJob hashes one file unless its cached signature still matches
// (size, modify_ts), then upserts the signature and emits NODE_UPSERTED.
func (c *Calculator) processJob(ctx context.Context, j Job) error {
	cached, err := c.store.GetSignature(ctx, j.NodeUID)
	if err != nil {
		return fmt.Errorf("signature: loading cached signature: %w", err)
	}

	if cached != nil && cached.SizeBytes == j.SizeBytes && cached.ModifyTS == j.ModifyTS {
		c.logger.Debug("signature unchanged, skipping hash", "path", j.Path)

		return nil
	}

	md5Sum, sha256Sum, err := hashFile(j.Path)
	if err != nil {
		return fmt.Errorf("signature: hashing %s: %w", j.Path, err)
	}

	sig := &store.Signature{
		NodeUID:    j.NodeUID,
		SizeBytes:  j.SizeBytes,
		ModifyTS:   j.ModifyTS,
		MD5:        md5Sum,
		SHA256:     sha256Sum,
		ComputedAt: time.Now().UnixNano(),
	}

	if err := c.store.SaveSignature(ctx, sig); err != nil {
		return fmt.Errorf("signature: saving signature for %s: %w", j.Path, err)
	}

	n, err := c.store.GetNode(ctx, j.NodeUID)
	if err != nil {
		return fmt.Errorf("signature: reloading node %d: %w", j.NodeUID, err)
	}

	if n != nil {
		n.MD5 = md5Sum
		n.SHA256 = sha256Sum

		if err := c.store.UpsertBatch(ctx, []*node.Node{n}); err != nil {
			return fmt.Errorf("signature: upserting hashed node: %w", err)
		}

		c.bus.Publish(signal.Msg{TreeID: c.treeID, Type: signal.NodeUpserted, Sender: "signature", Node: n})
	}

	return nil
}

// hashFile streams a file through MD5 and SHA256 simultaneously via
// io.MultiWriter, reading the file exactly once.
func hashFile(path string) (md5Hex, sha256Hex string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", err
	}
	defer f.Close()

	md5h := md5.New()
	sha256h := sha256.New()

	if _, err := io.Copy(io.MultiWriter(md5h, sha256h), f); err != nil {
		return "", "", err
	}

	return hex.EncodeToString(md5h.Sum(nil)), hex.EncodeToString(sha256h.Sum(nil)), nil
}

// defaultSleep is the production sleepFunc: waits d or returns ctx.Err()
// if cancelled first, mirroring the teacher's graph.Client.timeSleep.
func defaultSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
