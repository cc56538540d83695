package services

import (
	"context"
	"fmt"
	"log"
	"sync"

	"docsync/internal/models"
)

// Persister reconciles the rooms' in-memory authoritative state with
// the document store, write-behind: rooms mark a document dirty with
// their latest full state and a fixed worker pool drains the dirty set.
// Workers always persist the newest marked state for a document while
// holding that document's write lock, so per-document writes can never
// reach the store out of order no matter how jobs interleave.
type Persister struct {
	docs DocumentRepository

	mu      sync.Mutex
	dirty   map[string]models.DocumentState // documentID -> latest unpersisted state
	queued  map[string]bool                 // documentID already has a pending job
	writeMu map[string]*sync.Mutex          // documentID -> write lock

	jobs    chan string
	workers int
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewPersister creates the pool without starting it.
func NewPersister(docs DocumentRepository, workers, queueSize int) *Persister {
	ctx, cancel := context.WithCancel(context.Background())

	return &Persister{
		docs:    docs,
		dirty:   make(map[string]models.DocumentState),
		queued:  make(map[string]bool),
		writeMu: make(map[string]*sync.Mutex),
		jobs:    make(chan string, queueSize),
		workers: workers,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start spawns the worker goroutines.
func (p *Persister) Start() {
	log.Printf("🔧 Starting persister pool with %d workers", p.workers)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

func (p *Persister) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return

		case documentID := <-p.jobs:
			if err := p.persist(context.Background(), documentID); err != nil {
				log.Printf("  Persist worker %d: document %s: %v", id, documentID, err)
			}
		}
	}
}

// MarkDirty records the latest authoritative state of a document and
// queues it for persistence. Never blocks: if the job queue is full the
// state stays in the dirty set and is picked up by the next mark or by
// Flush.
func (p *Persister) MarkDirty(state models.DocumentState) {
	p.mu.Lock()
	p.dirty[state.ID] = state
	alreadyQueued := p.queued[state.ID]
	if !alreadyQueued {
		select {
		case p.jobs <- state.ID:
			p.queued[state.ID] = true
		default:
		}
	}
	p.mu.Unlock()
}

// take removes and returns the pending state for a document.
func (p *Persister) take(documentID string) (models.DocumentState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, ok := p.dirty[documentID]
	if ok {
		delete(p.dirty, documentID)
	}
	delete(p.queued, documentID)
	return state, ok
}

func (p *Persister) writeLock(documentID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()

	lock, ok := p.writeMu[documentID]
	if !ok {
		lock = &sync.Mutex{}
		p.writeMu[documentID] = lock
	}
	return lock
}

// persist writes the newest dirty state of one document. The state is
// taken under the document's write lock, so a concurrent MarkDirty
// either lands in this write or queues its own job that writes after.
func (p *Persister) persist(ctx context.Context, documentID string) error {
	lock := p.writeLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	state, ok := p.take(documentID)
	if !ok {
		return nil // someone else already persisted it
	}

	return p.docs.Put(ctx, state.ID, state.Title, state.Content)
}

// Flush synchronously persists every dirty document. The version-create
// path flushes first so a snapshot never precedes the durability of the
// edits it captures.
func (p *Persister) Flush(ctx context.Context) error {
	for {
		p.mu.Lock()
		var documentID string
		found := false
		for id := range p.dirty {
			documentID = id
			found = true
			break
		}
		p.mu.Unlock()

		if !found {
			return nil
		}
		if err := p.persist(ctx, documentID); err != nil {
			return fmt.Errorf("flush document %s: %w", documentID, err)
		}
	}
}

// Shutdown stops the workers and flushes whatever is still dirty.
func (p *Persister) Shutdown() {
	log.Println("🛑 Shutting down persister...")

	p.cancel()
	p.wg.Wait()

	if err := p.Flush(context.Background()); err != nil {
		log.Printf("⚠️  Persister final flush: %v", err)
	}

	log.Println("✓ Persister shutdown complete")
}
