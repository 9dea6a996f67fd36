package bond

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Completion reports the outcome of a queued storage operation.
type Completion struct {
	Op   string // "store" or "delete"
	Bond Bond
	Err  error
}

// Manager serializes bond writes on a background worker and exposes how
// many are still in flight. Reads go straight to the store.
type Manager struct {
	store *Store
	root  []byte

	jobs    chan func() Completion
	pending atomic.Int32
	wg      sync.WaitGroup
	once    sync.Once

	// OnComplete is called from the worker after each operation, once the
	// pending count already excludes it. Set before the first write.
	OnComplete func(Completion)
}

// NewManager starts the storage worker. Call Close when done.
func NewManager(store *Store, root []byte) *Manager {
	m := &Manager{
		store: store,
		root:  root,
		jobs:  make(chan func() Completion, 16),
	}
	m.wg.Add(1)
	go m.worker()
	return m
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for job := range m.jobs {
		c := job()
		m.pending.Add(-1)
		if c.Err != nil {
			slog.Error("[BOND] storage operation failed", "op", c.Op, "addr", c.Bond.Addr, "error", c.Err)
		} else {
			slog.Debug("[BOND] storage operation done", "op", c.Op, "addr", c.Bond.Addr, "id", c.Bond.ID)
		}
		if m.OnComplete != nil {
			m.OnComplete(c)
		}
	}
}

// Pending returns the number of queued or running storage operations.
func (m *Manager) Pending() int {
	return int(m.pending.Load())
}

func (m *Manager) enqueue(job func() Completion) {
	m.pending.Add(1)
	m.jobs <- job
}

// Lookup returns the bond for addr, or ErrNotFound.
func (m *Manager) Lookup(ctx context.Context, addr string) (Bond, error) {
	return m.store.Get(ctx, addr)
}

// Whitelist returns the addresses and IRKs of up to max bonded peers.
func (m *Manager) Whitelist(ctx context.Context, max int) ([]string, [][16]byte, error) {
	bonds, err := m.store.List(ctx, max)
	if err != nil {
		return nil, nil, err
	}
	addrs := make([]string, 0, len(bonds))
	irks := make([][16]byte, 0, len(bonds))
	for _, b := range bonds {
		addrs = append(addrs, b.Addr)
		irks = append(irks, b.Keys.IRK)
	}
	return addrs, irks, nil
}

// SecuritySetup bonds with addr: fresh keys are derived immediately and the
// bond is written by the worker. The returned Bond has no ID yet; the
// stored one arrives through OnComplete.
func (m *Manager) SecuritySetup(addr string) (Bond, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return Bond{}, fmt.Errorf("bond: random salt: %w", err)
	}
	keys, err := DeriveKeys(m.root, salt, addr)
	if err != nil {
		return Bond{}, err
	}
	b := Bond{Addr: addr, Keys: keys}
	m.enqueue(func() Completion {
		id, err := m.store.Put(context.Background(), b)
		stored := b
		stored.ID = id
		return Completion{Op: "store", Bond: stored, Err: err}
	})
	return b, nil
}

// Delete queues removal of one bond.
func (m *Manager) Delete(b Bond) {
	m.enqueue(func() Completion {
		return Completion{Op: "delete", Bond: b, Err: m.store.Delete(context.Background(), b.ID)}
	})
}

// EraseAll drops every bond synchronously. It is meant for boot, before
// the worker has anything to do.
func (m *Manager) EraseAll(ctx context.Context) error {
	n, err := m.store.DeleteAll(ctx)
	if err != nil {
		return err
	}
	slog.Info("[BOND] erased all bonds", "count", n)
	return nil
}

// Close drains the worker and closes the store.
func (m *Manager) Close() error {
	var err error
	m.once.Do(func() {
		close(m.jobs)
		m.wg.Wait()
		err = m.store.Close()
	})
	return err
}

// IsNotFound reports whether err means the peer is not bonded.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
