package bond

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testRoot() []byte {
	root := make([]byte, RootSize)
	root[0] = 0x42
	return root
}

func newTestManager(t *testing.T) (*Manager, chan Completion) {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "bonds.db"), testRoot())
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	m := NewManager(store, testRoot())
	done := make(chan Completion, 8)
	m.OnComplete = func(c Completion) { done <- c }
	t.Cleanup(func() { m.Close() })
	return m, done
}

func waitCompletion(t *testing.T, ch chan Completion) Completion {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for storage completion")
		return Completion{}
	}
}

func TestDeriveKeysDeterministic(t *testing.T) {
	salt := []byte("0123456789abcdef")
	a, err := DeriveKeys(testRoot(), salt, "AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("DeriveKeys() error = %v", err)
	}
	b, _ := DeriveKeys(testRoot(), salt, "AA:BB:CC:DD:EE:FF")
	if a != b {
		t.Error("same inputs should derive the same keys")
	}
	c, _ := DeriveKeys(testRoot(), salt, "AA:BB:CC:DD:EE:00")
	if a.LTK == c.LTK {
		t.Error("different peers should get different LTKs")
	}
	if a.LTK == a.IRK {
		t.Error("LTK and IRK should differ")
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	key, err := storageKey(testRoot())
	if err != nil {
		t.Fatalf("storageKey() error = %v", err)
	}
	plaintext := []byte("sixteen byte ltk")
	iv, ct, tag, err := seal(key, plaintext)
	if err != nil {
		t.Fatalf("seal() error = %v", err)
	}
	if len(iv) != 12 || len(tag) != 16 {
		t.Fatalf("iv = %d bytes, tag = %d bytes", len(iv), len(tag))
	}
	got, err := open(key, iv, ct, tag)
	if err != nil {
		t.Fatalf("open() error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("open() = %q, want %q", got, plaintext)
	}

	tag[0] ^= 0xFF
	if _, err := open(key, iv, ct, tag); err == nil {
		t.Error("open() should fail with a tampered tag")
	}
}

func TestLoadOrCreateRoot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "identity.key")

	root, err := LoadOrCreateRoot(path)
	if err != nil {
		t.Fatalf("LoadOrCreateRoot() error = %v", err)
	}
	if len(root) != RootSize {
		t.Fatalf("len(root) = %d, want %d", len(root), RootSize)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("root file not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("root file mode = %v, want 0600", perm)
	}

	again, err := LoadOrCreateRoot(path)
	if err != nil {
		t.Fatalf("second LoadOrCreateRoot() error = %v", err)
	}
	if !bytes.Equal(root, again) {
		t.Error("second load should return the persisted root")
	}
}

func TestLoadOrCreateRootRejectsWrongSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.key")
	if err := os.WriteFile(path, []byte("short"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOrCreateRoot(path); err == nil {
		t.Error("LoadOrCreateRoot() should reject a truncated root")
	}
}

func TestSecuritySetupStoresBond(t *testing.T) {
	m, done := newTestManager(t)

	b, err := m.SecuritySetup("AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("SecuritySetup() error = %v", err)
	}
	c := waitCompletion(t, done)
	if c.Err != nil {
		t.Fatalf("completion error = %v", c.Err)
	}
	if c.Op != "store" || c.Bond.ID == 0 {
		t.Errorf("completion = %+v", c)
	}
	if m.Pending() != 0 {
		t.Errorf("Pending() = %d after completion, want 0", m.Pending())
	}

	got, err := m.Lookup(context.Background(), "AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got.Keys != b.Keys {
		t.Error("stored keys differ from derived keys")
	}
	if got.ID != c.Bond.ID {
		t.Errorf("ID = %d, want %d", got.ID, c.Bond.ID)
	}
}

func TestRebondKeepsIDAndRotatesKeys(t *testing.T) {
	m, done := newTestManager(t)

	first, _ := m.SecuritySetup("AA:BB:CC:DD:EE:FF")
	c1 := waitCompletion(t, done)
	second, _ := m.SecuritySetup("AA:BB:CC:DD:EE:FF")
	c2 := waitCompletion(t, done)

	if c1.Bond.ID != c2.Bond.ID {
		t.Errorf("re-bond changed ID %d -> %d", c1.Bond.ID, c2.Bond.ID)
	}
	if first.Keys.LTK == second.Keys.LTK {
		t.Error("re-bond should rotate the LTK")
	}
	got, _ := m.Lookup(context.Background(), "AA:BB:CC:DD:EE:FF")
	if got.Keys != second.Keys {
		t.Error("lookup should return the latest keys")
	}
}

func TestLookupNotFound(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Lookup(context.Background(), "00:00:00:00:00:00")
	if !IsNotFound(err) {
		t.Errorf("Lookup() error = %v, want ErrNotFound", err)
	}
}

func TestWhitelistAndErase(t *testing.T) {
	m, done := newTestManager(t)
	for _, addr := range []string{"AA:00:00:00:00:01", "AA:00:00:00:00:02", "AA:00:00:00:00:03"} {
		if _, err := m.SecuritySetup(addr); err != nil {
			t.Fatalf("SecuritySetup(%s) error = %v", addr, err)
		}
		waitCompletion(t, done)
	}

	addrs, irks, err := m.Whitelist(context.Background(), 2)
	if err != nil {
		t.Fatalf("Whitelist() error = %v", err)
	}
	if len(addrs) != 2 || len(irks) != 2 {
		t.Fatalf("Whitelist() = %d addrs, %d irks, want 2", len(addrs), len(irks))
	}
	if addrs[0] != "AA:00:00:00:00:03" {
		t.Errorf("addrs[0] = %s, want most recent bond first", addrs[0])
	}

	if err := m.EraseAll(context.Background()); err != nil {
		t.Fatalf("EraseAll() error = %v", err)
	}
	addrs, _, _ = m.Whitelist(context.Background(), 0)
	if len(addrs) != 0 {
		t.Errorf("Whitelist() after erase = %v, want empty", addrs)
	}
}

func TestDeleteReportsCompletion(t *testing.T) {
	m, done := newTestManager(t)
	m.SecuritySetup("AA:BB:CC:DD:EE:FF")
	stored := waitCompletion(t, done)

	m.Delete(stored.Bond)
	c := waitCompletion(t, done)
	if c.Op != "delete" || c.Err != nil {
		t.Errorf("completion = %+v", c)
	}

	m.Delete(stored.Bond)
	if c := waitCompletion(t, done); !IsNotFound(c.Err) {
		t.Errorf("second delete error = %v, want ErrNotFound", c.Err)
	}
}

func TestPendingCountsQueuedWrites(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "bonds.db"), testRoot())
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	m := NewManager(store, testRoot())
	defer m.Close()

	release := make(chan struct{})
	finished := make(chan struct{}, 2)
	m.OnComplete = func(Completion) {
		<-release
		finished <- struct{}{}
	}

	m.SecuritySetup("AA:00:00:00:00:01")
	m.SecuritySetup("AA:00:00:00:00:02")

	// The first write is blocked in OnComplete, the second is queued.
	deadline := time.Now().Add(5 * time.Second)
	for m.Pending() != 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if m.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", m.Pending())
	}
	close(release)
	<-finished
	<-finished
	if m.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", m.Pending())
	}
}
