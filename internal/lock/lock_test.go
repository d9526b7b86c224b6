package lock

import (
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestMutexMap_DifferentKeysDoNotContend(t *testing.T) {
	m := NewMutexMap()
	done := make(chan struct{})

	m.Lock("hook_a")
	go func() {
		m.Lock("hook_b")
		m.Unlock("hook_b")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lock on a different key blocked")
	}
	m.Unlock("hook_a")
}

func TestMutexMap_SameKeySerializes(t *testing.T) {
	m := NewMutexMap()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Lock("shared")
			counter++
			m.Unlock("shared")
		}()
	}
	wg.Wait()

	if counter != 100 {
		t.Errorf("counter = %d, want 100", counter)
	}
}

func TestFileLock_TryLockContended(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locks", "queue.lock")

	first := NewFileLock(path)
	if err := first.Lock(); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	second := NewFileLock(path)
	ok, err := second.TryLock()
	if err != nil {
		t.Fatalf("TryLock failed: %v", err)
	}
	if ok {
		_ = second.Unlock()
		t.Fatal("TryLock succeeded while lock was held")
	}

	if err := first.Unlock(); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	ok, err = second.TryLock()
	if err != nil || !ok {
		t.Fatalf("TryLock after release = %v, %v; want true, nil", ok, err)
	}
	_ = second.Unlock()
}

func TestFileLock_UnlockWithoutLock(t *testing.T) {
	fl := NewFileLock(filepath.Join(t.TempDir(), "x.lock"))
	if err := fl.Unlock(); err != nil {
		t.Errorf("Unlock() on unheld lock = %v, want nil", err)
	}
}

func TestKeyed_Acquire(t *testing.T) {
	for _, dir := range []string{"", t.TempDir()} {
		k := NewKeyed(dir)
		total := 0

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				release, err := k.Acquire("queue", "hook/a b")
				if err != nil {
					t.Errorf("Acquire failed: %v", err)
					return
				}
				total++
				release()
			}()
		}
		wg.Wait()

		if total != 20 {
			t.Errorf("dir=%q: total = %d, want 20", dir, total)
		}
	}
}

func TestSanitize(t *testing.T) {
	if got := sanitize("hook/../x y"); got != "hook_.._x_y" {
		t.Errorf("sanitize() = %q, want %q", got, "hook_.._x_y")
	}
}
