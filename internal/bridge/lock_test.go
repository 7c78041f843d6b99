package bridge

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.lock")

	release, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}

	// A live holder blocks a second acquisition.
	if _, err := AcquireLock(path); err == nil {
		t.Error("second acquire should fail while the lock is held")
	}

	release()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("release should remove the lock file")
	}
}

func TestAcquireLockStaleTakeover(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.lock")

	// A pid that cannot exist marks the lock stale.
	if err := os.WriteFile(path, []byte("999999999\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	release, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("stale lock should be taken over: %v", err)
	}
	defer release()

	holder, err := lockHolder(path)
	if err != nil || holder != os.Getpid() {
		t.Errorf("lock should now hold our pid, got %d err %v", holder, err)
	}
}

func TestAcquireLockGarbageContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.lock")
	if err := os.WriteFile(path, []byte("not a pid"), 0o644); err != nil {
		t.Fatal(err)
	}

	release, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("garbage lock should be taken over: %v", err)
	}
	release()
}
