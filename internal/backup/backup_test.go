package backup

import (
	"reflect"
	"testing"
)

func TestSplitCollection(t *testing.T) {
	endpoint, collection, err := splitCollection("https://dav.example.net/remote.php/dav/files/me/backups")
	if err != nil {
		t.Fatalf("splitCollection: %v", err)
	}
	if endpoint != "https://dav.example.net" {
		t.Errorf("endpoint = %q", endpoint)
	}
	if collection != "/remote.php/dav/files/me/backups/" {
		t.Errorf("collection = %q", collection)
	}

	if _, _, err := splitCollection("/just/a/path"); err == nil {
		t.Error("relative URL should error")
	}
}

func TestStaleBackups(t *testing.T) {
	names := []string{
		"tasks_2026-08-18.json",
		"tasks_2026-08-19.json",
		"tasks_2026-08-20.json",
		"tasks_2026-08-21.json",
		"tasks_2026-08-22.json",
		"tasks_2026-08-23.json",
		"tasks_2026-08-24.json",
		"scheduler_2026-08-24.db",
		"unrelated.txt",
	}

	got := staleBackups(names, "tasks", 5)
	want := []string{"tasks_2026-08-18.json", "tasks_2026-08-19.json"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	if got := staleBackups(names, "scheduler", 5); got != nil {
		t.Errorf("at or under the keep limit nothing is stale, got %v", got)
	}
	if got := staleBackups(names, "missing", 5); got != nil {
		t.Errorf("unknown prefix should prune nothing, got %v", got)
	}
}
