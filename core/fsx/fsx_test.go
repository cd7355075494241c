package fsx

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"
)

func TestWriteFileAtomicCreatesAndOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "authority.pub")
	if err := WriteFileAtomic(path, []byte("first"), 0o600); err != nil {
		t.Fatalf("write first: %v", err)
	}
	if err := WriteFileAtomic(path, []byte("second"), 0o600); err != nil {
		t.Fatalf("write second: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(raw) != "second" {
		t.Fatalf("unexpected content: %q", raw)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %d entries", len(entries))
	}
}

func TestWriteFileAtomicMode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file modes are not enforced on windows")
	}
	path := filepath.Join(t.TempDir(), "authority.key")
	if err := WriteFileAtomic(path, []byte("secret"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("unexpected mode: %v", info.Mode().Perm())
	}
}

func TestAppendLineWritesOneLinePerCall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	if err := AppendLine(path, []byte(`{"request_id":"cr_a"}`), 0o600); err != nil {
		t.Fatalf("append first: %v", err)
	}
	if err := AppendLine(path, []byte(`{"request_id":"cr_b"}`), 0o600); err != nil {
		t.Fatalf("append second: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(raw) != "{\"request_id\":\"cr_a\"}\n{\"request_id\":\"cr_b\"}\n" {
		t.Fatalf("unexpected output:\n%s", raw)
	}
	if _, err := os.Stat(path + ".lock"); !os.IsNotExist(err) {
		t.Fatalf("lock file should be released, stat err=%v", err)
	}
}

func TestAppendLineRejectsTraversalAndMultiline(t *testing.T) {
	if err := AppendLine(filepath.Join("..", "escape.jsonl"), []byte(`{}`), 0o600); err == nil {
		t.Fatalf("expected traversal path to be rejected")
	}
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	if err := AppendLine(path, []byte("{}\n{}"), 0o600); err == nil {
		t.Fatalf("expected multi-line record to be rejected")
	}
}

func TestAppendLineConcurrentIntegrity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concurrent.jsonl")
	const writers = 100
	var group sync.WaitGroup
	group.Add(writers)
	for index := 0; index < writers; index++ {
		go func(index int) {
			defer group.Done()
			if err := AppendLine(path, []byte(fmt.Sprintf(`{"idx":%d}`, index)), 0o600); err != nil {
				t.Errorf("append: %v", err)
			}
		}(index)
	}
	group.Wait()

	lines, err := ReadLines(path)
	if err != nil {
		t.Fatalf("read lines: %v", err)
	}
	if len(lines) != writers {
		t.Fatalf("unexpected line count: got=%d want=%d", len(lines), writers)
	}
	for i, line := range lines {
		var parsed map[string]any
		if err := json.Unmarshal(line, &parsed); err != nil {
			t.Fatalf("invalid json line %d: %v (%q)", i, err, line)
		}
	}
}

func TestAcquireLockRecoversStaleLock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "journal.jsonl.lock")
	if err := os.WriteFile(lockPath, []byte("stale"), 0o600); err != nil {
		t.Fatalf("write lock: %v", err)
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(lockPath, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	release, err := acquireLock(lockPath, time.Now)
	if err != nil {
		t.Fatalf("acquire stale lock: %v", err)
	}
	release()
}

func TestAcquireLockTimesOut(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "journal.jsonl.lock")
	if err := os.WriteFile(lockPath, []byte("held"), 0o600); err != nil {
		t.Fatalf("write lock: %v", err)
	}
	start := time.Now()
	calls := 0
	clock := func() time.Time {
		calls++
		if calls > 2 {
			return start.Add(lockWait + time.Second)
		}
		return start
	}
	if _, err := acquireLock(lockPath, clock); err != ErrLockTimeout {
		t.Fatalf("expected lock timeout, got %v", err)
	}
}

func TestLockHeld(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "append.lock")
	permissionErr := &os.PathError{Op: "open", Path: lockPath, Err: os.ErrPermission}
	if !lockHeld(os.ErrExist, lockPath) {
		t.Fatalf("expected os.ErrExist to be treated as contention")
	}
	if lockHeld(permissionErr, lockPath) {
		t.Fatalf("expected permission error without lock file to be non-contention")
	}
	if err := os.WriteFile(lockPath, []byte("lock"), 0o600); err != nil {
		t.Fatalf("write lock file: %v", err)
	}
	if !lockHeld(permissionErr, lockPath) {
		t.Fatalf("expected permission error with lock file to be contention")
	}
	if lockHeld(os.ErrNotExist, lockPath) {
		t.Fatalf("expected unrelated error to be non-contention")
	}
}

func TestReadLinesSkipsBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lines.jsonl")
	if err := os.WriteFile(path, []byte("a\n\n  \nb\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	lines, err := ReadLines(path)
	if err != nil {
		t.Fatalf("read lines: %v", err)
	}
	if len(lines) != 2 || string(lines[0]) != "a" || string(lines[1]) != "b" {
		t.Fatalf("unexpected lines: %q", lines)
	}
	if _, err := ReadLines(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatalf("expected missing file error")
	}
}
