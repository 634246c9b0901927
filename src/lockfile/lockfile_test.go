package lockfile

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"build-bridge/src/logger"
	"build-bridge/src/provider"
)

func newTestLock(t *testing.T, content string, alive bool) (*Lock, *bytes.Buffer) {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultName)
	if content != "" {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	var buf bytes.Buffer
	l := New(path, logger.New(&buf, logger.Options{Level: "Debug"}))
	l.alive = func(pid int) bool { return alive }
	return l, &buf
}

func TestLock_AcquireRelease(t *testing.T) {
	l, _ := newTestLock(t, "", false)

	if err := l.Acquire(); err != nil {
		t.Fatalf("Acquire() unexpected error: %v", err)
	}
	holder, err := ReadHolder(l.path)
	if err != nil {
		t.Fatalf("ReadHolder() unexpected error: %v", err)
	}
	if holder.PID != os.Getpid() || !strings.HasSuffix(holder.Started, " Z") {
		t.Errorf("holder = %+v", holder)
	}

	if err := l.Release(); err != nil {
		t.Fatalf("Release() unexpected error: %v", err)
	}
	if _, err := os.Stat(l.path); !os.IsNotExist(err) {
		t.Error("lock file still present after Release()")
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release() = %v, want nil", err)
	}
}

func TestLock_Acquire(t *testing.T) {
	tests := []struct {
		name    string
		content string
		alive   bool
		wantErr bool
		logged  string
	}{
		{name: "live holder", content: "999999 2024-01-01 00:00:00 Z\n", alive: true, wantErr: true, logged: "still running"},
		{name: "stale holder", content: "999999 2024-01-01 00:00:00 Z\n", alive: false, logged: "did not clean up"},
		{name: "garbage", content: "not-a-pid whenever", alive: true, logged: "unusable"},
		{name: "own pid", content: strconv.Itoa(os.Getpid()) + " 2024-01-01 00:00:00 Z", alive: true, logged: "did not clean up"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, buf := newTestLock(t, tt.content, tt.alive)
			err := l.Acquire()
			if tt.wantErr {
				if !provider.IsConfigurationError(err) {
					t.Errorf("Acquire() error = %v, want configuration error", err)
				}
				data, _ := os.ReadFile(l.path)
				if string(data) != tt.content {
					t.Errorf("live holder's lock file was replaced: %q", data)
				}
			} else if err != nil {
				t.Errorf("Acquire() unexpected error: %v", err)
			}
			if !strings.Contains(buf.String(), tt.logged) {
				t.Errorf("log = %q, want %q", buf.String(), tt.logged)
			}
		})
	}
}

func TestReadHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultName)
	if err := os.WriteFile(path, []byte(""), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadHolder(path); err == nil {
		t.Error("ReadHolder() of empty file expected error")
	}

	if err := os.WriteFile(path, []byte("42 2024-02-03 04:05:06 Z\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	h, err := ReadHolder(path)
	if err != nil || h.PID != 42 || h.Started != "2024-02-03 04:05:06 Z" {
		t.Errorf("ReadHolder() = %+v, %v", h, err)
	}
}

func TestAlive(t *testing.T) {
	if !Alive(os.Getpid()) {
		t.Error("Alive(own pid) = false")
	}
	if Alive(0) || Alive(-1) {
		t.Error("Alive() of non-positive pid = true")
	}
}
