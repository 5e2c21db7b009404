package tracelog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wire.log")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	l.Send([]byte{0xFF, 0x02, 0xF0})
	l.Recv([]byte{0x02, 0xF0, 0x03})
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q", lines)
	}
	if !strings.HasPrefix(lines[0], "s ") || !strings.HasSuffix(lines[0], "ff02f0") {
		t.Errorf("send line = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "r ") || !strings.HasSuffix(lines[1], "02f003") {
		t.Errorf("recv line = %q", lines[1])
	}
}

func TestLogAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wire.log")
	for i := 0; i < 2; i++ {
		l, err := Open(path)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		l.Send([]byte{byte(i)})
		l.Close()
	}
	data, _ := os.ReadFile(path)
	if n := strings.Count(string(data), "\n"); n != 2 {
		t.Errorf("line count = %d, want 2", n)
	}
}
