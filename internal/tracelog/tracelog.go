// internal/tracelog/tracelog.go
// Package tracelog is an append-only wire log for driver debugging.
// Each line records the direction, a timestamp and the raw frame in hex.
package tracelog

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"
)

// Log writes "s"/"r" lines for sent and received frames.
type Log struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
}

// Open appends to the log file at path, creating it if needed.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("tracelog: open %q: %w", path, err)
	}
	return &Log{file: f, writer: bufio.NewWriter(f)}, nil
}

// Send records a frame written to the station.
func (l *Log) Send(frame []byte) { l.line("s", frame) }

// Recv records a frame received from the station.
func (l *Log) Recv(frame []byte) { l.line("r", frame) }

func (l *Log) line(dir string, frame []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.writer, "%s %s %x\n", dir, time.Now().Format("2006-01-02 15:04:05.000000"), frame)
	// Frames are rare and a truncated log is useless when chasing a
	// wedged station, so every line is pushed to disk.
	l.writer.Flush()
	l.file.Sync()
}

// Close flushes and closes the log file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer.Flush()
	return l.file.Close()
}
