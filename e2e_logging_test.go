package tracker_test

import (
	"bufio"
	"bytes"
	"io"
	"sync"
	"testing"
)

// syncBuffer collects process output for assertions while a test reads it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// streamReaderToTestLogs mirrors r into the test log and, when sink is
// non-nil, into sink.
func streamReaderToTestLogs(t *testing.T, prefix string, r io.Reader, sink io.Writer, wg *sync.WaitGroup) {
	t.Helper()
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			t.Logf("[%s] %s", prefix, scanner.Text())
			if sink != nil {
				_, _ = sink.Write(append(scanner.Bytes(), '\n'))
			}
		}
	}()
}
