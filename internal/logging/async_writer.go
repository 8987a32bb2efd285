package logging

import (
	"io"
	"os"
	"sync"
	"sync/atomic"
)

// AsyncWriter hands log lines to a background goroutine so callers on the
// hot path never wait on disk. Lines are dropped when the buffer is full.
type AsyncWriter struct {
	buffer  chan []byte
	out     io.WriteCloser
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Uint64
	once    sync.Once
}

func NewAsyncWriter(out io.WriteCloser, bufferSize int) *AsyncWriter {
	aw := &AsyncWriter{
		buffer: make(chan []byte, bufferSize),
		out:    out,
		done:   make(chan struct{}),
	}

	aw.wg.Add(1)
	go aw.writeLoop()

	return aw
}

// OpenAsyncFile checks that path is writable, then returns an AsyncWriter
// over a size-rotated file at path.
func OpenAsyncFile(path string, bufferSize int, r Rotation) (*AsyncWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	f.Close()
	return NewAsyncWriter(RotatingFile(path, r), bufferSize), nil
}

// Write never blocks. The slice is copied because slog reuses its buffers.
func (aw *AsyncWriter) Write(data []byte) (int, error) {
	line := make([]byte, len(data))
	copy(line, data)
	select {
	case aw.buffer <- line:
	default:
		aw.dropped.Add(1)
	}
	return len(data), nil
}

func (aw *AsyncWriter) Dropped() uint64 {
	return aw.dropped.Load()
}

func (aw *AsyncWriter) writeLoop() {
	defer aw.wg.Done()
	for {
		select {
		case data := <-aw.buffer:
			aw.write(data)
		case <-aw.done:
			for len(aw.buffer) > 0 {
				aw.write(<-aw.buffer)
			}
			return
		}
	}
}

func (aw *AsyncWriter) write(data []byte) {
	if _, err := aw.out.Write(data); err != nil {
		aw.dropped.Add(1)
		os.Stderr.WriteString("log write failed: " + err.Error() + "\n")
	}
}

func (aw *AsyncWriter) Close() error {
	var err error
	aw.once.Do(func() {
		close(aw.done)
		aw.wg.Wait()
		err = aw.out.Close()
	})
	return err
}
