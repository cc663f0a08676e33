package gaugemux

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"
)

// MockGaugePort implements GaugePorter for demos and manual testing. Reads
// come from an io.Pipe fed by a ticker goroutine and writes are captured
// in memory so sent commands can be inspected.
type MockGaugePort struct {
	io.Reader

	mu      sync.Mutex
	written bytes.Buffer
	closer  io.Closer
}

func (m *MockGaugePort) Write(p []byte) (n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written.Write(p)
}

// SentCommands returns everything written to the mock port so far.
func (m *MockGaugePort) SentCommands() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written.Bytes()
}

func (m *MockGaugePort) Close() error {
	return m.closer.Close()
}

// NewMockGaugeMux creates a GaugeMux instance backed by a mock gauge port
// that emits mockLine every 500ms, simulating a gauge in continuous mode.
func NewMockGaugeMux(mockLine []byte) *GaugeMux[*MockGaugePort] {
	r, w := io.Pipe()

	mockPort := &MockGaugePort{
		Reader: r,
		closer: r,
	}

	// generate data periodically to simulate gauge input
	go func() {
		defer w.Close()
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			if _, err := w.Write(mockLine); err != nil {
				return
			}
		}
	}()

	return NewGaugeMux(mockPort)
}

// TestableGaugePort implements GaugePorter with configurable behaviour for testing.
// It provides fine-grained control over reads, writes, errors, and latency.
type TestableGaugePort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// ReadLatency adds a delay to each Read call
	ReadLatency time.Duration

	// WriteLatency adds a delay to each Write call
	WriteLatency time.Duration

	// ReadError is returned by the next Read call if set
	ReadError error

	// WriteError is returned by the next Write call if set
	WriteError error

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	// ReadCalls records the number of Read calls
	ReadCalls int

	// WriteCalls records the number of Write calls
	WriteCalls int

	// BlockReads causes Read to block until data is added or Close is called
	BlockReads bool

	// readCond is used to signal blocked readers
	readCond *sync.Cond
}

// NewTestableGaugePort creates a new TestableGaugePort for testing.
func NewTestableGaugePort() *TestableGaugePort {
	tgp := &TestableGaugePort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
	tgp.readCond = sync.NewCond(&tgp.mu)
	return tgp
}

// Read reads from the read buffer, optionally simulating latency and errors.
func (t *TestableGaugePort) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadCalls++

	if t.Closed {
		return 0, errors.New("gauge port closed")
	}

	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}

	if t.ReadLatency > 0 {
		t.mu.Unlock()
		time.Sleep(t.ReadLatency)
		t.mu.Lock()
	}

	// If blocking reads are enabled and buffer is empty, wait for data
	if t.BlockReads && t.ReadBuffer.Len() == 0 {
		for !t.Closed && t.ReadBuffer.Len() == 0 {
			t.readCond.Wait()
		}
		if t.Closed {
			return 0, errors.New("gauge port closed")
		}
	}

	return t.ReadBuffer.Read(p)
}

// Write writes to the write buffer, optionally simulating latency and errors.
func (t *TestableGaugePort) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.WriteCalls++

	if t.Closed {
		return 0, errors.New("gauge port closed")
	}

	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}

	if t.WriteLatency > 0 {
		t.mu.Unlock()
		time.Sleep(t.WriteLatency)
		t.mu.Lock()
	}

	return t.WriteBuffer.Write(p)
}

// Close marks the port as closed.
func (t *TestableGaugePort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	t.readCond.Broadcast() // Wake up any blocked readers

	return t.CloseError
}

// AddReadData adds data to be returned by subsequent Read calls.
func (t *TestableGaugePort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Write(data)
	t.readCond.Signal() // Wake up a blocked reader
}

// GetWrittenData returns all data written to the port.
func (t *TestableGaugePort) GetWrittenData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.WriteBuffer.Bytes()
}

// Reset clears all buffers and resets state.
func (t *TestableGaugePort) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Reset()
	t.WriteBuffer.Reset()
	t.ReadCalls = 0
	t.WriteCalls = 0
	t.Closed = false
	t.ReadError = nil
	t.WriteError = nil
	t.CloseError = nil
	t.ReadLatency = 0
	t.WriteLatency = 0
}
