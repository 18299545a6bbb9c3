/*
Copyright 2023 Alexander Bartolomey (github@alexanderbartolomey.de)

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package ipfix

import "sync"

// MemoryTransport is the in-memory Exporter/Collector pair spec.md section 6
// describes as a caller-supplied memory buffer: "the emitted message is
// simply copied into the buffer". It lets a Buffer bound as exporter feed a
// Buffer bound as collector without a socket in between, which is useful
// for tests and for in-process pipelines that reshape IPFIX messages (see
// the transformer example).
type MemoryTransport struct {
	mu        sync.Mutex
	messages  [][]byte
	closeOnce sync.Once
	closed    bool
}

var (
	_ Exporter  = &MemoryTransport{}
	_ Collector = &MemoryTransport{}
)

// NewMemoryTransport creates an empty, open MemoryTransport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{}
}

// WriteMessage implements Exporter. The message is copied, so the caller's
// buffer may be reused or pooled immediately after the call returns.
func (m *MemoryTransport) WriteMessage(message []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return PeerClosed()
	}

	cp := make([]byte, len(message))
	copy(cp, message)
	m.messages = append(m.messages, cp)
	return nil
}

// ReadMessage implements Collector. It is non-blocking: when no message is
// queued, ReadMessage returns NoDataReady rather than waiting, matching
// spec.md section 6's disconnected-read semantics. Once Close has drained
// the queue, ReadMessage returns EndOfStream.
func (m *MemoryTransport) ReadMessage(dst []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.messages) == 0 {
		if m.closed {
			return 0, EndOfStream()
		}
		return 0, NoDataReady()
	}

	next := m.messages[0]
	if len(next) > len(dst) {
		return 0, BufferTooSmall(len(next), len(dst))
	}
	n := copy(dst, next)
	m.messages = m.messages[1:]
	return n, nil
}

// Pending reports how many messages are queued for ReadMessage.
func (m *MemoryTransport) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// Close marks the transport closed: further WriteMessage calls fail with
// PeerClosed, and ReadMessage returns EndOfStream once the backlog drains.
func (m *MemoryTransport) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.closed = true
	})
}
