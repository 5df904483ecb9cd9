package nfc

import (
	"errors"
	"sync"
	"testing"
)

// MockTransport simulates a reader with at most one tag in the field.
type MockTransport struct {
	mu sync.Mutex

	uid   []byte
	pages map[byte][]byte

	pollErr error
	readErr error
	written map[byte][]byte
}

// GetMockTransport returns an empty-field mock transport.
func GetMockTransport(t *testing.T) *MockTransport {
	// Passing t here to ensure it is not used in production code
	t.Logf("Using mock transport")
	return &MockTransport{
		pages:   make(map[byte][]byte),
		written: make(map[byte][]byte),
	}
}

// PlaceTag puts a tag with the given uid and user memory content into the
// simulated field.
func (m *MockTransport) PlaceTag(uid []byte, userMemory []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uid = uid
	m.pages = make(map[byte][]byte)
	for offset := 0; offset < len(userMemory); offset += 4 {
		end := offset + 4
		if end > len(userMemory) {
			end = len(userMemory)
		}
		page := make([]byte, 4)
		copy(page, userMemory[offset:end])
		m.pages[byte(userMemoryFirstPage+offset/4)] = page
	}
}

// RemoveTag empties the simulated field.
func (m *MockTransport) RemoveTag() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uid = nil
}

// FailPolls makes PollTarget return the given error (nil restores normal
// behaviour).
func (m *MockTransport) FailPolls(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pollErr = err
}

// FailReads makes ReadPage return the given error.
func (m *MockTransport) FailReads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

// WrittenPages returns a copy of all pages written through the transport.
func (m *MockTransport) WrittenPages() map[byte][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[byte][]byte, len(m.written))
	for page, data := range m.written {
		cp := make([]byte, len(data))
		copy(cp, data)
		out[page] = cp
	}
	return out
}

func (m *MockTransport) PollTarget() (uid []byte, present bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pollErr != nil {
		return nil, false, m.pollErr
	}
	if m.uid == nil {
		return nil, false, nil
	}
	uid = make([]byte, len(m.uid))
	copy(uid, m.uid)
	return uid, true, nil
}

func (m *MockTransport) ReadPage(page byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	if m.uid == nil {
		return nil, errors.New("no tag in field")
	}
	out := make([]byte, 0, 16)
	for p := page; p < page+4; p++ {
		data, ok := m.pages[p]
		if !ok {
			data = make([]byte, 4)
		}
		out = append(out, data...)
	}
	return out, nil
}

func (m *MockTransport) WritePage(page byte, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uid == nil {
		return errors.New("no tag in field")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.pages[page] = cp
	m.written[page] = cp
	return nil
}

func (m *MockTransport) Close() error {
	return nil
}
