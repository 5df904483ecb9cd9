package nfc

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/spoolsync/spoolsync/cmd/spoolsync/shared"
	"github.com/spoolsync/spoolsync/internal"
	"go.uber.org/zap"
)

// Tag user memory starts at page 4. We never read past what an NTAG215 user
// area holds, smaller tags just return read errors earlier.
const (
	userMemoryFirstPage = 4
	userMemoryMaxBytes  = 144
	uidCacheSize        = 32
)

// Transport is the low-level tag channel the reader polls. Exactly one
// implementation talks to hardware (libnfc), tests plug in a mock.
type Transport interface {
	// PollTarget checks the RF field. present is false when no tag is in
	// range; a returned error means the device itself misbehaved.
	PollTarget() (uid []byte, present bool, err error)
	// ReadPage reads 16 bytes starting at the given page.
	ReadPage(page byte) ([]byte, error)
	// WritePage writes a single 4 byte page.
	WritePage(page byte, data []byte) error
	Close() error
}

// Reader runs the polling loop against the tag transport and fires the
// registered callbacks on tag arrival and removal. Callbacks run on the
// reader's goroutine, serially.
type Reader struct {
	transport Transport
	// guards transport access, WriteTag is called from the web goroutine
	mu sync.Mutex

	tagPresentCallback   func(shared.TagRecord)
	noTagPresentCallback func()

	pollInterval time.Duration
	stopOnce     sync.Once
	stop         chan struct{}

	// uid -> shared.TagRecord, avoids re-reading a tag that never left
	payloadCache *lru.Cache

	// set by WriteTag, makes the loop re-announce the tag under the reader
	rescan atomic.Bool

	// loop state, only touched from the Run goroutine
	fieldOccupied bool
	lastUID       string
}

// NewReader opens the NFC device behind the given libnfc connection string
// (empty string lets libnfc pick the first device) and returns a Reader
// ready to Run.
func NewReader(connstring string) (*Reader, error) {
	transport, err := openTransport(connstring)
	if err != nil {
		return nil, err
	}
	return newReaderWithTransport(transport), nil
}

func newReaderWithTransport(transport Transport) *Reader {
	payloadCache, err := lru.New(uidCacheSize)
	if err != nil {
		// only fails for a non-positive size
		zap.S().Fatalf("Failed to create payload cache: %s", err)
	}
	return &Reader{
		transport:    transport,
		pollInterval: internal.DefaultPollInterval,
		stop:         make(chan struct{}),
		payloadCache: payloadCache,
	}
}

// SetTagPresentCallback registers the function invoked with the decoded
// record whenever a tag shows up (or is swapped for another one).
func (r *Reader) SetTagPresentCallback(fn func(shared.TagRecord)) {
	r.tagPresentCallback = fn
}

// SetNoTagPresentCallback registers the function invoked when the tag leaves
// the field, or when a present tag carries no readable NDEF data.
func (r *Reader) SetNoTagPresentCallback(fn func()) {
	r.noTagPresentCallback = fn
}

// Run polls the reader until Stop is called. It only returns on Stop; device
// errors are retried with exponential backoff, the hardware tends to glitch
// when a tag sits right at the edge of the field.
func (r *Reader) Run() {
	zap.S().Infof("Starting NFC reader loop")
	var deviceErrors int64
	for {
		select {
		case <-r.stop:
			zap.S().Infof("NFC reader loop stopped")
			return
		default:
		}

		uid, present, err := r.poll()
		if err != nil {
			deviceErrors++
			zap.S().Warnf("NFC device error (%d in a row): %s", deviceErrors, err)
			internal.SleepBackedOff(deviceErrors, 100*time.Millisecond, internal.TenSeconds)
			continue
		}
		deviceErrors = 0

		r.handlePollResult(uid, present)
		time.Sleep(r.pollInterval)
	}
}

// Stop signals Run to return. Safe to call from any goroutine, more than
// once. The caller owns joining the Run goroutine.
func (r *Reader) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
}

func (r *Reader) poll() (uid []byte, present bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transport.PollTarget()
}

func (r *Reader) handlePollResult(uid []byte, present bool) {
	if r.rescan.CompareAndSwap(true, false) {
		r.lastUID = ""
	}

	if !present {
		if r.fieldOccupied {
			zap.S().Infof("Tag %s removed", r.lastUID)
			r.fieldOccupied = false
			r.lastUID = ""
			if r.noTagPresentCallback != nil {
				r.noTagPresentCallback()
			}
		}
		return
	}

	key := fmt.Sprintf("%x", uid)
	if r.fieldOccupied && key == r.lastUID {
		// same tag still sitting on the reader
		return
	}

	r.fieldOccupied = true
	r.lastUID = key

	rec, err := r.recordForTag(key)
	if err != nil {
		zap.S().Infof("Tag %s has no readable record: %s", key, err)
		if r.noTagPresentCallback != nil {
			r.noTagPresentCallback()
		}
		return
	}

	zap.S().Infof("Tag %s present: %s", key, rec)
	if r.tagPresentCallback != nil {
		r.tagPresentCallback(rec)
	}
}

func (r *Reader) recordForTag(key string) (shared.TagRecord, error) {
	if cached, found := r.payloadCache.Get(key); found {
		return cached.(shared.TagRecord), nil
	}

	data, err := r.readUserMemory()
	if err != nil {
		return shared.TagRecord{}, err
	}
	rec, err := DecodeTagPayload(data)
	if err != nil {
		return shared.TagRecord{}, err
	}
	r.payloadCache.Add(key, rec)
	return rec, nil
}

func (r *Reader) readUserMemory() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]byte, 0, userMemoryMaxBytes)
	for page := byte(userMemoryFirstPage); len(data) < userMemoryMaxBytes; page += 4 {
		chunk, err := r.transport.ReadPage(page)
		if err != nil {
			if len(data) > 0 {
				// smaller tag than we assumed, work with what we have
				break
			}
			return nil, err
		}
		data = append(data, chunk...)
		if containsTerminator(chunk) {
			break
		}
	}
	return data, nil
}

func containsTerminator(chunk []byte) bool {
	for _, b := range chunk {
		if b == tlvTerminator {
			return true
		}
	}
	return false
}

// WriteTag writes the given spool & filament record to the tag currently on
// the reader. It fails when no tag is in the field.
func (r *Reader) WriteTag(spool int, filament int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	uid, present, err := r.transport.PollTarget()
	if err != nil {
		return fmt.Errorf("NFC device error: %w", err)
	}
	if !present {
		return errors.New("no tag present to write to")
	}

	payload := EncodeTagPayload(spool, filament)
	// pad to full pages
	for len(payload)%4 != 0 {
		payload = append(payload, tlvNull)
	}

	page := byte(userMemoryFirstPage)
	for offset := 0; offset < len(payload); offset += 4 {
		if err := r.transport.WritePage(page, payload[offset:offset+4]); err != nil {
			return fmt.Errorf("failed to write page %d: %w", page, err)
		}
		page++
	}

	// The tag on the reader now carries the new record. Refresh the cache and
	// force the loop to treat it as a fresh arrival.
	key := fmt.Sprintf("%x", uid)
	rec, err := DecodeTagPayload(payload)
	if err == nil {
		r.payloadCache.Add(key, rec)
	}
	r.rescan.Store(true)

	zap.S().Infof("Wrote spool #%d, filament #%d to tag %s", spool, filament, key)
	return nil
}
