package nfc

import (
	"errors"
	"testing"
	"time"

	"github.com/spoolsync/spoolsync/cmd/spoolsync/helper"
	"github.com/spoolsync/spoolsync/cmd/spoolsync/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type readerHarness struct {
	transport *MockTransport
	reader    *Reader
	present   chan shared.TagRecord
	absent    chan struct{}
	done      chan struct{}
}

func startReader(t *testing.T) *readerHarness {
	helper.InitTestLogging()

	h := &readerHarness{
		transport: GetMockTransport(t),
		present:   make(chan shared.TagRecord, 16),
		absent:    make(chan struct{}, 16),
		done:      make(chan struct{}),
	}
	h.reader = newReaderWithTransport(h.transport)
	h.reader.pollInterval = time.Millisecond
	h.reader.SetTagPresentCallback(func(rec shared.TagRecord) { h.present <- rec })
	h.reader.SetNoTagPresentCallback(func() { h.absent <- struct{}{} })

	go func() {
		h.reader.Run()
		close(h.done)
	}()
	t.Cleanup(func() {
		h.reader.Stop()
		<-h.done
	})
	return h
}

func (h *readerHarness) waitPresent(t *testing.T) shared.TagRecord {
	select {
	case rec := <-h.present:
		return rec
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timed out waiting for tag present callback")
		return shared.TagRecord{}
	}
}

func (h *readerHarness) waitAbsent(t *testing.T) {
	select {
	case <-h.absent:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timed out waiting for tag absent callback")
	}
}

func TestReaderAnnouncesArrivalOnceAndRemoval(t *testing.T) {
	h := startReader(t)

	h.transport.PlaceTag([]byte{0x04, 0xA1, 0xB2}, EncodeTagPayload(5, 2))
	rec := h.waitPresent(t)
	require.NotNil(t, rec.SpoolID)
	require.NotNil(t, rec.FilamentID)
	assert.Equal(t, 5, *rec.SpoolID)
	assert.Equal(t, 2, *rec.FilamentID)

	// the tag stays on the reader; no further events may fire
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, h.present)
	assert.Empty(t, h.absent)

	h.transport.RemoveTag()
	h.waitAbsent(t)
}

func TestReaderAnnouncesTagSwap(t *testing.T) {
	h := startReader(t)

	h.transport.PlaceTag([]byte{0x01}, EncodeTagPayload(1, 1))
	first := h.waitPresent(t)
	assert.Equal(t, 1, *first.SpoolID)

	h.transport.PlaceTag([]byte{0x02}, EncodeTagPayload(2, 9))
	second := h.waitPresent(t)
	assert.Equal(t, 2, *second.SpoolID)
	assert.Equal(t, 9, *second.FilamentID)
}

func TestReaderTreatsUnreadableTagAsAbsent(t *testing.T) {
	h := startReader(t)

	h.transport.PlaceTag([]byte{0x04, 0x05}, make([]byte, 32))
	h.waitAbsent(t)
	assert.Empty(t, h.present)
}

func TestReaderRecoversFromDeviceErrors(t *testing.T) {
	h := startReader(t)

	h.transport.FailPolls(errors.New("device unplugged"))
	time.Sleep(20 * time.Millisecond)
	h.transport.FailPolls(nil)

	h.transport.PlaceTag([]byte{0x07}, EncodeTagPayload(3, 7))
	rec := h.waitPresent(t)
	assert.Equal(t, 3, *rec.SpoolID)
}

func TestWriteTagRequiresTag(t *testing.T) {
	helper.InitTestLogging()
	transport := GetMockTransport(t)
	reader := newReaderWithTransport(transport)

	assert.Error(t, reader.WriteTag(5, 2))
}

func TestWriteTagWritesDecodableRecord(t *testing.T) {
	helper.InitTestLogging()
	transport := GetMockTransport(t)
	reader := newReaderWithTransport(transport)

	transport.PlaceTag([]byte{0x04, 0xAA}, make([]byte, 64))
	require.NoError(t, reader.WriteTag(5, 2))

	written := transport.WrittenPages()
	require.NotEmpty(t, written)

	// reassemble the written pages and make sure a reader sees the record
	payload := EncodeTagPayload(5, 2)
	data := make([]byte, 0, len(payload)+4)
	for page := byte(userMemoryFirstPage); ; page++ {
		chunk, ok := written[page]
		if !ok {
			break
		}
		data = append(data, chunk...)
	}
	rec, err := DecodeTagPayload(data)
	require.NoError(t, err)
	assert.Equal(t, 5, *rec.SpoolID)
	assert.Equal(t, 2, *rec.FilamentID)
}

func TestStopIsIdempotent(t *testing.T) {
	helper.InitTestLogging()
	reader := newReaderWithTransport(GetMockTransport(t))

	done := make(chan struct{})
	go func() {
		reader.Run()
		close(done)
	}()

	reader.Stop()
	reader.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
