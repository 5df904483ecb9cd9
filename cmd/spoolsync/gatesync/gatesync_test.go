package gatesync

import (
	"errors"
	"testing"

	"github.com/spoolsync/spoolsync/cmd/spoolsync/helper"
	"github.com/spoolsync/spoolsync/cmd/spoolsync/shared"
	"github.com/stretchr/testify/assert"
)

type publishCall struct {
	spool    int
	filament int
	gate     int
}

type mockPublisher struct {
	calls []publishCall
	fail  bool
}

func (m *mockPublisher) SetSpoolAndFilament(spool int, filament int, gate int) error {
	m.calls = append(m.calls, publishCall{spool: spool, filament: filament, gate: gate})
	if m.fail {
		return errors.New("moonraker unreachable")
	}
	return nil
}

func TestSyncDeduplicatesIdenticalValues(t *testing.T) {
	helper.InitTestLogging()
	pub := &mockPublisher{}
	engine := New(pub, false, 0)

	assert.NoError(t, engine.Sync(2, 9))
	assert.NoError(t, engine.Sync(2, 9))

	assert.Len(t, pub.calls, 1)
	assert.Equal(t, publishCall{spool: 2, filament: 9}, pub.calls[0])
}

func TestSyncRetriesAfterFailure(t *testing.T) {
	helper.InitTestLogging()
	pub := &mockPublisher{fail: true}
	engine := New(pub, false, 0)

	assert.Error(t, engine.Sync(2, 9))

	// The failed attempt must not count as the current state, an identical
	// read has to hit moonraker again.
	pub.fail = false
	assert.NoError(t, engine.Sync(2, 9))
	assert.Len(t, pub.calls, 2)
}

func TestOnTagAbsentRespectsClearSpool(t *testing.T) {
	helper.InitTestLogging()

	pub := &mockPublisher{}
	engine := New(pub, false, 0)
	engine.OnTagAbsent()
	assert.Empty(t, pub.calls)

	pub = &mockPublisher{}
	engine = New(pub, true, 0)
	engine.OnTagAbsent()
	assert.Equal(t, []publishCall{{spool: 0, filament: 0}}, pub.calls)
}

func TestOnTagPresentPartialRecord(t *testing.T) {
	helper.InitTestLogging()
	rec := shared.TagRecord{SpoolID: helper.IntToPtr(5)}

	// Without clear_spool a half-written tag is ignored.
	pub := &mockPublisher{}
	engine := New(pub, false, 0)
	engine.OnTagPresent(rec)
	assert.Empty(t, pub.calls)

	// With clear_spool the missing record is treated as "unassigned".
	pub = &mockPublisher{}
	engine = New(pub, true, 0)
	engine.OnTagPresent(rec)
	assert.Equal(t, []publishCall{{spool: 5, filament: 0}}, pub.calls)
}

func TestOnTagPresentEmptyRecordWithClearSpool(t *testing.T) {
	helper.InitTestLogging()
	pub := &mockPublisher{}
	engine := New(pub, true, 0)

	engine.OnTagPresent(shared.TagRecord{})
	assert.Equal(t, []publishCall{{spool: 0, filament: 0}}, pub.calls)
}

func TestClearOnStartup(t *testing.T) {
	helper.InitTestLogging()

	pub := &mockPublisher{}
	engine := New(pub, true, 0)
	engine.ClearOnStartup()
	assert.Equal(t, []publishCall{{spool: 0, filament: 0}}, pub.calls)

	pub = &mockPublisher{}
	engine = New(pub, false, 0)
	engine.ClearOnStartup()
	assert.Empty(t, pub.calls)
}

func TestLastTracksConfirmedState(t *testing.T) {
	helper.InitTestLogging()
	pub := &mockPublisher{}
	engine := New(pub, false, 0)

	_, _, ok := engine.Last()
	assert.False(t, ok)

	assert.NoError(t, engine.Sync(3, 7))
	spool, filament, ok := engine.Last()
	assert.True(t, ok)
	assert.Equal(t, 3, spool)
	assert.Equal(t, 7, filament)

	// A failed publish of different values leaves the state unset, not stale.
	pub.fail = true
	assert.Error(t, engine.Sync(4, 8))
	_, _, ok = engine.Last()
	assert.False(t, ok)
}

func TestGateIsForwardedToPublisher(t *testing.T) {
	helper.InitTestLogging()
	pub := &mockPublisher{}
	engine := New(pub, false, 3)

	assert.NoError(t, engine.Sync(1, 2))
	assert.Equal(t, []publishCall{{spool: 1, filament: 2, gate: 3}}, pub.calls)
}

func TestTagLifecycleScenario(t *testing.T) {
	helper.InitTestLogging()
	pub := &mockPublisher{}

	// clear_spool off: presenting the same tag twice publishes once, removal
	// publishes nothing.
	engine := New(pub, false, 0)
	rec := shared.TagRecord{SpoolID: helper.IntToPtr(2), FilamentID: helper.IntToPtr(9)}
	engine.OnTagPresent(rec)
	engine.OnTagPresent(rec)
	engine.OnTagAbsent()
	assert.Equal(t, []publishCall{{spool: 2, filament: 9}}, pub.calls)

	// clear_spool on: removal clears the gate, and re-presenting the tag then
	// publishes again because the state moved to (0,0) in between.
	pub = &mockPublisher{}
	engine = New(pub, true, 0)
	engine.OnTagPresent(rec)
	engine.OnTagAbsent()
	engine.OnTagPresent(rec)
	assert.Equal(t, []publishCall{
		{spool: 2, filament: 9},
		{spool: 0, filament: 0},
		{spool: 2, filament: 9},
	}, pub.calls)
}
