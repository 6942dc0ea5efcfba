package database

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDryRunStore() *DryRunStore {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewDryRunStore(logger)
}

func TestDryRunStoreFillsRecordIDs(t *testing.T) {
	store := newDryRunStore()
	ctx := context.Background()

	call := &CallRecord{CallID: "C1", Status: "completed"}
	require.NoError(t, store.InsertCallRecord(ctx, call))
	assert.NotEmpty(t, call.ID)

	segment := &SegmentRecord{CallID: "C1", Kind: "synthesis", Text: "হ্যালো"}
	require.NoError(t, store.InsertSegment(ctx, segment))
	assert.NotEmpty(t, segment.ID)

	audio := &AudioEventRecord{CallID: "C1", Kind: "playback_start", FileName: "prompt.wav"}
	require.NoError(t, store.InsertAudioEvent(ctx, audio))
	assert.NotEmpty(t, audio.ID)
}

func TestDryRunStoreKeepsExistingIDs(t *testing.T) {
	store := newDryRunStore()

	segment := &SegmentRecord{ID: "seg-1", CallID: "C1"}
	require.NoError(t, store.InsertSegment(context.Background(), segment))
	assert.Equal(t, "seg-1", segment.ID)
}

func TestDryRunStoreBatchInsert(t *testing.T) {
	store := newDryRunStore()

	records := []SegmentRecord{
		{CallID: "C1", Kind: "synthesis"},
		{CallID: "C1", Kind: "recognition"},
	}
	require.NoError(t, store.InsertSegments(context.Background(), records))
	assert.NotEmpty(t, records[0].ID)
	assert.NotEmpty(t, records[1].ID)
}

func TestDryRunStoreReadsAreEmpty(t *testing.T) {
	store := newDryRunStore()
	ctx := context.Background()

	call, err := store.GetCallRecord(ctx, "C1")
	require.NoError(t, err)
	assert.Nil(t, call)

	calls, err := store.ListCallRecords(ctx, CallQuery{Status: "completed", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, calls)

	segments, err := store.ListSegments(ctx, "C1")
	require.NoError(t, err)
	assert.Empty(t, segments)
}

func TestDryRunStoreHealthAndClose(t *testing.T) {
	store := newDryRunStore()
	assert.NoError(t, store.Health())
	assert.NoError(t, store.Close())
}

func TestTimestampOrNow(t *testing.T) {
	fixed := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, fixed, timestampOrNow(fixed))
	assert.False(t, timestampOrNow(time.Time{}).IsZero())
}
