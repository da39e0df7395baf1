package sub

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podqueue/podqueue/model"
)

func stateWithEntries(n int) *FeedState {
	fs := NewFeedState()
	for i := n; i >= 1; i-- {
		fs.Entries = append(fs.Entries, model.Entry{
			Title: fmt.Sprintf("Episode %d", i),
			URLs:  []string{fmt.Sprintf("https://example.com/ep%d.mp3", i)},
		})
	}
	return fs
}

func indices(items []model.QueueItem) []int {
	out := make([]int, len(items))
	for i, item := range items {
		out[i] = item.Index
	}
	return out
}

func TestPlanNewItems_BacklogDisabled(t *testing.T) {
	fs := stateWithEntries(5)

	items, err := planNewItems(fs, false, nil)
	require.NoError(t, err)

	assert.Empty(t, items)
	require.NotNil(t, fs.LatestEntryNumber)
	assert.Equal(t, 5, *fs.LatestEntryNumber, "whole feed counts as seen")
}

func TestPlanNewItems_NilLimitDownloadsEverything(t *testing.T) {
	fs := stateWithEntries(5)

	items, err := planNewItems(fs, true, nil)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3, 4, 5}, indices(items))
	assert.Equal(t, 5, *fs.LatestEntryNumber)
}

func TestPlanNewItems_ZeroLimitDownloadsEverything(t *testing.T) {
	fs := stateWithEntries(3)
	zero := 0

	items, err := planNewItems(fs, true, &zero)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, indices(items))
}

func TestPlanNewItems_NegativeLimit(t *testing.T) {
	fs := stateWithEntries(3)
	neg := -1

	items, err := planNewItems(fs, true, &neg)
	require.Error(t, err)

	assert.Empty(t, items)
	assert.Nil(t, fs.LatestEntryNumber, "a rejected policy must not move the watermark")
}

func TestPlanNewItems_LimitSelectsNewest(t *testing.T) {
	fs := stateWithEntries(5)
	limit := 2

	items, err := planNewItems(fs, true, &limit)
	require.NoError(t, err)

	assert.Equal(t, []int{4, 5}, indices(items))
	assert.Equal(t, 3, *fs.LatestEntryNumber)
}

func TestPlanNewItems_LimitClampedToFeed(t *testing.T) {
	fs := stateWithEntries(3)
	limit := 50

	items, err := planNewItems(fs, true, &limit)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, indices(items))
}

func TestPlanNewItems_IncrementalAfterWatermark(t *testing.T) {
	fs := stateWithEntries(5)
	fs.AdvanceWatermark(3)

	limit := 1 // limit applies to first contact only
	items, err := planNewItems(fs, true, &limit)
	require.NoError(t, err)

	assert.Equal(t, []int{4, 5}, indices(items))
	assert.Equal(t, 3, *fs.LatestEntryNumber, "planning alone does not advance the watermark")
}

func TestPlanNewItems_NothingNew(t *testing.T) {
	fs := stateWithEntries(4)
	fs.AdvanceWatermark(4)

	items, err := planNewItems(fs, true, nil)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestFeedState_WatermarkNeverRegresses(t *testing.T) {
	fs := NewFeedState()

	fs.AdvanceWatermark(5)
	fs.AdvanceWatermark(3)
	assert.Equal(t, 5, *fs.LatestEntryNumber)

	fs.AdvanceWatermark(7)
	assert.Equal(t, 7, *fs.LatestEntryNumber)
}

func TestFeedState_QueueOrder(t *testing.T) {
	fs := NewFeedState()
	fs.PushBack(model.QueueItem{Index: 1})
	fs.PushBack(model.QueueItem{Index: 2})
	fs.PushFront(model.QueueItem{Index: 3, Overwrite: true})

	item, ok := fs.PopFront()
	require.True(t, ok)
	assert.Equal(t, 3, item.Index)
	assert.True(t, item.Overwrite)

	assert.True(t, fs.Queued(1))
	assert.False(t, fs.Queued(3))
}
