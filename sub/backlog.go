package sub

import (
	"fmt"

	"github.com/podqueue/podqueue/model"
)

// planNewItems establishes the watermark on first contact and returns the
// queue items for every entry newer than it, oldest first.
//
// On first contact (nil watermark): backlog disabled marks the whole feed
// as seen; a nil or zero limit downloads the entire backlog; a negative
// limit is a policy violation that downloads nothing and leaves the
// watermark unset; otherwise the limit is clamped to the entry count and
// the watermark set so exactly that many newest entries are selected.
func planNewItems(fs *FeedState, downloadBacklog bool, backlogLimit *int) ([]model.QueueItem, error) {
	total := len(fs.Entries)

	if fs.LatestEntryNumber == nil {
		switch {
		case !downloadBacklog:
			fs.AdvanceWatermark(total)
			return nil, nil

		case backlogLimit == nil || *backlogLimit == 0:
			fs.AdvanceWatermark(0)

		case *backlogLimit < 0:
			return nil, fmt.Errorf("invalid backlog limit %d", *backlogLimit)

		default:
			limit := *backlogLimit
			if limit > total {
				limit = total
			}
			fs.AdvanceWatermark(total - limit)
		}
	}

	latest := *fs.LatestEntryNumber
	if latest >= total {
		return nil, nil
	}

	items := make([]model.QueueItem, 0, total-latest)
	for i := latest + 1; i <= total; i++ {
		items = append(items, model.QueueItem{Index: i})
	}
	return items, nil
}
