package correlate

import (
	"sort"
	"strings"
	"time"

	"queuejoy/internal/models"
)

// Staged is the multi-field update the correlator applies to every matched
// queue entry. All entries in EntryIDs are committed together or not at all.
type Staged struct {
	EntryIDs  []string
	CounterID string
	Status    string
	At        time.Time
}

func (s Staged) Empty() bool {
	return len(s.EntryIDs) == 0
}

// Matches reports whether a queue entry should be flagged for notification
// when targetQueueID is called: exact id match after trimming, and the entry
// must have a linked chat.
func Matches(entry models.QueueEntry, targetQueueID string) bool {
	if strings.TrimSpace(entry.QueueID) != targetQueueID {
		return false
	}
	return entry.ChatID != ""
}

// Stage scans a queue snapshot and stages the "serving" update for every
// matched entry. Duplicate tickets with the same queue id all match; they are
// not deduplicated. An empty result is a no-op, not an error.
func Stage(snapshot map[string]models.QueueEntry, targetQueueID, counterID string, now time.Time) Staged {
	staged := Staged{
		CounterID: counterID,
		Status:    models.StatusServing,
		At:        now,
	}
	for key, entry := range snapshot {
		if Matches(entry, targetQueueID) {
			staged.EntryIDs = append(staged.EntryIDs, key)
		}
	}
	sort.Strings(staged.EntryIDs)
	return staged
}

// Apply writes the staged fields onto a single entry, mirroring what the
// store commits.
func Apply(entry *models.QueueEntry, staged Staged) {
	entry.Status = staged.Status
	entry.CounterID = &staged.CounterID
	entry.NotifyRequested = true
	at := staged.At
	entry.NotifyRequestedAt = &at
	entry.NotifiedAt = &at
}
