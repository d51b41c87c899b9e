package thread

import "gigsync/internal/models"

// Entry is one message in a rendering plan produced by BuildThread.
type Entry struct {
	Message models.Message

	// ShowHeader marks the first message of a consecutive same-sender run;
	// only that message renders the sender's name and avatar.
	ShowHeader bool

	// ShowTimestamp marks the last message of a run; only that message
	// renders the timestamp and read-receipt indicator.
	ShowTimestamp bool

	// SeenMarker attaches to the most recent message that is both sent by
	// the local user and marked read. At most one entry carries it.
	SeenMarker bool
}

// BuildThread computes a rendering plan for an ordered message list. Runs are
// determined by array position, not time gaps. The function is deterministic
// and performs no I/O.
func BuildThread(msgs []models.Message, localUserID uint) []Entry {
	entries := make([]Entry, len(msgs))
	seenIdx := -1
	for i, m := range msgs {
		entries[i] = Entry{Message: m}
		if i == 0 || msgs[i-1].SenderID != m.SenderID {
			entries[i].ShowHeader = true
		}
		if i == len(msgs)-1 || msgs[i+1].SenderID != m.SenderID {
			entries[i].ShowTimestamp = true
		}
		if m.SenderID == localUserID && m.IsRead {
			seenIdx = i
		}
	}
	if seenIdx >= 0 {
		entries[seenIdx].SeenMarker = true
	}
	return entries
}
