package history

// EntryRole is the role of an entry in the history sent to the model.
type EntryRole string

// Entry roles.
const (
	EntrySystem    EntryRole = "system"
	EntryHuman     EntryRole = "human"
	EntryAssistant EntryRole = "assistant"
)

// SummaryPrefix precedes the running summary in the system entry.
const SummaryPrefix = "Conversation summary: "

// Entry is one element of the reduced history.
type Entry struct {
	Role    EntryRole `json:"role"`
	Content string    `json:"content"`
}

// SummaryEntry wraps a summary as the leading system entry.
func SummaryEntry(summary string) Entry {
	return Entry{Role: EntrySystem, Content: SummaryPrefix + summary}
}

// ToEntry converts a log turn. User turns become human entries.
func ToEntry(t Turn) Entry {
	if t.Role == RoleUser {
		return Entry{Role: EntryHuman, Content: t.Content}
	}
	return Entry{Role: EntryAssistant, Content: t.Content}
}

// ToEntries converts turns in order.
func ToEntries(turns []Turn) []Entry {
	out := make([]Entry, len(turns))
	for i, t := range turns {
		out[i] = ToEntry(t)
	}
	return out
}
