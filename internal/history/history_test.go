package history

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog_AppendAndTurns(t *testing.T) {
	l := NewLog()
	assert.Equal(t, 0, l.Len())
	_, ok := l.Last()
	assert.False(t, ok)

	assert.Equal(t, 1, l.Append(Turn{Role: RoleUser, Content: "hi"}))
	assert.Equal(t, 2, l.Append(Turn{Role: RoleAssistant, Content: "hello"}))

	turns := l.Turns()
	require.Len(t, turns, 2)
	turns[0].Content = "mutated"
	assert.Equal(t, "hi", l.Turns()[0].Content, "Turns must return a copy")

	last, ok := l.Last()
	require.True(t, ok)
	assert.Equal(t, RoleAssistant, last.Role)
}

func TestLog_ConcurrentAppend(t *testing.T) {
	l := NewLog()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l.Append(Turn{Role: RoleUser, Content: fmt.Sprint(i)})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, l.Len())
}

func TestSerialize(t *testing.T) {
	got := Serialize([]Turn{
		{Role: RoleUser, Content: "recommend some jazz"},
		{Role: RoleAssistant, Content: "Try Kind of Blue."},
	})
	assert.Equal(t, "user: recommend some jazz\nassistant: Try Kind of Blue.", got)
	assert.Equal(t, "", Serialize(nil))
}

func TestSplit(t *testing.T) {
	turns := make([]Turn, 6)
	for i := range turns {
		turns[i] = Turn{Role: RoleUser, Content: fmt.Sprint(i + 1)}
	}

	head, tail := Split(turns, 4)
	assert.Len(t, head, 2)
	assert.Len(t, tail, 4)
	assert.Equal(t, "3", tail[0].Content)

	head, tail = Split(turns, 10)
	assert.Empty(t, head)
	assert.Len(t, tail, 6)

	head, tail = Split(turns, 0)
	assert.Len(t, head, 6)
	assert.Empty(t, tail)
}

func TestToEntries(t *testing.T) {
	entries := ToEntries([]Turn{
		{Role: RoleUser, Content: "a"},
		{Role: RoleAssistant, Content: "b"},
	})
	assert.Equal(t, []Entry{
		{Role: EntryHuman, Content: "a"},
		{Role: EntryAssistant, Content: "b"},
	}, entries)

	assert.Equal(t, Entry{Role: EntrySystem, Content: "Conversation summary: short"}, SummaryEntry("short"))
}

func TestRoleValid(t *testing.T) {
	assert.True(t, RoleUser.Valid())
	assert.True(t, RoleAssistant.Valid())
	assert.False(t, Role("system").Valid())
}
