package telegrambot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRegistry(t *testing.T) {
	reg := NewMemoryRegistry()

	_, ok := reg.UserByChat(11)
	assert.False(t, ok)

	reg.Link("usr1", 11)
	usrID, ok := reg.UserByChat(11)
	require.True(t, ok)
	assert.Equal(t, "usr1", usrID)
	chatID, ok := reg.ChatByUser("usr1")
	require.True(t, ok)
	assert.Equal(t, int64(11), chatID)

	// relinking the chat evicts the old user mapping
	reg.Link("usr2", 11)
	_, ok = reg.ChatByUser("usr1")
	assert.False(t, ok)
	usrID, _ = reg.UserByChat(11)
	assert.Equal(t, "usr2", usrID)

	// relinking the user evicts the old chat mapping
	reg.Link("usr2", 22)
	_, ok = reg.UserByChat(11)
	assert.False(t, ok)

	reg.Unlink(22)
	_, ok = reg.UserByChat(22)
	assert.False(t, ok)
	_, ok = reg.ChatByUser("usr2")
	assert.False(t, ok)
}

func TestParseCallbackData(t *testing.T) {
	action, id, ok := parseCallbackData("approve_teacher:abc-123")
	require.True(t, ok)
	assert.Equal(t, "approve_teacher", action)
	assert.Equal(t, "abc-123", id)

	_, _, ok = parseCallbackData("approve_teacher:")
	assert.False(t, ok)
	_, _, ok = parseCallbackData("promote:abc")
	assert.False(t, ok)
	_, _, ok = parseCallbackData("garbage")
	assert.False(t, ok)
}

func TestParseDateRange(t *testing.T) {
	start, end, err := parseDateRange("2026-03-02 to 2026-03-04")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-02", start.Format(dateLayout))
	assert.Equal(t, "2026-03-04", end.Format(dateLayout))

	start, end, err = parseDateRange("2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, start, end)

	_, _, err = parseDateRange("next tuesday")
	assert.Error(t, err)
}
