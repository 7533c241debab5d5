package service

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestSanitizeTitleTrimsQuotesAndWhitespace(t *testing.T) {
	assert.Equal(t, "Postgres Vacuum Tuning", sanitizeTitle("  \"Postgres Vacuum Tuning\"  \n"))
	assert.Equal(t, "Hello", sanitizeTitle("'Hello'"))
}

func TestSanitizeTitleKeepsFirstLineOnly(t *testing.T) {
	got := sanitizeTitle("Deploy Checklist\n\nHere is a longer explanation the model added anyway.")
	assert.Equal(t, "Deploy Checklist", got)
}

func TestSanitizeTitleCapsLength(t *testing.T) {
	got := sanitizeTitle(strings.Repeat("x", 200))
	assert.Equal(t, 80, len([]rune(got)))
}

func TestSanitizeTitleEmptyOutput(t *testing.T) {
	assert.Equal(t, "", sanitizeTitle("  \n\n "))
	assert.Equal(t, "", sanitizeTitle(`""`))
}

func TestMessageUUIDPassesThroughValidUUID(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, id, messageUUID("chat-1", id.String()))
}

func TestMessageUUIDDeterministicForOpaqueIds(t *testing.T) {
	a := messageUUID("chat-1", "msg_abc")
	b := messageUUID("chat-1", "msg_abc")
	assert.Equal(t, a, b)

	// Same engine id under a different chat must not collide.
	c := messageUUID("chat-2", "msg_abc")
	assert.NotEqual(t, a, c)
}
