package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntry_Validate(t *testing.T) {
	e := Entry{Title: "Episode 1"}
	assert.Error(t, e.Validate())

	e.URLs = []string{"https://example.com/ep1.mp3"}
	assert.NoError(t, e.Validate())
}

func TestUpdateResult_String(t *testing.T) {
	assert.Equal(t, "success", ResultSuccess.String())
	assert.Equal(t, "unneeded", ResultUnneeded.String())
	assert.Equal(t, "failure", ResultFailure.String())
	assert.Equal(t, "attempt-again", ResultAttemptAgain.String())
	assert.Equal(t, "unknown", UpdateResult(42).String())
}
