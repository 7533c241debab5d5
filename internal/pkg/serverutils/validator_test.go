package serverutils

import (
	"errors"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ingestForm struct {
	Title   string `validate:"required"`
	Slug    string `validate:"required"`
	Content string `validate:"required"`
}

func TestValidateRequestPasses(t *testing.T) {
	err := ValidateRequest(ingestForm{Title: "t", Slug: "s", Content: "c"})
	assert.NoError(t, err)
}

func TestValidateRequestReportsFirstFailure(t *testing.T) {
	err := ValidateRequest(ingestForm{Title: "t"})
	require.Error(t, err)

	var fe *fiber.Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, fiber.StatusBadRequest, fe.Code)
	assert.Contains(t, fe.Message, "Slug")
	assert.Contains(t, fe.Message, "required")
}
