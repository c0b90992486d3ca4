package linesource

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrors_NoStackTrace(t *testing.T) {
	assert.Equal(t, "line not found", fmt.Sprintf("%+v", ErrNotFound))
	assert.Equal(t, "lookup timed out", fmt.Sprintf("%+v", ErrLookupTimeout))
}
