package duplex

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrors_NoStackTrace(t *testing.T) {
	for _, err := range []error{
		ErrFrameTooLarge, ErrMalformedPayload, ErrTransport, ErrBind,
		ErrInvalidStack, ErrInvalidOnMessage, ErrConnectionClosed,
		ErrDirectionClosed, ErrIncomplete, ErrBufferFull,
	} {
		assert.Equal(t, err.Error(), fmt.Sprintf("%+v", err))
	}
}

func TestMalformed(t *testing.T) {
	err := Malformed("tag %d", 7)

	assert.True(t, errors.Is(err, ErrMalformedPayload))
	assert.Equal(t, "tag 7: malformed payload", err.Error())
}
