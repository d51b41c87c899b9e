package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelopeWrapped(t *testing.T) {
	var msg Message
	err := DecodeEnvelope([]byte(`{"data":{"id":7,"content":"hi"}}`), &msg)
	require.NoError(t, err)
	assert.Equal(t, uint(7), msg.ID)
	assert.Equal(t, "hi", msg.Content)
}

func TestDecodeEnvelopeBare(t *testing.T) {
	var msg Message
	err := DecodeEnvelope([]byte(`{"id":7,"content":"hi"}`), &msg)
	require.NoError(t, err)
	assert.Equal(t, uint(7), msg.ID)
}

func TestDecodeEnvelopeBareArray(t *testing.T) {
	var msgs []Message
	err := DecodeEnvelope([]byte(`[{"id":1},{"id":2}]`), &msgs)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
}

func TestDecodeEnvelopeWrappedArray(t *testing.T) {
	var msgs []Message
	err := DecodeEnvelope([]byte(`{"data":[{"id":1},{"id":2}]}`), &msgs)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
}

func TestDecodeEnvelopeNullData(t *testing.T) {
	// A literal {"data":null} body falls through to bare decoding, which for
	// a struct with a "data" field of its own would still work; for a plain
	// message it leaves the zero value.
	var msg Message
	err := DecodeEnvelope([]byte(`{"data":null}`), &msg)
	require.NoError(t, err)
	assert.Zero(t, msg.ID)
}

func TestDecodeEnvelopeInvalid(t *testing.T) {
	var msg Message
	err := DecodeEnvelope([]byte(`not json`), &msg)
	assert.Error(t, err)
}
