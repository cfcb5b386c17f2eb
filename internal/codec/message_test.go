package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Request(t *testing.T) {
	m, err := Decode([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	require.NoError(t, err)
	assert.Equal(t, KindRequest, m.Kind)
	assert.Equal(t, "ping", m.Method)
	assert.Equal(t, "1", string(m.ID))
}

func TestDecode_Notification(t *testing.T) {
	m, err := Decode([]byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	require.NoError(t, err)
	assert.Equal(t, KindNotification, m.Kind)
	assert.Nil(t, m.ID)
}

func TestDecode_Response(t *testing.T) {
	m, err := Decode([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
	require.NoError(t, err)
	assert.Equal(t, KindResponse, m.Kind)

	m, err = Decode([]byte(`{"jsonrpc":"2.0","id":"x","error":{"code":-32601,"message":"no"}}`))
	require.NoError(t, err)
	assert.Equal(t, KindResponse, m.Kind)
}

func TestDecode_PreservesUnknownFieldsVerbatim(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"ping","_meta":{"trace":"abc"}}`)
	m, err := Decode(raw)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(m.Raw))
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Decode([]byte(`{"jsonrpc":"2.0"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Decode([]byte(``))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeAny_Batch(t *testing.T) {
	raw := []byte(`[{"jsonrpc":"2.0","id":1,"method":"a"},{"jsonrpc":"2.0","method":"b"}]`)
	_, batch, err := DecodeAny(raw)
	require.NoError(t, err)
	require.NotNil(t, batch)
	require.Len(t, batch.Items, 2)
	assert.Equal(t, KindRequest, batch.Items[0].Kind)
	assert.Equal(t, KindNotification, batch.Items[1].Kind)
}

func TestDecodeAny_SingleMessage(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	m, batch, err := DecodeAny(raw)
	require.NoError(t, err)
	assert.Nil(t, batch)
	assert.Equal(t, KindRequest, m.Kind)
}

func TestClassify(t *testing.T) {
	k, err := Classify([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	require.NoError(t, err)
	assert.Equal(t, KindRequest, k)

	k, err = Classify([]byte(`[]`))
	require.NoError(t, err)
	assert.Equal(t, KindBatch, k)
}
