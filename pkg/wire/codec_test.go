package wire

import (
	"errors"
	"testing"

	"github.com/cuemby/holonode/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type profile struct {
	Nickname string            `codec:"nickname"`
	Fields   map[string]string `codec:"fields"`
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := profile{Nickname: "peter", Fields: map[string]string{"avatar": "cat.png"}}

	data, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode[profile](data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeShapeMismatch(t *testing.T) {
	data, err := Encode(42)
	require.NoError(t, err)

	_, err = Decode[profile](data)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrDecodeError))
}

type message struct {
	Text string `codec:"text"`
}

func TestDecodeRejectsForeignStruct(t *testing.T) {
	data, err := Encode(profile{Nickname: "peter", Fields: map[string]string{"avatar": "cat.png"}})
	require.NoError(t, err)

	_, err = Decode[message](data)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrDecodeError), "got %v", err)

	list, err := Encode([]profile{{Nickname: "peter"}})
	require.NoError(t, err)
	_, err = Decode[[]message](list)
	assert.True(t, errors.Is(err, types.ErrDecodeError), "got %v", err)
}

func TestZomeCallBinaryFieldsSurvive(t *testing.T) {
	call := types.ZomeCall{
		ZomeCallUnsigned: types.ZomeCallUnsigned{
			CellID:     types.CellID{DnaHash: []byte{1, 2, 3}, AgentPubKey: []byte{4, 5, 6}},
			ZomeName:   "holomess",
			FnName:     "create_message",
			Payload:    []byte{0xa5, 'h', 'e', 'l', 'l', 'o'},
			Provenance: []byte{4, 5, 6},
			Nonce:      make([]byte, 32),
			ExpiresAt:  1700000000000000,
		},
		Signature: []byte{9, 9, 9},
	}

	data, err := Marshal(&call)
	require.NoError(t, err)

	var out types.ZomeCall
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, call, out)
}

func TestPayloadErr(t *testing.T) {
	p := ErrorPayload("ribosome_error", "nonce already seen")
	he := p.Err()
	require.NotNil(t, he)
	assert.Equal(t, "ribosome_error", he.Type)
	assert.Equal(t, "nonce already seen", he.Reason)

	ok, err := NewPayload("app_enabled", nil)
	require.NoError(t, err)
	assert.Nil(t, ok.Err())
}
