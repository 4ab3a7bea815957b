package codec

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	line, err := Encode(map[string]any{"cmd": "ping", "text": "a\nb"})
	require.NoError(t, err)
	assert.Equal(t, `{"cmd":"ping","text":"a\nb"}`, line)

	line, err = Encode(json.RawMessage("{\n  \"cmd\": \"ping\"\r\n}"))
	require.NoError(t, err)
	assert.Equal(t, `{"cmd":"ping"}`, line)

	_, err = Encode(func() {})
	assert.Error(t, err)
}

func TestEncodeRaw(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		expErr  error
	}{
		{name: "plain", payload: "ping"},
		{name: "empty", payload: ""},
		{name: "newline", payload: "a\nb", expErr: ErrMultiline},
		{name: "carriage return", payload: "a\rb", expErr: ErrMultiline},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			out, err := EncodeRaw(c.payload)
			if c.expErr != nil {
				assert.ErrorIs(t, err, c.expErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.payload, out)
		})
	}
}

func TestDecode(t *testing.T) {
	t.Run("ok with result", func(t *testing.T) {
		var out struct {
			Rows int `json:"rows"`
		}
		err := Decode(`{"ok":true,"result":{"rows":3}}`, &out)
		require.NoError(t, err)
		assert.Equal(t, 3, out.Rows)
	})

	t.Run("ok with nil result target", func(t *testing.T) {
		assert.NoError(t, Decode(`{"ok":true,"result":"x"}`, nil))
	})

	t.Run("ok without result", func(t *testing.T) {
		var out string
		assert.NoError(t, Decode(`{"ok":true}`, &out))
		assert.Equal(t, "", out)
	})

	t.Run("backend error", func(t *testing.T) {
		err := Decode(`{"ok":false,"error":"file not found"}`, nil)
		var replyErr *ReplyError
		require.True(t, errors.As(err, &replyErr))
		assert.Equal(t, "file not found", replyErr.Message)
	})

	t.Run("backend error without message", func(t *testing.T) {
		err := Decode(`{"ok":false}`, nil)
		assert.EqualError(t, err, "backend error: unknown error")
	})

	t.Run("not json", func(t *testing.T) {
		assert.Error(t, Decode("Backend started", nil))
	})

	t.Run("result type mismatch", func(t *testing.T) {
		var out int
		assert.Error(t, Decode(`{"ok":true,"result":"three"}`, &out))
	})
}
