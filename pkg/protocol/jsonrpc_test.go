package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/ajitpratap0/toolmesh/pkg/errors"
)

func TestNewRequest(t *testing.T) {
	req, err := NewRequest("req-1", MethodPing, nil)
	require.NoError(t, err)
	assert.Equal(t, JSONRPCVersion, req.JSONRPC)
	assert.Equal(t, "req-1", req.ID)
	assert.Empty(t, req.Params)

	req, err = NewRequest(2, MethodToolsCall, ToolCallParams{Name: "echo", Arguments: map[string]interface{}{"text": "hi"}})
	require.NoError(t, err)

	var decoded ToolCallParams
	require.NoError(t, json.Unmarshal(req.Params, &decoded))
	assert.Equal(t, "echo", decoded.Name)
	assert.Equal(t, "hi", decoded.Arguments["text"])

	_, err = NewRequest(3, "x", make(chan int))
	assert.Error(t, err)
}

func TestNewErrorResponse(t *testing.T) {
	resp, err := NewErrorResponse("r", InvalidParams, "bad", nil)
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Nil(t, resp.Error.Data)
	assert.Contains(t, resp.Error.Error(), "bad")

	te := resp.Error.ToolError()
	assert.Equal(t, mcperrors.KindValidation, te.Kind())
	assert.Equal(t, mcperrors.CodeInvalidParams, te.Code())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		data string
		want MessageKind
	}{
		{"request", `{"jsonrpc":"2.0","id":1,"method":"ping"}`, KindRequest},
		{"notification", `{"jsonrpc":"2.0","method":"progress","params":{}}`, KindNotification},
		{"null id notification", `{"jsonrpc":"2.0","id":null,"method":"progress"}`, KindNotification},
		{"result", `{"jsonrpc":"2.0","id":"a","result":{"ok":true}}`, KindResponse},
		{"null result", `{"jsonrpc":"2.0","id":"a","result":null}`, KindResponse},
		{"error", `{"jsonrpc":"2.0","id":"a","error":{"code":-32601,"message":"nope"}}`, KindResponse},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"ping"}`, KindInvalid},
		{"no body", `{"jsonrpc":"2.0","id":1}`, KindInvalid},
		{"garbage", `not json`, KindInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify([]byte(tt.data)))
		})
	}

	assert.True(t, IsRequest([]byte(tests[0].data)))
	assert.True(t, IsNotification([]byte(tests[1].data)))
	assert.True(t, IsResponse([]byte(tests[3].data)))
}

func TestParseResponse(t *testing.T) {
	resp, ok := ParseResponse([]byte(`{"jsonrpc":"2.0","id":7,"result":{"echo":"hi"}}`))
	require.True(t, ok)
	assert.Equal(t, IDKey(7), IDKey(resp.ID))
	assert.JSONEq(t, `{"echo":"hi"}`, string(resp.Result))

	resp, ok = ParseResponse([]byte(`{"jsonrpc":"2.0","id":"x","error":{"code":-32105,"message":"slow down"}}`))
	require.True(t, ok)
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcperrors.KindRateLimit, resp.Error.ToolError().Kind())

	_, ok = ParseResponse([]byte(`{"jsonrpc":"2.0","method":"progress"}`))
	assert.False(t, ok)
}

func TestIDKey(t *testing.T) {
	assert.Equal(t, IDKey(float64(42)), IDKey(42))
	assert.Equal(t, IDKey(int64(42)), IDKey(json.Number("42")))
	assert.NotEqual(t, IDKey("42"), IDKey(42))
	assert.Empty(t, IDKey(nil))
}
