package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestRoundTrip(t *testing.T) {
	req := &Request{
		Tag:       ReqRegisterClient,
		Binding:   1,
		ShmFD:     -1,
		ShmHandle: -1,
	}
	copy(req.AppIDPrefix[:], []byte("myapp123"))

	decoded, err := DecodeRequest(req.Encode())
	require.NoError(t, err)
	require.Equal(t, req, decoded)
}

func TestResponseRoundTrip(t *testing.T) {
	resp := &Response{
		Tag:            RespRegisterShm,
		ShmObjectIndex: 7,
		DaemonProcessID: 4242,
	}
	decoded, err := DecodeResponse(resp.Encode())
	require.NoError(t, err)
	require.Equal(t, resp, decoded)
}

func TestDecodeRequestShortBuffer(t *testing.T) {
	_, err := DecodeRequest([]byte{0, 1, 2})
	require.Error(t, err)
}

func TestWriteRequestReadResponse(t *testing.T) {
	var buf bytes.Buffer
	req := &Request{Tag: ReqDaemonProcessID}
	require.NoError(t, WriteRequest(&buf, req))
	require.Equal(t, wireRequestSize, buf.Len())

	resp := &Response{Tag: RespDaemonProcessID, DaemonProcessID: 99}
	var respBuf bytes.Buffer
	respBuf.Write(resp.Encode())
	got, err := ReadResponse(&respBuf)
	require.NoError(t, err)
	require.Equal(t, int32(99), got.DaemonProcessID)
}

func TestTagStringers(t *testing.T) {
	require.Equal(t, "RegisterClient", ReqRegisterClient.String())
	require.Equal(t, "ErrorCode", RespErrorCode.String())
}
