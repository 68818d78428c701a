// Package wire defines the fixed-layout request/response structs exchanged
// with the daemon over the IPC channel, and their binary encoding:
// RegisterClient, RegisterSharedMemoryObject, UnregisterSharedMemoryObject,
// DaemonProcessId, and ErrorCode.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// RequestTag discriminates the Request union.
type RequestTag uint8

const (
	ReqRegisterClient RequestTag = iota
	ReqRegisterShm
	ReqUnregisterShm
	ReqDaemonProcessID
)

func (t RequestTag) String() string {
	switch t {
	case ReqRegisterClient:
		return "RegisterClient"
	case ReqRegisterShm:
		return "RegisterShm"
	case ReqUnregisterShm:
		return "UnregisterShm"
	case ReqDaemonProcessID:
		return "DaemonProcessId"
	default:
		return fmt.Sprintf("RequestTag(%d)", uint8(t))
	}
}

// Request is a fixed-size wire struct with an explicit byte layout, encoded
// and decoded without reflection.
type Request struct {
	Tag         RequestTag
	Binding     uint8   // RegisterClient only
	AppIDPrefix [8]byte // RegisterClient only, first 8 bytes of AppIdType
	ShmFD       int32   // RegisterShm only
	ShmHandle   int32   // UnregisterShm only
}

// wireRequestSize is the encoded size in bytes: 1 (tag) + 1 (binding) +
// 8 (app id prefix) + 4 (shm fd) + 4 (shm handle) = 18.
const wireRequestSize = 18

// Encode writes r in a fixed 18-byte little-endian layout.
func (r *Request) Encode() []byte {
	buf := make([]byte, wireRequestSize)
	buf[0] = byte(r.Tag)
	buf[1] = r.Binding
	copy(buf[2:10], r.AppIDPrefix[:])
	binary.LittleEndian.PutUint32(buf[10:14], uint32(r.ShmFD))
	binary.LittleEndian.PutUint32(buf[14:18], uint32(r.ShmHandle))
	return buf
}

// DecodeRequest parses a fixed 18-byte buffer into a Request.
func DecodeRequest(buf []byte) (*Request, error) {
	if len(buf) < wireRequestSize {
		return nil, fmt.Errorf("wire: short request buffer: %d bytes", len(buf))
	}
	r := &Request{
		Tag:       RequestTag(buf[0]),
		Binding:   buf[1],
		ShmFD:     int32(binary.LittleEndian.Uint32(buf[10:14])),
		ShmHandle: int32(binary.LittleEndian.Uint32(buf[14:18])),
	}
	copy(r.AppIDPrefix[:], buf[2:10])
	return r, nil
}

// ResponseTag discriminates the Response union.
type ResponseTag uint8

const (
	RespRegisterClient ResponseTag = iota
	RespRegisterShm
	RespUnregisterShm
	RespDaemonProcessID
	RespErrorCode
)

func (t ResponseTag) String() string {
	switch t {
	case RespRegisterClient:
		return "RegisterClient"
	case RespRegisterShm:
		return "RegisterShm"
	case RespUnregisterShm:
		return "UnregisterShm"
	case RespDaemonProcessID:
		return "DaemonProcessId"
	case RespErrorCode:
		return "ErrorCode"
	default:
		return fmt.Sprintf("ResponseTag(%d)", uint8(t))
	}
}

// Response mirrors Request: a tagged union over the daemon's possible reply
// shapes, restated from daemon_communication_response.h's Response variant.
type Response struct {
	Tag                  ResponseTag
	TraceClientID        uint32
	ShmObjectIndex       int32
	UnregisterSuccessful bool
	DaemonProcessID      int32
	ErrorCode            uint32
}

// wireResponseSize: 1 (tag) + 4 (client id) + 4 (shm index) + 1 (bool) +
// 4 (daemon pid) + 4 (error code) = 18.
const wireResponseSize = 18

func (r *Response) Encode() []byte {
	buf := make([]byte, wireResponseSize)
	buf[0] = byte(r.Tag)
	binary.LittleEndian.PutUint32(buf[1:5], r.TraceClientID)
	binary.LittleEndian.PutUint32(buf[5:9], uint32(r.ShmObjectIndex))
	if r.UnregisterSuccessful {
		buf[9] = 1
	}
	binary.LittleEndian.PutUint32(buf[10:14], uint32(r.DaemonProcessID))
	binary.LittleEndian.PutUint32(buf[14:18], r.ErrorCode)
	return buf
}

func DecodeResponse(buf []byte) (*Response, error) {
	if len(buf) < wireResponseSize {
		return nil, fmt.Errorf("wire: short response buffer: %d bytes", len(buf))
	}
	return &Response{
		Tag:                  ResponseTag(buf[0]),
		TraceClientID:        binary.LittleEndian.Uint32(buf[1:5]),
		ShmObjectIndex:       int32(binary.LittleEndian.Uint32(buf[5:9])),
		UnregisterSuccessful: buf[9] != 0,
		DaemonProcessID:      int32(binary.LittleEndian.Uint32(buf[10:14])),
		ErrorCode:            binary.LittleEndian.Uint32(buf[14:18]),
	}, nil
}

// WriteRequest and ReadResponse frame a single request/response exchange:
// one write of the fixed request followed by one read of the fixed response.

func WriteRequest(w io.Writer, r *Request) error {
	_, err := w.Write(r.Encode())
	return err
}

func ReadResponse(r io.Reader) (*Response, error) {
	buf := make([]byte, wireResponseSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return DecodeResponse(buf)
}
