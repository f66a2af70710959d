// Package bufpool pools the per-datagram scratch objects the server and
// resolver allocate constantly: a 512-byte wire.Buffer per inbound or
// outbound datagram, and a wire.Message per parsed request/response.
// Pooling these keeps GC pressure down under sustained query load.
package bufpool

import (
	"sync"

	"github.com/dnsscience/rdnsd/internal/wire"
)

var bufferPool = sync.Pool{
	New: func() any {
		return wire.NewBuffer()
	},
}

// GetBuffer returns a zeroed, cursor-reset wire.Buffer from the pool.
func GetBuffer() *wire.Buffer {
	return bufferPool.Get().(*wire.Buffer)
}

// PutBuffer returns buf to the pool. Callers must not use buf afterward.
func PutBuffer(buf *wire.Buffer) {
	if buf == nil {
		return
	}
	buf.Reset()
	bufferPool.Put(buf)
}

var messagePool = sync.Pool{
	New: func() any {
		return wire.NewMessage()
	},
}

// GetMessage returns an empty *wire.Message from the pool.
func GetMessage() *wire.Message {
	return messagePool.Get().(*wire.Message)
}

// PutMessage clears msg's sections and returns it to the pool. Callers
// must not use msg afterward.
func PutMessage(msg *wire.Message) {
	if msg == nil {
		return
	}
	*msg = wire.Message{}
	messagePool.Put(msg)
}
