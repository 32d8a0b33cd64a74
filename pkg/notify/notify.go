// Package notify implements the best-effort post-publish notification:
// a single framed message sent to a downstream syncer over TCP.
package notify

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"lol.mleku.dev/chk"
	"lol.mleku.dev/errorf"
	"lol.mleku.dev/log"
)

// dialTimeout bounds how long a notification send may block; failure
// here is logged and swallowed, never fatal to the caller.
const dialTimeout = 5 * time.Second

// Message is the wire shape of the notification: a fresh id per send, a
// UTC timestamp, and a fixed "sync" command. Payload is carried for
// forward compatibility and is empty on every message the beacon sends.
// Exported so the downstream listener can decode it without duplicating
// the shape.
type Message struct {
	ID        uuid.UUID `cbor:"1,keyasint"`
	Timestamp int64     `cbor:"2,keyasint"`
	Command   string    `cbor:"3,keyasint"`
	Payload   []byte    `cbor:"4,keyasint,omitempty"`
}

// Decode parses a message body as produced by Client.Sync, after the
// 4-byte length prefix has already been stripped off by the caller.
func Decode(body []byte) (Message, error) {
	var m Message
	if err := cbor.Unmarshal(body, &m); chk.E(err) {
		return Message{}, errorf.E("notify: decode: %w", err)
	}
	return m, nil
}

// Client holds the downstream syncer's address.
type Client struct {
	addr string
}

// NewClient builds a notification client targeting addr (host:port).
func NewClient(addr string) *Client {
	return &Client{addr: addr}
}

// Sync sends a best-effort "sync" notification. Any failure -- dial,
// write, or encode -- is logged and returned as a non-fatal error; this
// channel is fire-and-forget and the receiver polls as a fallback.
func (c *Client) Sync() (err error) {
	if c.addr == "" {
		return nil
	}
	msg := Message{ID: uuid.New(), Timestamp: time.Now().UTC().Unix(), Command: "sync"}
	body, err := cbor.Marshal(msg)
	if chk.E(err) {
		log.W.F("notify: encode sync message: %v", err)
		return errorf.E("notify: encode: %w", err)
	}

	conn, err := net.DialTimeout("tcp", c.addr, dialTimeout)
	if chk.E(err) {
		log.W.F("notify: dial %s: %v", c.addr, err)
		return errorf.E("notify: dial %s: %w", c.addr, err)
	}
	defer conn.Close()
	if err = conn.SetWriteDeadline(time.Now().Add(dialTimeout)); chk.E(err) {
		return err
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err = conn.Write(lenBuf[:]); chk.E(err) {
		log.W.F("notify: write length prefix to %s: %v", c.addr, err)
		return errorf.E("notify: write: %w", err)
	}
	if _, err = conn.Write(body); chk.E(err) {
		log.W.F("notify: write body to %s: %v", c.addr, err)
		return errorf.E("notify: write: %w", err)
	}
	return nil
}
