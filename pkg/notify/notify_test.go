package notify

import (
	"encoding/binary"
	"net"
	"testing"
	"time"
)

func TestSyncIsNoopWithoutAddress(t *testing.T) {
	c := NewClient("")
	if err := c.Sync(); err != nil {
		t.Fatalf("Sync with empty addr: %v", err)
	}
}

func TestSyncSendsFramedMessage(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	received := make(chan Message, 1)
	go func() {
		conn, acceptErr := ln.Accept()
		if acceptErr != nil {
			return
		}
		defer conn.Close()
		var lenBuf [4]byte
		if _, readErr := readFull(conn, lenBuf[:]); readErr != nil {
			return
		}
		body := make([]byte, binary.BigEndian.Uint32(lenBuf[:]))
		if _, readErr := readFull(conn, body); readErr != nil {
			return
		}
		msg, decodeErr := Decode(body)
		if decodeErr != nil {
			return
		}
		received <- msg
	}()

	c := NewClient(ln.Addr().String())
	if err = c.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	select {
	case msg := <-received:
		if msg.Command != "sync" {
			t.Fatalf("command = %q, want %q", msg.Command, "sync")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the notification")
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
