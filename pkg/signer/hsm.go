package signer

import (
	"bufio"
	"encoding/binary"
	"net"
	"strconv"
	"strings"
	"time"

	"lol.mleku.dev/chk"
	"lol.mleku.dev/errorf"
	"lol.mleku.dev/log"
)

// dialTimeout bounds how long HSM connects and round-trips are allowed to
// take; a stuck HSM must not be allowed to stall the scheduler forever.
const dialTimeout = 5 * time.Second

// HSM signs against a remote key-management appliance over a small
// length-prefixed request/response protocol: connect, authenticate with
// the configured key id and password, request a signature over a body,
// disconnect. The appliance holds the private key; nothing key-shaped
// ever touches this process's memory beyond the public key, fetched once
// at construction.
type HSM struct {
	addr      string
	authKeyID string
	password  string
	signKeyID uint32
	pub       []byte
}

// ParseHSMKeyID accepts a signing key id as either a decimal integer or a
// 0x-prefixed hexadecimal one, per the appliance's addressing convention.
func ParseHSMKeyID(s string) (id uint32, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errorf.E("signer: empty HSM signing key id")
	}
	base := 10
	trimmed := s
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base = 16
		trimmed = s[2:]
	}
	v, perr := strconv.ParseUint(trimmed, base, 32)
	if chk.E(perr) {
		return 0, errorf.E("signer: invalid HSM signing key id %q: %w", s, perr)
	}
	return uint32(v), nil
}

// NewHSM connects to addr, authenticates, and fetches the public key for
// signKeyID, exactly once. The resulting signer makes one fresh
// connection per Sign call afterward -- HSM network connectors are not
// assumed to tolerate long-lived idle sessions.
func NewHSM(addr, authKeyID, password string, signKeyID uint32) (h *HSM, err error) {
	h = &HSM{addr: addr, authKeyID: authKeyID, password: password, signKeyID: signKeyID}
	conn, err := h.connect()
	if chk.E(err) {
		return nil, err
	}
	defer conn.Close()
	if h.pub, err = requestPublicKey(conn, signKeyID); chk.E(err) {
		return nil, errorf.E("signer: hsm fetch public key: %w", err)
	}
	log.I.F("signer: attached HSM signer at %s, key id %d", addr, signKeyID)
	return h, nil
}

func (h *HSM) connect() (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", h.addr, dialTimeout)
	if chk.E(err) {
		return nil, errorf.E("signer: dial hsm %s: %w", h.addr, err)
	}
	if err = conn.SetDeadline(time.Now().Add(dialTimeout)); chk.E(err) {
		conn.Close()
		return nil, errorf.E("signer: hsm set deadline: %w", err)
	}
	if err = authenticate(conn, h.authKeyID, h.password); chk.E(err) {
		conn.Close()
		return nil, errorf.E("signer: hsm authenticate: %w", err)
	}
	return conn, nil
}

// PublicKey returns the public key fetched at construction time.
func (h *HSM) PublicKey() []byte { return h.pub }

// Sign requests a signature over data from the appliance, opening a
// fresh connection for the round-trip.
func (h *HSM) Sign(data []byte) (sig []byte, err error) {
	conn, err := h.connect()
	if chk.E(err) {
		return nil, err
	}
	defer conn.Close()
	if err = conn.SetDeadline(time.Now().Add(dialTimeout)); chk.E(err) {
		return nil, err
	}
	if sig, err = requestSignature(conn, h.signKeyID, data); chk.E(err) {
		return nil, errorf.E("signer: hsm sign: %w", err)
	}
	return sig, nil
}

// The wire protocol below is a minimal length-prefixed request/response
// exchange: a one-byte opcode, a uint32 big-endian length, then the
// payload. It exists to keep HSM signing decoupled from any specific
// appliance vendor's SDK.

const (
	opAuth      = 0x01
	opGetPubKey = 0x02
	opSign      = 0x03
)

func writeFrame(w *bufio.Writer, op byte, payload []byte) error {
	if err := w.WriteByte(op); chk.E(err) {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); chk.E(err) {
		return err
	}
	if _, err := w.Write(payload); chk.E(err) {
		return err
	}
	return w.Flush()
}

func readFrame(r *bufio.Reader) (payload []byte, err error) {
	var lenBuf [4]byte
	if _, err = readFull(r, lenBuf[:]); chk.E(err) {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	payload = make([]byte, n)
	if _, err = readFull(r, payload); chk.E(err) {
		return nil, err
	}
	return payload, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func authenticate(conn net.Conn, authKeyID, password string) error {
	w := bufio.NewWriter(conn)
	r := bufio.NewReader(conn)
	req := authKeyID + "\x00" + password
	if err := writeFrame(w, opAuth, []byte(req)); chk.E(err) {
		return err
	}
	resp, err := readFrame(r)
	if chk.E(err) {
		return err
	}
	if len(resp) != 1 || resp[0] != 0 {
		return errorf.E("signer: hsm authentication rejected")
	}
	return nil
}

func requestPublicKey(conn net.Conn, keyID uint32) ([]byte, error) {
	w := bufio.NewWriter(conn)
	r := bufio.NewReader(conn)
	var idBuf [4]byte
	binary.BigEndian.PutUint32(idBuf[:], keyID)
	if err := writeFrame(w, opGetPubKey, idBuf[:]); chk.E(err) {
		return nil, err
	}
	return readFrame(r)
}

func requestSignature(conn net.Conn, keyID uint32, data []byte) ([]byte, error) {
	w := bufio.NewWriter(conn)
	r := bufio.NewReader(conn)
	req := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(req[:4], keyID)
	copy(req[4:], data)
	if err := writeFrame(w, opSign, req); chk.E(err) {
		return nil, err
	}
	return readFrame(r)
}
