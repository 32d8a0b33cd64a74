// Command datasync is the downstream syncer: it holds a read-only view of
// the strand the beacon daemon writes to and refreshes it whenever
// triggered, either by an inbound notification from pkg/notify or by its
// own fallback polling period, so a missed notification is never fatal.
package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ipfs/go-cid"
	"lol.mleku.dev/chk"
	"lol.mleku.dev/log"
	"twine.dev/app/config"
	"twine.dev/pkg/chain"
	"twine.dev/pkg/codec"
	"twine.dev/pkg/notify"
	"twine.dev/pkg/signer"
	"twine.dev/pkg/store"
)

func main() {
	cfg, err := config.New()
	if chk.T(err) {
		os.Exit(1)
	}

	strand, strandID, st, err := open(cfg)
	if chk.E(err) {
		os.Exit(1)
	}
	defer func() { chk.E(st.Close()) }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		log.I.F("datasync: shutting down")
		cancel()
	}()

	sync := make(chan struct{}, 1)
	go listen(ctx, cfg.ListenAddr, sync)
	go schedule(ctx, time.Duration(cfg.SyncPeriodSeconds)*time.Second, sync)

	worker(ctx, st, strand, strandID, sync)
}

// open loads the strand the daemon writes to and opens its store; this
// process only reads from it. The strand JSON and the store directory are the same
// ones twine.dev/app derives so the two processes share a data volume.
func open(cfg *config.C) (*chain.Strand, cid.Cid, store.Store, error) {
	raw, err := os.ReadFile(cfg.StrandJSONPath)
	if chk.E(err) {
		return nil, cid.Undef, nil, err
	}
	s := &chain.Strand{}
	if err = json.Unmarshal(raw, s); chk.E(err) {
		return nil, cid.Undef, nil, err
	}
	id, err := s.ID()
	if chk.E(err) {
		return nil, cid.Undef, nil, err
	}
	st, err := store.OpenBadger(filepath.Join(filepath.Dir(cfg.StrandJSONPath), "store"), cfg.LogLevel)
	if chk.E(err) {
		return nil, cid.Undef, nil, err
	}
	return s, id, st, nil
}

// listen accepts connections carrying the length-prefixed notification
// messages and feeds the sync channel on every "sync" command it sees.
func listen(ctx context.Context, addr string, sync chan<- struct{}) {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if chk.E(err) {
		log.E.F("datasync: listen on %s: %v", addr, err)
		return
	}
	log.I.F("datasync: listening on %s", addr)
	go func() {
		<-ctx.Done()
		chk.E(ln.Close())
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.W.F("datasync: accept: %v", err)
			continue
		}
		go handleConn(conn, sync)
	}
}

func handleConn(conn net.Conn, sync chan<- struct{}) {
	defer conn.Close()
	var lenBuf [4]byte
	if _, err := readFull(conn, lenBuf[:]); chk.E(err) {
		return
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 || n > 1<<16 {
		log.W.F("datasync: implausible frame length %d from %s", n, conn.RemoteAddr())
		return
	}
	body := make([]byte, n)
	if _, err := readFull(conn, body); chk.E(err) {
		return
	}
	msg, err := notify.Decode(body)
	if chk.E(err) {
		return
	}
	log.T.F("datasync: received message: %+v", msg)
	if msg.Command == "sync" {
		select {
		case sync <- struct{}{}:
		default:
		}
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

// schedule feeds the sync channel every period, giving the syncer a
// fallback cadence independent of the notification channel.
func schedule(ctx context.Context, period time.Duration, sync chan<- struct{}) {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			select {
			case sync <- struct{}{}:
			default:
			}
		}
	}
}

// worker waits for a sync signal, then resolves and verifies the
// strand's latest pulse from the shared store. A failed sync is logged
// and retried on the next signal rather than aborting the process.
func worker(ctx context.Context, st store.Store, strand *chain.Strand, strandID cid.Cid, sync <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sync:
			if err := runSync(ctx, st, strand, strandID); chk.E(err) {
				log.E.F("datasync: sync failed: %v", err)
				time.Sleep(5 * time.Second)
			}
		}
	}
}

func runSync(ctx context.Context, st store.Store, strand *chain.Strand, strandID cid.Cid) error {
	log.D.F("datasync: beginning sync...")
	latest, index, err := st.Latest(ctx, strandID)
	if err != nil {
		return err
	}
	pulse, err := st.LoadPulse(ctx, latest)
	if err != nil {
		return err
	}
	body, err := pulse.EncodeBody()
	if err != nil {
		return err
	}
	if !signer.Verify(strand.PublicKey, body, pulse.Signature) {
		return signer.ErrUnverified
	}
	idDigest, err := chain.DigestOfCID(latest)
	if err != nil {
		return err
	}
	out := codec.ExtractRandomness(idDigest)
	log.I.F("datasync: pulse %d on %s verified, randomness %x", index, strandID, out)
	log.D.F("datasync: sync complete")
	return nil
}
