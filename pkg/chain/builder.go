package chain

import (
	"github.com/ipfs/go-cid"
	"lol.mleku.dev/errorf"
	"twine.dev/pkg/codec"
)

// Signer is the narrow capability the builder needs: produce a signature
// over arbitrary bytes under a stable public key. Concrete signers (a
// PEM-loaded software key, a remote HSM) live in pkg/signer and satisfy
// this structurally.
type Signer interface {
	PublicKey() []byte
	Sign(data []byte) ([]byte, error)
}

// ErrBuild wraps any failure to assemble and sign a pulse: malformed
// inputs or a signer failure.
var ErrBuild = errorf.E("chain: build failed")

// BuildFirst assembles and signs the index-0 pulse of a strand: no
// predecessor, no prior reveal to validate.
func BuildFirst(
	strandID cid.Cid, payload codec.Payload, xstitches XStitches, signer Signer,
) (pulse *Pulse, err error) {
	pulse = &Pulse{
		StrandID:  strandID,
		Index:     0,
		XStitches: xstitches,
		Payload:   payload,
	}
	return sign(pulse, signer)
}

// BuildNext assembles and signs the pulse following predecessorID at
// predecessorIndex+1.
func BuildNext(
	strandID, predecessorID cid.Cid, predecessorIndex uint64,
	payload codec.Payload, xstitches XStitches, signer Signer,
) (pulse *Pulse, err error) {
	pulse = &Pulse{
		StrandID:    strandID,
		Index:       predecessorIndex + 1,
		Predecessor: &predecessorID,
		XStitches:   xstitches,
		Payload:     payload,
	}
	return sign(pulse, signer)
}

func sign(pulse *Pulse, signer Signer) (*Pulse, error) {
	body, err := pulse.EncodeBody()
	if err != nil {
		return nil, errorf.E("%w: encode body: %v", ErrBuild, err)
	}
	sig, err := signer.Sign(body)
	if err != nil {
		return nil, errorf.E("%w: sign: %v", ErrBuild, err)
	}
	pulse.Signature = sig
	return pulse, nil
}
