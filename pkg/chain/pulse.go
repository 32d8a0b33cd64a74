package chain

import (
	"time"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"lol.mleku.dev/errorf"
	"twine.dev/pkg/codec"
)

// XStitches is the cross-stitches set carried by a pulse: at most one entry
// per foreign strand, keyed by the foreign strand's CID string form.
type XStitches map[string]cid.Cid

// pulseBody is the canonical wire shape of a pulse. Field tags fix the
// encoding order; Signature is kept outside of it so pulseBody doubles as
// the bytes the signer signs.
type pulseBody struct {
	Strand      []byte            `cbor:"1,keyasint"`
	Index       uint64            `cbor:"2,keyasint"`
	Predecessor []byte            `cbor:"3,keyasint,omitempty"`
	XStitches   map[string][]byte `cbor:"4,keyasint,omitempty"`
	Salt        []byte            `cbor:"5,keyasint"`
	Pre         []byte            `cbor:"6,keyasint"`
	Timestamp   int64             `cbor:"7,keyasint"`
}

// Pulse is a single signed chain entry.
type Pulse struct {
	StrandID    cid.Cid
	Index       uint64
	Predecessor *cid.Cid
	XStitches   XStitches
	Payload     codec.Payload
	Signature   []byte
}

func (p *Pulse) body() pulseBody {
	b := pulseBody{
		Strand:    p.StrandID.Bytes(),
		Index:     p.Index,
		Salt:      p.Payload.Salt,
		Pre:       []byte(p.Payload.Pre),
		Timestamp: p.Payload.Timestamp.Unix(),
	}
	if p.Predecessor != nil {
		b.Predecessor = p.Predecessor.Bytes()
	}
	if len(p.XStitches) > 0 {
		b.XStitches = make(map[string][]byte, len(p.XStitches))
		for k, v := range p.XStitches {
			b.XStitches[k] = v.Bytes()
		}
	}
	return b
}

// EncodeBody returns the canonical encoding of every field except the
// signature -- this is exactly what the signer signs.
func (p *Pulse) EncodeBody() ([]byte, error) {
	return marshalCanonical(p.body())
}

// fullEncoding is the wire shape used for storage and identifier
// derivation: the body plus the signature.
type fullEncoding struct {
	Body      pulseBody `cbor:"1,keyasint"`
	Signature []byte    `cbor:"2,keyasint"`
}

// Encode returns the canonical encoding of the full pulse, signature
// included. A pulse's identifier is the multihash of this encoding.
func (p *Pulse) Encode() ([]byte, error) {
	return marshalCanonical(fullEncoding{Body: p.body(), Signature: p.Signature})
}

// Identifier returns the pulse's content address: the multihash of its
// full canonical encoding, using the given hash algorithm (the owning
// strand's).
func (p *Pulse) Identifier(hashAlgo uint64) (cid.Cid, error) {
	b, err := p.Encode()
	if err != nil {
		return cid.Undef, err
	}
	mh, err := multihash.Sum(b, hashAlgo, -1)
	if err != nil {
		return cid.Undef, errorf.E("chain: pulse hash: %w", err)
	}
	return cid.NewCidV1(dagCBORCodec, mh), nil
}

// Decode reconstructs a Pulse from its canonical full encoding.
func Decode(b []byte) (p *Pulse, err error) {
	var fe fullEncoding
	if err = unmarshalCanonical(b, &fe); err != nil {
		return nil, errorf.E("chain: decode pulse: %w", err)
	}
	p = &Pulse{
		Index:     fe.Body.Index,
		Signature: fe.Signature,
		Payload: codec.Payload{
			Salt:      fe.Body.Salt,
			Pre:       multihash.Multihash(fe.Body.Pre),
			Timestamp: time.Unix(fe.Body.Timestamp, 0).UTC(),
		},
	}
	if p.StrandID, err = cid.Cast(fe.Body.Strand); err != nil {
		return nil, errorf.E("chain: decode pulse strand id: %w", err)
	}
	if len(fe.Body.Predecessor) > 0 {
		predID, perr := cid.Cast(fe.Body.Predecessor)
		if perr != nil {
			return nil, errorf.E("chain: decode pulse predecessor: %w", perr)
		}
		p.Predecessor = &predID
	}
	if len(fe.Body.XStitches) > 0 {
		p.XStitches = make(XStitches, len(fe.Body.XStitches))
		for k, v := range fe.Body.XStitches {
			xc, xerr := cid.Cast(v)
			if xerr != nil {
				return nil, errorf.E("chain: decode pulse cross-stitch: %w", xerr)
			}
			p.XStitches[k] = xc
		}
	}
	return p, nil
}
