package chain

import (
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// canonicalMode is the single shared CBOR encoding mode used to produce the
// canonical, content-addressable encoding of strands and pulses: map keys
// sorted deterministically, shortest-form integers, no indefinite-length
// items. Every encoder in this package must go through it so that two
// callers encoding the same value always get the same bytes.
var canonicalMode cbor.EncMode

func init() {
	opts := cbor.CanonicalEncOptions()
	var err error
	if canonicalMode, err = opts.EncMode(); err != nil {
		panic(err)
	}
}

var decModeOnce sync.Once
var decMode cbor.DecMode

func decodeMode() cbor.DecMode {
	decModeOnce.Do(func() {
		var err error
		if decMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
			panic(err)
		}
	})
	return decMode
}

func marshalCanonical(v any) ([]byte, error) {
	return canonicalMode.Marshal(v)
}

func unmarshalCanonical(b []byte, v any) error {
	return decodeMode().Unmarshal(b, v)
}
