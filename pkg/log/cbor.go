package log

import (
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Trace files are a plain concatenation of CBOR-encoded events. Encoding is
// canonical so identical runs produce identical bytes.
var (
	encMode = mustMode(cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode())
	decMode = mustMode(cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}.DecMode())
)

func mustMode[M any](m M, err error) M {
	if err != nil {
		panic("log: cbor mode: " + err.Error())
	}
	return m
}

// EncodeEvent returns the CBOR form of e.
func EncodeEvent(e Event) ([]byte, error) { return encMode.Marshal(e) }

// DecodeEvent parses a single CBOR-encoded event.
func DecodeEvent(data []byte) (e Event, err error) {
	err = decMode.Unmarshal(data, &e)
	return e, err
}

// NewEncoder returns an encoder writing events to w.
func NewEncoder(w io.Writer) *cbor.Encoder { return encMode.NewEncoder(w) }

// NewDecoder returns a decoder reading events from r.
func NewDecoder(r io.Reader) *cbor.Decoder { return decMode.NewDecoder(r) }
