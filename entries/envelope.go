package entries

import (
	"encoding/binary"
	"fmt"

	"github.com/golang/snappy"

	"github.com/depotdb/depot"
)

// envelopeMagic prefixes every encoded payload. Values are raw JSON in
// normal use and JSON never starts with these bytes, so reads can detect
// whether a stored payload is encoded and pass historical un-encoded data
// through untouched.
var envelopeMagic = []byte{0xd7, 0xb0}

// Codec is the optional binary envelope applied to stored values:
// magic, uvarint length of the original payload, snappy block. It preserves
// the entry contract exactly and is invisible to the core.
type Codec struct{}

// NewCodec returns the snappy envelope codec.
func NewCodec() *Codec {
	return &Codec{}
}

// Encode wraps value in the envelope.
func (c *Codec) Encode(value []byte) ([]byte, error) {
	buf := make([]byte, 0, len(envelopeMagic)+binary.MaxVarintLen64+snappy.MaxEncodedLen(len(value)))
	buf = append(buf, envelopeMagic...)
	buf = binary.AppendUvarint(buf, uint64(len(value)))
	return append(buf, snappy.Encode(nil, value)...), nil
}

// Decode unwraps value when it carries the envelope; anything else is
// returned unchanged for backward compatibility with un-encoded data.
func (c *Codec) Decode(value []byte) ([]byte, error) {
	if len(value) < len(envelopeMagic) || value[0] != envelopeMagic[0] || value[1] != envelopeMagic[1] {
		return value, nil
	}
	body := value[len(envelopeMagic):]
	want, n := binary.Uvarint(body)
	if n <= 0 {
		return nil, &depot.Error{
			Code: depot.EInternal,
			Msg:  "corrupt entry envelope length",
		}
	}
	out, err := snappy.Decode(nil, body[n:])
	if err != nil {
		return nil, &depot.Error{
			Code: depot.EInternal,
			Msg:  "corrupt entry envelope body",
			Err:  err,
		}
	}
	if uint64(len(out)) != want {
		return nil, &depot.Error{
			Code: depot.EInternal,
			Msg:  fmt.Sprintf("entry envelope length mismatch: want %d, got %d", want, len(out)),
		}
	}
	return out, nil
}
