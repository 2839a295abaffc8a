package ledger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"
)

// Key namespace:
//
//	Data Type   Prefix  Key Format         Value Type
//	==================================================
//	Entries     "e:"    e:<seq big-endian> Entry (JSON)
//	Sequence    "seq"   seq                badger sequence lease
//	Pool ID     "meta:" meta:pool          string
const (
	prefixEntry = "e:"
	keySequence = "seq"
	keyPoolID   = "meta:pool"
)

// Kind classifies a ledger entry.
type Kind string

const (
	KindAppend  Kind = "append"
	KindConsume Kind = "consume"
	KindReset   Kind = "reset"
)

// Entry is one audit record: a stream range appended to or consumed from a
// location, or a reset marker written by a wipe.
type Entry struct {
	Seq      uint64    `json:"seq"`
	Kind     Kind      `json:"kind"`
	Location string    `json:"location,omitempty"`
	Start    uint64    `json:"start"`
	Length   uint64    `json:"length"`
	Time     time.Time `json:"time"`
}

// End returns the stream offset after the last byte of the range.
func (e Entry) End() uint64 { return e.Start + e.Length }

func keyEntry(seq uint64) []byte {
	key := make([]byte, len(prefixEntry)+8)
	copy(key, prefixEntry)
	binary.BigEndian.PutUint64(key[len(prefixEntry):], seq)
	return key
}

func encodeEntry(e *Entry) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ledger entry: %w", err)
	}
	return data, nil
}

func decodeEntry(data []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode ledger entry: %w", err)
	}
	return &e, nil
}
