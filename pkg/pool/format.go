package pool

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	poolerrors "github.com/marmos91/randpool/pkg/errors"
	"github.com/marmos91/randpool/pkg/secret"
)

// On-storage format. All integers are little-endian.
//
// Metadata record (pool.meta), one per location:
//
//	[0:4]    magic "RPLM"
//	[4:6]    format version
//	[6:8]    flags
//	[8:24]   pool ID
//	[24:32]  created, unix nanoseconds
//	[32:40]  written: stream offset after the last appended byte
//	[40:48]  consumed: stream offset of the next byte to hand out
//	[48:56]  next block sequence number
//	[56:72]  secret check
//	[72:104] HMAC-SHA256 over [0:72]
//
// Block object (blocks/<seq>.blk):
//
//	[0:4]    magic "RPLB"
//	[4:6]    format version
//	[6:8]    reserved
//	[8:16]   sequence number
//	[16:24]  stream offset of the first plaintext byte
//	[24:32]  created, unix nanoseconds
//	[32:36]  plaintext length
//	[36:60]  nonce
//	[60:]    ciphertext, authenticated with [0:36] and the location ID
const (
	FormatVersion uint16 = 1

	metaKey       = "pool.meta"
	stagedMetaKey = "pool.meta.rekey"
	blockPrefix   = "blocks/"
	blockSuffix   = ".blk"
	stagedSuffix  = ".rekey"
	partSuffix    = ".part"

	metaBodySize = 72
	metaSize     = metaBodySize + secret.TagSize

	blockAADSize    = 36
	blockHeaderSize = blockAADSize + secret.NonceSize
)

var (
	metaMagic  = [4]byte{'R', 'P', 'L', 'M'}
	blockMagic = [4]byte{'R', 'P', 'L', 'B'}
)

const flagReady uint16 = 1 << 0

// metadata is the decoded form of a location's pool.meta record.
type metadata struct {
	flags    uint16
	poolID   uuid.UUID
	created  time.Time
	written  uint64
	consumed uint64
	nextSeq  uint64
}

func (m metadata) ready() bool { return m.flags&flagReady != 0 }

func (m metadata) remaining() uint64 { return m.written - m.consumed }

func encodeMeta(m metadata, keys *secret.Keys) []byte {
	buf := make([]byte, metaSize)
	copy(buf[0:4], metaMagic[:])
	binary.LittleEndian.PutUint16(buf[4:6], FormatVersion)
	binary.LittleEndian.PutUint16(buf[6:8], m.flags)
	copy(buf[8:24], m.poolID[:])
	binary.LittleEndian.PutUint64(buf[24:32], uint64(m.created.UnixNano()))
	binary.LittleEndian.PutUint64(buf[32:40], m.written)
	binary.LittleEndian.PutUint64(buf[40:48], m.consumed)
	binary.LittleEndian.PutUint64(buf[48:56], m.nextSeq)
	copy(buf[56:72], keys.Check())
	copy(buf[72:], keys.Tag(buf[:metaBodySize]))
	return buf
}

// decodeMeta validates and decodes a metadata record. Checks run from the
// outside in so that each failure maps to the most specific code: foreign
// data, then unsupported version, then wrong secret, then tampering.
func decodeMeta(op, location string, buf []byte, keys *secret.Keys) (metadata, error) {
	var m metadata

	if len(buf) < 6 || !bytes.Equal(buf[0:4], metaMagic[:]) {
		return m, poolerrors.NewCorruptedError(op, location, "metadata has bad magic")
	}
	if v := binary.LittleEndian.Uint16(buf[4:6]); v > FormatVersion {
		return m, &poolerrors.PoolError{
			Code:     poolerrors.ErrIncompatibleVersion,
			Op:       op,
			Location: location,
			Message:  fmt.Sprintf("metadata format version %d, newest supported is %d", v, FormatVersion),
		}
	}
	if len(buf) != metaSize {
		return m, poolerrors.NewCorruptedError(op, location, "metadata has %d bytes, want %d", len(buf), metaSize)
	}
	if !keys.MatchesCheck(buf[56:72]) {
		return m, &poolerrors.PoolError{
			Code:     poolerrors.ErrDeviceSecretFailed,
			Op:       op,
			Location: location,
			Message:  "device secret does not match this pool",
		}
	}
	if !keys.VerifyTag(buf[:metaBodySize], buf[metaBodySize:]) {
		return m, poolerrors.NewCorruptedError(op, location, "metadata authentication failed")
	}

	m.flags = binary.LittleEndian.Uint16(buf[6:8])
	copy(m.poolID[:], buf[8:24])
	m.created = time.Unix(0, int64(binary.LittleEndian.Uint64(buf[24:32])))
	m.written = binary.LittleEndian.Uint64(buf[32:40])
	m.consumed = binary.LittleEndian.Uint64(buf[40:48])
	m.nextSeq = binary.LittleEndian.Uint64(buf[48:56])

	if m.consumed > m.written {
		return m, poolerrors.NewCorruptedError(op, location, "consumed offset %d beyond written offset %d", m.consumed, m.written)
	}
	return m, nil
}

// blockRef is the in-memory index entry for one block object.
type blockRef struct {
	seq     uint64
	start   uint64
	length  uint32
	created time.Time
}

func (b blockRef) end() uint64 { return b.start + uint64(b.length) }

func blockKey(seq uint64) string {
	return fmt.Sprintf("%s%016x%s", blockPrefix, seq, blockSuffix)
}

func stagedBlockKey(seq uint64) string {
	return fmt.Sprintf("%s%016x%s", blockPrefix, seq, stagedSuffix)
}

func partBlockKey(seq uint64) string {
	return fmt.Sprintf("%s%016x%s", blockPrefix, seq, partSuffix)
}

// parseBlockKey extracts the sequence number and suffix from an object key.
func parseBlockKey(key string) (seq uint64, suffix string, ok bool) {
	if len(key) < len(blockPrefix)+16 || key[:len(blockPrefix)] != blockPrefix {
		return 0, "", false
	}
	name := key[len(blockPrefix):]
	seq, err := strconv.ParseUint(name[:16], 16, 64)
	if err != nil {
		return 0, "", false
	}
	switch suffix = name[16:]; suffix {
	case blockSuffix, stagedSuffix, partSuffix:
		return seq, suffix, true
	default:
		return 0, "", false
	}
}

func blockAAD(header []byte, location string) []byte {
	aad := make([]byte, 0, blockAADSize+len(location))
	aad = append(aad, header[:blockAADSize]...)
	return append(aad, location...)
}

// sealBlock encrypts plaintext into a complete block object.
func sealBlock(ref blockRef, plaintext []byte, keys *secret.Keys) ([]byte, error) {
	header := make([]byte, blockAADSize)
	copy(header[0:4], blockMagic[:])
	binary.LittleEndian.PutUint16(header[4:6], FormatVersion)
	binary.LittleEndian.PutUint64(header[8:16], ref.seq)
	binary.LittleEndian.PutUint64(header[16:24], ref.start)
	binary.LittleEndian.PutUint64(header[24:32], uint64(ref.created.UnixNano()))
	binary.LittleEndian.PutUint32(header[32:36], uint32(len(plaintext)))

	nonce, ct, err := keys.Seal(plaintext, blockAAD(header, keys.Location()))
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, blockHeaderSize+len(ct))
	out = append(out, header...)
	out = append(out, nonce...)
	return append(out, ct...), nil
}

// parseBlockHeader decodes the clear-text header of a block object without
// authenticating it.
func parseBlockHeader(op, location string, obj []byte) (blockRef, error) {
	var ref blockRef
	if len(obj) < 6 || !bytes.Equal(obj[0:4], blockMagic[:]) {
		return ref, poolerrors.NewCorruptedError(op, location, "block has bad magic")
	}
	if v := binary.LittleEndian.Uint16(obj[4:6]); v > FormatVersion {
		return ref, &poolerrors.PoolError{
			Code:     poolerrors.ErrIncompatibleVersion,
			Op:       op,
			Location: location,
			Message:  fmt.Sprintf("block format version %d, newest supported is %d", v, FormatVersion),
		}
	}
	if len(obj) < blockHeaderSize+secret.Overhead {
		return ref, poolerrors.NewCorruptedError(op, location, "block truncated to %d bytes", len(obj))
	}

	ref.seq = binary.LittleEndian.Uint64(obj[8:16])
	ref.start = binary.LittleEndian.Uint64(obj[16:24])
	ref.created = time.Unix(0, int64(binary.LittleEndian.Uint64(obj[24:32])))
	ref.length = binary.LittleEndian.Uint32(obj[32:36])

	if len(obj) != blockHeaderSize+int(ref.length)+secret.Overhead {
		return ref, poolerrors.NewCorruptedError(op, location, "block %d length mismatch", ref.seq)
	}
	return ref, nil
}

// openBlock authenticates and decrypts a block object, checking that it is
// the block the index expects.
func openBlock(op string, want blockRef, obj []byte, keys *secret.Keys) ([]byte, error) {
	loc := keys.Location()
	got, err := parseBlockHeader(op, loc, obj)
	if err != nil {
		return nil, err
	}
	if got.seq != want.seq || got.start != want.start || got.length != want.length {
		return nil, poolerrors.NewCorruptedError(op, loc, "block %d header does not match index", want.seq)
	}

	plaintext, err := keys.Open(obj[blockAADSize:blockHeaderSize], obj[blockHeaderSize:], blockAAD(obj, loc))
	if err != nil {
		return nil, poolerrors.NewCorruptedError(op, loc, "block %d authentication failed", want.seq)
	}
	return plaintext, nil
}
