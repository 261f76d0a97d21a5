// Package record implements the on-disk record format appended to data
// files: a fixed 25-byte header (crc, timestamp, key_size, value_size, op)
// followed by the raw key and value bytes.
package record

import (
	"bufio"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
)

// Op identifies the kind of mutation a record represents.
type Op byte

const (
	// OpAdd is a normal put.
	OpAdd Op = 0
	// OpPut is reserved and currently unused; decoders must still accept it.
	OpPut Op = 1
	// OpDel marks a tombstone: the key was deleted, value is empty.
	OpDel Op = 2
)

// HeaderSize is the fixed width of a record header in bytes:
// crc(4) + timestamp(8) + key_size(4) + value_size(8) + op(1).
const HeaderSize = 4 + 8 + 4 + 8 + 1

// ErrTruncated is returned by Decode when a stream ends partway through a
// header or body. Callers during recovery treat this as "end of valid data"
// rather than a hard failure.
var ErrTruncated = errors.New("record: truncated record at end of stream")

// Record is one entry in a data file: a put, a reserved put-with-reserved-op,
// or a delete tombstone.
type Record struct {
	// Timestamp is the absolute expiry in milliseconds since the Unix epoch.
	// Zero means the key never expires.
	Timestamp int64
	Op        Op
	Key       []byte
	Value     []byte

	// storedCRC and hasStoredCRC carry the on-disk checksum through from
	// Decode so Verify can check it. Records built by hand (not decoded)
	// have no stored checksum to contradict, so Verify treats them as valid.
	storedCRC    uint32
	hasStoredCRC bool
}

// Size returns the total on-disk size of the record, header included.
func (r Record) Size() int64 {
	return int64(HeaderSize) + int64(len(r.Key)) + int64(len(r.Value))
}

// crcPayload returns the bytes over which the CRC-32 is computed: every
// header field after crc itself, in order, followed by key and value.
func crcPayload(ts int64, keySize uint32, valueSize uint64, op Op, key, value []byte) []byte {
	buf := make([]byte, 0, 8+4+8+1+len(key)+len(value))
	var tmp8 [8]byte

	binary.LittleEndian.PutUint64(tmp8[:], uint64(ts))
	buf = append(buf, tmp8[:]...)

	var tmp4 [4]byte
	binary.LittleEndian.PutUint32(tmp4[:], keySize)
	buf = append(buf, tmp4[:]...)

	binary.LittleEndian.PutUint64(tmp8[:], valueSize)
	buf = append(buf, tmp8[:]...)

	buf = append(buf, byte(op))
	buf = append(buf, key...)
	buf = append(buf, value...)
	return buf
}

// Encode serializes r into the on-disk layout of a single record.
func Encode(r Record) []byte {
	keySize := uint32(len(r.Key))
	valueSize := uint64(len(r.Value))

	payload := crcPayload(r.Timestamp, keySize, valueSize, r.Op, r.Key, r.Value)
	crc := crc32.ChecksumIEEE(payload)

	out := make([]byte, HeaderSize+len(r.Key)+len(r.Value))
	binary.LittleEndian.PutUint32(out[0:4], crc)
	copy(out[4:], payload)
	return out
}

// Decode reads one record from r. It returns the record, the number of bytes
// consumed (the record's total on-disk size), and an error.
//
// A truncated header or body is reported as ErrTruncated, which callers
// during crash recovery treat as "the file ends here" rather than a fatal
// error. A clean end-of-stream before any bytes are read is reported as
// io.EOF.
func Decode(r io.Reader) (Record, int64, error) {
	header := make([]byte, HeaderSize)
	n, err := io.ReadFull(r, header)
	if err != nil {
		if n == 0 && (errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)) {
			return Record{}, 0, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Record{}, 0, ErrTruncated
		}
		return Record{}, 0, err
	}

	crc := binary.LittleEndian.Uint32(header[0:4])
	ts := int64(binary.LittleEndian.Uint64(header[4:12]))
	keySize := binary.LittleEndian.Uint32(header[12:16])
	valueSize := binary.LittleEndian.Uint64(header[16:24])
	op := Op(header[24])

	body := make([]byte, uint64(keySize)+valueSize)
	if len(body) > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return Record{}, 0, ErrTruncated
			}
			return Record{}, 0, err
		}
	}

	rec := Record{
		Timestamp:    ts,
		Op:           op,
		Key:          body[:keySize:keySize],
		Value:        body[keySize:],
		storedCRC:    crc,
		hasStoredCRC: true,
	}

	return rec, rec.Size(), nil
}

// NewReader wraps r in a *bufio.Reader sized for record-at-a-time streaming,
// matching the way recovery and compaction scan whole files sequentially.
func NewReader(r io.Reader) *bufio.Reader {
	return bufio.NewReaderSize(r, 64*1024)
}

// Verify recomputes the CRC-32 over rec's fields and compares it against the
// checksum captured when rec was produced by Decode. Records built directly
// via the Record literal (not through Decode) always verify successfully,
// since there is no stored checksum to contradict them — Encode is the only
// path that commits a record to disk, and it always computes a fresh CRC.
func Verify(r Record) bool {
	if !r.hasStoredCRC {
		return true
	}
	payload := crcPayload(r.Timestamp, uint32(len(r.Key)), uint64(len(r.Value)), r.Op, r.Key, r.Value)
	return crc32.ChecksumIEEE(payload) == r.storedCRC
}

// IsExpired reports whether rec carries a non-zero expiry that has passed as
// of nowMs (milliseconds since the Unix epoch).
func IsExpired(r Record, nowMs int64) bool {
	return r.Timestamp != 0 && nowMs > r.Timestamp
}

// IsTombstone reports whether rec represents a deletion.
func IsTombstone(r Record) bool {
	return r.Op == OpDel
}
