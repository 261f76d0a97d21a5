// Package hint implements the hint-file codec: a compact summary of a data
// file's live directory entries, written alongside each sealed file that
// compaction produces so that recovery can rebuild the key directory without
// re-reading (and re-checksumming) the full data file. Files sealed by
// rotation have no hint file and are scanned in full.
package hint

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
)

// HeaderSize is the fixed width of a hint record, key excluded:
// timestamp(8) + key_size(4) + value_size(8) + value_pos(8).
const HeaderSize = 8 + 4 + 8 + 8

// ErrTruncated is returned by Decode when a stream ends partway through a
// hint entry. Recovery treats it as "the hint file ends here".
var ErrTruncated = errors.New("hint: truncated entry at end of stream")

// Hint is one entry in a hint file: everything recovery needs to populate a
// key directory entry without reading the data file itself.
type Hint struct {
	Timestamp int64
	KeySize   uint32
	// ValueSize is the full on-disk size of the referenced data record
	// (header + key + value), not just the value's length.
	ValueSize uint64
	ValuePos  uint64
	Key       []byte
}

// Encode serializes h into its on-disk layout.
func Encode(h Hint) []byte {
	out := make([]byte, HeaderSize+len(h.Key))
	binary.LittleEndian.PutUint64(out[0:8], uint64(h.Timestamp))
	binary.LittleEndian.PutUint32(out[8:12], h.KeySize)
	binary.LittleEndian.PutUint64(out[12:20], h.ValueSize)
	binary.LittleEndian.PutUint64(out[20:28], h.ValuePos)
	copy(out[HeaderSize:], h.Key)
	return out
}

// Decode reads one hint entry from r, returning the entry and the number of
// bytes consumed.
func Decode(r io.Reader) (Hint, int64, error) {
	header := make([]byte, HeaderSize)
	n, err := io.ReadFull(r, header)
	if err != nil {
		if n == 0 && (errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)) {
			return Hint{}, 0, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Hint{}, 0, ErrTruncated
		}
		return Hint{}, 0, err
	}

	h := Hint{
		Timestamp: int64(binary.LittleEndian.Uint64(header[0:8])),
		KeySize:   binary.LittleEndian.Uint32(header[8:12]),
		ValueSize: binary.LittleEndian.Uint64(header[12:20]),
		ValuePos:  binary.LittleEndian.Uint64(header[20:28]),
	}

	if h.KeySize > 0 {
		key := make([]byte, h.KeySize)
		if _, err := io.ReadFull(r, key); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return Hint{}, 0, ErrTruncated
			}
			return Hint{}, 0, err
		}
		h.Key = key
	}

	return h, int64(HeaderSize) + int64(h.KeySize), nil
}

// NewReader wraps r in a *bufio.Reader sized for entry-at-a-time streaming.
func NewReader(r io.Reader) *bufio.Reader {
	return bufio.NewReaderSize(r, 64*1024)
}
