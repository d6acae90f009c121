package index

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math"
)

// Serialized layout: header | vector data | crc32 of the preceding bytes.
const (
	MagicBytes    uint32 = 0x44514958 // "DQIX"
	FormatVersion uint32 = 1
	headerSize           = 16
)

// ErrCorrupt is returned when serialized index bytes fail validation.
var ErrCorrupt = errors.New("corrupt index data")

// MarshalBinary encodes the index as little-endian float32 rows with a checksum.
func (f *Flat) MarshalBinary() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	buf := bytes.NewBuffer(make([]byte, 0, headerSize+4*f.dimension*len(f.vectors)+4))
	hdr := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(hdr[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(hdr[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(f.dimension))
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(len(f.vectors)))
	buf.Write(hdr)
	row := make([]byte, 4)
	for _, v := range f.vectors {
		for _, x := range v {
			binary.LittleEndian.PutUint32(row, math.Float32bits(x))
			buf.Write(row)
		}
	}
	sum := crc32.ChecksumIEEE(buf.Bytes())
	binary.LittleEndian.PutUint32(row, sum)
	buf.Write(row)
	return buf.Bytes(), nil
}

// UnmarshalFlat decodes bytes produced by MarshalBinary.
func UnmarshalFlat(data []byte) (*Flat, error) {
	if len(data) < headerSize+4 {
		return nil, fmt.Errorf("%w: short data (%d bytes)", ErrCorrupt, len(data))
	}
	body, tail := data[:len(data)-4], data[len(data)-4:]
	if crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(tail) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	if binary.LittleEndian.Uint32(body[0:4]) != MagicBytes {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	if v := binary.LittleEndian.Uint32(body[4:8]); v != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}
	rawDim := binary.LittleEndian.Uint32(body[8:12])
	rawN := binary.LittleEndian.Uint32(body[12:16])
	if !payloadMatches(uint64(len(body)-headerSize), rawDim, rawN) {
		return nil, fmt.Errorf("%w: size mismatch (dim=%d, n=%d)", ErrCorrupt, rawDim, rawN)
	}
	dim, n := int(rawDim), int(rawN)
	f := &Flat{dimension: dim, vectors: make([][]float32, n)}
	off := headerSize
	for i := 0; i < n; i++ {
		v := make([]float32, dim)
		for j := range v {
			v[j] = math.Float32frombits(binary.LittleEndian.Uint32(body[off:]))
			off += 4
		}
		f.vectors[i] = v
	}
	return f, nil
}

// payloadMatches reports whether payload bytes hold exactly n rows of dim
// float32 values. It divides instead of multiplying so header values cannot
// overflow the check.
func payloadMatches(payload uint64, dim, n uint32) bool {
	if dim == 0 || payload%4 != 0 {
		return false
	}
	floats := payload / 4
	if floats%uint64(dim) != 0 {
		return false
	}
	return floats/uint64(dim) == uint64(n)
}
