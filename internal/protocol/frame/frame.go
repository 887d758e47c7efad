package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	HeaderLen = 5

	FlagError byte = 0x01
	FlagRaw   byte = 0x02

	reservedFlags byte = ^(FlagError | FlagRaw)
)

var (
	ErrMalformedHeader  = errors.New("frame: malformed header")
	ErrReservedFlags    = fmt.Errorf("%w: reserved flag bits set", ErrMalformedHeader)
	ErrTruncatedPayload = errors.New("frame: truncated payload")
	ErrPayloadTooLarge  = errors.New("frame: payload too large")
)

// Header is the fixed 5-byte wire header.
type Header struct {
	Flags byte
	// Length is the payload length, or the inline value when FlagRaw is set.
	Length uint32
}

func (h Header) IsError() bool { return h.Flags&FlagError != 0 }
func (h Header) IsRaw() bool   { return h.Flags&FlagRaw != 0 }

// Frame is one complete wire message.
type Frame struct {
	Header  Header
	Payload []byte
}

// Limits constrains frame decode memory use.
type Limits struct {
	MaxPayloadBytes uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: math.MaxUint32,
	}
}

// maxInt is the longest payload a slice can hold on this platform.
var maxInt uint64 = math.MaxInt

// preallocLimit is the largest payload buffered before its bytes arrive.
const preallocLimit = 64 << 10

func (l Limits) check(n uint64) error {
	if n > uint64(l.MaxPayloadBytes) {
		return fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, n, l.MaxPayloadBytes)
	}
	return nil
}

// PayloadLen checks an announced data length against l and converts it to
// an int.
func (l Limits) PayloadLen(length uint32) (int, error) {
	if err := l.check(uint64(length)); err != nil {
		return 0, err
	}
	if uint64(length) > maxInt {
		return 0, fmt.Errorf("%w: %d exceeds addressable length %d", ErrPayloadTooLarge, length, maxInt)
	}
	return int(length), nil
}

// Encode builds a data frame carrying payload verbatim.
func Encode(payload []byte, isError bool) ([]byte, error) {
	if err := DefaultLimits().check(uint64(len(payload))); err != nil {
		return nil, err
	}
	buf := make([]byte, HeaderLen+len(payload))
	putHeader(buf, Header{Flags: flags(isError, false), Length: uint32(len(payload))})
	copy(buf[HeaderLen:], payload)
	return buf, nil
}

// EncodeRaw builds a header-only frame whose length field carries value.
func EncodeRaw(value uint32, isError bool) []byte {
	return EncodeHeader(Header{Flags: flags(isError, true), Length: value})
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	putHeader(buf, h)
	return buf
}

// DecodeHeader parses the first HeaderLen bytes of b. Reserved flag bits must
// be zero.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, fmt.Errorf("%w: got %d bytes, need %d", ErrMalformedHeader, len(b), HeaderLen)
	}
	h := Header{
		Flags:  b[0],
		Length: binary.BigEndian.Uint32(b[1:HeaderLen]),
	}
	if h.Flags&reservedFlags != 0 {
		return Header{}, fmt.Errorf("%w: flags=%#02x", ErrReservedFlags, h.Flags)
	}
	return h, nil
}

// Decode parses exactly one encoded frame from b.
func Decode(b []byte) (Frame, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return Frame{}, err
	}
	body := b[HeaderLen:]
	if h.IsRaw() {
		if len(body) != 0 {
			return Frame{}, fmt.Errorf("%w: %d trailing bytes after raw header", ErrMalformedHeader, len(body))
		}
		return Frame{Header: h, Payload: []byte{}}, nil
	}
	if uint64(len(body)) != uint64(h.Length) {
		return Frame{}, fmt.Errorf("%w: have %d, header says %d", ErrTruncatedPayload, len(body), h.Length)
	}
	payload := make([]byte, len(body))
	copy(payload, body)
	return Frame{Header: h, Payload: payload}, nil
}

func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [HeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return Frame{}, err
	}
	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Frame{}, err
	}
	if h.IsRaw() {
		return Frame{Header: h, Payload: []byte{}}, nil
	}
	n, err := limits.PayloadLen(h.Length)
	if err != nil {
		return Frame{}, err
	}
	payload, err := readPayload(r, n)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, fmt.Errorf("%w: %w", ErrTruncatedPayload, err)
		}
		return Frame{}, err
	}
	return Frame{Header: h, Payload: payload}, nil
}

// readPayload reads n bytes. Beyond preallocLimit the buffer grows with the
// bytes received rather than with the announced length.
func readPayload(r io.Reader, n int) ([]byte, error) {
	if n <= preallocLimit {
		payload := make([]byte, n)
		if n == 0 {
			return payload, nil
		}
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
		return payload, nil
	}
	var buf bytes.Buffer
	buf.Grow(preallocLimit)
	if _, err := io.CopyN(&buf, r, int64(n)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFrame writes f in a single Write call. Length is recomputed from the
// payload for data frames.
func WriteFrame(w io.Writer, f Frame) error {
	var b []byte
	if f.Header.IsRaw() {
		b = EncodeHeader(f.Header)
	} else {
		var err error
		b, err = Encode(f.Payload, f.Header.IsError())
		if err != nil {
			return err
		}
	}
	_, err := w.Write(b)
	return err
}

func flags(isError, isRaw bool) byte {
	var f byte
	if isError {
		f |= FlagError
	}
	if isRaw {
		f |= FlagRaw
	}
	return f
}

func putHeader(buf []byte, h Header) {
	buf[0] = h.Flags
	binary.BigEndian.PutUint32(buf[1:HeaderLen], h.Length)
}
