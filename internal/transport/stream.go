package transport

import (
	"bytes"
	"fmt"
	"io"
)

// preallocLimit is the largest read buffered up front. Longer reads grow
// their buffer as bytes arrive, so an announced length alone cannot force a
// large allocation.
const preallocLimit = 64 << 10

// readExact reads exactly n bytes from r, accumulating short reads from pipes
// and sockets.
func readExact(r io.Reader, n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative read length %d", ErrIO, n)
	}
	if n <= preallocLimit {
		buf := make([]byte, n)
		if n == 0 {
			return buf, nil
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, classifyIO(err)
		}
		return buf, nil
	}

	var buf bytes.Buffer
	buf.Grow(preallocLimit)
	if _, err := io.CopyN(&buf, r, int64(n)); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, classifyIO(err)
	}
	return buf.Bytes(), nil
}

// writeAll writes p to w, retrying short writes.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		p = p[n:]
		if err != nil {
			return classifyIO(err)
		}
		if n == 0 {
			return classifyIO(io.ErrShortWrite)
		}
	}
	return nil
}
