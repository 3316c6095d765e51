package record

import "encoding/binary"

// cursor is a positional reader over an immutable byte slice. Every
// read advances the offset; a read past the end never panics, it
// returns a Truncated *Error so the assembler can abort cleanly.
//
// replace swaps the backing buffer and resets the offset to 0 — used
// after zlib inflation, when the remainder of the record continues to
// be parsed from the decompressed bytes instead of the wire bytes.
type cursor struct {
	buf []byte
	off int
}

func newCursor(buf []byte) *cursor {
	return &cursor{buf: buf}
}

func (c *cursor) remaining() int { return len(c.buf) - c.off }

func (c *cursor) offset() int { return c.off }

func (c *cursor) tail() []byte { return c.buf[c.off:] }

func (c *cursor) replace(buf []byte) {
	c.buf = buf
	c.off = 0
}

func (c *cursor) need(n int) *Error {
	if c.remaining() < n {
		return errTruncated(n, c.remaining())
	}
	return nil
}

func (c *cursor) readU8() (byte, *Error) {
	if err := c.need(1); err != nil {
		return 0, err
	}
	v := c.buf[c.off]
	c.off++
	return v, nil
}

func (c *cursor) readBool() (bool, *Error) {
	v, err := c.readU8()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

func (c *cursor) readU32() (uint32, *Error) {
	if err := c.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(c.buf[c.off : c.off+4])
	c.off += 4
	return v, nil
}

// readBytes reads n bytes and advances past them. The returned slice
// aliases the cursor's current backing buffer; callers that retain it
// past a subsequent replace() must copy.
func (c *cursor) readBytes(n int) ([]byte, *Error) {
	if err := c.need(n); err != nil {
		return nil, err
	}
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b, nil
}

// readBlob reads a u32 length prefix followed by that many bytes,
// returning (nil, false) when the length is 0 per the "empty means
// null" convention used by bucket-type/bucket/key/tomb-clock/vclocks.
func (c *cursor) readBlob() ([]byte, bool, *Error) {
	n, err := c.readU32()
	if err != nil {
		return nil, false, err
	}
	if n == 0 {
		return nil, false, nil
	}
	b, err := c.readBytes(int(n))
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}
