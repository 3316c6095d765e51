package consumer

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
)

// encodeTestRecord hand-builds a minimal valid, uncompressed put
// record (bucket "test") carrying one JSON content-type metadata
// entry, mirroring the wire layout in SPEC_FULL.md §6.1. Used only to
// drive the consumer loop end-to-end without real queue fixtures.
func encodeTestRecord(key, value string) []byte {
	u32 := func(v uint32) []byte {
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, v)
		return b
	}
	blob := func(b []byte) []byte {
		out := append([]byte(nil), u32(uint32(len(b)))...)
		return append(out, b...)
	}
	maybeBinary := func(payload []byte) []byte {
		out := u32(uint32(len(payload) + 1))
		out = append(out, 1)
		return append(out, payload...)
	}

	var inner bytes.Buffer
	inner.WriteByte(53) // magic
	inner.WriteByte(1)  // version
	inner.Write(blob([]byte("vclock")))
	inner.Write(u32(1)) // siblings

	inner.Write(maybeBinary([]byte(value)))

	var meta bytes.Buffer
	meta.Write(u32(1000)) // mega
	meta.Write(u32(0))    // secs
	meta.Write(u32(1))    // micro
	meta.WriteByte(4)
	meta.WriteString("vtag")
	meta.WriteByte(0) // key_deleted
	meta.Write(maybeBinary([]byte("content-type")))
	meta.Write(maybeBinary([]byte("application/json")))

	inner.Write(u32(uint32(meta.Len())))
	inner.Write(meta.Bytes())

	var afterCRC bytes.Buffer
	afterCRC.WriteByte(16) // compression: none
	afterCRC.Write(blob(nil))
	afterCRC.Write(blob([]byte("test")))
	afterCRC.Write(blob([]byte(key)))
	afterCRC.Write(inner.Bytes())

	var out bytes.Buffer
	out.WriteByte(1) // not empty
	out.WriteByte(0) // not delete
	out.Write(u32(crc32.ChecksumIEEE(afterCRC.Bytes())))
	out.Write(afterCRC.Bytes())
	return out.Bytes()
}
