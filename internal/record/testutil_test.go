package record

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"hash/crc32"
)

// buildOpts describes one synthetic replication record, mirroring the
// wire layout in SPEC_FULL.md §6.1. Fixture byte files from the
// original source are not available in this environment (see
// SPEC_FULL.md §8), so tests construct their own inputs with this
// encoder instead of relying on literal test-vector bytes.
type buildOpts struct {
	notEmpty    bool
	isDelete    bool
	tombClock   []byte
	compressed  bool
	badCRC      bool
	badMagic    byte // 0 means use the valid magic
	badVersion  byte // 0 means use the valid version
	badCompFlag byte // 0 means use a valid flag
	siblings    uint32
	bucketType  []byte
	bucket      []byte
	key         []byte
	vclocks     []byte
	value       []byte // raw bytes; wrapped as maybe_binary(is_binary=true)
	mega, secs, micro uint32
	vtag        []byte
	keyDeleted  bool
	metadata    [][2][]byte // raw byte k/v pairs, wrapped as binaries
	trailing    []byte
	// badMetaLenDelta, when non-zero, is added to the true metadata
	// block length written on the wire, so the inner key/value loop
	// either overshoots or undershoots the recorded end.
	badMetaLenDelta int
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func blob(b []byte) []byte {
	out := append([]byte(nil), u32(uint32(len(b)))...)
	return append(out, b...)
}

func maybeBinary(payload []byte) []byte {
	gross := u32(uint32(len(payload) + 1))
	out := append([]byte(nil), gross...)
	out = append(out, 1) // is_binary = true
	return append(out, payload...)
}

// buildInner encodes everything from the magic byte through the end
// of the siblings loop — the portion that may live inside the
// zlib-compressed region.
func buildInner(o buildOpts) []byte {
	var buf bytes.Buffer

	if o.badMagic != 0 {
		buf.WriteByte(o.badMagic)
	} else {
		buf.WriteByte(riakMagic)
	}
	if o.badVersion != 0 {
		buf.WriteByte(o.badVersion)
	} else {
		buf.WriteByte(objectVersion)
	}

	buf.Write(blob(o.vclocks))
	buf.Write(u32(o.siblings))

	for i := uint32(0); i < o.siblings; i++ {
		buf.Write(maybeBinary(o.value))

		var meta bytes.Buffer
		meta.Write(u32(o.mega))
		meta.Write(u32(o.secs))
		meta.Write(u32(o.micro))
		meta.WriteByte(byte(len(o.vtag)))
		meta.Write(o.vtag)
		if o.keyDeleted {
			meta.WriteByte(1)
		} else {
			meta.WriteByte(0)
		}
		for _, kv := range o.metadata {
			meta.Write(maybeBinary(kv[0]))
			meta.Write(maybeBinary(kv[1]))
		}

		buf.Write(u32(uint32(meta.Len() + o.badMetaLenDelta)))
		buf.Write(meta.Bytes())
	}

	return buf.Bytes()
}

// build encodes a complete record per SPEC_FULL.md §6.1.
func build(o buildOpts) []byte {
	var buf bytes.Buffer

	if !o.notEmpty {
		buf.WriteByte(0)
		return buf.Bytes()
	}
	buf.WriteByte(1)

	if o.isDelete {
		buf.WriteByte(1)
		buf.Write(blob(o.tombClock))
	} else {
		buf.WriteByte(0)
	}

	inner := buildInner(o)

	var afterCRC bytes.Buffer
	if o.badCompFlag != 0 {
		afterCRC.WriteByte(o.badCompFlag)
	} else if o.compressed {
		afterCRC.WriteByte(compressionYes)
	} else {
		afterCRC.WriteByte(compressionNo)
	}
	afterCRC.Write(blob(o.bucketType))
	afterCRC.Write(blob(o.bucket))
	afterCRC.Write(blob(o.key))

	if o.compressed {
		var compressed bytes.Buffer
		w := zlib.NewWriter(&compressed)
		w.Write(inner)
		w.Close()
		afterCRC.Write(compressed.Bytes())
	} else {
		afterCRC.Write(inner)
	}
	afterCRC.Write(o.trailing)

	crc := crc32.ChecksumIEEE(afterCRC.Bytes())
	if o.badCRC {
		crc++
	}
	buf.Write(u32(crc))
	buf.Write(afterCRC.Bytes())

	return buf.Bytes()
}

// vclockListBytes hand-encodes a minimal ETF payload: a list holding
// one {Actor, {Counter, Timestamp}} dot entry, the dvvset/vclock shape
// decodeVClockDict expects (the actor is a plain binary, not a nested
// (node, epoch) tuple — see record.go's decodeVClockDict doc comment
// and TestDecodeDictVClockMatchesSpecSampleVector for the literal wire
// vector this was cross-checked against). Used only to exercise the
// dict vclock mode with an arbitrary entry; no real wire fixtures are
// available in this environment beyond the sample embedded in spec.md.
func vclockListBytes() []byte {
	const (
		etfVersion    = 131
		tagSmallInt   = 97
		tagSmallTuple = 104
		tagNil        = 106
		tagList       = 108
		tagBinary     = 109
	)

	bin := func(s string) []byte {
		out := []byte{tagBinary}
		out = append(out, u32(uint32(len(s)))...)
		return append(out, s...)
	}

	counterAndTS := []byte{tagSmallTuple, 2}
	counterAndTS = append(counterAndTS, tagSmallInt, 7)
	counterAndTS = append(counterAndTS, tagSmallInt, 42) // timestamp, unused by decodeVClockDict

	entry := []byte{tagSmallTuple, 2}
	entry = append(entry, bin("node-actor-01")...)
	entry = append(entry, counterAndTS...)

	out := []byte{etfVersion, tagList}
	out = append(out, u32(1)...)
	out = append(out, entry...)
	out = append(out, tagNil)
	return out
}

func defaultPut() buildOpts {
	return buildOpts{
		notEmpty: true,
		siblings: 1,
		bucket:   []byte("test"),
		key:      []byte("test"),
		vclocks:  []byte("opaque-vclock-bytes"),
		value:    []byte(`{"test":"data4"}`),
		mega:     1618846125,
		secs:     0,
		micro:    126554,
		vtag:     []byte("5kzmcxRpTdtQFl0IIuAbkF"),
		metadata: [][2][]byte{{[]byte("content-type"), []byte("application/json")}},
	}
}
