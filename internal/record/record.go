// Package record decodes the binary replication-record format emitted
// by a Riak-style replication queue: a length-prefixed, multi-layer,
// CRC-validated, optionally zlib-compressed framing that embeds a
// legacy object format, vector clocks, and a variable-length metadata
// block. See SPEC_FULL.md §3-4 for the full field and state-machine
// description.
package record

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/riakbridge/riakbridge/internal/record/term"
)

const (
	riakMagic        = 53
	objectVersion    = 1
	compressionNo    = 16
	compressionYes   = 24
	maxSiblingsAllowed = 1
)

// VClockMode selects the output representation for vector clocks.
type VClockMode int

const (
	// VClockBase64 stores the raw vclock bytes base64-encoded, unaided
	// by the foreign-term adapter.
	VClockBase64 VClockMode = iota
	// VClockDict decodes the vclock bytes as an external term and
	// materializes a {actor_id -> counter} mapping.
	VClockDict
)

// ParseVClockMode validates the configured vector-clock output mode.
// The empty string selects the default, base64. Any value other than
// "", "base64" or "dict" is a construction-time InvalidConfig error
// (spec §6.4).
func ParseVClockMode(s string) (VClockMode, error) {
	switch s {
	case "", "base64":
		return VClockBase64, nil
	case "dict":
		return VClockDict, nil
	default:
		return 0, errInvalidConfig("vclock_mode", s)
	}
}

// Config controls decode-time choices that are not wire-observable.
type Config struct {
	VClockMode VClockMode
}

// Value is a sibling's value or a metadata key/value: either raw
// bytes (when the wire's is-binary discriminator is true) or a
// decoded foreign term.
type Value struct {
	IsBinary bool
	Binary   []byte
	Term     term.Term
}

// MetadataEntry is one {k: v} single-pair mapping. Metadata keys may
// repeat; order and multiplicity are preserved rather than collapsed
// into a map; see SPEC_FULL.md §4.3.
type MetadataEntry struct {
	Key Value
	Val Value
}

// VectorClocks holds whichever representation was selected at decode
// time (§4.3); exactly one of Base64/Dict is populated.
type VectorClocks struct {
	Mode   VClockMode
	Base64 string
	Dict   map[string]int64
}

// DecodedRecord is the fully-parsed replication record (spec §3).
type DecodedRecord struct {
	Empty      bool
	IsDelete   bool
	TombClock  string // base64, "" when absent
	CRC        uint32
	Compressed bool
	BucketType []byte
	Bucket     []byte
	Key        []byte

	VectorClocks  VectorClocks
	SiblingsCount uint32

	HeadOnly     bool
	Value        Value
	LastModified string
	VTag         []byte
	KeyDeleted   bool
	Metadata     []MetadataEntry
}

// HasMetadata reports whether the decoded metadata contains a binary
// {key: val} pair, irrespective of neighbouring entries — the lookup
// the downstream sink uses for content-type detection (§4.3, §4.6).
func (r *DecodedRecord) HasMetadata(key, val []byte) bool {
	for _, e := range r.Metadata {
		if e.Key.IsBinary && e.Val.IsBinary &&
			bytes.Equal(e.Key.Binary, key) && bytes.Equal(e.Val.Binary, val) {
			return true
		}
	}
	return false
}

// Decode parses a single replication record from data. data must hold
// the record whole; there is no incremental/streaming mode (§1
// non-goals). Exactly one of (*DecodedRecord, nil) or (nil, *Error) is
// returned — a failed decode never exposes a partial record (§3
// lifecycle).
func Decode(data []byte, cfg Config) (*DecodedRecord, *Error) {
	c := newCursor(data)
	rec := &DecodedRecord{Empty: true}

	notEmpty, err := c.readBool()
	if err != nil {
		return nil, err
	}
	if !notEmpty {
		return rec, nil
	}
	rec.Empty = false

	isDelete, err := c.readBool()
	if err != nil {
		return nil, err
	}
	rec.IsDelete = isDelete

	if isDelete {
		if err := parseTombClock(c, rec); err != nil {
			return nil, err
		}
	}

	if err := parseCRC(c, rec); err != nil {
		return nil, err
	}
	if err := parseCompressionFlag(c, rec); err != nil {
		return nil, err
	}

	if err := parseBlobField(c, &rec.BucketType); err != nil {
		return nil, err
	}
	if err := parseBlobField(c, &rec.Bucket); err != nil {
		return nil, err
	}
	if err := parseBlobField(c, &rec.Key); err != nil {
		return nil, err
	}

	if rec.Compressed {
		inflated, ierr := inflate(c.tail())
		if ierr != nil {
			return nil, errDecompressionFailed(ierr)
		}
		c.replace(inflated)
	}

	if err := parseMagic(c); err != nil {
		return nil, err
	}

	if err := parseVectorClocks(c, rec, cfg); err != nil {
		return nil, err
	}

	n, err := c.readU32()
	if err != nil {
		return nil, err
	}
	rec.SiblingsCount = n
	if n != maxSiblingsAllowed {
		return nil, errTooManySiblings(n)
	}

	for i := uint32(0); i < n; i++ {
		if err := parseValue(c, rec); err != nil {
			return nil, err
		}
		if err := parseMetadata(c, rec); err != nil {
			return nil, err
		}
	}

	if c.remaining() != 0 {
		return nil, errTrailingBytes(c.remaining())
	}

	return rec, nil
}

func parseTombClock(c *cursor, rec *DecodedRecord) *Error {
	b, ok, err := c.readBlob()
	if err != nil {
		return err
	}
	if ok {
		rec.TombClock = base64.StdEncoding.EncodeToString(b)
	}
	return nil
}

func parseCRC(c *cursor, rec *DecodedRecord) *Error {
	stored, err := c.readU32()
	if err != nil {
		return err
	}
	if stored != crc32.ChecksumIEEE(c.tail()) {
		return errInvalidChecksum()
	}
	rec.CRC = stored
	return nil
}

func parseCompressionFlag(c *cursor, rec *DecodedRecord) *Error {
	flag, err := c.readU8()
	if err != nil {
		return err
	}
	switch flag {
	case compressionNo:
		rec.Compressed = false
	case compressionYes:
		rec.Compressed = true
	default:
		return errInvalidCompressionFlag(flag)
	}
	return nil
}

func parseBlobField(c *cursor, out *[]byte) *Error {
	b, ok, err := c.readBlob()
	if err != nil {
		return err
	}
	if ok {
		// Copy: the bucket/bucket-type/key fields are read before a
		// possible decompression replaces the cursor's backing buffer,
		// and the decoded record must own them past that swap (§5).
		cp := append([]byte(nil), b...)
		*out = cp
	}
	return nil
}

func inflate(compressed []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func parseMagic(c *cursor) *Error {
	magic, err := c.readU8()
	if err != nil {
		return err
	}
	if magic != riakMagic {
		return errInvalidMagic(magic)
	}
	ver, err := c.readU8()
	if err != nil {
		return err
	}
	if ver != objectVersion {
		return errUnsupportedVersion(ver)
	}
	return nil
}

func parseVectorClocks(c *cursor, rec *DecodedRecord, cfg Config) *Error {
	raw, ok, err := c.readBlob()
	if err != nil {
		return err
	}
	if !ok {
		raw = nil
	}

	vc := VectorClocks{Mode: cfg.VClockMode}
	switch cfg.VClockMode {
	case VClockBase64:
		vc.Base64 = base64.StdEncoding.EncodeToString(raw)
	case VClockDict:
		dict, derr := decodeVClockDict(raw)
		if derr != nil {
			return errInvalidForeignTerm(derr)
		}
		vc.Dict = dict
	default:
		return errInvalidConfig("vclock_mode", fmt.Sprintf("%d", cfg.VClockMode))
	}
	rec.VectorClocks = vc
	return nil
}

// decodeVClockDict decodes raw as a list of dvvset-style dots,
// `{Actor, {Counter, Timestamp}}`, and materializes
// {actor_id_string -> counter} (§4.3). Actor identity is the raw
// encoded bytes of the actor binary itself (see
// term.Term.RawDecimalDigest), not a decoded (node, epoch) pair —
// there is no nested actor tuple on the wire.
func decodeVClockDict(raw []byte) (map[string]int64, error) {
	if len(raw) == 0 {
		return map[string]int64{}, nil
	}
	t, err := term.Decode(raw)
	if err != nil {
		return nil, err
	}
	if t.Kind != term.KindList {
		return nil, fmt.Errorf("term: vector clocks: expected list, got kind %d", t.Kind)
	}

	out := make(map[string]int64, len(t.List))
	for _, entry := range t.List {
		if entry.Kind != term.KindTuple || len(entry.Tuple) != 2 {
			return nil, fmt.Errorf("term: vector clocks: expected 2-tuple dot entry")
		}
		actor, counterAndTS := entry.Tuple[0], entry.Tuple[1]
		if counterAndTS.Kind != term.KindTuple || len(counterAndTS.Tuple) != 2 {
			return nil, fmt.Errorf("term: vector clocks: expected {counter, timestamp} pair")
		}
		actorStr, err := actor.RawDecimalDigest()
		if err != nil {
			return nil, err
		}
		counter, err := counterAndTS.Tuple[0].AsInt64()
		if err != nil {
			return nil, err
		}
		out[actorStr] = counter
	}
	return out, nil
}

// readMaybeBinary reads a u32 gross length followed by a one-byte
// is-binary discriminator and gross-1 payload bytes. If is-binary is
// false the payload is handed to the foreign-term adapter (§4.3,
// §9 open question: discriminator always counts toward length).
func readMaybeBinary(c *cursor) (Value, uint32, *Error) {
	gross, err := c.readU32()
	if err != nil {
		return Value{}, 0, err
	}
	if gross == 0 {
		return Value{}, 0, errTruncated(1, 0)
	}
	isBinary, err := c.readBool()
	if err != nil {
		return Value{}, gross, err
	}
	payload, err := c.readBytes(int(gross - 1))
	if err != nil {
		return Value{}, gross, err
	}
	payload = append([]byte(nil), payload...)

	if isBinary {
		return Value{IsBinary: true, Binary: payload}, gross, nil
	}
	t, terr := term.Decode(payload)
	if terr != nil {
		return Value{}, gross, errInvalidForeignTerm(terr)
	}
	return Value{IsBinary: false, Term: t}, gross, nil
}

func parseValue(c *cursor, rec *DecodedRecord) *Error {
	v, gross, err := readMaybeBinary(c)
	if err != nil {
		return err
	}
	rec.HeadOnly = gross == 1
	rec.Value = v
	return nil
}

func parseMetadata(c *cursor, rec *DecodedRecord) *Error {
	metaLen, err := c.readU32()
	if err != nil {
		return err
	}
	end := c.offset() + int(metaLen)

	mega, err := c.readU32()
	if err != nil {
		return err
	}
	secs, err := c.readU32()
	if err != nil {
		return err
	}
	micro, err := c.readU32()
	if err != nil {
		return err
	}
	// Textual concatenation, not arithmetic — see SPEC_FULL.md §9.
	rec.LastModified = fmt.Sprintf("%d%d.%d", mega, secs, micro)

	vtagLen, err := c.readU8()
	if err != nil {
		return err
	}
	vtag, err := c.readBytes(int(vtagLen))
	if err != nil {
		return err
	}
	rec.VTag = append([]byte(nil), vtag...)

	deleted, err := c.readBool()
	if err != nil {
		return err
	}
	rec.KeyDeleted = deleted

	for c.offset() < end {
		key, _, kerr := readMaybeBinary(c)
		if kerr != nil {
			return kerr
		}
		val, _, verr := readMaybeBinary(c)
		if verr != nil {
			return verr
		}
		rec.Metadata = append(rec.Metadata, MetadataEntry{Key: key, Val: val})
	}
	// The loop above only terminates when offset >= end; a corrupted
	// kl/vl pair can overshoot past end instead of landing on it
	// exactly, which must fail rather than pass through silently (§5).
	if c.offset() != end {
		return errMetadataLengthMismatch(c.offset(), end)
	}
	return nil
}
