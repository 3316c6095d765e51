// Package spool provides an on-disk, CRC32-framed durability log of
// consumer decisions: which records were applied, skipped, or failed
// to decode. Adapted from the teacher's internal/wal.
package spool

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Outcome describes what the consumer did with one fetched record.
type Outcome byte

const (
	Applied      Outcome = 1
	Skipped      Outcome = 2
	DecodeFailed Outcome = 3
)

// ErrCorruptedRecord indicates a CRC32 mismatch in a spool record.
var ErrCorruptedRecord = errors.New("spool: corrupted record (CRC32 mismatch)")

// Entry is one spooled decision.
type Entry struct {
	Outcome      Outcome
	Bucket       string
	Key          string
	LastModified string
}

// Spool is a CRC32-framed append-only log of Entry records.
// Format: CRC32(4) | Outcome(1) | BucketLen(4) Bucket | KeyLen(4) Key
// | LastModifiedLen(4) LastModified (spec §4.7).
type Spool struct {
	mu       sync.Mutex
	file     *os.File
	filePath string
}

// Open opens or creates a spool file at path, creating its directory
// if needed.
func Open(path string) (*Spool, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("spool: failed to create directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("spool: failed to open file: %w", err)
	}

	return &Spool{file: file, filePath: path}, nil
}

// Append writes one entry to the spool and syncs it to disk.
func (s *Spool) Append(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("spool: failed to seek to end: %w", err)
	}

	data := encodeEntry(e)
	if _, err := s.file.Write(data); err != nil {
		return fmt.Errorf("spool: failed to write entry: %w", err)
	}

	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("spool: failed to sync: %w", err)
	}
	return nil
}

// ReadAll reads all valid entries from the spool, truncating at the
// first corrupted or partial record exactly like the teacher's WAL
// recovery.
func (s *Spool) ReadAll() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("spool: failed to seek: %w", err)
	}

	var entries []Entry
	var validOffset int64

	for {
		e, n, err := readEntry(s.file)
		if err != nil {
			break
		}
		entries = append(entries, e)
		validOffset += int64(n)
	}

	if err := s.file.Truncate(validOffset); err != nil {
		return nil, fmt.Errorf("spool: failed to truncate: %w", err)
	}
	if _, err := s.file.Seek(0, io.SeekEnd); err != nil {
		return nil, fmt.Errorf("spool: failed to seek to end: %w", err)
	}

	return entries, nil
}

// Close closes the spool file.
func (s *Spool) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("spool: failed to sync on close: %w", err)
	}
	return s.file.Close()
}

func encodeEntry(e Entry) []byte {
	bucket := []byte(e.Bucket)
	key := []byte(e.Key)
	lm := []byte(e.LastModified)

	body := make([]byte, 0, 1+4+len(bucket)+4+len(key)+4+len(lm))
	body = append(body, byte(e.Outcome))
	body = appendLenPrefixed(body, bucket)
	body = appendLenPrefixed(body, key)
	body = appendLenPrefixed(body, lm)

	out := make([]byte, 4+len(body))
	copy(out[4:], body)
	binary.BigEndian.PutUint32(out[0:4], crc32.ChecksumIEEE(body))
	return out
}

func appendLenPrefixed(dst, b []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, b...)
}

func readEntry(r io.Reader) (Entry, int, error) {
	var crcAndOutcome [5]byte
	n, err := io.ReadFull(r, crcAndOutcome[:])
	if err != nil {
		return Entry{}, n, io.EOF
	}
	storedCRC := binary.BigEndian.Uint32(crcAndOutcome[0:4])
	outcome := Outcome(crcAndOutcome[4])

	body := []byte{crcAndOutcome[4]}
	total := n

	bucket, read, err := readLenPrefixed(r)
	if err != nil {
		return Entry{}, total, io.EOF
	}
	total += read
	body = append(body, lenPrefixedBytes(bucket)...)

	key, read, err := readLenPrefixed(r)
	if err != nil {
		return Entry{}, total, io.EOF
	}
	total += read
	body = append(body, lenPrefixedBytes(key)...)

	lm, read, err := readLenPrefixed(r)
	if err != nil {
		return Entry{}, total, io.EOF
	}
	total += read
	body = append(body, lenPrefixedBytes(lm)...)

	if crc32.ChecksumIEEE(body) != storedCRC {
		return Entry{}, total, ErrCorruptedRecord
	}

	return Entry{
		Outcome:      outcome,
		Bucket:       string(bucket),
		Key:          string(key),
		LastModified: string(lm),
	}, total, nil
}

func readLenPrefixed(r io.Reader) ([]byte, int, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, 4, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > 1<<20 {
		return nil, 4, ErrCorruptedRecord
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, 4 + int(n), err
	}
	return b, 4 + int(n), nil
}

func lenPrefixedBytes(b []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	return append(lenBuf[:], b...)
}
