package sink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riakbridge/riakbridge/internal/record"
)

func jsonRecord(bucket, key, value, lastMod string) *record.DecodedRecord {
	return &record.DecodedRecord{
		Bucket:       []byte(bucket),
		Key:          []byte(key),
		Value:        record.Value{IsBinary: true, Binary: []byte(value)},
		LastModified: lastMod,
		Metadata: []record.MetadataEntry{
			{
				Key: record.Value{IsBinary: true, Binary: []byte("content-type")},
				Val: record.Value{IsBinary: true, Binary: []byte("application/json")},
			},
		},
	}
}

func TestApplyAcceptsFirstWrite(t *testing.T) {
	s := New("test")
	applied, reason := s.Apply(jsonRecord("test", "k1", `{"a":1}`, "1000.0"))
	require.True(t, applied)
	assert.Empty(t, reason)

	it, ok := s.Get([]byte("test"), []byte("k1"))
	require.True(t, ok)
	assert.Equal(t, `{"a":1}`, string(it.Value))
}

func TestApplyRejectsWrongBucket(t *testing.T) {
	s := New("test")
	applied, reason := s.Apply(jsonRecord("other", "k1", `{}`, "1000.0"))
	assert.False(t, applied)
	assert.Equal(t, "wrong-bucket", reason)
}

func TestApplyRejectsNonJSON(t *testing.T) {
	s := New("test")
	rec := jsonRecord("test", "k1", `plain`, "1000.0")
	rec.Metadata = nil
	applied, reason := s.Apply(rec)
	assert.False(t, applied)
	assert.Equal(t, "not-json", reason)
}

func TestApplyRejectsStaleWrite(t *testing.T) {
	s := New("test")
	_, _ = s.Apply(jsonRecord("test", "k1", `{"v":2}`, "2000.0"))
	applied, reason := s.Apply(jsonRecord("test", "k1", `{"v":1}`, "1000.0"))
	assert.False(t, applied)
	assert.Equal(t, "stale", reason)

	it, _ := s.Get([]byte("test"), []byte("k1"))
	assert.Equal(t, `{"v":2}`, string(it.Value))
}

func TestApplyDeleteRemovesItem(t *testing.T) {
	s := New("test")
	_, _ = s.Apply(jsonRecord("test", "k1", `{"v":1}`, "1000.0"))

	del := &record.DecodedRecord{Bucket: []byte("test"), Key: []byte("k1"), IsDelete: true}
	applied, _ := s.Apply(del)
	assert.True(t, applied)

	_, ok := s.Get([]byte("test"), []byte("k1"))
	assert.False(t, ok)
}
