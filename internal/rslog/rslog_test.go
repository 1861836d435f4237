package rslog

import (
	"bytes"
	"log"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventIncludesTaggedFields(t *testing.T) {
	var buf bytes.Buffer
	base := log.New(&buf, "", 0)
	l := New("checker", base)

	l.Event("shard hash mismatch", F("file_id", "abc123"), F("stripe", 2), F("bad_shards", []int{1, 4}))

	out := buf.String()
	assert.True(t, strings.Contains(out, "[checker]"))
	assert.True(t, strings.Contains(out, "shard hash mismatch"))
	assert.True(t, strings.Contains(out, "file_id=abc123"))
	assert.True(t, strings.Contains(out, "stripe=2"))
	assert.True(t, strings.Contains(out, "bad_shards=[1 4]"))
}

func TestPrintfPrefixesComponent(t *testing.T) {
	var buf bytes.Buffer
	base := log.New(&buf, "", 0)
	l := New("repair", base)

	l.Printf("file_id=%s repair error: %v", "x", "boom")
	assert.True(t, strings.HasPrefix(buf.String(), "[repair] file_id=x"))
}
