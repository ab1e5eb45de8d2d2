package tus_test

import (
	"testing"

	"github.com/Sar-kit/tus2/internal/tus"
	"github.com/stretchr/testify/assert"
)

func TestMetadataRoundTrip(t *testing.T) {
	m := map[string]string{
		"formId":   "42ab0f9c-2f7c-4c4e-b34d-1f6a0cf199d1",
		"fileName": "héllo wörld.bin",
		"mimeType": "application/octet-stream",
		"note":     "値 = value, with,comma",
	}

	decoded, dropped := tus.DecodeMetadata(tus.EncodeMetadata(m))
	assert.Empty(t, dropped)
	assert.Equal(t, m, decoded)
}

func TestEncodeMetadataDeterministic(t *testing.T) {
	m := map[string]string{"b": "2", "a": "1", "c": "3"}
	assert.Equal(t, tus.EncodeMetadata(m), tus.EncodeMetadata(m))
	assert.Equal(t, "a MQ==,b Mg==,c Mw==", tus.EncodeMetadata(m))
}

func TestDecodeMetadataEmpty(t *testing.T) {
	decoded, dropped := tus.DecodeMetadata("")
	assert.Empty(t, dropped)
	assert.NotNil(t, decoded)
	assert.Len(t, decoded, 0)
}

func TestDecodeMetadataMalformedEntries(t *testing.T) {
	header := "formId NDI=,garbage,broken ???not-base64???,fileName YS5iaW4="

	decoded, dropped := tus.DecodeMetadata(header)
	assert.Equal(t, map[string]string{
		"formId":   "42",
		"fileName": "a.bin",
	}, decoded)
	assert.Equal(t, []string{"garbage", "broken"}, dropped)
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, tus.Fingerprint("/tmp/a.bin", "form-1"), tus.Fingerprint("/tmp/a.bin", "form-1"))
	assert.NotEqual(t, tus.Fingerprint("/tmp/a.bin", "form-1"), tus.Fingerprint("/tmp/a.bin", "form-2"))
	assert.NotEqual(t, tus.Fingerprint("/tmp/a.bin", "form-1"), tus.Fingerprint("/tmp/b.bin", "form-1"))

	// The separator prevents ambiguous concatenations.
	assert.NotEqual(t, tus.Fingerprint("ab", "c"), tus.Fingerprint("a", "bc"))
}
