package tus

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"sort"
	"strings"
)

// Fingerprint derives the identity of a (source, destination) pair.
// It is stable across process restarts so a resumed upload maps back to
// the same persisted state.
func Fingerprint(source, destination string) string {
	h := sha256.New()
	h.Write([]byte(source))
	h.Write([]byte{0})
	h.Write([]byte(destination))
	return hex.EncodeToString(h.Sum(nil))
}

// EncodeMetadata serializes the given mapping to the Upload-Metadata wire
// format: comma-separated "key base64(value)" pairs. Keys are sorted so the
// output is deterministic.
func EncodeMetadata(metadata map[string]string) string {
	keys := make([]string, 0, len(metadata))
	for key := range metadata {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		value := base64.StdEncoding.EncodeToString([]byte(metadata[key]))
		pairs = append(pairs, key+" "+value)
	}
	return strings.Join(pairs, ",")
}

// DecodeMetadata parses an Upload-Metadata header. Malformed entries are
// dropped rather than failing the whole decode, their keys are returned so
// the caller can log them. An empty header yields an empty mapping, never
// an error.
func DecodeMetadata(header string) (metadata map[string]string, dropped []string) {
	metadata = make(map[string]string)
	if header == "" {
		return metadata, nil
	}

	for _, pair := range strings.Split(header, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		key, value, found := strings.Cut(pair, " ")
		if !found || key == "" {
			dropped = append(dropped, pair)
			continue
		}

		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(value))
		if err != nil {
			dropped = append(dropped, key)
			continue
		}
		metadata[key] = string(decoded)
	}
	return metadata, dropped
}
