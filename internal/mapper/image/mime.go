// Package image implements inline image-part MIME auto-detection (§4.8,
// P8): the first 16 decoded bytes are inspected against common magic byte
// sequences and the declared MIME is overridden on mismatch. This never
// reads the full payload.
package image

import (
	"bytes"
	"encoding/base64"
)

// MaxInlineBytes is the upstream ceiling on an inline content part; above
// this, callers must return PayloadTooLarge rather than attempt decode.
const MaxInlineBytes = 100 * 1024 * 1024

const sniffLen = 16

var magicTable = []struct {
	mime   string
	magic  []byte
	offset int
}{
	{"image/jpeg", []byte{0xFF, 0xD8, 0xFF}, 0},
	{"image/png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, 0},
	{"image/gif", []byte("GIF87a"), 0},
	{"image/gif", []byte("GIF89a"), 0},
	{"image/webp", []byte("RIFF"), 0},
}

// DetectMIME inspects the first sniffLen decoded bytes of a base64 inline
// image payload and returns the MIME type implied by its magic bytes, or
// ("", false) if no known signature matches. It decodes only enough base64
// input to cover sniffLen raw bytes, never the whole payload.
func DetectMIME(base64Payload string) (string, bool) {
	// base64 expands by 4/3; decode enough leading characters to cover
	// sniffLen raw bytes plus slack for padding/alignment.
	need := ((sniffLen + 2) / 3) * 4 + 4
	if need > len(base64Payload) {
		need = len(base64Payload)
	}
	head := base64Payload[:need]

	raw := make([]byte, base64.StdEncoding.DecodedLen(len(head)))
	n, err := base64.StdEncoding.Decode(raw, []byte(head))
	if err != nil {
		// Padding may be misaligned at this truncation point; that's fine,
		// we only need a best-effort sniff, not full decode validity.
		n = tolerantDecode(raw, head)
	}
	raw = raw[:n]
	if len(raw) > sniffLen {
		raw = raw[:sniffLen]
	}

	for _, entry := range magicTable {
		if len(raw) < entry.offset+len(entry.magic) {
			continue
		}
		if bytes.Equal(raw[entry.offset:entry.offset+len(entry.magic)], entry.magic) {
			if entry.mime == "image/webp" && !looksLikeWebP(raw) {
				continue
			}
			return entry.mime, true
		}
	}
	return "", false
}

// looksLikeWebP additionally checks for the "WEBP" tag after the RIFF
// header+size, to avoid misclassifying other RIFF containers (e.g. WAV).
func looksLikeWebP(raw []byte) bool {
	return len(raw) >= 12 && bytes.Equal(raw[8:12], []byte("WEBP"))
}

func tolerantDecode(dst []byte, s string) int {
	// Strip trailing characters until decode succeeds, bounded by a few
	// attempts since we only need a handful of sniff bytes.
	for i := len(s); i > 0; i -= 4 {
		trimmed := s[:i]
		n, err := base64.StdEncoding.Decode(dst, []byte(trimmed))
		if err == nil {
			return n
		}
	}
	return 0
}

// Reconcile returns the corrected MIME type for declaredMIME given the
// sniffed payload, implementing the auto-detect override rule (P8): the
// declared MIME is replaced only on a confident magic-byte mismatch.
func Reconcile(declaredMIME, base64Payload string) string {
	detected, ok := DetectMIME(base64Payload)
	if !ok {
		return declaredMIME
	}
	return detected
}
