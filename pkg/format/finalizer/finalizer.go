/*
Copyright © 2025 3 Leaps <info@3leaps.net>
*/
package finalizer

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

// NormalizeLineEndings converts all line endings to the specified style
func NormalizeLineEndings(input []byte, targetEnding string) (out []byte, changed bool, err error) {
	if len(input) == 0 {
		return input, false, nil
	}

	// Binary content is left untouched
	if bytes.Contains(input, []byte{0}) {
		return input, false, nil
	}

	content := string(input)
	originalContent := content

	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")

	if targetEnding == "\r\n" {
		content = strings.ReplaceAll(content, "\n", "\r\n")
	}

	if content != originalContent {
		changed = true
	}

	return []byte(content), changed, nil
}

// EnsureTrailingNewline appends a single LF when input does not already end with one.
// Existing trailing blank lines are kept.
func EnsureTrailingNewline(input []byte) (out []byte, changed bool) {
	if len(input) == 0 || input[len(input)-1] == '\n' {
		return input, false
	}
	out = make([]byte, 0, len(input)+1)
	out = append(out, input...)
	return append(out, '\n'), true
}

// EnsureSingleTrailingNewline collapses trailing line breaks so the content ends with
// exactly one, using the content's dominant line ending. Trailing spaces on the last
// line are preserved. Empty input stays empty.
func EnsureSingleTrailingNewline(input []byte) (out []byte, changed bool) {
	if len(input) == 0 {
		return input, false
	}
	content := string(input)
	lineEnding := detectLineEnding(content)
	trimmed := strings.TrimRight(content, "\r\n")
	result := trimmed + lineEnding
	return []byte(result), result != content
}

// PreparePatch normalizes a unified diff for tools that are strict about
// line endings: CRLF and CR become LF and the text ends with a newline.
func PreparePatch(input []byte) []byte {
	out, _, _ := NormalizeLineEndings(input, "\n")
	out, _ = EnsureTrailingNewline(out)
	return out
}

// StripNonASCII drops every byte outside printable ASCII except tab and line breaks.
func StripNonASCII(input []byte) (out []byte, changed bool) {
	out = make([]byte, 0, len(input))
	for _, b := range input {
		if b == '\n' || b == '\r' || b == '\t' || (b >= 0x20 && b < 0x7f) {
			out = append(out, b)
		}
	}
	return out, len(out) != len(input)
}

// RemoveUTF8BOM removes UTF-8 Byte Order Mark if present
func RemoveUTF8BOM(input []byte) (out []byte, changed bool, err error) {
	if len(input) >= 3 && bytes.HasPrefix(input, []byte{0xEF, 0xBB, 0xBF}) {
		return input[3:], true, nil
	}
	return input, false, nil
}

// IsTextFile performs a heuristic check to determine if content is likely text
func IsTextFile(content []byte) bool {
	if len(content) == 0 {
		return true
	}

	if bytes.Contains(content, []byte{0}) {
		return false
	}

	return utf8.Valid(content)
}

// detectLineEnding detects the primary line ending style used in the content
func detectLineEnding(content string) string {
	lfCount := strings.Count(content, "\n") - strings.Count(content, "\r\n")
	crlfCount := strings.Count(content, "\r\n")

	if crlfCount > lfCount {
		return "\r\n"
	}
	return "\n"
}
