package ble

import "unicode/utf8"

// MaxPayloadBytes is the data that fits in one write at the default ATT MTU
// of 23 (3 bytes of ATT header).
const MaxPayloadBytes = 20

// Chunk splits data into pieces of at most maxBytes. Text is split on a
// UTF-8 boundary where one exists within the last three bytes of a piece so
// peers that print each write see whole characters. Returns nil for empty
// data.
func Chunk(data []byte, maxBytes int) [][]byte {
	if len(data) == 0 || maxBytes <= 0 {
		return nil
	}
	if len(data) <= maxBytes {
		return [][]byte{data}
	}

	var chunks [][]byte
	for len(data) > 0 {
		if len(data) <= maxBytes {
			chunks = append(chunks, data)
			break
		}

		split := maxBytes
		for back := 0; back < utf8.UTFMax-1 && split > 1 && !utf8.RuneStart(data[split]); back++ {
			split--
		}
		if !utf8.RuneStart(data[split]) {
			// Binary data, or a rune longer than the window: hard split.
			split = maxBytes
		}
		chunks = append(chunks, data[:split])
		data = data[split:]
	}
	return chunks
}
