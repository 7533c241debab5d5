package utils

// SplitText splits text into chunks of roughly chunkSize runes with an
// overlap carried between consecutive chunks to preserve context at the
// boundaries. Character-based on purpose; strict slicing never loses data,
// which a tokenizer-aware splitter would have to guarantee separately.
func SplitText(text string, chunkSize int, overlap int) []string {
	if len(text) <= chunkSize {
		return []string{text}
	}

	var chunks []string
	runes := []rune(text)
	totalLen := len(runes)

	step := chunkSize - overlap
	if step <= 0 {
		step = chunkSize // fallback if overlap >= chunkSize
	}

	for i := 0; i < totalLen; i += step {
		end := i + chunkSize
		if end > totalLen {
			end = totalLen
		}

		chunks = append(chunks, string(runes[i:end]))

		if end == totalLen {
			break
		}
	}

	return chunks
}
