// Package chunker splits document text into overlapping chunks for embedding.
package chunker

import (
	"fmt"
	"strings"

	"github.com/mfalkin/sitefeeder/internal/crawler"
)

// Sentence-like boundaries, checked in order.
var boundaries = []string{". ", "! ", "? ", "\n\n"}

// Split walks text in windows of chunkSize bytes and returns the ordered,
// trimmed chunks. A window prefers to end at the last sentence-like
// boundary found in its second half, to avoid mid-sentence splits. The
// next window starts at end-overlap.
//
// Guards: an overlap >= chunkSize is clamped to chunkSize/2, the start
// index strictly advances every iteration, and iteration count is hard
// bounded so pathological input returns whatever chunks were produced
// rather than looping.
func Split(text string, chunkSize, overlap int) []string {
	if chunkSize <= 0 || text == "" {
		return nil
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 2
	}

	var chunks []string
	n := len(text)
	start := 0
	// Start advances by at least one byte per iteration, so n iterations
	// is already unreachable; the bound is a backstop.
	maxIter := n + 1
	for iter := 0; start < n && iter < maxIter; iter++ {
		end := start + chunkSize
		if end >= n {
			end = n
		} else if cut, ok := boundaryCut(text, start, end); ok {
			end = cut
		}

		if chunk := strings.TrimSpace(text[start:end]); chunk != "" {
			chunks = append(chunks, chunk)
		}

		next := end - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}

// ChunkID derives the stable document ID for one chunk of a page. The ID is
// a digest of the page URL and the chunk's position, so re-embedding the same
// page overwrites its chunks instead of duplicating them.
func ChunkID(hasher crawler.Hasher, url string, chunkIndex int) (string, error) {
	return hasher.Hash([]byte(fmt.Sprintf("%s_%d", url, chunkIndex)))
}

// boundaryCut finds the last sentence boundary in the second half of the
// window [start, end) and returns the cut position just past it.
func boundaryCut(text string, start, end int) (int, bool) {
	mid := start + (end-start)/2
	best := -1
	for _, b := range boundaries {
		idx := strings.LastIndex(text[mid:end], b)
		if idx < 0 {
			continue
		}
		if cut := mid + idx + len(b); cut > best {
			best = cut
		}
	}
	if best < 0 {
		return 0, false
	}
	return best, true
}
