package extract

import (
	"regexp"
	"strings"
)

// Chunking defaults. Sizes are character counts, not tokens.
const (
	DefaultChunkSize = 1000
	DefaultOverlap   = 200

	// minChunkLength is the noise floor: chunks whose trimmed content is
	// this long or shorter are discarded.
	minChunkLength = 50

	// avgWordLength converts the overlap character budget into a word
	// count when seeding the next buffer.
	avgWordLength = 5
)

// Chunk is a bounded passage of extracted text with its page and position.
// The embedding is attached later by the index; the chunker only produces
// content and coordinates.
type Chunk struct {
	Content    string
	PageNumber int // 1-based
	ChunkIndex int // document-global, monotonically increasing in page order
	Metadata   map[string]string
}

// Options configures SplitPages.
type Options struct {
	ChunkSize int // maximum chunk length in characters; default 1000
	Overlap   int // overlap budget in characters; default 200
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.Overlap < 0 {
		o.Overlap = DefaultOverlap
	}
	return o
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// SplitPages chunks ordered per-page text into overlapping passages.
//
// Per page: sentences are accumulated greedily into a buffer; when the next
// sentence would push the non-empty buffer past ChunkSize the buffer is
// flushed as a chunk, and the next buffer is seeded with the last
// Overlap/5 words of the flushed text followed by the triggering sentence.
// Chunks at or under the 50-character noise floor are dropped. The chunk
// index is assigned across the whole document in page order, so re-running
// with the same input yields byte-identical chunks.
func SplitPages(pages []string, opts Options) []Chunk {
	opts = opts.withDefaults()
	overlapWords := opts.Overlap / avgWordLength

	var chunks []Chunk
	index := 0

	for pageIdx, page := range pages {
		pageNumber := pageIdx + 1

		var buffer string
		flush := func() {
			if len(strings.TrimSpace(buffer)) > minChunkLength {
				chunks = append(chunks, Chunk{
					Content:    buffer,
					PageNumber: pageNumber,
					ChunkIndex: index,
				})
				index++
			}
		}

		for _, sentence := range splitSentences(page) {
			if buffer == "" {
				buffer = sentence
				continue
			}
			if len(buffer)+1+len(sentence) > opts.ChunkSize {
				flush()
				buffer = seedOverlap(buffer, overlapWords, sentence)
				continue
			}
			buffer += " " + sentence
		}
		flush()
	}

	return chunks
}

// splitSentences collapses whitespace runs to single spaces and splits the
// text after '.', '!' or '?' followed by whitespace. Trailing text without
// a terminator is kept as a final sentence.
func splitSentences(text string) []string {
	text = whitespaceRun.ReplaceAllString(strings.TrimSpace(text), " ")
	if text == "" {
		return nil
	}

	var sentences []string
	start := 0
	for i := 0; i+1 < len(text); i++ {
		if isTerminator(text[i]) && text[i+1] == ' ' {
			sentences = append(sentences, text[start:i+1])
			start = i + 2
		}
	}
	if start < len(text) {
		sentences = append(sentences, text[start:])
	}
	return sentences
}

func isTerminator(b byte) bool {
	return b == '.' || b == '!' || b == '?'
}

// seedOverlap builds the successor buffer from the tail words of the
// flushed text plus the sentence that triggered the flush.
func seedOverlap(flushed string, overlapWords int, next string) string {
	if overlapWords <= 0 {
		return next
	}
	words := strings.Fields(flushed)
	if len(words) > overlapWords {
		words = words[len(words)-overlapWords:]
	}
	if len(words) == 0 {
		return next
	}
	return strings.Join(words, " ") + " " + next
}
