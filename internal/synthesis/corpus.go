package synthesis

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/KafClaw/groupjournal/internal/store"
)

// Corpus is the delimited text handed to the provider.
type Corpus struct {
	Text          string
	Chars         int
	Truncated     bool
	ItemsIncluded int
}

func block(n int, it store.Item) string {
	title := strings.TrimSpace(it.Title)
	if title == "" {
		title = "untitled"
	}
	return fmt.Sprintf("--- item %d · %s · %s ---\n%s\n", n, title, it.CreatedAt.UTC().Format(time.RFC3339), strings.TrimSpace(it.Text))
}

// BuildCorpus renders items in creation order. When the rendering exceeds
// budget characters the oldest items are dropped first.
func BuildCorpus(items []store.Item, budget int) Corpus {
	if len(items) == 0 {
		return Corpus{}
	}
	blocks := make([]string, len(items))
	total := 0
	for i, it := range items {
		blocks[i] = block(i+1, it)
		total += utf8.RuneCountInString(blocks[i])
	}
	total += len(blocks) - 1 // separators
	if budget <= 0 || total <= budget {
		text := strings.Join(blocks, "\n")
		return Corpus{Text: text, Chars: utf8.RuneCountInString(text), ItemsIncluded: len(items)}
	}

	start := len(blocks)
	used := 0
	for i := len(blocks) - 1; i >= 0; i-- {
		n := utf8.RuneCountInString(blocks[i])
		if start < len(blocks) {
			n++ // separator
		}
		if used+n > budget {
			break
		}
		used += n
		start = i
	}

	if start == len(blocks) {
		// The newest item alone exceeds the budget; keep its head.
		text := string([]rune(blocks[len(blocks)-1])[:budget])
		return Corpus{Text: text, Chars: budget, Truncated: true, ItemsIncluded: 1}
	}
	text := strings.Join(blocks[start:], "\n")
	return Corpus{Text: text, Chars: utf8.RuneCountInString(text), Truncated: true, ItemsIncluded: len(blocks) - start}
}

// Fingerprint identifies the exact set and revision of items a journal was
// built from.
func Fingerprint(items []store.Item) string {
	h := sha256.New()
	h.Write([]byte(strconv.Itoa(len(items))))
	for _, it := range items {
		h.Write([]byte{0})
		h.Write([]byte(it.ID))
		h.Write([]byte{0})
		h.Write([]byte(strconv.FormatInt(it.UpdatedAt.UnixNano(), 10)))
	}
	return hex.EncodeToString(h.Sum(nil))
}
