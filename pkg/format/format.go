package format

import (
	"strconv"
	"strings"
	"time"
)

// markdownSpecials are the characters Telegram MarkdownV2 treats as markup.
const markdownSpecials = ",.!?[]{}()'-#"

// EscapeMarkdown escapes MarkdownV2-sensitive characters so arbitrary text
// survives a parse_mode=MarkdownV2 send.
func EscapeMarkdown(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if strings.ContainsRune(markdownSpecials, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}

	return b.String()
}

// Count renders a counter for captions: 999 stays as-is, larger values
// collapse to one decimal with a K/M suffix (1.2K, 3.4M).
func Count(n int64) string {
	switch {
	case n >= 1_000_000:
		return trimDecimal(float64(n)/1_000_000) + "M"
	case n >= 1_000:
		return trimDecimal(float64(n)/1_000) + "K"
	default:
		return strconv.FormatInt(n, 10)
	}
}

func trimDecimal(v float64) string {
	s := strconv.FormatFloat(v, 'f', 1, 64)
	return strings.TrimSuffix(s, ".0")
}

// ReportDate formats a timestamp for user-facing report footers.
func ReportDate(t time.Time) string {
	return t.Format("02.01.2006, 15:04")
}

// Chunk splits items into consecutive batches of at most size elements,
// preserving order. A non-positive size yields a single batch.
func Chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 {
		return [][]T{items}
	}

	batches := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end])
	}

	return batches
}
