package stream

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Buffer groups provider tokens into chunks. Text is released when it
// ends at a word boundary, when it reaches Size runes, or when the oldest
// buffered token has waited Interval.
type Buffer struct {
	Size     int
	Interval time.Duration

	buf       strings.Builder
	runes     int
	lastFlush time.Time
}

// NewBuffer creates a Buffer whose debounce interval starts at now.
func NewBuffer(size int, interval time.Duration, now time.Time) *Buffer {
	return &Buffer{Size: size, Interval: interval, lastFlush: now}
}

// IsBoundary reports whether r ends a word.
func IsBoundary(r rune) bool {
	if unicode.IsSpace(r) {
		return true
	}
	return strings.ContainsRune(".,!?;:-—", r)
}

// Push appends token and returns the text to release, if any.
func (b *Buffer) Push(token string, now time.Time) (string, bool) {
	if token == "" {
		return "", false
	}
	if b.runes == 0 {
		b.lastFlush = now
	}
	b.buf.WriteString(token)
	b.runes += utf8.RuneCountInString(token)
	last, _ := utf8.DecodeLastRuneInString(token)
	if IsBoundary(last) || (b.Size > 0 && b.runes >= b.Size) || b.Due(now) {
		return b.Flush(now), true
	}
	return "", false
}

// Due reports whether the oldest buffered text has waited at least
// Interval.
func (b *Buffer) Due(now time.Time) bool {
	return b.runes > 0 && b.Interval > 0 && now.Sub(b.lastFlush) >= b.Interval
}

// Len returns the number of buffered runes.
func (b *Buffer) Len() int { return b.runes }

// Flush releases everything buffered.
func (b *Buffer) Flush(now time.Time) string {
	s := b.buf.String()
	b.buf.Reset()
	b.runes = 0
	b.lastFlush = now
	return s
}
