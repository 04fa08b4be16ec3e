package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"

	"embygram/pkg/logx"
)

func TestSendUnconfigured(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())

	if s.IsConfigured() {
		t.Fatal("IsConfigured = true without a token")
	}
	err := s.Send(context.Background(), Note{Title: "t", Body: "b"})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Send error = %v, want ErrNotConfigured", err)
	}
	if err := s.SendText(context.Background(), 0, 0, "x"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("SendText error = %v, want ErrNotConfigured", err)
	}
}

func TestTruncateCaption(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{name: "short unchanged", in: "hello", limit: 10, want: "hello"},
		{name: "at limit unchanged", in: "abcde", limit: 5, want: "abcde"},
		{name: "over limit", in: "abcdef", limit: 5, want: "abcd…"},
		{name: "multibyte runes", in: strings.Repeat("剧", 6), limit: 5, want: strings.Repeat("剧", 4) + "…"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := truncateCaption(tt.in, tt.limit)
			if got != tt.want {
				t.Fatalf("truncateCaption = %q, want %q", got, tt.want)
			}
			if n := len([]rune(got)); n > tt.limit {
				t.Fatalf("caption length %d exceeds limit %d", n, tt.limit)
			}
		})
	}
}

func TestSplitTextShort(t *testing.T) {
	t.Parallel()
	got := splitText("short message", 100)
	if len(got) != 1 || got[0] != "short message" {
		t.Fatalf("splitText = %q", got)
	}
}

func TestSplitTextPrefersLineBoundaries(t *testing.T) {
	t.Parallel()
	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString(strings.Repeat("x", 20))
		b.WriteString("\n")
	}
	text := strings.TrimRight(b.String(), "\n")

	chunks := splitText(text, 100)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if n := len([]rune(chunk)); n > 100 {
			t.Fatalf("chunk %d has %d runes, over limit", i, n)
		}
		for _, line := range strings.Split(chunk, "\n") {
			if line != strings.Repeat("x", 20) {
				t.Fatalf("chunk %d split mid-line: %q", i, line)
			}
		}
	}

	var rejoined []string
	for _, chunk := range chunks {
		rejoined = append(rejoined, strings.Split(chunk, "\n")...)
	}
	if len(rejoined) != 40 {
		t.Fatalf("lines lost in split: got %d, want 40", len(rejoined))
	}
}

func TestSplitTextHardCut(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("y", 250)

	chunks := splitText(text, 100)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	if got := strings.Join(chunks, ""); got != text {
		t.Fatalf("content lost on hard cut")
	}
}
