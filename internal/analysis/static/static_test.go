package static

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/murdok1982/hispanshield/internal/analysis/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeMatcher struct {
	matches []domain.RuleMatch
	err     error
}

func (f *fakeMatcher) Match(ctx context.Context, artifact []byte) ([]domain.RuleMatch, error) {
	return f.matches, f.err
}

func TestEntropy(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		assert.Equal(t, 0.0, Entropy(nil))
		assert.Equal(t, 0.0, Entropy([]byte{}))
	})

	t.Run("uniform bytes have zero entropy", func(t *testing.T) {
		assert.Equal(t, 0.0, Entropy(make([]byte, 1000)))
	})

	t.Run("all byte values once approaches eight bits", func(t *testing.T) {
		data := make([]byte, 256)
		for i := range data {
			data[i] = byte(i)
		}
		assert.InDelta(t, 8.0, Entropy(data), 0.0001)
	})

	t.Run("entropy stays within the byte range", func(t *testing.T) {
		inputs := [][]byte{
			[]byte("hello world"),
			{0xDE, 0xAD, 0xBE, 0xEF},
			make([]byte, 4096),
		}
		for _, data := range inputs {
			e := Entropy(data)
			assert.GreaterOrEqual(t, e, 0.0)
			assert.LessOrEqual(t, e, 8.0)
		}
	})
}

func TestExtractStrings(t *testing.T) {
	t.Run("categorizes indicators", func(t *testing.T) {
		data := []byte("connect to 192.168.1.10 then http://evil.example/p and mail drop@evil.example")

		findings := ExtractStrings(data)

		assert.Contains(t, findings.IPv4, "192.168.1.10")
		assert.Contains(t, findings.URLs, "http://evil.example/p")
		assert.Contains(t, findings.Emails, "drop@evil.example")
		assert.Contains(t, findings.Domains, "evil.example")
	})

	t.Run("deduplicates per category", func(t *testing.T) {
		data := []byte("10.0.0.1 10.0.0.1 10.0.0.1 10.0.0.2")

		findings := ExtractStrings(data)

		assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, findings.IPv4)
	})

	t.Run("no indicators yields empty findings", func(t *testing.T) {
		findings := ExtractStrings([]byte{0x00, 0x01, 0x02, 0x03})

		assert.Empty(t, findings.IPv4)
		assert.Empty(t, findings.URLs)
		assert.Empty(t, findings.Emails)
		assert.Empty(t, findings.Domains)
	})
}

func TestDetectFileType(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected string
	}{
		{"dos header", []byte("MZ\x90\x00"), "PE executable"},
		{"elf header", []byte("\x7fELF\x02\x01"), "ELF executable"},
		{"pdf header", []byte("%PDF-1.7"), "PDF document"},
		{"zip header", []byte("PK\x03\x04rest"), "ZIP archive"},
		{"shebang", []byte("#!/bin/sh\n"), "script"},
		{"plain text falls back to sniffing", []byte("just some text"), "text/plain; charset=utf-8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DetectFileType(tt.data))
		})
	}
}

func TestAnalyzer_Run(t *testing.T) {
	t.Run("empty artifact is unparsable", func(t *testing.T) {
		analyzer := NewAnalyzer(&fakeMatcher{}, discardLogger())

		findings, err := analyzer.Run(context.Background(), nil)

		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrUnparsableArtifact)
		assert.Nil(t, findings)
	})

	t.Run("all-zero artifact is clean evidence", func(t *testing.T) {
		analyzer := NewAnalyzer(&fakeMatcher{}, discardLogger())

		findings, err := analyzer.Run(context.Background(), make([]byte, 1000))

		require.NoError(t, err)
		assert.Equal(t, int64(1000), findings.FileSize)
		assert.Equal(t, 0.0, findings.Entropy)
		assert.Nil(t, findings.PE)
		assert.Empty(t, findings.RuleMatches)
		assert.Empty(t, findings.Warnings)
	})

	t.Run("rule matches are attached", func(t *testing.T) {
		matcher := &fakeMatcher{matches: []domain.RuleMatch{{Rule: "ransomware_note", Tags: []string{"ransomware"}}}}
		analyzer := NewAnalyzer(matcher, discardLogger())

		findings, err := analyzer.Run(context.Background(), []byte("your files are encrypted"))

		require.NoError(t, err)
		require.Len(t, findings.RuleMatches, 1)
		assert.Equal(t, "ransomware_note", findings.RuleMatches[0].Rule)
	})

	t.Run("rule engine failure degrades to a warning", func(t *testing.T) {
		matcher := &fakeMatcher{err: errors.New("rule engine unreachable")}
		analyzer := NewAnalyzer(matcher, discardLogger())

		findings, err := analyzer.Run(context.Background(), []byte("some artifact content"))

		require.NoError(t, err)
		assert.Empty(t, findings.RuleMatches)
		require.Len(t, findings.Warnings, 1)
		assert.Contains(t, findings.Warnings[0], "rules:")
	})

	t.Run("corrupt PE degrades to a warning", func(t *testing.T) {
		analyzer := NewAnalyzer(&fakeMatcher{}, discardLogger())

		// Valid DOS magic, garbage after
		data := append([]byte("MZ"), make([]byte, 64)...)

		findings, err := analyzer.Run(context.Background(), data)

		require.NoError(t, err)
		assert.Equal(t, "PE executable", findings.FileType)
		assert.Nil(t, findings.PE)
		require.NotEmpty(t, findings.Warnings)
		assert.Contains(t, findings.Warnings[0], "pe:")
	})
}
