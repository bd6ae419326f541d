package static

import (
	"bytes"
	"debug/pe"
	"fmt"
	"net/http"
	"strings"

	"github.com/murdok1982/hispanshield/internal/analysis/domain"
)

// DetectFileType sniffs the artifact's type from magic bytes, falling
// back to content-type detection for anything without a known signature.
func DetectFileType(data []byte) string {
	switch {
	case len(data) >= 2 && data[0] == 'M' && data[1] == 'Z':
		return "PE executable"
	case bytes.HasPrefix(data, []byte("\x7fELF")):
		return "ELF executable"
	case bytes.HasPrefix(data, []byte("%PDF")):
		return "PDF document"
	case bytes.HasPrefix(data, []byte("PK\x03\x04")):
		return "ZIP archive"
	case bytes.HasPrefix(data, []byte("#!")):
		return "script"
	default:
		return http.DetectContentType(data)
	}
}

// looksLikePE reports whether the artifact starts with the DOS header
// magic, i.e. whether a PE parse is worth attempting at all.
func looksLikePE(data []byte) bool {
	return len(data) >= 2 && data[0] == 'M' && data[1] == 'Z'
}

// ParsePE extracts the section table and imported-symbol list from a
// portable executable.
func ParsePE(data []byte) (*domain.PEInfo, error) {
	f, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("pe parse failed: %w", err)
	}
	defer f.Close()

	info := &domain.PEInfo{
		Machine:   f.FileHeader.Machine,
		Timestamp: f.FileHeader.TimeDateStamp,
	}

	for _, section := range f.Sections {
		entry := domain.PESection{
			Name:        strings.TrimRight(section.Name, "\x00"),
			VirtualSize: section.VirtualSize,
			RawSize:     section.Size,
		}
		// Per-section entropy from the raw section data; an unreadable
		// section just keeps entropy 0.
		if raw, err := section.Data(); err == nil {
			entry.Entropy = Entropy(raw)
		}
		info.Sections = append(info.Sections, entry)
	}

	symbols, err := f.ImportedSymbols()
	if err != nil {
		// Sections already parsed; a missing or corrupt import table is
		// partial data, not a parse failure.
		return info, nil
	}
	for _, sym := range symbols {
		// debug/pe reports imports as "Symbol:dll.dll".
		if idx := strings.IndexByte(sym, ':'); idx > 0 {
			sym = sym[:idx]
		}
		info.Imports = append(info.Imports, sym)
	}

	return info, nil
}
