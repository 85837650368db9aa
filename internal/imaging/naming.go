package imaging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RippingDir is the working subdirectory images are written to.
const RippingDir = "RIPPING"

// FallbackLabel names a disc that carries no filesystem label.
func FallbackLabel(drive int) string {
	return fmt.Sprintf("DVD_%d", drive)
}

// SanitizeLabel makes a volume label safe to use as a file name. Accents are
// folded to their base letters, path separators and shell-hostile characters
// are replaced, and leading dots are removed.
func SanitizeLabel(label string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), label)
	if err != nil {
		folded = label
	}
	replacer := strings.NewReplacer("/", "-", "\\", "-", ":", "-", "*", "-", "?", "", "\"", "", "<", "", ">", "", "|", "")
	cleaned := replacer.Replace(folded)
	cleaned = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, cleaned)
	cleaned = strings.TrimLeft(strings.TrimSpace(cleaned), ".")
	return strings.TrimSpace(cleaned)
}

// UniqueBase picks the first base name under dir whose ISO and mapfile are
// both absent: label, "label (1)", "label (2)", and so on.
func UniqueBase(dir, label string) (string, error) {
	base := label
	for n := 1; ; n++ {
		taken, err := anyExists(filepath.Join(dir, base+".iso"), filepath.Join(dir, base+"_rescue.log"))
		if err != nil {
			return "", err
		}
		if !taken {
			return base, nil
		}
		base = fmt.Sprintf("%s (%d)", label, n)
	}
}

func anyExists(paths ...string) (bool, error) {
	for _, path := range paths {
		_, err := os.Stat(path)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("stat %s: %w", path, err)
		}
	}
	return false, nil
}
