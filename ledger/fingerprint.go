package ledger

import (
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Fingerprint identifies a folder by its absolute path and its own modification time.
// It is not a content hash: changes deep inside the tree that leave the folder's mtime
// untouched produce the same fingerprint.
func Fingerprint(folderPath string) (string, error) {
	abs, err := filepath.Abs(folderPath)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	return FingerprintOf(abs, info.ModTime()), nil
}

// FingerprintOf is the hex MD5 of "<abs path>_<mtime seconds>", mtime rendered as a decimal float
func FingerprintOf(absPath string, mtime time.Time) string {
	sum := md5.Sum([]byte(absPath + "_" + formatMtime(mtime)))
	return hex.EncodeToString(sum[:])
}

// formatMtime renders seconds since the epoch the way float seconds are usually printed,
// always with a fractional part ("1700000000.0", "1700000000.25").
func formatMtime(mtime time.Time) string {
	secs := float64(mtime.Unix()) + float64(mtime.Nanosecond())*1e-9
	s := strconv.FormatFloat(secs, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
