package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// StreamDigest returns the SHA-256 anchor of one audit stream's current
// contents. Comparing anchors across backups detects after-the-fact tampering
// with the append-only files.
func (l *Logger) StreamDigest(cat Category) (string, error) {
	name, ok := map[Category]string{
		CategorySecurity: SecurityLogFile,
		CategoryAccess:   AccessLogFile,
		CategorySystem:   SystemLogFile,
		CategoryDatabase: DatabaseLogFile,
	}[cat]
	if !ok {
		return "", fmt.Errorf("unknown audit category %q", cat)
	}
	f, err := os.Open(filepath.Join(l.dir, name))
	if err != nil {
		return "", fmt.Errorf("open %s audit log: %w", cat, err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("digest %s audit log: %w", cat, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
