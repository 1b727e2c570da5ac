package chromium

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
)

// unpackedID returns the identifier Chromium assigns to the unpacked
// extension at dir: derived from the manifest key when there is one,
// otherwise from the resolved directory path. It returns "" when the id
// cannot be predicted, which leaves discovery to the inspection page alone.
func unpackedID(dir string) string {
	if b, err := os.ReadFile(filepath.Join(dir, "manifest.json")); err == nil {
		var manifest struct {
			Key string `json:"key"`
		}
		if json.Unmarshal(b, &manifest) == nil && manifest.Key != "" {
			der, err := base64.StdEncoding.DecodeString(manifest.Key)
			if err != nil {
				return ""
			}
			return idFromBytes(der)
		}
	}
	// windows hashes the UTF-16 path with a normalised drive letter
	if runtime.GOOS == "windows" {
		return ""
	}
	path, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	return idFromBytes([]byte(path))
}

// idFromBytes maps the first half of the SHA-256 of b onto the a..p
// alphabet of extension ids.
func idFromBytes(b []byte) string {
	sum := sha256.Sum256(b)
	id := []byte(hex.EncodeToString(sum[:16]))
	for i, c := range id {
		if c <= '9' {
			id[i] = 'a' + c - '0'
		} else {
			id[i] = 'a' + 10 + c - 'a'
		}
	}
	return string(id)
}
