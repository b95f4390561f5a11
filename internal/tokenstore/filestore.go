package tokenstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kestrel-proxy/relaygate/internal/model"
)

// LoadDir reads one JSON-encoded model.TokenCredential per file from dir
// (grounded on repository.FileStore's one-file-per-account layout), for
// seeding a Store at startup from config.AuthDir. A missing directory is
// not an error: a fresh install has no credentials yet, only a bootstrap
// login flow this gateway doesn't implement.
func LoadDir(dir string) ([]model.TokenCredential, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tokenstore: read auth dir %q: %w", dir, err)
	}

	var out []model.TokenCredential
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var cred model.TokenCredential
		if err := json.Unmarshal(raw, &cred); err != nil {
			continue
		}
		if cred.AccountID == "" {
			continue
		}
		out = append(out, cred)
	}
	return out, nil
}
