package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LoadOrCreateNodeID returns this node's persistent identity, generating
// one on first boot. The identity is an opaque string; nothing
// cryptographic is claimed for it.
func LoadOrCreateNodeID(home string) (string, error) {
	path := filepath.Join(home, "node_id")

	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id, nil
		}
	}

	id := uuid.New().String()
	if err := os.MkdirAll(home, 0700); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0644); err != nil {
		return "", fmt.Errorf("persist node id: %w", err)
	}
	return id, nil
}
