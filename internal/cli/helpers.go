package cli

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/meshgate/meshgate/internal/daemon"
)

// apiAddr is the --addr override shared by the read-only subcommands.
var apiAddr string

// resolveAPIAddr returns the API address to query, preferring the flag.
func resolveAPIAddr() (string, error) {
	if apiAddr != "" {
		return apiAddr, nil
	}
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(cfg.API.Host, strconv.Itoa(cfg.API.Port)), nil
}

// fetchJSON queries the running daemon's API and decodes the response.
func fetchJSON(path string, out any) error {
	addr, err := resolveAPIAddr()
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + addr + path)
	if err != nil {
		return fmt.Errorf("is the node running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("node returned %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
