package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/meshgate/meshgate/internal/daemon"
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Transport host to listen on (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Transport port to listen on (overrides config)")
	serveCmd.Flags().IntVar(&serveAPIPort, "api-port", 0, "HTTP API port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

var (
	serveHost    string
	servePort    int
	serveAPIPort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the meshgate node",
	Long:  `Start the overlay node: discovery, transport, admission, and the HTTP status API.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return err
	}

	// Override config from flags
	if serveHost != "" {
		cfg.Transport.Host = serveHost
	}
	if servePort > 0 {
		cfg.Transport.Port = servePort
	}
	if serveAPIPort > 0 {
		cfg.API.Port = serveAPIPort
	}

	d, err := daemon.NewWithConfig(cfg)
	if err != nil {
		return err
	}

	return d.Serve(context.Background())
}
