package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	statusCmd.Flags().StringVar(&apiAddr, "addr", "", "Address of a running node's API (default from config)")
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a running node's status snapshot",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	var st struct {
		NodeID        string  `json:"node_id"`
		UptimeSeconds int64   `json:"uptime_seconds"`
		Peers         int     `json:"peers"`
		ChainHeight   uint64  `json:"chain_height"`
		ChainIntact   bool    `json:"chain_intact"`
		NetworkHealth float64 `json:"network_health"`
	}
	if err := fetchJSON("/api/status", &st); err != nil {
		return err
	}

	fmt.Printf("Node:           %s\n", st.NodeID)
	fmt.Printf("Uptime:         %ds\n", st.UptimeSeconds)
	fmt.Printf("Peers:          %d\n", st.Peers)
	fmt.Printf("Chain height:   %d\n", st.ChainHeight)
	if st.ChainIntact {
		fmt.Printf("Chain:          intact\n")
	} else {
		fmt.Printf("Chain:          BROKEN — audit export untrustworthy\n")
	}
	fmt.Printf("Network health: %.3f\n", st.NetworkHealth)
	return nil
}
