package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/meshgate/meshgate/internal/domain"
)

func init() {
	peersCmd.Flags().StringVar(&apiAddr, "addr", "", "Address of a running node's API (default from config)")
	rootCmd.AddCommand(peersCmd)
}

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "List peers currently in the directory",
	RunE:  runPeers,
}

func runPeers(cmd *cobra.Command, args []string) error {
	var resp struct {
		Peers []domain.PeerRecord `json:"peers"`
	}
	if err := fetchJSON("/api/peers", &resp); err != nil {
		return err
	}

	if len(resp.Peers) == 0 {
		fmt.Println("No peers known.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tADDRESS\tSTATE\tLAST SEEN")
	for _, p := range resp.Peers {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			p.ID,
			p.Address(),
			p.State,
			p.LastSeen.Format(time.RFC3339),
		)
	}
	return w.Flush()
}
