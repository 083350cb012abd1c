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
	auditCmd.Flags().StringVar(&apiAddr, "addr", "", "Address of a running node's API (default from config)")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 20, "Number of most recent records to show (0 = all)")
	rootCmd.AddCommand(auditCmd)
}

var auditLimit int

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Export the admission chain for inspection",
	RunE:  runAudit,
}

func runAudit(cmd *cobra.Command, args []string) error {
	var resp struct {
		Intact  bool                     `json:"intact"`
		Records []domain.AdmissionRecord `json:"records"`
	}
	path := fmt.Sprintf("/api/audit?limit=%d", auditLimit)
	if err := fetchJSON(path, &resp); err != nil {
		return err
	}

	if !resp.Intact {
		fmt.Fprintln(os.Stderr, "WARNING: chain verification failed — records below are untrustworthy")
	}
	if len(resp.Records) == 0 {
		fmt.Println("No admission records.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tPEER\tDECISION\tSCORE\tTIME\tHASH")
	for _, r := range resp.Records {
		fmt.Fprintf(w, "%d\t%s\t%s\t%.3f\t%s\t%s…\n",
			r.Sequence,
			r.PeerID,
			r.Decision,
			r.Score,
			r.Timestamp.Format(time.RFC3339),
			r.Hash[:12],
		)
	}
	return w.Flush()
}
