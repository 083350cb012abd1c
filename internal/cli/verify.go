package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meshgate/meshgate/internal/daemon"
	"github.com/meshgate/meshgate/internal/infra/admission"
	"github.com/meshgate/meshgate/internal/infra/sqlite"
)

func init() {
	rootCmd.AddCommand(verifyCmd)
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the persisted admission chain offline",
	Long:  `Walk the stored admission chain and confirm every record's hash linkage and sequence. Works without a running node.`,
	RunE:  runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	db, err := sqlite.Open(daemon.Home())
	if err != nil {
		return err
	}
	defer db.Close()

	records, err := db.Records()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("Chain is empty.")
		return nil
	}

	chain := admission.NewChain(nil)
	if err := chain.Load(records); err != nil {
		return fmt.Errorf("chain verification failed: %w", err)
	}

	fmt.Printf("Chain intact: %d records, head %s…\n",
		len(records), records[len(records)-1].Hash[:12])
	return nil
}
