package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one worker tick against the local database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		a, err := newApp(cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		report, tickErr := a.worker.Tick(cmd.Context())
		if err := printJSON(cmd, report); err != nil {
			return err
		}
		return tickErr
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit ledger",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the ledger's hash chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		a, err := newApp(cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		v, err := a.ledger.Verify()
		if err != nil {
			return err
		}
		if err := printJSON(cmd, v); err != nil {
			return err
		}
		if !v.Valid {
			return fmt.Errorf("ledger broken at entry %d: %s", v.BrokenAt, v.Reason)
		}
		return nil
	},
}

func init() {
	auditCmd.AddCommand(auditVerifyCmd)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
