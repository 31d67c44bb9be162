package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/clustercoder/bubbleOne/internal/client"
	"github.com/clustercoder/bubbleOne/internal/engine"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var serverURL string

var ingestCmd = &cobra.Command{
	Use:   "ingest <batch.yaml|batch.json>",
	Short: "Send an event batch to a running server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		// JSON is a subset of YAML, so one decoder covers both.
		var req engine.IngestRequest
		if err := yaml.Unmarshal(data, &req); err != nil {
			return fmt.Errorf("parse batch: %w", err)
		}
		body, err := json.Marshal(req)
		if err != nil {
			return err
		}

		c := client.New(serverURL, 30*time.Second)
		resp, err := c.Post(cmd.Context(), "/api/v1/ingest", body)
		if err != nil {
			return err
		}
		return printRaw(cmd, resp)
	},
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Show contacts, pending actions and metrics from a running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.New(serverURL, 10*time.Second)
		resp, err := c.Get(cmd.Context(), "/api/v1/dashboard")
		if err != nil {
			return err
		}

		var d engine.Dashboard
		if err := json.Unmarshal(resp, &d); err != nil {
			return fmt.Errorf("decode dashboard: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "contacts: %d  mean: %.2f  critical: %d  pending: %d\n\n",
			d.Metrics.Contacts, d.Metrics.MeanScore, d.Metrics.Critical, d.Metrics.PendingActions)
		for _, ct := range d.Contacts {
			fmt.Fprintf(out, "  %-16s %-20s %6.2f  %-8s %s\n", ct.ContactHash, ct.Alias, ct.CurrentScore, ct.Band, ct.AnomalyReason)
		}
		if len(d.PendingActions) > 0 {
			fmt.Fprintln(out, "\npending actions:")
			for _, a := range d.PendingActions {
				fmt.Fprintf(out, "  %s  %-18s %-4s %s\n", a.ID, a.Type, a.Origin, a.ContactHash)
			}
		}
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{ingestCmd, dashboardCmd} {
		cmd.Flags().StringVar(&serverURL, "server", "", "Server URL (default $BUBBLE_URL or "+client.DefaultServerURL+")")
	}
}

func printRaw(cmd *cobra.Command, data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	return printJSON(cmd, v)
}
