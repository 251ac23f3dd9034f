package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/toolmesh/pkg/protocol"
)

func newHealthCmd(flags *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "health [server ...]",
		Short: "Probe servers once and print their health",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := flags.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close(cmd.Context())

			ids := args
			if len(ids) == 0 {
				ids = rt.Coordinator.Servers()
			}
			records := make([]protocol.HealthRecord, 0, len(ids))
			for _, id := range ids {
				records = append(records, rt.Coordinator.CheckHealth(cmd.Context(), id))
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]interface{}{
					"servers": records,
					"summary": rt.Coordinator.GetSystemHealth().Summary,
				})
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SERVER\tSTATUS\tRESPONSE\tERROR")
			for _, rec := range records {
				response := "-"
				if rec.ResponseTimeMs != nil {
					response = fmt.Sprintf("%dms", *rec.ResponseTimeMs)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", rec.ServerID, rec.Status, response, dash(rec.Error))
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}
