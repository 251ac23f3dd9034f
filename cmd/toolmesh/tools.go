package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newToolsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List registered tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := flags.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close(cmd.Context())

			tools := rt.Coordinator.Tools()
			if len(tools) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No tools registered")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSERVER\tCATEGORY\tPARAMETERS")
			for _, t := range tools {
				params := make([]string, 0, len(t.Parameters))
				for _, name := range t.Parameters.Names() {
					p := t.Parameters[name]
					label := name + ":" + p.Type.String()
					if p.Required {
						label += "*"
					}
					params = append(params, label)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.Name, t.ServerID, dash(t.Category), dash(strings.Join(params, ", ")))
			}
			return w.Flush()
		},
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
