package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newExecCmd(flags *globalFlags) *cobra.Command {
	var paramsJSON string
	cmd := &cobra.Command{
		Use:   "exec <tool> [key=value ...]",
		Short: "Execute a tool and print the result",
		Long: `Execute a tool and print its ExecutionResult as JSON.

Parameters come from --params (a JSON object) and key=value arguments.
Values that parse as JSON keep their type; anything else is a string.`,
		Example: `  toolmesh exec echo text=hi
  toolmesh exec search --params '{"query":"go","limit":5}'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(paramsJSON, args[1:])
			if err != nil {
				return err
			}

			rt, err := flags.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close(cmd.Context())

			res := rt.Coordinator.ExecuteTool(cmd.Context(), args[0], params)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if !res.Success {
				return &ExitError{Code: 2, Err: res.Error}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&paramsJSON, "params", "p", "", "Tool parameters as a JSON object")
	return cmd
}

func parseParams(raw string, pairs []string) (map[string]interface{}, error) {
	params := map[string]interface{}{}
	if strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			return nil, fmt.Errorf("--params must be a JSON object: %w", err)
		}
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("parameter %q must be key=value", pair)
		}
		var decoded interface{}
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			params[key] = decoded
		} else {
			params[key] = value
		}
	}
	return params, nil
}
