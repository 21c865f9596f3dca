package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codeready-toolchain/orchestrator/pkg/api"
)

var getCmd = &cobra.Command{
	Use:   "get [session-id]",
	Short: "Show a session's current status and step history",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

func init() {
	rootCmd.AddCommand(getCmd)
}

func runGet(cmd *cobra.Command, args []string) error {
	req, err := newRequest("GET", "/executions/"+args[0], nil)
	if err != nil {
		return err
	}

	var snapshot api.ExecutionSnapshot
	if err := do(req, &snapshot); err != nil {
		return err
	}

	out, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
