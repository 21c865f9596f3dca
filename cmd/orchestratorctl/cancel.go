package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codeready-toolchain/orchestrator/pkg/api"
)

var cancelReason string

var cancelCmd = &cobra.Command{
	Use:   "cancel [session-id]",
	Short: "Cancel a running session, rolling back any completed reversible steps",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func init() {
	cancelCmd.Flags().StringVar(&cancelReason, "reason", "", "reason recorded on the audit trail")
	rootCmd.AddCommand(cancelCmd)
}

func runCancel(cmd *cobra.Command, args []string) error {
	req, err := newRequest("POST", "/executions/"+args[0]+"/cancel", api.CancelExecutionRequest{Reason: cancelReason})
	if err != nil {
		return err
	}

	var resp api.CancelResponse
	if err := do(req, &resp); err != nil {
		return err
	}
	fmt.Println(resp.Message)
	return nil
}
