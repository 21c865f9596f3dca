package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codeready-toolchain/orchestrator/pkg/api"
)

var (
	approveStepIndex int
	approveReject    bool
	approveAsAdmin   bool
	approveRole      string
	approveNotes     string
)

var approveCmd = &cobra.Command{
	Use:   "approve [session-id]",
	Short: "Approve (or --reject) a paused step",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprove,
}

func init() {
	approveCmd.Flags().IntVar(&approveStepIndex, "step", 0, "step index awaiting approval")
	approveCmd.Flags().BoolVar(&approveReject, "reject", false, "reject instead of approve")
	approveCmd.Flags().BoolVar(&approveAsAdmin, "as-admin", false, "resolve a two-person-rule step as the second admin approver")
	approveCmd.Flags().StringVar(&approveRole, "role", "", "approver role, required for two-person-rule steps")
	approveCmd.Flags().StringVar(&approveNotes, "notes", "", "free-text approval notes")
	rootCmd.AddCommand(approveCmd)
}

func runApprove(cmd *cobra.Command, args []string) error {
	decision := "approved"
	if approveReject {
		decision = "rejected"
	}

	req, err := newRequest("POST", "/executions/"+args[0]+"/approve", api.ApproveStepRequest{
		StepIndex: approveStepIndex,
		Decision:  decision,
		Notes:     approveNotes,
		AsAdmin:   approveAsAdmin,
		Role:      approveRole,
	})
	if err != nil {
		return err
	}

	if err := do(req, nil); err != nil {
		return err
	}
	fmt.Printf("step %d of %s: %s\n", approveStepIndex, args[0], decision)
	return nil
}
