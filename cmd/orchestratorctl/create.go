package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codeready-toolchain/orchestrator/pkg/api"
)

var (
	createTicketID  string
	createRunbookID string
	createVersion   string
	createMode      string
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an execution session for a ticket and approved runbook",
	RunE:  runCreate,
}

func init() {
	createCmd.Flags().StringVar(&createTicketID, "ticket", "", "ticket ID (required)")
	createCmd.Flags().StringVar(&createRunbookID, "runbook", "", "runbook ID (required)")
	createCmd.Flags().StringVar(&createVersion, "version", "", "runbook version, defaults to latest approved")
	createCmd.Flags().StringVar(&createMode, "mode", "per_step", "validation mode: per_step | batch")
	createCmd.MarkFlagRequired("ticket")
	createCmd.MarkFlagRequired("runbook")
	rootCmd.AddCommand(createCmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
	req, err := newRequest("POST", "/executions", api.CreateExecutionRequest{
		TicketID:  createTicketID,
		RunbookID: createRunbookID,
		Version:   createVersion,
		Mode:      createMode,
	})
	if err != nil {
		return err
	}

	var resp api.CreateExecutionResponse
	if err := do(req, &resp); err != nil {
		return err
	}
	fmt.Printf("session_id: %s\n", resp.SessionID)
	return nil
}
