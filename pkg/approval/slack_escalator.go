package approval

import (
	"context"

	"github.com/codeready-toolchain/orchestrator/pkg/slack"
)

// SlackEscalator adapts *slack.Service to the Gate's Escalator interface.
// Construct with a nil *slack.Service to get a no-op escalator, matching
// the Service's own nil-safe convention.
type SlackEscalator struct {
	Service *slack.Service
}

func (s SlackEscalator) NotifyApprovalExpired(ctx context.Context, input EscalationInput) {
	s.Service.NotifyApprovalExpired(ctx, slack.ApprovalExpiredInput{
		SessionID: input.SessionID,
		StepIndex: input.StepIndex,
		StepName:  input.StepName,
	})
}
