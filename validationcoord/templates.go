package validationcoord

import (
	"fmt"

	"github.com/taskreactor/orchestrator/external/messaging"
)

// Message copy is adapted from the original notification service's three
// validation templates (waiting, timeout, and the reply-syntax hint),
// translated to English and rendered through messaging.Block instead of
// raw Slack block-kit JSON.

func awaitingValidationComment(taskTitle string) string {
	return fmt.Sprintf(
		"The agent has finished work on %q and opened a pull request. Your validation is now required.\n\n"+
			"Reply with:\n"+
			"- \"yes\" to approve and merge\n"+
			"- \"no <instructions>\" to request changes\n"+
			"- \"abandon\" to cancel", taskTitle)
}

func awaitingValidationBlocks(runID string) []messaging.Block {
	return []messaging.Block{
		{Kind: "section", Text: "The agent has finished work and created a pull request. Your validation is now required."},
		{Kind: "context", Text: "run " + runID},
		{Kind: "section", Text: "Reply \"yes\" to approve and merge, \"no <instructions>\" to request changes, or \"abandon\" to cancel."},
	}
}

func clarificationComment() string {
	return "I couldn't tell whether that was an approval, a rejection, or an abandonment. " +
		"Could you reply with \"yes\", \"no <instructions>\", or \"abandon\"?"
}

func clarificationBlocks() []messaging.Block {
	return []messaging.Block{
		{Kind: "section", Text: "I couldn't classify your reply with enough confidence to act on it."},
		{Kind: "section", Text: "Please reply with \"yes\", \"no <instructions>\", or \"abandon\"."},
	}
}

func timeoutBlocks(runID string) []messaging.Block {
	return []messaging.Block{
		{Kind: "section", Text: "The validation deadline for this run has passed."},
		{Kind: "context", Text: "run " + runID},
		{Kind: "section", Text: "The agent finished work and opened a pull request, but no reply arrived in time. " +
			"This timeout exists to avoid blocking the system — a later reply will still be processed normally."},
	}
}
