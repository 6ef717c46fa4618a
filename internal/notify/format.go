package notify

import (
	"fmt"

	"github.com/tomredd/flasharb/internal/domain"
)

// FormatExecutionAlert renders a terminal execution event as a notification
// title and message body for the registered senders.
func FormatExecutionAlert(ev domain.OpportunityExecutedEvent) (title, msg string) {
	switch ev.Status {
	case domain.StateIncluded:
		title = "Bundle included"
		msg = fmt.Sprintf("opportunity %s included in block %d, profit %.6f", ev.OpportunityID, ev.IncludedBlock, ev.Profit)
	case domain.StateExpired:
		title = "Bundle expired"
		msg = fmt.Sprintf("opportunity %s expired: %s", ev.OpportunityID, ev.FailReason)
	default:
		title = "Execution failed"
		msg = fmt.Sprintf("opportunity %s failed: %s", ev.OpportunityID, ev.FailReason)
	}
	return title, msg
}
