package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tomredd/flasharb/internal/domain"
)

func TestFormatExecutionAlert(t *testing.T) {
	cases := []struct {
		name      string
		ev        domain.OpportunityExecutedEvent
		wantTitle string
		wantMsg   string
	}{
		{
			name: "included",
			ev: domain.OpportunityExecutedEvent{
				OpportunityID: "opp-1",
				Status:        domain.StateIncluded,
				Profit:        0.123456,
				IncludedBlock: 42,
			},
			wantTitle: "Bundle included",
			wantMsg:   "opportunity opp-1 included in block 42, profit 0.123456",
		},
		{
			name: "expired",
			ev: domain.OpportunityExecutedEvent{
				OpportunityID: "opp-2",
				Status:        domain.StateExpired,
				FailReason:    "bundle expired after 25 blocks",
			},
			wantTitle: "Bundle expired",
			wantMsg:   "opportunity opp-2 expired: bundle expired after 25 blocks",
		},
		{
			name: "failed",
			ev: domain.OpportunityExecutedEvent{
				OpportunityID: "opp-3",
				Status:        domain.StateFailed,
				FailReason:    "simulation reverted: K",
			},
			wantTitle: "Execution failed",
			wantMsg:   "opportunity opp-3 failed: simulation reverted: K",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			title, msg := FormatExecutionAlert(tc.ev)
			assert.Equal(t, tc.wantTitle, title)
			assert.Equal(t, tc.wantMsg, msg)
		})
	}
}
