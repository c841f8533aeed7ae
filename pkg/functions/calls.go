package functions

import (
	"context"
	"fmt"
	"time"

	"github.com/andityas/swara/pkg/transports"
)

const goodbyeDrain = 3 * time.Second

// EndCall builds the end_call manifest entry. The goodbye line already
// emitted as a fragment needs time to reach the caller, so the hangup
// waits out a short drain before completing the call.
func EndCall(updater transports.CallUpdater) Function {
	return Function{
		Name:        "end_call",
		Description: "End the phone call once the conversation has concluded or the caller asks to hang up.",
		Say:         "Thank you for calling. Goodbye.",
		Terminal:    true,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"reason": map[string]any{
					"type":        "string",
					"description": "Short reason the call is ending.",
				},
			},
			"required": []string{"reason"},
		},
		Handler: func(ctx context.Context, inv Invocation) (string, error) {
			status, err := updater.CallStatus(ctx, inv.CallSID)
			if err == nil && status == "completed" {
				return "call already ended", nil
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(goodbyeDrain):
			}
			if err := updater.EndCall(ctx, inv.CallSID); err != nil {
				return "", err
			}
			return "call ended", nil
		},
	}
}

// TransferCall builds the transfer_call manifest entry. The target
// argument overrides defaultTarget when present.
func TransferCall(updater transports.CallUpdater, defaultTarget string) Function {
	return Function{
		Name:        "transfer_call",
		Description: "Transfer the caller to a human agent when the request is beyond this assistant.",
		Say:         "One moment while I transfer your call.",
		Terminal:    true,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"target": map[string]any{
					"type":        "string",
					"description": "E.164 number to transfer the caller to.",
				},
			},
		},
		Handler: func(ctx context.Context, inv Invocation) (string, error) {
			target := defaultTarget
			if v, ok := inv.Args["target"].(string); ok && v != "" {
				target = v
			}
			if target == "" {
				return "", fmt.Errorf("no transfer target configured")
			}
			if err := updater.RedirectCall(ctx, inv.CallSID, target); err != nil {
				return "", err
			}
			return "transfer initiated to " + target, nil
		},
	}
}
