package alert

import (
	"context"
	"fmt"
	"strings"

	"github.com/kestrelsec/kestrel/internal/threat"
	"go.uber.org/zap"
)

// AddressLookup resolves a user ID to a notification address. The engine
// works with opaque user IDs; only the surrounding application knows email
// addresses.
type AddressLookup func(ctx context.Context, userID string) (string, error)

// Notifier formats and sends a security alert for a critical detection.
// Wire its CriticalDetected method into threat.Service via SetAlertFunc.
type Notifier struct {
	sender Sender
	lookup AddressLookup
	logger *zap.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(sender Sender, lookup AddressLookup, logger *zap.Logger) *Notifier {
	return &Notifier{sender: sender, lookup: lookup, logger: logger}
}

// CriticalDetected sends the alert for one critical detection cycle.
// Best-effort: failures are logged, never returned to the detection path.
func (n *Notifier) CriticalDetected(ctx context.Context, res *threat.Result) {
	to, err := n.lookup(ctx, res.UserID)
	if err != nil {
		n.logger.Warn("alert: address lookup failed",
			zap.String("user_id", res.UserID),
			zap.Error(err),
		)
		return
	}

	subject := "Critical security alert on your account"
	body := formatBody(res)

	if err := n.sender.Send(ctx, to, subject, body); err != nil {
		n.logger.Warn("alert: send failed",
			zap.String("user_id", res.UserID),
			zap.Error(err),
		)
		return
	}

	n.logger.Info("critical alert sent", zap.String("user_id", res.UserID))
}

func formatBody(res *threat.Result) string {
	var b strings.Builder

	fmt.Fprintf(&b, "We detected critical security issues on your account.\n\n")
	fmt.Fprintf(&b, "Overall threat level: %s\n\nFindings:\n", res.OverallLevel)
	for _, f := range res.Findings {
		fmt.Fprintf(&b, "  - [%s] %s: %s\n", f.Severity, f.Title, f.Description)
	}

	if len(res.ImmediateActions) > 0 {
		b.WriteString("\nImmediate actions:\n")
		for _, a := range res.ImmediateActions {
			fmt.Fprintf(&b, "  - %s\n", a)
		}
	}

	if len(res.Recommendations) > 0 {
		b.WriteString("\nRecommendations:\n")
		for _, r := range res.Recommendations {
			fmt.Fprintf(&b, "  - %s\n", r)
		}
	}

	if res.Meta.AutoResponseTriggered {
		b.WriteString("\nAutomated protective actions were taken on your behalf.\n")
	}

	return b.String()
}
