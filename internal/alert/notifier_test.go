package alert

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kestrelsec/kestrel/internal/threat"
	"go.uber.org/zap"
)

type captureSender struct {
	to, subject, body string
	sent              int
	err               error
}

func (c *captureSender) Send(_ context.Context, to, subject, body string) error {
	c.to, c.subject, c.body = to, subject, body
	c.sent++
	return c.err
}

func criticalResult() *threat.Result {
	return &threat.Result{
		UserID:       "user-1",
		OverallLevel: threat.LevelCritical,
		Findings: []threat.Finding{{
			Type:        threat.TypeDeviceAnomaly,
			Severity:    threat.SeverityCritical,
			Title:       "Compromised device",
			Description: "Known device is jailbroken or rooted and cannot be trusted",
		}},
		ImmediateActions: []string{"Revoke trust for the compromised device and require re-verification"},
		Recommendations:  []string{"Review your registered devices and remove any you do not recognize"},
	}
}

func TestCriticalDetected_sendsFormattedAlert(t *testing.T) {
	sender := &captureSender{}
	n := NewNotifier(sender, func(_ context.Context, _ string) (string, error) {
		return "user@example.com", nil
	}, zap.NewNop())

	n.CriticalDetected(context.Background(), criticalResult())

	if sender.sent != 1 {
		t.Fatalf("expected 1 send, got %d", sender.sent)
	}
	if sender.to != "user@example.com" {
		t.Errorf("to: %q", sender.to)
	}
	for _, want := range []string{"CRITICAL", "Compromised device", "Immediate actions"} {
		if !strings.Contains(sender.body, want) {
			t.Errorf("body missing %q:\n%s", want, sender.body)
		}
	}
}

func TestCriticalDetected_lookupFailureIsSilent(t *testing.T) {
	sender := &captureSender{}
	n := NewNotifier(sender, func(_ context.Context, _ string) (string, error) {
		return "", errors.New("unknown user")
	}, zap.NewNop())

	n.CriticalDetected(context.Background(), criticalResult())

	if sender.sent != 0 {
		t.Errorf("expected no send after lookup failure, got %d", sender.sent)
	}
}
