// Package alert delivers security alert notifications to account holders
// when a detection cycle ends at the CRITICAL level.
package alert

import "context"

// Sender delivers one alert message.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}
