package threat

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kestrelsec/kestrel/internal/device"
	"go.uber.org/zap"
)

// ThreatStore is the read side of the persisted threat store: unresolved
// findings from earlier cycles that still count toward the user's posture.
// *Repository satisfies this interface.
type ThreatStore interface {
	ListUnresolved(ctx context.Context, userID string) ([]Finding, error)
}

// DeviceRegistry looks up the devices on file for a user.
// *device.Repository satisfies this interface.
type DeviceRegistry interface {
	List(ctx context.Context, userID string) ([]device.Device, error)
}

// WebhookDispatchFunc is an optional callback for dispatching threat events.
type WebhookDispatchFunc func(ctx context.Context, eventType string, payload map[string]string)

// AlertFunc is an optional callback invoked when a detection cycle ends at
// the CRITICAL level.
type AlertFunc func(ctx context.Context, res *Result)

// MetricsRecordFunc is an optional callback for recording detection outcomes.
type MetricsRecordFunc func(res *Result)

// Service runs detection cycles. It is stateless across calls: every
// invocation fans out to the persisted-threat lookup and the per-signal
// extractors, joins, and aggregates. Collaborators are injected; nil
// collaborators degrade the corresponding source to "no findings".
type Service struct {
	store     ThreatStore
	devices   DeviceRegistry
	responder *Responder // nil = auto-response disabled
	onWebhook WebhookDispatchFunc
	onAlert   AlertFunc
	onMetrics MetricsRecordFunc
	logger    *zap.Logger
}

// NewService creates a detection Service.
func NewService(store ThreatStore, devices DeviceRegistry, logger *zap.Logger) *Service {
	return &Service{store: store, devices: devices, logger: logger}
}

// SetResponder configures the auto-response orchestrator.
func (s *Service) SetResponder(r *Responder) {
	s.responder = r
}

// SetWebhookDispatch configures the webhook dispatch callback.
func (s *Service) SetWebhookDispatch(fn WebhookDispatchFunc) {
	s.onWebhook = fn
}

// SetAlertFunc configures the critical-detection alert callback.
func (s *Service) SetAlertFunc(fn AlertFunc) {
	s.onAlert = fn
}

// SetMetricsRecorder configures the metrics callback.
func (s *Service) SetMetricsRecorder(fn MetricsRecordFunc) {
	s.onMetrics = fn
}

// Detect evaluates a user's security posture from the supplied signals plus
// any persisted unresolved threats, and returns the assembled verdict.
//
// The stored-threat lookup and the extractors run concurrently and are
// joined before aggregation. A failed collaborator call degrades that source
// to an empty contribution; only an empty user ID or an internal defect
// fails the call. No engine-side timeout is imposed — callers wanting a
// deadline put one on ctx or race the call externally.
func (s *Service) Detect(ctx context.Context, userID string, sig Signals, opts Options) (*Result, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrEmptyUserID
	}

	start := time.Now()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		workerErr error

		stored, behavior, devFindings, session []Finding
	)

	// Scatter. Each worker owns exactly one result slot, so no locking is
	// needed for the slots themselves; the mutex only guards workerErr.
	run := func(source string, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					s.logger.Error("detect: worker panic",
						zap.String("source", source),
						zap.Any("panic", p),
					)
					mu.Lock()
					if workerErr == nil {
						workerErr = fmt.Errorf("detect %s source: internal error: %v", source, p)
					}
					mu.Unlock()
				}
			}()
			fn()
		}()
	}

	run("store", func() { stored = s.storedFindings(ctx, userID) })
	if sig.Behavior != nil {
		run("behavior", func() { behavior = ExtractBehavior(userID, *sig.Behavior) })
	}
	if sig.Device != nil {
		run("device", func() { devFindings = s.deviceFindings(ctx, userID, *sig.Device) })
	}
	if sig.Session != nil {
		run("session", func() { session = ExtractSession(userID, *sig.Session) })
	}
	wg.Wait()

	if workerErr != nil {
		return nil, workerErr
	}

	// Gather.
	findings := mergeFindings(stored, behavior, devFindings, session)
	overall := OverallLevel(findings)

	triggered, clean := false, false
	if opts.EnableRealTimeResponse && s.responder != nil && overall.AtLeast(LevelHigh) {
		triggered = true
		clean = s.responder.Execute(ctx, userID, findings)
	}

	res := &Result{
		UserID:           userID,
		Findings:         findings,
		OverallLevel:     overall,
		Recommendations:  Recommendations(findings, overall),
		ImmediateActions: ImmediateActions(findings),
		Meta: ResultMeta{
			ElapsedMS:             time.Since(start).Milliseconds(),
			SeverityCounts:        severityCounts(findings),
			StoredFindings:        len(stored),
			AutoResponseTriggered: triggered,
			AutoResponseClean:     clean,
		},
	}

	s.notify(ctx, res)

	s.logger.Info("detection complete",
		zap.String("user_id", userID),
		zap.String("overall_level", string(overall)),
		zap.Int("findings", len(findings)),
		zap.Bool("auto_response", triggered),
		zap.Int64("elapsed_ms", res.Meta.ElapsedMS),
	)
	return res, nil
}

// storedFindings reads unresolved persisted threats, degrading to none on error.
func (s *Service) storedFindings(ctx context.Context, userID string) []Finding {
	if s.store == nil {
		return nil
	}
	findings, err := s.store.ListUnresolved(ctx, userID)
	if err != nil {
		s.logger.Warn("detect: stored threat lookup failed, continuing without",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return nil
	}
	return findings
}

// deviceFindings performs the one read-only registry lookup the device
// extractor needs, degrading to none on error.
func (s *Service) deviceFindings(ctx context.Context, userID string, sig DeviceSignal) []Finding {
	if s.devices == nil {
		return nil
	}
	known, err := s.devices.List(ctx, userID)
	if err != nil {
		s.logger.Warn("detect: device lookup failed, continuing without",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return nil
	}
	return ExtractDevice(userID, sig, known)
}

// notify fires the optional post-detection hooks. All are best-effort and
// never affect the result.
func (s *Service) notify(ctx context.Context, res *Result) {
	if s.onMetrics != nil {
		s.onMetrics(res)
	}

	if s.onWebhook != nil && len(res.Findings) > 0 {
		payload := map[string]string{
			"user_id":       res.UserID,
			"overall_level": string(res.OverallLevel),
			"findings":      strconv.Itoa(len(res.Findings)),
		}
		s.onWebhook(ctx, "threat.detected", payload)
		if res.OverallLevel == LevelCritical {
			s.onWebhook(ctx, "threat.critical", payload)
		}
	}

	if s.onAlert != nil && res.OverallLevel == LevelCritical {
		s.onAlert(ctx, res)
	}
}
