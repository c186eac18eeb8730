// Package ai runs the optional advisory pass over rule-engine candidates.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/vat-compliance/internal/application/port"
	"github.com/garyjia/vat-compliance/internal/domain/entity"
	"go.uber.org/zap"
)

// DefaultFallbackInsight is attached when the advisory service is unavailable
const DefaultFallbackInsight = "Advisory review unavailable; priority follows rule severity."

// AugmenterConfig holds advisory call settings
type AugmenterConfig struct {
	Timeout         time.Duration // budget across all attempts
	MaxRetries      int           // retries after the first attempt, quota errors only
	BaseBackoff     time.Duration // doubled on each retry
	MaxInsightLen   int
	FallbackInsight string
	Thresholds      PriorityThresholds
}

// DefaultAugmenterConfig returns the standard advisory settings
func DefaultAugmenterConfig() AugmenterConfig {
	return AugmenterConfig{
		Timeout:         20 * time.Second,
		MaxRetries:      2,
		BaseBackoff:     500 * time.Millisecond,
		MaxInsightLen:   500,
		FallbackInsight: DefaultFallbackInsight,
		Thresholds:      DefaultPriorityThresholds(),
	}
}

// Augmenter attaches advisory metadata to candidates. It never adds or drops
// candidates and never touches severity or penalty risk.
type Augmenter struct {
	client port.AdvisoryClient
	config AugmenterConfig
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewAugmenter creates an augmenter. A nil client always falls back.
func NewAugmenter(client port.AdvisoryClient, config AugmenterConfig, logger *zap.Logger) *Augmenter {
	defaults := DefaultAugmenterConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = defaults.BaseBackoff
	}
	if config.MaxInsightLen <= 0 {
		config.MaxInsightLen = defaults.MaxInsightLen
	}
	if config.FallbackInsight == "" {
		config.FallbackInsight = defaults.FallbackInsight
	}
	if config.Thresholds.Validate() != nil {
		config.Thresholds = defaults.Thresholds
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Augmenter{
		client: client,
		config: config,
		logger: logger,
		sleep:  sleepContext,
	}
}

// Augment returns copies of candidates with Advisory set. applied is false
// when the fallback was used for the whole batch.
func (a *Augmenter) Augment(ctx context.Context, candidates []*entity.Candidate) ([]*entity.Candidate, bool) {
	out := make([]*entity.Candidate, len(candidates))
	for i, c := range candidates {
		cp := *c
		out[i] = &cp
	}
	if len(out) == 0 {
		return out, false
	}

	if a.client == nil {
		a.applyFallback(out)
		return out, false
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	resp, err := a.callWithRetry(ctx, buildRequest(out))
	if err != nil {
		a.logger.Warn("Advisory call failed, using fallback",
			zap.Int("candidates", len(out)),
			zap.Error(err))
		a.applyFallback(out)
		return out, false
	}

	verdicts, err := a.validate(resp, len(out))
	if err != nil {
		a.logger.Warn("Advisory response rejected, using fallback",
			zap.Int("candidates", len(out)),
			zap.Error(err))
		a.applyFallback(out)
		return out, false
	}

	for i, c := range out {
		v := verdicts[i]
		c.Advisory = &entity.Advisory{
			ConfidenceMultiplier: v.ConfidenceMultiplier,
			EffectivePriority:    a.config.Thresholds.EffectivePriority(c.Severity, v.ConfidenceMultiplier),
			Insight:              v.Insight,
		}
	}

	a.logger.Info("Advisory applied", zap.Int("candidates", len(out)))
	return out, true
}

// callWithRetry retries quota errors with exponential backoff. The context
// deadline bounds the attempts and the waits between them.
func (a *Augmenter) callWithRetry(ctx context.Context, req *port.AdvisoryRequest) (*port.AdvisoryResponse, error) {
	for attempt := 0; ; attempt++ {
		resp, err := a.client.Advise(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, port.ErrAdvisoryRateLimited) || attempt >= a.config.MaxRetries {
			return nil, err
		}

		delay := a.config.BaseBackoff << attempt
		a.logger.Info("Advisory rate limited, backing off",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay))

		if err := a.sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("advisory retry aborted: %w", err)
		}
	}
}

// validate enforces the response schema: exactly one verdict per candidate,
// indices in range and unique, multiplier within bounds, non-empty insight.
// Any violation rejects the whole response.
func (a *Augmenter) validate(resp *port.AdvisoryResponse, n int) ([]port.AdvisoryVerdict, error) {
	if resp == nil {
		return nil, errors.New("empty advisory response")
	}
	if len(resp.Items) != n {
		return nil, fmt.Errorf("advisory returned %d items for %d candidates", len(resp.Items), n)
	}

	byIndex := make([]port.AdvisoryVerdict, n)
	seen := make([]bool, n)
	for _, v := range resp.Items {
		if v.Index < 0 || v.Index >= n {
			return nil, fmt.Errorf("advisory index %d out of range", v.Index)
		}
		if seen[v.Index] {
			return nil, fmt.Errorf("advisory index %d repeated", v.Index)
		}
		if !a.config.Thresholds.InRange(v.ConfidenceMultiplier) {
			return nil, fmt.Errorf("confidence multiplier %v out of range for index %d", v.ConfidenceMultiplier, v.Index)
		}
		insight := strings.TrimSpace(v.Insight)
		if insight == "" {
			return nil, fmt.Errorf("empty insight for index %d", v.Index)
		}
		if len(insight) > a.config.MaxInsightLen {
			insight = truncate(insight, a.config.MaxInsightLen)
		}

		v.Insight = insight
		seen[v.Index] = true
		byIndex[v.Index] = v
	}
	return byIndex, nil
}

func (a *Augmenter) applyFallback(candidates []*entity.Candidate) {
	for _, c := range candidates {
		c.Advisory = &entity.Advisory{
			ConfidenceMultiplier: 1,
			EffectivePriority:    c.Severity,
			Insight:              a.config.FallbackInsight,
			Fallback:             true,
		}
	}
}

func buildRequest(candidates []*entity.Candidate) *port.AdvisoryRequest {
	req := &port.AdvisoryRequest{Items: make([]port.AdvisoryItem, len(candidates))}
	for i, c := range candidates {
		req.Items[i] = port.AdvisoryItem{
			Index:       i,
			InvoiceID:   c.InvoiceID,
			Category:    string(c.Category),
			Severity:    string(c.Severity),
			Message:     c.Message,
			PenaltyRisk: c.PenaltyRisk.StringFixed(2),
		}
	}
	return req
}

// truncate cuts s to at most n bytes without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ port.Augmenter = (*Augmenter)(nil)
