// Package synth turns a settled enrichment set into the final report. The
// executive summary comes from the ai-synthesis provider; when that fails,
// a deterministic templated summary takes its place and the report is
// annotated as degraded rather than the run failing.
package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/freightwise/logistics-cli/internal/config"
	"github.com/freightwise/logistics-cli/internal/model"
	"github.com/freightwise/logistics-cli/internal/quote"
	"github.com/freightwise/logistics-cli/internal/resilience"
	"github.com/freightwise/logistics-cli/pkg/anthropic"
)

const systemPrompt = `You are a logistics analyst writing executive summaries for freight inquiry reports.
You receive structured enrichment data for one inquiry: tariff classification, supplier verification, and a two-channel cost analysis. Some sections may be marked as unavailable.

Write a concise executive summary (3-6 sentences) that:
- states the commodity classification and its duty implications, if available
- assesses the supplier's reliability, if available
- compares the cargo and white delivery channels and states which one the numbers favor
- plainly notes any section that is unavailable, without speculating about its content

Respond with the summary text only, no headings or preamble.`

// Synthesizer produces reports from enrichment sets.
type Synthesizer struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	tuning    config.ProviderTuning
	breakers  *resilience.ProviderBreakers
	quotes    *quote.Engine
	nowFunc   func() time.Time
}

// New builds a synthesizer. breakers supplies the synthesis circuit breaker;
// nil disables breaking.
func New(client anthropic.Client, cfg config.AnthropicConfig, tuning config.ProviderTuning, breakers *resilience.ProviderBreakers, quotes *quote.Engine) *Synthesizer {
	if breakers == nil {
		breakers = resilience.NewProviderBreakers(nil)
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &Synthesizer{
		client:    client,
		model:     cfg.Model,
		maxTokens: maxTokens,
		tuning:    tuning,
		breakers:  breakers,
		quotes:    quotes,
		nowFunc:   time.Now,
	}
}

// Synthesize assembles the report for a run. It never returns an error for a
// failed ai-synthesis call; only a failed fallback is fatal.
func (s *Synthesizer) Synthesize(ctx context.Context, runID string, q model.Inquiry, set *model.EnrichmentSet) (*model.Report, error) {
	report := &model.Report{
		ID:          uuid.New().String(),
		InquiryID:   q.ID(),
		GeneratedAt: s.nowFunc(),
	}

	for _, kind := range model.EnrichmentKinds {
		res, ok := set.Get(kind)
		if !ok {
			continue
		}
		if !res.OK() {
			report.Degraded = append(report.Degraded, model.DegradedSection{
				Section: sectionName(kind),
				Reason:  res.Failure.Kind,
				Detail:  res.Failure.Message,
			})
			continue
		}
		switch kind {
		case model.ProviderClassification:
			report.Classification = res.Classification
		case model.ProviderSupplier:
			report.Supplier = res.Supplier
		}
	}

	var tariffs *model.TariffSheet
	if res, ok := set.Get(model.ProviderTariff); ok && res.OK() {
		tariffs = res.Tariffs
	}
	report.Costing = s.quotes.Analyze(q, report.Classification, tariffs)

	summary, info, err := s.summarize(ctx, q, report)
	if err != nil {
		failure := resilience.Classify(err)
		zap.L().Warn("ai synthesis failed, using templated summary",
			zap.String("run_id", runID),
			zap.String("failure", string(failure.Kind)),
			zap.Error(err),
		)
		summary, err = s.fallbackSummary(q, report)
		if err != nil {
			return nil, eris.Wrap(model.ErrSynthesisFatal, eris.ToString(err, false))
		}
		info = model.SynthesisInfo{Degraded: true}
		report.Degraded = append(report.Degraded, model.DegradedSection{
			Section: "executive_summary",
			Reason:  failure.Kind,
			Detail:  failure.Message,
		})
	}
	report.ExecutiveSummary = summary
	report.Synthesis = info
	return report, nil
}

// summarize performs the single ai-synthesis call for the run, with retry
// and circuit breaking per the synthesis tuning.
func (s *Synthesizer) summarize(ctx context.Context, q model.Inquiry, report *model.Report) (string, model.SynthesisInfo, error) {
	payload, err := s.promptPayload(q, report)
	if err != nil {
		return "", model.SynthesisInfo{}, err
	}

	breaker := s.breakers.Get(model.ProviderSynthesis)
	resp, err := resilience.DoVal(ctx, resilience.RetryConfig{
		MaxAttempts:    s.tuning.MaxAttempts,
		InitialBackoff: s.tuning.InitialBackoff,
		OnRetry:        resilience.RetryLogger(string(model.ProviderSynthesis), "create_message"),
	}, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return resilience.Exec(ctx, breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			callCtx := ctx
			if s.tuning.Timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, s.tuning.Timeout)
				defer cancel()
			}
			return s.client.CreateMessage(callCtx, anthropic.MessageRequest{
				Model:     s.model,
				MaxTokens: s.maxTokens,
				System:    anthropic.BuildCachedSystemBlocks(systemPrompt),
				Messages:  []anthropic.Message{{Role: "user", Content: payload}},
			})
		})
	})
	if err != nil {
		return "", model.SynthesisInfo{}, err
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", model.SynthesisInfo{}, model.NewFailure(model.FailureMalformed, "synthesis response contained no text")
	}
	resp.Usage.LogCost(s.model, "synthesize_report")
	return text, model.SynthesisInfo{
		Model:        resp.Model,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}

// promptPayload consolidates the report sections into one JSON document with
// explicit markers for missing sections, so the model never has to guess
// what is absent.
func (s *Synthesizer) promptPayload(q model.Inquiry, report *model.Report) (string, error) {
	doc := map[string]any{
		"inquiry": q,
		"costing": report.Costing,
	}
	if report.Classification != nil {
		doc["classification"] = report.Classification
	} else {
		doc["classification"] = "UNAVAILABLE"
	}
	if report.Supplier != nil {
		doc["supplier"] = report.Supplier
	} else {
		doc["supplier"] = "UNAVAILABLE"
	}
	if len(report.Degraded) > 0 {
		doc["unavailable_sections"] = report.Degraded
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "synth: marshal prompt payload")
	}
	return string(raw), nil
}

// fallbackSummary renders a deterministic summary from whatever sections the
// report has. It fails only when the report carries no usable section at all.
func (s *Synthesizer) fallbackSummary(q model.Inquiry, report *model.Report) (string, error) {
	if report.Classification == nil && report.Supplier == nil && report.Costing == nil {
		return "", eris.New("synth: no report sections available for templated summary")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Inquiry for %s (%.1f kg, %s to %s).",
		q.Description, q.WeightKg, q.Origin, q.Destination)

	if cls := report.Classification; cls != nil {
		fmt.Fprintf(&b, " Classified under commodity code %s", cls.Code)
		if cls.DutyRatePct > 0 {
			fmt.Fprintf(&b, " with a %.1f%% duty rate", cls.DutyRatePct)
		}
		b.WriteString(".")
	} else {
		b.WriteString(" Tariff classification is unavailable for this report.")
	}

	if sup := report.Supplier; sup != nil {
		fmt.Fprintf(&b, " Supplier %s scored %d/10 reliability (%s risk).",
			sup.CompanyName, sup.ReliabilityScore, sup.RiskLevel)
	}

	if c := report.Costing; c != nil {
		cheaper, dearer := c.Cargo, c.White
		if dearer.TotalCost < cheaper.TotalCost {
			cheaper, dearer = dearer, cheaper
		}
		fmt.Fprintf(&b, " The %s channel totals %.2f USD over %d days versus %.2f USD for %s.",
			string(cheaper.Channel), cheaper.TotalCost, cheaper.TransitDays,
			dearer.TotalCost, string(dearer.Channel))
	}

	if len(report.Degraded) > 0 {
		b.WriteString(" Some data sources were unavailable; see the degraded section list.")
	}
	return b.String(), nil
}

func sectionName(kind model.ProviderKind) string {
	switch kind {
	case model.ProviderClassification:
		return "classification"
	case model.ProviderSupplier:
		return "supplier"
	case model.ProviderTariff:
		return "tariffs"
	default:
		return string(kind)
	}
}
