package synth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freightwise/logistics-cli/internal/config"
	"github.com/freightwise/logistics-cli/internal/model"
	"github.com/freightwise/logistics-cli/internal/quote"
	"github.com/freightwise/logistics-cli/internal/resilience"
	"github.com/freightwise/logistics-cli/pkg/anthropic"
)

type fakeAnthropic struct {
	calls int
	text  string
	err   error
}

func (f *fakeAnthropic) CreateMessage(_ context.Context, _ anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &anthropic.MessageResponse{
		Model:   "claude-sonnet-4-20250514",
		Content: []anthropic.ContentBlock{{Type: "text", Text: f.text}},
		Usage:   anthropic.TokenUsage{InputTokens: 900, OutputTokens: 120},
	}, nil
}

func newSynthesizer(client anthropic.Client) *Synthesizer {
	return New(client,
		config.AnthropicConfig{Model: "claude-sonnet-4-20250514", MaxTokens: 1024},
		config.ProviderTuning{MaxAttempts: 2, InitialBackoff: time.Millisecond, Timeout: time.Second},
		nil,
		quote.NewEngine(),
	)
}

func testInquiry() model.Inquiry {
	return model.Inquiry{
		Description: "LED bulbs, 500 units",
		Category:    model.CategoryElectronics,
		WeightKg:    120,
		VolumeM3:    0.8,
		Origin:      "Guangzhou",
		Destination: "Moscow",
	}
}

func fullSet(t *testing.T) *model.EnrichmentSet {
	t.Helper()
	set := model.NewEnrichmentSet()
	require.NoError(t, set.Record(model.ProviderResult{
		Kind:           model.ProviderClassification,
		Classification: &model.Classification{Code: "8539500000", DutyRatePct: 5, VATRatePct: 20},
	}))
	require.NoError(t, set.Record(model.ProviderResult{
		Kind:     model.ProviderSupplier,
		Supplier: &model.SupplierProfile{CompanyName: "Shenzhen Bright Co", ReliabilityScore: 8, RiskLevel: "low"},
	}))
	require.NoError(t, set.Record(model.ProviderResult{
		Kind: model.ProviderTariff,
		Tariffs: &model.TariffSheet{Rates: []model.TariffRate{
			{Channel: model.ChannelCargo, PricePerKg: 2.8, TransitDays: 12},
			{Channel: model.ChannelWhite, PricePerKg: 4.9, TransitDays: 18},
		}},
	}))
	return set
}

func TestSynthesize_FullReport(t *testing.T) {
	t.Parallel()

	client := &fakeAnthropic{text: "All providers delivered; cargo channel favored."}
	report, err := newSynthesizer(client).Synthesize(context.Background(), "run-1", testInquiry(), fullSet(t))
	require.NoError(t, err)

	assert.Equal(t, "All providers delivered; cargo channel favored.", report.ExecutiveSummary)
	assert.False(t, report.Synthesis.Degraded)
	assert.Equal(t, int64(900), report.Synthesis.InputTokens)
	require.NotNil(t, report.Classification)
	require.NotNil(t, report.Supplier)
	require.NotNil(t, report.Costing)
	assert.Empty(t, report.Degraded)
	assert.Equal(t, 1, client.calls)
}

func TestSynthesize_FailedProvidersAnnotated(t *testing.T) {
	t.Parallel()

	set := model.NewEnrichmentSet()
	require.NoError(t, set.Record(model.ProviderResult{
		Kind:           model.ProviderClassification,
		Classification: &model.Classification{Code: "8539500000"},
	}))
	require.NoError(t, set.Record(model.ProviderResult{
		Kind:    model.ProviderSupplier,
		Failure: model.NewFailure(model.FailureTimeout, "run deadline elapsed before response"),
	}))
	require.NoError(t, set.Record(model.ProviderResult{
		Kind:    model.ProviderTariff,
		Failure: model.NewFailure(model.FailureUnavailable, "connection refused"),
	}))

	client := &fakeAnthropic{text: "Partial report."}
	report, err := newSynthesizer(client).Synthesize(context.Background(), "run-1", testInquiry(), set)
	require.NoError(t, err)

	require.Len(t, report.Degraded, 2)
	assert.Equal(t, "supplier", report.Degraded[0].Section)
	assert.Equal(t, model.FailureTimeout, report.Degraded[0].Reason)
	assert.Equal(t, "tariffs", report.Degraded[1].Section)

	// Costing still present, computed from built-in fallback rates.
	require.NotNil(t, report.Costing)
	assert.True(t, report.Costing.Cargo.DefaultTariff)
}

func TestSynthesize_AIFailureFallsBackToTemplate(t *testing.T) {
	t.Parallel()

	client := &fakeAnthropic{err: &resilience.StatusError{StatusCode: 503}}
	report, err := newSynthesizer(client).Synthesize(context.Background(), "run-1", testInquiry(), fullSet(t))
	require.NoError(t, err, "a dead summarizer must not fail the run")

	assert.True(t, report.Synthesis.Degraded)
	assert.Equal(t, 2, client.calls, "transient failure is retried before falling back")

	// Templated summary carries the classification and both channel totals.
	assert.Contains(t, report.ExecutiveSummary, "8539500000")
	assert.Contains(t, report.ExecutiveSummary, "cargo")
	assert.Contains(t, report.ExecutiveSummary, "white")

	require.NotEmpty(t, report.Degraded)
	last := report.Degraded[len(report.Degraded)-1]
	assert.Equal(t, "executive_summary", last.Section)
	assert.Equal(t, model.FailureProvider, last.Reason)
}

func TestSynthesize_EmptyResponseTreatedAsFailure(t *testing.T) {
	t.Parallel()

	client := &fakeAnthropic{text: "   "}
	report, err := newSynthesizer(client).Synthesize(context.Background(), "run-1", testInquiry(), fullSet(t))
	require.NoError(t, err)
	assert.True(t, report.Synthesis.Degraded)
	assert.NotEmpty(t, report.ExecutiveSummary)
}

func TestFallbackSummary_NoSectionsIsFatal(t *testing.T) {
	t.Parallel()

	s := newSynthesizer(&fakeAnthropic{})
	_, err := s.fallbackSummary(testInquiry(), &model.Report{})
	require.Error(t, err)
}

func TestFallbackSummary_PicksCheaperChannel(t *testing.T) {
	t.Parallel()

	s := newSynthesizer(&fakeAnthropic{})
	report := &model.Report{
		Costing: &model.CostAnalysis{
			Cargo: model.ChannelQuote{Channel: model.ChannelCargo, TotalCost: 335, TransitDays: 12},
			White: model.ChannelQuote{Channel: model.ChannelWhite, TotalCost: 725, TransitDays: 18},
		},
	}
	summary, err := s.fallbackSummary(testInquiry(), report)
	require.NoError(t, err)
	assert.Contains(t, summary, "The cargo channel totals 335.00 USD over 12 days")
}
