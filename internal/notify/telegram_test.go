package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freightwise/logistics-cli/internal/model"
)

type fakeSender struct {
	chatID int64
	text   string
	err    error
}

func (f *fakeSender) SendMessage(_ context.Context, chatID int64, text string) error {
	f.chatID = chatID
	f.text = text
	return f.err
}

func completedRun() *model.Run {
	return &model.Run{
		ID:    "run-1",
		State: model.RunCompleted,
		Inquiry: model.Inquiry{
			Description: "LED bulbs, 500 units",
			WeightKg:    120,
			VolumeM3:    0.8,
			Origin:      "Guangzhou",
			Destination: "Moscow",
		},
		Report: &model.Report{
			ExecutiveSummary: "Ship via cargo.",
			Classification:   &model.Classification{Code: "8539500000", DutyRatePct: 5, VATRatePct: 20},
			Supplier:         &model.SupplierProfile{CompanyName: "Shenzhen Bright Co", ReliabilityScore: 8, RiskLevel: "low"},
			Costing: &model.CostAnalysis{
				Cargo:           model.ChannelQuote{TotalCost: 335, TransitDays: 12},
				White:           model.ChannelQuote{TotalCost: 725, TransitDays: 18},
				Recommendations: []string{"Cargo delivery is more economical"},
			},
		},
	}
}

func TestDeliver(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	n := NewTelegramNotifier(sender, 42)

	require.NoError(t, n.Deliver(context.Background(), completedRun()))
	assert.Equal(t, int64(42), sender.chatID)
	assert.Contains(t, sender.text, "LED bulbs")
}

func TestFormatRun_Completed(t *testing.T) {
	t.Parallel()

	text := FormatRun(completedRun())

	assert.Contains(t, text, "*Logistics report: LED bulbs, 500 units*")
	assert.Contains(t, text, "Guangzhou → Moscow")
	assert.Contains(t, text, "Ship via cargo.")
	assert.Contains(t, text, "`8539500000`")
	assert.Contains(t, text, "duty 5.0%, VAT 20.0%")
	assert.Contains(t, text, "Shenzhen Bright Co — reliability 8/10, low risk")
	assert.Contains(t, text, "Cargo: 335.00 USD, 12 days")
	assert.Contains(t, text, "White: 725.00 USD, 18 days")
	assert.Contains(t, text, "Cargo delivery is more economical")
	assert.NotContains(t, text, "Unavailable sections")
}

func TestFormatRun_DegradedSections(t *testing.T) {
	t.Parallel()

	run := completedRun()
	run.Report.Supplier = nil
	run.Report.Degraded = []model.DegradedSection{
		{Section: "supplier", Reason: model.FailureTimeout},
		{Section: "tariffs", Reason: model.FailureUnavailable},
	}

	text := FormatRun(run)
	assert.Contains(t, text, "Unavailable sections")
	assert.Contains(t, text, "supplier (timeout)")
	assert.Contains(t, text, "tariffs (unavailable)")
}

func TestFormatRun_Failed(t *testing.T) {
	t.Parallel()

	run := &model.Run{
		State:   model.RunFailed,
		Inquiry: model.Inquiry{Description: "LED bulbs"},
		Error:   "enrichment insufficient: all required providers failed",
	}

	text := FormatRun(run)
	assert.Contains(t, text, "*Inquiry failed*")
	assert.Contains(t, text, "LED bulbs")
	assert.Contains(t, text, "enrichment insufficient")
}

func TestFormatRun_NoReport(t *testing.T) {
	t.Parallel()

	run := &model.Run{ID: "run-9", State: model.RunEnriching}
	assert.Equal(t, "Run run-9 is enriching", FormatRun(run))
}

func TestFormatRun_UnratedClassification(t *testing.T) {
	t.Parallel()

	run := completedRun()
	run.Report.Classification = &model.Classification{Code: "8539500000"}

	text := FormatRun(run)
	assert.Contains(t, text, "`8539500000`")
	assert.NotContains(t, text, "duty")
}
