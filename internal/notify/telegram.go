// Package notify formats settled runs for outward delivery channels.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/freightwise/logistics-cli/internal/model"
	"github.com/freightwise/logistics-cli/pkg/telegram"
)

// TelegramNotifier delivers run outcomes to a fixed chat.
type TelegramNotifier struct {
	client telegram.Client
	chatID int64
}

// NewTelegramNotifier builds a notifier for one chat.
func NewTelegramNotifier(client telegram.Client, chatID int64) *TelegramNotifier {
	return &TelegramNotifier{client: client, chatID: chatID}
}

// Deliver sends the run's report, or its failure, as a formatted message.
func (n *TelegramNotifier) Deliver(ctx context.Context, run *model.Run) error {
	return n.client.SendMessage(ctx, n.chatID, FormatRun(run))
}

// FormatRun renders a run as a Telegram Markdown message. Shared by the
// notifier and the webhook reply path.
func FormatRun(run *model.Run) string {
	if run.State == model.RunFailed {
		return fmt.Sprintf("❌ *Inquiry failed*\n%s\n\n`%s`", run.Inquiry.Description, run.Error)
	}
	if run.Report == nil {
		return fmt.Sprintf("Run %s is %s", run.ID, run.State)
	}

	r := run.Report
	var b strings.Builder
	fmt.Fprintf(&b, "📦 *Logistics report: %s*\n", run.Inquiry.Description)
	fmt.Fprintf(&b, "_%s → %s, %.1f kg / %.2f m³_\n\n",
		run.Inquiry.Origin, run.Inquiry.Destination, run.Inquiry.WeightKg, run.Inquiry.VolumeM3)

	b.WriteString(r.ExecutiveSummary)
	b.WriteString("\n")

	if cls := r.Classification; cls != nil {
		fmt.Fprintf(&b, "\n*Classification*\nCode: `%s`", cls.Code)
		if cls.DutyRatePct > 0 {
			fmt.Fprintf(&b, " (duty %.1f%%, VAT %.1f%%)", cls.DutyRatePct, cls.VATRatePct)
		}
		b.WriteString("\n")
	}

	if sup := r.Supplier; sup != nil {
		fmt.Fprintf(&b, "\n*Supplier*\n%s — reliability %d/10, %s risk\n",
			sup.CompanyName, sup.ReliabilityScore, sup.RiskLevel)
	}

	if c := r.Costing; c != nil {
		b.WriteString("\n*Delivery options*\n")
		fmt.Fprintf(&b, "• Cargo: %.2f USD, %d days\n", c.Cargo.TotalCost, c.Cargo.TransitDays)
		fmt.Fprintf(&b, "• White: %.2f USD, %d days\n", c.White.TotalCost, c.White.TransitDays)
		for _, rec := range c.Recommendations {
			fmt.Fprintf(&b, "💡 %s\n", rec)
		}
	}

	if len(r.Degraded) > 0 {
		b.WriteString("\n⚠️ _Unavailable sections:_ ")
		names := make([]string, 0, len(r.Degraded))
		for _, d := range r.Degraded {
			names = append(names, fmt.Sprintf("%s (%s)", d.Section, d.Reason))
		}
		b.WriteString(strings.Join(names, ", "))
		b.WriteString("\n")
	}
	return b.String()
}
