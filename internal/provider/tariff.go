package provider

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/freightwise/logistics-cli/internal/model"
	"github.com/freightwise/logistics-cli/pkg/eaeu"
)

// RateSource serves locally imported route rates. The run store satisfies it.
type RateSource interface {
	GetTariffRates(ctx context.Context, route string) ([]model.TariffRate, error)
}

// TariffAdapter fetches published per-kg rates for the inquiry's route. When
// the remote lookup fails or yields nothing current, locally imported rates
// for the route stand in before any built-in defaults apply.
type TariffAdapter struct {
	client  eaeu.Client
	local   RateSource
	nowFunc func() time.Time
}

// NewTariffAdapter builds the tariff lookup adapter. local may be nil.
func NewTariffAdapter(client eaeu.Client, local RateSource) *TariffAdapter {
	return &TariffAdapter{client: client, local: local, nowFunc: time.Now}
}

func (a *TariffAdapter) Kind() model.ProviderKind { return model.ProviderTariff }

func (a *TariffAdapter) Applicable(q model.Inquiry) bool { return true }

func (a *TariffAdapter) KeyParts(q model.Inquiry) []string {
	return []string{q.Route()}
}

func (a *TariffAdapter) Fetch(ctx context.Context, q model.Inquiry) (model.ProviderResult, error) {
	route := q.Route()
	rows, err := a.client.RouteRates(ctx, route)
	if err != nil {
		return a.localFallback(ctx, route, err)
	}

	now := a.nowFunc()
	rates := make([]model.TariffRate, 0, len(rows))
	for _, r := range rows {
		var channel model.DeliveryChannel
		switch r.ServiceType {
		case "cargo":
			channel = model.ChannelCargo
		case "white":
			channel = model.ChannelWhite
		default:
			continue
		}
		if r.PricePerKg <= 0 {
			return model.ProviderResult{}, model.NewFailure(model.FailureMalformed,
				fmt.Sprintf("rate row for %s has non-positive price", r.ServiceType))
		}
		rates = append(rates, model.TariffRate{
			Route:       route,
			Channel:     channel,
			PricePerKg:  r.PricePerKg,
			TransitDays: r.TransitDays,
			ValidFrom:   r.ValidFrom,
			ValidTo:     r.ValidTo,
		})
	}
	rates = currentRates(now, rates)
	if len(rates) == 0 {
		return a.localFallback(ctx, route,
			model.NewFailure(model.FailureNoData, "no current rates published for route"))
	}

	return model.ProviderResult{Tariffs: &model.TariffSheet{Route: route, Rates: rates}}, nil
}

// localFallback answers from imported rates, or surfaces cause when none are
// stored for the route.
func (a *TariffAdapter) localFallback(ctx context.Context, route string, cause error) (model.ProviderResult, error) {
	if a.local == nil {
		return model.ProviderResult{}, cause
	}
	stored, err := a.local.GetTariffRates(ctx, route)
	if err != nil {
		zap.L().Warn("stored rate lookup failed",
			zap.String("route", route),
			zap.Error(err),
		)
		return model.ProviderResult{}, cause
	}
	rates := currentRates(a.nowFunc(), stored)
	if len(rates) == 0 {
		return model.ProviderResult{}, cause
	}
	zap.L().Info("serving imported rates for route",
		zap.String("route", route),
		zap.Int("rates", len(rates)),
	)
	return model.ProviderResult{Tariffs: &model.TariffSheet{Route: route, Rates: rates}}, nil
}

// currentRates drops rows outside their validity window.
func currentRates(now time.Time, rates []model.TariffRate) []model.TariffRate {
	current := make([]model.TariffRate, 0, len(rates))
	for _, r := range rates {
		if !r.ValidFrom.IsZero() && now.Before(r.ValidFrom) {
			continue
		}
		if r.ValidTo != nil && now.After(*r.ValidTo) {
			continue
		}
		current = append(current, r)
	}
	return current
}
