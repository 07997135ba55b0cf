package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/portfolio-aggregator/internal/chain"
	apperrors "github.com/portfolio-aggregator/internal/errors"
	"github.com/portfolio-aggregator/internal/models"
)

// DashboardView is the dashboard headline with display strings
type DashboardView struct {
	models.DashboardStats
	HasData              bool   `json:"hasData"`
	TotalUSDDisplay      string `json:"totalUsdDisplay"`
	TotalPrimaryDisplay  string `json:"totalPrimaryDisplay"`
	ChangeAmountDisplay  string `json:"change24hAmountDisplay"`
	ChangePercentDisplay string `json:"change24hPercentDisplay"`
}

// GetDashboardStats returns the headline of the last refresh. Before the
// first refresh every value is zero and HasData is false.
func (s *PortfolioService) GetDashboardStats(ctx context.Context) (*DashboardView, error) {
	stats, err := s.dashboard.Get(ctx)
	if err != nil {
		return nil, apperrors.NewPersistenceError("get dashboard stats", err)
	}

	view := &DashboardView{HasData: stats != nil}
	if stats != nil {
		view.DashboardStats = *stats
	}
	view.TotalUSDDisplay = FormatUSD(view.TotalUSD, false)
	view.TotalPrimaryDisplay = decimal.NewFromFloat(view.TotalPrimary).StringFixed(8) + " " + chain.PrimarySymbol
	view.ChangeAmountDisplay = FormatUSD(view.Change24hAmount, true)
	view.ChangePercentDisplay = FormatPercent(view.Change24hPercent)
	return view, nil
}

// FormatUSD renders v as dollars with thousand separators and two decimals.
// With signed set, positive values carry a leading "+".
func FormatUSD(v float64, signed bool) string {
	d := decimal.NewFromFloat(v).Round(2)
	sign := ""
	switch {
	case d.IsNegative():
		sign = "-"
		d = d.Neg()
	case signed && d.IsPositive():
		sign = "+"
	}
	return sign + "$" + groupThousands(d.StringFixed(2))
}

// FormatPercent renders v with two decimals and an explicit sign
func FormatPercent(v float64) string {
	d := decimal.NewFromFloat(v).Round(2)
	s := d.StringFixed(2)
	if d.IsPositive() {
		s = "+" + s
	}
	return s + "%"
}

func groupThousands(fixed string) string {
	whole, frac, _ := strings.Cut(fixed, ".")
	if len(whole) <= 3 {
		return fixed
	}
	var b strings.Builder
	lead := len(whole) % 3
	if lead > 0 {
		b.WriteString(whole[:lead])
	}
	for i := lead; i < len(whole); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(whole[i : i+3])
	}
	if frac != "" {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return b.String()
}
