package stress

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/risk-engine/internal/model"
)

// Built-in scenario ids.
const (
	ScenarioGFC2008      = "gfc-2008"
	ScenarioCOVID2020    = "covid-2020"
	ScenarioBlackMonday  = "black-monday-1987"
	ScenarioDotCom2000   = "dotcom-2000"
	ScenarioTaperTantrum = "taper-tantrum-2013"
	ScenarioFlashCrash   = "flash-crash-2010"
	ScenarioRateShock    = "rate-shock-200bp"
	ScenarioUSDRally     = "usd-rally"
)

func shocks(kv ...any) model.ShockMap {
	m := make(model.ShockMap, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i].(string)] = decimal.RequireFromString(kv[i+1].(string))
	}
	return m
}

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

// Catalog returns the built-in scenarios. Historical entries carry the
// peak-to-trough moves of the recorded event window.
func Catalog() []model.StressScenario {
	return []model.StressScenario{
		{
			ID:              ScenarioGFC2008,
			Name:            "Global Financial Crisis 2008",
			Description:     "Lehman default through the March 2009 equity low",
			Type:            model.ScenarioHistorical,
			Severity:        model.SeverityExtreme,
			EquityShocks:    shocks("default", "-0.45", "XLF", "-0.70"),
			FXShocks:        shocks("default", "-0.10", "JPY", "0.15", "CHF", "0.05"),
			RateShocks:      shocks("default", "-0.02"),
			CreditShocks:    shocks("default", "0.03"),
			CommodityShocks: shocks("default", "-0.50", "GOLD", "0.05"),
			VolShocks:       shocks("default", "1.50"),
			EventStart:      day(2008, time.September, 15),
			EventEnd:        day(2009, time.March, 9),
		},
		{
			ID:              ScenarioCOVID2020,
			Name:            "COVID-19 Crash 2020",
			Description:     "February peak to March 23 2020 trough",
			Type:            model.ScenarioHistorical,
			Severity:        model.SeveritySevere,
			EquityShocks:    shocks("default", "-0.34"),
			FXShocks:        shocks("default", "-0.05", "JPY", "0.02"),
			RateShocks:      shocks("default", "-0.015"),
			CreditShocks:    shocks("default", "0.02"),
			CommodityShocks: shocks("default", "-0.60", "GOLD", "-0.03"),
			VolShocks:       shocks("default", "2.00"),
			EventStart:      day(2020, time.February, 19),
			EventEnd:        day(2020, time.March, 23),
		},
		{
			ID:           ScenarioBlackMonday,
			Name:         "Black Monday 1987",
			Description:  "Single-day equity crash of 19 October 1987",
			Type:         model.ScenarioHistorical,
			Severity:     model.SeverityExtreme,
			EquityShocks: shocks("default", "-0.226"),
			RateShocks:   shocks("default", "-0.005"),
			VolShocks:    shocks("default", "1.50"),
			EventStart:   day(1987, time.October, 19),
			EventEnd:     day(1987, time.October, 19),
		},
		{
			ID:           ScenarioDotCom2000,
			Name:         "Dot-com Bust 2000",
			Description:  "Technology sell-off from the March 2000 peak to October 2002",
			Type:         model.ScenarioHistorical,
			Severity:     model.SeveritySevere,
			EquityShocks: shocks("default", "-0.49", "QQQ", "-0.78"),
			RateShocks:   shocks("default", "-0.04"),
			CreditShocks: shocks("default", "0.01"),
			VolShocks:    shocks("default", "0.50"),
			EventStart:   day(2000, time.March, 24),
			EventEnd:     day(2002, time.October, 9),
		},
		{
			ID:              ScenarioTaperTantrum,
			Name:            "Taper Tantrum 2013",
			Description:     "Treasury sell-off after the May 2013 tapering signal",
			Type:            model.ScenarioHistorical,
			Severity:        model.SeverityModerate,
			EquityShocks:    shocks("default", "-0.06"),
			FXShocks:        shocks("default", "-0.08"),
			RateShocks:      shocks("default", "0.01"),
			CreditShocks:    shocks("default", "0.005"),
			CommodityShocks: shocks("default", "-0.10", "GOLD", "-0.20"),
			EventStart:      day(2013, time.May, 22),
			EventEnd:        day(2013, time.June, 24),
		},
		{
			ID:           ScenarioFlashCrash,
			Name:         "Flash Crash 2010",
			Description:  "Intraday equity collapse of 6 May 2010",
			Type:         model.ScenarioHistorical,
			Severity:     model.SeverityModerate,
			EquityShocks: shocks("default", "-0.09"),
			VolShocks:    shocks("default", "0.60"),
			EventStart:   day(2010, time.May, 6),
			EventEnd:     day(2010, time.May, 6),
		},
		{
			ID:           ScenarioRateShock,
			Name:         "Parallel Rate Shock +200bp",
			Description:  "Instantaneous parallel shift of every curve by 200bp",
			Type:         model.ScenarioHypothetical,
			Severity:     model.SeveritySevere,
			EquityShocks: shocks("default", "-0.05"),
			RateShocks:   shocks("default", "0.02"),
			CreditShocks: shocks("default", "0.005"),
		},
		{
			ID:              ScenarioUSDRally,
			Name:            "USD Rally",
			Description:     "Broad dollar appreciation of 10% against all currencies",
			Type:            model.ScenarioHypothetical,
			Severity:        model.SeverityModerate,
			EquityShocks:    shocks("default", "-0.03"),
			FXShocks:        shocks("default", "-0.10"),
			CommodityShocks: shocks("default", "-0.08"),
		},
	}
}
