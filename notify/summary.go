package notify

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"optionflow/models"
)

// topPerStock caps how many contracts each underlying's group lists.
const topPerStock = 3

type stockGroup struct {
	code     string
	name     string
	turnover float64
	events   []models.TradeEvent
}

// Summary renders one scan's flagged trades as the grouped plain-text report
// posted to the webhooks. Events are grouped per underlying, groups are
// ordered by group turnover, and each group lists its largest contracts.
func Summary(market string, at time.Time, events []models.TradeEvent, qualifiedTurnover float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Options big trade report (%s)\n", market)
	fmt.Fprintf(&b, "Time: %s\n", at.Format("2006-01-02 15:04:05"))

	if len(events) == 0 {
		b.WriteString("No big trades in this scan")
		return b.String()
	}

	var total, qualifiedAmount float64
	qualified := 0
	for _, e := range events {
		total += e.Turnover
		if e.Turnover >= qualifiedTurnover {
			qualified++
			qualifiedAmount += e.Turnover
		}
	}
	fmt.Fprintf(&b, "Alerts: %d new, %d qualified (turnover >= %s)\n", len(events), qualified, comma(int64(qualifiedTurnover)))
	fmt.Fprintf(&b, "Turnover: %s total, %s qualified\n", comma(int64(total)), comma(int64(qualifiedAmount)))

	for _, g := range groupByStock(events) {
		label := g.code
		if g.name != "" {
			label = g.name + " " + g.code
		}
		fmt.Fprintf(&b, "\n%s: %d trades, %s\n", label, len(g.events), comma(int64(g.turnover)))

		top := g.events
		if len(top) > topPerStock {
			top = top[:topPerStock]
		}
		for i, e := range top {
			fmt.Fprintf(&b, "  %d. %s: %s %s, %.3f x %d, +%d, turnover %s, OI %s (%+d), net OI %s (%+d)\n",
				i+1, e.OptionCode, e.OptionType, e.Direction,
				e.Price, e.Volume, e.VolumeDelta, comma(int64(e.Turnover)),
				comma(e.OpenInterest), e.OpenInterestDelta,
				comma(e.NetOpenInterest), e.NetOpenInterestDelta)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

// groupByStock buckets events per underlying, sorts groups by turnover
// descending and each group's events the same way.
func groupByStock(events []models.TradeEvent) []stockGroup {
	index := make(map[string]int)
	var groups []stockGroup
	for _, e := range events {
		i, ok := index[e.StockCode]
		if !ok {
			i = len(groups)
			index[e.StockCode] = i
			groups = append(groups, stockGroup{code: e.StockCode, name: e.StockName})
		}
		groups[i].turnover += e.Turnover
		groups[i].events = append(groups[i].events, e)
	}

	for i := range groups {
		g := &groups[i]
		sort.SliceStable(g.events, func(a, b int) bool {
			return g.events[a].Turnover > g.events[b].Turnover
		})
	}
	sort.SliceStable(groups, func(a, b int) bool {
		return groups[a].turnover > groups[b].turnover
	})
	return groups
}

// comma renders n with thousands separators.
func comma(n int64) string {
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	s := strconv.FormatInt(n, 10)
	if len(s) <= 3 {
		return sign + s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return sign + b.String()
}
