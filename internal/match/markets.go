package match

import (
	"strings"

	"kalshi-arb/pkg/types"
)

// MarketForTeam picks the market in an event that settles YES when the
// given team wins. The ticker's trailing segment is the team code; when
// the team is not in the dictionary (or the code disagrees), the market
// title decides.
func MarketForTeam(markets []types.Market, sport types.Sport, team string) (types.Market, bool) {
	if code, ok := TeamCode(sport, team); ok {
		for _, m := range markets {
			if tickerSuffix(m.Ticker) == code {
				return m, true
			}
		}
	}

	norm := normalizeName(team)
	for _, m := range markets {
		title := normalizeName(m.Title)
		// Token-set comparison first: it also covers titles shorter than
		// the team name ("Memphis" vs "Memphis Grizzlies"). The ordered
		// containment scan catches titles with surrounding words.
		if namesMatch(title, norm) || titleContainsTeam(strings.Fields(title), norm) {
			return m, true
		}
	}
	return types.Market{}, false
}

func tickerSuffix(ticker string) string {
	if i := strings.LastIndex(ticker, "-"); i >= 0 {
		return ticker[i+1:]
	}
	return ticker
}
