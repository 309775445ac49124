package notify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/outcomeledger/internal/domain"
)

// amountFields are rendered in collateral units rather than base units.
var amountFields = map[string]bool{
	"amount":        true,
	"bond":          true,
	"reward":        true,
	"required_bond": true,
	"payout":        true,
}

var titles = map[string]string{
	domain.EventMarketInitialized: "Market opened",
	domain.EventMarketAsserted:    "Outcome asserted",
	domain.EventMarketResolved:    "Market resolved",
	domain.EventAssertionRejected: "Assertion rejected",
	domain.EventAssertionDisputed: "Assertion disputed",
	domain.EventTokensSettled:     "Tokens settled",
}

// FormatAmount renders a base-unit integer string with decimals places,
// trailing zeros trimmed.
func FormatAmount(base string, decimals int32) string {
	d, err := decimal.NewFromString(base)
	if err != nil {
		return base
	}
	return d.Shift(-decimals).String()
}

// FormatEvent renders evt as a notification title and body.
func FormatEvent(evt domain.Event, decimals int32) (string, string) {
	title, ok := titles[evt.Type]
	if !ok {
		title = strings.ReplaceAll(evt.Type, "_", " ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "market: %s", evt.MarketID)
	if evt.Actor != "" {
		fmt.Fprintf(&b, "\nby: %s", evt.Actor)
	}
	keys := make([]string, 0, len(evt.Fields))
	for k := range evt.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := evt.Fields[k]
		if amountFields[k] {
			v = FormatAmount(v, decimals)
		}
		fmt.Fprintf(&b, "\n%s: %s", k, v)
	}
	return title, b.String()
}
