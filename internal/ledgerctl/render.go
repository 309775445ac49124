package ledgerctl

import (
	"fmt"
	"io"
	"math/big"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"
)

// Renderer prints API results as tables. Collateral amounts are scaled by
// Decimals; token and liquidity amounts are printed raw.
type Renderer struct {
	Out      io.Writer
	Decimals int32
}

// Markets renders one row per market.
func (r Renderer) Markets(markets []Market) error {
	if len(markets) == 0 {
		fmt.Fprintln(r.Out, "no markets")
		return nil
	}

	table := tablewriter.NewWriter(r.Out)
	table.Header("#", "Market", "Outcomes", "State", "Reward", "Bond", "Fee", "Opened")
	for i, m := range markets {
		table.Append(
			strconv.Itoa(i+1),
			short(m.ID),
			m.Outcome1+" / "+m.Outcome2,
			m.State,
			r.collateral(m.Reward),
			r.collateral(m.RequiredBond),
			feeLabel(m.FeeTier),
			m.CreatedAt.UTC().Format("2006-01-02 15:04"),
		)
	}
	if err := table.Render(); err != nil {
		return err
	}

	resolved := 0
	for _, m := range markets {
		if m.Resolved {
			resolved++
		}
	}
	fmt.Fprintf(r.Out, "  %d markets, %d resolved\n", len(markets), resolved)
	return nil
}

// Positions renders the positions of one user.
func (r Renderer) Positions(user string, positions []Position) error {
	if len(positions) == 0 {
		fmt.Fprintf(r.Out, "no positions for %s\n", user)
		return nil
	}

	table := tablewriter.NewWriter(r.Out)
	table.Header("Market", "Position", "Liquidity", "Updated")
	for _, p := range positions {
		table.Append(
			short(p.MarketID),
			strconv.FormatUint(p.Handle, 10),
			p.Liquidity,
			p.UpdatedAt.UTC().Format("2006-01-02 15:04"),
		)
	}
	return table.Render()
}

// Pool renders a pool as a two-column key/value table.
func (r Renderer) Pool(p Pool) error {
	table := tablewriter.NewWriter(r.Out)
	table.Header("Field", "Value")
	table.Append("market", p.MarketID)
	table.Append("pool", p.Pool)
	table.Append("token a", p.TokenA)
	table.Append("token b", p.TokenB)
	table.Append("fee", feeLabel(p.FeeTier))
	if !p.Initialized {
		table.Append("state", "uninitialized")
		return table.Render()
	}
	table.Append("reserve a", p.ReserveA)
	table.Append("reserve b", p.ReserveB)
	table.Append("liquidity", p.Liquidity)
	table.Append("price b/a", priceFromSqrtX96(p.SqrtPriceX96))
	return table.Render()
}

func (r Renderer) collateral(raw string) string {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return raw
	}
	return decimal.NewFromBigInt(v, -r.Decimals).String()
}

// feeLabel prints a fee tier in hundredths of a basis point as a percentage.
func feeLabel(tier uint32) string {
	return decimal.New(int64(tier), -4).String() + "%"
}

// priceFromSqrtX96 converts a Q64.96 square-root price to a plain ratio.
func priceFromSqrtX96(raw string) string {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok || v.Sign() == 0 {
		return "-"
	}
	sqrt := decimal.NewFromBigInt(v, 0).Div(decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), 96), 0))
	return sqrt.Mul(sqrt).StringFixed(6)
}

func short(id string) string {
	if len(id) <= 14 {
		return id
	}
	return id[:8] + ".." + id[len(id)-4:]
}
