package tracing

import (
	"sort"

	"github.com/rawblock/wallet-investigator/pkg/models"
	"github.com/shopspring/decimal"
)

// Edge Extraction Strategies
//
// Each chain turns a Transaction into value transfers between addresses
// with a pure function. The graph builder picks the function by chain and
// never needs to know how the chain accounts for value.
//
//   UTXO (pro-rata):  every input funds every output in proportion to its
//                     share of the total input value
//                       amount(in→out) = out × in / Σinputs
//   Account:          the sender pays each recipient the transfer value;
//                     aligned Inputs[i]→Outputs[i] legs when counts match
//
// Pro-rata is the haircut approximation. It never claims more value than an
// output received and spreads fees across inputs, but it cannot tell which
// input actually funded which output.

// EdgeSpec is one extracted transfer before it is placed in the graph
type EdgeSpec struct {
	From   models.Address
	To     models.Address
	Amount decimal.Decimal
}

// EdgeExtractor converts one transaction into transfers
type EdgeExtractor func(tx models.Transaction) []EdgeSpec

// DefaultExtractors returns the strategy for every supported chain
func DefaultExtractors() map[models.ChainID]EdgeExtractor {
	out := make(map[models.ChainID]EdgeExtractor, len(models.SupportedChains))
	for _, c := range models.SupportedChains {
		if c.Model() == models.UTXO {
			out[c] = ExtractProRata
		} else {
			out[c] = ExtractAccount
		}
	}
	return out
}

// ExtractProRata splits each output across inputs by input share
func ExtractProRata(tx models.Transaction) []EdgeSpec {
	inputs := aggregateTransfers(tx.Inputs)
	outputs := aggregateTransfers(tx.Outputs)

	total := decimal.Zero
	for _, in := range inputs {
		total = total.Add(in.Amount)
	}
	if !total.IsPositive() {
		return nil
	}

	var edges []EdgeSpec
	for _, in := range inputs {
		if !in.Amount.IsPositive() {
			continue
		}
		for _, out := range outputs {
			amt := out.Amount.Mul(in.Amount).Div(total)
			if !amt.IsPositive() {
				continue
			}
			edges = append(edges, EdgeSpec{From: in.Address, To: out.Address, Amount: amt})
		}
	}
	return edges
}

// ExtractAccount emits sender→recipient transfers
func ExtractAccount(tx models.Transaction) []EdgeSpec {
	if len(tx.Inputs) == 0 {
		return nil
	}

	var legs []EdgeSpec
	if len(tx.Inputs) > 1 && len(tx.Inputs) == len(tx.Outputs) {
		for i := range tx.Inputs {
			legs = append(legs, EdgeSpec{From: tx.Inputs[i].Address, To: tx.Outputs[i].Address, Amount: tx.Outputs[i].Amount})
		}
	} else {
		sender := tx.Inputs[0].Address
		for _, out := range tx.Outputs {
			legs = append(legs, EdgeSpec{From: sender, To: out.Address, Amount: out.Amount})
		}
	}
	return mergeLegs(legs)
}

// aggregateTransfers sums amounts per address, sorted by address
func aggregateTransfers(in []models.Transfer) []models.Transfer {
	sums := make(map[models.Address]decimal.Decimal, len(in))
	for _, t := range in {
		if t.Address.IsZero() {
			continue
		}
		sums[t.Address] = sums[t.Address].Add(t.Amount)
	}
	out := make([]models.Transfer, 0, len(sums))
	for a, amt := range sums {
		out = append(out, models.Transfer{Address: a, Amount: amt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address.Compare(out[j].Address) < 0 })
	return out
}

// mergeLegs folds duplicate (from, to) pairs and drops empty ones
func mergeLegs(legs []EdgeSpec) []EdgeSpec {
	type pair struct{ from, to models.Address }
	sums := make(map[pair]decimal.Decimal)
	var order []pair
	for _, l := range legs {
		if l.From.IsZero() || l.To.IsZero() || !l.Amount.IsPositive() {
			continue
		}
		p := pair{l.From, l.To}
		if _, ok := sums[p]; !ok {
			order = append(order, p)
		}
		sums[p] = sums[p].Add(l.Amount)
	}
	sort.Slice(order, func(i, j int) bool {
		if c := order[i].from.Compare(order[j].from); c != 0 {
			return c < 0
		}
		return order[i].to.Compare(order[j].to) < 0
	})
	out := make([]EdgeSpec, 0, len(order))
	for _, p := range order {
		out = append(out, EdgeSpec{From: p.from, To: p.to, Amount: sums[p]})
	}
	return out
}
