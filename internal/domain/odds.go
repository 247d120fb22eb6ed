package domain

import (
	"math"
	"sort"
)

// odds.go — distribución de probabilidades de robo (harpoon).
//
// Los participantes que van perdiendo reciben odds según qué tan reciente
// fue su última puja: cuanto más atrás quedaron, menor la probabilidad,
// siguiendo una secuencia geométrica normalizada contra el presupuesto
// total de odds del lane. Las odds son visibles al cliente y entran en la
// prueba de fairness, así que la forma cerrada debe ser bit a bit estable.

// OddsFromBids calcula las odds de robo por cuenta a partir del historial
// de pujas de una subasta.
//
//   - leader (la última cuenta en pujar) nunca recibe odds: no puede
//     robarse a sí misma.
//   - missed excluye a las cuentas que ya gastaron su único intento.
//   - Si queda exactamente una cuenta elegible, recibe totalBudget entero.
//   - Con N ≥ 2, la cuenta con aheadOf = k > 0 recibe
//     1 - (g^(k-1) · r) / normRoot, con r = (1-b)^(1/N), g = r^(-1/N) y
//     normRoot = (g^(N(N-1)/2))^(1/N). La cuenta con aheadOf = 0 (nadie
//     delante — borde degenerado del líder) recibe 0.
//
// Determinista dado el historial, el líder, el set de cuentas agotadas y
// el presupuesto. Las pujas pueden venir en cualquier orden: la recencia
// se decide por Sequence.
func OddsFromBids(bids []Bid, leader string, missed map[string]bool, totalBudget float64) map[string]StealOdds {
	if totalBudget <= 0 || totalBudget >= 1 {
		return map[string]StealOdds{}
	}

	// Última puja por cuenta elegible.
	lastSeq := make(map[string]uint64)
	for _, b := range bids {
		if b.Bidder == leader || missed[b.Bidder] {
			continue
		}
		if seq, ok := lastSeq[b.Bidder]; !ok || b.Sequence > seq {
			lastSeq[b.Bidder] = b.Sequence
		}
	}
	if len(lastSeq) == 0 {
		return map[string]StealOdds{}
	}

	// Ranking por recencia: índice 0 = puja más reciente. El desempate es
	// el orden de escaneo, pero las sequences por subasta no se repiten.
	type ranked struct {
		account string
		seq     uint64
	}
	ranking := make([]ranked, 0, len(lastSeq))
	for account, seq := range lastSeq {
		ranking = append(ranking, ranked{account, seq})
	}
	sort.SliceStable(ranking, func(i, j int) bool {
		return ranking[i].seq > ranking[j].seq
	})

	out := make(map[string]StealOdds, len(ranking))

	// Caso especial N=1: el único elegible se lleva el presupuesto entero.
	if len(ranking) == 1 {
		out[ranking[0].account] = StealOdds{AheadOf: 0, Odds: totalBudget}
		return out
	}

	n := float64(len(ranking))
	r := math.Pow(1-totalBudget, 1/n)
	g := math.Pow(r, -1/n)
	normRoot := math.Pow(math.Pow(g, n*(n-1)/2), 1/n)

	for k, rk := range ranking {
		odds := 0.0
		if k > 0 {
			odds = 1 - (math.Pow(g, float64(k-1))*r)/normRoot
		}
		out[rk.account] = StealOdds{AheadOf: k, Odds: odds}
	}
	return out
}
