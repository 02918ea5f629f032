package services

import (
	"errors"
	"math"
)

// SlotScale ist der feste Skalierungsfaktor der Festkomma-Arithmetik des
// Allokators. Kapazität, Gewichte und Werte werden vor dem DP-Lauf mit diesem
// Faktor auf Ganzzahlen gerundet; die effektive Genauigkeit ist damit auf
// vier Nachkommastellen begrenzt.
const SlotScale = 10000

var (
	// ErrShapeMismatch: weights, values und ids sind unterschiedlich lang.
	// Immer ein Aufrufer-Fehler, nie ein behebbarer Laufzeitzustand.
	ErrShapeMismatch = errors.New("knapsack: weights, values and ids must have equal length")

	// ErrNegativeInput: Kapazität, Gewicht oder Wert ist negativ.
	ErrNegativeInput = errors.New("knapsack: capacity, weights and values must be non-negative")
)

func scaleToInt(x float64) int64 {
	return int64(math.Round(x * SlotScale))
}

// Knapsack wählt die wertmaximale Teilmenge der Kandidaten, deren
// Gesamtgewicht die Kapazität nicht überschreitet (0/1-Knapsack).
//
// Schnellpfad: passt bereits die Summe aller Gewichte in die Kapazität, werden
// alle ids unverändert zurückgegeben, ohne dass eine DP-Tabelle entsteht. Sonst
// läuft das klassische DP über einer (items+1) x (capacity+1)-Tabelle; der
// Backtrack läuft von i=items abwärts, wodurch bei Wertgleichheit später
// stehende Kandidaten zugunsten früherer ausgeschlossen werden. Die Auswahl
// ist damit für identische Eingaben bit-für-bit reproduzierbar.
func Knapsack(capacity float64, weights, values []float64, ids []string) (float64, []string, error) {
	if len(weights) != len(values) || len(weights) != len(ids) {
		return 0, nil, ErrShapeMismatch
	}
	if capacity < 0 {
		return 0, nil, ErrNegativeInput
	}

	n := len(weights)
	w := make([]int64, n)
	v := make([]int64, n)
	var sumW, sumV int64
	for i := 0; i < n; i++ {
		if weights[i] < 0 || values[i] < 0 {
			return 0, nil, ErrNegativeInput
		}
		w[i] = scaleToInt(weights[i])
		v[i] = scaleToInt(values[i])
		sumW += w[i]
		sumV += v[i]
	}

	limit := scaleToInt(capacity)

	// Fast path: everything fits. The common case - most researchers have
	// fewer qualifying publications than their quota.
	if sumW <= limit {
		selected := make([]string, n)
		copy(selected, ids)
		return float64(sumV) / SlotScale, selected, nil
	}

	// table[i][c] = best value using the first i items within budget c.
	table := make([][]int64, n+1)
	table[0] = make([]int64, limit+1)
	for i := 1; i <= n; i++ {
		table[i] = make([]int64, limit+1)
		for c := int64(0); c <= limit; c++ {
			best := table[i-1][c]
			if w[i-1] <= c {
				if alt := v[i-1] + table[i-1][c-w[i-1]]; alt > best {
					best = alt
				}
			}
			table[i][c] = best
		}
	}

	// Backtrack from the last item; on ties table[i][c] == table[i-1][c]
	// drops item i-1, so later items lose against earlier ones.
	total := table[n][limit]
	var picked []int
	c := limit
	for i := n; i >= 1; i-- {
		if table[i][c] == table[i-1][c] {
			continue
		}
		picked = append(picked, i-1)
		c -= w[i-1]
	}

	// picked is in reverse walk order; emit ids in input order.
	selected := make([]string, 0, len(picked))
	for i := len(picked) - 1; i >= 0; i-- {
		selected = append(selected, ids[picked[i]])
	}

	return float64(total) / SlotScale, selected, nil
}
