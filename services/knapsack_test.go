package services

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKnapsackBasics(t *testing.T) {
	t.Run("capacity forces a choice", func(t *testing.T) {
		total, selected, err := Knapsack(5.0, []float64{3.0, 4.0}, []float64{10.0, 12.0}, []string{"1", "2"})
		require.NoError(t, err)
		assert.Equal(t, 12.0, total)
		assert.Equal(t, []string{"2"}, selected)
	})

	t.Run("ties drop later candidates", func(t *testing.T) {
		total, selected, err := Knapsack(2.0,
			[]float64{1.0, 1.0, 1.0},
			[]float64{5, 5, 5},
			[]string{"1", "2", "3"})
		require.NoError(t, err)
		assert.Equal(t, 10.0, total)
		assert.Equal(t, []string{"1", "2"}, selected)
	})

	t.Run("fast path keeps everything", func(t *testing.T) {
		total, selected, err := Knapsack(4.0,
			[]float64{1.0, 0.5, 1.5},
			[]float64{20, 45, 100},
			[]string{"a", "b", "c"})
		require.NoError(t, err)
		assert.Equal(t, 165.0, total)
		assert.Equal(t, []string{"a", "b", "c"}, selected)
	})

	t.Run("fast path skips the table entirely", func(t *testing.T) {
		// 50 000 Kandidaten bei Kapazität 1e8: eine DP-Tabelle hätte hier
		// über 10^12 Spalten und würde jede Speicher- und Zeitgrenze sprengen.
		// Dass der Fall sofort terminiert, zeigt den Kurzschluss vor dem
		// Tabellenaufbau.
		const n = 50000
		weights := make([]float64, n)
		values := make([]float64, n)
		ids := make([]string, n)
		for i := range weights {
			weights[i] = 0.5
			values[i] = 1.0
			ids[i] = fmt.Sprintf("%d", i+1)
		}
		total, selected, err := Knapsack(1e8, weights, values, ids)
		require.NoError(t, err)
		assert.Equal(t, float64(n), total)
		assert.Equal(t, ids, selected)
	})

	t.Run("empty input", func(t *testing.T) {
		total, selected, err := Knapsack(4.0, nil, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, 0.0, total)
		assert.Empty(t, selected)
	})

	t.Run("zero capacity", func(t *testing.T) {
		total, selected, err := Knapsack(0, []float64{1.0}, []float64{5.0}, []string{"1"})
		require.NoError(t, err)
		assert.Equal(t, 0.0, total)
		assert.Empty(t, selected)
	})

	t.Run("fractional weights", func(t *testing.T) {
		// 0.5 + 0.5 + 0.25 fits in 1.25 exactly; fixed point must not lose the cent
		total, selected, err := Knapsack(1.25,
			[]float64{0.5, 0.5, 0.25, 2.0},
			[]float64{10, 10, 4, 100},
			[]string{"1", "2", "3", "4"})
		require.NoError(t, err)
		assert.Equal(t, 24.0, total)
		assert.Equal(t, []string{"1", "2", "3"}, selected)
	})
}

func TestKnapsackErrors(t *testing.T) {
	t.Run("shape mismatch", func(t *testing.T) {
		_, _, err := Knapsack(1.0, []float64{1}, []float64{1, 2}, []string{"1"})
		assert.ErrorIs(t, err, ErrShapeMismatch)
	})

	t.Run("negative capacity", func(t *testing.T) {
		_, _, err := Knapsack(-1.0, []float64{1}, []float64{1}, []string{"1"})
		assert.ErrorIs(t, err, ErrNegativeInput)
	})

	t.Run("negative weight", func(t *testing.T) {
		_, _, err := Knapsack(1.0, []float64{-0.5}, []float64{1}, []string{"1"})
		assert.ErrorIs(t, err, ErrNegativeInput)
	})
}

func TestKnapsackDeterministic(t *testing.T) {
	weights := []float64{1.0, 2.0, 1.5, 0.5, 1.0, 2.5}
	values := []float64{12, 30, 17, 6, 12, 28}
	ids := []string{"a", "b", "c", "d", "e", "f"}

	total0, selected0, err := Knapsack(4.0, weights, values, ids)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		total, selected, err := Knapsack(4.0, weights, values, ids)
		require.NoError(t, err)
		assert.Equal(t, total0, total)
		assert.Equal(t, selected0, selected)
	}
}

// bruteForce probiert alle Teilmengen durch und liefert den besten Wert in
// derselben Festkomma-Skalierung wie der Allokator.
func bruteForce(capacity float64, weights, values []float64) float64 {
	n := len(weights)
	limit := int64(math.Round(capacity * SlotScale))
	var best int64
	for mask := 0; mask < 1<<n; mask++ {
		var w, v int64
		for i := 0; i < n; i++ {
			if mask&(1<<i) != 0 {
				w += int64(math.Round(weights[i] * SlotScale))
				v += int64(math.Round(values[i] * SlotScale))
			}
		}
		if w <= limit && v > best {
			best = v
		}
	}
	return float64(best) / SlotScale
}

func TestKnapsackAgainstBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 30; trial++ {
		n := 1 + rng.Intn(10)
		weights := make([]float64, n)
		values := make([]float64, n)
		ids := make([]string, n)
		for i := range weights {
			weights[i] = math.Round(rng.Float64()*40) / 10 // 0.0 .. 4.0 in 0.1 steps
			values[i] = math.Round(rng.Float64()*1000) / 10
			ids[i] = fmt.Sprintf("%d", i+1)
		}
		capacity := math.Round(rng.Float64()*60) / 10

		total, selected, err := Knapsack(capacity, weights, values, ids)
		require.NoError(t, err)
		assert.Equal(t, bruteForce(capacity, weights, values), total,
			"trial %d: capacity=%v weights=%v values=%v", trial, capacity, weights, values)

		// selected subset must actually produce the reported total within budget
		var w, v float64
		picked := make(map[string]bool, len(selected))
		for _, id := range selected {
			picked[id] = true
		}
		for i, id := range ids {
			if picked[id] {
				w += weights[i]
				v += values[i]
			}
		}
		assert.LessOrEqual(t, math.Round(w*SlotScale), math.Round(capacity*SlotScale))
		assert.InDelta(t, total, v, 1e-9)
	}
}
