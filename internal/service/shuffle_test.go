package service

import (
	"fmt"
	"slices"
	"testing"

	"github.com/google/uuid"
)

func TestQuestionOrder(t *testing.T) {
	ids := make([]string, 20)
	for i := range ids {
		ids[i] = fmt.Sprintf("q%02d", i)
	}

	t.Run("no randomization keeps definition order", func(t *testing.T) {
		got := questionOrder(uuid.New(), ids, false)
		if !slices.Equal(got, ids) {
			t.Errorf("order = %v, want %v", got, ids)
		}
	})

	t.Run("same session same order", func(t *testing.T) {
		id := uuid.New()
		a := questionOrder(id, ids, true)
		b := questionOrder(id, ids, true)
		if !slices.Equal(a, b) {
			t.Errorf("orders differ for one session:\n%v\n%v", a, b)
		}
	})

	t.Run("permutation of the input", func(t *testing.T) {
		got := questionOrder(uuid.New(), ids, true)
		sorted := slices.Clone(got)
		slices.Sort(sorted)
		if !slices.Equal(sorted, ids) {
			t.Errorf("order %v is not a permutation of %v", got, ids)
		}
	})

	t.Run("input untouched", func(t *testing.T) {
		in := slices.Clone(ids)
		questionOrder(uuid.New(), in, true)
		if !slices.Equal(in, ids) {
			t.Errorf("input mutated: %v", in)
		}
	})

	t.Run("sessions differ", func(t *testing.T) {
		first := questionOrder(uuid.New(), ids, true)
		for i := 0; i < 10; i++ {
			if !slices.Equal(first, questionOrder(uuid.New(), ids, true)) {
				return
			}
		}
		t.Error("eleven sessions produced the same order of 20 questions")
	})

	t.Run("short inputs", func(t *testing.T) {
		if got := questionOrder(uuid.New(), nil, true); len(got) != 0 {
			t.Errorf("nil input gave %v", got)
		}
		if got := questionOrder(uuid.New(), []string{"only"}, true); !slices.Equal(got, []string{"only"}) {
			t.Errorf("single input gave %v", got)
		}
	})
}
