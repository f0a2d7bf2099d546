package service

import (
	"encoding/binary"
	"math/rand/v2"

	"github.com/google/uuid"
)

// questionOrder returns the question order served to one session. The order
// is a permutation seeded from the session id, so it is fixed for the
// lifetime of the session and reproducible from the id alone.
func questionOrder(sessionID uuid.UUID, ids []string, randomize bool) []string {
	order := make([]string, len(ids))
	copy(order, ids)
	if !randomize || len(order) < 2 {
		return order
	}

	seed1 := binary.BigEndian.Uint64(sessionID[:8])
	seed2 := binary.BigEndian.Uint64(sessionID[8:])
	r := rand.New(rand.NewPCG(seed1, seed2))
	r.Shuffle(len(order), func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})
	return order
}
