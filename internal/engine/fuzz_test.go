// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package engine

import (
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/asebaboot/pkg/aseba"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

var fuzzOpcodes = []uint16{
	aseba.CmdReadPage,
	aseba.CmdWritePage,
	aseba.CmdPageData,
	aseba.CmdPageData,
	aseba.CmdPageData,
	aseba.PushAck,
	0x0000,
	0x7FFF,
}

// TestFuzzDispatch drives the engine with random command streams and
// checks the session never leaves its valid state space
func TestFuzzDispatch(t *testing.T) {
	rng := newFuzzRng(t)
	geo := testGeometry()
	f := newFixture(t, geo)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		op := fuzzOpcodes[rng.Intn(len(fuzzOpcodes))]
		payload := make([]uint16, rng.Intn(4))
		for j := range payload {
			if op == aseba.CmdWritePage || op == aseba.CmdReadPage {
				payload[j] = uint16(rng.Intn(geo.AvailablePages + 4))
			} else {
				payload[j] = uint16(rng.Uint32())
			}
		}

		before := *f.eng.Session()
		pushes := len(f.out.pushes)
		writes := len(f.flash.writes)

		f.eng.Dispatch(op, payload)

		s := f.eng.Session()
		require.True(t, s.CurrentWord%2 == 0, "round %d: odd cursor %d", i, s.CurrentWord)
		require.True(t, s.CurrentWord >= 0 && s.CurrentWord < geo.PageWords(), "round %d: cursor %d", i, s.CurrentWord)
		require.True(t, s.CurrentPage >= 0 && s.CurrentPage < geo.AvailablePages, "round %d: page %d", i, s.CurrentPage)
		if !s.ProgrammingMode {
			require.Zero(t, s.CurrentWord, "round %d: idle with cursor", i)
		}

		acks := f.out.acks()
		if len(f.out.pushes) > pushes {
			last := f.out.pushes[len(f.out.pushes)-1]
			if st, err := aseba.ParseAck(last); err == nil && st != aseba.StatusOK && len(f.flash.writes) == writes {
				// Rejections leave the session alone
				require.Equal(t, before.ProgrammingMode, s.ProgrammingMode, "round %d", i)
				require.Equal(t, before.CurrentPage, s.CurrentPage, "round %d", i)
				require.Equal(t, before.CurrentWord, s.CurrentWord, "round %d", i)
			}
		}
		for _, st := range acks {
			require.True(t, st.Valid(), "round %d: status %d", i, st)
		}
		if len(f.out.pushes) > 4096 {
			f.out.clear()
		}
	}
	require.Zero(t, f.reboot.n)
}
