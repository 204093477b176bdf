// Command rollsync-demo runs a deterministic N-peer loopback simulation of
// the rollsync core: every peer runs its own Session wired to every other
// peer over an in-process loopback transport, submits a tiny counter-based
// "game" input each tick, and prints the directive trace each session
// emits so the handshake -> advance -> rollback path can be watched end to
// end without a real network or a real game.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/foxglove-games/rollsync"
	"github.com/foxglove-games/rollsync/engine"
	"github.com/foxglove-games/rollsync/transport"
)

// Version is set at build time.
var Version = "dev"

const inputSize = 1 // one byte per player: a button mask

func main() {
	peers := flag.Int("peers", 2, "number of peers in the simulation")
	ticks := flag.Int("ticks", 60, "number of ticks to simulate")
	mispredict := flag.Int("mispredict-at", 0, "tick at which peer 1 diverges from peer 0's prediction, 0 disables")
	verbose := flag.Bool("v", false, "print every directive as well as the final per-peer summary")
	flag.Parse()

	fmt.Printf("rollsync-demo v%s\n", Version)

	if *peers < 2 || *peers > 8 {
		log.Printf("[ERROR] peers must be between 2 and 8, got %d", *peers)
		os.Exit(1)
	}

	sessions := buildMesh(*peers)

	waitForHandshake(sessions)

	game := make([]toyState, *peers)

	for tick := 1; tick <= *ticks; tick++ {
		for i, s := range sessions {
			if err := s.Poll(); err != nil {
				log.Printf("[ERROR] peer %d: poll: %v", i, err)
				os.Exit(1)
			}
		}

		for i, s := range sessions {
			input := []byte{localButtonMask(i, tick, *mispredict)}

			directives, err := s.AdvanceFrame(input)
			if err != nil {
				log.Printf("[ERROR] peer %d: advance: %v", i, err)
				os.Exit(1)
			}

			for _, d := range directives {
				applyDirective(&game[i], d, *verbose, i)
			}
		}
	}

	for i, s := range sessions {
		stats := s.Stats()
		fmt.Printf("peer %d: local_frame=%d sync_frame=%d rollbacks=%d counter=%d\n",
			i, stats.LocalFrame, stats.SyncFrame, stats.Rollbacks, game[i].counter)
	}
}

// toyState stands in for the host's actual game state, which the core
// never inspects — state serialization is explicitly out of scope (the
// spec's demo needs something to Save/Load/Advance against, so this is
// deliberately a plain struct, not a mlange-42/ark world; see DESIGN.md).
type toyState struct {
	counter int
	history map[int64]int
}

func applyDirective(g *toyState, d engine.Directive, verbose bool, peer int) {
	if g.history == nil {
		g.history = make(map[int64]int)
	}

	switch d.Kind {
	case engine.Advance:
		for _, b := range d.Inputs {
			g.counter += int(b)
		}
		if verbose {
			fmt.Printf("peer %d: advance(%d) inputs=%v counter=%d\n", peer, d.Frame, d.Inputs, g.counter)
		}
	case engine.Save:
		g.history[d.Frame] = g.counter
		if verbose {
			fmt.Printf("peer %d: save(%d) counter=%d\n", peer, d.Frame, g.counter)
		}
	case engine.Load:
		g.counter = g.history[d.Frame]
		if verbose {
			fmt.Printf("peer %d: load(%d) counter=%d\n", peer, d.Frame, g.counter)
		}
	}
}

func localButtonMask(peer, tick, mispredictAt int) byte {
	if mispredictAt > 0 && tick == mispredictAt && peer == 1 {
		return 0x01
	}
	return 0x00
}

func buildMesh(n int) []*rollsync.Session {
	sessions := make([]*rollsync.Session, n)
	for i := range sessions {
		sessions[i] = rollsync.New(rollsync.DefaultConfig(inputSize))
		if err := sessions[i].SetLocalDevice(i, 1, 0, nil); err != nil {
			log.Printf("[ERROR] peer %d: set local device: %v", i, err)
			os.Exit(1)
		}
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			a, b := transport.NewLoopbackPair(64)
			if err := sessions[i].AddRemoteDevice(j, 1, a); err != nil {
				log.Printf("[ERROR] wiring peer %d<-%d: %v", i, j, err)
				os.Exit(1)
			}
			if err := sessions[j].AddRemoteDevice(i, 1, b); err != nil {
				log.Printf("[ERROR] wiring peer %d<-%d: %v", j, i, err)
				os.Exit(1)
			}
		}
	}

	return sessions
}

func waitForHandshake(sessions []*rollsync.Session) {
	for tick := 0; tick < 50; tick++ {
		allRunning := true
		for i, s := range sessions {
			if err := s.Poll(); err != nil {
				log.Printf("[ERROR] peer %d: poll: %v", i, err)
				os.Exit(1)
			}
			if !s.IsRunning() {
				allRunning = false
			}
		}
		if allRunning {
			log.Printf("[INFO] handshake complete after %d polls", tick+1)
			return
		}
	}

	log.Printf("[ERROR] handshake did not complete within the poll budget")
	os.Exit(1)
}
