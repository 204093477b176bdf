// Command rollsync-monitor is a terminal dashboard for a running rollsync
// mesh: one bar per peer showing local/sync frame, rollback count, and an
// advantage-to-color ramp so a viewer can see at a glance which peer is
// running ahead and how far. It drives its own small loopback mesh (the
// same shape as rollsync-demo) purely so there is something live to watch;
// a host embedding the core for real would instead feed Session.Stats()
// from its own simulation loop.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/foxglove-games/rollsync"
	"github.com/foxglove-games/rollsync/transport"
)

// Version is set at build time.
var Version = "dev"

const inputSize = 1

func main() {
	peers := flag.Int("peers", 3, "number of peers in the simulation")
	tickRate := flag.Int("rate", 30, "ticks per second")
	flag.Parse()

	fmt.Printf("rollsync-monitor v%s\n", Version)

	if *peers < 2 || *peers > 8 {
		log.Printf("[ERROR] peers must be between 2 and 8, got %d", *peers)
		os.Exit(1)
	}

	screen, err := tcell.NewScreen()
	if err != nil {
		log.Printf("[ERROR] tcell.NewScreen: %v", err)
		os.Exit(1)
	}
	if err := screen.Init(); err != nil {
		log.Printf("[ERROR] screen.Init: %v", err)
		os.Exit(1)
	}
	defer screen.Fini()

	screen.SetStyle(tcell.StyleDefault.Background(tcell.ColorBlack).Foreground(tcell.ColorWhite))

	sessions := buildMesh(*peers)

	eventCh := make(chan tcell.Event, 32)
	quitCh := make(chan struct{})
	go pollEvents(screen, eventCh, quitCh)

	tick := time.NewTicker(time.Second / time.Duration(*tickRate))
	defer tick.Stop()

	running := true
	tickNum := 0

	for running {
		select {
		case ev := <-eventCh:
			switch e := ev.(type) {
			case *tcell.EventKey:
				if e.Key() == tcell.KeyEscape || e.Rune() == 'q' {
					running = false
				}
			case *tcell.EventResize:
				screen.Sync()
			}

		case <-tick.C:
			tickNum++
			for _, s := range sessions {
				_ = s.Poll()
			}
			for _, s := range sessions {
				if s.IsRunning() {
					_, _ = s.AdvanceFrame([]byte{0x00})
				}
			}
			draw(screen, sessions, tickNum)
		}
	}

	close(quitCh)
}

func pollEvents(screen tcell.Screen, eventCh chan<- tcell.Event, quitCh <-chan struct{}) {
	for {
		select {
		case <-quitCh:
			return
		default:
			ev := screen.PollEvent()
			if ev == nil {
				return
			}
			select {
			case eventCh <- ev:
			default:
				// Drop event if the channel is full; the dashboard redraws fast enough.
			}
		}
	}
}

func draw(screen tcell.Screen, sessions []*rollsync.Session, tickNum int) {
	screen.Clear()

	drawText(screen, 0, 0, fmt.Sprintf("rollsync-monitor v%s  tick=%d  (q to quit)", Version, tickNum), tcell.ColorWhite)
	drawText(screen, 0, 1, "peer  state    local  sync  adv  rollbacks", tcell.ColorWhite)

	for i, s := range sessions {
		stats := s.Stats()

		state := "syncing"
		if stats.Running {
			state = "running"
		}

		advantage := stats.LocalFrame - stats.SyncFrame
		row := 3 + i

		drawText(screen, 0, row, fmt.Sprintf("%4d  %-7s  %5d  %4d", i, state, stats.LocalFrame, stats.SyncFrame), tcell.ColorWhite)
		drawBar(screen, 25, row, int(advantage), advantageColor(advantage))
		drawText(screen, 45, row, fmt.Sprintf("%3d  %d", advantage, stats.Rollbacks), tcell.ColorWhite)
	}

	screen.Show()
}

func drawText(screen tcell.Screen, x, y int, text string, fg tcell.Color) {
	style := tcell.StyleDefault.Foreground(fg).Background(tcell.ColorBlack)
	for i, r := range text {
		screen.SetContent(x+i, y, r, nil, style)
	}
}

func drawBar(screen tcell.Screen, x, y, length int, fg tcell.Color) {
	if length < 0 {
		length = 0
	}
	if length > 16 {
		length = 16
	}
	style := tcell.StyleDefault.Foreground(fg).Background(tcell.ColorBlack)
	for i := 0; i < length; i++ {
		screen.SetContent(x+i, y, '#', nil, style)
	}
}

// advantageColor ramps green (in sync) to red (far ahead, at risk of a
// stall) as a peer's local-sync frame gap grows, blended in HSV space so
// the midpoint doesn't pass through a muddy brown the way a naive RGB lerp
// would.
func advantageColor(advantage int64) tcell.Color {
	const maxAdvantage = 16

	t := float64(advantage) / maxAdvantage
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}

	green := colorful.Hsv(120, 0.8, 0.9)
	red := colorful.Hsv(0, 0.8, 0.9)
	blended := green.BlendHsv(red, t)

	r, g, b := blended.RGB255()
	return tcell.NewRGBColor(int32(r), int32(g), int32(b))
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
