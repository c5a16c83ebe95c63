// Serpent-bot drives robot clients against a Serpent server: echo robots
// that issue hello requests every second, or snake robots that join
// matchmaking and steer toward food.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/serpent-project/serpent/internal/client"
	"github.com/serpent-project/serpent/internal/game"
	"github.com/serpent-project/serpent/internal/lobby"
)

type counters struct {
	success atomic.Uint64
	failure atomic.Uint64
	pushes  atomic.Uint64
}

func main() {
	addr := flag.String("addr", "127.0.0.1:3010", "server address")
	robots := flag.Int("n", 10, "number of robots")
	mode := flag.String("mode", "echo", "robot mode: echo or snake")
	duration := flag.Duration("duration", 0, "stop after this long (0 runs until interrupted)")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		With().Timestamp().Str("app", "serpent-bot").Logger()

	var run func(ctx context.Context, id int, c *counters)
	switch *mode {
	case "echo":
		run = func(ctx context.Context, id int, c *counters) { runEcho(ctx, *addr, id, c) }
	case "snake":
		run = func(ctx context.Context, id int, c *counters) { runSnake(ctx, *addr, id, c) }
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", *mode)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if *duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	log.Info().Str("addr", *addr).Int("robots", *robots).Str("mode", *mode).Msg("starting robots")

	var c counters
	var wg sync.WaitGroup
	for i := 1; i <= *robots; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			run(ctx, id, &c)
		}(i)
	}

	go report(ctx, &c)
	wg.Wait()

	log.Info().
		Uint64("success", c.success.Load()).
		Uint64("failure", c.failure.Load()).
		Uint64("pushes", c.pushes.Load()).
		Msg("robots stopped")
}

func report(ctx context.Context, c *counters) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Info().
				Uint64("success", c.success.Load()).
				Uint64("failure", c.failure.Load()).
				Uint64("pushes", c.pushes.Load()).
				Msg("progress")
		}
	}
}

func robotName(id int) string {
	return fmt.Sprintf("robot-%d", id)
}

// runEcho sends a hello every second until ctx is done.
func runEcho(ctx context.Context, addr string, id int, c *counters) {
	cl, err := client.Dial(ctx, client.Options{Addr: addr, Name: robotName(id)})
	if err != nil {
		c.failure.Add(1)
		log.Warn().Err(err).Int("robot", id).Msg("connect failed")
		return
	}
	defer cl.Close()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var seq int
	for {
		select {
		case <-ctx.Done():
			return
		case <-cl.Done():
			log.Warn().Err(cl.Err()).Int("robot", id).Msg("disconnected")
			return
		case <-ticker.C:
		}

		seq++
		var resp struct {
			Code int            `json:"code"`
			Msg  map[string]any `json:"msg"`
		}
		err := cl.Request(ctx, lobby.RouteHello, map[string]any{"robot": id, "seq": seq}, &resp)
		if err != nil || resp.Code != 0 {
			c.failure.Add(1)
			log.Debug().Err(err).Int("robot", id).Int("code", resp.Code).Msg("hello failed")
			continue
		}
		c.success.Add(1)
	}
}

// runSnake joins matchmaking and steers on every state push. Finished rooms
// requeue the robot on the server side, so one connection plays many games.
func runSnake(ctx context.Context, addr string, id int, c *counters) {
	states := make(chan game.Snapshot, 1)
	onPush := func(route string, body []byte) {
		if route != lobby.RouteState {
			return
		}
		var snap game.Snapshot
		if err := json.Unmarshal(body, &snap); err != nil {
			log.Debug().Err(err).Int("robot", id).Msg("bad state push")
			return
		}
		c.pushes.Add(1)
		// Keep only the newest snapshot.
		select {
		case <-states:
		default:
		}
		states <- snap
	}

	cl, err := client.Dial(ctx, client.Options{Addr: addr, Name: robotName(id), OnPush: onPush})
	if err != nil {
		c.failure.Add(1)
		log.Warn().Err(err).Int("robot", id).Msg("connect failed")
		return
	}
	defer cl.Close()

	self := cl.UserID()
	last := game.Direction(-1)
	for {
		select {
		case <-ctx.Done():
			return
		case <-cl.Done():
			log.Warn().Err(cl.Err()).Int("robot", id).Msg("disconnected")
			return
		case snap := <-states:
			dir, ok := choose(snap, self)
			if !ok || dir == last {
				continue
			}
			if err := cl.Notify(lobby.RouteMove, map[string]any{"dir": dir}); err != nil {
				c.failure.Add(1)
				continue
			}
			last = dir
			c.success.Add(1)
		}
	}
}
