// Package cli implements the operator console: live lobby status, room and
// queue listings, kicking players and shutting down.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/serpent-project/serpent/internal/events"
	"github.com/serpent-project/serpent/internal/game"
	"github.com/serpent-project/serpent/internal/lobby"
)

const prompt = "serpent> "

// Lobby is the lobby surface the console drives.
type Lobby interface {
	Stats() lobby.Stats
	Rooms() []lobby.RoomInfo
	RoomSnapshot(id uint32) (game.Snapshot, bool)
	Players() []game.PlayerInfo
	QueueIDs() []uint32
	Kick(playerID uint32, reason string) error
}

// CLI provides an interactive command-line interface.
type CLI struct {
	lobby    Lobby
	eventBus *events.EventBus
	out      io.Writer
}

// NewCLI creates a console writing to out.
func NewCLI(lb Lobby, eventBus *events.EventBus, out io.Writer) *CLI {
	return &CLI{
		lobby:    lb,
		eventBus: eventBus,
		out:      out,
	}
}

// Start reads commands from in until EOF, quit, or ctx is cancelled.
func (c *CLI) Start(ctx context.Context, in io.Reader) {
	fmt.Fprintln(c.out, "\nSerpent CLI ready. Type 'help' for available commands.")
	fmt.Fprintln(c.out, "─────────────────────────────────────────────────────")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.Warn().Err(err).Msg("CLI: input closed")
		}
	}()

	for {
		fmt.Fprint(c.out, prompt)
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			parts := strings.Fields(line)
			if len(parts) == 0 {
				continue
			}
			quit, err := c.Execute(ctx, strings.ToLower(parts[0]), parts[1:])
			if err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
			if quit {
				return
			}
		}
	}
}

// Execute runs a single command. It reports whether the console should stop.
func (c *CLI) Execute(ctx context.Context, cmd string, args []string) (bool, error) {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "rooms":
		c.printRooms()
	case "room":
		return false, c.cmdRoom(args)
	case "queue":
		c.printQueue()
	case "players":
		c.printPlayers()
	case "kick":
		return false, c.cmdKick(args)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down Serpent...")
		c.eventBus.Emit(ctx, events.NewEvent(events.EventShutdown, "cli",
			events.ShutdownPayload{Reason: "operator quit"}))
		return true, nil
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return false, nil
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, "\n╔══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(c.out, "║                     Serpent CLI Commands                     ║")
	fmt.Fprintln(c.out, "╠══════════════════════════════════════════════════════════════╣")
	fmt.Fprintln(c.out, "║  status             Show lobby counters                      ║")
	fmt.Fprintln(c.out, "║  rooms              List live rooms                          ║")
	fmt.Fprintln(c.out, "║  room <id>          Show the board of a room                 ║")
	fmt.Fprintln(c.out, "║  queue              List players waiting for a match         ║")
	fmt.Fprintln(c.out, "║  players            List connected players                   ║")
	fmt.Fprintln(c.out, "║  kick <id> [reason] Disconnect a player                      ║")
	fmt.Fprintln(c.out, "║  quit               Shutdown Serpent                         ║")
	fmt.Fprintln(c.out, "║  help               Show this help message                   ║")
	fmt.Fprintln(c.out, "╚══════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(c.out)
}

func (c *CLI) newTable(header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(c.out)
	table.SetHeader(header)
	table.SetBorder(true)
	table.SetAutoWrapText(false)
	return table
}

func (c *CLI) printStatus() {
	st := c.lobby.Stats()

	table := c.newTable("Metric", "Value")
	table.Append([]string{"Players", strconv.Itoa(st.Players)})
	table.Append([]string{"Queued", strconv.Itoa(st.Queued)})
	table.Append([]string{"Rooms", strconv.Itoa(st.Rooms)})
	table.Append([]string{"Spectators", strconv.Itoa(st.Spectators)})
	table.Append([]string{"Rooms started", strconv.FormatUint(st.RoomsStarted, 10)})
	table.Append([]string{"Rooms finished", strconv.FormatUint(st.RoomsFinished, 10)})
	table.Append([]string{"Uptime", st.Uptime.Truncate(time.Second).String()})
	table.Render()
}

func (c *CLI) printRooms() {
	rooms := c.lobby.Rooms()
	if len(rooms) == 0 {
		fmt.Fprintln(c.out, "No live rooms.")
		return
	}

	table := c.newTable("Room", "Status", "Tick", "Players", "Alive", "Winner")
	for _, r := range rooms {
		winner := "-"
		if r.Winner != nil {
			winner = strconv.FormatUint(uint64(*r.Winner), 10)
		}
		table.Append([]string{
			strconv.FormatUint(uint64(r.ID), 10),
			r.Status.String(),
			strconv.FormatUint(r.Tick, 10),
			joinIDs(r.Players),
			strconv.Itoa(r.Alive),
			winner,
		})
	}
	table.Render()
}

func (c *CLI) cmdRoom(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: room <id>")
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	snap, ok := c.lobby.RoomSnapshot(id)
	if !ok {
		return fmt.Errorf("room %d not found", id)
	}

	fmt.Fprintf(c.out, "Room %d  tick %d  %s\n", snap.RoomID, snap.Tick, snap.Status)
	fmt.Fprint(c.out, renderBoard(snap))

	table := c.newTable("Player", "Length", "Score", "Direction", "Alive")
	for _, p := range snap.Players {
		table.Append([]string{
			strconv.FormatUint(uint64(p.ID), 10),
			strconv.Itoa(len(p.Segments)),
			strconv.Itoa(p.Score),
			p.Direction.String(),
			strconv.FormatBool(p.Alive),
		})
	}
	table.Render()
	return nil
}

// renderBoard draws the grid with '*' for food, digits for snake heads and
// 'o' for body segments.
func renderBoard(snap game.Snapshot) string {
	if snap.Width <= 0 || snap.Height <= 0 {
		return ""
	}
	grid := make([][]byte, snap.Height)
	for y := range grid {
		grid[y] = []byte(strings.Repeat(".", snap.Width))
	}
	put := func(p game.Pos, ch byte) {
		if p.X >= 0 && p.X < snap.Width && p.Y >= 0 && p.Y < snap.Height {
			grid[p.Y][p.X] = ch
		}
	}
	for _, f := range snap.Foods {
		put(f, '*')
	}
	for _, p := range snap.Players {
		if !p.Alive {
			continue
		}
		for i, seg := range p.Segments {
			if i == 0 {
				put(seg, byte('0'+p.ID%10))
			} else {
				put(seg, 'o')
			}
		}
	}

	var b strings.Builder
	for _, row := range grid {
		b.Write(row)
		b.WriteByte('\n')
	}
	return b.String()
}

func (c *CLI) printQueue() {
	ids := c.lobby.QueueIDs()
	if len(ids) == 0 {
		fmt.Fprintln(c.out, "Queue is empty.")
		return
	}
	table := c.newTable("Position", "Player")
	for i, id := range ids {
		table.Append([]string{strconv.Itoa(i + 1), strconv.FormatUint(uint64(id), 10)})
	}
	table.Render()
}

func (c *CLI) printPlayers() {
	players := c.lobby.Players()
	if len(players) == 0 {
		fmt.Fprintln(c.out, "No players connected.")
		return
	}
	table := c.newTable("ID", "Name", "Status", "Room", "Connected")
	for _, p := range players {
		room := "-"
		if p.RoomID != 0 {
			room = strconv.FormatUint(uint64(p.RoomID), 10)
		}
		table.Append([]string{
			strconv.FormatUint(uint64(p.ID), 10),
			p.Name,
			p.Status.String(),
			room,
			time.Since(p.JoinedAt).Truncate(time.Second).String(),
		})
	}
	table.Render()
}

func (c *CLI) cmdKick(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: kick <id> [reason]")
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	reason := "kicked by operator"
	if len(args) > 1 {
		reason = strings.Join(args[1:], " ")
	}
	if err := c.lobby.Kick(id, reason); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Kicked player %d\n", id)
	return nil
}

func parseID(arg string) (uint32, error) {
	id, err := strconv.ParseUint(arg, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id: %s", arg)
	}
	return uint32(id), nil
}

func joinIDs(ids []uint32) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}
	return strings.Join(parts, ",")
}
