package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/cory-johannsen/lanlobby/internal/lobby"
	"github.com/cory-johannsen/lanlobby/internal/lobby/room"
)

// Lobby is the command surface the console drives.
type Lobby interface {
	CreateRoom(ctx context.Context) (room.Room, error)
	JoinRoom(ctx context.Context, token string) error
	ToggleReady(ctx context.Context) (bool, error)
	LeaveRoom(ctx context.Context) error
	StartGame(ctx context.Context) error
	RelayMatchTelemetry(ctx context.Context, score, movesLeft int64) error
	ReportResult(ctx context.Context, isWinner bool) error
	Snapshot() lobby.Snapshot
	Events() <-chan lobby.Event
}

// errQuit ends the read loop without an error.
var errQuit = errors.New("quit")

// Console reads commands from in and writes responses to out.
type Console struct {
	lobby    Lobby
	registry *Registry
	in       io.Reader
	out      io.Writer
	logger   *zap.Logger
}

// New creates a Console.
//
// Precondition: all arguments must be non-nil.
func New(l Lobby, in io.Reader, out io.Writer, logger *zap.Logger) *Console {
	return &Console{
		lobby:    l,
		registry: DefaultRegistry(),
		in:       in,
		out:      out,
		logger:   logger.Named("console"),
	}
}

// Run prints a prompt, executes each input line, and reports lobby events as
// they arrive. It returns nil on "quit", end of input, or ctx cancellation.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	fmt.Fprintln(c.out, "lanlobby console; type \"help\" for commands")
	c.prompt()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("reading console input: %w", err)
			}
			return nil
		case ev := <-c.lobby.Events():
			c.printEvent(ev)
			c.prompt()
		case line := <-lines:
			err := c.Execute(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(c.out, "error: %v\n", err)
			}
			c.prompt()
		}
	}
}

func (c *Console) prompt() {
	fmt.Fprint(c.out, "> ")
}

// Execute runs one input line. Blank lines are ignored.
//
// Postcondition: Returns nil on success, a user-facing error, or errQuit for "quit".
func (c *Console) Execute(ctx context.Context, line string) error {
	parsed := Parse(line)
	if parsed.Command == "" {
		return nil
	}
	cmd, ok := c.registry.Resolve(parsed.Command)
	if !ok {
		return fmt.Errorf("unknown command %q; type \"help\"", parsed.Command)
	}
	c.logger.Debug("console command", zap.String("command", cmd.Name), zap.Strings("args", parsed.Args))

	switch cmd.Handler {
	case HandlerCreate:
		r, err := c.lobby.CreateRoom(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "hosting room %s\n", r.Token)
	case HandlerJoin:
		if len(parsed.Args) != 1 {
			return usageError(cmd)
		}
		token, err := c.resolveToken(parsed.Args[0])
		if err != nil {
			return err
		}
		if err := c.lobby.JoinRoom(ctx, token); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "join requested for room %s\n", token)
	case HandlerReady:
		ready, err := c.lobby.ToggleReady(ctx)
		if err != nil {
			return err
		}
		if ready {
			fmt.Fprintln(c.out, "you are ready")
		} else {
			fmt.Fprintln(c.out, "you are not ready")
		}
	case HandlerLeave:
		if err := c.lobby.LeaveRoom(ctx); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "left")
	case HandlerStart:
		if err := c.lobby.StartGame(ctx); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "start sent")
	case HandlerScore:
		if len(parsed.Args) != 2 {
			return usageError(cmd)
		}
		score, err := strconv.ParseInt(parsed.Args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("score must be an integer: %w", err)
		}
		moves, err := strconv.ParseInt(parsed.Args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("moves_left must be an integer: %w", err)
		}
		return c.lobby.RelayMatchTelemetry(ctx, score, moves)
	case HandlerResult:
		if len(parsed.Args) != 1 {
			return usageError(cmd)
		}
		var win bool
		switch strings.ToLower(parsed.Args[0]) {
		case "win", "won":
			win = true
		case "lose", "lost":
		default:
			return usageError(cmd)
		}
		return c.lobby.ReportResult(ctx, win)
	case HandlerStatus:
		return writeYAML(c.out, newStatusView(c.lobby.Snapshot()))
	case HandlerPlayers:
		return writeYAML(c.out, newPlayersView(c.lobby.Snapshot()))
	case HandlerRooms:
		return writeYAML(c.out, newRoomsView(c.lobby.Snapshot()))
	case HandlerHelp:
		c.printHelp()
	case HandlerQuit:
		return errQuit
	default:
		return fmt.Errorf("command %q has no handler", cmd.Name)
	}
	return nil
}

// resolveToken expands a unique prefix of a known room token.
func (c *Console) resolveToken(prefix string) (string, error) {
	var matches []string
	for _, r := range c.lobby.Snapshot().Rooms {
		if r.Token == prefix {
			return prefix, nil
		}
		if strings.HasPrefix(r.Token, prefix) {
			matches = append(matches, r.Token)
		}
	}
	switch len(matches) {
	case 0:
		// Unknown tokens are refused by the lobby itself.
		return prefix, nil
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("token prefix %q is ambiguous (%d rooms)", prefix, len(matches))
	}
}

func (c *Console) printHelp() {
	for _, cmd := range c.registry.Commands() {
		line := fmt.Sprintf("  %-28s %s", cmd.Usage, cmd.Help)
		if len(cmd.Aliases) > 0 {
			line += fmt.Sprintf(" (aliases: %s)", strings.Join(cmd.Aliases, ", "))
		}
		fmt.Fprintln(c.out, line)
	}
}

func (c *Console) printEvent(ev lobby.Event) {
	fmt.Fprintln(c.out)
	switch ev.Kind {
	case lobby.EventMatchStarted:
		fmt.Fprintf(c.out, "* match started in room %s\n", ev.Token)
	case lobby.EventOpponentProgress:
		fmt.Fprintf(c.out, "* opponent score %d, %d moves left\n", ev.Score, ev.MovesLeft)
	case lobby.EventOpponentResult:
		outcome := "lost"
		if ev.IsWinner {
			outcome = "won"
		}
		fmt.Fprintf(c.out, "* opponent %s\n", outcome)
	case lobby.EventRoomClosed:
		fmt.Fprintf(c.out, "* room %s closed\n", ev.Token)
	}
}

func usageError(cmd *Command) error {
	return fmt.Errorf("usage: %s", cmd.Usage)
}
