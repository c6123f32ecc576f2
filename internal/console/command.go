// Package console provides the line-oriented operator console that drives
// the lobby: the command registry, the line parser, and the read loop.
package console

import (
	"fmt"
	"sort"
	"strings"
)

// Handler identifiers mapping console commands to lobby operations.
const (
	HandlerCreate  = "create"
	HandlerJoin    = "join"
	HandlerReady   = "ready"
	HandlerLeave   = "leave"
	HandlerStart   = "start"
	HandlerScore   = "score"
	HandlerResult  = "result"
	HandlerStatus  = "status"
	HandlerPlayers = "players"
	HandlerRooms   = "rooms"
	HandlerHelp    = "help"
	HandlerQuit    = "quit"
)

// Command defines an operator-invocable console command.
type Command struct {
	// Name is the canonical command name.
	Name string
	// Aliases are alternate names for this command.
	Aliases []string
	// Usage shows the argument shape, e.g. "join <token>".
	Usage string
	// Help is the short help text.
	Help string
	// Handler maps to the lobby operation.
	Handler string
}

// BuiltinCommands returns every console command.
func BuiltinCommands() []Command {
	return []Command{
		{Name: "create", Aliases: []string{"host", "new"}, Usage: "create", Help: "Host a new room", Handler: HandlerCreate},
		{Name: "join", Aliases: []string{"j"}, Usage: "join <token>", Help: "Ask a room's host to seat you (a unique token prefix is enough)", Handler: HandlerJoin},
		{Name: "ready", Aliases: []string{"r"}, Usage: "ready", Help: "Toggle your ready flag", Handler: HandlerReady},
		{Name: "leave", Aliases: []string{"l"}, Usage: "leave", Help: "Leave your room or abandon a pending join", Handler: HandlerLeave},
		{Name: "start", Aliases: nil, Usage: "start", Help: "Start the match (host, both ready)", Handler: HandlerStart},
		{Name: "score", Aliases: nil, Usage: "score <score> <moves_left>", Help: "Broadcast your match progress", Handler: HandlerScore},
		{Name: "result", Aliases: nil, Usage: "result win|lose", Help: "Broadcast your match result", Handler: HandlerResult},
		{Name: "status", Aliases: []string{"st"}, Usage: "status", Help: "Show your session and room", Handler: HandlerStatus},
		{Name: "players", Aliases: []string{"who"}, Usage: "players", Help: "List peers seen online", Handler: HandlerPlayers},
		{Name: "rooms", Aliases: []string{"ls"}, Usage: "rooms", Help: "List known rooms", Handler: HandlerRooms},
		{Name: "help", Aliases: []string{"?"}, Usage: "help", Help: "Show this help", Handler: HandlerHelp},
		{Name: "quit", Aliases: []string{"exit", "q"}, Usage: "quit", Help: "Leave the lobby and exit", Handler: HandlerQuit},
	}
}

// Registry maps command names and aliases to Command definitions.
type Registry struct {
	commands map[string]*Command // canonical name → command
	aliases  map[string]string   // alias → canonical name
}

// NewRegistry creates a Registry populated with the given commands.
//
// Precondition: No two commands may share a canonical name or alias.
// Postcondition: Returns a Registry or an error on name/alias collisions.
func NewRegistry(cmds []Command) (*Registry, error) {
	r := &Registry{
		commands: make(map[string]*Command, len(cmds)),
		aliases:  make(map[string]string),
	}

	for i := range cmds {
		cmd := &cmds[i]
		if _, exists := r.commands[cmd.Name]; exists {
			return nil, fmt.Errorf("duplicate command name: %q", cmd.Name)
		}
		if _, exists := r.aliases[cmd.Name]; exists {
			return nil, fmt.Errorf("command name %q conflicts with an existing alias", cmd.Name)
		}
		r.commands[cmd.Name] = cmd

		for _, alias := range cmd.Aliases {
			if _, exists := r.commands[alias]; exists {
				return nil, fmt.Errorf("alias %q conflicts with a command name", alias)
			}
			if existing, exists := r.aliases[alias]; exists {
				return nil, fmt.Errorf("duplicate alias %q: used by %q and %q", alias, existing, cmd.Name)
			}
			r.aliases[alias] = cmd.Name
		}
	}

	return r, nil
}

// DefaultRegistry creates a Registry with all built-in commands.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(BuiltinCommands())
	if err != nil {
		panic(fmt.Sprintf("building default registry: %v", err))
	}
	return r
}

// Resolve looks up a command by name or alias.
//
// Postcondition: Returns (command, true) if found, or (nil, false).
func (r *Registry) Resolve(input string) (*Command, bool) {
	if cmd, ok := r.commands[input]; ok {
		return cmd, true
	}
	if canonical, ok := r.aliases[input]; ok {
		return r.commands[canonical], true
	}
	return nil, false
}

// Commands returns all registered commands sorted by name.
func (r *Registry) Commands() []*Command {
	result := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		result = append(result, cmd)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// ParseResult holds the parsed command name and arguments from a text line.
type ParseResult struct {
	// Command is the first word of the input, lowercased.
	Command string
	// Args are the remaining words after the command.
	Args []string
}

// Parse splits a text line into a command and arguments.
//
// Postcondition: Returns a ParseResult. If line is blank, Command is empty.
func Parse(line string) ParseResult {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ParseResult{}
	}
	res := ParseResult{Command: strings.ToLower(fields[0])}
	if len(fields) > 1 {
		res.Args = fields[1:]
	}
	return res
}
