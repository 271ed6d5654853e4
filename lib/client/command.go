package client

import (
	"strings"
)

// Action is what a line of user input asks for.
type Action int

const (
	ActionNone Action = iota
	ActionLogin
	ActionJoin
	ActionPrivate
	ActionSay
	ActionQuit
)

// Command is a parsed line of user input.
type Command struct {
	Action Action
	// Target is the username for login and private messages, or the room
	// for join.
	Target string
	Text   string
}

// UsageError reports a command given with missing arguments. Its text is
// meant to be shown to the user as is.
type UsageError string

func (e UsageError) Error() string {
	return string(e)
}

const (
	loginUsage = UsageError("Usage: /login <username>")
	joinUsage  = UsageError("Usage: /join <room>")
	msgUsage   = UsageError("Usage: /msg <username> <message>")
)

// ParseCommand interprets one line of input. Blank lines yield ActionNone.
// Text that is not a recognised command is a message for the current room.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{Action: ActionNone}, nil
	}
	if strings.EqualFold(line, "/quit") {
		return Command{Action: ActionQuit}, nil
	}

	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch name {
	case "/login":
		if rest == "" {
			return Command{}, loginUsage
		}
		return Command{Action: ActionLogin, Target: rest}, nil
	case "/join":
		if rest == "" {
			return Command{}, joinUsage
		}
		return Command{Action: ActionJoin, Target: rest}, nil
	case "/msg", "/pm":
		fields := strings.Fields(rest)
		if len(fields) < 2 {
			return Command{}, msgUsage
		}
		target := fields[0]
		text := strings.TrimSpace(strings.TrimPrefix(rest, target))
		return Command{Action: ActionPrivate, Target: target, Text: text}, nil
	}
	return Command{Action: ActionSay, Text: line}, nil
}

// Execute performs cmd on c. ActionQuit closes the client.
func (c *Client) Execute(cmd Command) error {
	switch cmd.Action {
	case ActionLogin:
		return c.Login(cmd.Target)
	case ActionJoin:
		return c.Join(cmd.Target)
	case ActionPrivate:
		return c.Whisper(cmd.Target, cmd.Text)
	case ActionSay:
		return c.Say("", cmd.Text)
	case ActionQuit:
		return c.Close()
	}
	return nil
}
