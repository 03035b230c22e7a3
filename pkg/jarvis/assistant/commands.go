package assistant

import (
	"strings"
)

// Command is one of the chat commands the assistant recognizes:
//
//	/help                  - Show available commands
//	/start                 - Start a new conversation (clears the transcript)
//	/addinterest <text>    - Append an interest to the profile
//	/addgoal <text>        - Append a goal to the profile
type Command string

const (
	CmdHelp        Command = "help"
	CmdStart       Command = "start"
	CmdAddInterest Command = "addinterest"
	CmdAddGoal     Command = "addgoal"
)

// Replies. These are user-facing and German, like the rest of the bot.
const (
	helpHeader         = "Verfügbare Befehle:"
	replyStarted       = "Neues Gespräch gestartet. Wie kann ich Ihnen helfen?"
	replyInterestAdded = "Interesse hinzugefügt."
	replyGoalAdded     = "Ziel hinzugefügt."
	replyUnauthorized  = "Sie sind nicht berechtigt, diesen Bot zu verwenden."
	usageAddInterest   = "Bitte geben Sie ein Interesse an, z. B. /addinterest Musik"
	usageAddGoal       = "Bitte geben Sie ein Ziel an, z. B. /addgoal Spanisch lernen"
)

// CommandInfo describes a command for help output and transport menus.
type CommandInfo struct {
	Command     Command
	Description string
}

// Commands lists the recognized commands in help order.
var Commands = []CommandInfo{
	{CmdHelp, "Zeigt diese Nachricht an."},
	{CmdStart, "Startet ein neues Gespräch."},
	{CmdAddInterest, "Fügt ein neues Interesse hinzu."},
	{CmdAddGoal, "Fügt ein neues Ziel hinzu."},
}

// HelpText is the static reply to /help.
func HelpText() string {
	var b strings.Builder
	b.WriteString(helpHeader)
	b.WriteString("\n\n")
	for i, c := range Commands {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("/" + string(c.Command) + " — " + c.Description)
	}
	return b.String()
}

// ParseCommand recognizes a command at the start of text. Matching is
// case-insensitive and tolerates a "@botname" suffix. Unknown slash words
// are not commands, so callers treat them as ordinary messages.
func ParseCommand(text string) (Command, string, bool) {
	content := strings.TrimSpace(text)
	if !strings.HasPrefix(content, "/") {
		return "", "", false
	}

	word, rest, _ := strings.Cut(content, " ")
	if i := strings.IndexAny(word, "\n\t"); i >= 0 {
		rest = word[i:] + " " + rest
		word = word[:i]
	}

	name := strings.ToLower(strings.TrimPrefix(word, "/"))
	if at := strings.Index(name, "@"); at >= 0 {
		name = name[:at]
	}

	switch cmd := Command(name); cmd {
	case CmdHelp, CmdStart, CmdAddInterest, CmdAddGoal:
		return cmd, strings.TrimSpace(rest), true
	default:
		return "", "", false
	}
}
