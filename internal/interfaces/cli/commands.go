package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// SlashCommand represents a parsed slash command.
type SlashCommand struct {
	Name string
	Args []string
}

// ParseSlashCommand parses a slash command from console input.
func ParseSlashCommand(input string) *SlashCommand {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return nil
	}

	parts := strings.Fields(input)
	name := strings.TrimPrefix(parts[0], "/")
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}

	return &SlashCommand{Name: name, Args: args}
}

// CommandResult is the output of executing a slash command.
type CommandResult struct {
	Output string
	IsQuit bool
}

// ExecuteCommand handles the console's built-in slash commands. Goal,
// artifact, and snapshot listing are handled by the caller since they need
// live collaborators this package doesn't hold.
func ExecuteCommand(cmd *SlashCommand) CommandResult {
	switch cmd.Name {
	case "help", "h":
		return CommandResult{Output: renderHelp()}
	case "exit", "quit", "q":
		return CommandResult{IsQuit: true}
	case "version":
		return CommandResult{Output: fmt.Sprintf("ag3ntctl v%s", appVersion)}
	default:
		return CommandResult{Output: fmt.Sprintf("unknown command: /%s  (try /help)", cmd.Name)}
	}
}

func renderHelp() string {
	titleStyle := lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	cmdStyle := lipgloss.NewStyle().Foreground(colorGreen)
	descStyle := lipgloss.NewStyle().Foreground(colorGray)

	cmds := []struct {
		name string
		desc string
	}{
		{"/goals", "list registered goals and their status"},
		{"/artifacts", "list recent tool-output artifacts"},
		{"/snapshots", "list recent workspace snapshots"},
		{"/version", "print version"},
		{"/exit", "quit"},
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("◇ Available commands"))
	sb.WriteString("\n\n")

	for _, c := range cmds {
		sb.WriteString(fmt.Sprintf("  %s  %s\n",
			cmdStyle.Render(fmt.Sprintf("%-14s", c.name)),
			descStyle.Render(c.desc),
		))
	}

	return sb.String()
}
