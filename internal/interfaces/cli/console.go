package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/ag3nt-run/ag3nt/internal/domain/artifact"
	"github.com/ag3nt-run/ag3nt/internal/domain/goal"
	"github.com/ag3nt-run/ag3nt/internal/domain/snapshot"
)

// ConsoleConfig carries the live collaborators the interactive console reads
// from, plus the display hints shown in its banner.
type ConsoleConfig struct {
	Goals      *goal.Manager
	Artifacts  *artifact.Store
	Snapshots  *snapshot.Registry
	Workspace  string
	ProjectLng string
}

// RunConsole drives a minimal read-eval-print loop over in reading commands
// and out writing responses. It never calls an LLM — it's an operator
// console over the running daemon's state, not a chat client.
func RunConsole(cfg ConsoleConfig, in io.Reader, out io.Writer) error {
	goalCount := 0
	if cfg.Goals != nil {
		goalCount = len(cfg.Goals.ListGoals())
	}
	fmt.Fprint(out, RenderBanner(BannerInfo{
		Goals:      goalCount,
		Workspace:  cfg.Workspace,
		ProjectLng: cfg.ProjectLng,
	}, 80))

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\n> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		cmd := ParseSlashCommand(line)
		if cmd == nil {
			fmt.Fprintln(out, "this console only understands /slash commands — try /help")
			continue
		}

		switch cmd.Name {
		case "goals":
			fmt.Fprintln(out, cfg.renderGoals())
			continue
		case "artifacts":
			fmt.Fprintln(out, cfg.renderArtifacts())
			continue
		case "snapshots":
			fmt.Fprintln(out, cfg.renderSnapshots())
			continue
		}

		result := ExecuteCommand(cmd)
		if result.IsQuit {
			return nil
		}
		fmt.Fprintln(out, result.Output)
	}
}

func (cfg ConsoleConfig) renderGoals() string {
	if cfg.Goals == nil {
		return "goal manager not wired"
	}
	goals := cfg.Goals.ListGoals()
	if len(goals) == 0 {
		return "no goals registered"
	}
	var sb strings.Builder
	for _, g := range goals {
		state := "enabled"
		if !g.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(&sb, "  %-24s %-10s risk=%s failures=%d\n", g.ID, state, g.RiskLevel, g.FailureCount)
	}
	return sb.String()
}

func (cfg ConsoleConfig) renderArtifacts() string {
	if cfg.Artifacts == nil {
		return "artifact store not wired"
	}
	list, err := cfg.Artifacts.ListArtifacts(artifact.ListFilter{})
	if err != nil {
		return fmt.Sprintf("error listing artifacts: %v", err)
	}
	if len(list) == 0 {
		return "no artifacts recorded"
	}
	var sb strings.Builder
	for _, a := range list {
		fmt.Fprintf(&sb, "  %-24s %-16s %d bytes\n", a.ArtifactID, a.ToolName, a.SizeBytes)
	}
	return sb.String()
}

func (cfg ConsoleConfig) renderSnapshots() string {
	if cfg.Snapshots == nil {
		return "snapshot registry not wired"
	}
	mgr, err := cfg.Snapshots.Get(cfg.Workspace)
	if err != nil {
		return fmt.Sprintf("error opening snapshot manager: %v", err)
	}
	list := mgr.ListSnapshots(20)
	if len(list) == 0 {
		return "no snapshots recorded"
	}
	var sb strings.Builder
	for _, s := range list {
		fmt.Fprintf(&sb, "  %s  %s  %d files changed\n", s.TreeHash[:12], s.Label, len(s.FilesChanged))
	}
	return sb.String()
}
