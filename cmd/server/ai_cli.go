package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/irfndi/tradepilot/internal/config"
	"github.com/irfndi/tradepilot/internal/logging"
	"github.com/irfndi/tradepilot/internal/middleware"
	"github.com/irfndi/tradepilot/internal/models"
	"github.com/irfndi/tradepilot/internal/services/ai/tools"
	"github.com/irfndi/tradepilot/internal/storage"
)

func runAICLI(args []string) error {
	if len(args) == 0 {
		printAIUsage(os.Stdout)
		return fmt.Errorf("missing command")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	a, err := newApp(ctx, cfg, logging.NewStandardLogger("warn", cfg.Environment))
	if err != nil {
		return err
	}
	defer a.Close()

	command, rest := args[0], args[1:]
	switch command {
	case "tools":
		return listTools(os.Stdout, a.hub)
	case "run-tool":
		return runTool(ctx, os.Stdout, a.hub, rest)
	case "thresholds":
		return showThresholds(ctx, os.Stdout, a, rest)
	case "analyze":
		if len(rest) == 0 {
			return fmt.Errorf("missing opportunity id")
		}
		opp, err := a.opportunities.Analyze(ctx, rest[0])
		if opp != nil {
			if perr := printJSON(os.Stdout, opp); perr != nil {
				return perr
			}
		}
		return err
	default:
		printAIUsage(os.Stdout)
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printAIUsage(w io.Writer) {
	fmt.Fprintln(w, "tradepilot AI CLI")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: tradepilot ai <command> [arguments]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  tools                         List registered analysis tools")
	fmt.Fprintln(w, "  run-tool <name> [key=value]   Execute one tool and print its result")
	fmt.Fprintln(w, "  thresholds [profile-id]       Show the paper/real confidence thresholds")
	fmt.Fprintln(w, "  analyze <opportunity-id>      Analyse a NEW opportunity and apply the decision")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Examples:")
	fmt.Fprintln(w, "  tradepilot ai run-tool technical_indicators symbol=BTCUSDT")
	fmt.Fprintln(w, "  tradepilot ai thresholds conservative")
}

type toolLister interface {
	ListTools() []tools.ToolDescriptor
}

func listTools(out io.Writer, hub toolLister) error {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "NAME\tPROVIDER\tDESCRIPTION")
	for _, t := range hub.ListTools() {
		fmt.Fprintf(w, "%s\t%s\t%s\n", t.Name, t.Provider, truncate(t.Description, 60))
	}
	return w.Flush()
}

func runTool(ctx context.Context, out io.Writer, hub *tools.Hub, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing tool name")
	}
	params, err := parseParams(args[1:])
	if err != nil {
		return err
	}
	result := hub.Execute(ctx, args[0], params)
	if err := printJSON(out, result); err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("tool %s failed", args[0])
	}
	return nil
}

func showThresholds(ctx context.Context, out io.Writer, a *app, args []string) error {
	id := a.cfg.AI.DefaultProfileID
	if len(args) > 0 {
		id = args[0]
	}
	var profile *models.AIProfile
	if id != "" {
		p, err := a.repo.GetAIProfile(ctx, id)
		switch {
		case err == nil:
			profile = p
		case storage.IsNotFound(err):
			fmt.Fprintf(out, "profile %q not found, showing defaults\n", id)
		default:
			return err
		}
	}
	paper, live := a.orchestrator.ResolveThresholds(profile)
	fmt.Fprintf(out, "paper: %.2f\nreal:  %.2f\n", paper, live)
	return nil
}

// parseParams turns key=value pairs into tool parameters.
func parseParams(args []string) (map[string]any, error) {
	params := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected key=value", arg)
		}
		params[key] = value
	}
	return params, nil
}

// runIssueToken prints a bearer token for a user id. There is no login
// endpoint; operators mint tokens with the configured secret.
func runIssueToken(args []string) error {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return fmt.Errorf("usage: tradepilot token <user-id>")
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	auth, err := middleware.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}
	token, expires, err := auth.IssueToken(args[0])
	if err != nil {
		return err
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", expires.Format(time.RFC3339))
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return s[:maxLen-3] + "..."
}
