package args

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/cli/go-gh/v2/pkg/term"
	"github.com/markis/seqthink/internal/config"
	"github.com/spf13/cobra"
)

// Action is what the invocation asked for.
type Action int

const (
	// ActionNone means cobra already handled the invocation, as with --help.
	ActionNone Action = iota
	ActionAsk
	ActionHistoryList
	ActionHistoryShow
	ActionHistoryDelete
	ActionHistoryClear
	ActionModels
	ActionCacheClear
)

// Arguments represents the command-line arguments structure.
type Arguments struct {
	Action       Action
	Question     string
	Context      string
	Model        string
	Command      string
	ID           string
	UsePlainText bool
	Batch        bool
	NoCache      bool
	Strict       bool
}

// ParseArgs parses argv and piped stdin, returning an Arguments struct.
// Predefined prompts from the configuration become subcommands. stdin is
// nil when nothing was piped in.
func ParseArgs(cfg config.Config, argv []string, stdin io.Reader) (Arguments, error) {
	args := Arguments{}
	var contextFile string
	if argv == nil {
		argv = []string{}
	}

	rootCmd := &cobra.Command{
		Use:   "seqthink [flags] [question]",
		Short: "Ask a local model a programming question and watch it think step by step",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, cmdArgs []string) error {
			args.Action = ActionAsk
			if len(cmdArgs) > 0 {
				args.Question = cmdArgs[0]
			}
			return nil
		},
		SilenceErrors: true, // We'll handle error reporting
		SilenceUsage:  true, // We'll handle usage display
	}
	rootCmd.SetArgs(argv)

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&args.Model, "model", cfg.Model, "The model to use")
	flags.BoolVar(&args.UsePlainText, "plain", shouldUsePlainText(cfg), "Disable markdown rendering")
	flags.StringVar(&contextFile, "context", "", "File whose contents are sent as code context")
	flags.BoolVar(&args.Batch, "batch", false, "Wait for the complete answer instead of streaming")
	flags.BoolVar(&args.NoCache, "no-cache", !cfg.Cache.Enabled, "Skip the offline cache")
	flags.BoolVar(&args.Strict, "strict", cfg.StrictMarkers, "Only accept stage headings in canonical order")

	// Add predefined commands
	names := make([]string, 0, len(cfg.Prompts))
	for name := range cfg.Prompts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cmdPrompt := cfg.Prompts[name]
		rootCmd.AddCommand(&cobra.Command{
			Use:   name + " [input]",
			Short: summarizePrompt(cmdPrompt.Prompt),
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, cmdArgs []string) error {
				args.Action = ActionAsk
				args.Command = name
				args.Question = cmdPrompt.Prompt
				if len(cmdArgs) > 0 {
					args.Question = cmdPrompt.Prompt + "\n\n" + cmdArgs[0]
				}
				if cmdPrompt.Model != "" && !cmd.Flags().Changed("model") {
					args.Model = cmdPrompt.Model
				}
				return nil
			},
		})
	}

	rootCmd.AddCommand(historyCommand(&args), modelsCommand(&args), cacheCommand(&args))

	// Execute the command
	if err := rootCmd.Execute(); err != nil {
		return Arguments{}, err
	}
	if args.Action != ActionAsk {
		return args, nil
	}

	codeContext, err := readContext(contextFile, stdin)
	if err != nil {
		return Arguments{}, err
	}
	args.Context = codeContext

	if strings.TrimSpace(args.Question) == "" {
		return Arguments{}, errors.New("no question provided")
	}
	return args, nil
}

func historyCommand(args *Arguments) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse previously answered questions",
	}
	set := func(action Action) func(*cobra.Command, []string) error {
		return func(_ *cobra.Command, cmdArgs []string) error {
			args.Action = action
			if len(cmdArgs) > 0 {
				args.ID = cmdArgs[0]
			}
			return nil
		}
	}
	cmd.AddCommand(
		&cobra.Command{Use: "list", Short: "List answered questions, newest first", Args: cobra.NoArgs, RunE: set(ActionHistoryList)},
		&cobra.Command{Use: "show <id>", Short: "Print a stored answer", Args: cobra.ExactArgs(1), RunE: set(ActionHistoryShow)},
		&cobra.Command{Use: "delete <id>", Short: "Delete a stored answer", Args: cobra.ExactArgs(1), RunE: set(ActionHistoryDelete)},
		&cobra.Command{Use: "clear", Short: "Delete every stored answer", Args: cobra.NoArgs, RunE: set(ActionHistoryClear)},
	)
	return cmd
}

func modelsCommand(args *Arguments) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models installed on the backend",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			args.Action = ActionModels
			return nil
		},
	}
}

func cacheCommand(args *Arguments) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the offline answer cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete every cached answer",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			args.Action = ActionCacheClear
			return nil
		},
	})
	return cmd
}

// readContext joins the --context file and piped stdin.
func readContext(path string, stdin io.Reader) (string, error) {
	var parts []string
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read context file: %w", err)
		}
		parts = append(parts, strings.TrimRight(string(data), "\n"))
	}
	if stdin != nil {
		scanner := bufio.NewScanner(stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024) // 1MB max buffer
		var buf strings.Builder
		for scanner.Scan() {
			buf.WriteString(scanner.Text())
			buf.WriteByte('\n')
		}
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		if piped := strings.TrimRight(buf.String(), "\n"); strings.TrimSpace(piped) != "" {
			parts = append(parts, piped)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

// PipedStdin returns os.Stdin when input is being piped in, otherwise nil.
func PipedStdin() io.Reader {
	if term.IsTerminal(os.Stdin) {
		return nil
	}
	if stat, err := os.Stdin.Stat(); err == nil && (stat.Mode()&os.ModeCharDevice) == 0 {
		return os.Stdin
	}
	return nil
}

// shouldUsePlainText determines if plain text output should be used based on environment and terminal settings.
func shouldUsePlainText(cfg config.Config) bool {
	// Check if the rendering format is set to plain
	if cfg.Render.Format == "plain" {
		return true
	}

	// Check if output is being redirected
	if !term.FromEnv().IsTerminalOutput() {
		return true
	}

	// Check for NO_COLOR environment variable
	if _, exists := os.LookupEnv("NO_COLOR"); exists {
		return true
	}

	// Check for TERM=dumb
	if termEnv := os.Getenv("TERM"); termEnv == "dumb" {
		return true
	}

	return false
}

func summarizePrompt(prompt string) string {
	// Trim and limit the length of the prompt summary
	summary := strings.TrimSpace(prompt)
	if len(summary) > 60 {
		summary = summary[:57] + "..."
	}
	return summary
}
