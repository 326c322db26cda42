package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

const (
	replPrompt     = "ehimanual> "
	replContinue   = "      ...> "
	replHistoryLog = "query_history"
)

func runQueryREPL(cmd *cobra.Command, cmdCtx *CommandContext, sess *session, opts *QueryOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	historyFile := filepath.Join(filepath.Dir(cmdCtx.Cfg.StatePath), replHistoryLog)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          replPrompt,
		HistoryFile:     historyFile,
		AutoComplete:    newTableCompleter(ctx, sess),
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize REPL: %w", err)
	}
	defer func() { _ = rl.Close() }()

	_, _ = fmt.Fprintf(out, "ehimanual query REPL (dataset: %s)\n", sess.url)
	_, _ = fmt.Fprintln(out, "Type .help for commands, .quit to exit")
	_, _ = fmt.Fprintln(out)

	var buf strings.Builder
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			buf.Reset()
			rl.SetPrompt(replPrompt)
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if buf.Len() == 0 && strings.HasPrefix(line, ".") {
			if quit := handleDotCommand(ctx, cmd, sess, line, opts); quit {
				break
			}
			continue
		}

		// Accumulate multi-line SQL until semicolon
		buf.WriteString(line)
		if !strings.HasSuffix(line, ";") {
			buf.WriteString("\n")
			rl.SetPrompt(replContinue)
			continue
		}
		rl.SetPrompt(replPrompt)

		text := strings.TrimSuffix(buf.String(), ";")
		buf.Reset()

		res := sess.rt.Execute(ctx, text, opts.limit(sess.rt))
		if err := renderResult(out, res, opts.Format); err != nil {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		}
		_, _ = fmt.Fprintln(out)
	}

	return nil
}

// handleDotCommand runs a REPL meta command and reports whether to quit.
func handleDotCommand(ctx context.Context, cmd *cobra.Command, sess *session, line string, opts *QueryOptions) bool {
	parts := strings.Fields(line)
	command := strings.ToLower(parts[0])
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

	switch command {
	case ".quit", ".exit":
		return true

	case ".help":
		printREPLHelp(out)

	case ".tables":
		cat, err := sess.catalog(ctx)
		if err == nil {
			err = listTables(ctx, out, cat, opts.Format)
		}
		if err != nil {
			_, _ = fmt.Fprintf(errOut, "Error: %v\n", err)
		}

	case ".schema":
		if len(parts) < 2 {
			_, _ = fmt.Fprintln(errOut, "Usage: .schema <table>")
			return false
		}
		cat, err := sess.catalog(ctx)
		if err == nil {
			err = showSchema(ctx, out, cat, parts[1], opts.Format)
		}
		if err != nil {
			_, _ = fmt.Fprintf(errOut, "Error: %v\n", err)
		}

	case ".limit":
		if len(parts) < 2 {
			_, _ = fmt.Fprintf(out, "limit: %d\n", opts.limit(sess.rt))
			return false
		}
		var n int
		if _, err := fmt.Sscanf(parts[1], "%d", &n); err != nil || n < 0 {
			_, _ = fmt.Fprintln(errOut, "Usage: .limit <rows> (0 for all)")
			return false
		}
		opts.Limit = n

	case ".format":
		if len(parts) < 2 {
			_, _ = fmt.Fprintf(out, "format: %s\n", opts.Format)
			return false
		}
		opts.Format = parts[1]

	case ".clear":
		_, _ = fmt.Fprint(out, "\033[H\033[2J")

	default:
		_, _ = fmt.Fprintf(errOut, "Unknown command: %s (type .help for commands)\n", command)
	}
	return false
}

func printREPLHelp(w io.Writer) {
	help := `
Commands:
  .help           Show this help message
  .tables         List all tables
  .schema <name>  Show the columns of a table
  .limit [rows]   Show or set the row limit (0 for all)
  .format [name]  Show or set the output format (table, json, csv, md)
  .clear          Clear the screen
  .quit / .exit   Exit the REPL

Tips:
  - SQL statements must end with a semicolon (;)
  - Use arrow keys to navigate history
  - Tab completion works for table names
`
	_, _ = fmt.Fprintln(w, help)
}

// newTableCompleter creates a readline completer for table names and
// dot-commands. A dataset that fails to load only loses table completion.
func newTableCompleter(ctx context.Context, sess *session) *readline.PrefixCompleter {
	var items []readline.PrefixCompleterInterface
	if cat, err := sess.catalog(ctx); err == nil {
		if names, err := cat.ListTables(ctx); err == nil {
			for _, name := range names {
				items = append(items, readline.PcItem(name))
			}
		}
	}

	items = append(items,
		readline.PcItem(".help"),
		readline.PcItem(".tables"),
		readline.PcItem(".schema"),
		readline.PcItem(".limit"),
		readline.PcItem(".format"),
		readline.PcItem(".clear"),
		readline.PcItem(".quit"),
		readline.PcItem(".exit"),
	)

	return readline.NewPrefixCompleter(items...)
}
