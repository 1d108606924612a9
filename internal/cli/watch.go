package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

// NewWatchCmd builds the `watch` command: re-run `run` whenever input
// (or a custom grammar file) changes, debounced the same way the
// gateway's live-preview watcher debounces file events.
func NewWatchCmd() *cobra.Command {
	opts := &RunOptions{InlineErrorModifer: "none", Encoding: "utf-8", EncodingErrors: "strict"}

	cmd := &cobra.Command{
		Use:   "watch <input> <output>",
		Short: "Re-preprocess input whenever it changes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunWatch(cmd, opts, args[0], args[1])
		},
	}

	cmd.Flags().IntVarP(&opts.ReadBlockSize, "read-block-size", "b", 10240, "reader block size in bytes")
	cmd.Flags().IntVarP(&opts.ReadBlockCount, "read-block-count", "c", 2, "number of blocks kept for rollback")
	cmd.Flags().BoolVar(&opts.NoContinuations, "no-continuations", false, "disable continuation tag matching")
	cmd.Flags().BoolVar(&opts.InlineErrors, "inline-errors", false, "route diagnostics into the output stream")
	cmd.Flags().StringVar(&opts.GrammarPath, "grammar", "", "custom grammar YAML file")

	return cmd
}

// RunWatch runs the preprocessor once up front, then again every time
// input or GrammarPath changes, until interrupted.
func RunWatch(cmd *cobra.Command, opts *RunOptions, input, output string) error {
	if input == "-" || output == "-" {
		return setupError(fmt.Errorf("watch does not support \"-\" stdio paths"))
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return setupError(fmt.Errorf("create watcher: %w", err))
	}
	defer w.Close()

	if err := w.Add(input); err != nil {
		return setupError(fmt.Errorf("watch input: %w", err))
	}
	if opts.GrammarPath != "" {
		if err := w.Add(opts.GrammarPath); err != nil {
			return setupError(fmt.Errorf("watch grammar: %w", err))
		}
	}

	render := func() {
		if err := RunPreprocess(cmd, opts, input, output); err != nil {
			fmt.Fprintf(os.Stderr, "pyp watch: %v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "pyp watch: wrote %s\n", output)
		}
	}
	render()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var debounce *time.Timer
	for {
		select {
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(100*time.Millisecond, render)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "pyp watch: watcher error: %v\n", err)

		case <-sigCh:
			return nil
		}
	}
}
