package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"dice-recorder/recorder"
	"dice-recorder/report"
)

var timeNow = time.Now

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newFetchCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Run one ingestion cycle now and print its result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), cmd, opts, true)
			if err != nil {
				return err
			}
			defer a.Close()

			runner, err := a.newRunner(nil)
			if err != nil {
				return err
			}
			res := runner.RunCycle(cmd.Context())
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if res.State != recorder.CycleSuccess {
				return fmt.Errorf("cycle given up after %d attempts: %s", res.Attempts, res.LastError)
			}
			return nil
		},
	}
}

func newStatsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print statistics over the stored sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), cmd, opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := report.New(a.store).Statistics(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
}

type exportOptions struct {
	*rootOptions
	Format string
	Chunks bool
	OutDir string
}

func newExportCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &exportOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored sessions to a file",
		Long: `Export every stored session, or a zip with one file per contiguous run.

Example:
  dice-recorder export --format json --out ./exports
  dice-recorder export --chunks --format txt --out -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Format, "format", "txt", "export format (txt|json)")
	cmd.Flags().BoolVar(&opts.Chunks, "chunks", false, "write a zip with one data<N> file per contiguous run")
	cmd.Flags().StringVar(&opts.OutDir, "out", ".", "output directory, or - for stdout")

	return cmd
}

func runExport(cmd *cobra.Command, opts *exportOptions) error {
	format, err := report.ParseFormat(opts.Format)
	if err != nil {
		return err
	}
	a, err := openApp(cmd.Context(), cmd, opts.rootOptions, false)
	if err != nil {
		return err
	}
	defer a.Close()

	r := report.New(a.store)
	write := func(w io.Writer) error { return r.WriteFull(cmd.Context(), w, format) }
	name := report.Filename(format, timeNow())
	if opts.Chunks {
		write = func(w io.Writer) error { return r.WriteChunkArchive(cmd.Context(), w, format) }
		name = report.ArchiveFilename(format, timeNow())
	}

	if opts.OutDir == "-" {
		return write(cmd.OutOrStdout())
	}
	path, err := report.WriteFileToDir(opts.OutDir, name, write)
	if err != nil {
		return err
	}
	a.log.Info("export written", "path", path)
	_, err = fmt.Fprintln(cmd.OutOrStdout(), path)
	return err
}

func newLookupCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <id>",
		Short: "Print one stored session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), cmd, opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			row, ok, err := a.store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s", recorder.ErrNotFound, args[0])
			}
			return printJSON(cmd.OutOrStdout(), report.View(row))
		},
	}
}

func newDeleteCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one stored session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), cmd, opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			ok, err := a.store.DeleteOne(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s", recorder.ErrNotFound, args[0])
			}
			a.log.Info("session deleted", "id", args[0])
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "deleted 1")
			return err
		},
	}
}

func newDeleteRangeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-range <start> <end>",
		Short: "Delete every stored session between two ids, inclusive",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), cmd, opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.store.DeleteRange(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			a.log.Info("session range deleted", "start", args[0], "end", args[1], "deleted", n)
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %d\n", n)
			return err
		},
	}
}
