package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"mediadup/internal/config"
	"mediadup/internal/scan"
)

type scanOptions struct {
	extensions   []string
	skipPatterns []string
	precision    bool
	noThrottle   bool
	workers      int
	csvPath      string
}

func newScanCmd() *cobra.Command {
	opts := &scanOptions{}

	cmd := &cobra.Command{
		Use:   "scan <folder> [folder...]",
		Short: "Scan folders for duplicate media files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, args, opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.extensions, "ext", nil,
		"file extensions to scan (default: common image and video types)")
	cmd.Flags().StringSliceVar(&opts.skipPatterns, "skip", nil,
		"glob patterns for folders to skip")
	cmd.Flags().BoolVar(&opts.precision, "precision", false,
		"verify duplicates with full-content hashes (slower)")
	cmd.Flags().BoolVar(&opts.noThrottle, "no-throttle", false,
		"disable disk throttling (faster, heavier I/O)")
	cmd.Flags().IntVar(&opts.workers, "workers", 0,
		"hash worker count (default: 2 throttled, 8 unthrottled)")
	cmd.Flags().StringVar(&opts.csvPath, "csv", "",
		"write results to a CSV file")

	return cmd
}

func runScan(cmd *cobra.Command, args []string, opts *scanOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var roots []string
	for _, arg := range args {
		root := config.ExpandPath(arg)
		info, err := os.Stat(root)
		if err != nil {
			return fmt.Errorf("cannot access %s: %w", root, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", root)
		}
		roots = append(roots, root)
	}

	extensions := opts.extensions
	if len(extensions) == 0 {
		extensions = config.DefaultExtensions
	}
	skipPatterns := opts.skipPatterns
	if len(skipPatterns) == 0 {
		skipPatterns = config.DefaultSkipPatterns
	}

	throttle := scan.DefaultThrottle
	throttle.Enabled = !opts.noThrottle
	if opts.workers > 0 {
		throttle.Workers = opts.workers
	}

	reporter := newProgressReporter()
	defer reporter.finish()

	walker := &scan.Walker{
		Roots:        roots,
		Extensions:   extensions,
		SkipPatterns: skipPatterns,
		Progress:     reporter.update,
	}
	walk, err := walker.Enumerate(ctx)
	if err != nil {
		return err
	}

	var paths []string
	for _, c := range walk.Candidates {
		paths = append(paths, c.Path)
	}

	session := scan.NewSession(paths, opts.precision)
	coordinator := &scan.Coordinator{
		Throttle: throttle,
		Progress: reporter.update,
	}
	result, err := coordinator.Run(ctx, session)
	if err != nil {
		return err
	}
	reporter.finish()

	groups := sortedGroups(result.Groups)

	if opts.csvPath != "" {
		if err := writeCSV(opts.csvPath, groups); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Results written to %s\n", opts.csvPath)
	}

	printSummary(cmd, groups, len(paths), walk.DirErrors, result.Failures)
	return nil
}

// progressReporter renders pipeline progress as a terminal progress bar. It
// is inert when stdout is not a terminal.
type progressReporter struct {
	isTTY bool
	bar   *progressbar.ProgressBar
	label string
}

func newProgressReporter() *progressReporter {
	return &progressReporter{
		isTTY: isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()),
	}
}

func (r *progressReporter) update(p scan.Progress) {
	if !r.isTTY || p.Total == 0 {
		return
	}
	if r.bar == nil || r.label != p.Label {
		r.finish()
		r.label = p.Label
		r.bar = progressbar.NewOptions64(p.Total,
			progressbar.OptionSetDescription(p.Label),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}
	r.bar.ChangeMax64(p.Total)
	r.bar.Set64(p.Done)
}

func (r *progressReporter) finish() {
	if r.bar != nil {
		r.bar.Finish()
		r.bar = nil
	}
}

// group is a digest group with its display metadata resolved.
type group struct {
	digest string
	files  []string
	size   int64
	wasted int64
}

// sortedGroups resolves sizes and orders groups by wasted bytes, largest
// first, so the most valuable cleanup targets print at the top.
func sortedGroups(byDigest map[string][]string) []group {
	var groups []group
	for digest, files := range byDigest {
		g := group{digest: digest, files: files}
		if info, err := os.Stat(files[0]); err == nil {
			g.size = info.Size()
			g.wasted = g.size * int64(len(files)-1)
		}
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].wasted != groups[j].wasted {
			return groups[i].wasted > groups[j].wasted
		}
		return groups[i].digest < groups[j].digest
	})
	return groups
}

func printSummary(cmd *cobra.Command, groups []group, filesScanned, dirErrors int, failures []scan.FileFailure) {
	out := cmd.OutOrStdout()

	if len(groups) == 0 {
		fmt.Fprintf(out, "No duplicates found (%d files scanned)\n", filesScanned)
		return
	}

	var totalWasted int64
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"#", "Files", "Size", "Wasted", "Checksum"})
	for i, g := range groups {
		totalWasted += g.wasted
		t.AppendRow(table.Row{
			i + 1,
			len(g.files),
			humanize.IBytes(uint64(g.size)),
			humanize.IBytes(uint64(g.wasted)),
			truncate(g.digest, 12),
		})
	}
	t.AppendFooter(table.Row{"", "", "", humanize.IBytes(uint64(totalWasted)), ""})
	t.SetStyle(table.StyleLight)
	t.Render()

	fmt.Fprintln(out)
	for i, g := range groups {
		fmt.Fprintf(out, "Group %d:\n", i+1)
		for _, f := range g.files {
			fmt.Fprintf(out, "  %s\n", f)
		}
	}

	fmt.Fprintf(out, "\n%d files scanned, %d duplicate groups, %s wasted\n",
		filesScanned, len(groups), humanize.IBytes(uint64(totalWasted)))
	if dirErrors > 0 {
		fmt.Fprintf(out, "%d folders could not be read\n", dirErrors)
	}
	if len(failures) > 0 {
		fmt.Fprintf(out, "%d files could not be hashed\n", len(failures))
	}
}

// writeCSV mirrors the web UI export format.
func writeCSV(path string, groups []group) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"file_name", "full_path", "size (bytes)", "file_type", "checksum", "disposition"}); err != nil {
		return err
	}
	for _, g := range groups {
		for _, file := range g.files {
			record := []string{
				filepath.Base(file),
				file,
				strconv.FormatInt(g.size, 10),
				filepath.Ext(file),
				g.digest,
				"",
			}
			if err := w.Write(record); err != nil {
				return err
			}
		}
	}
	w.Flush()
	return w.Error()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
