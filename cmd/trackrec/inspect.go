package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"example.com/radarwire/internal/common"
	"example.com/radarwire/internal/inspect"
	"example.com/radarwire/internal/record"
)

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect FILE|DIR...",
		Short: "Summarize recordings",
		Long:  "Reads every packet of each recording and prints its span, index and packet counts. Directories contribute their " + record.FileExt + " files.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workers, _ := cmd.Flags().GetInt("workers")
			asJSON, _ := cmd.Flags().GetBool("json")
			events, _ := cmd.Flags().GetBool("events")

			paths, err := common.RecordingFiles(args, record.FileExt)
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				return errors.New("no recordings found")
			}
			sums, err := record.ScanFiles(cmd.Context(), paths, workers, events)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(sums)
			}
			for i, s := range sums {
				if i > 0 {
					fmt.Fprintln(cmd.OutOrStdout())
				}
				printSummary(cmd.OutOrStdout(), s)
			}
			return nil
		},
	}
	cmd.Flags().Int("workers", 0, "recordings scanned in parallel (default: number of CPUs)")
	cmd.Flags().Bool("json", false, "print summaries as JSON")
	cmd.Flags().Bool("events", false, "append resync and truncation events to each recording's event log")
	return cmd
}

func printSummary(w io.Writer, s record.Summary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "File\t%s\n", s.Path)
	fmt.Fprintf(tw, "Size\t%s\n", common.FormatBytes(s.Size))
	fmt.Fprintf(tw, "SHA-256\t%s\n", s.SHA256)
	if s.SessionID != "" {
		fmt.Fprintf(tw, "Session\t%s\n", s.SessionID)
	}
	if s.Source != "" {
		fmt.Fprintf(tw, "Source\t%s\n", s.Source)
	}
	fmt.Fprintf(tw, "Span\t%s .. %s (%s)\n", s.Start.Format(time.RFC3339), s.End.Format(time.RFC3339), s.End.Sub(s.Start))
	fmt.Fprintf(tw, "Index\t%d entries, %ds resolution\n", s.TOCEntries, s.Resolution)
	fmt.Fprintf(tw, "Packets\t%d\n", s.Packets)
	fmt.Fprintf(tw, "Tracks\t%d (%d partial, %d failed)\n", s.Tracks, s.Partial, s.DecodeErrors)
	if s.Metrics.Resyncs > 0 {
		fmt.Fprintf(tw, "Resyncs\t%d, %s skipped\n", s.Metrics.Resyncs, common.FormatBytes(s.Metrics.Skipped))
	}
	if s.NextName != "" {
		fmt.Fprintf(tw, "Continues in\t%s\n", s.NextName)
	}
	tags := make([]string, 0, len(s.ByTag))
	for t := range s.ByTag {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	for _, t := range tags {
		fmt.Fprintf(tw, "  %s\t%d\n", t, s.ByTag[t])
	}
	tw.Flush()
}

func newSeekCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seek FILE",
		Short: "Print packets from a point in time",
		Long:  "Positions the reader through the table of contents at the first packet stamped at or after --time and prints packets as NDJSON.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			at, _ := cmd.Flags().GetString("time")
			count, _ := cmd.Flags().GetInt("count")
			decode, _ := cmd.Flags().GetBool("decode")
			t, err := parseTime(strings.TrimSpace(at))
			if err != nil {
				return err
			}

			r, err := record.Open(args[0])
			if err != nil {
				return err
			}
			defer r.Close()
			if err := r.SeekTime(uint32(t.Unix())); err != nil {
				if errors.Is(err, io.EOF) {
					return fmt.Errorf("no packet at or after %s", t.Format(time.RFC3339))
				}
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			opts := inspect.Options{Decode: decode}
			for n := 0; count <= 0 || n < count; n++ {
				p, err := r.Next()
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return err
				}
				if err := enc.Encode(inspect.Describe(p, opts)); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().String("time", "", "unix seconds or RFC 3339 time")
	cmd.Flags().Int("count", 10, "packets to print, 0 for all")
	cmd.Flags().Bool("decode", true, "decode track, ASTERIX and NET payloads")
	_ = cmd.MarkFlagRequired("time")
	return cmd
}
