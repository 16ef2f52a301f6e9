package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"example.com/radarwire/internal/common"
	"example.com/radarwire/internal/inspect"
	"example.com/radarwire/internal/netpkt"
	"example.com/radarwire/internal/packet"
	"example.com/radarwire/internal/record"
	"example.com/radarwire/internal/report"
	"example.com/radarwire/internal/toc"
)

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report FILE|DIR...",
		Short: "Write a JSON and PDF report of recordings",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pdfPath, _ := cmd.Flags().GetString("pdf")
			jsonPath, _ := cmd.Flags().GetString("json")
			workers, _ := cmd.Flags().GetInt("workers")
			if pdfPath == "" && jsonPath == "" {
				return errors.New("nothing to write: set --pdf or --json")
			}
			paths, err := common.RecordingFiles(args, record.FileExt)
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				return errors.New("no recordings found")
			}
			rep, err := report.Build(cmd.Context(), paths, workers)
			if err != nil {
				return err
			}
			rep.Tool = "trackrec " + version
			if jsonPath != "" {
				if err := report.SaveJSON(rep, jsonPath); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", jsonPath)
			}
			if pdfPath != "" {
				if err := report.SavePDF(rep, pdfPath); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", pdfPath)
			}
			return nil
		},
	}
	cmd.Flags().String("pdf", "", "PDF output path")
	cmd.Flags().String("json", "", "JSON output path")
	cmd.Flags().Int("workers", 0, "recordings scanned in parallel (default: number of CPUs)")
	return cmd
}

func newImportPcapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-pcap PCAP OUT",
		Short: "Convert a pcap capture into a recording of NET packets",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			compress, _ := cmd.Flags().GetBool("zlib")
			capacity, _ := cmd.Flags().GetInt("capacity")
			resolution, _ := cmd.Flags().GetUint32("resolution")
			progress, _ := cmd.Flags().GetBool("progress")

			in, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer in.Close()
			info, err := in.Stat()
			if err != nil {
				return err
			}

			session, err := record.Create(args[1], record.Options{
				Capacity:   capacity,
				Resolution: resolution,
				Source:     "pcap:" + filepath.Base(args[0]),
			})
			if err != nil {
				return err
			}
			metrics := common.NewMetrics()
			stopProgress := func() {}
			if progress {
				stopProgress = common.StartProgressPrinter(cmd.ErrOrStderr(), metrics, time.Second)
			}

			format := netpkt.Raw
			if compress {
				format = netpkt.Zlib
			}
			stats, err := importPcap(cmd.Context(), in, info.Size(), session, format, metrics)
			stopProgress()
			if cerr := session.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d frames, %d packets from %d streams (%s), %d skipped\n",
				args[1], stats.Frames, stats.Written, stats.Streams, common.FormatBytes(stats.Bytes), stats.Skipped)
			return nil
		},
	}
	cmd.Flags().Bool("zlib", false, "compress NET payloads")
	cmd.Flags().Int("capacity", toc.DefaultCapacity, "table of contents capacity")
	cmd.Flags().Uint32("resolution", toc.DefaultResolution, "initial table of contents resolution in seconds")
	cmd.Flags().Bool("progress", false, "print progress to stderr")
	return cmd
}

// importPcap feeds the capture in, of size bytes, through netpkt.Import into
// w. progress counts capture bytes read against size, and packets written.
func importPcap(ctx context.Context, in io.Reader, size int64, w netpkt.PacketWriter, format netpkt.Format, progress *common.Metrics) (netpkt.ImportStats, error) {
	progress.SetTotalBytes(size)
	progress.Start()
	defer progress.Stop()
	return netpkt.Import(ctx, progress.CountReads(in), countingWriter{PacketWriter: w, m: progress}, format)
}

type countingWriter struct {
	netpkt.PacketWriter
	m *common.Metrics
}

func (c countingWriter) WritePacket(tag packet.Tag, secs, usecs uint32, payload []byte) error {
	if err := c.PacketWriter.WritePacket(tag, secs, usecs, payload); err != nil {
		return err
	}
	c.m.IncPacket()
	return nil
}

func newReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex FILE...",
		Short: "Rebuild the table of contents of recordings closed with a stale index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				snap, err := record.Reindex(path, common.NewEventLog(common.EventLogPath(path)))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d entries at %ds resolution\n", path, len(snap.Entries), snap.Resolution)
			}
			return nil
		},
	}
}

func newFollowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "follow FILE",
		Short: "Print packets as they are appended to a recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fromEnd, _ := cmd.Flags().GetBool("from-end")
			poll, _ := cmd.Flags().GetDuration("poll")
			decode, _ := cmd.Flags().GetBool("decode")

			enc := json.NewEncoder(cmd.OutOrStdout())
			opts := inspect.Options{Decode: decode}
			err := record.Follow(cmd.Context(), args[0], record.FollowOptions{FromEnd: fromEnd, PollInterval: poll}, func(p record.Packet) error {
				return enc.Encode(inspect.Describe(p, opts))
			})
			if err != nil && cmd.Context().Err() != nil {
				return nil
			}
			return err
		},
	}
	cmd.Flags().Bool("from-end", false, "skip packets already in the file")
	cmd.Flags().Duration("poll", time.Second, "size check interval when no notification arrives")
	cmd.Flags().Bool("decode", true, "decode track, ASTERIX and NET payloads")
	return cmd
}
