package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/keytrack/internal/config"
	"github.com/goodtune/keytrack/internal/storage"
	"github.com/spf13/cobra"
)

var (
	statsDate string
	statsTop  int
	statsDays int
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show stored statistics for a day",
	Long:  `Print the stored daily totals, hourly breakdown, practice sessions and most played notes for one date.`,
	Example: `  keytrack stats
  keytrack -c config.yaml stats --date 2024-03-01 --top 5
  keytrack stats --days 7`,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().StringVar(&statsDate, "date", "", "Date to show as YYYY-MM-DD (default today)")
	statsCmd.Flags().IntVar(&statsTop, "top", 10, "Number of most played notes to show")
	statsCmd.Flags().IntVar(&statsDays, "days", 0, "Summarize the last N days ending at --date instead")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	date := statsDate
	if date == "" {
		date = storage.DateKey(time.Now())
	}
	if _, err := time.Parse(storage.DateFormat, date); err != nil {
		return fmt.Errorf("invalid date %q: expected YYYY-MM-DD", date)
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if statsDays > 0 {
		return printRange(ctx, store, date, statsDays)
	}

	daily, err := store.Stats().GetDaily(ctx, date)
	if errors.Is(err, storage.ErrNotFound) {
		fmt.Fprintf(os.Stdout, "No statistics stored for %s\n", date)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read daily statistics: %w", err)
	}

	hours, err := store.Stats().ListHourly(ctx, date)
	if err != nil {
		return fmt.Errorf("failed to read hourly statistics: %w", err)
	}
	notes, err := store.Stats().ListNotes(ctx, date)
	if err != nil {
		return fmt.Errorf("failed to read note statistics: %w", err)
	}
	sessions, err := store.Sessions().List(ctx, date)
	if err != nil {
		return fmt.Errorf("failed to read practice sessions: %w", err)
	}

	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)

	_, _ = cyan.Printf("\n[%s]\n", date)
	printCounters(green, daily.Counters)

	if len(sessions) > 0 {
		_, _ = cyan.Println("\n[sessions]")
		for _, s := range sessions {
			fmt.Fprintf(os.Stdout, "  %s - %s  %s\n",
				s.StartedAt.Local().Format("15:04:05"),
				s.EndedAt.Local().Format("15:04:05"),
				formatSeconds(s.Seconds))
		}
	}

	if len(hours) > 0 {
		_, _ = cyan.Println("\n[hours]")
		for _, h := range hours {
			fmt.Fprintf(os.Stdout, "  %02d:00  notes=%-6d practice=%-10s pedal=%d\n",
				h.Hour, h.Notes, formatSeconds(h.SessionSeconds), h.PedalPresses)
		}
	}

	if len(notes) > 0 {
		sort.SliceStable(notes, func(i, j int) bool { return notes[i].Count > notes[j].Count })
		if statsTop > 0 && len(notes) > statsTop {
			notes = notes[:statsTop]
		}
		_, _ = cyan.Println("\n[top notes]")
		for _, n := range notes {
			fmt.Fprintf(os.Stdout, "  %-4s (%3d)  count=%-6d held=%s\n",
				noteName(n.Note), n.Note, n.Count, formatMillis(n.DurationMS))
		}
	}

	return nil
}

func printRange(ctx context.Context, store storage.Store, to string, days int) error {
	end, _ := time.ParseInLocation(storage.DateFormat, to, time.Local)
	from := storage.DateKey(end.AddDate(0, 0, -(days - 1)))

	rows, err := store.Stats().ListDaily(ctx, from, to)
	if err != nil {
		return fmt.Errorf("failed to read daily statistics: %w", err)
	}

	cyan := color.New(color.FgCyan, color.Bold)
	_, _ = cyan.Printf("\n[%s .. %s]\n", from, to)
	if len(rows) == 0 {
		fmt.Fprintln(os.Stdout, "  no statistics stored")
		return nil
	}

	var total storage.Counters
	for _, r := range rows {
		fmt.Fprintf(os.Stdout, "  %s  notes=%-6d practice=%-10s pedal=%d\n",
			r.Date, r.Notes, formatSeconds(r.SessionSeconds), r.PedalPresses)
		total.Add(r.Counters)
	}

	_, _ = cyan.Println("\n[total]")
	printCounters(color.New(color.FgGreen), total)
	return nil
}

func printCounters(c *color.Color, v storage.Counters) {
	_, _ = c.Printf("  notes            = %d\n", v.Notes)
	_, _ = c.Printf("  practice         = %s\n", formatSeconds(v.SessionSeconds))
	_, _ = c.Printf("  held             = %s\n", formatMillis(v.DurationMS))
	_, _ = c.Printf("  pedal presses    = %d\n", v.PedalPresses)
	_, _ = c.Printf("  energy           = %.1f\n", v.Energy)
	_, _ = c.Printf("  bytes            = %d note, %d other\n", v.NoteBytes, v.OtherBytes)
	if v.Notes > 0 {
		_, _ = c.Printf("  mean velocity    = %.1f\n", float64(v.VelocitySum)/float64(v.Notes))
	}
}

func formatSeconds(s float64) string {
	return (time.Duration(s * float64(time.Second))).Round(time.Second).String()
}

func formatMillis(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).Round(time.Second).String()
}

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// noteName returns scientific pitch notation, middle C (60) being C4.
func noteName(note int) string {
	return fmt.Sprintf("%s%d", noteNames[note%12], note/12-1)
}
