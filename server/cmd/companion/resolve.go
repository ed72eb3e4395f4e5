package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"pocket-companion/server/internal/companion"
	"pocket-companion/server/internal/config"
	"pocket-companion/server/internal/model"
	"pocket-companion/server/internal/session"
	"pocket-companion/server/internal/state"
)

type resolveOptions struct {
	day    int
	hour   int
	minute int
	week   bool
}

// newResolveCmd 用存档里的作息离线推导某一时刻的状态，便于调试作息表。
func newResolveCmd(configPath *string) *cobra.Command {
	opts := &resolveOptions{}
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Print the resolved companion state for a virtual time",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			sched, err := loadSchedule(cmd, cfg)
			if err != nil {
				return err
			}
			if opts.week {
				return writeWeek(cmd, sched)
			}

			now := model.SimTime{Day: opts.day, Hour: opts.hour, Minute: opts.minute}
			if now.Day < 1 || now.Day > model.DaysPerWeek || now.Hour < 0 || now.Hour > 23 || now.Minute < 0 || now.Minute > 59 {
				return fmt.Errorf("invalid virtual time %d %02d:%02d", now.Day, now.Hour, now.Minute)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(state.Resolve(sched, nil, now))
		},
	}
	cmd.Flags().IntVar(&opts.day, "day", 1, "day of week, 1 (Mon) .. 7 (Sun)")
	cmd.Flags().IntVar(&opts.hour, "hour", 12, "hour 0..23")
	cmd.Flags().IntVar(&opts.minute, "minute", 0, "minute 0..59")
	cmd.Flags().BoolVar(&opts.week, "week", false, "print the whole week hour by hour")
	return cmd
}

// loadSchedule 读取存档作息；没有存档或存档里没有作息时使用内置作息。
func loadSchedule(cmd *cobra.Command, cfg *config.Config) (*model.Schedule, error) {
	rec, err := newStore(cfg).Load(cmd.Context())
	switch {
	case errors.Is(err, session.ErrNoRecord):
	case err != nil:
		return nil, fmt.Errorf("load record: %w", err)
	case rec.Schedule != nil:
		return rec.Schedule, nil
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "⚠️  no saved schedule, using the built-in one")
	return companion.DefaultSchedule(), nil
}

func writeWeek(cmd *cobra.Command, sched *model.Schedule) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tBEHAVIOR\tSOURCE\tACTIVITY\tREPLY DELAY")
	for day := 1; day <= model.DaysPerWeek; day++ {
		for hour := 0; hour < 24; hour++ {
			rs := state.Resolve(sched, nil, model.SimTime{Day: day, Hour: hour})
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%g-%g\n", rs.Time, rs.Behavior, rs.Source, rs.Activity, rs.ReplyDelay.Min(), rs.ReplyDelay.Max())
		}
	}
	return w.Flush()
}
