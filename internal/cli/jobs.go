package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hackgods/venue-reservations/internal/api"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseAt accepts RFC 3339 or a bare date. Empty means now.
func parseAt(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at %q (want RFC 3339 or YYYY-MM-DD)", s)
	}
	return t, nil
}

func newSweepCmd(opts *rootOptions) *cobra.Command {
	var (
		dryRun bool
		at     string
	)

	c := &cobra.Command{
		Use:   "sweep",
		Short: "Delete credentials for reservations scheduled before the current month",
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseAt(at)
			if err != nil {
				return err
			}

			a, cleanup, err := open(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer cleanup()

			rep, err := a.Sweeper.SweepLocked(cmd.Context(), a.Locker, ref, dryRun)
			if perr := printJSON(cmd.OutOrStdout(), rep); perr != nil {
				a.Log.Warn("write report", zap.Error(perr))
			}
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			return nil
		},
	}

	c.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be deleted without deleting")
	c.Flags().StringVar(&at, "at", "", "reference time (RFC 3339 or YYYY-MM-DD), defaults to now")
	return c
}

func newLifecycleCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lifecycle",
		Short: "Reservation housekeeping",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Expire holds and credentials, apply no-shows and completions once",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := open(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer cleanup()

			rep, err := a.Booking.RunLifecycle(cmd.Context())
			if perr := printJSON(cmd.OutOrStdout(), rep); perr != nil {
				a.Log.Warn("write report", zap.Error(perr))
			}
			return err
		},
	})
	return cmd
}

func newSlotsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Manage bookable slots",
	}
	cmd.AddCommand(newSlotsGenerateCmd(opts))
	return cmd
}

func newSlotsGenerateCmd(opts *rootOptions) *cobra.Command {
	var (
		req        api.GenerateSlotsRequest
		weekdays   string
		startTimes string
	)

	c := &cobra.Command{
		Use:   "generate",
		Short: "Create slots from a weekly template",
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Weekdays = splitList(weekdays)
			req.StartTimes = splitList(startTimes)

			tmpl, err := api.ParseSlotTemplate(req)
			if err != nil {
				return err
			}

			a, cleanup, err := open(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer cleanup()

			created, total, err := a.Booking.GenerateSlots(cmd.Context(), tmpl)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %d of %d slots\n", created, total)
			return nil
		},
	}

	c.Flags().StringVar(&req.ServiceID, "service-id", "", "service UUID (required)")
	c.Flags().StringVar(&req.TimeZone, "timezone", "UTC", "IANA timezone of the venue")
	c.Flags().StringVar(&req.From, "from", "", "first date, YYYY-MM-DD (required)")
	c.Flags().StringVar(&req.To, "to", "", "last date, YYYY-MM-DD (required)")
	c.Flags().StringVar(&weekdays, "weekdays", "", "comma separated days, e.g. mon,wed,fri (default every day)")
	c.Flags().StringVar(&startTimes, "start-times", "", "comma separated local start times, e.g. 18:00,20:30 (required)")
	c.Flags().IntVar(&req.LengthMinutes, "length", 90, "slot length in minutes")
	c.Flags().IntVar(&req.Capacity, "capacity", 0, "units per slot (required)")
	_ = c.MarkFlagRequired("service-id")
	_ = c.MarkFlagRequired("from")
	_ = c.MarkFlagRequired("to")
	_ = c.MarkFlagRequired("start-times")
	_ = c.MarkFlagRequired("capacity")
	return c
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
