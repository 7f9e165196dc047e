package main

import (
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/kwv/multiview/registration"
)

// Version is set at build time with -ldflags "-X main.Version=..."
var Version = "dev"

func main() {
	app := NewApp()
	err := NewRootCmd(app).Execute()
	app.Close()
	if err != nil {
		os.Exit(1)
	}
}

// NewRootCmd creates the root command. Every subcommand except version
// loads the configuration and the dataset first.
func NewRootCmd(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "multiview",
		Short: "Interest point registration of multi-view microscopy datasets",
		Long: `multiview matches interest points between overlapping views of a dataset,
solves a global optimization per group of connected views and stores the
resulting registration transforms back into the dataset.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return app.Load()
		},
	}

	rootCmd.PersistentFlags().StringVar(&app.ConfigFile, "config", "", "YAML configuration file (defaults are used when empty)")
	rootCmd.PersistentFlags().StringVar(&app.DatasetFile, "dataset", "", "dataset JSON file (overrides storage.dataset)")
	rootCmd.PersistentFlags().StringVar(&app.SQLiteFile, "sqlite", "", "run history database (overrides storage.sqlite)")

	rootCmd.AddCommand(newRegisterCmd(app))
	rootCmd.AddCommand(newSubsetsCmd(app))
	rootCmd.AddCommand(newStatsCmd(app))
	rootCmd.AddCommand(newRemoveTransformCmd(app))
	rootCmd.AddCommand(newClearCorrespondencesCmd(app))
	rootCmd.AddCommand(newServeCmd(app))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newRegisterCmd(app *App) *cobra.Command {
	var (
		label      string
		method     string
		model      string
		regType    string
		refTP      int
		tpRange    int
		fix        string
		fixed      []string
		mapBack    string
		workers    int
		seed       int64
		views      []string
		keepCorrs  bool
		overlap    string
		groupViews bool
	)

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register the views of the dataset",
		Long: `Match interest points of all overlapping view pairs, solve the global
optimization of every subset and store the new transforms in the dataset.

Flags override the configuration file only when they are given.

Examples:
  multiview register --dataset beads.json
  multiview register --type allToAllRange --range 2 --model affine
  multiview register --views 0:0 --views 0:1 --fix none --map-back rigid`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.Config
			flags := cmd.Flags()
			if flags.Changed("label") {
				cfg.Label = label
			}
			if flags.Changed("method") {
				cfg.Matching.Method = registration.MatchingMethod(method)
			}
			if flags.Changed("model") {
				cfg.Matching.Model = registration.ModelType(model)
			}
			if flags.Changed("type") {
				cfg.Setup.Type = registration.RegistrationType(regType)
			}
			if flags.Changed("reference-timepoint") {
				cfg.Setup.ReferenceTimepoint = refTP
			}
			if flags.Changed("range") {
				cfg.Setup.Range = tpRange
			}
			if flags.Changed("fix") {
				cfg.FixViews = registration.FixPolicy(fix)
			}
			if flags.Changed("fixed") {
				ids, err := parseViewIDs(fixed)
				if err != nil {
					return err
				}
				cfg.FixViews = registration.FixExplicit
				cfg.FixedViews = ids
			}
			if flags.Changed("map-back") {
				cfg.MapBack = registration.MapBackMode(mapBack)
			}
			if flags.Changed("workers") {
				cfg.Workers = workers
			}
			if flags.Changed("seed") {
				cfg.Seed = seed
			}
			if flags.Changed("views") {
				ids, err := parseViewIDs(views)
				if err != nil {
					return err
				}
				cfg.Views = ids
			}
			if flags.Changed("keep-correspondences") {
				cfg.ClearCorrespondences = !keepCorrs
			}
			if flags.Changed("overlap") {
				cfg.Overlap = registration.OverlapMode(overlap)
			}
			if flags.Changed("group-views") && groupViews && cfg.Grouping.Mode == registration.GroupingNone {
				cfg.Grouping.Mode = registration.GroupingAddAll
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, err := app.Register(ctx)
			if report != nil {
				cmd.Print(report.Summary())
				for _, f := range report.Failures() {
					cmd.PrintErrf("failed: %v\n", f)
				}
			}
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&label, "label", "", "interest point label")
	f.StringVar(&method, "method", "", "matching method: descriptor, icp or centerOfMass")
	f.StringVar(&model, "model", "", "transformation model: translation, rigid, similarity or affine")
	f.StringVar(&regType, "type", "", "registration type: individual, referenceTimepoint, allToAll or allToAllRange")
	f.IntVar(&refTP, "reference-timepoint", 0, "reference timepoint for --type referenceTimepoint")
	f.IntVar(&tpRange, "range", 0, "timepoint range for --type allToAllRange")
	f.StringVar(&fix, "fix", "", "fixed views: first, explicit or none")
	f.StringSliceVar(&fixed, "fixed", nil, "explicit fixed views as t:s (implies --fix explicit)")
	f.StringVar(&mapBack, "map-back", "", "map back unanchored subsets: none, exact, translation or rigid")
	f.IntVar(&workers, "workers", 0, "pairwise matching workers")
	f.Int64Var(&seed, "seed", 0, "random seed for RANSAC")
	f.StringSliceVar(&views, "views", nil, "views to register as t:s (default all)")
	f.BoolVar(&keepCorrs, "keep-correspondences", false, "keep earlier correspondences of the registered views")
	f.StringVar(&overlap, "overlap", "", "pairs to match: all or overlapping")
	f.BoolVar(&groupViews, "group-views", false, "match the views of each group as one point set")

	return cmd
}

func newSubsetsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "subsets",
		Short: "Show the pairs and subsets a registration would use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.PrintSubsets(cmd.OutOrStdout())
		},
	}
}

func newStatsCmd(app *App) *cobra.Command {
	var (
		limit int
		run   int64
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show the run history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if run > 0 {
				return app.PrintRun(cmd.Context(), cmd.OutOrStdout(), run)
			}
			return app.PrintRuns(cmd.Context(), cmd.OutOrStdout(), limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of runs to list")
	cmd.Flags().Int64Var(&run, "run", 0, "show the statistics of one run")
	return cmd
}

func newRemoveTransformCmd(app *App) *cobra.Command {
	var first bool
	cmd := &cobra.Command{
		Use:   "remove-transform [t:s ...]",
		Short: "Remove the latest transform of views (all views by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseViewIDs(args)
			if err != nil {
				return err
			}
			n, err := app.RemoveTransforms(ids, first)
			if err != nil {
				return err
			}
			cmd.Printf("removed %d transforms\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&first, "first", false, "remove the first (oldest) transform instead")
	return cmd
}

func newClearCorrespondencesCmd(app *App) *cobra.Command {
	var label string
	cmd := &cobra.Command{
		Use:   "clear-correspondences [t:s ...]",
		Short: "Forget stored correspondences of views (all views by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseViewIDs(args)
			if err != nil {
				return err
			}
			n, err := app.ClearCorrespondences(label, ids)
			if err != nil {
				return err
			}
			cmd.Printf("removed %d correspondences\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "interest point label (default from config)")
	return cmd
}

func newServeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve diagnostics over HTTP and publish statistics over MQTT",
		Long: `Start an HTTP server exposing /health, /report, /registrations,
/footprints.geojson and /runs. POST /register starts a registration.
Statistics are published over MQTT when a broker is configured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.Serve(ctx)
		},
	}
	cmd.Flags().StringVar(&app.HTTPAddr, "addr", "", "listen address (default httpAddr from config or :8080)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("multiview " + Version)
		},
	}
}

// parseViewIDs parses views written as timepoint:setup.
func parseViewIDs(args []string) ([]registration.ViewID, error) {
	var ids []registration.ViewID
	for _, arg := range args {
		tp, setup, ok := strings.Cut(arg, ":")
		if !ok {
			return nil, errors.Errorf("invalid view %q, expected timepoint:setup", arg)
		}
		t, err := strconv.Atoi(strings.TrimSpace(tp))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid timepoint in %q", arg)
		}
		s, err := strconv.Atoi(strings.TrimSpace(setup))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid setup in %q", arg)
		}
		ids = append(ids, registration.ViewID{Timepoint: t, Setup: s})
	}
	return ids, nil
}
