package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions carries the command-line flags into the App.
type AppOptions struct {
	ConfigFile       string
	LogLevel         string
	RegistrationFile string
	DatabaseFile     string

	// match
	OutputJSON string
	OutputSVG  string
	OutputPNG  string
	LabeledPNG string

	// solve
	RA            float64
	Dec           float64
	Width         float64
	Height        float64
	OutputGeoJSON string

	// register, watch
	Workers       int
	ReferenceFile string
	HttpPort      int
	HttpMode      bool
}

// Application is what the commands drive; App implements it.
type Application interface {
	ApplyOptions(opts AppOptions)
	RunMatch(pathA, pathB string) error
	RunSolve(starsPath, catalogPath string) error
	RunRegister(ctx context.Context, referencePath string, framePaths []string) error
	RunWatch(ctx context.Context, dir string) error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	app := NewApp()
	err := newRootCmd(app).ExecuteContext(ctx)
	app.Close()
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree around app.
func newRootCmd(app Application) *cobra.Command {
	opts := &AppOptions{}

	rootCmd := &cobra.Command{
		Use:          "starmesh",
		Short:        "Blind star-pattern matching and plate solving",
		Version:      Version,
		SilenceUsage: true,
		Long: `starmesh matches star lists against each other or against a catalog
without knowing their relative scale, rotation or offset, registers image
sequences onto a reference frame and refines a telescope pointing by plate
solving.`,
	}
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigFile, "config", "c", defaultConfigFile, "path to configuration file")
	pf.StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error), overrides the config file")
	pf.StringVar(&opts.DatabaseFile, "db", "", "SQLite run history database")

	rootCmd.AddCommand(newMatchCmd(app, opts))
	rootCmd.AddCommand(newSolveCmd(app, opts))
	rootCmd.AddCommand(newRegisterCmd(app, opts))
	rootCmd.AddCommand(newWatchCmd(app, opts))
	return rootCmd
}

func newMatchCmd(app Application, opts *AppOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match <stars-a> <stars-b>",
		Short: "Match two star lists and fit the transform from A to B",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app.ApplyOptions(*opts)
			return app.RunMatch(args[0], args[1])
		},
	}
	cmd.Flags().StringVar(&opts.OutputJSON, "json", "", "write the full result as JSON")
	cmd.Flags().StringVar(&opts.OutputSVG, "svg", "", "write an SVG overlay")
	cmd.Flags().StringVar(&opts.OutputPNG, "png", "", "write a PNG overlay")
	cmd.Flags().StringVar(&opts.LabeledPNG, "labeled-png", "", "write a PNG overlay with star labels")
	return cmd
}

func newSolveCmd(app Application, opts *AppOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "solve <stars> <catalog>",
		Short: "Plate-solve a star list against an RA/Dec catalog extract",
		Long: `Matches the star list against catalog stars projected around the --ra/--dec
guess, then moves the tangent point onto the image centre until it converges.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app.ApplyOptions(*opts)
			return app.RunSolve(args[0], args[1])
		},
	}
	cmd.Flags().Float64Var(&opts.RA, "ra", 0, "right ascension guess in degrees")
	cmd.Flags().Float64Var(&opts.Dec, "dec", 0, "declination guess in degrees")
	cmd.Flags().Float64Var(&opts.Width, "width", 0, "image width in pixels (default: star bounding box)")
	cmd.Flags().Float64Var(&opts.Height, "height", 0, "image height in pixels")
	cmd.Flags().StringVar(&opts.OutputGeoJSON, "geojson", "", "write the sky footprint as GeoJSON")
	cmd.MarkFlagRequired("ra")
	cmd.MarkFlagRequired("dec")
	return cmd
}

func newRegisterCmd(app Application, opts *AppOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register <reference> <frame>...",
		Short: "Register a sequence of star lists onto a reference frame",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app.ApplyOptions(*opts)
			return app.RunRegister(cmd.Context(), args[0], args[1:])
		},
	}
	cmd.Flags().IntVarP(&opts.Workers, "workers", "w", 0, "frames registered in parallel (default from config)")
	cmd.Flags().StringVar(&opts.RegistrationFile, "cache", "", "registration cache file (default from config)")
	return cmd
}

func newWatchCmd(app Application, opts *AppOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Register star lists as they appear in a directory",
		Long: `Registers every star list written to <dir> against --reference, publishes
diagnostics over MQTT when a broker is configured and accepts star lists on
<prefix>/ingest/<frameID>.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.ReferenceFile == "" {
				return fmt.Errorf("--reference is required")
			}
			app.ApplyOptions(*opts)
			return app.RunWatch(cmd.Context(), args[0])
		},
	}
	cmd.Flags().StringVarP(&opts.ReferenceFile, "reference", "r", "", "reference star list")
	cmd.Flags().StringVar(&opts.RegistrationFile, "cache", "", "registration cache file (default from config)")
	cmd.Flags().BoolVar(&opts.HttpMode, "http", false, "serve frame status over HTTP")
	cmd.Flags().IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port")
	return cmd
}
