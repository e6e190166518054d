package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command line
type AppOptions struct {
	ConfigFile string
	Debug      bool

	// run
	InputDir  string
	OutputDir string
	Preset    string
	Format    string
	Report    string

	// bench
	Frames    int
	Width     int
	Height    int
	Amplitude float64
	Pan       float64
	Seed      int64

	// serve
	Listen string

	// presets save
	File string
}

// Runner is implemented by App
type Runner interface {
	ApplyOptions(opts AppOptions) error
	RunStabilize() error
	RunBench() error
	RunService() error
	RunPresets(action, name string) error
}

// initLogger configures logrus: colored text for debugging, JSON otherwise
func initLogger(debug bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if debug {
		logger.SetLevel(logrus.DebugLevel)
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
			ForceColors:   true,
		})
	} else {
		logger.SetLevel(logrus.InfoLevel)
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}
	return logger
}

func newRootCmd(app Runner, out io.Writer) *cobra.Command {
	var opts AppOptions

	apply := func(cmd *cobra.Command, args []string) error {
		return app.ApplyOptions(opts)
	}

	root := &cobra.Command{
		Use:           "steadyframe",
		Short:         "Real-time video stabilization",
		Long:          "steadyframe removes camera shake from frame sequences and live streams.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(out, "steadyframe version: %s\n\n", Version)
			return cmd.Help()
		},
	}
	root.SetOut(out)
	root.SetErr(out)
	root.PersistentFlags().StringVar(&opts.ConfigFile, "config", defaultConfigFile, "Path to configuration file")
	root.PersistentFlags().BoolVar(&opts.Debug, "debug", false, "Enable debug logging")

	runCmd := &cobra.Command{
		Use:     "run",
		Short:   "Stabilize a directory of image frames",
		PreRunE: apply,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunStabilize()
		},
	}
	runCmd.Flags().StringVarP(&opts.InputDir, "input", "i", "", "Directory of png, bmp or tiff frames (sorted by name)")
	runCmd.Flags().StringVarP(&opts.OutputDir, "output", "o", "", "Directory for stabilized frames")
	runCmd.Flags().StringVar(&opts.Preset, "preset", "", "Preset name (default: stabilizer section of config)")
	runCmd.Flags().StringVar(&opts.Format, "format", "", "Working pixel format: gray8, i420, nv12, rgba, bgra, bgrx (default rgba)")
	runCmd.Flags().StringVar(&opts.Report, "report", "", "Write a trajectory plot (.svg or .png)")

	benchCmd := &cobra.Command{
		Use:     "bench",
		Short:   "Stabilize a synthetic shaky sequence and report timing",
		PreRunE: apply,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunBench()
		},
	}
	benchCmd.Flags().IntVar(&opts.Frames, "frames", 120, "Number of frames")
	benchCmd.Flags().IntVar(&opts.Width, "width", 320, "Frame width")
	benchCmd.Flags().IntVar(&opts.Height, "height", 240, "Frame height")
	benchCmd.Flags().Float64Var(&opts.Amplitude, "amplitude", 4, "Shake amplitude in pixels")
	benchCmd.Flags().Float64Var(&opts.Pan, "pan", 1, "Intentional pan in pixels per frame")
	benchCmd.Flags().Int64Var(&opts.Seed, "seed", 1, "Scene and shake seed")
	benchCmd.Flags().StringVar(&opts.Preset, "preset", "", "Preset name")
	benchCmd.Flags().StringVar(&opts.Format, "format", "", "Pixel format (default gray8)")
	benchCmd.Flags().StringVar(&opts.Report, "report", "", "Write a trajectory plot (.svg or .png)")

	serveCmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the stream service (HTTP, WebSocket and optional MQTT)",
		PreRunE: apply,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunService()
		},
	}
	serveCmd.Flags().StringVar(&opts.Listen, "listen", "", "HTTP listen address (default from config, :8080)")

	presetsCmd := &cobra.Command{
		Use:     "presets [list|show|save|delete] [name]",
		Short:   "Manage stabilizer presets",
		Args:    cobra.MaximumNArgs(2),
		PreRunE: apply,
		RunE: func(cmd *cobra.Command, args []string) error {
			var action, name string
			if len(args) > 0 {
				action = args[0]
			}
			if len(args) > 1 {
				name = args[1]
			}
			return app.RunPresets(action, name)
		},
	}
	presetsCmd.Flags().StringVar(&opts.File, "file", "", "YAML stabilizer config to save as the preset")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(out, "steadyframe version: %s\n", Version)
		},
	}

	root.AddCommand(runCmd, benchCmd, serveCmd, presetsCmd, versionCmd)
	return root
}

// run executes the command line against app
func run(args []string, out io.Writer, app Runner) error {
	root := newRootCmd(app, out)
	root.SetArgs(args)
	return root.Execute()
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp(os.Stdout)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
