package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nnfz/stretch-host/internal/bridge"
	"github.com/nnfz/stretch-host/internal/config"
	"github.com/nnfz/stretch-host/internal/events"
	"github.com/nnfz/stretch-host/internal/health"
	"github.com/nnfz/stretch-host/internal/httputil"
	"github.com/nnfz/stretch-host/internal/logging"
	"github.com/nnfz/stretch-host/internal/probe"
	"github.com/nnfz/stretch-host/internal/updater"
	"github.com/nnfz/stretch-host/internal/whep"
)

var (
	version = "0.1.0"
	cfgFile string
	sdpFile string
)

var log = logging.L("main")

const shutdownTimeout = time.Second

var rootCmd = &cobra.Command{
	Use:   "stretch-host",
	Short: "Stretch desktop host",
	Long:  `Stretch host - native backend for the Stretch desktop shell: self-update, WHEP relay and stream liveness checks`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the command bridge for the UI",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <url>",
	Short: "Download an installer and hand over to it",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runUpdate(args[0])
	},
}

var whepCmd = &cobra.Command{
	Use:   "whep <url>",
	Short: "Post an SDP offer to a WHEP endpoint and print the answer",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runWHEP(args[0])
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe <url>",
	Short: "Check whether a stream URL is live",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runProbe(args[0])
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or write host configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustLoadConfig()
		out, err := config.Marshal(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode config: %v\n", err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	Run: func(cmd *cobra.Command, args []string) {
		path := cfgFile
		if path == "" {
			path = config.DefaultPath()
		}
		if _, err := os.Stat(path); err == nil {
			fmt.Fprintf(os.Stderr, "Config already exists at %s\n", path)
			os.Exit(1)
		}
		if err := config.SaveTo(config.Default(), path); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %s\n", path)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Stretch Host v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is "+config.DefaultPath()+")")
	whepCmd.Flags().StringVar(&sdpFile, "sdp-file", "", "file holding the SDP offer (default stdin)")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(whepCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// mustLoadConfig loads and validates configuration, exiting on fatal errors.
func mustLoadConfig() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	result := cfg.ValidateTiered()
	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "config warning: %v\n", w)
	}
	if result.HasFatals() {
		for _, f := range result.Fatals {
			fmt.Fprintf(os.Stderr, "config error: %v\n", f)
		}
		os.Exit(1)
	}

	httputil.UserAgent = "stretch-host/" + version
	return cfg
}

// initLogging wires the global logger and returns a cleanup func.
func initLogging(cfg *config.Config) func() {
	output, closer, err := logging.OpenOutput(cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file, logging to stderr only: %v\n", err)
		output, closer = os.Stderr, nil
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, output)

	return func() {
		if closer != nil {
			closer.Close()
		}
	}
}

func updaterConfig(cfg *config.Config) *updater.Config {
	return &updater.Config{
		ArtifactName:  cfg.UpdateArtifactName,
		InstallerArgs: cfg.InstallerArgs,
		HandoffGrace:  cfg.HandoffGrace,
		MaxRedirects:  cfg.UpdateMaxRedirects,
	}
}

func runServe() {
	cfg := mustLoadConfig()
	cleanup := initLogging(cfg)
	defer cleanup()

	log.Info("starting stretch host", "version", version, "listen", cfg.ListenAddr)

	var b *bridge.Bridge
	hub := events.NewHub(func(r *http.Request) bool {
		return b.AllowOrigin(r.Header.Get("Origin"))
	})

	logging.StartForwarder(hub, cfg.ForwardLogLevel)
	defer logging.StopForwarder()

	b = bridge.New(bridge.Config{
		ListenAddr:     cfg.ListenAddr,
		AllowedOrigins: cfg.AllowedOrigins,
		Token:          cfg.BridgeToken,
	},
		updater.New(updaterConfig(cfg), hub),
		whep.New(cfg.WHEPMaxRedirects),
		probe.New(cfg.ProbeMaxRedirects),
		hub,
		health.NewMonitor(),
	)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- b.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	exitCode, terminate := 0, false
	select {
	case sig := <-sigChan:
		log.Info("shutting down", "signal", sig.String())
	case outcome := <-b.Terminations():
		log.Info("installer took over, exiting", "exitCode", outcome.ExitCode)
		exitCode, terminate = outcome.ExitCode, true
	case err := <-serveErr:
		if err != nil {
			log.Error("bridge stopped", logging.KeyError, err)
			exitCode = 1
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	if err := b.Shutdown(ctx); err != nil {
		log.Warn("bridge shutdown incomplete", logging.KeyError, err)
	}
	cancel()

	if terminate || exitCode != 0 {
		logging.StopForwarder()
		cleanup()
		os.Exit(exitCode)
	}
}

func runUpdate(url string) {
	cfg := mustLoadConfig()
	cleanup := initLogging(cfg)
	defer cleanup()

	progress := events.EmitterFunc(func(name string, payload any) {
		if name == events.UpdateDownloadProgress {
			fmt.Fprintf(os.Stderr, "\rdownloading... %3d%%", payload)
		}
	})

	outcome, err := updater.New(updaterConfig(cfg), progress).Run(context.Background(), url)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Update failed: %v\n", err)
		cleanup()
		os.Exit(1)
	}
	if outcome.Terminate {
		cleanup()
		os.Exit(outcome.ExitCode)
	}
}

func runWHEP(url string) {
	cfg := mustLoadConfig()
	cleanup := initLogging(cfg)
	defer cleanup()

	var (
		offer []byte
		err   error
	)
	if sdpFile != "" {
		offer, err = os.ReadFile(sdpFile)
	} else {
		offer, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read SDP offer: %v\n", err)
		os.Exit(1)
	}

	answer, err := whep.New(cfg.WHEPMaxRedirects).Request(context.Background(), url, string(offer))
	if err != nil {
		fmt.Fprintf(os.Stderr, "WHEP request failed: %v\n", err)
		cleanup()
		os.Exit(1)
	}
	fmt.Print(answer)
}

func runProbe(url string) {
	cfg := mustLoadConfig()
	cleanup := initLogging(cfg)
	defer cleanup()

	live, err := probe.New(cfg.ProbeMaxRedirects).Check(context.Background(), url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Probe failed: %v\n", err)
		cleanup()
		os.Exit(1)
	}
	fmt.Println(live)
	if !live {
		cleanup()
		os.Exit(2)
	}
}
