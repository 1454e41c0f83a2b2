package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/holonode/pkg/config"
	"github.com/cuemby/holonode/pkg/devhost"
	"github.com/cuemby/holonode/pkg/embedded"
	"github.com/cuemby/holonode/pkg/holomess"
	"github.com/cuemby/holonode/pkg/keystore"
	"github.com/cuemby/holonode/pkg/log"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "holonode-devhost --config FILE [--piped]",
	Short: "Development host runtime for holonode",
	Long: `holonode-devhost serves the admin and app endpoints of a node from a
node config file. With --piped the keystore passphrase is read as the first
line of stdin; otherwise it is taken from HOLONODE_PASSPHRASE.

Once the admin endpoint is listening the bound port is printed as
###ADMIN_PORT:<port>### on stdout.`,
	Version:      Version,
	SilenceUsage: true,
	RunE:         runHost,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"holonode-devhost version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.Flags().String("config", "", "Node config file (required)")
	rootCmd.Flags().Bool("piped", false, "Read the passphrase from stdin")
	rootCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("json-logs", false, "Emit logs as JSON")
	_ = rootCmd.MarkFlagRequired("config")
}

func runHost(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	piped, _ := cmd.Flags().GetBool("piped")
	logLevel, _ := cmd.Flags().GetString("log-level")
	jsonLogs, _ := cmd.Flags().GetBool("json-logs")

	level, err := log.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	// stdout carries the port marker
	log.Init(log.Config{Level: level, JSONOutput: jsonLogs, Output: os.Stderr})

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	var passphrase []byte
	if piped {
		passphrase, err = readPassphrase(os.Stdin)
		if err != nil {
			return err
		}
	} else {
		passphrase = []byte(os.Getenv("HOLONODE_PASSPHRASE"))
	}

	host := devhost.New(devhost.Config{Zomes: holomess.Registry()})
	err = keystore.WithPassphrase(passphrase, func(p []byte) error {
		return host.Start(context.Background(), cfg, p)
	})
	if err != nil {
		return fmt.Errorf("failed to start host: %w", err)
	}

	fmt.Println(embedded.AdminPortMarker(host.AdminPort()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Logger.Info().Str("signal", sig.String()).Msg("Shutting down")

	return host.Stop()
}

// readPassphrase reads one line and nothing more, so the pipe can be closed
// by the parent at any point afterwards
func readPassphrase(r io.Reader) ([]byte, error) {
	line, err := bufio.NewReader(r).ReadBytes('\n')
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read passphrase: %w", err)
	}
	passphrase := append([]byte(nil), bytes.TrimRight(line, "\r\n")...)
	keystore.Zero(line)
	return passphrase, nil
}
