package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/holonode/pkg/config"
	"github.com/cuemby/holonode/pkg/devhost"
	"github.com/cuemby/holonode/pkg/embedded"
	"github.com/cuemby/holonode/pkg/events"
	"github.com/cuemby/holonode/pkg/holomess"
	"github.com/cuemby/holonode/pkg/log"
	"github.com/cuemby/holonode/pkg/metrics"
	"github.com/cuemby/holonode/pkg/node"
	"github.com/cuemby/holonode/pkg/ports"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const (
	defaultStorageRoot = "./holonode-data"
	passphraseEnv      = "HOLONODE_PASSPHRASE"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "holonode [storage-root]",
	Short: "holonode - run a local peer-to-peer app host",
	Long: `holonode starts a local host runtime, installs the message board app
into it exactly once and keeps it running until interrupted.

State lives under the storage root (default ./holonode-data) and survives
restarts; --fresh uses a temporary root instead. The keystore passphrase is
read from HOLONODE_PASSPHRASE, which may be set in a .env file.`,
	Version:           Version,
	Args:              cobra.MaximumNArgs(1),
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	RunE:              runNode,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"holonode version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	flags := rootCmd.PersistentFlags()
	flags.String("storage-root", defaultStorageRoot, "Storage root (overridden by the positional argument)")
	flags.Bool("fresh", false, "Use a temporary storage root removed on exit")
	flags.String("bundle", "happ/msgboard.happ", "Application bundle to install")
	flags.String("app-id", "msgboard", "Installed app id")
	flags.String("role", holomess.RoleName, "Role whose cell calls target")
	flags.String("network-seed", "", "Override the bundle's network seed on first install")
	flags.String("host-binary", embedded.DefaultHostBinary, "Host runtime binary")
	flags.Bool("dev", false, "Run the host runtime inside this process")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.Bool("json-logs", false, "Emit logs as JSON")
	flags.String("metrics-addr", "", "Serve /metrics and health endpoints on this address")
	flags.Uint16("port-min", ports.DefaultRange.Min, "Lowest admin port to try on first run")
	flags.Uint16("port-max", ports.DefaultRange.Max, "Highest admin port to try on first run")

	rootCmd.AddCommand(postCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(profileCmd)
}

func setup(cmd *cobra.Command, args []string) error {
	logLevel, _ := cmd.Flags().GetString("log-level")
	jsonLogs, _ := cmd.Flags().GetBool("json-logs")
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	log.Init(log.Config{Level: level, JSONOutput: jsonLogs})
	metrics.SetVersion(Version)

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// startNode builds node options from flags and starts the node under root
func startNode(ctx context.Context, cmd *cobra.Command, root string, publisher events.Publisher) (*node.Node, error) {
	flags := cmd.Flags()
	fresh, _ := flags.GetBool("fresh")
	bundlePath, _ := flags.GetString("bundle")
	appID, _ := flags.GetString("app-id")
	role, _ := flags.GetString("role")
	seed, _ := flags.GetString("network-seed")
	hostBinary, _ := flags.GetString("host-binary")
	dev, _ := flags.GetBool("dev")
	portMin, _ := flags.GetUint16("port-min")
	portMax, _ := flags.GetUint16("port-max")
	metricsAddr, _ := flags.GetString("metrics-addr")

	passphrase := os.Getenv(passphraseEnv)
	if passphrase == "" {
		return nil, fmt.Errorf("%s is not set", passphraseEnv)
	}

	opts := node.Options{
		Mode:        node.Persisted,
		StorageRoot: root,
		Passphrase:  []byte(passphrase),
		BundlePath:  bundlePath,
		AppID:       appID,
		RoleName:    role,
		NetworkSeed: seed,
		Config:      config.Options{PortRange: &ports.Range{Min: portMin, Max: portMax}},
		HostBinary:  hostBinary,
		Events:      publisher,
	}
	if fresh {
		opts.Mode = node.Fresh
	}
	if metricsAddr != "" {
		opts.CollectInterval = 15 * time.Second
	}
	if dev {
		opts.Host = devhost.New(devhost.Config{Zomes: holomess.Registry()})
	}
	return node.Start(ctx, opts)
}

func runNode(cmd *cobra.Command, args []string) error {
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	go logEvents(broker.Subscribe())

	var server *http.Server
	if metricsAddr != "" {
		server = &http.Server{
			Addr:              metricsAddr,
			Handler:           metrics.NewMux(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Logger.Error().Err(err).Str("addr", metricsAddr).Msg("Metrics server stopped")
			}
		}()
		log.Logger.Info().Str("addr", metricsAddr).Msg("Serving metrics")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, _ := cmd.Flags().GetString("storage-root")
	if len(args) > 0 {
		root = args[0]
	}
	n, err := startNode(ctx, cmd, root, broker)
	if err != nil {
		return err
	}

	cfg := n.Config()
	fmt.Println("✓ Node ready")
	fmt.Printf("  Storage root: %s\n", cfg.StorageRoot)
	fmt.Printf("  Agent: %s\n", n.Cell().AgentPubKey)
	fmt.Printf("  App port: %d\n", n.AppPort())
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")

	<-ctx.Done()
	fmt.Println("\nShutting down...")

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}
	if err := n.Close(); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	fmt.Println("✓ Shutdown complete")
	return nil
}

func logEvents(sub events.Subscriber) {
	logger := log.WithComponent("events")
	for ev := range sub {
		e := logger.Debug().Str("event", string(ev.Type)).Str("id", ev.ID)
		for k, v := range ev.Metadata {
			e = e.Str(k, v)
		}
		e.Msg(ev.Message)
	}
}

// withClient starts the node, runs fn against the message board and closes the node
func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *holomess.Client) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, _ := cmd.Flags().GetString("storage-root")
	n, err := startNode(ctx, cmd, root, nil)
	if err != nil {
		return err
	}
	defer n.Close()

	return fn(ctx, holomess.NewClient(n.Caller()))
}

var postCmd = &cobra.Command{
	Use:   "post TEXT",
	Short: "Post a message to the board",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *holomess.Client) error {
			hash, err := c.CreateMessage(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("✓ Posted %s\n", hash)
			return nil
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List board messages, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *holomess.Client) error {
			records, err := c.GetAllMessages(ctx)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No messages")
				return nil
			}
			for _, r := range records {
				fmt.Printf("%s  %s  %s\n",
					time.UnixMicro(r.Timestamp).Format(time.RFC3339), r.Author, r.Entry.Text)
			}
			return nil
		})
	},
}

var profileCmd = &cobra.Command{
	Use:   "profile NICKNAME",
	Short: "Publish a profile for this node's agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *holomess.Client) error {
			rec, err := c.CreateProfile(ctx, holomess.Profile{Nickname: args[0]})
			if err != nil {
				return err
			}
			fmt.Printf("✓ Profile %q created for %s\n", rec.Entry.Nickname, rec.Author)
			return nil
		})
	},
}
