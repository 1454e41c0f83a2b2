package embedded

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cuemby/holonode/pkg/config"
	"github.com/cuemby/holonode/pkg/health"
	"github.com/cuemby/holonode/pkg/keystore"
	"github.com/cuemby/holonode/pkg/log"
	"github.com/cuemby/holonode/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// DefaultHostBinary is looked up on PATH when no binary is configured
	DefaultHostBinary = "holonode-devhost"

	// AdminPortMarkerPrefix and AdminPortMarkerSuffix frame the admin port on
	// the host's stdout, e.g. ###ADMIN_PORT:55000###
	AdminPortMarkerPrefix = "###ADMIN_PORT:"
	AdminPortMarkerSuffix = "###"
)

// ProcessHost runs the host runtime as a child process
type ProcessHost struct {
	binaryPath   string
	readyTimeout time.Duration
	stopTimeout  time.Duration
	logger       zerolog.Logger

	mu        sync.Mutex
	cmd       *exec.Cmd
	adminPort uint16
	keystore  keystore.Keystore
	done      chan struct{}
	exitErr   error
	stopping  bool
}

// NewProcessHost creates a host that launches binaryPath
func NewProcessHost(binaryPath string) *ProcessHost {
	if binaryPath == "" {
		binaryPath = DefaultHostBinary
	}
	return &ProcessHost{
		binaryPath:   binaryPath,
		readyTimeout: 30 * time.Second,
		stopTimeout:  10 * time.Second,
		logger:       log.WithComponent("host-process"),
		done:         make(chan struct{}),
	}
}

// Start launches the host binary with the persisted config, hands it the
// passphrase on stdin, then waits for the admin port marker and for the port
// to accept TCP connections.
func (p *ProcessHost) Start(ctx context.Context, cfg *types.NodeConfig, passphrase []byte) error {
	p.mu.Lock()
	started := p.cmd != nil
	p.mu.Unlock()
	if started {
		return fmt.Errorf("host process already started")
	}

	binary, err := exec.LookPath(p.binaryPath)
	if err != nil {
		return fmt.Errorf("host binary %s not found: %w", p.binaryPath, err)
	}

	// The node opens (and in in_process mode creates) the keystore before
	// the child so both sides agree on the salt.
	ks, err := keystore.OpenConfigured(cfg.Keystore, passphrase)
	if err != nil {
		return fmt.Errorf("failed to open keystore: %w", err)
	}

	configPath := config.Path(cfg.StorageRoot)
	p.logger.Info().
		Str("binary", binary).
		Str("config", configPath).
		Msg("Starting host process")

	ports := make(chan uint16, 1)
	cmd := exec.Command(binary, "--config", configPath, "--piped")
	cmd.Stdout = &logWriter{logger: p.logger, level: zerolog.InfoLevel, ports: ports}
	cmd.Stderr = &logWriter{logger: p.logger, level: zerolog.ErrorLevel}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		ks.Close()
		return fmt.Errorf("failed to open host stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		ks.Close()
		return fmt.Errorf("failed to start host process: %w", err)
	}

	p.mu.Lock()
	p.cmd = cmd
	p.keystore = ks
	p.mu.Unlock()
	go p.wait()

	line := make([]byte, len(passphrase)+1)
	copy(line, passphrase)
	line[len(passphrase)] = '\n'
	_, err = stdin.Write(line)
	keystore.Zero(line)
	stdin.Close()
	if err != nil {
		p.abort()
		return fmt.Errorf("failed to pass passphrase to host: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.readyTimeout)
	defer cancel()

	var port uint16
	select {
	case port = <-ports:
	case <-p.done:
		p.abort()
		return fmt.Errorf("host process exited before reporting its admin port: %v", p.exitErr)
	case <-ctx.Done():
		p.abort()
		return fmt.Errorf("timeout waiting for host admin port: %w", ctx.Err())
	}

	if err := health.WaitHealthy(ctx, health.NewLoopbackChecker(port), 100*time.Millisecond); err != nil {
		p.abort()
		return fmt.Errorf("host admin port %d never became reachable: %w", port, err)
	}

	p.mu.Lock()
	p.adminPort = port
	p.mu.Unlock()

	p.logger.Info().
		Int("pid", cmd.Process.Pid).
		Uint16("admin_port", port).
		Msg("Host process started")
	return nil
}

// wait reaps the child and records an unexpected exit
func (p *ProcessHost) wait() {
	err := p.cmd.Wait()

	p.mu.Lock()
	stopping := p.stopping
	p.exitErr = err
	p.mu.Unlock()
	close(p.done)

	if stopping {
		return
	}
	if err != nil {
		p.logger.Error().Err(err).Msg("Host process exited unexpectedly")
	} else {
		p.logger.Warn().Msg("Host process exited unexpectedly with no error")
	}
}

// abort kills a child that failed to come up and releases the keystore
func (p *ProcessHost) abort() {
	p.mu.Lock()
	p.stopping = true
	cmd := p.cmd
	ks := p.keystore
	p.keystore = nil
	p.mu.Unlock()

	if err := cmd.Process.Kill(); err != nil {
		p.logger.Debug().Err(err).Msg("Kill host process")
	}
	<-p.done
	if ks != nil {
		ks.Close()
	}
}

// AdminPort returns the port the child reported
func (p *ProcessHost) AdminPort() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.adminPort
}

// Keystore returns the keystore shared with the child
func (p *ProcessHost) Keystore() keystore.Keystore {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.keystore == nil {
		return keystore.Unavailable{Reason: "host not started"}
	}
	return p.keystore
}

// Done is closed when the child exits
func (p *ProcessHost) Done() <-chan struct{} {
	return p.done
}

// Stop sends SIGTERM and escalates to SIGKILL after the grace period
func (p *ProcessHost) Stop() error {
	p.mu.Lock()
	cmd := p.cmd
	ks := p.keystore
	alreadyStopping := p.stopping
	p.stopping = true
	p.mu.Unlock()

	if ks != nil {
		defer ks.Close()
	}
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	select {
	case <-p.done:
		return nil
	default:
	}
	if alreadyStopping {
		<-p.done
		return nil
	}

	p.logger.Info().Msg("Stopping host process")

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		p.logger.Error().Err(err).Msg("Failed to send SIGTERM")
	}

	select {
	case <-time.After(p.stopTimeout):
		p.logger.Warn().Msg("Host process did not stop gracefully, force killing")
		if err := cmd.Process.Kill(); err != nil {
			return fmt.Errorf("failed to kill host process: %w", err)
		}
		<-p.done
	case <-p.done:
		if p.exitErr != nil && p.exitErr.Error() != "signal: terminated" {
			p.logger.Error().Err(p.exitErr).Msg("Host process exited with error")
		}
	}

	p.logger.Info().Msg("Host process stopped")
	return nil
}

// logWriter relays child output to the logger line by line and picks the
// admin port marker out of stdout
type logWriter struct {
	logger zerolog.Logger
	level  zerolog.Level
	ports  chan<- uint16

	buf bytes.Buffer
}

func (lw *logWriter) Write(b []byte) (int, error) {
	lw.buf.Write(b)
	for {
		line, err := lw.buf.ReadString('\n')
		if err != nil {
			// keep the partial line for the next write
			rest := []byte(line)
			lw.buf.Reset()
			lw.buf.Write(rest)
			break
		}
		lw.line(strings.TrimRight(line, "\r\n"))
	}
	return len(b), nil
}

func (lw *logWriter) line(line string) {
	if line == "" {
		return
	}
	if lw.ports != nil {
		if port, ok := ParseAdminPortMarker(line); ok {
			select {
			case lw.ports <- port:
			default:
			}
			return
		}
	}
	lw.logger.WithLevel(lw.level).Msg(line)
}

// ParseAdminPortMarker extracts the port from a ###ADMIN_PORT:<n>### line
func ParseAdminPortMarker(line string) (uint16, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, AdminPortMarkerPrefix) || !strings.HasSuffix(line, AdminPortMarkerSuffix) {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(line, AdminPortMarkerPrefix), AdminPortMarkerSuffix)
	n, err := strconv.ParseUint(digits, 10, 16)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint16(n), true
}

// AdminPortMarker formats the line a host prints once its admin port is bound
func AdminPortMarker(port uint16) string {
	return fmt.Sprintf("%s%d%s", AdminPortMarkerPrefix, port, AdminPortMarkerSuffix)
}
