// Package setup pushes first-boot configuration to a reachable instance
// over SSH and starts the runner setup script. The four sub-steps (connect,
// stage files, stage environment, launch) run strictly in order: later
// steps depend on what earlier ones staged.
package setup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/alessio/shellescape"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/capstan-ci/capstan/internal/retry"
)

const (
	remoteDir     = "/tmp/capstan"
	remoteScript  = remoteDir + "/setup.sh"
	remoteEnvFile = remoteDir + "/setup.env"
	remoteLog     = remoteDir + "/setup.log"
)

type Config struct {
	User string
	Auth []ssh.AuthMethod
	// ConnectAttempts bounds the SSH dial retry. Defaults to 10.
	ConnectAttempts int
	// DialTimeout is the per-attempt SSH timeout. Defaults to 5s.
	DialTimeout time.Duration

	Logger *slog.Logger
}

// Dispatcher delivers setup payloads to instances. One SSH connection per
// instance, single-use.
type Dispatcher struct {
	config Config
	log    *slog.Logger
}

func NewDispatcher(config Config) *Dispatcher {
	if config.ConnectAttempts <= 0 {
		config.ConnectAttempts = 10
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 5 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Dispatcher{config: config, log: config.Logger}
}

// Payload is what gets staged on the instance before launch.
type Payload struct {
	// Script is the rendered setup script.
	Script string
	// Env is exported to the script's environment via the staged env file.
	Env map[string]string
}

// DispatchError names the sub-step that failed; the underlying instance is
// left as-is for the caller to decide about.
type DispatchError struct {
	Address string
	Step    string
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("remote setup failed at %s (%s): %v", e.Step, e.Address, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Dispatch connects to the instance, stages the script and environment, and
// launches setup detached so the connection can be released.
func (d *Dispatcher) Dispatch(ctx context.Context, address string, payload Payload) error {
	log := d.log.With("address", address)

	log.Debug("Connecting", "attempts", d.config.ConnectAttempts)
	client, err := retry.DoResult(ctx, d.config.ConnectAttempts, func() (*ssh.Client, error) {
		return ssh.Dial("tcp", fmt.Sprintf("%s:22", address), &ssh.ClientConfig{
			User:            d.config.User,
			Auth:            d.config.Auth,
			Timeout:         d.config.DialTimeout,
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		})
	})
	if err != nil {
		return &DispatchError{Address: address, Step: "connect", Err: err}
	}
	defer client.Close()

	if err := d.stageFiles(client, payload.Script); err != nil {
		return &DispatchError{Address: address, Step: "stage files", Err: err}
	}
	if err := d.stageEnv(client, payload.Env); err != nil {
		return &DispatchError{Address: address, Step: "stage environment", Err: err}
	}

	log.Debug("Launching setup script")
	if err := d.launch(client); err != nil {
		return &DispatchError{Address: address, Step: "launch", Err: err}
	}

	log.Info("Setup dispatched")
	return nil
}

func (d *Dispatcher) stageFiles(client *ssh.Client, script string) error {
	files, err := sftp.NewClient(client)
	if err != nil {
		return fmt.Errorf("failed to open sftp session: %w", err)
	}
	defer files.Close()

	if err := files.MkdirAll(remoteDir); err != nil {
		return fmt.Errorf("failed to create %s: %w", remoteDir, err)
	}
	return writeRemote(files, remoteScript, script, 0o700)
}

func (d *Dispatcher) stageEnv(client *ssh.Client, env map[string]string) error {
	files, err := sftp.NewClient(client)
	if err != nil {
		return fmt.Errorf("failed to open sftp session: %w", err)
	}
	defer files.Close()

	return writeRemote(files, remoteEnvFile, renderEnv(env), 0o600)
}

func writeRemote(files *sftp.Client, path, content string, mode uint32) error {
	f, err := files.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write([]byte(content)); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Chmod(os.FileMode(mode)); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", path, err)
	}
	return nil
}

// renderEnv produces a sourceable env file with shell-safe quoting, keys in
// stable order.
func renderEnv(env map[string]string) string {
	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var out strings.Builder
	for _, key := range keys {
		fmt.Fprintf(&out, "export %s=%s\n", key, shellescape.Quote(env[key]))
	}
	return out.String()
}

func (d *Dispatcher) launch(client *ssh.Client) error {
	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to create SSH session: %w", err)
	}
	defer session.Close()

	// Detach so the script outlives this connection; its output lands in
	// the setup log on the instance.
	cmd := fmt.Sprintf(
		"nohup bash -c 'source %s && bash %s' > %s 2>&1 < /dev/null &",
		shellescape.Quote(remoteEnvFile), shellescape.Quote(remoteScript), shellescape.Quote(remoteLog),
	)
	if err := session.Run(cmd); err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("setup launch exited with status %d", exitErr.ExitStatus())
		}
		return err
	}
	return nil
}
