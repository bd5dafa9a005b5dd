package relay

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
	"recording-relay/internal/common/errors"
	"recording-relay/internal/common/logging"
	"recording-relay/internal/common/utils"
)

// Transferer copies one local file to the relay host under remoteName.
// Transfers overwrite by name, so repeating one is safe.
type Transferer interface {
	Transfer(ctx context.Context, localPath, remoteName string) error
}

// SFTPConfig configures an SFTPTransferer
type SFTPConfig struct {
	Target Target
	// Password overrides the password embedded in the target URL
	Password string
	// KnownHostsFile verifies the host key when set
	KnownHostsFile string
	DialTimeout    time.Duration
	Retry          utils.RetryConfig
}

// sessionFunc opens an SFTP session; closing the returned closer ends it
type sessionFunc func(ctx context.Context) (*sftp.Client, io.Closer, error)

// SFTPTransferer uploads over a fresh SSH connection per transfer
type SFTPTransferer struct {
	target Target
	retry  utils.RetryConfig
	open   sessionFunc
	logger logging.Logger
}

// NewSFTPTransferer builds the SSH client configuration once
func NewSFTPTransferer(config SFTPConfig, logger logging.Logger) (*SFTPTransferer, error) {
	logger = logging.OrGlobal(logger).WithFields(logging.String("relay", config.Target.String()))

	password := config.Password
	if password == "" {
		password = config.Target.Password
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if config.KnownHostsFile != "" {
		cb, err := knownhosts.New(config.KnownHostsFile)
		if err != nil {
			return nil, errors.ConfigError(fmt.Sprintf("failed to load known_hosts: %v", err))
		}
		hostKey = cb
	} else {
		logger.Warn("Relay host key is not verified, set RELAY_KNOWN_HOSTS to enable verification")
	}

	if config.DialTimeout <= 0 {
		config.DialTimeout = 15 * time.Second
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry = utils.DefaultRetryConfig()
	}
	config.Retry.RetryableErrors = isRetryableDialError

	sshConfig := &ssh.ClientConfig{
		User:            config.Target.User,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: hostKey,
		Timeout:         config.DialTimeout,
	}

	t := &SFTPTransferer{
		target: config.Target,
		retry:  config.Retry,
		logger: logger,
	}
	t.open = func(ctx context.Context) (*sftp.Client, io.Closer, error) {
		return dialSFTP(ctx, config.Target.Addr(), sshConfig)
	}
	return t, nil
}

func dialSFTP(ctx context.Context, addr string, sshConfig *ssh.ClientConfig) (*sftp.Client, io.Closer, error) {
	dialer := net.Dialer{Timeout: sshConfig.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, err
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, sshConfig)
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return nil, nil, err
	}
	return client, sshClient, nil
}

// isRetryableDialError keeps retrying network trouble but not rejected credentials or host keys
func isRetryableDialError(err error) bool {
	var keyErr *knownhosts.KeyError
	if stderrors.As(err, &keyErr) {
		return false
	}
	msg := err.Error()
	return !strings.Contains(msg, "unable to authenticate") && !strings.Contains(msg, "knownhosts")
}

// Transfer writes localPath to the target directory as a hidden part file,
// checks its size and renames it to remoteName.
func (t *SFTPTransferer) Transfer(ctx context.Context, localPath, remoteName string) error {
	var (
		client *sftp.Client
		closer io.Closer
	)
	err := utils.RetryWithBackoff(ctx, t.retry, func() error {
		var err error
		client, closer, err = t.open(ctx)
		return err
	})
	if err != nil {
		return errors.RelayTransferError("failed to connect to relay host", err).
			WithContext("relay", t.target.String())
	}
	defer closer.Close()
	defer client.Close()

	if err := upload(ctx, client, localPath, t.target.Dir, remoteName); err != nil {
		return errors.RelayTransferError("transfer failed", err).
			WithContext("relay", t.target.String()).
			WithContext("file", remoteName)
	}
	return nil
}

func upload(ctx context.Context, client *sftp.Client, localPath, dir, remoteName string) error {
	local, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer local.Close()

	info, err := local.Stat()
	if err != nil {
		return err
	}

	if dir != "" {
		if err := client.MkdirAll(dir); err != nil {
			return fmt.Errorf("create remote directory: %w", err)
		}
	}

	final := path.Join(dir, remoteName)
	part := path.Join(dir, "."+remoteName+".part")

	remote, err := client.OpenFile(part, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("open remote file: %w", err)
	}

	// Closing the local file aborts ReadFrom when ctx is cancelled mid-copy
	stop := context.AfterFunc(ctx, func() { _ = local.Close() })
	_, copyErr := remote.ReadFrom(local)
	stop()
	closeErr := remote.Close()
	if copyErr != nil || closeErr != nil {
		_ = client.Remove(part)
		if copyErr != nil {
			return fmt.Errorf("write remote file: %w", copyErr)
		}
		return fmt.Errorf("close remote file: %w", closeErr)
	}

	remoteInfo, err := client.Stat(part)
	if err != nil {
		return fmt.Errorf("stat remote file: %w", err)
	}
	if remoteInfo.Size() != info.Size() {
		_ = client.Remove(part)
		return fmt.Errorf("remote size %d does not match local size %d", remoteInfo.Size(), info.Size())
	}

	if err := client.PosixRename(part, final); err != nil {
		// Servers without the posix-rename extension refuse to overwrite
		_ = client.Remove(final)
		if err := client.Rename(part, final); err != nil {
			_ = client.Remove(part)
			return fmt.Errorf("rename remote file: %w", err)
		}
	}
	return nil
}
