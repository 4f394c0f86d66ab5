package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig configures an SSH transport.
type SSHConfig struct {
	Host string
	Port int
	User string

	// KeyFile is a private key used for public key auth. Optional.
	KeyFile string

	// Password answers password and keyboard-interactive password prompts.
	Password string

	// MFACode answers keyboard-interactive token prompts (e.g. "TACC Token Code:").
	MFACode string

	// KnownHostsFile verifies the server host key. Default: ~/.ssh/known_hosts.
	KnownHostsFile string

	// InsecureIgnoreHostKey disables host key verification.
	InsecureIgnoreHostKey bool

	// Timeout bounds the TCP dial and handshake. Zero means 30s.
	Timeout time.Duration

	// KeepAlive is the interval between keepalive requests. Zero disables them.
	KeepAlive time.Duration
}

func (c SSHConfig) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("ssh host is required")
	}
	if strings.TrimSpace(c.User) == "" {
		return fmt.Errorf("ssh user is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid ssh port: %d", c.Port)
	}
	if c.KeyFile == "" && c.Password == "" {
		return fmt.Errorf("ssh key file or password is required")
	}
	return nil
}

func (c SSHConfig) addr() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// SSH is a Transport backed by one authenticated SSH connection. Each channel
// is an SSH session running one command.
type SSH struct {
	client *ssh.Client
	target string
	logger *zap.Logger
	stop   chan struct{}
}

// Ensure SSH implements Transport.
var _ Transport = (*SSH)(nil)

// DialSSH connects and authenticates. Connection establishment is the only
// place credentials are used; channels reuse the connection.
func DialSSH(ctx context.Context, cfg SSHConfig, logger *zap.Logger) (*SSH, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientCfg, err := clientConfig(cfg)
	if err != nil {
		return nil, err
	}

	addr := cfg.addr()
	dialer := net.Dialer{Timeout: clientCfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &TransportError{Op: "dial", Target: addr, Err: err}
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		_ = conn.Close()
		return nil, &TransportError{Op: "handshake", Target: addr, Err: err}
	}

	t := &SSH{
		client: ssh.NewClient(c, chans, reqs),
		target: addr,
		logger: logger,
		stop:   make(chan struct{}),
	}
	logger.Info("Connected", zap.String("host", addr), zap.String("user", cfg.User))

	if cfg.KeepAlive > 0 {
		go t.keepAlive(cfg.KeepAlive)
	}
	return t, nil
}

func clientConfig(cfg SSHConfig) (*ssh.ClientConfig, error) {
	var methods []ssh.AuthMethod

	if cfg.KeyFile != "" {
		pem, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("parse key file: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		methods = append(methods, ssh.Password(cfg.Password))
	}
	methods = append(methods, ssh.KeyboardInteractive(promptAnswerer(cfg.Password, cfg.MFACode)))

	hostKey, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            methods,
		HostKeyCallback: hostKey,
		Timeout:         timeout,
	}, nil
}

func hostKeyCallback(cfg SSHConfig) (ssh.HostKeyCallback, error) {
	if cfg.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := cfg.KnownHostsFile
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		path = home + "/.ssh/known_hosts"
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("load known hosts %s: %w", path, err)
	}
	return cb, nil
}

// promptAnswerer answers keyboard-interactive challenges by prompt text.
// Login nodes with MFA ask for the password and a token code in separate
// questions.
func promptAnswerer(password, mfa string) ssh.KeyboardInteractiveChallenge {
	return func(_, _ string, questions []string, _ []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i, q := range questions {
			q = strings.ToLower(q)
			switch {
			case strings.Contains(q, "password"):
				answers[i] = password
			case strings.Contains(q, "token"), strings.Contains(q, "code"), strings.Contains(q, "otp"):
				if mfa == "" {
					return nil, fmt.Errorf("server requested MFA token but none configured")
				}
				answers[i] = mfa
			}
		}
		return answers, nil
	}
}

func (t *SSH) keepAlive(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			if _, _, err := t.client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				t.logger.Warn("Keepalive failed", zap.String("host", t.target), zap.Error(err))
				return
			}
		}
	}
}

// Client exposes the underlying connection for subsystems (SFTP).
func (t *SSH) Client() *ssh.Client {
	return t.client
}

func (t *SSH) OpenChannel(ctx context.Context, command string) (Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, &TransportError{Op: "open channel", Target: t.target, Err: err}
	}

	session, err := t.client.NewSession()
	if err != nil {
		return nil, &TransportError{Op: "open channel", Target: t.target, Err: err}
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		_ = session.Close()
		return nil, &TransportError{Op: "open channel", Target: t.target, Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		_ = session.Close()
		return nil, &TransportError{Op: "open channel", Target: t.target, Err: fmt.Errorf("stderr pipe: %w", err)}
	}
	if err := session.Start(command); err != nil {
		_ = session.Close()
		return nil, &TransportError{Op: "start command", Target: t.target, Err: err}
	}

	wait := func() (int, error) {
		err := session.Wait()
		if err == nil {
			return 0, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitStatus(), nil
		}
		return -1, err
	}

	return newStreamChannel(stdout, stderr, wait, session.Close), nil
}

func (t *SSH) Close() error {
	select {
	case <-t.stop:
	default:
		close(t.stop)
	}
	return t.client.Close()
}
