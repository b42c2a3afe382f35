package radio

import (
	"context"
	"fmt"
	"net"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// SysfsConfig describes the SSH access used to write IIO sysfs attributes
// directly on the Pluto, for daemons whose protocol version rejects WRITE.
type SysfsConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	KeyPath  string
	Root     string
}

// SysfsWriter writes IIO attributes through their sysfs files over an SSH
// session. The session is established on first use and reused.
type SysfsWriter struct {
	mu     sync.Mutex
	cfg    SysfsConfig
	client *ssh.Client
}

// NewSysfsWriter validates the configuration and prepares a writer.
func NewSysfsWriter(cfg SysfsConfig) (*SysfsWriter, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("sysfs fallback requires a host")
	}
	if cfg.User == "" {
		cfg.User = "root"
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Root == "" {
		cfg.Root = "/sys/bus/iio/devices"
	}
	return &SysfsWriter{cfg: cfg}, nil
}

// WriteAttribute writes value to the sysfs file matching the IIO attribute
// triple.
func (w *SysfsWriter) WriteAttribute(ctx context.Context, device, channel, attr, value string) error {
	client, err := w.dial(ctx)
	if err != nil {
		return err
	}
	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("ssh session: %w", err)
	}
	defer session.Close()

	quoted := "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
	cmd := fmt.Sprintf("printf %s > %s", quoted, w.attributePath(device, channel, attr))
	if err := session.Run(cmd); err != nil {
		return fmt.Errorf("sysfs write %s/%s/%s: %w", device, channel, attr, err)
	}
	return nil
}

func (w *SysfsWriter) dial(ctx context.Context) (*ssh.Client, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.client != nil {
		return w.client, nil
	}

	var auth []ssh.AuthMethod
	if w.cfg.Password != "" {
		auth = append(auth, ssh.Password(w.cfg.Password))
	}
	if w.cfg.KeyPath != "" {
		key, err := os.ReadFile(w.cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse ssh key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("sysfs fallback needs a password or key")
	}

	addr := fmt.Sprintf("%s:%d", w.cfg.Host, w.cfg.Port)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial ssh %s: %w", addr, err)
	}
	cc, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            w.cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", addr, err)
	}
	w.client = ssh.NewClient(cc, chans, reqs)
	return w.client, nil
}

// attributePath maps the IIO triple to its sysfs file. Output channels and
// local oscillators carry the out_ prefix, everything else is an input.
func (w *SysfsWriter) attributePath(device, channel, attr string) string {
	base := path.Join(w.cfg.Root, device)
	if channel == "" {
		return path.Join(base, attr)
	}
	prefix := "in"
	lc := strings.ToLower(channel)
	if strings.HasPrefix(lc, "altvoltage") || strings.HasPrefix(lc, "out") {
		prefix = "out"
	}
	return path.Join(base, fmt.Sprintf("%s_%s_%s", prefix, channel, attr))
}

// Close tears down the SSH session if one was established.
func (w *SysfsWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.client == nil {
		return nil
	}
	err := w.client.Close()
	w.client = nil
	return err
}
