package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/desertthunder/exporter/internal/shared"
)

// SFTPStore is an [ObjectStore] on a remote host reached over SSH.
type SFTPStore struct {
	conn   *ssh.Client
	client *sftp.Client
	loc    Locator
}

// NewSFTPStore dials loc.Host and opens an SFTP session.
//
// Authentication uses the private key at opts.SSHKeyPath and, when present, the password from the locator.
// Host keys are verified against opts.KnownHostsPath when set.
func NewSFTPStore(ctx context.Context, loc Locator, opts Options) (*SFTPStore, error) {
	auth, err := sshAuthMethods(loc, opts)
	if err != nil {
		return nil, err
	}

	hostKeys := ssh.InsecureIgnoreHostKey()
	if opts.KnownHostsPath != "" {
		hostKeys, err = knownhosts.New(opts.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	addr := loc.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "22")
	}

	dialer := net.Dialer{Timeout: timeout, KeepAlive: 60 * time.Second}
	tcp, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	c, chans, reqs, err := ssh.NewClientConn(tcp, addr, &ssh.ClientConfig{
		User:            loc.User,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         timeout,
	})
	if err != nil {
		tcp.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", addr, err)
	}
	conn := ssh.NewClient(c, chans, reqs)

	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create sftp client: %w", err)
	}

	return &SFTPStore{conn: conn, client: client, loc: loc}, nil
}

func sshAuthMethods(loc Locator, opts Options) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if opts.SSHKeyPath != "" {
		key, err := os.ReadFile(opts.SSHKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid ssh private key", shared.ErrInvalidConfig)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if loc.Password != "" {
		methods = append(methods, ssh.Password(loc.Password))
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("%w: no ssh credentials for %s", shared.ErrInvalidConfig, loc.Host)
	}
	return methods, nil
}

func (s *SFTPStore) remote(key string) string {
	return "/" + s.loc.Key(key)
}

func (s *SFTPStore) Exists(_ context.Context, key string) (bool, error) {
	_, err := s.client.Stat(s.remote(key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", s.loc.URL(key), err)
	}
	return true, nil
}

func (s *SFTPStore) Download(_ context.Context, key, dest string) (err error) {
	remote, err := s.client.Open(s.remote(key))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", shared.ErrObjectNotFound, s.loc.URL(key))
	}
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", s.loc.URL(key), err)
	}
	defer remote.Close()

	local, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	defer func() {
		if cerr := local.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(dest)
		}
	}()

	if _, err := io.Copy(local, remote); err != nil {
		return fmt.Errorf("failed to download %s: %w", s.loc.URL(key), err)
	}
	return nil
}

func (s *SFTPStore) Upload(_ context.Context, src, key string) error {
	local, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer local.Close()

	info, err := local.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}

	target := s.remote(key)
	if err := s.client.MkdirAll(path.Dir(target)); err != nil {
		return fmt.Errorf("failed to create remote directory: %w", err)
	}

	remote, err := s.client.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create remote file: %w", err)
	}

	written, err := remote.ReadFrom(local)
	if err != nil {
		remote.Close()
		return fmt.Errorf("failed to upload %s: %w", src, err)
	}
	if err := remote.Close(); err != nil {
		return fmt.Errorf("failed to finish upload of %s: %w", src, err)
	}

	if written != info.Size() {
		return fmt.Errorf("upload incomplete: expected %d bytes, got %d", info.Size(), written)
	}
	return nil
}

func (s *SFTPStore) Close() error {
	return errors.Join(s.client.Close(), s.conn.Close())
}
