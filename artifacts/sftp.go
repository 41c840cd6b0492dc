package artifacts

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"mediaconvert/logger"
)

type SFTPOptions struct {
	Host       string
	Port       string
	User       string
	Password   string
	PrivateKey string // base64 or raw PEM
	RootDir    string
	PublicURL  string // web address the root directory is served from
}

// SFTPStore writes artifacts below RootDir on a remote host. The SSH session
// is opened lazily and re-established after a failed operation.
type SFTPStore struct {
	opts SFTPOptions

	mu     sync.Mutex
	ssh    *ssh.Client
	client *sftp.Client
}

func NewSFTPStore(opts SFTPOptions) *SFTPStore {
	if opts.Port == "" {
		opts.Port = "22"
	}
	if opts.RootDir == "" {
		opts.RootDir = "/"
	}
	opts.PublicURL = strings.TrimSuffix(opts.PublicURL, "/")
	return &SFTPStore{opts: opts}
}

func (s *SFTPStore) authMethods() ([]ssh.AuthMethod, error) {
	if s.opts.PrivateKey != "" {
		// try to decode as base64, fall back to raw
		keyBytes, err := base64.StdEncoding.DecodeString(s.opts.PrivateKey)
		if err != nil {
			keyBytes = []byte(s.opts.PrivateKey)
		}
		signer, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	if s.opts.Password != "" {
		return []ssh.AuthMethod{ssh.Password(s.opts.Password)}, nil
	}
	return nil, fmt.Errorf("no auth method provided; set SFTP_PASSWORD or SFTP_PRIVATE_KEY")
}

// connect returns the live sftp client, dialing when needed. Caller holds mu.
func (s *SFTPStore) connect(ctx context.Context) (*sftp.Client, error) {
	if s.client != nil {
		return s.client, nil
	}
	if s.opts.Host == "" || s.opts.User == "" {
		return nil, fmt.Errorf("sftp artifact backend requires SFTP_HOST and SFTP_USER")
	}

	auths, err := s.authMethods()
	if err != nil {
		return nil, err
	}
	config := &ssh.ClientConfig{
		User:            s.opts.User,
		Auth:            auths,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}

	addr := net.JoinHostPort(s.opts.Host, s.opts.Port)
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial tcp %s: %w", addr, err)
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	sshClient := ssh.NewClient(clientConn, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("create sftp client: %w", err)
	}

	logger.Infof("Connected to SFTP artifact store at %s", addr)
	s.ssh, s.client = sshClient, client
	return client, nil
}

// reset drops the current session so the next call reconnects. Caller holds mu.
func (s *SFTPStore) reset() {
	if s.client != nil {
		s.client.Close()
	}
	if s.ssh != nil {
		s.ssh.Close()
	}
	s.client, s.ssh = nil, nil
}

// do runs fn with a connected client and resets the session when fn fails
// for a reason other than a missing file.
func (s *SFTPStore) do(ctx context.Context, fn func(*sftp.Client) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	client, err := s.connect(ctx)
	if err != nil {
		return err
	}
	if err := fn(client); err != nil {
		if !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, ErrNotFound) {
			s.reset()
		}
		return err
	}
	return nil
}

func (s *SFTPStore) remotePath(ref string) (string, string, error) {
	cleaned, err := cleanRef(ref)
	if err != nil {
		return "", "", err
	}
	return cleaned, path.Join(s.opts.RootDir, cleaned), nil
}

func (s *SFTPStore) Put(ctx context.Context, key string, r io.Reader, _ string) (string, error) {
	ref, remotePath, err := s.remotePath(key)
	if err != nil {
		return "", err
	}

	err = s.do(ctx, func(client *sftp.Client) error {
		dir := path.Dir(remotePath)
		if err := client.MkdirAll(dir); err != nil {
			return fmt.Errorf("ensure remote dir %s: %w", dir, err)
		}
		f, err := client.Create(remotePath)
		if err != nil {
			return fmt.Errorf("create remote file %s: %w", remotePath, err)
		}
		defer f.Close()

		if _, err := io.Copy(f, r); err != nil {
			return fmt.Errorf("copy to remote file %s: %w", remotePath, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	logger.Debugf("Uploaded '%s' to %s", remotePath, s.opts.Host)
	return ref, nil
}

// Get buffers the remote file to a temp file so the SSH session is not held
// while the caller reads.
func (s *SFTPStore) Get(ctx context.Context, ref string) (io.ReadCloser, error) {
	_, remotePath, err := s.remotePath(ref)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp("", "sftp-artifact-*")
	if err != nil {
		return nil, err
	}

	err = s.do(ctx, func(client *sftp.Client) error {
		f, err := client.Open(remotePath)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("%w: %s", ErrNotFound, ref)
			}
			return fmt.Errorf("open remote file %s: %w", remotePath, err)
		}
		defer f.Close()
		_, err = io.Copy(tmp, f)
		return err
	})
	if err == nil {
		_, err = tmp.Seek(0, io.SeekStart)
	}
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, err
	}
	return &tempFile{File: tmp}, nil
}

// tempFile removes itself on Close.
type tempFile struct {
	*os.File
}

func (t *tempFile) Close() error {
	err := t.File.Close()
	os.Remove(t.Name())
	return err
}

func (s *SFTPStore) Delete(ctx context.Context, ref string) error {
	_, remotePath, err := s.remotePath(ref)
	if err != nil {
		return err
	}
	err = s.do(ctx, func(client *sftp.Client) error {
		return client.Remove(remotePath)
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove remote file %s: %w", remotePath, err)
	}
	return nil
}

func (s *SFTPStore) URL(_ context.Context, ref string) (string, error) {
	cleaned, err := cleanRef(ref)
	if err != nil {
		return "", err
	}
	if s.opts.PublicURL == "" {
		return "", fmt.Errorf("sftp artifact backend has no SFTP_PUBLIC_URL configured")
	}
	return s.opts.PublicURL + "/" + cleaned, nil
}

func (s *SFTPStore) Ping(ctx context.Context) error {
	return s.do(ctx, func(client *sftp.Client) error {
		_, err := client.Stat(s.opts.RootDir)
		return err
	})
}

func (s *SFTPStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	return nil
}
