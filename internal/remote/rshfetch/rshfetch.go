// Package rshfetch implements internal/remote.Transport over SSH
// (golang.org/x/crypto/ssh), the idiomatic modern replacement for the
// historical, unauthenticated rsh protocol the spec's remote mount names.
// Listing shells a remote `ls -la` and parses it with remote.ParseLS;
// fetching opens a remote `cat -- <path>` (with `tail -c +N` for a nonzero
// offset) and streams stdout back as the Source a caller feeds into
// internal/sfile to regain random access.
package rshfetch

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/layerfs/avfs/internal/remote"
)

// Config holds the connection parameters for one remote host.
type Config struct {
	Addr           string
	User           string
	Auth           []ssh.AuthMethod
	HostKeyCb      ssh.HostKeyCallback
	ConnectTimeout time.Duration
}

// Transport is a remote.Transport backed by a single persistent SSH
// connection, each List/Get opening its own session over that connection
// the way the teacher's nntppool opens one stream per request over a
// shared pool.
type Transport struct {
	client *ssh.Client
}

// Dial opens the SSH connection described by cfg.
func Dial(cfg Config) (*Transport, error) {
	timeout := cfg.ConnectTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	hostKeyCb := cfg.HostKeyCb
	if hostKeyCb == nil {
		hostKeyCb = ssh.InsecureIgnoreHostKey()
	}
	client, err := ssh.Dial("tcp", cfg.Addr, &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            cfg.Auth,
		HostKeyCallback: hostKeyCb,
		Timeout:         timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("rshfetch: dial %s: %w", cfg.Addr, err)
	}
	return &Transport{client: client}, nil
}

var _ remote.Transport = (*Transport)(nil)

func (t *Transport) runSession(ctx context.Context, cmd string) (string, error) {
	session, err := t.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("rshfetch: new session: %w", err)
	}
	defer session.Close()

	done := make(chan struct{})
	var out []byte
	var runErr error
	go func() {
		out, runErr = session.CombinedOutput(cmd)
		close(done)
	}()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		return "", ctx.Err()
	case <-done:
	}
	if runErr != nil {
		return "", fmt.Errorf("rshfetch: run %q: %w", cmd, runErr)
	}
	return string(out), nil
}

func (t *Transport) List(ctx context.Context, path string) ([]remote.Entry, error) {
	out, err := t.runSession(ctx, "ls -la -- "+shellQuote(path))
	if err != nil {
		return nil, err
	}
	return remote.ParseLS(out)
}

// Get opens a session streaming path's contents from offset to EOF. The
// session (and its pipe) is closed when the returned ReadCloser is closed.
func (t *Transport) Get(ctx context.Context, path string, offset int64) (io.ReadCloser, error) {
	session, err := t.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("rshfetch: new session: %w", err)
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("rshfetch: stdout pipe: %w", err)
	}

	cmd := "cat -- " + shellQuote(path)
	if offset > 0 {
		cmd = "tail -c +" + strconv.FormatInt(offset+1, 10) + " -- " + shellQuote(path)
	}
	if err := session.Start(cmd); err != nil {
		session.Close()
		return nil, fmt.Errorf("rshfetch: start %q: %w", cmd, err)
	}

	return &sessionReader{session: session, stdout: stdout}, nil
}

func (t *Transport) Wait(ctx context.Context) error { return nil }

func (t *Transport) Close() error { return t.client.Close() }

type sessionReader struct {
	session *ssh.Session
	stdout  io.Reader
}

func (r *sessionReader) Read(p []byte) (int, error) { return r.stdout.Read(p) }

func (r *sessionReader) Close() error {
	r.session.Wait()
	return r.session.Close()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
