package cmd

import (
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/spf13/afero"

	"github.com/layerfs/avfs/internal/archive"
	"github.com/layerfs/avfs/internal/archive/extfs"
	"github.com/layerfs/avfs/internal/archive/rarfmt"
	"github.com/layerfs/avfs/internal/archive/sevenzipfmt"
	"github.com/layerfs/avfs/internal/archive/tarfmt"
	"github.com/layerfs/avfs/internal/archive/zipfmt"
	"github.com/layerfs/avfs/internal/avfscore"
	"github.com/layerfs/avfs/internal/avfsstat"
	"github.com/layerfs/avfs/internal/codec"
	"github.com/layerfs/avfs/internal/codec/brcodec"
	"github.com/layerfs/avfs/internal/codec/bzip2codec"
	"github.com/layerfs/avfs/internal/codec/gzipcodec"
	"github.com/layerfs/avfs/internal/codec/xzcodec"
	"github.com/layerfs/avfs/internal/codec/zstdcodec"
	"github.com/layerfs/avfs/internal/codecfs"
	"github.com/layerfs/avfs/internal/config"
	"github.com/layerfs/avfs/internal/diskcache"
	"github.com/layerfs/avfs/internal/dispatch"
	"github.com/layerfs/avfs/internal/filecache"
	"github.com/layerfs/avfs/internal/posix"
	"github.com/layerfs/avfs/internal/remote"
	"github.com/layerfs/avfs/internal/remote/httpfetch"
	"github.com/layerfs/avfs/internal/remote/rshfetch"
	"github.com/layerfs/avfs/internal/remotefs"
	"github.com/layerfs/avfs/internal/resolver"
	"github.com/layerfs/avfs/internal/volatile"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// stack bundles the pieces a running avfsctl process holds onto.
type stack struct {
	cfg        config.Manager
	disk       *diskcache.Manager
	dispatcher *dispatch.Dispatcher
	fs         *posix.AferoFS
}

// xzOpener picks between xz and lzip decoding per-file, since both formats
// share the "#uxze" handler name and are told apart only by sniffing the
// magic at open time (xzcodec.Detect), unlike gzip/bzip2/zstd/brotli which
// each get their own fixed codec.Opener.
func xzOpener(base io.ReaderAt, dataOffset int64) (codec.Decoder, error) {
	open, err := xzcodec.Detect(base, dataOffset)
	if err != nil {
		return nil, err
	}
	return open(base, dataOffset)
}

// rshDialer builds a remotefs.Dialer for "#rsh:user@host[:port]" mounts,
// authenticating via whatever agent SSH_AUTH_SOCK points at (the same
// no-stored-secrets posture the teacher's own credential handling takes:
// connect info travels in the path, not a config file).
func rshDialer(cfg config.RemoteConfig) remotefs.Dialer {
	return func(target string) (remote.Transport, error) {
		user, addr := target, ""
		if i := strings.IndexByte(target, '@'); i >= 0 {
			user, addr = target[:i], target[i+1:]
		} else {
			addr = target
		}
		if !strings.Contains(addr, ":") {
			addr += ":22"
		}

		var hostKeyCb ssh.HostKeyCallback
		if cfg.RshKnownHosts != "" {
			cb, err := knownhosts.New(cfg.RshKnownHosts)
			if err != nil {
				return nil, fmt.Errorf("rsh: load known_hosts %q: %w", cfg.RshKnownHosts, err)
			}
			hostKeyCb = cb
		}

		var auth []ssh.AuthMethod
		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
			conn, err := net.Dial("unix", sock)
			if err == nil {
				auth = append(auth, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
			}
		}

		t, err := rshfetch.Dial(rshfetch.Config{
			Addr:           addr,
			User:           user,
			Auth:           auth,
			HostKeyCb:      hostKeyCb,
			ConnectTimeout: cfg.ConnectTimeout,
		})
		if err != nil {
			return nil, err
		}
		return t, nil
	}
}

// httpDialer builds a remotefs.Dialer for "#http:https://host/path" mounts.
func httpDialer(cfg config.RemoteConfig) remotefs.Dialer {
	return func(target string) (remote.Transport, error) {
		return httpfetch.New(httpfetch.Config{BaseURL: target, ConnectTimeout: cfg.ConnectTimeout})
	}
}

// buildStack wires the handler registry in a fixed registration order (the
// order auto-handler extension matching follows): the volatile "tmp" mount
// and avfsstat first, then the archive formats, then the pure-decompression
// codecfs handlers (after the archives, so a composite suffix such as
// ".tar.gz" matches utar before ".gz" matches ugz), then one extfs handler
// per configured program, then the rsh and http remote handlers. Local native paths are not a registered
// handler; the resolver reaches them through its root-entry callback.
func buildStack() (*stack, error) {
	mgr, err := config.NewManager(configFile)
	if err != nil {
		return nil, fmt.Errorf("avfsctl: load config: %w", err)
	}
	cfg := mgr.Get()

	disk := diskcache.NewManager()
	disk.SetLimit(cfg.Cache.Limit)
	disk.SetKeepFree(cfg.Cache.KeepFree)

	registry := avfscore.NewRegistry()
	registry.Register(volatile.New("tmp"))

	local := posix.NewLocalHandler()
	r := resolver.New(registry, func(p string) (*avfscore.VEntry, error) {
		return local.RootEntry(p), nil
	})

	registry.Register(avfsstat.New(registry, disk))

	archiveCache := filecache.New()
	registry.Register(archive.NewSkeleton("utar", []string{".tar", ".tgz", ".tar.gz", ".tbz2", ".tar.bz2", ".txz", ".tar.xz"}, tarfmt.New(cfg.TempDir), archive.OpenVEntry, archiveCache, disk))
	registry.Register(archive.NewSkeleton("uzip", []string{".zip"}, zipfmt.New(), archive.OpenVEntry, archiveCache, disk))
	registry.Register(archive.NewSkeleton("urar", []string{".rar"}, rarfmt.New(cfg.TempDir, ""), archive.OpenVEntry, archiveCache, disk))
	registry.Register(archive.NewSkeleton("u7z", []string{".7z"}, sevenzipfmt.New(cfg.TempDir, "", afero.NewOsFs()), archive.OpenVEntry, archiveCache, disk))

	codecCache := filecache.New()
	registry.Register(codecfs.New("ugz", []string{".gz"}, gzipcodec.ParseHeader, codecfs.Wrap(gzipcodec.Open), codecCache, disk))
	registry.Register(codecfs.New("ubz2", []string{".bz2"}, codecfs.ZeroHeader, codecfs.Wrap(bzip2codec.Open), codecCache, disk))
	registry.Register(codecfs.New("uxze", []string{".xz", ".lz"}, codecfs.ZeroHeader, xzOpener, codecCache, disk))
	registry.Register(codecfs.New("uzstde", []string{".zst"}, codecfs.ZeroHeader, codecfs.Wrap(zstdcodec.Open), codecCache, disk))
	registry.Register(codecfs.New("ubr", []string{".br"}, codecfs.ZeroHeader, codecfs.Wrap(brcodec.Open), codecCache, disk))

	for _, prog := range cfg.Extfs {
		extensions := []string{}
		if prog.Extension != "" {
			extensions = []string{prog.Extension}
		}
		registry.Register(archive.NewSkeleton(prog.Name, extensions, extfs.New(prog, cfg.TempDir), archive.OpenVEntry, archiveCache, disk))
	}

	registry.Register(remotefs.New("rsh", rshDialer(cfg.Remote), cfg.TempDir))
	registry.Register(remotefs.New("http", httpDialer(cfg.Remote), cfg.TempDir))

	d := dispatch.New(r)
	fs := posix.NewAferoFS(d)

	return &stack{cfg: mgr, disk: disk, dispatcher: d, fs: fs}, nil
}
