package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/layerfs/avfs/internal/avlog"
	"github.com/layerfs/avfs/internal/webdav"
)

var (
	servePort   int
	servePrefix string
	serveUser   string
	servePass   string
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "serve the filesystem over WebDAV",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 8765, "listen port")
	serveCmd.Flags().StringVar(&servePrefix, "prefix", "/", "WebDAV URL prefix")
	serveCmd.Flags().StringVar(&serveUser, "user", "", "basic auth username (disabled if empty)")
	serveCmd.Flags().StringVar(&servePass, "pass", "", "basic auth password")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	avlog.Init()

	if serveUser != "" && servePass == "" {
		pass, err := promptPassword()
		if err != nil {
			return fmt.Errorf("avfsctl: read password: %w", err)
		}
		servePass = pass
	}

	st, err := buildStack()
	if err != nil {
		return err
	}

	srv := webdav.NewServer(webdav.Config{
		Port:   servePort,
		Prefix: servePrefix,
		User:   serveUser,
		Pass:   servePass,
	}, st.fs)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("avfsctl serving", "port", servePort, "prefix", servePrefix)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("avfsctl: serve: %w", err)
	}
	return nil
}

// promptPassword reads a password from the controlling terminal without
// echoing it, the same way the teacher's former passwd subcommand did for
// admin password resets.
func promptPassword() (string, error) {
	fmt.Print("WebDAV password: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
