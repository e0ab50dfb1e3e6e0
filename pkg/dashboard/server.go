package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	unixPrefix   = "unix:"
	unixSockMode = 0660

	readHeaderTimeout = 3 * time.Second
	idleTimeout       = 10 * time.Minute
	shutdownTimeout   = 10 * time.Second
)

// SocketPath returns the socket path of a unix: listen address.
func SocketPath(addr string) (string, bool) {
	if !strings.HasPrefix(addr, unixPrefix) {
		return "", false
	}
	return strings.TrimPrefix(strings.TrimPrefix(addr, unixPrefix), "//"), true
}

func createSocket(path string, uid, gid int) (net.Listener, error) {
	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("cannot remove old socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen error: %w", err)
	}

	err = os.Chown(path, uid, gid)
	if err != nil {
		listener.Close()
		return nil, fmt.Errorf("chown error: %w", err)
	}

	err = os.Chmod(path, unixSockMode)
	if err != nil {
		listener.Close()
		return nil, fmt.Errorf("chmod error: %w", err)
	}

	return listener, nil
}

// Listen opens the listener configured in opts.
func (d *Dashboard) Listen() (net.Listener, error) {
	if path, ok := SocketPath(d.opts.Listen); ok {
		return createSocket(path, d.opts.SocketUID, d.opts.SocketGID)
	}
	listener, err := net.Listen("tcp", d.opts.Listen)
	if err != nil {
		return nil, fmt.Errorf("listen error: %w", err)
	}
	return listener, nil
}

// Serve serves the dashboard on listener until ctx is done, then shuts the
// server down gracefully.
func (d *Dashboard) Serve(ctx context.Context, listener net.Listener) error {
	slog := d.logger.WithName("server")

	server := &http.Server{
		Handler:           d.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		d.ready.Store(false)
		slog.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error(err, "Graceful shutdown failed")
		}
	}()

	slog.Info("Serving dashboard", "address", listener.Addr().String())
	d.ready.Store(true)
	err := server.Serve(listener)
	d.ready.Store(false)
	if errors.Is(err, http.ErrServerClosed) {
		<-stopped
		return nil
	}
	return fmt.Errorf("serving dashboard: %w", err)
}

// Run mounts the view, serves until ctx is done and unmounts.
func (d *Dashboard) Run(ctx context.Context) error {
	if err := d.Mount(ctx); err != nil {
		return err
	}
	defer d.Unmount()

	listener, err := d.Listen()
	if err != nil {
		return err
	}
	return d.Serve(ctx, listener)
}
