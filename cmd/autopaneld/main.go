// Package main is the entry point for the autopaneld daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/autopanel-io/autopanel/internal/buildinfo"
	"github.com/autopanel-io/autopanel/internal/config"
	"github.com/autopanel-io/autopanel/internal/daemon/server"
	"github.com/autopanel-io/autopanel/internal/daemon/tray"
	"github.com/autopanel-io/autopanel/internal/daemon/watcher"
	"github.com/autopanel-io/autopanel/internal/metrics"
	"github.com/autopanel-io/autopanel/internal/models"
	"github.com/autopanel-io/autopanel/internal/telemetry"
)

func main() {
	foreground := flag.Bool("foreground", false, "Run in foreground (no system tray)")
	port := flag.Int("port", -1, "Port to listen on (0 for dynamic allocation, default from settings)")
	host := flag.String("host", "localhost", "Address to bind the panel to")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("autopaneld %s (%s) %s\n", buildinfo.Version, buildinfo.CommitHash, buildinfo.BuildDate)
		return
	}

	log.SetPrefix("[autopaneld] ")
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	if err := config.EnsureGlobalDir(); err != nil {
		log.Fatalf("Failed to create global directory: %v", err)
	}

	running, info, err := config.IsDaemonRunning()
	if err != nil {
		log.Fatalf("Failed to check daemon status: %v", err)
	}
	if running {
		log.Fatalf("Daemon already running on port %d (PID %d)", info.Port, info.PID)
	}

	settings, err := config.LoadSettings()
	if err != nil {
		log.Fatalf("Failed to load settings: %v", err)
	}
	if *port >= 0 {
		settings.Panel.Port = *port
	}

	metrics.Init()

	d := &daemon{settings: settings, host: *host}
	if *foreground {
		log.Println("Running in foreground mode (no system tray)")
		d.runForeground()
	} else {
		log.Println("Running in background mode (with system tray)")
		d.runWithTray()
	}
}

// daemon owns the long-lived pieces shared by both run modes.
type daemon struct {
	settings  *models.Settings
	host      string
	srv       *server.Server
	watcher   *watcher.Watcher
	telemetry telemetry.Client
}

// start builds the watcher and server and records daemon.yaml.
func (d *daemon) start() error {
	globalDir, err := config.GlobalDir()
	if err != nil {
		return err
	}

	w, err := watcher.New(d.settings.Paths.TracesDir, globalDir)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Start(); err != nil {
		w.Stop()
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	d.watcher = w
	d.telemetry = telemetry.New(d.settings.Telemetry)

	srv, err := server.New(server.Options{
		Settings:  d.settings,
		Host:      d.host,
		Port:      d.settings.Panel.Port,
		Watcher:   w,
		Telemetry: d.telemetry,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	d.srv = srv

	info := models.NewDaemonInfo(d.host, srv.Port(), os.Getpid())
	if err := config.SaveDaemonInfo(info); err != nil {
		return fmt.Errorf("failed to write daemon info: %w", err)
	}

	log.Printf("Daemon started on port %d (PID %d)", srv.Port(), os.Getpid())
	return nil
}

// cleanup releases everything start acquired. Safe after a partial start.
func (d *daemon) cleanup() {
	if d.srv != nil {
		d.srv.Stop()
	}
	if d.watcher != nil {
		d.watcher.Stop()
	}
	if d.telemetry != nil {
		if err := d.telemetry.Close(); err != nil {
			log.Printf("Failed to flush telemetry: %v", err)
		}
	}

	if err := config.RemoveTaskState(); err != nil {
		log.Printf("Failed to remove task state: %v", err)
	}
	if err := config.RemoveDaemonInfo(); err != nil {
		log.Printf("Failed to remove daemon info: %v", err)
	}

	fmt.Println("Daemon stopped")
}

// runForeground runs the daemon without a system tray, blocking on signals.
func (d *daemon) runForeground() {
	if err := d.start(); err != nil {
		d.cleanup()
		log.Fatal(err)
	}
	defer d.cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.srv.Serve(ctx); err != nil {
		log.Printf("Server error: %v", err)
	}
	if ctx.Err() != nil {
		log.Printf("Received signal, shutting down...")
	}
}

// runWithTray runs the daemon with a system tray icon on the main goroutine.
// systray.Run must occupy the main goroutine on macOS (Cocoa requirement).
func (d *daemon) runWithTray() {
	onStart := func() {
		if err := d.start(); err != nil {
			log.Printf("%v", err)
			tray.Quit()
			return
		}
		d.srv.AgentManager().SetOnChange(tray.Refresh)

		go func() {
			if err := d.srv.Serve(context.Background()); err != nil {
				log.Printf("Server error: %v", err)
			}
			tray.Quit()
		}()

		go func() {
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			select {
			case sig := <-sigCh:
				log.Printf("Received signal %v, shutting down...", sig)
				d.srv.Stop()
			case <-d.srv.Done():
			}
		}()

		if d.settings.Panel.OpenBrowser {
			if err := tray.OpenBrowser(d.srv.URL()); err != nil {
				log.Printf("Failed to open browser: %v", err)
			}
		}
	}

	// The tray needs a DaemonState before the server exists, so it gets a
	// lazy wrapper that defers to the real TrayState once start succeeds.
	state := &lazyDaemonState{getSrv: func() *server.Server { return d.srv }}

	tray.Run(state, onStart, d.cleanup)
}

// lazyDaemonState wraps server.TrayState with lazy initialization.
type lazyDaemonState struct {
	getSrv func() *server.Server
}

func (l *lazyDaemonState) PanelURL() string {
	if srv := l.getSrv(); srv != nil {
		return server.NewTrayState(srv).PanelURL()
	}
	return ""
}

func (l *lazyDaemonState) CurrentTask() *models.TaskStatus {
	if srv := l.getSrv(); srv != nil {
		return server.NewTrayState(srv).CurrentTask()
	}
	return nil
}

func (l *lazyDaemonState) StopTask() {
	if srv := l.getSrv(); srv != nil {
		server.NewTrayState(srv).StopTask()
	}
}

func (l *lazyDaemonState) RequestShutdown() {
	if srv := l.getSrv(); srv != nil {
		server.NewTrayState(srv).RequestShutdown()
	}
}
