package web

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"path"
	"time"

	"github.com/rs/zerolog"

	"headingup/internal/calibration"
	"headingup/internal/fusion"
	"headingup/internal/gps"
	"headingup/internal/notify"
	"headingup/internal/render"
	"headingup/internal/waypoint"
)

//go:embed assets/*
var embeddedAssets embed.FS

// Fusion is the subset of *fusion.Runner the handlers drive.
type Fusion interface {
	Orientation(ctx context.Context, ev fusion.OrientationEvent) error
	Fix(ctx context.Context, f fusion.Fix) error
	Reset(ctx context.Context, reason fusion.ResetReason) error
	SetOffset(ctx context.Context, deg float64) error
	SetScreenAngle(ctx context.Context, deg float64) error
	SetTracking(ctx context.Context, on bool) error
	Tracking() bool
	Snapshot() fusion.Snapshot
}

// GPSStatus optionally exposes the receiver state on /api/status.
type GPSStatus interface {
	Snapshot() gps.Snapshot
}

type Deps struct {
	Status    *Status
	Fusion    Fusion
	Waypoints *waypoint.Store
	Offset    *calibration.Offset
	Hub       *render.Hub
	// Sink receives fly-to requests. Nil means Hub.
	Sink     render.Sink
	Notifier notify.Notifier
	Logs     *LogBuffer
	GPS      GPSStatus
	// FlyToZoom is the map zoom used for fly-to; 0 means 18.
	FlyToZoom float64
	Logger    zerolog.Logger
}

func (d *Deps) defaults() {
	if d.Status == nil {
		d.Status = NewStatus()
	}
	if d.Hub == nil {
		d.Hub = render.NewHub()
	}
	if d.Sink == nil {
		d.Sink = d.Hub
	}
	if d.Notifier == nil {
		d.Notifier = d.Hub
	}
	if d.FlyToZoom <= 0 {
		d.FlyToZoom = 18
	}
	d.Logger = d.Logger.With().Str("component", "web").Logger()
}

func Handler(d Deps) http.Handler {
	d.defaults()
	api := &api{d: d}
	mux := http.NewServeMux()

	assetsFS, err := fs.Sub(embeddedAssets, "assets")
	if err != nil {
		// Should never happen; keep server functional with API only.
		assetsFS = nil
	}

	mux.HandleFunc("/api/status", api.status)
	mux.HandleFunc("/api/waypoints", api.waypoints)
	mux.HandleFunc("/api/waypoints/{id}", api.waypoint)
	mux.HandleFunc("/api/waypoints/{id}/fly", api.fly)
	mux.HandleFunc("/api/parse", api.parse)
	mux.HandleFunc("/api/offset", api.offset)
	mux.HandleFunc("/api/sensors/orientation", api.orientation)
	mux.HandleFunc("/api/sensors/fix", api.fix)
	mux.HandleFunc("/api/sensors/screen", api.screen)
	mux.HandleFunc("/api/sensors/visible", api.visible)
	mux.HandleFunc("/api/tracking", api.tracking)
	mux.Handle("/ws", newBridge(d))

	if d.Logs != nil {
		mux.Handle("/api/logs", d.Logs.Handler())
	}
	mux.Handle("/api/about", AboutHandler())

	if assetsFS != nil {
		fileServer := http.FileServer(http.FS(assetsFS))
		mux.Handle("/assets/", http.StripPrefix("/assets/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			fileServer.ServeHTTP(w, r)
		})))
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodGet) {
			return
		}
		if r.URL.Path != "/" {
			if path.Dir(r.URL.Path) == "/api" || path.Dir(r.URL.Path) == "/assets" {
				http.NotFound(w, r)
				return
			}
		}

		if assetsFS == nil {
			snap := d.Fusion.Snapshot()
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>headingup</title></head><body>")
			_, _ = fmt.Fprintf(w, "<h1>headingup</h1><p>Use <a href=\"/api/status\">/api/status</a>.</p>")
			_, _ = fmt.Fprintf(w, "<pre>bearing=%d valid=%t source=%s</pre></body></html>",
				snap.Reading.Rounded, snap.Reading.Valid, snap.ActiveSource)
			return
		}

		b, err := fs.ReadFile(assetsFS, "index.html")
		if err != nil {
			http.Error(w, "ui unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(b)
	})

	return mux
}

func Serve(ctx context.Context, listenAddr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
