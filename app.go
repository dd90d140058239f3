package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"github.com/kwv/starmesh/match"
	"github.com/kwv/starmesh/store"
)

// defaultConfigFile may be missing; any other config path must exist.
const defaultConfigFile = "config.yaml"

// rescanAge is how old a registration may get before the watcher redoes it
// on startup.
const rescanAge = 24 * time.Hour

// App encapsulates the application state and dependencies
type App struct {
	Config        *match.Config
	Logger        *slog.Logger
	Matcher       *match.Matcher
	Reference     *match.Reference
	ReferenceID   string
	Registrations *match.RegistrationCache
	StateTracker  *match.StateTracker
	MQTTClient    *match.MQTTClient
	Publisher     *match.Publisher
	Store         *store.Store

	// Out receives human-readable reports.
	Out io.Writer

	// CLI flags
	ConfigFile       string
	LogLevel         string
	RegistrationFile string
	DatabaseFile     string
	OutputJSON       string
	OutputSVG        string
	OutputPNG        string
	LabeledPNG       string
	OutputGeoJSON    string
	RA               float64
	Dec              float64
	Width            float64
	Height           float64
	Workers          int
	ReferenceFile    string
	HttpPort         int
	HttpMode         bool

	mu sync.Mutex // guards Registrations
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		StateTracker: match.NewStateTracker(),
		Out:          os.Stdout,
		ConfigFile:   defaultConfigFile,
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.LogLevel = opts.LogLevel
	a.RegistrationFile = opts.RegistrationFile
	a.DatabaseFile = opts.DatabaseFile
	a.OutputJSON = opts.OutputJSON
	a.OutputSVG = opts.OutputSVG
	a.OutputPNG = opts.OutputPNG
	a.LabeledPNG = opts.LabeledPNG
	a.OutputGeoJSON = opts.OutputGeoJSON
	a.RA = opts.RA
	a.Dec = opts.Dec
	a.Width = opts.Width
	a.Height = opts.Height
	a.Workers = opts.Workers
	a.ReferenceFile = opts.ReferenceFile
	a.HttpPort = opts.HttpPort
	a.HttpMode = opts.HttpMode
}

// setup loads the configuration and builds the matcher, logger and store.
// Flags override the file.
func (a *App) setup() error {
	if a.Matcher != nil {
		return nil
	}

	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	cfg.ApplyEnv()
	if a.LogLevel != "" {
		cfg.Logging.Level = a.LogLevel
	}
	if a.Workers > 0 {
		cfg.Sequence.Workers = a.Workers
	}
	if a.RegistrationFile != "" {
		cfg.Storage.RegistrationFile = a.RegistrationFile
	}
	if a.DatabaseFile != "" {
		cfg.Storage.Database = a.DatabaseFile
	}
	a.Config = cfg

	if a.Logger == nil {
		a.Logger = newLogger(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	}
	m, err := match.NewMatcher(cfg.Params, match.WithLogger(a.Logger))
	if err != nil {
		return fmt.Errorf("invalid matching parameters: %w", err)
	}
	a.Matcher = m

	if cfg.Storage.Database != "" && a.Store == nil {
		s, err := store.New(cfg.Storage.Database)
		if err != nil {
			return fmt.Errorf("opening run history %s: %w", cfg.Storage.Database, err)
		}
		a.Store = s
	}
	return nil
}

func (a *App) loadConfig() (*match.Config, error) {
	if a.ConfigFile == "" {
		return match.DefaultConfig(), nil
	}
	cfg, err := match.LoadConfig(a.ConfigFile)
	if err == nil {
		return cfg, nil
	}
	if a.ConfigFile == defaultConfigFile {
		if _, statErr := os.Stat(a.ConfigFile); os.IsNotExist(statErr) {
			return match.DefaultConfig(), nil
		}
	}
	return nil, err
}

// Close releases the store and the MQTT connection.
func (a *App) Close() {
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	if err := a.Store.Close(); err != nil && a.Logger != nil {
		a.Logger.Warn("closing run history", "error", err)
	}
}

// frameID names a frame after its star list file.
func frameID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// loadStars reads an "x y mag" star list.
func loadStars(path string) ([]match.Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := match.ParseStarList(f, match.ParseOptions{})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return match.CatalogPoints(records), nil
}

// loadCatalog reads an "ra dec mag" catalog extract, positions in degrees.
func loadCatalog(path string) ([]match.CatalogStar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := match.ParseStarList(f, match.ParseOptions{})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	stars := make([]match.CatalogStar, len(records))
	for i, r := range records {
		stars[i] = match.CatalogStar{ID: i, Sky: match.SkyCoord{RA: r.X, Dec: r.Y}, Mag: r.Mag1}
	}
	return stars, nil
}

// RunMatch matches star list a against star list b and writes the requested
// outputs.
func (a *App) RunMatch(pathA, pathB string) error {
	if err := a.setup(); err != nil {
		return err
	}
	starsA, err := loadStars(pathA)
	if err != nil {
		return err
	}
	starsB, err := loadStars(pathB)
	if err != nil {
		return err
	}

	start := time.Now()
	res, err := a.Matcher.Match(starsA, starsB)
	a.recordRun(store.Run{
		Kind:      store.KindMatch,
		FrameID:   frameID(pathA),
		Reference: frameID(pathB),
		Duration:  time.Since(start),
	}, res, err)
	if res == nil {
		return fmt.Errorf("matching %s against %s: %w", pathA, pathB, err)
	}
	if err != nil {
		a.Logger.Warn("match result has a caveat", "error", err)
	}

	t := res.Transform
	fmt.Fprintf(a.Out, "%s -> %s\n", frameID(pathA), frameID(pathB))
	fmt.Fprintf(a.Out, "Order: %s  attempts: %d\n", t.Order, res.Attempts)
	fmt.Fprintf(a.Out, "X: %v\n", t.X[:t.Order.Terms()])
	fmt.Fprintf(a.Out, "Y: %v\n", t.Y[:t.Order.Terms()])
	fmt.Fprintf(a.Out, "Scale: %.6f  rotation: %.4f°\n", t.Scale(), t.RotationDeg())
	printDiagnostics(a.Out, res.Diagnostics)

	if werr := a.writeMatchOutputs(res); werr != nil {
		return werr
	}
	return err
}

func (a *App) writeMatchOutputs(res *match.Result) error {
	if a.OutputJSON != "" {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling result: %w", err)
		}
		if err := os.WriteFile(a.OutputJSON, data, 0644); err != nil {
			return fmt.Errorf("writing %s: %w", a.OutputJSON, err)
		}
	}
	outputs := []struct {
		path   string
		render func(io.Writer) error
	}{
		{a.OutputSVG, match.NewOverlayRenderer(res).RenderToSVG},
		{a.OutputPNG, match.NewOverlayRenderer(res).RenderToPNG},
		{a.LabeledPNG, func(w io.Writer) error { return match.RenderLabeledPNG(w, res, 1200) }},
	}
	for _, o := range outputs {
		if o.path == "" {
			continue
		}
		if err := writeFile(o.path, o.render); err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "Wrote %s\n", o.path)
	}
	return nil
}

func writeFile(path string, render func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := render(f); err != nil {
		f.Close()
		return fmt.Errorf("rendering %s: %w", path, err)
	}
	return f.Close()
}

func printDiagnostics(w io.Writer, d match.Diagnostics) {
	fmt.Fprintf(w, "Pairs: %d  inliers: %d  rms: %.4f, %.4f", d.PairMatched, d.Inliers, d.ResidualX, d.ResidualY)
	if d.Suspect {
		fmt.Fprint(w, "  SUSPECT")
	}
	fmt.Fprintln(w)
}

// RunSolve plate-solves a star list against a catalog extract around the
// --ra/--dec guess.
func (a *App) RunSolve(starsPath, catalogPath string) error {
	if err := a.setup(); err != nil {
		return err
	}
	stars, err := loadStars(starsPath)
	if err != nil {
		return err
	}
	catalog, err := loadCatalog(catalogPath)
	if err != nil {
		return err
	}

	var center *orb.Point
	if a.Width > 0 && a.Height > 0 {
		center = &orb.Point{a.Width / 2, a.Height / 2}
	}

	start := time.Now()
	guess := match.SkyCoord{RA: a.RA, Dec: a.Dec}
	sol, err := match.NewSolver(a.Matcher).Solve(stars, catalog, guess, center)
	run := store.Run{Kind: store.KindSolve, FrameID: frameID(starsPath), Reference: frameID(catalogPath), Duration: time.Since(start)}
	if sol != nil {
		run.Diagnostics = sol.Diagnostics
	}
	a.recordRun(run, nil, err)
	if sol == nil {
		return fmt.Errorf("solving %s: %w", starsPath, err)
	}

	fmt.Fprintf(a.Out, "%s: %s\n", frameID(starsPath), sol.State)
	fmt.Fprintf(a.Out, "Center: %s  (pixel %.1f, %.1f)\n", sol.Center, sol.ImageCenter[0], sol.ImageCenter[1])
	fmt.Fprintf(a.Out, "Pixel scale: %.4f\"/px  rotation: %.3f°\n", sol.PixelScale, sol.RotationDeg)
	fmt.Fprintf(a.Out, "Trials: %d  metric: %.3g\n", sol.Trials, sol.Metric)
	printDiagnostics(a.Out, sol.Diagnostics)

	if a.OutputGeoJSON != "" {
		if a.Width <= 0 || a.Height <= 0 {
			return errors.New("--geojson needs --width and --height")
		}
		data, gerr := match.FootprintGeoJSON(sol, a.Width, a.Height)
		if gerr != nil {
			return fmt.Errorf("building footprint: %w", gerr)
		}
		if werr := os.WriteFile(a.OutputGeoJSON, data, 0644); werr != nil {
			return fmt.Errorf("writing %s: %w", a.OutputGeoJSON, werr)
		}
		fmt.Fprintf(a.Out, "Wrote %s\n", a.OutputGeoJSON)
	}
	return err
}

// setupReference loads the reference star list and the registration cache
// that belongs to it.
func (a *App) setupReference(path string) error {
	if path == "" {
		return errors.New("a reference star list is required")
	}
	stars, err := loadStars(path)
	if err != nil {
		return err
	}
	ref, err := a.Matcher.NewReference(stars)
	if err != nil {
		return fmt.Errorf("preparing reference %s: %w", path, err)
	}
	a.Reference = ref
	a.ReferenceID = frameID(path)
	a.StateTracker.SetReference(a.ReferenceID)

	cache, err := match.LoadRegistrations(a.Config.Storage.RegistrationFile)
	if err != nil {
		a.Logger.Warn("ignoring unreadable registration cache", "path", a.Config.Storage.RegistrationFile, "error", err)
	}
	if cache == nil || cache.Reference != a.ReferenceID {
		cache = match.NewRegistrationCache(a.ReferenceID)
	}
	a.mu.Lock()
	a.Registrations = cache
	a.mu.Unlock()
	return nil
}

// RunRegister registers every frame against the reference in parallel and
// updates the registration cache.
func (a *App) RunRegister(ctx context.Context, referencePath string, framePaths []string) error {
	if err := a.setup(); err != nil {
		return err
	}
	if err := a.setupReference(referencePath); err != nil {
		return err
	}

	frames := make([]match.Frame, 0, len(framePaths))
	for _, p := range framePaths {
		stars, err := loadStars(p)
		if err != nil {
			return err
		}
		frames = append(frames, match.Frame{ID: frameID(p), Stars: stars})
	}

	results, err := match.RegisterSequence(ctx, a.Matcher, a.Reference, frames, a.Config.Sequence.Workers)
	failed := 0
	for _, r := range results {
		a.record(r)
		status := "ok"
		switch {
		case r.Err != nil && match.IsSoft(r.Err):
			status = "caveat: " + r.Err.Error()
		case r.Err != nil:
			status = "FAILED: " + r.Err.Error()
			failed++
		}
		var d match.Diagnostics
		if r.Result != nil {
			d = r.Result.Diagnostics
		}
		fmt.Fprintf(a.Out, "%-24s pairs %3d  inliers %3d  %s\n", r.FrameID, d.PairMatched, d.Inliers, status)
	}
	if serr := a.saveRegistrations(); serr != nil {
		return serr
	}
	a.printStatus(frames)
	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d frames failed to register", failed, len(results))
	}
	return nil
}

// printStatus summarises the registration cache for the given frames.
func (a *App) printStatus(frames []match.Frame) {
	ids := make([]string, len(frames))
	for i, f := range frames {
		ids[i] = f.ID
	}
	a.mu.Lock()
	status := a.Registrations.Status(ids)
	a.mu.Unlock()

	fmt.Fprintf(a.Out, "%d of %d frames registered against %s\n", len(ids)-len(status.Missing), len(ids), status.Reference)
	if len(status.Missing) > 0 {
		fmt.Fprintf(a.Out, "Missing: %s\n", strings.Join(status.Missing, ", "))
	}
}

// record fans one frame outcome out to the cache, tracker, publisher and store.
func (a *App) record(r match.FrameResult) {
	a.mu.Lock()
	if a.Registrations != nil {
		a.Registrations.Record(r)
	}
	a.mu.Unlock()

	a.StateTracker.Update(r)

	if a.Publisher != nil {
		var d match.Diagnostics
		if r.Result != nil {
			d = r.Result.Diagnostics
		}
		if err := a.Publisher.PublishDiagnostics(r.FrameID, d, r.Err); err != nil {
			a.Logger.Debug("diagnostics not published", "frame", r.FrameID, "error", err)
		}
	}

	if _, err := a.Store.RecordFrame(a.ReferenceID, r); err != nil {
		a.Logger.Warn("recording run", "frame", r.FrameID, "error", err)
	}
}

// recordRun stores a one-off match or solve run.
func (a *App) recordRun(run store.Run, res *match.Result, err error) {
	if res != nil {
		run.Diagnostics = res.Diagnostics
	}
	if err != nil {
		run.Error = err.Error()
	}
	if _, rerr := a.Store.RecordRun(run); rerr != nil {
		a.Logger.Warn("recording run", "frame", run.FrameID, "error", rerr)
	}
}

func (a *App) saveRegistrations() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Registrations == nil {
		return nil
	}
	if err := match.SaveRegistrations(a.Config.Storage.RegistrationFile, a.Registrations); err != nil {
		return fmt.Errorf("saving registrations: %w", err)
	}
	return nil
}

// processFrame registers one frame against the reference and persists the
// outcome.
func (a *App) processFrame(id string, stars []match.Point) match.FrameResult {
	start := time.Now()
	res, err := a.registerFrame(id, stars)
	r := match.FrameResult{FrameID: id, Result: res, Err: err, Duration: time.Since(start)}
	if err != nil {
		a.Logger.Warn("frame registration failed", "frame", id, "error", err, "soft", match.IsSoft(err))
	} else {
		a.Logger.Info("frame registered", "frame", id, "pairs", res.Diagnostics.PairMatched, "inliers", res.Diagnostics.Inliers)
	}
	a.record(r)
	if serr := a.saveRegistrations(); serr != nil {
		a.Logger.Error("saving registrations", "error", serr)
	}
	return r
}

// registerFrame refits a frame from its cached transform when it has one and
// falls back to a blind match when there is none or it no longer fits.
func (a *App) registerFrame(id string, stars []match.Point) (*match.Result, error) {
	a.mu.Lock()
	seeded := id != a.ReferenceID && a.Registrations.HasTransform(id)
	seed := a.Registrations.TransformFor(id)
	a.mu.Unlock()

	if seeded {
		res, err := a.Matcher.Refine(stars, a.Reference.Points(), seed)
		if err == nil {
			a.Logger.Debug("frame refit from cached transform", "frame", id)
			return res, nil
		}
		a.Logger.Debug("cached transform no longer fits, matching blind", "frame", id, "error", err)
	}
	return a.Matcher.MatchReference(stars, a.Reference)
}

// handleIngest registers a star list received over MQTT.
func (a *App) handleIngest(id string, dets []match.Detection, err error) {
	if err != nil {
		a.Logger.Warn("bad star list on ingest topic", "frame", id, "error", err)
		return
	}
	a.processFrame(id, match.FromDetections(dets))
}

// handleFile registers a star list that appeared in the watched directory.
func (a *App) handleFile(path string) {
	stars, err := loadStars(path)
	if err != nil {
		a.Logger.Warn("unreadable star list", "path", path, "error", err)
		return
	}
	a.processFrame(frameID(path), stars)
}

// RunWatch registers star lists as they appear in dir (and, with a broker
// configured, on the MQTT ingest topic) until ctx is done.
func (a *App) RunWatch(ctx context.Context, dir string) error {
	if err := a.setup(); err != nil {
		return err
	}
	if err := a.setupReference(a.ReferenceFile); err != nil {
		return err
	}

	if a.Config.MQTT.Broker != "" {
		client, err := match.ConnectMQTT(ctx, a.Config.MQTT, a.handleIngest, a.Logger)
		if err != nil {
			return fmt.Errorf("initializing MQTT: %w", err)
		}
		a.MQTTClient = client
		a.Publisher = match.NewPublisher(client.Client(), a.Config.MQTT.PublishPrefix, a.Logger)
		a.Logger.Info("MQTT diagnostics enabled",
			"publish", a.Config.MQTT.PublishPrefix+"/{frameID}",
			"ingest", a.Config.MQTT.PublishPrefix+"/ingest/{frameID}")
	}

	if a.HttpMode {
		srv := &http.Server{
			Addr:              fmt.Sprintf("0.0.0.0:%d", a.HttpPort),
			Handler:           newHTTPServer(a.StateTracker, a.Store, a.Logger),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			a.Logger.Info("HTTP server starting", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.Logger.Error("HTTP server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	a.registerExisting(dir)

	w, err := newStarListWatcher(dir, a.Logger)
	if err != nil {
		return err
	}
	a.Logger.Info("watching for star lists", "dir", dir, "reference", a.ReferenceID)
	return w.Run(ctx, a.handleFile)
}

// registerExisting registers star lists already in dir whose registration is
// missing or stale.
func (a *App) registerExisting(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		a.Logger.Warn("listing star lists", "dir", dir, "error", err)
		return
	}
	for _, e := range entries {
		if e.IsDir() || !isStarList(e.Name()) {
			continue
		}
		id := frameID(e.Name())
		if id == a.ReferenceID {
			continue
		}
		a.mu.Lock()
		needs := a.Registrations.NeedsRegistration(id, rescanAge)
		a.mu.Unlock()
		if needs {
			a.handleFile(filepath.Join(dir, e.Name()))
		}
	}
}
