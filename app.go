package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/kwv/multiview/registration"
)

// App encapsulates the application state and dependencies
type App struct {
	Config       *registration.Config
	Dataset      *registration.Dataset
	StateTracker *registration.StateTracker
	MQTTClient   *registration.MQTTClient
	Publisher    *registration.Publisher
	Runs         *registration.RunStore
	Logger       *zap.SugaredLogger

	// CLI flags
	ConfigFile  string
	DatasetFile string
	SQLiteFile  string
	HTTPAddr    string
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		StateTracker: registration.NewStateTracker(),
		Logger:       zap.NewNop().Sugar(),
	}
}

// Load reads the configuration, the dataset and, when configured, opens the
// run history database. Without a config file the defaults are used.
func (a *App) Load() error {
	config := registration.DefaultConfig()
	if a.ConfigFile != "" {
		loaded, err := registration.LoadConfig(a.ConfigFile)
		if err != nil {
			return errors.Wrapf(err, "loading config %s", a.ConfigFile)
		}
		config = loaded
	}
	a.Config = config

	logger, err := registration.NewLogger("multiview", config.Logging)
	if err != nil {
		return err
	}
	a.Logger = logger

	if a.DatasetFile == "" {
		a.DatasetFile = config.Storage.Dataset
	}
	ds, err := registration.LoadDataset(a.DatasetFile)
	if err != nil {
		return err
	}
	a.Dataset = ds
	a.Logger.Infof("[DATASET] loaded %d views from %s", len(ds.Views), a.DatasetFile)

	if a.SQLiteFile == "" {
		a.SQLiteFile = config.Storage.SQLite
	}
	if a.SQLiteFile != "" {
		runs, err := registration.OpenRunStore(a.SQLiteFile)
		if err != nil {
			return err
		}
		a.Runs = runs
	}
	if a.HTTPAddr == "" {
		a.HTTPAddr = config.HTTPAddr
	}
	return nil
}

// Close releases the database and broker connections.
func (a *App) Close() {
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	if err := a.Runs.Close(); err != nil {
		a.Logger.Warnf("[STORE] closing run database: %v", err)
	}
	_ = a.Logger.Sync()
}

// Register runs a registration unless one is already in progress.
func (a *App) Register(ctx context.Context) (*registration.Report, error) {
	if !a.StateTracker.SetRunning(true) {
		return nil, errors.New("a registration is already running")
	}
	defer a.StateTracker.SetRunning(false)
	return a.register(ctx)
}

// register runs one registration and records its outcome: the dataset is
// saved when anything may have been stored, then the state, the MQTT stream
// and the run history are updated.
func (a *App) register(ctx context.Context) (*registration.Report, error) {
	reg, err := registration.NewRegistration(a.Config, a.Dataset, a.Logger.Named("registration"))
	if err != nil {
		return nil, err
	}
	report, runErr := reg.Run(ctx)
	if runErr != nil && !report.Cancelled {
		return report, runErr
	}

	if err := registration.SaveDataset(a.DatasetFile, a.Dataset); err != nil {
		return report, err
	}
	a.StateTracker.Update(report, a.Dataset)

	if a.Publisher != nil {
		if err := a.Publisher.PublishReport(report); err != nil {
			a.Logger.Warnf("[MQTT] %v", err)
		}
	}
	if a.Runs != nil {
		// the run is recorded even when ctx was cancelled
		id, err := a.Runs.SaveRun(context.Background(), report, a.Dataset.Registrations())
		if err != nil {
			a.Logger.Warnf("[STORE] saving run: %v", err)
		} else {
			a.Logger.Infof("[STORE] saved run %d", id)
		}
	}
	return report, runErr
}

// PrintSubsets writes the pairs and subsets a registration would use.
func (a *App) PrintSubsets(w io.Writer) error {
	reg, err := registration.NewRegistration(a.Config, a.Dataset, a.Logger.Named("registration"))
	if err != nil {
		return err
	}
	setup, err := reg.Plan()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%d views, %d pairs, %d subsets\n", len(setup.Views), len(setup.Pairs), len(setup.Subsets))
	for i, s := range setup.Subsets {
		kind := ""
		if s.Singleton {
			kind = " (singleton)"
		}
		fmt.Fprintf(w, "subset %d%s: %s\n", i, kind, joinViews(s.Views))
		if len(s.Fixed) > 0 {
			fmt.Fprintf(w, "  fixed: %s\n", joinViews(s.Fixed))
		}
		for _, p := range s.Pairs {
			fmt.Fprintf(w, "  %s\n", p)
		}
	}
	return nil
}

// RemoveTransforms drops the latest (or the first) transform of the given
// views, or of every view when none are given, and saves the dataset.
func (a *App) RemoveTransforms(views []registration.ViewID, first bool) (int, error) {
	if len(views) == 0 {
		for _, d := range a.Dataset.ViewDescriptions() {
			views = append(views, d.ID)
		}
	}
	removed := 0
	for _, v := range views {
		if _, ok := a.Dataset.View(v); !ok {
			return removed, errors.Errorf("unknown view %s", v)
		}
		reg := a.Dataset.Registration(v)
		var t registration.ViewTransform
		var err error
		if first {
			t, err = reg.RemoveFirst()
		} else {
			t, err = reg.RemoveLatest()
		}
		if err != nil {
			a.Logger.Warnf("[DATASET] %v", err)
			continue
		}
		a.Dataset.SetRegistration(reg)
		a.Logger.Infof("[DATASET] %s: removed %q", v, t.Name)
		removed++
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, registration.SaveDataset(a.DatasetFile, a.Dataset)
}

// ClearCorrespondences forgets the correspondences of label and saves the dataset.
func (a *App) ClearCorrespondences(label string, views []registration.ViewID) (int, error) {
	if label == "" {
		label = a.Config.Label
	}
	removed := a.Dataset.ClearCorrespondences(label, views)
	if removed == 0 {
		return 0, nil
	}
	return removed, registration.SaveDataset(a.DatasetFile, a.Dataset)
}

// PrintRuns writes the latest runs of the history database.
func (a *App) PrintRuns(ctx context.Context, w io.Writer, limit int) error {
	if a.Runs == nil {
		return errors.New("no run database configured (storage.sqlite or --sqlite)")
	}
	runs, err := a.Runs.Runs(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs recorded")
		return nil
	}
	for _, r := range runs {
		status := "ok"
		switch {
		case r.Cancelled:
			status = "cancelled"
		case r.FailedSubsets > 0:
			status = fmt.Sprintf("%d failed", r.FailedSubsets)
		}
		fmt.Fprintf(w, "run %d  %s  label=%s method=%s model=%s views=%d subsets=%d  %v  %s\n",
			r.ID, r.Started.Format(time.RFC3339), r.Label, r.Method, r.Model, r.Views, r.Subsets,
			r.Duration.Round(time.Millisecond), status)
	}
	return nil
}

// PrintRun writes the summary of one stored run.
func (a *App) PrintRun(ctx context.Context, w io.Writer, id int64) error {
	if a.Runs == nil {
		return errors.New("no run database configured (storage.sqlite or --sqlite)")
	}
	report, err := a.Runs.Report(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprint(w, report.Summary())
	return nil
}

// Serve connects MQTT when a broker is configured and serves the
// diagnostics endpoints until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	mqttClient, err := registration.InitMQTT(a.Config, a.Logger.Named("mqtt"))
	if err != nil {
		return errors.Wrap(err, "initializing MQTT")
	}
	if mqttClient != nil {
		a.MQTTClient = mqttClient
		a.Publisher = registration.NewPublisher(mqttClient.GetClient(), a.Config.MQTT.PublishPrefix, a.Logger.Named("mqtt"))
	}

	a.StateTracker.Update(nil, a.Dataset)

	addr := a.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           newHTTPServer(ctx, a),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Infof("[HTTP] starting server on %s", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "HTTP server")
	case <-ctx.Done():
	}

	a.Logger.Info("[HTTP] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func joinViews(views []registration.ViewID) string {
	parts := make([]string, len(views))
	for i, v := range views {
		parts[i] = fmt.Sprintf("%d:%d", v.Timepoint, v.Setup)
	}
	return strings.Join(parts, " ")
}
