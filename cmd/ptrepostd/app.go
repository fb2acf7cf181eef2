package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/ptrepost/ptrepost/internal/admission"
	"github.com/ptrepost/ptrepost/internal/applog"
	"github.com/ptrepost/ptrepost/internal/collab"
	"github.com/ptrepost/ptrepost/internal/config"
	"github.com/ptrepost/ptrepost/internal/feed"
	"github.com/ptrepost/ptrepost/internal/lock"
	"github.com/ptrepost/ptrepost/internal/nodeid"
	"github.com/ptrepost/ptrepost/internal/publish"
	"github.com/ptrepost/ptrepost/internal/qbt"
	"github.com/ptrepost/ptrepost/internal/reconcile"
	"github.com/ptrepost/ptrepost/internal/store"
	"github.com/ptrepost/ptrepost/internal/supervisor"
)

// app is the injected Application context of spec §9: built once at boot and
// passed by reference into every component, replacing the teacher's
// process-wide globals (internal/db.DB as a package var, a bare http.Client).
type app struct {
	cfg   *config.Config
	log   zerolog.Logger
	store *store.Store
	qbt   *qbt.Client
	locks *lock.Manager

	supervisor *supervisor.Supervisor
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cfg.NodeID, err = nodeid.Resolve(cfg.NodeID); err != nil {
		return nil, fmt.Errorf("resolve node id: %w", err)
	}

	log := applog.New(os.Stdout, true, "info").With().Str("node_id", cfg.NodeID).Logger()

	st, err := store.Connect(ctx, cfg.ConnectionString(), applog.Component(log, "store"))
	if err != nil {
		return nil, fmt.Errorf("connect store: %w", err)
	}

	creds := cfg.SiteCreds[cfg.TargetWebsite]
	qbtClient := qbt.New(cfg.QBURL, creds.Username, creds.Password, applog.Component(log, "qbt"))
	if _, err := qbtClient.Ping(ctx); err != nil {
		return nil, fmt.Errorf("qbt ping: %w", err)
	}

	locks := lock.NewManager(st.DB)

	poller, err := feed.New(st, locks, cfg.NodeID, cfg.ProxyURL, applog.Component(log, "feed"))
	if err != nil {
		return nil, fmt.Errorf("build feed poller: %w", err)
	}

	var metadata collab.MetadataLookup
	admissionCtrl, err := admission.New(st, qbtClient, metadata, cfg, applog.Component(log, "admission"))
	if err != nil {
		return nil, fmt.Errorf("build admission controller: %w", err)
	}

	// screenshots, imageHost, tracker and metadata are explicitly out of
	// scope external collaborators (spec §1): only their Go interface is
	// specified here, not a concrete binding. newApp leaves all four unset
	// (nil interfaces, and a TargetTracker with a nil Publish func).
	mediaInfo := collab.ExecMediaInfoExtractor{}
	var screenshots collab.ScreenshotGenerator
	var imageHost collab.ImageHost
	var tracker collab.TargetTracker

	pipeline := publish.New(st, qbtClient, mediaInfo, screenshots, imageHost, metadata, tracker, cfg, applog.Component(log, "publish"))

	downloads := reconcile.NewDownloadReconciler(st, qbtClient, pipeline, cfg.NodeID, applog.Component(log, "reconcile.download"))
	uploads := reconcile.NewUploadReconciler(st, qbtClient, cfg.NodeID, applog.Component(log, "reconcile.upload"))

	sup := supervisor.New(st, poller, admissionCtrl, downloads, uploads, cfg, applog.Component(log, "supervisor"))

	return &app{cfg: cfg, log: log, store: st, qbt: qbtClient, locks: locks, supervisor: sup}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
