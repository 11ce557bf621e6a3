package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"or3sync/internal/app/client/config"
	syncdomain "or3sync/internal/domain/sync"
	"or3sync/internal/hlc"
)

var (
	ErrNoWorkspace      = errors.New("no workspace selected, create one or run `workspace use`")
	ErrNotAuthenticated = errors.New("not logged in")
)

// App is one device: a local replica, its outbox and the connection to
// the sync server.
type App struct {
	config     *config.Config
	log        *slog.Logger
	httpClient *httpClient
	store      *Store
	clock      *hlc.Clock
	sync       *SyncService
}

func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	store, err := OpenStore(cfg.DataPath, log)
	if err != nil {
		return nil, err
	}

	// Local writes must sort after everything already in the replica,
	// even if the wall clock went backwards since the last run.
	clock := hlc.NewClock(cfg.DeviceID, 0)
	last, err := store.MaxClock(ctx)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if !last.IsZero() {
		_ = clock.Update(last)
	}

	httpCl := NewHTTPClient(cfg.ServerAddress, cfg.RequestTimeout, log)
	httpCl.SetToken(cfg.Token)

	syncCfg := SyncConfig{
		Interval:   cfg.SyncInterval,
		PushBatch:  cfg.PushBatch,
		PageSize:   cfg.PageSize,
		MaxRetries: cfg.MaxRetries,
	}

	return &App{
		config:     cfg,
		log:        log.With("component", "app"),
		httpClient: httpCl,
		store:      store,
		clock:      clock,
		sync:       NewSyncService(store, httpCl, clock, cfg.DeviceID, syncCfg, log),
	}, nil
}

func (a *App) Close() error {
	return a.store.Close()
}

func (a *App) Config() *config.Config {
	return a.config
}

func (a *App) CheckConnection(ctx context.Context) error {
	return a.httpClient.HealthCheck(ctx)
}

func (a *App) IsAuthenticated() bool {
	return a.config.Token != ""
}

func (a *App) Register(ctx context.Context, login, password string) (string, error) {
	return a.httpClient.Register(ctx, login, password)
}

// Login opens a session and stores its token in the config file.
func (a *App) Login(ctx context.Context, login, password string) error {
	token, userID, err := a.httpClient.Login(ctx, login, password)
	if err != nil {
		return err
	}
	a.httpClient.SetToken(token)
	a.config.Token = token
	a.config.UserID = userID
	a.log.Info("logged in", "user_id", userID)
	return a.config.Save()
}

func (a *App) Logout() error {
	a.httpClient.SetToken("")
	a.config.Token = ""
	a.config.UserID = ""
	return a.config.Save()
}

// CreateWorkspace creates a workspace owned by the current user and
// selects it.
func (a *App) CreateWorkspace(ctx context.Context, name string) (string, error) {
	if !a.IsAuthenticated() {
		return "", ErrNotAuthenticated
	}
	id, err := a.httpClient.CreateWorkspace(ctx, name)
	if err != nil {
		return "", err
	}
	return id, a.UseWorkspace(id)
}

func (a *App) Workspaces(ctx context.Context) ([]Workspace, error) {
	if !a.IsAuthenticated() {
		return nil, ErrNotAuthenticated
	}
	return a.httpClient.ListWorkspaces(ctx)
}

func (a *App) UseWorkspace(id string) error {
	a.config.Workspace = id
	return a.config.Save()
}

func (a *App) AddMember(ctx context.Context, userID, role string) error {
	ws, err := a.workspace()
	if err != nil {
		return err
	}
	return a.httpClient.AddMember(ctx, ws, userID, role)
}

// Put writes payload to (table, pk) locally and queues it for push.
func (a *App) Put(ctx context.Context, table, pk string, payload json.RawMessage) (*OutboxEntry, error) {
	if !json.Valid(payload) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	op := syncdomain.OpCreate
	cur, err := a.store.Get(ctx, a.config.Workspace, table, pk)
	switch {
	case err == nil && !cur.Deleted:
		op = syncdomain.OpUpdate
	case err != nil && !errors.Is(err, ErrRecordNotFound):
		return nil, err
	}
	return a.enqueue(ctx, table, pk, op, payload)
}

func (a *App) Delete(ctx context.Context, table, pk string) (*OutboxEntry, error) {
	return a.enqueue(ctx, table, pk, syncdomain.OpDelete, nil)
}

func (a *App) enqueue(ctx context.Context, table, pk string, op syncdomain.Operation, payload json.RawMessage) (*OutboxEntry, error) {
	ws, err := a.workspace()
	if err != nil {
		return nil, err
	}
	e := OutboxEntry{
		OpID:        uuid.NewString(),
		WorkspaceID: ws,
		TableName:   table,
		PrimaryKey:  pk,
		Operation:   op,
		Payload:     payload,
		Clock:       a.clock.Now(),
		Status:      OutboxPending,
	}
	if err := a.store.Enqueue(ctx, e); err != nil {
		return nil, err
	}
	a.log.Debug("queued", "op_id", e.OpID, "operation", op, "table", table, "pk", pk)
	return &e, nil
}

func (a *App) Get(ctx context.Context, table, pk string) (*LocalRecord, error) {
	ws, err := a.workspace()
	if err != nil {
		return nil, err
	}
	return a.store.Get(ctx, ws, table, pk)
}

func (a *App) List(ctx context.Context, table string) ([]LocalRecord, error) {
	ws, err := a.workspace()
	if err != nil {
		return nil, err
	}
	return a.store.List(ctx, ws, table)
}

func (a *App) Status(ctx context.Context) (Status, error) {
	ws, err := a.workspace()
	if err != nil {
		return Status{}, err
	}
	return a.store.Status(ctx, ws)
}

func (a *App) Sync(ctx context.Context) (*SyncResult, error) {
	if !a.IsAuthenticated() {
		return nil, ErrNotAuthenticated
	}
	ws, err := a.workspace()
	if err != nil {
		return nil, err
	}
	return a.sync.Sync(ctx, ws)
}

// Watch syncs the selected workspace now and then every sync interval
// until ctx is done.
func (a *App) Watch(ctx context.Context) error {
	if _, err := a.Sync(ctx); err != nil {
		return err
	}
	a.sync.StartAutoSync(ctx, a.config.Workspace)
	return nil
}

func (a *App) workspace() (string, error) {
	if a.config.Workspace == "" {
		return "", ErrNoWorkspace
	}
	return a.config.Workspace, nil
}
