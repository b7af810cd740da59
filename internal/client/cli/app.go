package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrijs2005/trustkeeper/internal/buildinfo"
	"github.com/dmitrijs2005/trustkeeper/internal/client/archive"
	"github.com/dmitrijs2005/trustkeeper/internal/client/client"
	"github.com/dmitrijs2005/trustkeeper/internal/client/config"
	"github.com/dmitrijs2005/trustkeeper/internal/client/credstore"
	"github.com/dmitrijs2005/trustkeeper/internal/client/events"
	"github.com/dmitrijs2005/trustkeeper/internal/client/fingerprint"
	"github.com/dmitrijs2005/trustkeeper/internal/client/repositories"
	"github.com/dmitrijs2005/trustkeeper/internal/client/services"
	"github.com/dmitrijs2005/trustkeeper/internal/client/session"
	"github.com/dmitrijs2005/trustkeeper/internal/cryptox"
	"github.com/dmitrijs2005/trustkeeper/internal/filex"
	"github.com/dmitrijs2005/trustkeeper/internal/logging"
)

const (
	databaseFile = "trustkeeper.db"
	keyFile      = "trustkeeper.key"
	vaultSalt    = "trustkeeper/vault/v1"
)

// Archiver stores raw audit exports off-device.
type Archiver interface {
	Upload(ctx context.Context, identity string, body []byte) (string, error)
	DownloadURL(ctx context.Context, key string) (string, error)
}

type App struct {
	auth      services.AuthService
	trust     services.TrustService
	stepup    *services.StepUpController
	telemetry *services.TelemetryAggregator
	archiver  Archiver
	state     *session.State
	store     credstore.Store
	logger    logging.Logger
	devMode   bool

	reader *bufio.Reader
	out    io.Writer

	closers []func() error
}

// NewApp builds the full client from cfg. Call Close when done.
func NewApp(ctx context.Context, cfg *config.Config, logger logging.Logger) (_ *App, err error) {
	logger = logging.OrNop(logger)
	app := &App{logger: logger, devMode: cfg.DevMode, reader: bufio.NewReader(os.Stdin), out: os.Stdout}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	dir, err := filex.EnsurePrivateDir(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}

	key, err := cryptox.LoadOrCreateKeyFile(filepath.Join(dir, keyFile))
	if err != nil {
		return nil, fmt.Errorf("key file: %w", err)
	}
	vault, err := cryptox.NewVault(cryptox.DeriveKey(key, []byte(vaultSalt)))
	if err != nil {
		return nil, err
	}

	repos, err := repositories.InitDatabase(ctx, filepath.Join(dir, databaseFile))
	if err != nil {
		return nil, fmt.Errorf("error initializing database: %w", err)
	}
	app.closers = append(app.closers, repos.Close)

	fp := fingerprint.NewProvider(repos.Metadata, buildinfo.Version)

	var store credstore.Store
	switch cfg.CredentialBackend {
	case config.BackendRedis:
		installationID, err := fp.InstallationID(ctx)
		if err != nil {
			return nil, err
		}
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		app.closers = append(app.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		store = credstore.NewRedisStore(rdb, vault, "", installationID)
	case config.BackendMemory:
		logger.Warn(ctx, "device binding is kept in memory and lost on exit")
		store = credstore.NewMemoryStore()
	default:
		store = credstore.NewSQLiteStore(repos.Metadata, vault)
	}
	app.store = store

	app.state = session.NewState(session.NewMetadataPersister(repos.DB, vault), logger)
	if err := app.state.Load(ctx); err != nil {
		logger.Warn(ctx, "stored session could not be restored", "error", err)
	}

	bus := events.NewBus(logger)
	app.closers = append(app.closers, bus.Close)
	unsubscribe := services.PublishSessionEvents(app.state, bus, logger)
	app.closers = append(app.closers, func() error { unsubscribe(); return nil })
	if err := app.watchEvents(bus); err != nil {
		return nil, err
	}

	httpClient, err := client.NewHTTPClient(cfg.ServerURL, buildinfo.ClientName(cfg.ClientName),
		client.WithTimeout(cfg.RequestTimeout), client.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	app.auth = services.NewAuthService(httpClient, app.state, store, fp, bus, logger)
	app.trust = services.NewTrustService(httpClient, app.state, store, bus, logger)
	app.stepup = services.NewStepUpController(app.auth, app.state, bus, logger)
	app.telemetry = services.NewTelemetryAggregator(app.trust, app.state, logger)
	app.closers = append(app.closers, func() error { app.telemetry.Close(); return nil })

	if cfg.Archive.Bucket != "" {
		arch, err := archive.New(ctx, archive.Settings(cfg.Archive), logger)
		if err != nil {
			return nil, err
		}
		app.archiver = arch
	}

	return app, nil
}

// watchEvents logs every security event published on bus.
func (a *App) watchEvents(bus *events.Bus) error {
	for _, typ := range events.AllTypes {
		unsubscribe, err := bus.Subscribe(typ, a.logEvent)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", typ, err)
		}
		a.closers = append(a.closers, func() error { unsubscribe(); return nil })
	}
	return nil
}

func (a *App) logEvent(ctx context.Context, evt events.Event) {
	args := []any{"type", evt.Type}
	for k, v := range evt.Attributes {
		args = append(args, k, v)
	}
	a.logger.Info(ctx, "security event", args...)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) Run(ctx context.Context) {
	fmt.Fprintln(a.out, "Welcome to trustkeeper CLI (type 'help' for commands)")
	if cur, ok := a.state.Current(); ok {
		fmt.Fprintf(a.out, "Restored session for %s", cur.Identity)
		if left := session.ExpiresIn(cur, time.Now()); left > 0 {
			fmt.Fprintf(a.out, " (expires in %s)", left.Round(time.Minute))
		}
		fmt.Fprintln(a.out)
	}
	runREPL(ctx, a, a.getStatus, a.reader)
}

func (a *App) isLoggedIn() bool {
	return a.state != nil && a.state.IsAuthenticated()
}

func (a *App) getStatus() string {
	s := ""
	if a.isLoggedIn() {
		s = a.state.Identity()
	}
	if a.stepup != nil {
		if st := a.stepup.State(); st == services.StepUpAwaitingCode {
			if s != "" {
				s += " "
			}
			s += "step-up"
		}
	}
	if s != "" {
		s = fmt.Sprintf("(%s)", s)
	}
	return s
}
