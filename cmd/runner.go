package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/cuedeck/internal/auth"
	"github.com/desertthunder/cuedeck/internal/formatter"
	"github.com/desertthunder/cuedeck/internal/gateway"
	"github.com/desertthunder/cuedeck/internal/models"
	"github.com/desertthunder/cuedeck/internal/realtime"
	"github.com/desertthunder/cuedeck/internal/repositories"
	"github.com/desertthunder/cuedeck/internal/shared"
	"github.com/gorilla/websocket"
	"github.com/urfave/cli/v3"
)

const defaultConnectTimeout = 10 * time.Second

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// The session (SQLite store, cookie jar and gateway) is built on first use so commands that never talk
// to the backend do not open the database.
type Runner struct {
	config     *shared.Config
	logger     *log.Logger
	output     io.Writer
	httpClient *http.Client
	dialer     *websocket.Dialer
	format     *formatter.Formatter

	mu      sync.Mutex
	db      *sql.DB
	store   *auth.Store
	jar     *auth.Jar
	gateway *gateway.Gateway
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	Logger     *log.Logger
	Output     io.Writer
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	// Store replaces the SQLite-backed session store.
	Store   *auth.Store
	Palette *formatter.Palette
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	return &Runner{
		config:     opts.Config,
		logger:     opts.Logger,
		output:     opts.Output,
		httpClient: opts.HTTPClient,
		dialer:     opts.Dialer,
		store:      opts.Store,
		format:     formatter.New(opts.Palette),
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, authCommand, productionCommand, presenceCommand, intercomCommand, chatCommand,
		automationCommand, hardwareCommand, webhooksCommand, socialCommand, apiCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// configure applies the global flags before any action runs.
func (r *Runner) configure(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if cmd.Bool("debug") {
		shared.SetLogLevel(r.logger, log.DebugLevel)
	}

	path := cmd.String("config")
	if _, err := os.Stat(path); err != nil {
		if cmd.IsSet("config") {
			return ctx, fmt.Errorf("%w: %s not found", shared.ErrMissingConfig, path)
		}
		return ctx, nil
	}

	config, err := shared.LoadConfig(path)
	if err != nil {
		return ctx, err
	}
	r.config = config
	return ctx, nil
}

// Close releases the database handle, if one was opened.
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

// session returns the gateway and the store it authenticates with.
func (r *Runner) session() (*gateway.Gateway, *auth.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.gateway != nil {
		return r.gateway, r.store, nil
	}

	var cookies auth.CookiePersister
	if r.store == nil {
		repo, err := r.openRepository()
		if err != nil {
			return nil, nil, err
		}
		persisted, err := repo.LoadSession()
		if err != nil {
			return nil, nil, err
		}

		r.store = auth.NewStore(auth.StoreOptions{Persister: repo, Logger: r.logger})
		r.store.Restore(persisted)
		cookies = repo
	}

	jar, err := auth.NewJar(r.config.Backend.BaseURL, cookies)
	if err != nil {
		return nil, nil, err
	}

	client := &http.Client{Timeout: r.config.Backend.RequestTimeout()}
	if r.httpClient != nil {
		c := *r.httpClient
		client = &c
	}
	client.Jar = jar

	gw, err := gateway.New(gateway.Options{
		BaseURL:    r.config.Backend.BaseURL,
		HTTPClient: client,
		Store:      r.store,
		Logger:     r.logger,
	})
	if err != nil {
		return nil, nil, err
	}
	gw.OnLogout(func() {
		r.logger.Warn("session expired, run 'cuedeck auth login' to sign in again")
	})

	r.jar = jar
	r.gateway = gw
	return gw, r.store, nil
}

// openRepository opens the session database and applies pending migrations.
// Callers hold r.mu.
func (r *Runner) openRepository() (*repositories.SessionRepository, error) {
	if r.db == nil {
		db, err := shared.NewDatabase(r.config.Database.Path)
		if err != nil {
			return nil, err
		}
		shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)
		if err := shared.RunMigrations(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		r.db = db
	}
	return repositories.NewSessionRepository(r.db), nil
}

// user returns the signed-in user, fetching it when the stored session predates it.
func (r *Runner) user(ctx context.Context) (models.User, error) {
	_, store, err := r.session()
	if err != nil {
		return models.User{}, err
	}

	session := store.Current()
	if !session.Authenticated() {
		return models.User{}, shared.ErrNotAuthenticated
	}
	if session.User != nil && session.User.ID != "" {
		return *session.User, nil
	}

	svc, err := r.auth()
	if err != nil {
		return models.User{}, err
	}
	u, err := svc.Me(ctx)
	if err != nil {
		return models.User{}, err
	}
	return *u, nil
}

// connect starts the event channel and waits for the first connection.
func (r *Runner) connect(ctx context.Context) (*realtime.Manager, error) {
	_, store, err := r.session()
	if err != nil {
		return nil, err
	}
	if !store.Current().Authenticated() {
		return nil, shared.ErrNotAuthenticated
	}

	m, err := realtime.New(realtime.Options{
		URL:          r.config.Backend.SocketURL,
		Tokens:       store,
		Dialer:       r.dialer,
		MinBackoff:   shared.Millis(r.config.Realtime.ReconnectMinMS, 0),
		MaxBackoff:   shared.Millis(r.config.Realtime.ReconnectMaxMS, 0),
		WriteTimeout: shared.Millis(r.config.Realtime.WriteTimeoutMS, 0),
		Logger:       r.logger,
	})
	if err != nil {
		return nil, err
	}

	m.Start(ctx)
	if err := waitConnected(ctx, m, defaultConnectTimeout); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

// waitConnected blocks until ch reports Connected.
func waitConnected(ctx context.Context, ch realtime.Channel, timeout time.Duration) error {
	ready := make(chan struct{}, 1)
	unsub := ch.OnStateChange(func(s realtime.State) {
		if s == realtime.Connected {
			select {
			case ready <- struct{}{}:
			default:
			}
		}
	})
	defer unsub()

	if ch.IsConnected() {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w: no connection within %s", shared.ErrNotConnected, timeout)
	}
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	output, err := formatter.ToJSON(data, pretty)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(append(output, '\n')); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
