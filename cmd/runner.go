package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/vibetag/internal/network"
	"github.com/desertthunder/vibetag/internal/repositories"
	"github.com/desertthunder/vibetag/internal/services"
	"github.com/desertthunder/vibetag/internal/shared"
	"github.com/desertthunder/vibetag/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// The database, sync engine and analysis pipeline are opened on first use by [Runner.open].
type Runner struct {
	config     *shared.Config
	configPath string
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer

	session   *services.TokenSession
	transport tasks.TagSyncTransport
	analyzer  tasks.Analyzer
	network   tasks.Network
	monitor   *network.Monitor

	db       *sql.DB
	ownsDB   bool
	store    *repositories.LibraryStore
	engine   *tasks.SyncEngine
	pipeline *tasks.AnalysisPipeline
	skipPush bool
}

// RunnerOpts contains configuration options for creating a Runner.
//
// Nil collaborators are built from Config when the runner opens.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
	DB         *sql.DB
	Transport  tasks.TagSyncTransport
	Analyzer   tasks.Analyzer
	Network    tasks.Network
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
		configPath: opts.ConfigPath,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
		db:         opts.DB,
		transport:  opts.Transport,
		analyzer:   opts.Analyzer,
		network:    opts.Network,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, songsCommand, tagsCommand, analyzeCommand, syncCommand, watchCommand, authCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// configure reloads the config when --config was given explicitly and applies the log level.
func (r *Runner) configure(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if cmd.IsSet("config") {
		path := cmd.String("config")
		config, err := shared.LoadConfig(path)
		if err != nil {
			return ctx, err
		}
		r.config = config
		r.configPath = path
	}

	level := r.config.Log.Level
	if cmd.Bool("verbose") {
		level = "debug"
	}
	if err := shared.SetLogLevelString(r.logger, level); err != nil {
		return ctx, err
	}
	return ctx, nil
}

// client returns the HTTP client for a service, honouring the configured timeout.
func (r *Runner) client(timeout shared.Duration) *http.Client {
	if r.httpClient != nil {
		return r.httpClient
	}
	return &http.Client{Timeout: timeout.Duration}
}

// tokenSession loads the OAuth session from the configured token file.
func (r *Runner) tokenSession() (*services.TokenSession, error) {
	if r.session != nil {
		return r.session, nil
	}

	session := services.NewTokenSession(r.config.Auth, r.logger)
	if err := session.Load(); err != nil {
		return nil, err
	}
	r.session = session
	return session, nil
}

// open builds the store, remote clients, sync engine and analysis pipeline.
func (r *Runner) open(ctx context.Context) error {
	if r.store != nil {
		return nil
	}

	db, err := r.database()
	if err != nil {
		return err
	}
	if err := shared.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	session, err := r.tokenSession()
	if err != nil {
		return err
	}

	if r.transport == nil {
		api := services.NewAPIClient(r.config.Remote.BaseURL, r.client(r.config.Remote.Timeout), session)
		r.transport = services.NewTagSyncService(api)
	}
	if r.analyzer == nil {
		api := services.NewAPIClient(r.config.Analyzer.BaseURL, r.client(r.config.Analyzer.Timeout), session)
		r.analyzer = services.NewAnalyzerService(api)
	}
	if r.network == nil {
		r.monitor = network.NewMonitor(r.config.Remote.BaseURL, r.config.Remote.HealthPath,
			r.config.Sync.ProbeInterval.Duration, r.client(r.config.Remote.Timeout), r.logger)
		r.network = r.monitor
	}

	r.store = repositories.NewLibraryStore(db, r.logger)
	r.engine = tasks.NewSyncEngine(r.store, r.transport, session, r.network, tasks.SyncEngineOpts{
		Logger: r.logger,
		OnStatsChanged: func(s tasks.SyncStats) {
			r.logger.Debug("sync stats", "songs", s.Library.Songs, "pending", s.Library.Pending, "tags", s.Library.Tags)
		},
	})
	r.pipeline = tasks.NewAnalysisPipeline(r.store, r.analyzer, tasks.PipelineOpts{
		Logger:    r.logger,
		RateLimit: r.config.Analyzer.RateLimit,
		Burst:     r.config.Analyzer.Burst,
		OnBatchComplete: func(ctx context.Context) {
			if r.skipPush {
				return
			}
			r.probe(ctx)
			r.engine.SyncPendingChanges(ctx)
		},
	})
	return nil
}

// probe refreshes connectivity before a one-shot sync. Injected observers are left alone.
func (r *Runner) probe(ctx context.Context) bool {
	if r.monitor != nil {
		return r.monitor.Probe(ctx)
	}
	return r.network.IsConnected()
}

// close releases the engine and the database if the runner opened it.
func (r *Runner) close(context.Context, *cli.Command) error {
	if r.engine != nil {
		r.engine.Close()
	}
	if r.ownsDB && r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	output, err := shared.MarshalJSON(data, pretty)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
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

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
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
