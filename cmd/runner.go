package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/atx/internal/models"
	"github.com/desertthunder/atx/internal/repositories"
	"github.com/desertthunder/atx/internal/services"
	"github.com/desertthunder/atx/internal/shared"
	"github.com/desertthunder/atx/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config      *shared.Config
	configPath  string
	httpClient  *http.Client
	logger      *log.Logger
	output      io.Writer
	resolver    services.IdentityResolver
	changeLog   services.ChangeLog
	newEndpoint services.EndpointFactory
	db          *sql.DB
	ownsDB      bool
	repo        *repositories.MigrationRepository
}

// RunnerOpts contains configuration options for creating a Runner.
//
// Resolver, ChangeLog, NewEndpoint and DB default to the real network clients and the configured database.
type RunnerOpts struct {
	Config      *shared.Config
	ConfigPath  string
	HTTPClient  *http.Client
	Logger      *log.Logger
	Output      io.Writer
	Resolver    services.IdentityResolver
	ChangeLog   services.ChangeLog
	NewEndpoint services.EndpointFactory
	DB          *sql.DB
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
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Config.Transfer.Timeout()}
	}

	r := &Runner{
		config:      opts.Config,
		configPath:  opts.ConfigPath,
		httpClient:  opts.HTTPClient,
		logger:      opts.Logger,
		output:      opts.Output,
		resolver:    opts.Resolver,
		changeLog:   opts.ChangeLog,
		newEndpoint: opts.NewEndpoint,
		db:          opts.DB,
	}
	if r.db != nil {
		r.repo = repositories.NewMigrationRepository(r.db)
	}
	return r
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, migrateCommand, handoverCommand, deactivateCommand, statusCommand, missingCommand, tuiCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// Configure applies the root --config and --log-level flags before any command runs.
func (r *Runner) Configure(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if path := cmd.String("config"); cmd.IsSet("config") {
		config, err := shared.LoadConfig(path)
		if err != nil {
			return ctx, err
		}
		r.config = config
		r.configPath = path
	} else if r.configPath == "" {
		r.configPath = path
	}

	level := r.config.Log.Level
	if cmd.IsSet("log-level") {
		level = cmd.String("log-level")
	}
	ll, err := shared.ParseLogLevel(level)
	if err != nil {
		return ctx, err
	}
	shared.SetLogLevel(r.logger, ll)
	return ctx, nil
}

// SetLogger replaces the logger, e.g. to keep log lines out of the TUI.
func (r *Runner) SetLogger(l *log.Logger) {
	r.logger = l
}

// Close releases the state database if the runner opened it.
func (r *Runner) Close() error {
	if r.db != nil && r.ownsDB {
		return r.db.Close()
	}
	return nil
}

// repository opens the state database on first use.
func (r *Runner) repository() (*repositories.MigrationRepository, error) {
	if r.repo != nil {
		return r.repo, nil
	}

	db, err := shared.OpenStore(r.config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database %s: %w", r.config.Database.Path, err)
	}
	r.db = db
	r.ownsDB = true
	r.repo = repositories.NewMigrationRepository(db)
	return r.repo, nil
}

// engine wires a [tasks.MigrationEngine] to the network clients and the state store.
func (r *Runner) engine() (*tasks.MigrationEngine, error) {
	repo, err := r.repository()
	if err != nil {
		return nil, err
	}

	resolver := r.resolver
	if resolver == nil {
		resolver = services.NewResolver(r.config.Identity.PLCURL, r.httpClient)
	}
	changeLog := r.changeLog
	if changeLog == nil {
		changeLog = services.NewPLCDirectory(r.config.Identity.PLCURL, r.httpClient)
	}

	return tasks.NewMigrationEngine(tasks.EngineOpts{
		Resolver:    resolver,
		ChangeLog:   changeLog,
		NewEndpoint: r.newEndpoint,
		Store:       repositories.NewStateStore(repo),
		Logger:      r.logger,
		Identity:    r.config.Identity,
		Transfer:    r.config.Transfer,
	}), nil
}

// migrateOptions reads the flags shared by migrate and tui.
func migrateOptions(cmd *cli.Command) tasks.MigrateOptions {
	return tasks.MigrateOptions{
		SourceHandle:      cmd.String("handle"),
		Password:          cmd.String("password"),
		DestinationHost:   cmd.String("to"),
		DestinationEmail:  cmd.String("email"),
		DestinationHandle: cmd.String("new-handle"),
		InviteCode:        cmd.String("invite-code"),
		AuthFactor:        cmd.String("auth-factor"),
		Flags: models.PhaseFlags{
			CreateAccount:       cmd.Bool("create-account"),
			MigrateRepo:         cmd.Bool("repo"),
			MigrateBlobs:        cmd.Bool("blobs"),
			MigrateMissingBlobs: cmd.Bool("missing-blobs"),
			MigratePrefs:        cmd.Bool("prefs"),
			MigratePlcRecord:    cmd.Bool("plc"),
		},
	}
}

// progressPrinter writes each update as one line.
func (r *Runner) progressPrinter() tasks.Observer {
	return tasks.ObserverFunc(func(u tasks.ProgressUpdate) {
		if u.Message == "" {
			return
		}
		switch u.Phase {
		case tasks.MigrateBlobs, tasks.ReconcileBlobs:
			r.writePlain("   %s\n", u.Message)
		case tasks.Finished:
		default:
			r.writePlain("→ %s\n", u.Message)
		}
	})
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

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
