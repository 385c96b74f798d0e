package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/webitel/wlog"

	"github.com/webitel/media_jobs/config"
	"github.com/webitel/media_jobs/infra/consul"
	"github.com/webitel/media_jobs/infra/http_srv"
	"github.com/webitel/media_jobs/infra/sql"
	"github.com/webitel/media_jobs/infra/sql/migrate"
	"github.com/webitel/media_jobs/infra/sql/pgsql"
	"github.com/webitel/media_jobs/infra/sql/sqlite"
	"github.com/webitel/media_jobs/internal/gate"
	"github.com/webitel/media_jobs/internal/handler"
	"github.com/webitel/media_jobs/internal/model"
	"github.com/webitel/media_jobs/internal/operation"
	"github.com/webitel/media_jobs/internal/queue"
	"github.com/webitel/media_jobs/internal/service"
)

const healthCheckTimeout = 3 * time.Second

type handlers struct {
	jobs    *handler.Jobs
	webhook *handler.Webhook
	health  *handler.Health
	pool    *service.Pool
	cluster *consul.Cluster
}

type resources struct {
	log     *wlog.Logger
	httpSrv *http_srv.Server
	store   sql.Store
	cfg     *config.Config
}

func httpSrv(cfg *config.Config, l *wlog.Logger) (*http_srv.Server, func(), error) {
	s, err := http_srv.New(cfg.Service.Address, l)
	if err != nil {
		return nil, nil, err
	}

	return s, func() {
		if err := s.Shutdown(); err != nil {
			l.Error(err.Error(), wlog.Err(err))
		}
	}, nil
}

func log(cfg *config.Config) (*wlog.Logger, func(), error) {
	logSettings := cfg.Log

	if !logSettings.Console && !logSettings.Otel && len(logSettings.File) == 0 {
		logSettings.Console = true
	}

	logConfig := &wlog.LoggerConfiguration{
		EnableConsole: logSettings.Console,
		ConsoleJson:   logSettings.JSON,
		ConsoleLevel:  logSettings.Lvl,
	}

	if logSettings.File != "" {
		logConfig.FileLocation = logSettings.File
		logConfig.EnableFile = true
		logConfig.FileJson = true
		logConfig.FileLevel = logSettings.Lvl
	}

	l := wlog.NewLogger(logConfig)
	wlog.RedirectStdLog(l)
	wlog.InitGlobalLogger(l)

	exit := func() {
	}

	return l, exit, nil
}

// setupSQL opens the configured backend and brings its schema up to date.
func setupSQL(ctx context.Context, log *wlog.Logger, cfg *config.Config) (sql.Store, func(), error) {
	var (
		s   sql.Store
		err error
	)

	switch cfg.SQLSettings.Driver {
	case sql.DialectPostgres, "pgsql":
		s, err = pgsql.New(ctx, cfg.SQLSettings.DSN, log)
	case sql.DialectSQLite, "sqlite", "":
		s, err = sqlite.New(ctx, cfg.SQLSettings.Path, log)
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.SQLSettings.Driver)
	}

	if err != nil {
		return nil, nil, err
	}

	closeStore := func() {
		if err := s.Close(); err != nil {
			wlog.Error(err.Error(), wlog.Err(err))
		}
	}

	if err = migrate.Up(ctx, s, log); err != nil {
		closeStore()

		return nil, nil, err
	}

	return s, closeStore, nil
}

func resourceGate(cfg *config.Config, log *wlog.Logger) *gate.Gate {
	return gate.New(log, map[model.ResourceClass]int{
		model.ClassLight: cfg.Classes.Light,
		model.ClassHeavy: cfg.Classes.Heavy,
	})
}

func fileOperation(cfg *config.Config, log *wlog.Logger) *operation.Command {
	commands := map[model.ResourceClass][]string{
		model.ClassLight: cfg.Operation.LightCommand.Value(),
		model.ClassHeavy: cfg.Operation.HeavyCommand.Value(),
	}

	for class, c := range commands {
		if len(c) == 0 {
			log.Warn("no operation command configured, jobs of this class will fail",
				wlog.String("class", string(class)))
		}
	}

	return operation.NewCommand(log, operation.Settings{
		Commands:       commands,
		UnchangedCodes: cfg.Operation.UnchangedCodes.Value(),
		SkippedCodes:   cfg.Operation.SkippedCodes.Value(),
	})
}

func pathMapper(cfg *config.Config) (*service.PathMapper, error) {
	return service.NewPathMapper(cfg.Webhook.PathMap.Value())
}

// workerPool starts the workers once the queue is rebuilt from the store.
func workerPool(ctx context.Context, log *wlog.Logger, cfg *config.Config, jobs service.JobStore, q *queue.Queue,
	g *gate.Gate, tr *service.Tracker, op service.Operation,
) (*service.Pool, func(), error) {
	p := service.NewPool(log, service.PoolSettingsFromConfig(cfg), jobs, q, g, tr, op)

	if err := p.Start(ctx); err != nil {
		return nil, nil, err
	}

	return p, p.Stop, nil
}

func admission(ctx context.Context, log *wlog.Logger, jobs service.JobStore, tr *service.Tracker, q *queue.Queue,
	p *service.Pool, cl *service.Classifier, m *service.PathMapper,
) (*service.Admission, func(), error) {
	a := service.NewAdmission(ctx, log, jobs, tr, q, p, cl, m)

	return a, a.Wait, nil
}

func webhookHandler(cfg *config.Config, adm handler.AdmissionService, s *http_srv.Server, l *wlog.Logger) *handler.Webhook {
	return handler.NewWebhook(adm, cfg.Webhook.Secret, s, l)
}

// setupCluster registers the instance in consul. The TTL check fails while
// the job store is unreachable.
func setupCluster(ctx context.Context, cfg *config.Config, srv *http_srv.Server, p *service.Pool,
	l *wlog.Logger,
) (*consul.Cluster, func(), error) {
	if cfg.Service.Consul == "" {
		return nil, func() {}, nil
	}

	c := consul.NewCluster(model.ServiceName, cfg.Service.Consul, l)

	check := func() error {
		if degraded, reason := p.Degraded(); degraded {
			if reason == "" {
				reason = model.ErrStoreUnavailable.Error()
			}

			return errors.New(reason)
		}

		pingCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		defer cancel()

		return p.Health(pingCtx)
	}

	if err := c.Start(cfg.Service.ID, srv.Host(), srv.Port(), check); err != nil {
		return nil, nil, err
	}

	return c, func() {
		c.Stop()
	}, nil
}
