//go:build wireinject
// +build wireinject

package cmd

import (
	"context"

	"github.com/google/wire"

	"github.com/webitel/media_jobs/config"
	"github.com/webitel/media_jobs/internal/handler"
	"github.com/webitel/media_jobs/internal/operation"
	"github.com/webitel/media_jobs/internal/queue"
	"github.com/webitel/media_jobs/internal/service"
	"github.com/webitel/media_jobs/internal/store"
)

var wireAppResourceSet = wire.NewSet(
	log, httpSrv, setupSQL,
)

var wireAppHandlersSet = wire.NewSet(
	store.NewJobStore, wire.Bind(new(service.JobStore), new(*store.JobStore)),
	store.NewGroupStore, wire.Bind(new(service.GroupStore), new(*store.GroupStore)),

	queue.New,
	resourceGate,
	fileOperation, wire.Bind(new(service.Operation), new(*operation.Command)),

	service.NewTracker,
	workerPool,
	service.NewClassifierFromConfig,
	pathMapper,

	admission,
	service.NewStatus, wire.Bind(new(service.PoolState), new(*service.Pool)),

	handler.NewJobs,
	wire.Bind(new(handler.AdmissionService), new(*service.Admission)),
	wire.Bind(new(handler.StatusService), new(*service.Status)),
	webhookHandler,
	handler.NewHealth, wire.Bind(new(handler.HealthChecker), new(*service.Pool)),

	setupCluster,
)

func initAppResources(context.Context, *config.Config) (*resources, func(), error) {
	wire.Build(wireAppResourceSet, wire.Struct(new(resources), "log", "store", "httpSrv", "cfg"))

	return &resources{}, nil, nil
}

func initAppHandlers(context.Context, *resources) (*handlers, func(), error) {
	wire.Build(wireAppHandlersSet,
		wire.FieldsOf(new(*resources), "log", "httpSrv", "cfg", "store"),
		wire.Struct(new(handlers), "jobs", "webhook", "health", "pool", "cluster"),
	)

	return &handlers{}, nil, nil
}
