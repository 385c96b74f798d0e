package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/webitel/wlog"

	"github.com/webitel/media_jobs/infra/http_srv"
	"github.com/webitel/media_jobs/internal/model"
	"github.com/webitel/media_jobs/internal/service"
)

type admissionMock struct {
	mock.Mock
}

func (m *admissionMock) SubmitSingle(ctx context.Context, path string, p model.Priority, source string) (*model.Job, error) {
	ret := m.Called(ctx, path, p, source)
	j, _ := ret.Get(0).(*model.Job)

	return j, ret.Error(1)
}

func (m *admissionMock) SubmitGroup(ctx context.Context, kind model.OriginKind, ref string, paths []string,
	p model.Priority, source string,
) (*service.GroupResult, error) {
	ret := m.Called(ctx, kind, ref, paths, p, source)
	res, _ := ret.Get(0).(*service.GroupResult)

	return res, ret.Error(1)
}

func (m *admissionMock) SubmitEvent(ctx context.Context, source string, paths []string) (*service.GroupResult, error) {
	ret := m.Called(ctx, source, paths)
	res, _ := ret.Get(0).(*service.GroupResult)

	return res, ret.Error(1)
}

func (m *admissionMock) SubmitScan(ctx context.Context, req service.ScanRequest) (*service.ScanResult, error) {
	ret := m.Called(ctx, req)
	res, _ := ret.Get(0).(*service.ScanResult)

	return res, ret.Error(1)
}

func (m *admissionMock) Cancel(ctx context.Context, id string) (*model.Job, error) {
	ret := m.Called(ctx, id)
	j, _ := ret.Get(0).(*model.Job)

	return j, ret.Error(1)
}

func (m *admissionMock) CancelGroup(ctx context.Context, groupID string) (int, error) {
	ret := m.Called(ctx, groupID)

	return ret.Int(0), ret.Error(1)
}

type statusMock struct {
	mock.Mock
}

func (m *statusMock) GetJob(ctx context.Context, id string) (*model.Job, error) {
	ret := m.Called(ctx, id)
	j, _ := ret.Get(0).(*model.Job)

	return j, ret.Error(1)
}

func (m *statusMock) ListJobs(ctx context.Context, f model.JobFilter) ([]*model.Job, error) {
	ret := m.Called(ctx, f)
	jobs, _ := ret.Get(0).([]*model.Job)

	return jobs, ret.Error(1)
}

func (m *statusMock) GetGroup(ctx context.Context, id string) (*model.GroupView, error) {
	ret := m.Called(ctx, id)
	g, _ := ret.Get(0).(*model.GroupView)

	return g, ret.Error(1)
}

func (m *statusMock) QueueStats(ctx context.Context) *model.QueueStats {
	ret := m.Called(ctx)
	st, _ := ret.Get(0).(*model.QueueStats)

	return st
}

type healthMock struct {
	mock.Mock
}

func (m *healthMock) Health(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *healthMock) Degraded() (bool, string) {
	ret := m.Called()

	return ret.Bool(0), ret.String(1)
}

func testServer(t *testing.T) (*http_srv.Server, *wlog.Logger) {
	t.Helper()

	log := wlog.NewLogger(&wlog.LoggerConfiguration{EnableConsole: false})

	srv, err := http_srv.New("127.0.0.1:0", log)
	require.NoError(t, err)

	return srv, log
}
