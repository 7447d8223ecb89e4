package dispatcher

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"DataNexus/internal/adapter/provider/odbc"
	"DataNexus/internal/core/domain"
	"DataNexus/internal/core/port"
	"DataNexus/internal/pool"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLoader 按租户返回固定配置，并统计调用次数。
type fakeLoader struct {
	mu      sync.Mutex
	configs map[string]*domain.DataSourceConfig
	calls   int
	lastID  string
}

func (l *fakeLoader) Load(_ context.Context, tenant, explicitID string) (*domain.DataSourceConfig, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	l.lastID = explicitID
	cfg, ok := l.configs[tenant]
	if !ok {
		return nil, port.NewError(port.ErrConfigNotFound, "fake.Load", errors.New(tenant))
	}
	cp := *cfg
	return &cp, nil
}

// stubProvider 记录生命周期调用。
type stubProvider struct {
	kind        domain.BackendKind
	connectErr  error
	connects    int
	disconnects int
	diags       []domain.FieldDiagnostic
}

func (s *stubProvider) Connect(context.Context) error { s.connects++; return s.connectErr }
func (s *stubProvider) Disconnect(context.Context) error {
	s.disconnects++
	return nil
}
func (s *stubProvider) GetEquipmentStatus(ctx context.Context, _ port.EquipmentQuery) (*domain.EquipmentPage, error) {
	port.ReportDiagnostics(ctx, s.diags...)
	return &domain.EquipmentPage{Items: []domain.EquipmentRecord{{EquipmentCode: string(s.kind)}}, Total: 1}, nil
}
func (s *stubProvider) GetMeasurementData(context.Context, port.MeasurementQuery) ([]domain.MeasurementRecord, error) {
	return nil, nil
}
func (s *stubProvider) GetLatestMeasurement(context.Context, string) (*domain.MeasurementRecord, error) {
	return nil, nil
}
func (s *stubProvider) UpdateEquipmentStatus(context.Context, string, string) (bool, error) {
	return true, nil
}
func (s *stubProvider) TestConnection(context.Context) *port.ConnectionTestResult {
	return &port.ConnectionTestResult{Success: true, Message: "ok"}
}
func (s *stubProvider) ExecuteSQL(context.Context, string, map[string]any) ([]map[string]any, error) {
	return nil, nil
}
func (s *stubProvider) Kind() domain.BackendKind { return s.kind }

func stubFactory(built *[]*stubProvider, connectErr error) *Factory {
	f := NewFactory(FactoryConfig{})
	for _, kind := range []domain.BackendKind{domain.BackendRelational, domain.BackendODBC, domain.BackendREST} {
		f.Register(kind, func(_ context.Context, in BuildInput) (port.Provider, error) {
			p := &stubProvider{kind: in.Config.Kind, connectErr: connectErr}
			*built = append(*built, p)
			return p, nil
		})
	}
	return f
}

func cfg(kind domain.BackendKind) *domain.DataSourceConfig {
	return &domain.DataSourceConfig{ID: "ds-" + string(kind), WorkspaceID: "ws1", Kind: kind, ConnectionString: "x"}
}

func TestDispatcher_Lifecycle(t *testing.T) {
	var built []*stubProvider
	loader := &fakeLoader{configs: map[string]*domain.DataSourceConfig{"acme": cfg(domain.BackendREST)}}
	d := New("acme", Dependencies{Loader: loader, Factory: stubFactory(&built, nil)}, WithDataSourceID("ds-rest"))
	ctx := context.Background()

	assert.Equal(t, StateUnconfigured, d.State())
	assert.Equal(t, domain.BackendKind(""), d.Kind())

	c, err := d.Config(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.BackendREST, c.Kind)
	assert.Equal(t, StateConfigured, d.State())
	assert.Equal(t, "ds-rest", loader.lastID)
	assert.Empty(t, built, "加载配置不应构建提供者")

	page, err := d.GetEquipmentStatus(ctx, port.EquipmentQuery{})
	require.NoError(t, err)
	assert.Equal(t, "rest", page.Items[0].EquipmentCode)
	assert.Equal(t, StateActive, d.State())

	ok, err := d.UpdateEquipmentStatus(ctx, "E1", "RUNNING")
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, built, 1, "同一实例只构建一次提供者")
	assert.Equal(t, 1, loader.calls)

	require.NoError(t, d.Refresh(ctx))
	assert.Equal(t, StateUnconfigured, d.State())
	assert.Equal(t, 1, built[0].disconnects)

	_, err = d.GetLatestMeasurement(ctx, "E1")
	require.NoError(t, err)
	assert.Len(t, built, 2)
	assert.Equal(t, 2, loader.calls)

	require.NoError(t, d.Close(ctx))
	_, err = d.GetEquipmentStatus(ctx, port.EquipmentQuery{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDispatcher_ConfigNotFound(t *testing.T) {
	var built []*stubProvider
	d := New("ghost", Dependencies{Loader: &fakeLoader{}, Factory: stubFactory(&built, nil)})

	_, err := d.GetEquipmentStatus(context.Background(), port.EquipmentQuery{})
	require.ErrorIs(t, err, port.ErrConfigNotFound)
	assert.Equal(t, StateUnconfigured, d.State())
	assert.Empty(t, built)

	res := d.TestConnection(context.Background())
	assert.False(t, res.Success)
	assert.Equal(t, "CONFIG_NOT_FOUND", res.Details["code"])
}

func TestDispatcher_ConnectFailureStaysConfigured(t *testing.T) {
	var built []*stubProvider
	loader := &fakeLoader{configs: map[string]*domain.DataSourceConfig{"acme": cfg(domain.BackendRelational)}}
	d := New("acme", Dependencies{Loader: loader, Factory: stubFactory(&built, errors.New("dial tcp: refused"))})

	err := d.Connect(context.Background())
	require.ErrorIs(t, err, port.ErrConnectionFailed)
	assert.Equal(t, StateConfigured, d.State())
	require.Len(t, built, 1)
	assert.Equal(t, 1, built[0].disconnects)

	_, err = d.ExecuteSQL(context.Background(), "SELECT 1", nil)
	require.Error(t, err)
	assert.Len(t, built, 2, "连接失败后下一次调用重新构建")
	assert.Equal(t, 1, loader.calls)
}

func TestFactory_UnknownKindAndMismatch(t *testing.T) {
	f := &Factory{builders: map[domain.BackendKind]Builder{}}
	_, err := f.Build(context.Background(), BuildInput{Config: cfg("graphql")})
	require.ErrorIs(t, err, port.ErrUnsupportedBackendKind)

	f.Register(domain.BackendODBC, func(context.Context, BuildInput) (port.Provider, error) {
		return &stubProvider{kind: domain.BackendRelational}, nil
	})
	_, err = f.Build(context.Background(), BuildInput{Config: cfg(domain.BackendODBC)})
	assert.ErrorIs(t, err, port.ErrProviderConstruction)

	f.Register(domain.BackendREST, func(context.Context, BuildInput) (port.Provider, error) {
		return nil, errors.New("boom")
	})
	_, err = f.Build(context.Background(), BuildInput{Config: cfg(domain.BackendREST)})
	assert.Equal(t, "PROVIDER_CONSTRUCTION_FAILED", port.Code(err))

	_, err = f.Build(context.Background(), BuildInput{})
	assert.ErrorIs(t, err, port.ErrProviderConstruction)
}

func TestDispatcher_UnreachableODBCNeverFallsBack(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.ExpectPing().WillReturnError(errors.New("unable to open tcp connection with host '10.0.0.9:1433'"))

	var relationalCalls atomic.Int32
	f := NewFactory(FactoryConfig{})
	f.Register(domain.BackendRelational, func(context.Context, BuildInput) (port.Provider, error) {
		relationalCalls.Add(1)
		return &stubProvider{kind: domain.BackendRelational}, nil
	})
	f.Register(domain.BackendODBC, func(_ context.Context, in BuildInput) (port.Provider, error) {
		return odbc.New(odbc.Options{
			Tenant:         in.Tenant,
			Config:         in.Config,
			Settings:       odbc.DefaultConnSettings(),
			SQLDrivers:     func() []string { return nil },
			Open:           func(string, string) (*sql.DB, error) { return db, nil },
			ConnectTimeout: time.Second,
		})
	})

	loader := &fakeLoader{configs: map[string]*domain.DataSourceConfig{
		"plant-7": {ID: "ds7", WorkspaceID: "ws7", Kind: domain.BackendODBC,
			ConnectionString: `server=10.0.0.9;Database=mes;Id=sa;Password=secret`},
	}}
	d := New("plant-7", Dependencies{Loader: loader, Factory: f})

	page, err := d.GetEquipmentStatus(context.Background(), port.EquipmentQuery{})
	require.Error(t, err)
	assert.Nil(t, page)
	assert.Equal(t, "CONNECTION_FAILED", port.Code(err))
	assert.NotContains(t, err.Error(), "secret")
	assert.Zero(t, relationalCalls.Load())
	assert.Equal(t, domain.BackendODBC, d.Kind())
}

func TestDispatcher_SlugAndUUIDSharePoolEntry(t *testing.T) {
	const workspace = "7d1f0c3e-5b1a-4c8e-9a51-2f6f3b8f0a11"
	shared := &domain.DataSourceConfig{ID: "ds1", WorkspaceID: workspace, Kind: domain.BackendRelational,
		ConnectionString: "sqlite:file:disp_shared?mode=memory&cache=shared"}
	loader := &fakeLoader{configs: map[string]*domain.DataSourceConfig{"acme": shared, workspace: shared}}

	registry := pool.NewRegistry(pool.Config{IdleTimeout: time.Minute, SweepInterval: time.Hour})
	t.Cleanup(registry.CloseAll)
	deps := Dependencies{Loader: loader, Pools: registry}
	ctx := context.Background()

	bySlug := New("acme", deps)
	byID := New(workspace, deps)
	require.NoError(t, bySlug.Connect(ctx))
	require.NoError(t, byID.Connect(ctx))

	stats := registry.Stats()
	require.Len(t, stats, 1, "同一工作区的两种引用应共用一个连接池")
	assert.Equal(t, workspace, stats[0].Tenant)

	require.NoError(t, bySlug.Close(ctx))
	require.NoError(t, byID.Close(ctx))
	assert.Equal(t, 1, registry.CloseTenant(workspace))
}

func TestDispatcher_EquipmentPageCarriesDiagnostics(t *testing.T) {
	diag := domain.FieldDiagnostic{DataType: domain.DataTypeEquipmentStatus, Row: 0, TargetField: "run_count", Reason: "类型转换失败"}
	f := NewFactory(FactoryConfig{})
	f.Register(domain.BackendREST, func(context.Context, BuildInput) (port.Provider, error) {
		return &stubProvider{kind: domain.BackendREST, diags: []domain.FieldDiagnostic{diag}}, nil
	})
	loader := &fakeLoader{configs: map[string]*domain.DataSourceConfig{"acme": cfg(domain.BackendREST)}}
	d := New("acme", Dependencies{Loader: loader, Factory: f})
	defer d.Close(context.Background())

	outer, collected := port.WithDiagnostics(context.Background())
	page, err := d.GetEquipmentStatus(outer, port.EquipmentQuery{})
	require.NoError(t, err)
	assert.Equal(t, []domain.FieldDiagnostic{diag}, page.Diagnostics)
	assert.Equal(t, []domain.FieldDiagnostic{diag}, collected.List())

	var none []*stubProvider
	clean := New("acme", Dependencies{Loader: loader, Factory: stubFactory(&none, nil)})
	defer clean.Close(context.Background())
	page, err = clean.GetEquipmentStatus(context.Background(), port.EquipmentQuery{})
	require.NoError(t, err)
	assert.Nil(t, page.Diagnostics)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "unconfigured", StateUnconfigured.String())
	assert.Equal(t, "configured", StateConfigured.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "unknown", State(7).String())
}
