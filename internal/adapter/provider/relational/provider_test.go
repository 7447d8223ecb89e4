// file: internal/adapter/provider/relational/provider_test.go

package relational

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"DataNexus/internal/adapter/provider/sqlkit"
	"DataNexus/internal/core/domain"
	"DataNexus/internal/core/port"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

const fixtureSchema = `
CREATE TABLE equipment_status (
	equipment_type TEXT, equipment_code TEXT PRIMARY KEY, equipment_name TEXT,
	status TEXT, last_run_time TEXT
);
CREATE TABLE measurement_info (
	id INTEGER PRIMARY KEY, equipment_type TEXT, equipment_code TEXT, measurement_code TEXT,
	measurement_desc TEXT, measurement_value REAL, measured_at TEXT, spec_status INTEGER,
	usl REAL, lsl REAL, target REAL
);
INSERT INTO equipment_status VALUES
	('CNC', 'E1', 'Lathe-1', 'running', '2024-05-01 08:00:00'),
	('CNC', 'E2', 'Lathe-2', 'idle', '2024-05-01 09:00:00'),
	('PRESS', 'P1', 'Press-1', 'Fault', NULL),
	('CNC', 'E3', 'Mill-3', 'weird-state', NULL);
INSERT INTO measurement_info VALUES
	(1, 'CNC', 'E1', 'TEMP', 'spindle temp', 61.5, '2024-05-01 08:00:00', 0, 80, 20, 50),
	(2, 'CNC', 'E1', 'TEMP', 'spindle temp', 85.0, '2024-05-01 09:00:00', NULL, 80, 20, 50),
	(3, 'CNC', 'E2', 'VIB', 'vibration', 0.2, '2024-05-01 07:00:00', NULL, NULL, NULL, NULL);
`

// newFixtureDB 返回一个已写入规范表的共享内存 SQLite。
func newFixtureDB(t *testing.T, name string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+name+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(fixtureSchema)
	require.NoError(t, err)
	return db
}

func newSessionProvider(t *testing.T, db *sql.DB, custom map[string]domain.CustomQuery) *Provider {
	t.Helper()
	p, err := New(Options{
		Tenant:         "t1",
		Config:         &domain.DataSourceConfig{ID: "ds1", WorkspaceID: "ws1", Kind: domain.BackendRelational, CustomQueries: custom},
		Session:        db,
		SessionDialect: "sqlite",
	})
	require.NoError(t, err)
	require.NoError(t, p.Connect(context.Background()))
	t.Cleanup(func() { _ = p.Disconnect(context.Background()) })
	return p
}

func TestGetEquipmentStatus_Builtin(t *testing.T) {
	p := newSessionProvider(t, newFixtureDB(t, "rel_builtin"), nil)
	ctx := context.Background()

	page, err := p.GetEquipmentStatus(ctx, port.EquipmentQuery{EquipmentType: "CNC", Limit: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, page.Total)
	assert.True(t, page.HasMore)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "E1", page.Items[0].EquipmentCode)
	assert.Equal(t, domain.StatusActive, page.Items[0].Status)
	assert.Equal(t, domain.StatusPause, page.Items[1].Status)
	assert.NotNil(t, page.Items[0].LastRunTime)

	page, err = p.GetEquipmentStatus(ctx, port.EquipmentQuery{EquipmentType: "CNC", Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.False(t, page.HasMore)
	assert.Equal(t, domain.StatusStop, page.Items[0].Status, "无法识别的状态回落为 STOP")
}

func TestGetEquipmentStatus_CustomQuery(t *testing.T) {
	t.Run("custom query with WHERE gets AND filters", func(t *testing.T) {
		p := newSessionProvider(t, newFixtureDB(t, "rel_custom_where"), map[string]domain.CustomQuery{
			domain.DataTypeEquipmentStatus: {Query: "SELECT equipment_type AS type, equipment_code AS code, equipment_name AS name, status FROM equipment_status WHERE equipment_name LIKE 'Lathe%'"},
		})
		page, err := p.GetEquipmentStatus(context.Background(), port.EquipmentQuery{Status: "idle"})
		require.NoError(t, err)
		assert.EqualValues(t, 1, page.Total)
		require.Len(t, page.Items, 1)
		assert.Equal(t, "E2", page.Items[0].EquipmentCode)
		assert.Equal(t, "Lathe-2", page.Items[0].EquipmentName)
	})

	t.Run("custom query without WHERE gets synthesized WHERE", func(t *testing.T) {
		p := newSessionProvider(t, newFixtureDB(t, "rel_custom_nowhere"), map[string]domain.CustomQuery{
			domain.DataTypeEquipmentStatus: {Query: "SELECT * FROM equipment_status"},
		})
		page, err := p.GetEquipmentStatus(context.Background(), port.EquipmentQuery{EquipmentType: "PRESS"})
		require.NoError(t, err)
		assert.EqualValues(t, 1, page.Total)
		assert.Equal(t, domain.StatusStop, page.Items[0].Status)
	})
}

func TestBuildEquipmentQueries_Shape(t *testing.T) {
	data, count := buildEquipmentQueries("SELECT * FROM v_equipment",
		[]sqlkit.Filter{{Column: "status", Value: "RUN"}}, 10, 20, DialectPostgres.Placeholder)
	assert.Equal(t, "SELECT * FROM v_equipment WHERE status = $1 LIMIT $2 OFFSET $3", data.query)
	assert.Equal(t, []any{"RUN", 10, 20}, data.args)
	assert.Equal(t, "SELECT COUNT(*) FROM (SELECT * FROM v_equipment WHERE status = $1) AS _sub", count.query)
	assert.Equal(t, []any{"RUN"}, count.args)
}

func TestGetMeasurementData(t *testing.T) {
	t.Run("builtin newest first", func(t *testing.T) {
		p := newSessionProvider(t, newFixtureDB(t, "rel_meas"), nil)
		recs, err := p.GetMeasurementData(context.Background(), port.MeasurementQuery{EquipmentCode: "E1"})
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, "2", recs[0].ID)
		assert.Equal(t, domain.SpecAboveSpec, recs[0].SpecStatus, "空判定按上下限推导")
		assert.Equal(t, domain.SpecInSpec, recs[1].SpecStatus)
		assert.Equal(t, "spindle temp", recs[0].Description)
	})

	t.Run("custom template binds params", func(t *testing.T) {
		p := newSessionProvider(t, newFixtureDB(t, "rel_meas_tpl"), map[string]domain.CustomQuery{
			domain.DataTypeMeasurementData: {Query: "SELECT * FROM measurement_info WHERE equipment_code = {{equipment_code}} ORDER BY id"},
		})
		recs, err := p.GetMeasurementData(context.Background(), port.MeasurementQuery{EquipmentCode: "E2", Limit: 5})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "VIB", recs[0].MeasurementCode)
		assert.Equal(t, domain.SpecNoSpec, recs[0].SpecStatus)
	})

	t.Run("malformed template is a query error naming the data type", func(t *testing.T) {
		p := newSessionProvider(t, newFixtureDB(t, "rel_meas_bad"), map[string]domain.CustomQuery{
			domain.DataTypeMeasurementData: {Query: "SELECT * FROM measurement_info WHERE line = {{line_no}}"},
		})
		_, err := p.GetMeasurementData(context.Background(), port.MeasurementQuery{})
		require.ErrorIs(t, err, port.ErrQueryExecution)
		assert.Contains(t, err.Error(), domain.DataTypeMeasurementData)
	})
}

func TestGetLatestMeasurement(t *testing.T) {
	p := newSessionProvider(t, newFixtureDB(t, "rel_latest"), nil)
	ctx := context.Background()

	rec, err := p.GetLatestMeasurement(ctx, "E1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 85.0, *rec.Value)

	rec, err = p.GetLatestMeasurement(ctx, "NOPE")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestUpdateEquipmentStatus(t *testing.T) {
	db := newFixtureDB(t, "rel_update")
	p := newSessionProvider(t, db, nil)
	ctx := context.Background()

	ok, err := p.UpdateEquipmentStatus(ctx, "E2", "running")
	require.NoError(t, err)
	assert.True(t, ok)

	var stored string
	require.NoError(t, db.QueryRow("SELECT status FROM equipment_status WHERE equipment_code = 'E2'").Scan(&stored))
	assert.Equal(t, "ACTIVE", stored)

	ok, err = p.UpdateEquipmentStatus(ctx, "NOPE", "STOP")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExecuteSQL(t *testing.T) {
	p := newSessionProvider(t, newFixtureDB(t, "rel_exec"), nil)
	ctx := context.Background()

	rows, err := p.ExecuteSQL(ctx, "SELECT equipment_code FROM equipment_status WHERE equipment_type = {{t}} ORDER BY equipment_code", map[string]any{"t": "PRESS"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "P1", rows[0]["equipment_code"])

	rows, err = p.ExecuteSQL(ctx, "DELETE FROM measurement_info WHERE equipment_code = {{c}}", map[string]any{"c": "E1"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, rows[0]["rows_affected"])

	_, err = p.ExecuteSQL(ctx, "SELECT * FROM nowhere", nil)
	assert.ErrorIs(t, err, port.ErrQueryExecution)
}

func TestTestConnection(t *testing.T) {
	p := newSessionProvider(t, newFixtureDB(t, "rel_diag"), nil)
	res := p.TestConnection(context.Background())
	require.True(t, res.Success, res.Message)
	assert.EqualValues(t, 4, res.Details["equipment_status_count"])
	assert.EqualValues(t, 3, res.Details["measurement_info_count"])
	assert.NotEmpty(t, res.Details["server_version"])
}

// fakePools 是 port.PoolSource 的桩，记录 Discard 调用。
type fakePools struct {
	mu        sync.Mutex
	db        *sql.DB
	err       error
	discarded []*sql.DB
	desc      port.PoolDescriptor
	gets      int
	touches   int
}

func (f *fakePools) GetOrCreate(_ context.Context, _ string, _ domain.BackendKind, desc port.PoolDescriptor) (*sql.DB, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.desc = desc
	f.gets++
	return f.db, f.err
}

func (f *fakePools) Touch(_ string, _ domain.BackendKind, db *sql.DB) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touches++
	return db == f.db
}

func (f *fakePools) Discard(_ string, _ domain.BackendKind, db *sql.DB) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discarded = append(f.discarded, db)
}

func TestPooledHandle_ConnectionErrorDiscards(t *testing.T) {
	db := newFixtureDB(t, "rel_pooled")
	pools := &fakePools{db: db}
	p, err := New(Options{
		Tenant: "t1",
		Config: &domain.DataSourceConfig{ID: "ds1", WorkspaceID: "ws1", Kind: domain.BackendRelational,
			ConnectionString: "sqlite:file:rel_pooled?mode=memory&cache=shared"},
		Pools: pools,
	})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = p.GetEquipmentStatus(ctx, port.EquipmentQuery{})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", pools.desc.DriverName)
	assert.Equal(t, "file:rel_pooled?mode=memory&cache=shared", pools.desc.DSN)

	// 模拟连接层失效
	require.NoError(t, db.Close())
	_, err = p.GetEquipmentStatus(ctx, port.EquipmentQuery{})
	require.ErrorIs(t, err, port.ErrConnectionFailed)
	assert.Equal(t, "CONNECTION_FAILED", port.Code(err))
	require.NotEmpty(t, pools.discarded)
	assert.Same(t, db, pools.discarded[0])

	// Disconnect 不关闭注册表持有的句柄
	require.NoError(t, p.Disconnect(ctx))
}

func TestPooledHandle_RefreshesOrReacquires(t *testing.T) {
	db := newFixtureDB(t, "rel_touch")
	pools := &fakePools{db: db}
	p, err := New(Options{
		Tenant: "t1",
		Config: &domain.DataSourceConfig{ID: "ds1", WorkspaceID: "ws1", Kind: domain.BackendRelational,
			ConnectionString: "sqlite:file:rel_touch?mode=memory&cache=shared"},
		Pools: pools,
	})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, p.Connect(ctx))
	_, err = p.GetEquipmentStatus(ctx, port.EquipmentQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, pools.gets)
	assert.Equal(t, 1, pools.touches, "复用缓存句柄时应刷新注册表条目")

	// 注册表回收了旧句柄并持有新句柄：提供者应重新获取而不是继续使用旧句柄
	fresh := newFixtureDB(t, "rel_touch_fresh")
	pools.mu.Lock()
	pools.db = fresh
	pools.mu.Unlock()
	_, err = p.GetEquipmentStatus(ctx, port.EquipmentQuery{})
	require.NoError(t, err)
	assert.Equal(t, 2, pools.gets)
}

func TestConnect_PoolFailure(t *testing.T) {
	p, err := New(Options{
		Config: &domain.DataSourceConfig{ID: "ds1", WorkspaceID: "ws1", Kind: domain.BackendRelational,
			ConnectionString: "postgres://u:p@127.0.0.1:1/db"},
		Pools: &fakePools{err: errors.New("boom")},
	})
	require.NoError(t, err)
	assert.ErrorIs(t, p.Connect(context.Background()), port.ErrConnectionFailed)
}

func TestNew_ConstructionErrors(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, port.ErrProviderConstruction)

	_, err = New(Options{Config: &domain.DataSourceConfig{ID: "x", WorkspaceID: "w", Kind: domain.BackendRelational}})
	assert.ErrorIs(t, err, port.ErrProviderConstruction)

	_, err = New(Options{Config: &domain.DataSourceConfig{ID: "x", WorkspaceID: "w", Kind: domain.BackendRelational, ConnectionString: "redis://x"}})
	var perr *port.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "connection_string", perr.Field)
}

func TestPostgresPlaceholders_WithSqlmock(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	p, err := New(Options{
		Config:         &domain.DataSourceConfig{ID: "ds1", WorkspaceID: "ws1", Kind: domain.BackendRelational},
		Session:        db,
		SessionDialect: "postgres",
	})
	require.NoError(t, err)

	mock.ExpectPing()
	mock.ExpectExec(`UPDATE equipment_status SET status = \$1 WHERE equipment_code = \$2`).
		WithArgs("PAUSE", "E7").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := p.UpdateEquipmentStatus(context.Background(), "E7", "standby")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}
