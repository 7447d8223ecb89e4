package mapping_store

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"DataNexus/internal/core/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{DisableAutomaticPing: true})
	require.NoError(t, err)
	store, err := New(db)
	require.NoError(t, err)
	return store, mock
}

func TestFieldMappings(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "field_mappings" WHERE data_source_id = $1 AND data_type = $2 ORDER BY id`)).
		WithArgs("ds1", domain.DataTypeEquipmentStatus).
		WillReturnRows(sqlmock.NewRows([]string{"id", "data_source_id", "data_type", "source_field", "target_field", "conversion", "transform_function", "default_value", "is_required"}).
			AddRow(1, "ds1", domain.DataTypeEquipmentStatus, "equip_id", "equipment_code", "string", "", nil, true).
			AddRow(2, "ds1", domain.DataTypeEquipmentStatus, "state", "status", "", "upper", "STOP", false))

	got, err := store.FieldMappings(context.Background(), "ds1", domain.DataTypeEquipmentStatus)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "equipment_code", got[0].TargetField)
	assert.True(t, got[0].IsRequired)
	assert.Nil(t, got[0].DefaultValue)
	require.NotNil(t, got[1].DefaultValue)
	assert.Equal(t, "STOP", *got[1].DefaultValue)
	assert.Equal(t, "upper", got[1].TransformFunction)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCodeMappings_TransformRulesJSON(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "code_mappings" WHERE workspace_id = $1 AND data_source_id = $2 ORDER BY id`)).
		WithArgs("ws1", "ds1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "workspace_id", "data_source_id", "mapping_type", "source_code", "target_code", "transform_rules"}).
			AddRow(1, "ws1", "ds1", "measurement", "T1", "TEMP", `{"scale":0.1,"decimals":1}`).
			AddRow(2, "ws1", "ds1", "equipment", "M-01", "PRESS-01", nil))

	got, err := store.CodeMappings(context.Background(), "ws1", "ds1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.NotNil(t, got[0].TransformRules)
	assert.Equal(t, 0.1, *got[0].TransformRules.Scale)
	assert.Equal(t, 1, *got[0].TransformRules.Decimals)
	assert.True(t, got[1].TransformRules.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusAndEndpointMappings(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "status_mappings" WHERE workspace_id = $1 ORDER BY id`)).
		WithArgs("ws1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "workspace_id", "source_status", "target_status"}).
			AddRow(1, "ws1", "Auto-Run", "ACTIVE"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "endpoint_mappings" WHERE data_source_id = $1 ORDER BY id`)).
		WithArgs("ds1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "data_source_id", "data_type", "path", "method", "response_path"}).
			AddRow(1, "ds1", "equipment_status", "/v2/machines", "GET", "$.items"))

	ctx := context.Background()
	sm, err := store.StatusMappings(ctx, "ws1")
	require.NoError(t, err)
	require.Len(t, sm, 1)
	assert.Equal(t, "ACTIVE", sm[0].TargetStatus)

	em, err := store.EndpointMappings(ctx, "ds1")
	require.NoError(t, err)
	require.Len(t, em, 1)
	assert.Equal(t, "$.items", em[0].ResponsePath)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryErrorIsWrapped(t *testing.T) {
	store, mock := newMockStore(t)
	boom := errors.New("relation does not exist")
	mock.ExpectQuery(`SELECT \* FROM "status_mappings"`).WillReturnError(boom)

	_, err := store.StatusMappings(context.Background(), "ws1")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestNew_NilGuards(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
	_, err = NewFromSQL(nil)
	assert.Error(t, err)
}
