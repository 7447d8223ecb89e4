package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"DataNexus/internal/core/domain"
	"DataNexus/internal/core/port"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanSelect(t *testing.T) {
	plan, err := planSelect("select equipment_code, status from dbo.equipment_status where equipment_type = 'CNC' and status = {{s}} limit 5 offset 10;",
		map[string]any{"s": "ACTIVE"})
	require.NoError(t, err)
	assert.Equal(t, "equipment", plan.target)
	assert.Equal(t, []string{"equipment_code", "status"}, plan.columns)
	assert.Equal(t, map[string]string{"equipment_type": "CNC", "status": "ACTIVE"}, plan.filters)
	assert.Equal(t, 5, plan.limit)
	assert.Equal(t, 10, plan.offset)

	plan, err = planSelect("SELECT * FROM measurement_info WHERE equipment_code = E1", nil)
	require.NoError(t, err)
	assert.Equal(t, "measurement", plan.target)
	assert.Nil(t, plan.columns)
	assert.Equal(t, "E1", plan.filters["equipment_code"])

	for _, q := range []string{
		"DELETE FROM equipment_status",
		"SELECT * FROM users",
		"SELECT count(*) FROM equipment_status",
		"SELECT * FROM equipment_status WHERE status <> 'STOP'",
		"SELECT * FROM equipment_status WHERE measurement_code = 'T'",
		"SELECT * FROM equipment_status e JOIN measurement_info m ON e.equipment_code = m.equipment_code",
	} {
		_, err := planSelect(q, nil)
		assert.ErrorIs(t, err, errNotTranslatable, q)
	}

	_, err = planSelect("SELECT * FROM equipment WHERE status = {{missing}}", nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, errNotTranslatable)
}

func TestExecuteSQL_Translated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "CNC", r.URL.Query().Get("equipment_type"))
		writeJSON(w, http.StatusOK, map[string]any{"data": []any{
			map[string]any{"equipment_code": "E1", "status": "running", "equipment_name": "Lathe"},
		}})
	}))
	defer srv.Close()
	p := newTestProvider(t, srv.URL, nil, nil)

	rows, err := p.ExecuteSQL(context.Background(), "SELECT equipment_code, status FROM equipment WHERE equipment_type = 'CNC'", nil)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"equipment_code": "E1", "status": "ACTIVE"}}, rows)
}

func TestExecuteSQL_Unsupported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("不应发出请求: %s", r.URL.Path)
	}))
	defer srv.Close()
	p := newTestProvider(t, srv.URL, nil, nil)

	_, err := p.ExecuteSQL(context.Background(), "UPDATE equipment_status SET status = 'STOP'", nil)
	require.ErrorIs(t, err, port.ErrUnsupportedOperation)
	assert.Equal(t, "UNSUPPORTED_OPERATION", port.Code(err))
}

func TestExecuteSQL_ConfiguredEndpoint(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/sql", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, map[string]any{"rows": []any{map[string]any{"n": 3}}})
	}))
	defer srv.Close()
	p := newTestProvider(t, srv.URL, &stubStore{endpoints: []domain.EndpointMapping{
		{DataType: domain.DataTypeExecuteSQL, Path: "/sql", Method: "post", ResponsePath: "$.rows"},
	}}, nil)

	rows, err := p.ExecuteSQL(context.Background(), "UPDATE x SET y = {{v}}", map[string]any{"v": 1})
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"n": float64(3)}}, rows)
	assert.Equal(t, "UPDATE x SET y = {{v}}", got["query"])
	assert.Equal(t, map[string]any{"v": float64(1)}, got["params"])
}
