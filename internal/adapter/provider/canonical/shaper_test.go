// file: internal/adapter/provider/canonical/shaper_test.go

package canonical

import (
	"context"
	"testing"

	"DataNexus/internal/core/domain"
	"DataNexus/internal/core/port"
	"DataNexus/internal/mapping"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fieldStore struct {
	fields map[string][]domain.FieldMapping
}

func (s fieldStore) FieldMappings(_ context.Context, _, dataType string) ([]domain.FieldMapping, error) {
	return s.fields[dataType], nil
}
func (fieldStore) CodeMappings(context.Context, string, string) ([]domain.CodeMapping, error) {
	return nil, nil
}
func (fieldStore) StatusMappings(context.Context, string) ([]domain.StatusMapping, error) {
	return nil, nil
}
func (fieldStore) EndpointMappings(context.Context, string) ([]domain.EndpointMapping, error) {
	return nil, nil
}

func TestShaper_ReportsMappingDiagnostics(t *testing.T) {
	store := fieldStore{fields: map[string][]domain.FieldMapping{
		domain.DataTypeEquipmentStatus: {
			{SourceField: "code", TargetField: "equipment_code"},
			{SourceField: "runs", TargetField: "run_count", Conversion: domain.ConversionInt},
		},
	}}
	s := &Shaper{WorkspaceID: "ws1", Resolver: mapping.NewResolver(store, "ws1", "ds1")}

	ctx, diags := port.WithDiagnostics(context.Background())
	recs := s.Equipment(ctx, []map[string]any{
		{"code": "E1", "runs": "3"},
		{"code": "E2", "runs": "abc"},
	})
	require.Len(t, recs, 2)
	assert.Equal(t, "E2", recs[1].EquipmentCode)

	list := diags.List()
	require.Len(t, list, 1)
	assert.Equal(t, domain.DataTypeEquipmentStatus, list[0].DataType)
	assert.Equal(t, 1, list[0].Row)
	assert.Equal(t, "run_count", list[0].TargetField)
	assert.Equal(t, "runs", list[0].SourceField)
	assert.Equal(t, mapping.ReasonConversionFailed, list[0].Reason)
	assert.NotEmpty(t, list[0].Detail)

	// 没有收集器时诊断只记日志
	assert.Len(t, s.Equipment(context.Background(), []map[string]any{{"code": "E3", "runs": "x"}}), 1)
}
