// file: internal/adapter/provider/canonical/canonical_test.go

package canonical

import (
	"testing"
	"time"

	"DataNexus/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEquipment_Aliases(t *testing.T) {
	rec, raw := Equipment(map[string]any{
		"EquipmentCode":  "E1",
		"type":           "CNC",
		"equipment_name": " Lathe ",
		"state":          "running",
		"last_run_time":  "2024-05-01T10:00:00Z",
	})
	assert.Equal(t, "E1", rec.EquipmentCode)
	assert.Equal(t, "CNC", rec.EquipmentType)
	assert.Equal(t, "Lathe", rec.EquipmentName)
	assert.Equal(t, "running", raw)
	require.NotNil(t, rec.LastRunTime)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), rec.LastRunTime.UTC())
}

func TestMeasurement_SpecStatus(t *testing.T) {
	t.Run("backend value wins", func(t *testing.T) {
		rec := Measurement(map[string]any{"measurement_value": 5.0, "usl": 4.0, "spec_status": int64(0)})
		assert.Equal(t, domain.SpecInSpec, rec.SpecStatus)
	})
	t.Run("vendor word", func(t *testing.T) {
		rec := Measurement(map[string]any{"value": "1", "spec_status": "HIGH"})
		assert.Equal(t, domain.SpecAboveSpec, rec.SpecStatus)
		assert.Equal(t, 1.0, *rec.Value)
	})
	t.Run("derived from limits", func(t *testing.T) {
		assert.Equal(t, domain.SpecBelowSpec, Measurement(map[string]any{"value": 1.0, "lsl": 2.0}).SpecStatus)
		assert.Equal(t, domain.SpecAboveSpec, Measurement(map[string]any{"value": 9.0, "usl": 8.0, "lsl": 2.0}).SpecStatus)
		assert.Equal(t, domain.SpecInSpec, Measurement(map[string]any{"value": 5.0, "usl": 8.0, "lsl": 2.0}).SpecStatus)
	})
	t.Run("no limits", func(t *testing.T) {
		rec := Measurement(map[string]any{"value": 5.0})
		assert.Equal(t, domain.SpecNoSpec, rec.SpecStatus)
		assert.Nil(t, rec.USL)
	})
}

func TestToMapRoundTripKeys(t *testing.T) {
	v := 2.5
	row := MeasurementToMap(domain.MeasurementRecord{EquipmentCode: "E1", MeasurementCode: "T", Value: &v, SpecStatus: domain.SpecNoSpec})
	assert.Equal(t, 9, row["spec_status"])
	assert.Equal(t, 2.5, row["value"])
	assert.Nil(t, row["usl"])

	eq := EquipmentToMap(domain.EquipmentRecord{EquipmentCode: "E1", Status: domain.StatusPause})
	assert.Equal(t, "PAUSE", eq["status"])
}
