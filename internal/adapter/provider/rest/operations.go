// Package rest file: internal/adapter/provider/rest/operations.go
package rest

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"DataNexus/internal/core/domain"
	"DataNexus/internal/core/port"

	"github.com/spf13/cast"
)

// call 按数据类型查找端点、展开路径参数并发出请求。
// 未被路径消费的非空参数在 GET/DELETE 请求中作为查询串发送。
func (p *Provider) call(ctx context.Context, op, dataType string, params map[string]string, payload any) (any, domain.EndpointMapping, error) {
	e, err := p.endpoint(ctx, op, dataType)
	if err != nil {
		return nil, e, err
	}
	path, used := expandPath(e.Path, params)
	var query url.Values
	if e.Method == http.MethodGet || e.Method == http.MethodDelete {
		query = url.Values{}
		for k, v := range params {
			if _, inPath := used[k]; inPath || v == "" {
				continue
			}
			query.Set(k, v)
		}
	}
	body, _, err := p.client.do(ctx, e.Method, path, query, payload)
	return body, e, err
}

// GetEquipmentStatus 返回分页后的设备状态列表。信封中没有总数时按返回条数推断。
func (p *Provider) GetEquipmentStatus(ctx context.Context, q port.EquipmentQuery) (page *domain.EquipmentPage, err error) {
	const op = "rest.GetEquipmentStatus"
	start := time.Now()
	defer func() { p.observe("get_equipment_status", start, err) }()

	q = q.Normalized()
	body, e, err := p.call(ctx, op, domain.DataTypeEquipmentStatus, map[string]string{
		"equipment_type": q.EquipmentType,
		"status":         q.Status,
		"limit":          strconv.Itoa(q.Limit),
		"offset":         strconv.Itoa(q.Offset),
	}, nil)
	if err != nil {
		return nil, p.wrap(op, domain.DataTypeEquipmentStatus, err)
	}
	rows, err := extractItems(body, e.ResponsePath)
	if err != nil {
		return nil, port.NewError(port.ErrQueryExecution, op, err).WithDataType(domain.DataTypeEquipmentStatus)
	}

	total, ok := envelopeTotal(body)
	switch {
	case ok:
	case len(rows) > q.Limit:
		// 后端忽略了分页参数，返回的是全集
		total = int64(len(rows))
		rows = window(rows, q.Offset, q.Limit)
	default:
		total = int64(q.Offset + len(rows))
	}
	items := p.shaper.Equipment(ctx, rows)
	return domain.NewEquipmentPage(items, total, q.Limit, q.Offset), nil
}

// GetMeasurementData 返回测量数据，超过 limit 的部分在本地截断。
func (p *Provider) GetMeasurementData(ctx context.Context, q port.MeasurementQuery) (out []domain.MeasurementRecord, err error) {
	const op = "rest.GetMeasurementData"
	start := time.Now()
	defer func() { p.observe("get_measurement_data", start, err) }()

	q = q.Normalized()
	body, e, err := p.call(ctx, op, domain.DataTypeMeasurementData, map[string]string{
		"equipment_code":   q.EquipmentCode,
		"equipment_type":   q.EquipmentType,
		"measurement_code": q.MeasurementCode,
		"limit":            strconv.Itoa(q.Limit),
	}, nil)
	if err != nil {
		return nil, p.wrap(op, domain.DataTypeMeasurementData, err)
	}
	rows, err := extractItems(body, e.ResponsePath)
	if err != nil {
		return nil, port.NewError(port.ErrQueryExecution, op, err).WithDataType(domain.DataTypeMeasurementData)
	}
	if len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	return p.shaper.Measurements(ctx, domain.DataTypeMeasurementData, rows), nil
}

// GetLatestMeasurement 返回设备最新的测量记录；404 或空结果返回 (nil, nil)。
func (p *Provider) GetLatestMeasurement(ctx context.Context, equipmentCode string) (rec *domain.MeasurementRecord, err error) {
	const op = "rest.GetLatestMeasurement"
	start := time.Now()
	defer func() { p.observe("get_latest_measurement", start, err) }()

	body, e, err := p.call(ctx, op, domain.DataTypeLatestMeasurement, map[string]string{"equipment_code": equipmentCode}, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, p.wrap(op, domain.DataTypeLatestMeasurement, err)
	}
	rows, err := extractItems(body, e.ResponsePath)
	if err != nil {
		return nil, port.NewError(port.ErrQueryExecution, op, err).WithDataType(domain.DataTypeLatestMeasurement)
	}
	records := p.shaper.Measurements(ctx, domain.DataTypeLatestMeasurement, rows)
	if len(records) == 0 {
		return nil, nil
	}
	latest := 0
	for i := 1; i < len(records); i++ {
		if newer(records[i].Timestamp, records[latest].Timestamp) {
			latest = i
		}
	}
	return &records[latest], nil
}

// UpdateEquipmentStatus 把归一化后的状态发送到更新端点。
// 响应中显式的 success=false 或 0 行更新视为未更新；404 视为设备不存在。
func (p *Provider) UpdateEquipmentStatus(ctx context.Context, equipmentCode, status string) (ok bool, err error) {
	const op = "rest.UpdateEquipmentStatus"
	start := time.Now()
	defer func() { p.observe("update_equipment_status", start, err) }()

	normalized := p.shaper.NormalizeStatus(ctx, status)
	payload := map[string]any{"equipment_code": equipmentCode, "status": string(normalized)}
	body, _, err := p.call(ctx, op, domain.DataTypeUpdateEquipmentStatus, map[string]string{"equipment_code": equipmentCode}, payload)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, p.wrap(op, domain.DataTypeUpdateEquipmentStatus, err)
	}
	obj, isObj := body.(map[string]any)
	if !isObj {
		return true, nil
	}
	if v, has := obj["success"]; has {
		if b, err := cast.ToBoolE(v); err == nil && !b {
			return false, nil
		}
	}
	for _, k := range []string{"updated", "rows_affected", "affected"} {
		if v, has := obj[k]; has {
			if n, err := cast.ToInt64E(v); err == nil {
				return n > 0, nil
			}
			if b, err := cast.ToBoolE(v); err == nil {
				return b, nil
			}
		}
	}
	return true, nil
}

func (p *Provider) wrap(op, dataType string, err error) error {
	var kerr *port.Error
	if errors.As(err, &kerr) {
		return err
	}
	return classify(op, dataType, err)
}

func window(rows []map[string]any, offset, limit int) []map[string]any {
	if offset >= len(rows) {
		return []map[string]any{}
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[offset:end]
}

func newer(a, b *time.Time) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	default:
		return a.After(*b)
	}
}
