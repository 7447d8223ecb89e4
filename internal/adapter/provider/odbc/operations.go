// Package odbc file: internal/adapter/provider/odbc/operations.go
package odbc

import (
	"context"
	"time"

	"DataNexus/internal/adapter/provider/sqlkit"
	"DataNexus/internal/core/domain"
	"DataNexus/internal/core/port"

	"golang.org/x/sync/errgroup"
)

// GetEquipmentStatus 返回分页后的设备状态列表。
func (p *Provider) GetEquipmentStatus(ctx context.Context, q port.EquipmentQuery) (page *domain.EquipmentPage, err error) {
	const op = "odbc.GetEquipmentStatus"
	start := time.Now()
	defer func() { p.observe("get_equipment_status", start, err) }()

	q = q.Normalized()
	db, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	custom, _ := p.cfg.CustomQueryFor(domain.DataTypeEquipmentStatus)
	params := map[string]any{"equipment_type": q.EquipmentType, "status": q.Status}
	filters := sqlkit.NonEmptyFilters(
		sqlkit.Filter{Column: "equipment_type", Value: q.EquipmentType},
		sqlkit.Filter{Column: "status", Value: q.Status},
	)
	dataStmt, countStmt, err := buildEquipmentQueries(custom, params, filters, q.Limit, q.Offset, p.target.Placeholder())
	if err != nil {
		return nil, port.NewError(port.ErrQueryExecution, op, err).WithDataType(domain.DataTypeEquipmentStatus)
	}

	qctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var (
		rows  []map[string]any
		total int64
	)
	g, gctx := errgroup.WithContext(qctx)
	g.Go(func() error {
		return db.QueryRowContext(gctx, countStmt.query, countStmt.args...).Scan(&total)
	})
	g.Go(func() error {
		var qerr error
		rows, qerr = sqlkit.QueryMaps(gctx, db, dataStmt.query, dataStmt.args...)
		return qerr
	})
	if err := g.Wait(); err != nil {
		return nil, p.fail(op, domain.DataTypeEquipmentStatus, db, err)
	}

	items := p.shaper.Equipment(ctx, rows)
	return domain.NewEquipmentPage(items, total, q.Limit, q.Offset), nil
}

// GetMeasurementData 返回按测量时间倒序的测量数据。
func (p *Provider) GetMeasurementData(ctx context.Context, q port.MeasurementQuery) (out []domain.MeasurementRecord, err error) {
	const op = "odbc.GetMeasurementData"
	start := time.Now()
	defer func() { p.observe("get_measurement_data", start, err) }()

	q = q.Normalized()
	db, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	custom, _ := p.cfg.CustomQueryFor(domain.DataTypeMeasurementData)
	params := map[string]any{
		"equipment_code":   q.EquipmentCode,
		"equipment_type":   q.EquipmentType,
		"measurement_code": q.MeasurementCode,
		"limit":            q.Limit,
	}
	filters := sqlkit.NonEmptyFilters(
		sqlkit.Filter{Column: "equipment_code", Value: q.EquipmentCode},
		sqlkit.Filter{Column: "equipment_type", Value: q.EquipmentType},
		sqlkit.Filter{Column: "measurement_code", Value: q.MeasurementCode},
	)
	stmt, err := buildMeasurementQuery(custom, params, filters, q.Limit, p.target.Placeholder())
	if err != nil {
		return nil, port.NewError(port.ErrQueryExecution, op, err).WithDataType(domain.DataTypeMeasurementData)
	}

	qctx, cancel := p.withTimeout(ctx)
	defer cancel()
	rows, err := sqlkit.QueryMaps(qctx, db, stmt.query, stmt.args...)
	if err != nil {
		return nil, p.fail(op, domain.DataTypeMeasurementData, db, err)
	}
	return p.shaper.Measurements(ctx, domain.DataTypeMeasurementData, rows), nil
}

// GetLatestMeasurement 返回设备最新的一条测量记录，没有数据时返回 (nil, nil)。
func (p *Provider) GetLatestMeasurement(ctx context.Context, equipmentCode string) (rec *domain.MeasurementRecord, err error) {
	const op = "odbc.GetLatestMeasurement"
	start := time.Now()
	defer func() { p.observe("get_latest_measurement", start, err) }()

	db, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	custom, _ := p.cfg.CustomQueryFor(domain.DataTypeLatestMeasurement)
	stmt, err := buildMeasurementQuery(custom,
		map[string]any{"equipment_code": equipmentCode, "limit": 1},
		[]sqlkit.Filter{{Column: "equipment_code", Value: equipmentCode}},
		1, p.target.Placeholder())
	if err != nil {
		return nil, port.NewError(port.ErrQueryExecution, op, err).WithDataType(domain.DataTypeLatestMeasurement)
	}

	qctx, cancel := p.withTimeout(ctx)
	defer cancel()
	rows, err := sqlkit.QueryMaps(qctx, db, stmt.query, stmt.args...)
	if err != nil {
		return nil, p.fail(op, domain.DataTypeLatestMeasurement, db, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	records := p.shaper.Measurements(ctx, domain.DataTypeLatestMeasurement, rows[:1])
	return &records[0], nil
}

// UpdateEquipmentStatus 把状态归一化后写回，返回是否有行被更新。
func (p *Provider) UpdateEquipmentStatus(ctx context.Context, equipmentCode, status string) (ok bool, err error) {
	const op = "odbc.UpdateEquipmentStatus"
	start := time.Now()
	defer func() { p.observe("update_equipment_status", start, err) }()

	db, err := p.acquire(ctx)
	if err != nil {
		return false, err
	}
	normalized := p.shaper.NormalizeStatus(ctx, status)
	custom, _ := p.cfg.CustomQueryFor(domain.DataTypeUpdateEquipmentStatus)
	stmt, err := buildUpdateStatement(custom, equipmentCode, string(normalized), p.target.Placeholder())
	if err != nil {
		return false, port.NewError(port.ErrQueryExecution, op, err).WithDataType(domain.DataTypeUpdateEquipmentStatus)
	}

	qctx, cancel := p.withTimeout(ctx)
	defer cancel()
	res, err := db.ExecContext(qctx, stmt.query, stmt.args...)
	if err != nil {
		return false, p.fail(op, domain.DataTypeUpdateEquipmentStatus, db, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, port.NewError(port.ErrQueryExecution, op, err).WithDataType(domain.DataTypeUpdateEquipmentStatus)
	}
	return n > 0, nil
}

// ExecuteSQL 执行任意 T-SQL；{{name}} 占位符按出现顺序转换为驱动对应的绑定参数。
func (p *Provider) ExecuteSQL(ctx context.Context, query string, params map[string]any) (out []map[string]any, err error) {
	const op = "odbc.ExecuteSQL"
	start := time.Now()
	defer func() { p.observe("execute_sql", start, err) }()

	db, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	bound, err := sqlkit.BindTemplate(query, params, p.target.Placeholder())
	if err != nil {
		return nil, port.NewError(port.ErrQueryExecution, op, err).WithDataType(domain.DataTypeExecuteSQL)
	}

	qctx, cancel := p.withTimeout(ctx)
	defer cancel()
	if isReadStatement(bound.Query) {
		rows, err := sqlkit.QueryMaps(qctx, db, bound.Query, bound.Args...)
		if err != nil {
			return nil, p.fail(op, domain.DataTypeExecuteSQL, db, err)
		}
		return rows, nil
	}
	res, err := db.ExecContext(qctx, bound.Query, bound.Args...)
	if err != nil {
		return nil, p.fail(op, domain.DataTypeExecuteSQL, db, err)
	}
	n, _ := res.RowsAffected()
	return []map[string]any{{"rows_affected": n}}, nil
}
