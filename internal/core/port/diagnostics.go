// Package port file: internal/core/port/diagnostics.go
package port

import (
	"context"
	"sync"

	"DataNexus/internal/core/domain"
)

type diagnosticsKey struct{}

// Diagnostics 收集一次调用期间产生的字段映射诊断，可并发写入。
type Diagnostics struct {
	parent *Diagnostics

	mu    sync.Mutex
	items []domain.FieldDiagnostic
}

// WithDiagnostics 在 ctx 上挂一个新的收集器。外层已有收集器时，写入会同时转发给外层。
func WithDiagnostics(ctx context.Context) (context.Context, *Diagnostics) {
	parent, _ := ctx.Value(diagnosticsKey{}).(*Diagnostics)
	d := &Diagnostics{parent: parent}
	return context.WithValue(ctx, diagnosticsKey{}, d), d
}

// ReportDiagnostics 把诊断写入 ctx 上的收集器；没有收集器时丢弃。
func ReportDiagnostics(ctx context.Context, items ...domain.FieldDiagnostic) {
	if len(items) == 0 {
		return
	}
	d, _ := ctx.Value(diagnosticsKey{}).(*Diagnostics)
	for ; d != nil; d = d.parent {
		d.mu.Lock()
		d.items = append(d.items, items...)
		d.mu.Unlock()
	}
}

// List 返回已收集诊断的副本，没有诊断时返回 nil。
func (d *Diagnostics) List() []domain.FieldDiagnostic {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.items) == 0 {
		return nil
	}
	return append([]domain.FieldDiagnostic(nil), d.items...)
}
