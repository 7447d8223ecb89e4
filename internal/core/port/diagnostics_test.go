// file: internal/core/port/diagnostics_test.go

package port

import (
	"context"
	"testing"

	"DataNexus/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func TestDiagnostics_ChainsToParent(t *testing.T) {
	ReportDiagnostics(context.Background(), domain.FieldDiagnostic{TargetField: "x"})

	outerCtx, outer := WithDiagnostics(context.Background())
	innerCtx, inner := WithDiagnostics(outerCtx)

	ReportDiagnostics(innerCtx, domain.FieldDiagnostic{TargetField: "a"})
	ReportDiagnostics(outerCtx, domain.FieldDiagnostic{TargetField: "b"})
	ReportDiagnostics(innerCtx)

	assert.Equal(t, []domain.FieldDiagnostic{{TargetField: "a"}}, inner.List())
	assert.Equal(t, []domain.FieldDiagnostic{{TargetField: "a"}, {TargetField: "b"}}, outer.List())

	var none *Diagnostics
	assert.Nil(t, none.List())
	_, empty := WithDiagnostics(context.Background())
	assert.Nil(t, empty.List())
}
