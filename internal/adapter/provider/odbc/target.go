// Package odbc file: internal/adapter/provider/odbc/target.go
package odbc

import (
	"database/sql"
	"slices"
	"strings"

	"DataNexus/internal/adapter/provider/sqlkit"

	_ "github.com/microsoft/go-mssqldb" // 注册 sqlserver 驱动
)

// database/sql 层面的驱动名：ODBC 驱动管理器与 go-mssqldb 原生 TDS。
const (
	sqlDriverODBC      = "odbc"
	sqlDriverSQLServer = "sqlserver"
)

// Target 是解析后的连接目标。
type Target struct {
	SQLDriver  string // database/sql 驱动名
	ODBCDriver string // ODBC 驱动名，原生 TDS 时为空
	DSN        string
	Masked     string
}

// Placeholder 返回目标驱动使用的绑定占位符：sqlserver 驱动要求 @pn，ODBC 驱动管理器使用 ?。
func (t Target) Placeholder() sqlkit.Placeholder {
	if t.SQLDriver == sqlDriverSQLServer {
		return sqlkit.AtP
	}
	return sqlkit.Question
}

// Resolver 决定使用哪种驱动以及对应的连接串。
type Resolver struct {
	Catalog  *DriverCatalog
	Override string // 配置中强制指定的 ODBC 驱动名，"native" 表示直接使用 go-mssqldb
	Settings ConnSettings
	// SQLDrivers 返回已注册的 database/sql 驱动，默认 sql.Drivers。
	SQLDrivers func() []string
}

// Resolve 解析连接串。优先级：显式覆盖 > 连接串中的 DRIVER > 已安装驱动（17 > 18 > 13 > FreeTDS）> 原生 TDS。
// 没有注册 ODBC 的 database/sql 驱动时，一律退回原生 TDS。
func (r *Resolver) Resolve(raw string) (Target, error) {
	parts, err := ParseConnString(raw)
	if err != nil {
		return Target{}, err
	}
	listDrivers := r.SQLDrivers
	if listDrivers == nil {
		listDrivers = sql.Drivers
	}
	odbcAvailable := slices.Contains(listDrivers(), sqlDriverODBC)

	driver := ""
	switch {
	case strings.EqualFold(r.Override, "native"):
	case r.Override != "":
		driver = r.Override
	case parts.Driver != "":
		driver = parts.Driver
	case r.Catalog != nil:
		driver, _ = r.Catalog.Preferred()
	}

	if driver == "" || !odbcAvailable {
		dsn := BuildSQLServerURL(parts, r.Settings)
		return Target{SQLDriver: sqlDriverSQLServer, DSN: dsn, Masked: MaskConnectionString(dsn)}, nil
	}
	dsn := BuildODBC(driver, parts, r.Settings)
	return Target{SQLDriver: sqlDriverODBC, ODBCDriver: driver, DSN: dsn, Masked: MaskConnectionString(dsn)}, nil
}
