// Package datasource_config 负责从元数据库读取数据源配置、解析租户、解密密文并规范化后端类型。
package datasource_config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"DataNexus/internal/core/domain"
	"DataNexus/internal/core/port"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

const configColumns = `id, workspace_id, backend_kind, connection_string, api_key, headers, custom_queries, options, is_active, created_at`

// Loader 实现 port.ConfigLoader。slug → workspace id 的解析结果带 TTL 缓存。
type Loader struct {
	db        *sql.DB
	decryptor port.Decryptor
	validate  *validator.Validate
	slugs     *lru.LRU[string, string]
}

var _ port.ConfigLoader = (*Loader)(nil)

// NewLoader 创建配置加载器。
// maxCacheEntries: slug 缓存的最大条目数；slugTTL: slug 缓存的过期时间。
func NewLoader(metaDB *sql.DB, decryptor port.Decryptor, maxCacheEntries int, slugTTL time.Duration) (*Loader, error) {
	if metaDB == nil {
		return nil, errors.New("Loader 初始化失败: 元数据库实例不能为 nil")
	}
	if decryptor == nil {
		return nil, errors.New("Loader 初始化失败: 解密器不能为 nil")
	}
	if maxCacheEntries <= 0 {
		maxCacheEntries = 1000
	}
	if slugTTL <= 0 {
		slugTTL = 5 * time.Minute
	}
	return &Loader{
		db:        metaDB,
		decryptor: decryptor,
		validate:  validator.New(),
		slugs:     lru.NewLRU[string, string](maxCacheEntries, nil, slugTTL),
	}, nil
}

// InvalidateSlug 使某个 slug 的缓存失效。
func (l *Loader) InvalidateSlug(slug string) {
	l.slugs.Remove(strings.ToLower(strings.TrimSpace(slug)))
}

// InvalidateAll 清空 slug 缓存。
func (l *Loader) InvalidateAll() {
	l.slugs.Purge()
	slog.Info("租户 slug 缓存已清除")
}

// ResolveWorkspace 把租户引用解析为 workspace id：UUID 直接使用，否则按 slug 查询。
func (l *Loader) ResolveWorkspace(ctx context.Context, tenantRef string) (string, error) {
	const op = "datasource_config.ResolveWorkspace"
	ref := strings.TrimSpace(tenantRef)
	if ref == "" {
		return "", port.NewError(port.ErrConfigNotFound, op, errors.New("租户标识为空")).WithField("workspace")
	}
	if id, err := uuid.Parse(ref); err == nil {
		return id.String(), nil
	}

	key := strings.ToLower(ref)
	if id, ok := l.slugs.Get(key); ok {
		return id, nil
	}
	var id string
	err := l.db.QueryRowContext(ctx, `SELECT id FROM workspaces WHERE lower(slug) = $1`, key).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", port.NewError(port.ErrConfigNotFound, op, fmt.Errorf("租户 %q 不存在", ref)).WithField("workspace")
	}
	if err != nil {
		return "", port.NewError(port.ErrConnectionFailed, op, fmt.Errorf("查询租户 %q 失败: %w", ref, err))
	}
	l.slugs.Add(key, id)
	return id, nil
}

// Load 解析租户配置：显式 ID 优先且必须处于激活状态，否则取该租户最新创建的激活配置。
func (l *Loader) Load(ctx context.Context, tenantRef, explicitID string) (*domain.DataSourceConfig, error) {
	const op = "datasource_config.Load"
	workspaceID, err := l.ResolveWorkspace(ctx, tenantRef)
	if err != nil {
		return nil, err
	}

	var row *domain.DataSourceConfigRow
	if explicitID = strings.TrimSpace(explicitID); explicitID != "" {
		row, err = l.queryOne(ctx,
			`SELECT `+configColumns+` FROM data_source_configs WHERE id = $1 AND workspace_id = $2`,
			explicitID, workspaceID)
		if err == nil && row != nil && !row.IsActive {
			return nil, port.NewError(port.ErrConfigNotFound, op, fmt.Errorf("数据源配置 %s 已停用", explicitID))
		}
	} else {
		row, err = l.queryOne(ctx,
			`SELECT `+configColumns+` FROM data_source_configs WHERE workspace_id = $1 AND is_active = TRUE ORDER BY created_at DESC LIMIT 1`,
			workspaceID)
	}
	if err != nil {
		return nil, err
	}
	if row == nil {
		if explicitID != "" {
			return nil, port.NewError(port.ErrConfigNotFound, op, fmt.Errorf("租户 %s 下不存在数据源配置 %s", workspaceID, explicitID))
		}
		return nil, port.NewError(port.ErrConfigNotFound, op, fmt.Errorf("租户 %s 没有激活的数据源配置", workspaceID))
	}

	cfg, err := l.Resolve(row)
	if err != nil {
		return nil, err
	}
	slog.Debug("数据源配置已加载", "workspace_id", workspaceID, "data_source_id", cfg.ID, "backend", cfg.Kind)
	return cfg, nil
}

func (l *Loader) queryOne(ctx context.Context, query string, args ...any) (*domain.DataSourceConfigRow, error) {
	var (
		row               domain.DataSourceConfigRow
		conn, apiKey      sql.NullString
		headers, cq, opts []byte
	)
	err := l.db.QueryRowContext(ctx, query, args...).Scan(
		&row.ID, &row.WorkspaceID, &row.BackendKind, &conn, &apiKey,
		&headers, &cq, &opts, &row.IsActive, &row.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		// 元数据库不可用，不能当作配置不存在
		return nil, port.NewError(port.ErrConnectionFailed, "datasource_config.queryOne", fmt.Errorf("查询数据源配置失败: %w", err))
	}
	row.EncryptedConnection = conn.String
	row.EncryptedAPIKey = apiKey.String
	row.Headers, row.CustomQueries, row.Options = headers, cq, opts
	return &row, nil
}

// Resolve 把原始配置行转换为可用的配置：规范化后端类型、解密密文、解析 JSON 列并校验。
func (l *Loader) Resolve(row *domain.DataSourceConfigRow) (*domain.DataSourceConfig, error) {
	const op = "datasource_config.Resolve"
	kind, err := NormalizeKind(row.BackendKind)
	if err != nil {
		return nil, port.NewError(port.ErrUnsupportedBackendKind, op, err).WithField("backend_kind")
	}

	cfg := &domain.DataSourceConfig{
		ID:          row.ID,
		WorkspaceID: row.WorkspaceID,
		Kind:        kind,
		CreatedAt:   row.CreatedAt,
	}
	if cfg.ConnectionString, err = l.decrypt(row.EncryptedConnection); err != nil {
		return nil, port.NewError(port.ErrDecryptionFailed, op, err).WithField("connection_string")
	}
	if cfg.APIKey, err = l.decrypt(row.EncryptedAPIKey); err != nil {
		return nil, port.NewError(port.ErrDecryptionFailed, op, err).WithField("api_key")
	}
	if cfg.Headers, err = parseHeaders(row.Headers); err != nil {
		return nil, port.NewError(port.ErrProviderConstruction, op, err).WithField("headers")
	}
	if cfg.CustomQueries, err = parseCustomQueries(row.CustomQueries); err != nil {
		perr := port.NewError(port.ErrProviderConstruction, op, err).WithField("custom_queries")
		var cqe *customQueryError
		if errors.As(err, &cqe) {
			perr.WithDataType(cqe.DataType)
		}
		return nil, perr
	}
	if cfg.Options, err = parseOptions(row.Options); err != nil {
		return nil, port.NewError(port.ErrProviderConstruction, op, err).WithField("options")
	}

	if err := l.validate.Struct(cfg); err != nil {
		var ve validator.ValidationErrors
		field := ""
		if errors.As(err, &ve) && len(ve) > 0 {
			field = snakeCase(ve[0].Field())
		}
		return nil, port.NewError(port.ErrProviderConstruction, op, fmt.Errorf("配置校验失败: %w", err)).WithField(field)
	}
	return cfg, nil
}

func (l *Loader) decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	return l.decryptor.Decrypt(ciphertext)
}

func snakeCase(s string) string {
	var sb strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				sb.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
