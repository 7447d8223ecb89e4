// file: cmd/gateway/main.go

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"DataNexus/internal/adapter/provider/odbc"
	"DataNexus/internal/core/domain"
	"DataNexus/internal/core/port"
	"DataNexus/internal/nxobserve"
	"DataNexus/internal/pool"
	"DataNexus/internal/secret"
	"DataNexus/internal/service/datasource_config"
	"DataNexus/internal/service/dispatcher"
	"DataNexus/internal/service/mapping_store"
	"DataNexus/internal/status"
	"DataNexus/internal/transport/http/middleware"
	"DataNexus/internal/transport/http/router"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/spf13/viper"
)

const version = "v0.3.0"

type ServerConfig struct {
	Port      int    `mapstructure:"port"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	PprofAddr string `mapstructure:"pprof_addr"`

	RateLimit middleware.RateLimitConfig `mapstructure:"rate_limit"`
}

type MetadataConfig struct {
	DSN          string        `mapstructure:"dsn"`
	AutoMigrate  bool          `mapstructure:"auto_migrate"`
	SlugCacheTTL time.Duration `mapstructure:"slug_cache_ttl"`
	SlugCacheMax int           `mapstructure:"slug_cache_max"`
	StatusTTL    time.Duration `mapstructure:"status_override_ttl"`
}

type PoolConfig struct {
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	Relational    pool.Sizing   `mapstructure:"relational"`
	ODBC          pool.Sizing   `mapstructure:"odbc"`
}

type TimeoutConfig struct {
	Connect time.Duration `mapstructure:"connect"`
	Query   time.Duration `mapstructure:"query"`
	HTTP    time.Duration `mapstructure:"http"`
}

type ODBCConfig struct {
	Driver        string   `mapstructure:"driver"`
	OdbcinstPaths []string `mapstructure:"odbcinst_paths"`

	odbc.ConnSettings `mapstructure:",squash"`
}

type RESTConfig struct {
	RateLimitPerSecond float64 `mapstructure:"rate_limit_per_second"`
	Burst              int     `mapstructure:"burst"`
}

type SecretConfig struct {
	Key string `mapstructure:"key"`
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Metadata MetadataConfig `mapstructure:"metadata"`
	Secret   SecretConfig   `mapstructure:"secret"`
	Pool     PoolConfig     `mapstructure:"pool"`
	Timeouts TimeoutConfig  `mapstructure:"timeouts"`
	ODBC     ODBCConfig     `mapstructure:"odbc"`
	REST     RESTConfig     `mapstructure:"rest"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "INFO")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.pprof_addr", "")
	v.SetDefault("server.rate_limit.global.rate", 200.0)
	v.SetDefault("server.rate_limit.global.burst", 400)
	v.SetDefault("server.rate_limit.per_ip.rate", 20.0)
	v.SetDefault("server.rate_limit.per_ip.burst", 40)
	v.SetDefault("server.rate_limit.per_tenant.rate", 50.0)
	v.SetDefault("server.rate_limit.per_tenant.burst", 100)
	v.SetDefault("server.rate_limit.idle_ttl", 15*time.Minute)
	// 没有默认值的键不会被 AutomaticEnv 解析到结构体中
	v.SetDefault("metadata.dsn", "")
	v.SetDefault("metadata.auto_migrate", false)
	v.SetDefault("secret.key", "")
	v.SetDefault("metadata.slug_cache_ttl", 5*time.Minute)
	v.SetDefault("metadata.slug_cache_max", 1000)
	v.SetDefault("metadata.status_override_ttl", 5*time.Minute)
	v.SetDefault("pool.idle_timeout", 30*time.Minute)
	v.SetDefault("pool.sweep_interval", 5*time.Minute)
	v.SetDefault("timeouts.connect", 10*time.Second)
	v.SetDefault("timeouts.query", 30*time.Second)
	v.SetDefault("timeouts.http", 30*time.Second)
	defaults := odbc.DefaultConnSettings()
	v.SetDefault("odbc.trust_server_certificate", defaults.TrustServerCertificate)
	v.SetDefault("odbc.retry_count", defaults.RetryCount)
	v.SetDefault("odbc.retry_interval", defaults.RetryIntervalSeconds)
	v.SetDefault("odbc.login_timeout", defaults.LoginTimeoutSeconds)
	v.SetDefault("odbc.mars_connection", defaults.MARSConnection)
	v.SetDefault("odbc.driver", "")
	v.SetDefault("rest.rate_limit_per_second", 0.0)
	v.SetDefault("rest.burst", 1)
}

func loadConfig() (*Config, string, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("WARN: 读取 .env 失败: %v", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("NEXUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := os.Getenv("NEXUS_CONFIG_FILE")
	if path == "" {
		path = "configs/config.yaml"
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, path, fmt.Errorf("读取配置文件 '%s' 失败: %w", path, err)
		}
		log.Printf("INFO: 配置文件 '%s' 不存在，仅使用默认值与环境变量", path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, path, fmt.Errorf("解析配置到结构体失败: %w", err)
	}
	return &cfg, path, nil
}

func main() {
	log.Printf("DataNexus gateway %s 正在启动...", version)

	config, configPath, err := loadConfig()
	if err != nil {
		log.Fatalf("CRITICAL: %v", err)
	}
	nxobserve.InitLogger(config.Server.LogLevel, config.Server.LogFormat)
	nxobserve.Register()
	slog.Info("配置加载完成", "path", configPath, "version", version)

	if config.Metadata.DSN == "" {
		slog.Error("缺少元数据库连接串 metadata.dsn")
		os.Exit(1)
	}
	metaDB, err := openMetadataDB(config.Metadata.DSN)
	if err != nil {
		slog.Error("连接元数据库失败", "error", err)
		os.Exit(1)
	}
	defer func() {
		slog.Info("正在关闭元数据库连接...")
		if err := metaDB.Close(); err != nil {
			slog.Error("关闭元数据库时发生错误", "error", err)
		}
	}()

	var decryptor port.Decryptor
	if config.Secret.Key == "" {
		slog.Warn("未配置 secret.key，数据源密文字段按明文处理")
		decryptor = secret.Plaintext{}
	} else {
		box, err := secret.NewBox(config.Secret.Key)
		if err != nil {
			slog.Error("初始化解密器失败", "error", err)
			os.Exit(1)
		}
		decryptor = box
	}

	loader, err := datasource_config.NewLoader(metaDB, decryptor, config.Metadata.SlugCacheMax, config.Metadata.SlugCacheTTL)
	if err != nil {
		slog.Error("初始化配置加载器失败", "error", err)
		os.Exit(1)
	}
	store, err := mapping_store.NewFromSQL(metaDB)
	if err != nil {
		slog.Error("初始化映射存储失败", "error", err)
		os.Exit(1)
	}
	if config.Metadata.AutoMigrate {
		if err := store.Migrate(context.Background()); err != nil {
			slog.Error("映射表迁移失败", "error", err)
			os.Exit(1)
		}
	}
	normalizer := status.NewNormalizer(store, config.Metadata.StatusTTL)
	slog.Info("服务层: 配置加载器、映射存储与状态归一化器初始化完成")

	sizing := pool.DefaultSizing()
	if config.Pool.Relational.PoolSize > 0 {
		sizing[domain.BackendRelational] = config.Pool.Relational
	}
	if config.Pool.ODBC.PoolSize > 0 {
		sizing[domain.BackendODBC] = config.Pool.ODBC
	}
	registry := pool.NewRegistry(pool.Config{
		IdleTimeout:   config.Pool.IdleTimeout,
		SweepInterval: config.Pool.SweepInterval,
		Sizing:        sizing,
	})
	defer registry.CloseAll()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	catalog := odbc.NewDriverCatalog(config.ODBC.OdbcinstPaths...)
	if err := catalog.Watch(ctx); err != nil {
		slog.Warn("odbcinst.ini 热加载未启用", "error", err)
	}
	if name, ok := catalog.Preferred(); ok {
		slog.Info("检测到 ODBC 驱动", "driver", name)
	}

	factory := dispatcher.NewFactory(dispatcher.FactoryConfig{
		ConnectTimeout:     config.Timeouts.Connect,
		QueryTimeout:       config.Timeouts.Query,
		HTTPTimeout:        config.Timeouts.HTTP,
		ODBCCatalog:        catalog,
		ODBCDriverOverride: config.ODBC.Driver,
		ODBCSettings:       config.ODBC.ConnSettings,
		RESTRateLimit:      config.REST.RateLimitPerSecond,
		RESTBurst:          config.REST.Burst,
	})

	httpRouter := router.New(router.Dependencies{
		Dispatch: dispatcher.Dependencies{
			Loader:     loader,
			Factory:    factory,
			Pools:      registry,
			Normalizer: normalizer,
			Mappings:   store,
		},
		Pools:      registry,
		Status:     normalizer,
		Workspaces: loader,
		RateLimit:  middleware.NewRateLimiter(config.Server.RateLimit),
	})
	slog.Info("传输层: HTTP 路由器创建完成")

	addr := fmt.Sprintf(":%d", config.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           httpRouter,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("DataNexus 网关启动成功，开始监听HTTP请求", "address", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP服务启动失败", "error", err)
			os.Exit(1)
		}
	}()
	stopPprof := nxobserve.EnablePprof(config.Server.PprofAddr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("收到停机信号，准备优雅关闭...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP服务优雅关闭失败", "error", err)
	}
	_ = stopPprof(shutdownCtx)
	slog.Info("HTTP服务已关闭，程序即将退出")
}

// openMetadataDB 打开存放数据源配置与映射表的 PostgreSQL 元数据库。
func openMetadataDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开元数据库失败: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("连接元数据库 (Ping) 失败: %w", err)
	}
	return db, nil
}
