package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dropDatabas3/postdispatch/internal/security/secretbox"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"app_env"`
	} `yaml:"app"`

	Server struct {
		Addr               string   `yaml:"addr"`
		CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
		ShutdownDeadline   string   `yaml:"shutdown_deadline"`
	} `yaml:"server"`

	Storage struct {
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxOpenConns    int    `yaml:"max_open_conns"`
			MaxIdleConns    int    `yaml:"max_idle_conns"`
			ConnMaxLifetime string `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Cache struct {
		Kind  string `yaml:"kind"` // memory | redis
		Redis struct {
			Addr   string `yaml:"addr"`
			DB     int    `yaml:"db"`
			Prefix string `yaml:"prefix"`
		} `yaml:"redis"`
		Memory struct {
			DefaultTTL string `yaml:"default_ttl"`
		} `yaml:"memory"`
	} `yaml:"cache"`

	// Auth configura el cliente OAuth2/DPoP contra la red federada.
	Auth struct {
		AuthorizationEndpoint string   `yaml:"authorization_endpoint"`
		TokenEndpoint         string   `yaml:"token_endpoint"`
		IdentityEndpoint      string   `yaml:"identity_endpoint"` // "current session identity" del network, spec.md §4.2.4 paso 4
		APIBaseURL            string   `yaml:"api_base_url"`      // host base para NetworkClient.Do
		CreateRecordPath      string   `yaml:"create_record_path"`
		ClientID              string   `yaml:"client_id"`
		ClientSecret          string   `yaml:"client_secret"`
		RedirectURL           string   `yaml:"redirect_url"`
		Scopes                []string `yaml:"scopes"`
		DPoPEnabled           bool     `yaml:"dpop_enabled"`
		RefreshSkew           string   `yaml:"refresh_skew"` // margen antes de expirar para refrescar
		Session               struct {
			CookieName string `yaml:"cookie_name"`
			Domain     string `yaml:"domain"`
			SameSite   string `yaml:"samesite"`
			Secure     bool   `yaml:"secure"`
			TTL        string `yaml:"ttl"`
		} `yaml:"session"`
	} `yaml:"auth"`

	// Rate configura el RateGate de llamadas salientes a la API y de los
	// endpoints propios de autenticación/reenvío.
	Rate struct {
		Backend string `yaml:"backend"` // memory | redis

		API struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"api"`

		OAuth struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"oauth"`
	} `yaml:"rate"`

	Flags struct {
		Migrate bool `yaml:"migrate"`
	} `yaml:"flags"`

	Security struct {
		// EncryptionKey: secreto base (>=32 bytes tras decode base64) del
		// que se deriva la clave AES-256-GCM via HKDF-SHA256.
		EncryptionKey string `yaml:"encryption_key"`
	} `yaml:"security"`

	// Dispatcher controla el ciclo de publicación programada.
	Dispatcher struct {
		TickInterval       string `yaml:"tick_interval"`
		BatchSize          int    `yaml:"batch_size"`
		SubBatchSize       int    `yaml:"sub_batch_size"`
		SubBatchPause      string `yaml:"sub_batch_pause"`
		MaxRetries         int    `yaml:"max_retries"`
		BackoffBase        string `yaml:"backoff_base"`
		WatchdogTimeout    string `yaml:"watchdog_timeout"`
		HealthCheckEvery   string `yaml:"health_check_every"`
		MaintenanceAt      string `yaml:"maintenance_at"` // "HH:MM" diario
		RequireLeader      bool   `yaml:"require_leader"`
	} `yaml:"dispatcher"`

	// Cluster habilita el lease de liderazgo vía raft para exigir
	// singleton semantics del Dispatcher entre varias instancias.
	Cluster struct {
		Mode          string            `yaml:"mode"` // off | embedded
		NodeID        string            `yaml:"node_id"`
		RaftAddr      string            `yaml:"raft_addr"`
		Nodes         map[string]string `yaml:"nodes"`
		SnapshotEvery int               `yaml:"snapshot_every"`
		MaxLogMB      int               `yaml:"max_log_mb"`
		DataDir       string            `yaml:"data_dir"`
	} `yaml:"cluster"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	c.applyDefaults()
	c.applyEnvOverrides()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadFromEnv construye la config leyendo solo variables de entorno, sin un
// archivo YAML base. Útil en despliegues que inyectan toda la config por env.
func LoadFromEnv() (*Config, error) {
	var c Config
	c.applyDefaults()
	c.applyEnvOverrides()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ShutdownDeadline == "" {
		c.Server.ShutdownDeadline = "30s"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Memory.DefaultTTL == "" {
		c.Cache.Memory.DefaultTTL = "10m"
	}
	if c.Auth.RefreshSkew == "" {
		c.Auth.RefreshSkew = "60s"
	}
	if len(c.Auth.Scopes) == 0 {
		c.Auth.Scopes = []string{"transition:generic"}
	}
	if c.Auth.CreateRecordPath == "" {
		c.Auth.CreateRecordPath = "/xrpc/com.atproto.repo.createRecord"
	}
	if c.Auth.IdentityEndpoint == "" {
		c.Auth.IdentityEndpoint = "/xrpc/com.atproto.server.getSession"
	}
	if c.Auth.Session.CookieName == "" {
		c.Auth.Session.CookieName = "sid"
	}
	if c.Auth.Session.SameSite == "" {
		c.Auth.Session.SameSite = "Lax"
	}
	if c.Auth.Session.TTL == "" {
		c.Auth.Session.TTL = "720h"
	}
	if c.Rate.Backend == "" {
		c.Rate.Backend = "memory"
	}
	if c.Rate.API.Limit == 0 {
		c.Rate.API.Limit = 300
	}
	if c.Rate.API.Window == "" {
		c.Rate.API.Window = "300s"
	}
	if c.Rate.OAuth.Limit == 0 {
		c.Rate.OAuth.Limit = 60
	}
	if c.Rate.OAuth.Window == "" {
		c.Rate.OAuth.Window = "60s"
	}
	if c.Dispatcher.TickInterval == "" {
		c.Dispatcher.TickInterval = "60s"
	}
	if c.Dispatcher.BatchSize == 0 {
		c.Dispatcher.BatchSize = 100
	}
	if c.Dispatcher.SubBatchSize == 0 {
		c.Dispatcher.SubBatchSize = 10
	}
	if c.Dispatcher.SubBatchPause == "" {
		c.Dispatcher.SubBatchPause = "1s"
	}
	if c.Dispatcher.MaxRetries == 0 {
		c.Dispatcher.MaxRetries = 3
	}
	if c.Dispatcher.BackoffBase == "" {
		c.Dispatcher.BackoffBase = "2s"
	}
	if c.Dispatcher.WatchdogTimeout == "" {
		c.Dispatcher.WatchdogTimeout = "10m"
	}
	if c.Dispatcher.HealthCheckEvery == "" {
		c.Dispatcher.HealthCheckEvery = "30m"
	}
	if c.Dispatcher.MaintenanceAt == "" {
		c.Dispatcher.MaintenanceAt = "03:00"
	}
	if strings.TrimSpace(c.Cluster.Mode) == "" {
		c.Cluster.Mode = "off"
	}
	if c.Cluster.Nodes == nil {
		c.Cluster.Nodes = map[string]string{}
	}
	if c.Cluster.DataDir == "" {
		c.Cluster.DataDir = "./data/raft"
	}
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}
func getEnvCSV(key string) ([]string, bool) {
	if s, ok := getEnvStr(key); ok {
		if strings.TrimSpace(s) == "" {
			return []string{}, true
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}

func parseKVList(s, sep string) map[string]string {
	s = strings.TrimSpace(s)
	if s == "" {
		return map[string]string{}
	}
	items := strings.Split(s, sep)
	out := make(map[string]string, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		if i := strings.IndexRune(it, '='); i > 0 {
			k := strings.TrimSpace(it[:i])
			v := strings.TrimSpace(it[i+1:])
			if k != "" && v != "" {
				out[k] = v
			}
		}
	}
	return out
}

func getEnvKVList(key, sep string) (map[string]string, bool) {
	if s, ok := getEnvStr(key); ok {
		return parseKVList(s, sep), true
	}
	return nil, false
}

// applyEnvOverrides pisa config.yaml con variables de entorno. Pensado para
// despliegues donde el secreto de cifrado y las credenciales OAuth nunca
// viven en disco.
func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}

	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvCSV("SERVER_CORS_ALLOWED_ORIGINS"); ok {
		c.Server.CORSAllowedOrigins = v
	}
	if v, ok := getEnvStr("SERVER_SHUTDOWN_DEADLINE"); ok {
		c.Server.ShutdownDeadline = v
	}

	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvInt("POSTGRES_MAX_OPEN_CONNS"); ok {
		c.Storage.Postgres.MaxOpenConns = v
	}
	if v, ok := getEnvInt("POSTGRES_MAX_IDLE_CONNS"); ok {
		c.Storage.Postgres.MaxIdleConns = v
	}
	if v, ok := getEnvStr("POSTGRES_CONN_MAX_LIFETIME"); ok {
		c.Storage.Postgres.ConnMaxLifetime = v
	}

	if v, ok := getEnvStr("CACHE_KIND"); ok {
		c.Cache.Kind = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}
	if v, ok := getEnvStr("REDIS_PREFIX"); ok {
		c.Cache.Redis.Prefix = v
	}
	if v, ok := getEnvStr("CACHE_MEMORY_DEFAULT_TTL"); ok {
		c.Cache.Memory.DefaultTTL = v
	}

	if v, ok := getEnvStr("OAUTH_AUTHORIZATION_ENDPOINT"); ok {
		c.Auth.AuthorizationEndpoint = v
	}
	if v, ok := getEnvStr("OAUTH_TOKEN_ENDPOINT"); ok {
		c.Auth.TokenEndpoint = v
	}
	if v, ok := getEnvStr("OAUTH_IDENTITY_ENDPOINT"); ok {
		c.Auth.IdentityEndpoint = v
	}
	if v, ok := getEnvStr("NETWORK_API_BASE_URL"); ok {
		c.Auth.APIBaseURL = v
	}
	if v, ok := getEnvStr("NETWORK_CREATE_RECORD_PATH"); ok {
		c.Auth.CreateRecordPath = v
	}
	if v, ok := getEnvStr("OAUTH_CLIENT_ID"); ok {
		c.Auth.ClientID = v
	}
	if v, ok := getEnvStr("OAUTH_CLIENT_SECRET"); ok {
		c.Auth.ClientSecret = v
	}
	if v, ok := getEnvStr("OAUTH_REDIRECT_URL"); ok {
		c.Auth.RedirectURL = v
	}
	if v, ok := getEnvCSV("OAUTH_SCOPES"); ok && len(v) > 0 {
		c.Auth.Scopes = v
	}
	if v, ok := getEnvBool("OAUTH_DPOP_ENABLED"); ok {
		c.Auth.DPoPEnabled = v
	} else {
		c.Auth.DPoPEnabled = true
	}
	if v, ok := getEnvStr("OAUTH_REFRESH_SKEW"); ok {
		c.Auth.RefreshSkew = v
	}
	if v, ok := getEnvStr("AUTH_SESSION_COOKIE_NAME"); ok {
		c.Auth.Session.CookieName = v
	}
	if v, ok := getEnvStr("AUTH_SESSION_DOMAIN"); ok {
		c.Auth.Session.Domain = v
	}
	if v, ok := getEnvStr("AUTH_SESSION_SAMESITE"); ok {
		c.Auth.Session.SameSite = v
	}
	if v, ok := getEnvBool("AUTH_SESSION_SECURE"); ok {
		c.Auth.Session.Secure = v
	}
	if v, ok := getEnvStr("AUTH_SESSION_TTL"); ok {
		c.Auth.Session.TTL = v
	}

	if v, ok := getEnvStr("RATE_BACKEND"); ok {
		c.Rate.Backend = v
	}
	if v, ok := getEnvInt("RATE_API_LIMIT"); ok {
		c.Rate.API.Limit = v
	}
	if v, ok := getEnvStr("RATE_API_WINDOW"); ok {
		c.Rate.API.Window = v
	}
	if v, ok := getEnvInt("RATE_OAUTH_LIMIT"); ok {
		c.Rate.OAuth.Limit = v
	}
	if v, ok := getEnvStr("RATE_OAUTH_WINDOW"); ok {
		c.Rate.OAuth.Window = v
	}

	if v, ok := getEnvBool("FLAGS_MIGRATE"); ok {
		c.Flags.Migrate = v
	}

	if v, ok := getEnvStr("ENCRYPTION_KEY"); ok {
		c.Security.EncryptionKey = v
	}

	if v, ok := getEnvStr("DISPATCHER_TICK_INTERVAL"); ok {
		c.Dispatcher.TickInterval = v
	}
	if v, ok := getEnvInt("DISPATCHER_BATCH_SIZE"); ok {
		c.Dispatcher.BatchSize = v
	}
	if v, ok := getEnvInt("DISPATCHER_SUB_BATCH_SIZE"); ok {
		c.Dispatcher.SubBatchSize = v
	}
	if v, ok := getEnvStr("DISPATCHER_SUB_BATCH_PAUSE"); ok {
		c.Dispatcher.SubBatchPause = v
	}
	if v, ok := getEnvInt("DISPATCHER_MAX_RETRIES"); ok {
		c.Dispatcher.MaxRetries = v
	}
	if v, ok := getEnvStr("DISPATCHER_BACKOFF_BASE"); ok {
		c.Dispatcher.BackoffBase = v
	}
	if v, ok := getEnvStr("DISPATCHER_WATCHDOG_TIMEOUT"); ok {
		c.Dispatcher.WatchdogTimeout = v
	}
	if v, ok := getEnvStr("DISPATCHER_HEALTH_CHECK_EVERY"); ok {
		c.Dispatcher.HealthCheckEvery = v
	}
	if v, ok := getEnvStr("DISPATCHER_MAINTENANCE_AT"); ok {
		c.Dispatcher.MaintenanceAt = v
	}
	if v, ok := getEnvBool("DISPATCHER_REQUIRE_LEADER"); ok {
		c.Dispatcher.RequireLeader = v
	}

	if v, ok := getEnvStr("CLUSTER_MODE"); ok {
		c.Cluster.Mode = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := getEnvStr("NODE_ID"); ok {
		c.Cluster.NodeID = strings.TrimSpace(v)
	}
	if v, ok := getEnvStr("RAFT_ADDR"); ok {
		c.Cluster.RaftAddr = strings.TrimSpace(v)
	}
	if m, ok := getEnvKVList("CLUSTER_NODES", ";"); ok {
		for k, v := range m {
			c.Cluster.Nodes[k] = v
		}
	}
	if v, ok := getEnvInt("RAFT_SNAPSHOT_EVERY"); ok {
		c.Cluster.SnapshotEvery = v
	}
	if v, ok := getEnvInt("RAFT_MAX_LOG_MB"); ok {
		c.Cluster.MaxLogMB = v
	}
	if v, ok := getEnvStr("RAFT_DATA_DIR"); ok {
		c.Cluster.DataDir = v
	}
	if c.Dispatcher.RequireLeader && c.Cluster.Mode == "off" {
		c.Dispatcher.RequireLeader = false
	}
}

// Validate chequea invariantes mínimas antes de arrancar el servicio.
func (c *Config) Validate() error {
	if c.Storage.DSN == "" {
		return errRequired("STORAGE_DSN/storage.dsn")
	}
	if c.Security.EncryptionKey == "" {
		return errRequired("ENCRYPTION_KEY/security.encryption_key")
	}
	if err := secretbox.ValidateSecretLength(c.Security.EncryptionKey); err != nil {
		return fmt.Errorf("ENCRYPTION_KEY/security.encryption_key: %w", err)
	}
	if c.Auth.ClientID == "" {
		return errRequired("OAUTH_CLIENT_ID/auth.client_id")
	}
	for _, d := range []string{
		c.Server.ShutdownDeadline,
		c.Cache.Memory.DefaultTTL,
		c.Auth.RefreshSkew,
		c.Auth.Session.TTL,
		c.Rate.API.Window,
		c.Rate.OAuth.Window,
		c.Dispatcher.TickInterval,
		c.Dispatcher.SubBatchPause,
		c.Dispatcher.BackoffBase,
		c.Dispatcher.WatchdogTimeout,
		c.Dispatcher.HealthCheckEvery,
	} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return err
		}
	}
	return nil
}

type configError string

func (e configError) Error() string { return "config: missing required value: " + string(e) }

func errRequired(name string) error { return configError(name) }
