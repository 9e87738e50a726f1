package config

import "time"

// Config is the root application configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Wikibase  WikibaseConfig  `yaml:"wikibase"`
	SPARQL    SPARQLConfig    `yaml:"sparql"`
	Batch     BatchConfig     `yaml:"batch"`
	Freshness FreshnessConfig `yaml:"freshness"`
	Database  DatabaseConfig  `yaml:"database"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"text"`
}

// HTTPConfig tunes the shared request engine.
type HTTPConfig struct {
	Timeout        time.Duration `yaml:"timeout"         env:"HTTP_TIMEOUT"         env-default:"10s"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"HTTP_CONNECT_TIMEOUT" env-default:"3s"`
	MaxRetries     int           `yaml:"max_retries"     env:"HTTP_MAX_RETRIES"     env-default:"3"`
	RetryBase      time.Duration `yaml:"retry_base"      env:"HTTP_RETRY_BASE"      env-default:"200ms"`
	RetryMax       time.Duration `yaml:"retry_max"       env:"HTTP_RETRY_MAX"       env-default:"3s"`
	UserAgent      string        `yaml:"user_agent"      env:"HTTP_USER_AGENT"      env-default:"wdfetch/0.1 (https://github.com/heartmarshall/wdfetch)"`
}

// WikibaseConfig holds the wbgetentities endpoints and request shape.
type WikibaseConfig struct {
	WikidataURL string `yaml:"wikidata_url" env:"WIKIBASE_WIKIDATA_URL" env-default:"https://www.wikidata.org/w/api.php"`
	CommonsURL  string `yaml:"commons_url"  env:"WIKIBASE_COMMONS_URL"  env-default:"https://commons.wikimedia.org/w/api.php"`
	Languages   string `yaml:"languages"    env:"WIKIBASE_LANGUAGES"    env-default:"en"`
	PropsRaw    string `yaml:"props"        env:"WIKIBASE_PROPS"        env-default:"aliases,claims,datatype,descriptions,info,labels,sitelinks/urls"`

	// Props is parsed from PropsRaw during validation.
	Props []string `yaml:"-" env:"-"`
}

// SPARQLConfig holds query service settings.
type SPARQLConfig struct {
	URL             string        `yaml:"url"              env:"SPARQL_URL"`
	LengthThreshold int           `yaml:"length_threshold" env:"SPARQL_LENGTH_THRESHOLD" env-default:"1800"`
	Timeout         time.Duration `yaml:"timeout"          env:"SPARQL_TIMEOUT"          env-default:"60s"`
	Accept          string        `yaml:"accept"           env:"SPARQL_ACCEPT"`
}

// BatchConfig holds the batch engine thresholds.
type BatchConfig struct {
	BatchThreshold      int           `yaml:"batch_threshold"      env:"BATCH_THRESHOLD"            env-default:"50"`
	CandidatesThreshold int           `yaml:"candidates_threshold" env:"BATCH_CANDIDATES_THRESHOLD" env-default:"50"`
	StaleAfter          time.Duration `yaml:"stale_after"          env:"BATCH_STALE_AFTER"          env-default:"24h"`
	Interactive         bool          `yaml:"interactive"          env:"BATCH_INTERACTIVE"          env-default:"false"`
	LoaderWait          time.Duration `yaml:"loader_wait"          env:"BATCH_LOADER_WAIT"          env-default:"2ms"`
}

// Freshness drivers.
const (
	DriverNone     = "none"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// FreshnessConfig selects where fetch timestamps are kept.
type FreshnessConfig struct {
	Driver     string `yaml:"driver"      env:"FRESHNESS_DRIVER"      env-default:"none"`
	SQLitePath string `yaml:"sqlite_path" env:"FRESHNESS_SQLITE_PATH" env-default:"./wdfetch.db"`
}

// DatabaseConfig holds PostgreSQL connection settings. Only read when the
// freshness driver is postgres.
type DatabaseConfig struct {
	DSN              string        `yaml:"dsn"                env:"DATABASE_DSN"`
	MaxConns         int32         `yaml:"max_conns"          env:"DATABASE_MAX_CONNS"          env-default:"4"`
	MinConns         int32         `yaml:"min_conns"          env:"DATABASE_MIN_CONNS"          env-default:"0"`
	MaxConnLifetime  time.Duration `yaml:"max_conn_lifetime"  env:"DATABASE_MAX_CONN_LIFETIME"  env-default:"1h"`
	MaxConnIdleTime  time.Duration `yaml:"max_conn_idle_time" env:"DATABASE_MAX_CONN_IDLE_TIME" env-default:"30m"`
	ApplicationName  string        `yaml:"application_name"   env:"DATABASE_APPLICATION_NAME"   env-default:"wdfetch"`
	StatementTimeout time.Duration `yaml:"statement_timeout" env:"DATABASE_STATEMENT_TIMEOUT" env-default:"30s"`
	AutoMigrate      bool          `yaml:"auto_migrate"       env:"DATABASE_AUTO_MIGRATE"       env-default:"true"`
}

// MetricsConfig controls the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr      string `yaml:"addr"      env:"METRICS_ADDR"`
	Namespace string `yaml:"namespace" env:"METRICS_NAMESPACE" env-default:"wdfetch"`
}
