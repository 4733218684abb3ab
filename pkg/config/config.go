// Package config holds the settings shared by the hostops commands.
//
// Values are read, in increasing precedence, from hostops.yaml, HOSTOPS_* environment
// variables and command-line flags.
package config

import (
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/nais/hostops/pkg/conftools"
	"github.com/nais/hostops/pkg/deployer"
	"github.com/nais/hostops/pkg/restore"
)

const Name = "hostops"

type Deploy struct {
	HealthTimeout   time.Duration `json:"health-timeout"`
	HealthInterval  time.Duration `json:"health-interval"`
	RollbackTimeout time.Duration `json:"rollback-timeout"`
	LogLines        int           `json:"log-lines"`
	StepSummary     string        `json:"step-summary"`
}

type Docker struct {
	HelperImage string `json:"helper-image"`
	Project     string `json:"project"`
}

type Restic struct {
	Binary       string `json:"binary"`
	Repository   string `json:"repository"`
	Password     string `json:"password"`
	PasswordFile string `json:"password-file"`
	Host         string `json:"host"`
	Init         bool   `json:"init"`
}

type Postgres struct {
	URL     string `json:"url"`
	Service string `json:"service"`
	User    string `json:"user"`
}

type Redis struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	Service  string `json:"service"`
	Volume   string `json:"volume"`
	DataDir  string `json:"data-dir"`
	UID      int    `json:"uid"`
	GID      int    `json:"gid"`
}

type Retention struct {
	KeepDaily   int `json:"keep-daily"`
	KeepWeekly  int `json:"keep-weekly"`
	KeepMonthly int `json:"keep-monthly"`
}

type Backup struct {
	CertificateStore string        `json:"certificate-store"`
	SaveInterval     time.Duration `json:"save-interval"`
	SaveAttempts     int           `json:"save-attempts"`
	SpecExcludes     []string      `json:"spec-excludes"`
	VolumePrefixes   []string      `json:"volume-prefixes"`
}

type Restore struct {
	ReadinessInterval time.Duration `json:"readiness-interval"`
	ReadinessAttempts int           `json:"readiness-attempts"`
}

type Config struct {
	Backup                Backup    `json:"backup"`
	Database              string    `json:"database"`
	Deploy                Deploy    `json:"deploy"`
	Docker                Docker    `json:"docker"`
	DryRun                bool      `json:"dry-run"`
	ImageTemplate         string    `json:"image-template"`
	List                  bool      `json:"list"`
	LockDir               string    `json:"lock-dir"`
	LogFormat             string    `json:"log-format"`
	LogLevel              string    `json:"log-level"`
	OtelCollectorEndpoint string    `json:"otel-collector-endpoint"`
	Postgres              Postgres  `json:"postgres"`
	PushgatewayURL        string    `json:"pushgateway-url"`
	Redis                 Redis     `json:"redis"`
	Restic                Restic    `json:"restic"`
	Restore               Restore   `json:"restore"`
	Retention             Retention `json:"retention"`
	StacksRoot            string    `json:"stacks-root"`
	StagingRoot           string    `json:"staging-root"`
}

const (
	BackupCertificateStore   = "backup.certificate-store"
	BackupSaveAttempts       = "backup.save-attempts"
	BackupSaveInterval       = "backup.save-interval"
	BackupSpecExcludes       = "backup.spec-excludes"
	BackupVolumePrefixes     = "backup.volume-prefixes"
	Database                 = "database"
	DeployHealthInterval     = "deploy.health-interval"
	DeployHealthTimeout      = "deploy.health-timeout"
	DeployLogLines           = "deploy.log-lines"
	DeployRollbackTimeout    = "deploy.rollback-timeout"
	DeployStepSummary        = "deploy.step-summary"
	DockerHelperImage        = "docker.helper-image"
	DockerProject            = "docker.project"
	DryRun                   = "dry-run"
	ImageTemplate            = "image-template"
	List                     = "list"
	LockDir                  = "lock-dir"
	LogFormat                = "log-format"
	LogLevel                 = "log-level"
	OtelCollectorEndpoint    = "otel-collector-endpoint"
	PostgresService          = "postgres.service"
	PostgresURL              = "postgres.url"
	PostgresUser             = "postgres.user"
	PushgatewayURL           = "pushgateway-url"
	RedisAddress             = "redis.address"
	RedisDataDir             = "redis.data-dir"
	RedisGID                 = "redis.gid"
	RedisPassword            = "redis.password"
	RedisService             = "redis.service"
	RedisUID                 = "redis.uid"
	RedisVolume              = "redis.volume"
	ResticBinary             = "restic.binary"
	ResticHost               = "restic.host"
	ResticInit               = "restic.init"
	ResticPassword           = "restic.password"
	ResticPasswordFile       = "restic.password-file"
	ResticRepository         = "restic.repository"
	RestoreReadinessAttempts = "restore.readiness-attempts"
	RestoreReadinessInterval = "restore.readiness-interval"
	RetentionKeepDaily       = "retention.keep-daily"
	RetentionKeepMonthly     = "retention.keep-monthly"
	RetentionKeepWeekly      = "retention.keep-weekly"
	StacksRoot               = "stacks-root"
	StagingRoot              = "staging-root"
)

// Secrets are redacted when the configuration is printed.
var Secrets = []string{PostgresURL, RedisPassword, ResticPassword}

// Bind the variables restic and CI runners already provide.
func bindStandardEnvironment() {
	viper.BindEnv(ResticRepository, "RESTIC_REPOSITORY")
	viper.BindEnv(ResticPassword, "RESTIC_PASSWORD")
	viper.BindEnv(ResticPasswordFile, "RESTIC_PASSWORD_FILE")
	viper.BindEnv(DeployStepSummary, "GITHUB_STEP_SUMMARY")
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return ""
	}
	return name
}

// Initialize registers every option as a command-line flag and prepares viper
// to read the environment and configuration file.
func Initialize() *Config {
	conftools.Initialize(Name)
	bindStandardEnvironment()

	flag.String(LogFormat, "text", "Log format, one of 'text', 'json' or 'actions'.")
	flag.String(LogLevel, "info", "Logging verbosity level.")
	flag.String(LockDir, "/run/lock/hostops", "Directory holding advisory lock files.")
	flag.Bool(DryRun, false, "Resolve and log every step, but make no changes.")
	flag.String(StagingRoot, "", "Parent directory of per-run staging directories. Defaults to the system temporary directory.")
	flag.String(PushgatewayURL, "", "Prometheus Pushgateway receiving run metrics. Disabled when empty.")
	flag.String(OtelCollectorEndpoint, "", "OpenTelemetry collector endpoint. Tracing is disabled when empty.")

	flag.String(StacksRoot, "/srv/stacks", "Directory holding one service specification directory per application.")
	flag.String(ImageTemplate, "", "Handlebars template for image references, with the variables app, image and tag.")

	flag.Duration(DeployHealthTimeout, deployer.DefaultHealthTimeout, "How long a new instance may take to become healthy.")
	flag.Duration(DeployHealthInterval, 2*time.Second, "How often the health status is polled.")
	flag.Duration(DeployRollbackTimeout, deployer.DefaultRollbackTimeout, "How long the rollback may take.")
	flag.Int(DeployLogLines, deployer.DefaultLogLines, "Number of log lines printed after a promotion.")
	flag.String(DeployStepSummary, "", "Markdown file the deployment summary is appended to.")

	flag.String(DockerHelperImage, "alpine:3", "Image of the throwaway container archiving volumes.")
	flag.String(DockerProject, "", "Compose project of the stateful services. Any project matches when empty.")

	flag.String(ResticBinary, "restic", "Path to the restic binary.")
	flag.String(ResticRepository, "", "Snapshot repository location.")
	flag.String(ResticPassword, "", "Snapshot repository password.")
	flag.String(ResticPasswordFile, "", "File containing the snapshot repository password.")
	flag.String(ResticHost, hostname(), "Host name recorded in snapshots.")
	flag.Bool(ResticInit, false, "Initialize the snapshot repository if it does not exist.")

	flag.String(PostgresURL, "postgresql://postgres@127.0.0.1:5432/postgres?sslmode=disable", "PostgreSQL connection information.")
	flag.String(PostgresService, "postgres", "Compose service running PostgreSQL.")
	flag.String(PostgresUser, "postgres", "Superuser the dump and replay run as.")

	flag.String(RedisAddress, "127.0.0.1:6379", "Redis address.")
	flag.String(RedisPassword, "", "Redis password.")
	flag.String(RedisService, "redis", "Compose service running Redis.")
	flag.String(RedisVolume, "redis-data", "Volume holding the Redis data directory.")
	flag.String(RedisDataDir, "/data", "Redis data directory inside its container.")
	flag.Int(RedisUID, 999, "Owner of the restored Redis persistence file.")
	flag.Int(RedisGID, 999, "Group of the restored Redis persistence file.")

	flag.Int(RetentionKeepDaily, 7, "Daily snapshots kept per tag.")
	flag.Int(RetentionKeepWeekly, 4, "Weekly snapshots kept per tag.")
	flag.Int(RetentionKeepMonthly, 6, "Monthly snapshots kept per tag.")

	flag.String(BackupCertificateStore, "/srv/proxy/acme.json", "Certificate store of the reverse proxy. Skipped when absent.")
	flag.Duration(BackupSaveInterval, time.Second, "How often Redis is asked whether its background save finished.")
	flag.Int(BackupSaveAttempts, 30, "How many times Redis is asked whether its background save finished.")
	flag.StringSlice(BackupSpecExcludes, []string{"secrets", "*.secret", ".env", "*.env", "logs", "*.log"}, "Patterns kept out of the service specification archive.")
	flag.StringSlice(BackupVolumePrefixes, []string{"app-", "data-", "uploads-"}, "Prefixes of the volumes archived by volume backups.")

	flag.String(Database, "", "Restore a single database instead of the full cluster.")
	flag.Bool(List, false, "List database snapshots and exit.")
	flag.Duration(RestoreReadinessInterval, restore.DefaultReadinessInterval, "How often database readiness is polled.")
	flag.Int(RestoreReadinessAttempts, restore.DefaultReadinessAttempts, "How many times database readiness is polled.")

	return &Config{}
}

// Load parses flags and reads the configuration into cfg.
func Load(cfg *Config) error {
	err := conftools.Load(cfg)
	if err != nil {
		return err
	}
	return cfg.Validate()
}

func (cfg *Config) Validate() error {
	if cfg.Deploy.HealthTimeout <= 0 {
		return fmt.Errorf("%s must be positive", DeployHealthTimeout)
	}
	if cfg.Deploy.HealthInterval <= 0 {
		return fmt.Errorf("%s must be positive", DeployHealthInterval)
	}
	if cfg.Retention.KeepDaily < 0 || cfg.Retention.KeepWeekly < 0 || cfg.Retention.KeepMonthly < 0 {
		return fmt.Errorf("retention counts must not be negative")
	}
	return nil
}

// Print logs the effective configuration with secrets redacted.
func Print(logf func(format string, args ...interface{})) {
	logf("Configuration:")
	for _, line := range conftools.Format(Secrets) {
		logf("  %s", line)
	}
}
