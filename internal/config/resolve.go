package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. LOUNGED_QUEUE_MAX_PENDING.
const EnvPrefix = "LOUNGED"

// flagKeys maps config keys to the CLI flag names bound to them.
var flagKeys = map[string]string{
	"addr":              "addr",
	"data_dir":          "data-dir",
	"registry_path":     "registry",
	"log_level":         "log-level",
	"log_format":        "log-format",
	"provider.token":    "token",
	"max_body_bytes":    "max-body-bytes",
	"queue.max_pending": "max-pending",
	"cors.enabled":      "cors",
	"cors.origins":      "cors-origins",
	"prober.disabled":   "no-prober",
}

// Resolve builds the effective configuration: defaults, then the file at
// path (if any), then LOUNGED_* environment variables, then changed flags.
func Resolve(path string, flags *pflag.FlagSet) (Config, error) {
	cfg := Default()
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			return cfg, fmt.Errorf("load config %s: %w", path, err)
		}
		cfg = loaded
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The site historically exported the token under this name.
	if err := v.BindEnv("provider.token", EnvPrefix+"_PROVIDER_TOKEN", "HUGGINGFACE_TOKEN"); err != nil {
		return cfg, err
	}
	if flags != nil {
		for key, name := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return cfg, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}
	applyOverrides(v, &cfg)
	return cfg, nil
}

func applyOverrides(v *viper.Viper, cfg *Config) {
	strs := map[string]*string{
		"addr":                       &cfg.Addr,
		"data_dir":                   &cfg.DataDir,
		"registry_path":              &cfg.RegistryPath,
		"log_level":                  &cfg.LogLevel,
		"log_format":                 &cfg.LogFormat,
		"provider.status_url":        &cfg.Provider.StatusURL,
		"provider.inference_url":     &cfg.Provider.InferenceURL,
		"provider.token":             &cfg.Provider.Token,
		"cache.backend":              &cfg.Cache.Backend,
		"cache.redis_addr":           &cfg.Cache.RedisAddr,
		"cache.postgres_dsn":         &cfg.Cache.PostgresDSN,
		"store.backend":              &cfg.Store.Backend,
		"store.redis_addr":           &cfg.Store.RedisAddr,
		"blob.backend":               &cfg.Blob.Backend,
		"blob.minio.endpoint":        &cfg.Blob.Minio.Endpoint,
		"blob.minio.access_key":      &cfg.Blob.Minio.AccessKey,
		"blob.minio.secret_key":      &cfg.Blob.Minio.SecretKey,
		"blob.minio.bucket":          &cfg.Blob.Minio.Bucket,
		"blob.minio.public_base_url": &cfg.Blob.Minio.PublicBaseURL,
		"events.kafka_topic":         &cfg.Events.KafkaTopic,
	}
	for key, p := range strs {
		if v.IsSet(key) {
			*p = v.GetString(key)
		}
	}
	if v.IsSet("max_body_bytes") {
		cfg.MaxBodyBytes = v.GetInt64("max_body_bytes")
	}
	ints := map[string]*int{
		"queue.max_pending":  &cfg.Queue.MaxPending,
		"prober.max_retries": &cfg.Prober.MaxRetries,
	}
	for key, p := range ints {
		if v.IsSet(key) {
			*p = v.GetInt(key)
		}
	}
	durs := map[string]*Duration{
		"provider.timeout":            &cfg.Provider.Timeout,
		"queue.tick_interval":         &cfg.Queue.TickInterval,
		"queue.cleanup_interval":      &cfg.Queue.CleanupInterval,
		"queue.evict_after":           &cfg.Queue.EvictAfter,
		"queue.min_dispatch_interval": &cfg.Queue.MinDispatchInterval,
		"prober.recheck_interval":     &cfg.Prober.RecheckInterval,
		"prober.retry_base":           &cfg.Prober.RetryBase,
		"prober.retry_cap":            &cfg.Prober.RetryCap,
		"cache.ttl":                   &cfg.Cache.TTL,
		"cache.cleanup_interval":      &cfg.Cache.CleanupInterval,
	}
	for key, p := range durs {
		if v.IsSet(key) {
			*p = Duration(v.GetDuration(key))
		}
	}
	bools := map[string]*bool{
		"prober.disabled":    &cfg.Prober.Disabled,
		"cors.enabled":       &cfg.CORS.Enabled,
		"blob.minio.use_ssl": &cfg.Blob.Minio.UseSSL,
	}
	for key, p := range bools {
		if v.IsSet(key) {
			*p = v.GetBool(key)
		}
	}
	lists := map[string]*[]string{
		"events.kafka_brokers": &cfg.Events.KafkaBrokers,
		"cors.origins":         &cfg.CORS.Origins,
	}
	for key, p := range lists {
		if v.IsSet(key) {
			*p = splitList(v.Get(key))
		}
	}
}

// splitList accepts either a slice or a comma separated env string.
func splitList(raw any) []string {
	var parts []string
	switch t := raw.(type) {
	case []string:
		parts = t
	case string:
		parts = strings.Split(t, ",")
	default:
		parts = strings.Split(fmt.Sprint(t), ",")
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
