// Package config loads and watches the trendmill configuration file.
//
// Load(path) reads the YAML file, applies defaults (7-day cache TTL, 1s rate
// gate, 3 fetch attempts with 2s/4s/8s backoff, 2AM UTC cron), then validates
// required fields and enums. The webhook URL is resolved from an environment
// variable named by notify.url_env rather than stored in the file.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the newly parsed Config once events settle. It handles the
// rename-then-create pattern used by atomic-save editors by re-adding the
// watch after each reload.
package config
