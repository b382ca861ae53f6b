// Package config loads ferrysync settings.
//
// Settings come from a TOML file, by default ~/.config/ferrysync/config.toml.
// A missing file is not an error: every field has a default. Environment
// variables override the file:
//
//   - FERRYSYNC_DATA_DIR
//   - FERRYSYNC_API_URL
//   - FERRYSYNC_PUSH_URL
//   - FERRYSYNC_LOG_LEVEL
//
// Durations are written as Go duration strings:
//
//	data_dir = "~/.local/share/ferrysync"
//	api_url = "https://api.example.com/v1"
//	push_url = "wss://push.example.com/availability"
//	health_url = "https://api.example.com/health"
//	log_level = "info"
//
//	[cache]
//	ttl = "24h"
//
//	[queue]
//	max_retry = 3
//	max_size = 0
//
//	[push]
//	heartbeat_interval = "30s"
//	reconnect_delay = "3s"
//	max_reconnect_attempts = 5
//
//	[connectivity]
//	probe_interval = "5s"
//
//	[storage]
//	write_retries = 3
//	retry_base_delay = "20ms"
//	retry_max_delay = "250ms"
//
// Paths starting with ~ are expanded against the home directory.
package config
