// Package config loads and watches the agent configuration file (agent.yaml).
//
// Top-level types:
//   - Config{Agent}: full config tree parsed from YAML
//   - AgentConfig: device_name, process_interval, max_retries, delta_backoff,
//     send_timeout, listen_addr, log_level, transport
//   - TransportConfig: type (eventhub|http|grpc|redis|log), endpoint,
//     namespace/hub for Event Hubs, accept_status, compression, redis, auth, tls
//   - AuthConfig: mode (sas|apikey|bearer|jwt|mtls|none); Key() and Token()
//     resolve secrets from environment variables
//
// Load(path) reads the YAML file, applies defaults (5s cycle, 4 retries,
// 1750ms backoff offset, 201 accept status), then validates required fields
// and enums.
//
// Watch(ctx, path, onChange) uses fsnotify on the containing directory so
// that atomic-save editors (write temp file, rename over) are picked up, and
// calls onChange with the newly parsed Config.
package config
