// Package config loads the server-side configuration from the `server:` section
// of the config file (the `agent:` key is ignored by the server binary).
//
// Config fields:
//   - GRPCPort        port for the gRPC IngestService (default 50051)
//   - HTTPPort        port for POST /ingest, REST API and WebSocket hub (default 8080)
//   - AcceptStatus    HTTP status returned for accepted batches (default 201)
//   - Auth            mode apikey|sas|jwt|none, key_name, key_env, header
//   - Events.TTL      how long an event counter stays live (default 10m)
//   - Storage         optional SQLite batch history path and retention
//   - Agents          agent /metrics endpoints to scrape
//   - Alerts          rules over scraped agent counters and webhook targets
//
// Load(path) applies defaults before unmarshalling, then validates.
package config
