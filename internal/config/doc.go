// Package config handles configuration loading for fanlink.
//
// # Configuration File
//
// The path comes from the FANLINK_CONFIG environment variable, falling back
// to $XDG_CONFIG_HOME/fanlink/fanlink.yaml. Files ending in .toml are decoded
// as TOML; anything else is YAML. A .env file in the working directory is
// loaded first when present.
//
// # Environment Variable Expansion
//
// Values can reference environment variables:
//
//	backend:
//	  base_url: "${FANLINK_BACKEND_URL}"
//
// Unset variables expand to the empty string, which then takes the default.
//
// # Sections
//
//	server:
//	  http_addr: "127.0.0.1:8080"
//	  shutdown_timeout: "10s"
//	backend:
//	  base_url: "http://127.0.0.1:8000"
//	  timeout: "60s"
//	conversation:
//	  max_in_flight: 1
//	  turn_timeout: "45s"
//	  greeting: "Hi! I'm {subject}. Ask me anything."
//	  suggestions: ["How do you start a new book?"]
//	live:
//	  title: "Live Q&A"
//	  host: "Elena Rodriguez"
//	  history_limit: 500
//	  dedupe_window: 10000
//	  topic_window: 50
//	  max_topics: 4
//	  summary_schedule: "@every 30s"   # cron expression, or "off"
//	  quick_tips: [2, 5, 10, 20]
//	archive:
//	  path: "/var/lib/fanlink/transcripts.db"   # empty disables the archive
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Durations use time.ParseDuration syntax.
package config
