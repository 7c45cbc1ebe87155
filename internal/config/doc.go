// Package config handles configuration loading for fanout-gateway.
//
// Configuration is loaded from YAML files with environment variable
// expansion. Duration values use Go's time.ParseDuration syntax.
//
// Example:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  request_timeout: "60s"
//
//	database:
//	  path: "/var/lib/fanout/gateway.db"
//
//	auth:
//	  jwt_secret: "${FANOUT_JWT_SECRET}"
//
//	connector:
//	  max_attempts: 3
//	  retry_delay: "2s"
//
//	masking:
//	  endpoint: "http://localhost:9200/mask"
//	  timeout: "10s"
//
//	telemetry:
//	  endpoint: "http://localhost:9300/events"
//	  compress: true
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
