package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Wallet
	out.Wallet = cfg.Wallet
	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)

	// Relay
	out.Relay = cfg.Relay
	redact(&out.Relay.SigningKey)

	// Chain: RPC URLs routinely embed API keys.
	out.Chain = cfg.Chain
	redact(&out.Chain.RPCURL)

	// Postgres
	out.Postgres = cfg.Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// Redis
	out.Redis = cfg.Redis
	redact(&out.Redis.Password)

	// S3
	out.S3 = cfg.S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Notify
	out.Notify = cfg.Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices and maps so callers cannot mutate the original through the
	// redacted copy.
	out.Relay.Endpoints = append([]string(nil), cfg.Relay.Endpoints...)
	out.Graph.StartTokens = append([]string(nil), cfg.Graph.StartTokens...)
	out.Feed.Pools = append([]string(nil), cfg.Feed.Pools...)
	if cfg.Notify.Events != nil {
		out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	}
	if cfg.Engine.Capital != nil {
		out.Engine.Capital = make(map[string]float64, len(cfg.Engine.Capital))
		for k, v := range cfg.Engine.Capital {
			out.Engine.Capital[k] = v
		}
	}
	if cfg.Engine.Routers != nil {
		out.Engine.Routers = make(map[string]string, len(cfg.Engine.Routers))
		for k, v := range cfg.Engine.Routers {
			out.Engine.Routers[k] = v
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
