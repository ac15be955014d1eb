package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Venue.APIKey)
	redact(&out.Venue.APISecret)
	redact(&out.Venue.SecretPassword)

	redact(&out.Redis.Password)

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	redact(&out.Server.APIKey)

	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
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
