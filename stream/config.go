package stream

// Config describes one streaming response.
type Config struct {
	Format Format
	// ContentType overrides the format's default Content-Type.
	ContentType string
	// RetryTimeoutMS is the SSE retry hint sent to clients, in
	// milliseconds.
	RetryTimeoutMS int
	// KeepAliveSeconds is the SSE keep-alive comment interval.
	KeepAliveSeconds int
}

// DefaultConfig returns a Config for the given format with the standard
// SSE hints.
func DefaultConfig(format Format) Config {
	return Config{
		Format:           format,
		RetryTimeoutMS:   5000,
		KeepAliveSeconds: 15,
	}
}

// contentType resolves the response Content-Type for the config.
func (c Config) contentType() string {
	if c.ContentType != "" {
		return c.ContentType
	}
	switch c.Format {
	case FormatText:
		return "text/plain; charset=utf-8"
	case FormatJSON:
		return "application/json; charset=utf-8"
	case FormatSSE:
		return "text/event-stream"
	case FormatBinary:
		return "application/octet-stream"
	default:
		return "application/octet-stream"
	}
}

// Headers returns the HTTP headers for a streaming response in this
// config.
func (c Config) Headers() map[string]string {
	headers := map[string]string{
		"Content-Type":  c.contentType(),
		"Cache-Control": "no-cache",
	}
	if c.Format == FormatSSE {
		headers["Connection"] = "keep-alive"
		headers["X-Accel-Buffering"] = "no"
	}
	return headers
}
