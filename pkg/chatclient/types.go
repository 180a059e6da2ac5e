package chatclient

import "net/http"

// Config describes which server, user and channel a Client attaches to.
type Config struct {
	// BaseURL is the server root, e.g. "ws://127.0.0.1:8101". http and
	// https schemes are rewritten to ws and wss.
	BaseURL string
	UserID  string
	Channel string
	// Lang is sent as the initial view language.
	Lang   string
	Header http.Header

	// SampleRate and FrameDurationMs size the Opus encoder used by
	// SendPCMAsOpus. Defaults are 16000 Hz and 20 ms.
	SampleRate      int
	FrameDurationMs int
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.FrameDurationMs <= 0 {
		c.FrameDurationMs = 20
	}
	return c
}
