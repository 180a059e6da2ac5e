// Package chatclient provides a reusable chatkit websocket client.
//
// It connects to the /ws endpoint for one user and channel, reconnects with
// backoff, sends chat and recording commands, streams recorder audio as
// framed PCM16 or Opus, and delivers server events through callbacks.
package chatclient
