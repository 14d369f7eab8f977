// # Go Client Package for Gemini Live Voice Sessions
//
// This repository provides a Go package for real-time, two-way voice conversations with a Gemini Live model. Microphone audio is framed, encoded as 16 kHz PCM and streamed over a WebSocket; the model's 24 kHz PCM replies are decoded and scheduled back to back on the speaker. A Controller supervises the whole call: it acquires the microphone and the session concurrently, gates sending on mute, and tears everything down exactly once on hangup or failure.
package livevoice
