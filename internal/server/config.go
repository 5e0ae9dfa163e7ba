package server

// Config carries the one transport-facing knob the server loop needs. The
// rest of the system's configuration lives with system.Config.
type Config struct {
	ListenAddr string
}
