package config

// DiffResult describes what changed between two configs. Only fields that can be
// safely hot-reloaded are tracked; anything else needs a process restart.
type DiffResult struct {
	LogLevelChanged     bool
	NewLogLevel         LogLevel
	InstructionsChanged bool
	NewInstructions     string
	GreetingChanged     bool
	NewGreeting         string
	RestartRequired     bool
}

// Changed reports whether any hot-reloadable field differs.
func (d DiffResult) Changed() bool {
	return d.LogLevelChanged || d.InstructionsChanged || d.GreetingChanged
}

// Diff compares old and new configs and returns what changed. Changes outside
// the hot-reloadable set mark RestartRequired instead.
func Diff(old, new *Config) DiffResult {
	d := DiffResult{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Model.Instructions != new.Model.Instructions {
		d.InstructionsChanged = true
		d.NewInstructions = new.Model.Instructions
	}
	if old.Session.Greeting != new.Session.Greeting {
		d.GreetingChanged = true
		d.NewGreeting = new.Session.Greeting
	}

	// Connection-shaping fields cannot be applied to a live session.
	if old.Model.APIKey != new.Model.APIKey ||
		old.Model.BaseURL != new.Model.BaseURL ||
		old.Model.Name != new.Model.Name ||
		old.Model.Voice != new.Model.Voice ||
		old.Server.MetricsAddr != new.Server.MetricsAddr ||
		len(old.MCP.Servers) != len(new.MCP.Servers) {
		d.RestartRequired = true
	}

	return d
}
