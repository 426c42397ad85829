package agent

import "context"

// ToolScope narrows what a provider exposes to one run.
type ToolScope struct {
	// ServerName, when set, restricts the run to a single server's tools.
	ServerName string
}

// Release ends a provider's part in a run. aborted is true when the run was
// cancelled; providers then close whatever the run itself opened.
type Release func(aborted bool)

// ToolProvider contributes tools to a run. Attach registers tools into the
// run's registry and may keep mutating it while the run is in progress.
// Attach errors abort the run before any model call.
type ToolProvider interface {
	Attach(ctx context.Context, reg *ToolRegistry, scope ToolScope) (Release, error)
	Close() error
}
