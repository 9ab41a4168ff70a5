package capability

import (
	"context"
	"log/slog"

	"github.com/als-computing/otter/llm"
)

// DataSource is an external system capabilities read from, such as the
// Badger run archive. Sources flagged as health-check-required gate
// session startup.
type DataSource interface {
	// Name is the unique data source identifier.
	Name() string

	// Description is a one-line summary for the status listing.
	Description() string

	// HealthCheck verifies the source is reachable and usable.
	HealthCheck(ctx context.Context) error
}

// Dependencies carries the shared services a capability factory may need.
type Dependencies struct {
	// LLM is the completion client.
	LLM llm.Completer

	// DataSources holds the registry's constructed data sources by name.
	DataSources map[string]DataSource

	// Logger is the application logger. Never nil once the registry is
	// built.
	Logger *slog.Logger
}

// Source returns a named data source or an error naming what is missing.
func (d Dependencies) Source(name string) (DataSource, error) {
	if ds, ok := d.DataSources[name]; ok {
		return ds, nil
	}
	return nil, &MissingDataSourceError{Name: name}
}

// MissingDataSourceError reports a capability built without a data source
// it depends on.
type MissingDataSourceError struct {
	Name string
}

func (e *MissingDataSourceError) Error() string {
	return "data source not registered: " + e.Name
}

// Factory constructs a capability from its dependencies.
type Factory func(deps Dependencies) (Capability, error)
