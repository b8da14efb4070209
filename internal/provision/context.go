package provision

import (
	"github.com/google/uuid"

	"github.com/azaanpi/azaanctl/internal/config"
	"github.com/azaanpi/azaanctl/internal/identity"
)

// Context carries the immutable facts of one provisioning run: who we
// install for and where everything goes. It is populated once up front so
// every step works from the same picture of the system.
type Context struct {
	// RunID tags every log line of this run, mainly so interleaved
	// journal output from repeated installs can be told apart.
	RunID string

	ID  identity.Identity
	Cfg *config.Config

	// Derived paths, precomputed from Cfg.
	WorkDir        string
	VenvDir        string
	ConfigTemplate string
	SystemConfig   string
	UnitPath       string
}

// NewContext derives a run context from the loaded configuration and the
// resolved target identity.
func NewContext(cfg *config.Config, id identity.Identity) *Context {
	return &Context{
		RunID:          uuid.NewString(),
		ID:             id,
		Cfg:            cfg,
		WorkDir:        cfg.WorkDir(),
		VenvDir:        cfg.VenvDir(),
		ConfigTemplate: cfg.ConfigTemplatePath(),
		SystemConfig:   cfg.SystemConfigPath(),
		UnitPath:       cfg.UnitPath(),
	}
}
