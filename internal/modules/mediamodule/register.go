package mediamodule

import (
	"github.com/castserve/castserve/internal/modules/modulemanager"
)

// Auto-register the module when imported
func init() {
	Register()
}

// Register registers the media library module with the module system
func Register() {
	mediaModule := &Module{}
	modulemanager.Register(mediaModule)
}
