package dlnamodule

import (
	"github.com/castserve/castserve/internal/modules/modulemanager"
)

// Auto-register the module when imported
func init() {
	Register()
}

// Register registers the playto module with the module system
func Register() {
	playtoModule := &Module{}
	modulemanager.Register(playtoModule)
}
