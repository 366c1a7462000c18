// Package autoload registers all built-in channels via side effects.
// Blank-import it from main to make every channel factory available.
package autoload

import (
	_ "parley/pkg/channels/telegram"
	_ "parley/pkg/channels/web"
)
