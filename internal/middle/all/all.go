// Package all registers every middle cache backend. Import it for side
// effects from the main package.
package all

import (
	_ "osmflex/internal/middle/ram"
	_ "osmflex/internal/middle/sqlite"
)
