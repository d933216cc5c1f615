// Package all registers every built-in output sink. Import it for side
// effects from binaries:
//
//	import _ "osmflex/internal/output/all"
package all

import (
	_ "osmflex/internal/output/flexout"
	_ "osmflex/internal/output/nullout"
)
