package tandem

import _ "embed"

// Version exposes the library version, sourced from the VERSION file at the
// repository root so release tooling and the CLI read the same value.
//
//go:embed VERSION
var Version string
