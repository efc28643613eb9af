package core

import "github.com/sirupsen/logrus"

// Log is the package-wide internal diagnostics logger, independent of the
// script-visible console.* surface (which always routes through a host
// console callback instead). Grounded on the pack's
// `var log = logrus.New()` convention.
var Log = logrus.New()
