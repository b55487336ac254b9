// Package options holds the per-concern command-line options shared by the
// binaries. Each type binds its own flags and validates itself.
package options

import (
	"github.com/spf13/pflag"
)

// IOptions is implemented by every option group.
type IOptions interface {
	// Validate returns every problem found, or nothing.
	Validate() []error

	// AddFlags binds the fields to flags of fs.
	AddFlags(fs *pflag.FlagSet, prefixes ...string)
}

func prefixed(name string, prefixes []string) string {
	if len(prefixes) > 0 && prefixes[0] != "" {
		return prefixes[0] + "." + name
	}
	return name
}
