// Package buildinfo exposes build identity for the health endpoint.
// Version, Commit and BuiltAt are set via -ldflags at release time; when they
// are not, the commit falls back to the VCS stamp Go embeds in the binary.
package buildinfo

import "runtime/debug"

var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

func Info() map[string]string {
	commit, builtAt := Commit, BuiltAt
	if commit == "" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			for _, s := range bi.Settings {
				switch s.Key {
				case "vcs.revision":
					commit = s.Value
				case "vcs.time":
					if builtAt == "" {
						builtAt = s.Value
					}
				}
			}
		}
	}
	return map[string]string{
		"version": Version,
		"commit":  commit,
		"builtAt": builtAt,
	}
}
