// Package buildinfo carries values stamped at link time:
//
//	go build -ldflags "-X errandplan/internal/buildinfo.Version=1.2.0 -X errandplan/internal/buildinfo.Commit=$(git rev-parse --short HEAD)"
package buildinfo

import "runtime"

var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

func Info() map[string]string {
	return map[string]string{
		"version":   Version,
		"commit":    Commit,
		"builtAt":   BuiltAt,
		"goVersion": runtime.Version(),
	}
}

// String is the one-line form printed by the CLIs.
func String() string {
	s := "errandplan " + Version
	if Commit != "" {
		s += " (" + Commit + ")"
	}
	return s
}
