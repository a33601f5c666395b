package cli

import (
	"context"
	"fmt"
	"runtime/debug"
)

const (
	developmentVersionConstant     = "dev"
	develBuildVersionConstant      = "(devel)"
	revisionSettingKeyConstant     = "vcs.revision"
	modifiedSettingKeyConstant     = "vcs.modified"
	shortRevisionLengthConstant    = 7
	revisionSuffixTemplateConstant = " (%s)"
	modifiedRevisionTemplate       = " (%s modified)"
	versionOutputTemplateConstant  = "%s version: %s\n"
)

// Version is overridden at build time with -ldflags "-X github.com/temirov/carbon/cmd/cli.Version=v1.2.3".
var Version = developmentVersionConstant

// VersionResolver reports the version printed by --version.
type VersionResolver func(context.Context) string

func resolveBuildVersion(context.Context) string {
	if Version != developmentVersionConstant {
		return Version
	}
	buildInformation, available := debug.ReadBuildInfo()
	if !available {
		return Version
	}

	version := buildInformation.Main.Version
	if len(version) == 0 || version == develBuildVersionConstant {
		version = developmentVersionConstant
	}

	revision := ""
	modified := false
	for _, setting := range buildInformation.Settings {
		switch setting.Key {
		case revisionSettingKeyConstant:
			revision = setting.Value
			if len(revision) > shortRevisionLengthConstant {
				revision = revision[:shortRevisionLengthConstant]
			}
		case modifiedSettingKeyConstant:
			modified = setting.Value == "true"
		}
	}
	switch {
	case len(revision) == 0:
		return version
	case modified:
		return version + fmt.Sprintf(modifiedRevisionTemplate, revision)
	default:
		return version + fmt.Sprintf(revisionSuffixTemplateConstant, revision)
	}
}
