package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/gophertribe/devtool/build"
)

const (
	binary    = "dist/twictl"
	mainPkg   = "./cmd/twictl"
	toolchain = "gophertribe/gobuild:1.25-bookworm"
)

type target struct {
	os, arch           string
	crossOS, crossArch string
	version            string
}

func targetFrom(cmd *cobra.Command) target {
	return target{
		os:        cmd.Flag("os").Value.String(),
		arch:      cmd.Flag("arch").Value.String(),
		crossOS:   cmd.Flag("cross-os").Value.String(),
		crossArch: cmd.Flag("cross-arch").Value.String(),
		version:   cmd.Flag("version").Value.String(),
	}
}

// native reports whether the target can be built by the local toolchain.
func (t target) native() bool {
	return t.os == runtime.GOOS && t.arch == runtime.GOARCH
}

func BuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build twictl into " + binary,
		Long: "Builds twictl with the local toolchain when the target matches the host, " +
			"otherwise inside the " + toolchain + " container.",
		RunE: func(cmd *cobra.Command, args []string) error {
			t := targetFrom(cmd)
			if t.native() {
				osName, arch := t.os, t.arch
				if t.crossOS != "" && t.crossArch != "" {
					osName, arch = t.crossOS, t.crossArch
				}
				return build.GoBuild(binary, mainPkg, build.GoBuildOpts{
					Version:       t.version,
					InjectVersion: true,
					ConfigPackage: "main",
					// the MCP2221 backend links hidapi
					EnableCgo: true,
					Arch:      arch,
					OS:        osName,
				})
			}

			noCache, err := cmd.Flags().GetBool("no-cache")
			if err != nil {
				return fmt.Errorf("could not get no-cache flag: %w", err)
			}
			inner := []string{"build", "--version", t.version, "--cross-os", t.crossOS, "--cross-arch", t.crossArch}
			return build.Docker(cmd.Context(), fmt.Sprintf("./dev-%s-%s", t.os, t.arch), inner, build.DockerBuildOpts{
				NoCache: noCache,
				Image:   toolchain,
			})
		},
	}
	cmd.Flags().Bool("no-cache", false, "build the container image from scratch")
	cmd.Flags().String("os", runtime.GOOS, "GOOS of the build host")
	cmd.Flags().String("arch", runtime.GOARCH, "GOARCH of the build host")
	cmd.Flags().String("cross-os", "", "GOOS of the twictl binary, e.g. linux")
	cmd.Flags().String("cross-arch", "", "GOARCH of the twictl binary, e.g. arm for a NanoPi")

	return cmd
}
