package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/oshokin/gitrs-bundler/internal/logger"
	"github.com/oshokin/gitrs-bundler/internal/service/tagcheck"
)

var (
	// tag to check, defaults to the tag set by CI.
	tag string
	// manifestPath is the Cargo.toml whose version must match the tag.
	manifestPath string
	// skipManifest only checks the tag format.
	skipManifest bool

	// checkTagCmd fails unless the tag names a release matching the crate version.
	checkTagCmd = &cobra.Command{
		Use:   "check-tag",
		Short: "Check that the CI tag is a release version matching Cargo.toml",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx := logger.WithName(context.Background(), "check-tag")

			if tag == "" {
				tag = tagcheck.TagFromEnv()
			}

			if err := tagcheck.CheckReleaseTag(tag); err != nil {
				return err
			}

			if !skipManifest {
				if err := tagcheck.CheckManifest(manifestPath, tag); err != nil {
					return err
				}
			}

			logger.InfoKV(ctx, "Release tag accepted", "tag", tag)

			return nil
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	checkTagCmd.Flags().StringVar(&tag, "tag", "", "tag to check (defaults to $TRAVIS_TAG or $APPVEYOR_REPO_TAG_NAME)")
	checkTagCmd.Flags().StringVar(&manifestPath, "manifest", tagcheck.DefaultManifestPath, "path to the server Cargo.toml")
	checkTagCmd.Flags().BoolVar(&skipManifest, "skip-manifest", false, "only check the tag format")
}
