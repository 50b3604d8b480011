package bundler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/google/uuid"

	"github.com/oshokin/gitrs-bundler/internal/archive"
	"github.com/oshokin/gitrs-bundler/internal/config"
	"github.com/oshokin/gitrs-bundler/internal/logger"
	"github.com/oshokin/gitrs-bundler/internal/service/assembler"
	"github.com/oshokin/gitrs-bundler/internal/service/fetcher"
	"github.com/oshokin/gitrs-bundler/internal/service/packager"
	"github.com/oshokin/gitrs-bundler/internal/service/verifier"
)

// Options contains inputs for a single bundler run.
type Options struct {
	// ConfigPath is an optional settings file; empty looks for gitrs-bundler.yaml in the current directory.
	ConfigPath string
	// Target selects the platform to package for.
	Target config.Target
	// WorkDir is the directory holding gitrs_server and receiving build/ and the artifact.
	// Empty means the current directory.
	WorkDir string
	// Format replaces the packaging format of the target when set.
	Format archive.Format
	// Progress receives the download progress bar; nil disables it.
	Progress io.Writer
	// HTTPClient replaces the default client, mostly for tests.
	HTTPClient *http.Client
}

// run tracks the state of one pipeline execution.
type run struct {
	// opts are the caller inputs.
	opts *Options
	// state is the last state reached.
	state State
	// settings are the loaded settings file.
	settings *config.Settings
	// cfg is set once the target is resolved.
	cfg *config.ReleaseConfig
}

// Run executes Resolve, EnsureDirs, Fetch, Verify, Assemble and Package in
// order and returns the artifact path. Each stage starts only after the
// previous one succeeded. Downloaded files are removed on every exit path;
// a partly assembled build directory is left for inspection.
func Run(ctx context.Context, opts *Options) (string, error) {
	if opts == nil {
		opts = &Options{}
	}

	ctx = logger.WithName(ctx, "gitrs-bundler")
	ctx = logger.WithKV(ctx, "run_id", uuid.NewString(), "target", opts.Target)

	r := &run{
		opts:  opts,
		state: StateIdle,
	}

	path, err := r.execute(ctx)
	if err != nil {
		return "", err
	}

	logger.InfoKV(ctx, "Bundling completed", "artifact", path)

	return path, nil
}

func (r *run) execute(ctx context.Context) (string, error) {
	if err := r.resolve(); err != nil {
		return "", r.fail(ctx, KindConfiguration, err)
	}

	r.advance(ctx, StateResolved)

	cfg := r.cfg

	if err := assembler.EnsureBuildDirectory(cfg); err != nil {
		return "", r.fail(ctx, KindDirectory, err)
	}

	defer r.cleanup(ctx)

	if err := r.fetch(ctx); err != nil {
		return "", err
	}

	r.advance(ctx, StateDownloaded)

	if err := r.verify(ctx); err != nil {
		return "", err
	}

	r.advance(ctx, StateVerified)

	if err := assembler.Assemble(ctx, cfg); err != nil {
		kind := KindFilesystem
		if errors.Is(err, assembler.ErrDirectory) {
			kind = KindDirectory
		}

		return "", r.fail(ctx, kind, err)
	}

	r.advance(ctx, StateAssembled)

	path, err := packager.Package(ctx, cfg)
	if err != nil {
		return "", r.fail(ctx, KindPackaging, err)
	}

	r.advance(ctx, StatePackaged)

	return path, nil
}

// resolve loads settings and maps the target onto a release configuration.
func (r *run) resolve() error {
	settings, err := config.LoadSettings(r.opts.ConfigPath)
	if err != nil {
		return err
	}

	workDir := r.opts.WorkDir
	if workDir == "" {
		if workDir, err = os.Getwd(); err != nil {
			return fmt.Errorf("get working directory: %w", err)
		}
	}

	cfg, err := config.Resolve(r.opts.Target, workDir,
		config.WithOverride(settings.Override(r.opts.Target)),
		config.WithPackageFormat(r.opts.Format))
	if err != nil {
		return err
	}

	r.settings = settings
	r.cfg = cfg

	return nil
}

// fetch downloads the vendor bundle and its signature when one is configured.
func (r *run) fetch(ctx context.Context) error {
	cfg := r.cfg

	f := fetcher.New(
		fetcher.WithHTTPClient(r.opts.HTTPClient),
		fetcher.WithTimeout(r.settings.Timeout),
		fetcher.WithProgress(r.opts.Progress),
	)

	logger.InfoKV(ctx, "Downloading vendor bundle", "url", cfg.Source(), "to", cfg.TempFile())

	written, err := f.Fetch(ctx, cfg.Source(), cfg.TempFile())
	if err != nil {
		return r.fail(ctx, fetchKind(err), err)
	}

	logger.InfoKV(ctx, "Downloaded vendor bundle", "bytes", written)

	if cfg.SignatureURL() == "" {
		return nil
	}

	logger.InfoKV(ctx, "Downloading bundle signature", "url", cfg.SignatureURL())

	sigFetcher := fetcher.New(
		fetcher.WithHTTPClient(r.opts.HTTPClient),
		fetcher.WithTimeout(r.settings.Timeout),
	)

	if _, err = sigFetcher.Fetch(ctx, cfg.SignatureURL(), cfg.SignatureFile()); err != nil {
		return r.fail(ctx, fetchKind(err), err)
	}

	return nil
}

// verify checks the signature, when present, and then the pinned digest.
func (r *run) verify(ctx context.Context) error {
	cfg := r.cfg

	if cfg.SignatureURL() != "" {
		if err := verifier.VerifySignature(cfg.TempFile(), cfg.SignatureFile(), cfg.Keyring()); err != nil {
			return r.fail(ctx, KindIntegrity, err)
		}

		logger.InfoKV(ctx, "Bundle signature verified", "keyring", cfg.Keyring())
	}

	if err := verifier.Verify(cfg.TempFile(), cfg.ExpectedDigest()); err != nil {
		kind := KindFilesystem
		if errors.Is(err, verifier.ErrChecksumMismatch) {
			kind = KindIntegrity
		}

		return r.fail(ctx, kind, err)
	}

	logger.InfoKV(ctx, "Bundle digest verified", "sha256", cfg.ExpectedDigest())

	return nil
}

// cleanup removes downloaded files that the run did not consume.
func (r *run) cleanup(ctx context.Context) {
	for _, path := range []string{r.cfg.TempFile(), r.cfg.SignatureFile()} {
		err := os.Remove(path)

		switch {
		case err == nil:
			logger.DebugKV(ctx, "Removed temporary file", "path", path)
		case !errors.Is(err, os.ErrNotExist):
			logger.WarnKV(ctx, "Failed to remove temporary file", "path", path, "error", err)
		}
	}
}

func (r *run) advance(ctx context.Context, next State) {
	logger.InfoKV(ctx, "State changed", "from", r.state, "to", next)

	r.state = next
}

// fail wraps err with the state reached so far and moves the run to StateFailed.
func (r *run) fail(ctx context.Context, kind Kind, err error) error {
	stageErr := &StageError{
		State: r.state,
		Kind:  kind,
		Err:   err,
	}

	logger.InfoKV(ctx, "State changed", "from", r.state, "to", StateFailed, "kind", kind)

	r.state = StateFailed

	return stageErr
}

func fetchKind(err error) Kind {
	if errors.Is(err, fetcher.ErrWriteFile) {
		return KindFilesystem
	}

	return KindNetwork
}
