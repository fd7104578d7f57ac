package runner

import (
	"path/filepath"
	"strings"

	"github.com/tigerroll/apiary/pkg/hive/core/application/port"
	"github.com/tigerroll/apiary/pkg/hive/core/config"
	"github.com/tigerroll/apiary/pkg/hive/core/domain/model"
	"github.com/tigerroll/apiary/pkg/hive/support/util/exception"
)

// Paths are the locations one run reads and writes.
type Paths struct {
	// Cluster is true when the script runs on a remote engine.
	Cluster bool
	// Input is the source data given on the command line.
	Input string
	// Data receives the copy of Input that Hive loads.
	Data string
	// Tables backs the staging table.
	Tables string
	// Output backs the results table.
	Output string
	// OwnsOutput is true when Output was derived from the scratch location.
	OwnsOutput bool
	// LocalScript is where the script is written on this machine.
	LocalScript string
	// Script is where the engine reads the script from.
	Script string
	// Log is the engine log location, if any.
	Log string
	// Scratch is the object store root of cluster runs.
	Scratch string
	// JarURIs are the jars handed to the engine.
	JarURIs []string
}

// NewLocalRunner creates a runner for a local hive installation. Every file lives
// under the local scratch dir, named after the job ID.
func NewLocalRunner(job model.Job, input string, opts config.RunnerOptions, engine port.Engine, store Store, options ...Option) (*Runner, error) {
	if input == "" {
		return nil, exception.NewConfigurationErrorf(moduleName, "must provide path to source data")
	}
	if opts.ConcatenateOutput != "" {
		return nil, exception.NewConfigurationErrorf(moduleName, "concatenating the output needs a cluster runner")
	}
	options = append([]Option{WithPollInterval(LocalPollInterval)}, options...)
	r, err := newRunner(job, model.RunnerLocal, opts, engine, store, options)
	if err != nil {
		return nil, err
	}

	tmpDir, err := config.ResolveLocalScratchDir(opts)
	if err != nil {
		return nil, err
	}
	absInput, err := filepath.Abs(input)
	if err != nil {
		return nil, exception.NewConfigurationError(moduleName, "invalid input path "+input, err)
	}
	if store.IsDirectory(input) {
		absInput += "/"
	}

	tmp := tmpDir + r.identity.ID
	p := Paths{
		Input:       absInput,
		Data:        tmp + ".data",
		Tables:      tmp + "-table",
		LocalScript: tmp + ".hql",
		Output:      tmp + "-output",
		OwnsOutput:  true,
	}
	if store.IsDirectory(input) {
		p.Data += "/"
	}
	p.Script = p.LocalScript
	if opts.OutputDir != "" {
		out, err := filepath.Abs(opts.OutputDir)
		if err != nil {
			return nil, exception.NewConfigurationError(moduleName, "invalid output dir "+opts.OutputDir, err)
		}
		p.Output = filepath.Join(out, r.identity.ID)
		p.OwnsOutput = false
	}
	r.paths = p
	return r, nil
}

// NewClusterRunner creates a runner for a remote engine. Job files live under
// <scratch><jobID>/ in the object store; the script is also written locally first.
func NewClusterRunner(job model.Job, input string, runnerType model.RunnerType, opts config.RunnerOptions, engine port.Engine, store Store, options ...Option) (*Runner, error) {
	if input == "" {
		return nil, exception.NewConfigurationErrorf(moduleName, "must provide path to source data")
	}
	if opts.ConcatenateOutput != "" {
		if _, ok := store.(port.Concatenator); !ok {
			return nil, exception.NewConfigurationErrorf(moduleName, "object store of runner %s cannot concatenate output", runnerType)
		}
	}
	r, err := newRunner(job, runnerType, opts, engine, store, options)
	if err != nil {
		return nil, err
	}

	scratch, err := config.ResolveScratchURI(opts)
	if err != nil {
		return nil, err
	}
	tmpDir, err := config.ResolveLocalScratchDir(opts)
	if err != nil {
		return nil, err
	}

	jobFiles := scratch + r.identity.ID + "/"
	p := Paths{
		Cluster:     true,
		Input:       input,
		Scratch:     scratch,
		Log:         opts.LogURI,
		Data:        jobFiles + "data",
		Tables:      jobFiles + "tables/",
		Script:      jobFiles + "script.hql",
		LocalScript: tmpDir + r.identity.ID + ".hql",
		Output:      opts.OutputDir,
	}
	if p.Log == "" {
		p.Log = scratch + "logs/"
	}
	if store.IsDirectory(input) {
		p.Data += "/"
	}
	if p.Output == "" {
		p.Output = jobFiles + "output/"
		p.OwnsOutput = true
	} else if !strings.HasSuffix(p.Output, "/") {
		p.Output += "/"
	}
	r.paths = p
	return r, nil
}
