package launch

import (
	"context"

	"github.com/tigerroll/apiary/pkg/hive/adapter/engine/dataproc"
	"github.com/tigerroll/apiary/pkg/hive/adapter/engine/emr"
	"github.com/tigerroll/apiary/pkg/hive/adapter/engine/process"
	storageAdapter "github.com/tigerroll/apiary/pkg/hive/adapter/storage"
	"github.com/tigerroll/apiary/pkg/hive/adapter/storage/gcs"
	"github.com/tigerroll/apiary/pkg/hive/adapter/storage/local"
	"github.com/tigerroll/apiary/pkg/hive/adapter/storage/router"
	"github.com/tigerroll/apiary/pkg/hive/adapter/storage/s3"
	"github.com/tigerroll/apiary/pkg/hive/core/application/port"
	"github.com/tigerroll/apiary/pkg/hive/core/config"
	"github.com/tigerroll/apiary/pkg/hive/core/domain/model"
	"github.com/tigerroll/apiary/pkg/hive/core/runner"
	"github.com/tigerroll/apiary/pkg/hive/support/util/exception"
)

const moduleName = "launch"

// EngineFactory builds the execution engine of a runner type.
type EngineFactory func(ctx context.Context, runnerType model.RunnerType, opts config.RunnerOptions) (port.Engine, error)

// StoreFactory builds the object store of a runner type.
type StoreFactory func(ctx context.Context, runnerType model.RunnerType, opts config.RunnerOptions) (*router.Router, error)

// Factory builds runners. The zero value uses the real engines and stores.
type Factory struct {
	Engines EngineFactory
	Stores  StoreFactory
}

// ParseRunnerType validates a --runner value.
func ParseRunnerType(name string) (model.RunnerType, error) {
	switch t := model.RunnerType(name); t {
	case model.RunnerLocal, model.RunnerEMR, model.RunnerDataproc:
		return t, nil
	default:
		return "", exception.NewConfigurationErrorf(moduleName, "unknown runner %q; expected local, emr or dataproc", name)
	}
}

// NewRunner builds the runner for opts.Runner. The returned store must be closed by the caller.
func (f Factory) NewRunner(ctx context.Context, job model.Job, input string, opts config.RunnerOptions, options ...runner.Option) (*runner.Runner, *router.Router, error) {
	runnerType, err := ParseRunnerType(opts.Runner)
	if err != nil {
		return nil, nil, err
	}
	engines, stores := f.Engines, f.Stores
	if engines == nil {
		engines = NewEngine
	}
	if stores == nil {
		stores = NewStore
	}

	store, err := stores(ctx, runnerType, opts)
	if err != nil {
		return nil, nil, err
	}
	engine, err := engines(ctx, runnerType, opts)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	var r *runner.Runner
	if runnerType == model.RunnerLocal {
		r, err = runner.NewLocalRunner(job, input, opts, engine, store, options...)
	} else {
		r, err = runner.NewClusterRunner(job, input, runnerType, opts, engine, store, options...)
	}
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return r, store, nil
}

// NewEngine builds the engine for runnerType from opts.
func NewEngine(ctx context.Context, runnerType model.RunnerType, opts config.RunnerOptions) (port.Engine, error) {
	switch runnerType {
	case model.RunnerLocal:
		return process.NewEngine(opts.HiveBinary), nil
	case model.RunnerEMR:
		id, secret, err := config.ResolveAWSCredentials(opts)
		if err != nil {
			return nil, err
		}
		return emr.NewEngine(ctx, emr.Config{
			Region:             opts.AWSRegion,
			ReleaseLabel:       opts.ReleaseLabel,
			HiveVersion:        opts.HiveVersion,
			MasterInstanceType: opts.MasterInstanceType(),
			InstanceType:       opts.EC2InstanceType,
			InstanceCount:      opts.NumEC2Instances,
			JobFlowRole:        opts.IAMInstanceProfile,
			ServiceRole:        opts.IAMServiceRole,
			VisibleToAllUsers:  opts.VisibleToAllUsers,
			AccessKeyID:        id,
			SecretAccessKey:    secret,
		})
	case model.RunnerDataproc:
		project, err := config.ResolveGCPProject(opts)
		if err != nil {
			return nil, err
		}
		return dataproc.NewEngine(ctx, dataproc.Config{
			Project:         project,
			Region:          opts.GCPRegion,
			Cluster:         opts.DataprocCluster,
			CredentialsFile: opts.GCPCredentialsFile,
		})
	default:
		return nil, exception.NewConfigurationErrorf(moduleName, "no engine for runner %q", runnerType)
	}
}

// NewStore builds a router over the local file system plus the object store
// the runner type stages its files in.
func NewStore(ctx context.Context, runnerType model.RunnerType, opts config.RunnerOptions) (*router.Router, error) {
	localStore, err := local.NewStore(storageAdapter.Config{Type: "local"})
	if err != nil {
		return nil, exception.NewConfigurationError(moduleName, "failed to create local store", err)
	}
	switch runnerType {
	case model.RunnerLocal:
		return router.New(localStore), nil
	case model.RunnerEMR:
		id, secret, err := config.ResolveAWSCredentials(opts)
		if err != nil {
			return nil, err
		}
		s3Store, err := s3.NewStore(ctx, storageAdapter.Config{
			Type:            s3.Scheme,
			Region:          opts.AWSRegion,
			AccessKeyID:     id,
			SecretAccessKey: secret,
		})
		if err != nil {
			return nil, exception.NewConfigurationError(moduleName, "failed to create s3 store", err)
		}
		return router.New(localStore, s3Store), nil
	case model.RunnerDataproc:
		gcsStore, err := gcs.NewStore(ctx, storageAdapter.Config{
			Type:            gcs.Scheme,
			CredentialsFile: opts.GCPCredentialsFile,
		})
		if err != nil {
			return nil, exception.NewConfigurationError(moduleName, "failed to create gcs store", err)
		}
		return router.New(localStore, gcsStore), nil
	default:
		return nil, exception.NewConfigurationErrorf(moduleName, "no object store for runner %q", runnerType)
	}
}
