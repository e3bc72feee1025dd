//go:build integration

package tests

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
)

var (
	ErrDockerFailure       = errors.New("docker failure")
	ErrMissingInstanceName = errors.New("missing docker instance name")
)

// RetryFunc returns the function dockertest.Pool calls, until the application in the container accepts connections.
type RetryFunc func(resource *dockertest.Resource) func() error

// GetDockerContainerInstance returns the cleanup of a running container named runOptions.Name.
// The container is started on the first call and shared by all later calls with the same name,
// it is removed once every caller has called its cleanup.
func GetDockerContainerInstance(runOptions *dockertest.RunOptions, retryFunc RetryFunc) (func() error, error) {
	if runOptions == nil || runOptions.Name == "" {
		return nil, ErrMissingInstanceName
	}

	name := "/" + runOptions.Name

	mu.Lock()
	instance, running := containers[name]
	if running {
		instance.running++
	}
	mu.Unlock()

	if running {
		return instance.cleanup, nil
	}

	return StartDockerContainer(runOptions, retryFunc)
}

type container struct {
	cleanup func() error
	running int // number of callers that have not called cleanup yet
}

//nolint:gochecknoglobals // containers are shared by all tests of a package
var (
	containers = map[string]*container{}
	mu         = sync.Mutex{}
)

// StartDockerContainer starts a new container and waits until retryFunc succeeds.
// The most important dockertest.RunOptions are:
//   - Repository: the image to pull, e.g. "postgres"
//   - Tag: the tag to pull, e.g. "16"
//   - Env: the environment of the container
func StartDockerContainer(runOptions *dockertest.RunOptions, retryFunc RetryFunc) (func() error, error) {
	if runOptions == nil {
		return nil, fmt.Errorf("%w: invalid run options", ErrDockerFailure)
	}

	if retryFunc == nil {
		return nil, fmt.Errorf("%w: invalid retry func", ErrDockerFailure)
	}

	pool, err := dockertest.NewPool("")
	if err != nil {
		return nil, fmt.Errorf("%w: could not create new pool: %v", ErrDockerFailure, err) //nolint:errorlint // prevent err in api
	}

	if err = pool.Client.Ping(); err != nil {
		return nil, fmt.Errorf("%w: could not connect to docker: %v", ErrDockerFailure, err) //nolint:errorlint // prevent err in api
	}

	resource, err := pool.RunWithOptions(runOptions, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no", MaximumRetryCount: 0}
	})
	if err != nil {
		return nil, fmt.Errorf("%w: could not start resource: %v", ErrDockerFailure, err) //nolint:errorlint // prevent err in api
	}

	const timeout = 120
	_ = resource.Expire(timeout) // hard kill, if a test run never cleans up

	pool.MaxWait = timeout * time.Second
	if err := pool.Retry(retryFunc(resource)); err != nil {
		_ = pool.Purge(resource)
		return nil, fmt.Errorf("%w: could not connect to container: %v", ErrDockerFailure, err) //nolint:errorlint,lll // prevent err in api
	}

	name := resource.Container.Name
	cleanup := func() error {
		mu.Lock()
		defer mu.Unlock()

		containers[name].running--
		if containers[name].running > 0 {
			return nil
		}

		delete(containers, name)

		if err := pool.Purge(resource); err != nil {
			return fmt.Errorf("%w: could not purge resource: %v", ErrDockerFailure, err) //nolint:errorlint // prevent err in api
		}

		return nil
	}

	mu.Lock()
	containers[name] = &container{cleanup: cleanup, running: 1}
	mu.Unlock()

	return cleanup, nil
}
