// Drivepulse - Fleet Telematics API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build integration

package testinfra

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	// DefaultMongoImage is the MongoDB image used by integration tests.
	DefaultMongoImage = "mongo:7.0"

	// DefaultMongoPort is the MongoDB listener port inside the container.
	DefaultMongoPort = "27017"

	// replicaSetName is used when change streams are required.
	replicaSetName = "rs0"
)

// MongoContainer is a running MongoDB container.
type MongoContainer struct {
	testcontainers.Container
	URI string
}

// MongoOption configures the MongoDB container.
type MongoOption func(*mongoConfig)

type mongoConfig struct {
	image        string
	replicaSet   bool
	startTimeout time.Duration
}

// WithMongoImage sets a custom MongoDB image.
func WithMongoImage(image string) MongoOption {
	return func(c *mongoConfig) {
		c.image = image
	}
}

// WithReplicaSet starts mongod as a single-member replica set so change
// streams are available.
func WithReplicaSet() MongoOption {
	return func(c *mongoConfig) {
		c.replicaSet = true
	}
}

// WithMongoStartTimeout sets the timeout for waiting for mongod to accept connections.
func WithMongoStartTimeout(timeout time.Duration) MongoOption {
	return func(c *mongoConfig) {
		c.startTimeout = timeout
	}
}

// NewMongoContainer creates and starts a MongoDB container.
//
//	mongo, err := testinfra.NewMongoContainer(ctx, testinfra.WithReplicaSet())
//	if err != nil {
//	    t.Fatal(err)
//	}
//	defer testinfra.CleanupContainer(t, ctx, mongo)
func NewMongoContainer(ctx context.Context, opts ...MongoOption) (*MongoContainer, error) {
	cfg := &mongoConfig{
		image:        DefaultMongoImage,
		startTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	req := testcontainers.ContainerRequest{
		Image:        cfg.image,
		ExposedPorts: []string{DefaultMongoPort + "/tcp"},
		WaitingFor: wait.ForAll(
			wait.ForLog("Waiting for connections"),
			wait.ForListeningPort(DefaultMongoPort+"/tcp"),
		).WithStartupTimeout(cfg.startTimeout),
	}
	if cfg.replicaSet {
		req.Cmd = []string{"--replSet", replicaSetName, "--bind_ip_all"}
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("create mongodb container: %w", err)
	}

	if cfg.replicaSet {
		if err := initiateReplicaSet(ctx, container); err != nil {
			container.Terminate(ctx) //nolint:errcheck
			return nil, fmt.Errorf("initiate replica set: %w", err)
		}
	}

	host, err := container.Host(ctx)
	if err != nil {
		container.Terminate(ctx) //nolint:errcheck
		return nil, fmt.Errorf("get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, DefaultMongoPort)
	if err != nil {
		container.Terminate(ctx) //nolint:errcheck
		return nil, fmt.Errorf("get mapped port: %w", err)
	}

	// directConnection skips replica set discovery, whose member address is
	// only reachable from inside the container.
	return &MongoContainer{
		Container: container,
		URI:       fmt.Sprintf("mongodb://%s:%s/?directConnection=true", host, port.Port()),
	}, nil
}

// initiateReplicaSet runs rs.initiate and waits for the member to become primary.
func initiateReplicaSet(ctx context.Context, container testcontainers.Container) error {
	initScript := fmt.Sprintf(
		"rs.initiate({_id: '%s', members: [{_id: 0, host: 'localhost:%s'}]})",
		replicaSetName, DefaultMongoPort,
	)
	code, out, err := container.Exec(ctx, []string{"mongosh", "--quiet", "--eval", initScript})
	if err != nil {
		return fmt.Errorf("exec mongosh: %w", err)
	}
	if code != 0 {
		output, _ := io.ReadAll(out)
		return fmt.Errorf("rs.initiate exited with code %d: %s", code, output)
	}

	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		code, out, err := container.Exec(ctx, []string{"mongosh", "--quiet", "--eval", "db.hello().isWritablePrimary"})
		if err == nil && code == 0 {
			output, _ := io.ReadAll(out)
			if strings.Contains(string(output), "true") {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return context.DeadlineExceeded
}
