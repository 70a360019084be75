// Drivepulse - Fleet Telematics API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package testinfra provides container helpers for integration tests.
//
// Tests that need a real MongoDB build with the integration tag and start a
// container through testcontainers-go:
//
//	//go:build integration
//
//	func TestStoreAgainstMongo(t *testing.T) {
//	    testinfra.SkipIfNoDocker(t)
//	    ctx := context.Background()
//	    mongo, err := testinfra.NewMongoContainer(ctx, testinfra.WithReplicaSet())
//	    if err != nil {
//	        t.Fatal(err)
//	    }
//	    defer testinfra.CleanupContainer(t, ctx, mongo)
//	    // connect to mongo.URI
//	}
//
// The helpers skip gracefully when Docker is not available. The first run pulls
// the image; later runs use the local cache.
package testinfra
