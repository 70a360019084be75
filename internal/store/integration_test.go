// Drivepulse - Fleet Telematics API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/tomtom215/drivepulse/internal/metrics"
	"github.com/tomtom215/drivepulse/internal/testinfra"
)

func newIntegrationStore(t *testing.T) (*Store, context.Context) {
	t.Helper()
	testinfra.SkipIfNoDocker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	t.Cleanup(cancel)

	mongoC, err := testinfra.NewMongoContainer(ctx, testinfra.WithReplicaSet())
	if err != nil {
		t.Fatalf("start mongodb: %v", err)
	}
	t.Cleanup(func() { testinfra.CleanupContainer(t, context.Background(), mongoC) })

	cfg := testDatabaseConfig()
	cfg.URI = mongoC.URI
	cfg.ConnectTimeout = 10 * time.Second

	s, err := New(ctx, cfg, metrics.New())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	return s, ctx
}

func TestIntegration_Queries(t *testing.T) {
	s, ctx := newIntegrationStore(t)

	cards := s.app.Collection(CollectionRegistrationCards)
	_, err := cards.InsertMany(ctx, []interface{}{
		bson.D{{Key: "_id", Value: "c1"}, {Key: "Marque", Value: "Toyota"}},
		bson.D{{Key: "_id", Value: "c2"}, {Key: "Marque", Value: "Toyota"}},
		bson.D{{Key: "_id", Value: "c3"}, {Key: "Marque", Value: "Toyota"}},
		bson.D{{Key: "_id", Value: "c4"}, {Key: "Marque", Value: "Honda"}},
		bson.D{{Key: "_id", Value: "c5"}, {Key: "Marque", Value: "Honda"}},
		bson.D{{Key: "_id", Value: "c6"}},
	})
	if err != nil {
		t.Fatalf("seed cards: %v", err)
	}
	_, err = s.app.Collection(CollectionUsers).InsertMany(ctx, []interface{}{
		bson.D{{Key: "firstName", Value: "Ali"}, {Key: "lastName", Value: "Ben Salah"}, {Key: "email", Value: "ali@example.com"},
			{Key: "registrationCards", Value: bson.A{"c1", "c4"}}},
		bson.D{{Key: "firstName", Value: "Sana"}, {Key: "lastName", Value: "Trabelsi"}, {Key: "email", Value: "sana@example.com"}},
	})
	if err != nil {
		t.Fatalf("seed users: %v", err)
	}
	_, err = s.telemetry.Collection(CollectionDriverKPIs).InsertOne(ctx,
		bson.D{{Key: "DriverId", Value: "D1"}, {Key: "score", Value: 80}})
	if err != nil {
		t.Fatalf("seed kpis: %v", err)
	}

	n, err := s.CountUsers(ctx)
	if err != nil || n != 2 {
		t.Errorf("CountUsers = %d, %v; want 2", n, err)
	}

	counts, err := s.CarsByBrand(ctx)
	if err != nil {
		t.Fatalf("CarsByBrand: %v", err)
	}
	byBrand := map[interface{}]int64{}
	for _, c := range counts {
		byBrand[c.Brand] = c.TotalCars
	}
	if len(byBrand) != 3 || byBrand["Toyota"] != 3 || byBrand["Honda"] != 2 || byBrand[nil] != 1 {
		t.Errorf("CarsByBrand = %v", counts)
	}

	users, err := s.UsersWithCards(ctx)
	if err != nil {
		t.Fatalf("UsersWithCards: %v", err)
	}
	for _, u := range users {
		if u["firstName"] == "Ali" {
			if joined, ok := u["registrationCards"].(bson.A); !ok || len(joined) != 2 {
				t.Errorf("Ali registrationCards = %v", u["registrationCards"])
			}
		}
	}

	found, err := s.SearchUsers(ctx, "TRAB")
	if err != nil || len(found) != 1 {
		t.Errorf("SearchUsers(TRAB) = %v, %v", found, err)
	}
	found, err = s.SearchUsers(ctx, ".*")
	if err != nil || len(found) != 0 {
		t.Errorf("SearchUsers(.*) must match literally, got %v, %v", found, err)
	}

	kpis, err := s.DriverKPIs(ctx, "D1")
	if err != nil || len(kpis) != 1 {
		t.Errorf("DriverKPIs = %v, %v", kpis, err)
	}
	none, err := s.EcoDrivingKPIs(ctx, "D1")
	if err != nil || none == nil || len(none) != 0 {
		t.Errorf("EcoDrivingKPIs = %#v, %v", none, err)
	}
}

func TestIntegration_WatchAccidents(t *testing.T) {
	s, ctx := newIntegrationStore(t)

	cs, err := s.WatchAccidents(ctx, nil)
	if err != nil {
		t.Fatalf("WatchAccidents: %v", err)
	}
	defer cs.Close(context.Background())

	_, err = s.telemetry.Collection(CollectionAccidents).InsertOne(ctx,
		bson.D{{Key: "DriverId", Value: "D1"}, {Key: "severity", Value: "major"}})
	if err != nil {
		t.Fatalf("insert accident: %v", err)
	}

	if !cs.Next(ctx) {
		t.Fatalf("change stream ended: %v", cs.Err())
	}
	var ev AccidentEvent
	if err := cs.Decode(&ev); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ev.OperationType != "insert" || ev.FullDocument["DriverId"] != "D1" {
		t.Errorf("unexpected event %+v", ev)
	}

	token := cs.ResumeToken()
	_ = cs.Close(context.Background())

	_, err = s.telemetry.Collection(CollectionAccidents).InsertOne(ctx,
		bson.D{{Key: "DriverId", Value: "D2"}, {Key: "severity", Value: "minor"}})
	if err != nil {
		t.Fatalf("insert second accident: %v", err)
	}

	resumed, err := s.WatchAccidents(ctx, token)
	if err != nil {
		t.Fatalf("resume WatchAccidents: %v", err)
	}
	defer resumed.Close(context.Background())

	if !resumed.Next(ctx) {
		t.Fatalf("resumed stream ended: %v", resumed.Err())
	}
	var missed AccidentEvent
	if err := resumed.Decode(&missed); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if missed.FullDocument["DriverId"] != "D2" {
		t.Errorf("resumed stream delivered %+v, want the insert made while closed", missed)
	}
}
