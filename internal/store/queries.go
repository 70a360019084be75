// Drivepulse - Fleet Telematics API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tomtom215/drivepulse/internal/models"
)

// UsersWithCards returns every user with its registrationCards references
// replaced by the referenced registration card documents.
func (s *Store) UsersWithCards(ctx context.Context) ([]models.Document, error) {
	if s.client == nil {
		return nil, ErrNotConnected
	}
	docs := make([]models.Document, 0)
	if err := s.aggregate(ctx, "users_with_cards", s.app.Collection(CollectionUsers), usersWithCardsPipeline(), &docs); err != nil {
		return nil, err
	}
	normalizeAll(docs)
	return docs, nil
}

// DriverKPIs returns the driving-behavior KPI documents of one driver.
func (s *Store) DriverKPIs(ctx context.Context, driverID string) ([]models.Document, error) {
	return s.find(ctx, "driver_kpis", s.telemetry, CollectionDriverKPIs, driverFilter(driverID))
}

// EcoDrivingKPIs returns the eco-driving KPI documents of one driver.
func (s *Store) EcoDrivingKPIs(ctx context.Context, driverID string) ([]models.Document, error) {
	return s.find(ctx, "eco_driving_kpis", s.telemetry, CollectionEcoDrivingKPIs, driverFilter(driverID))
}

// Accidents returns every accident document.
func (s *Store) Accidents(ctx context.Context) ([]models.Document, error) {
	return s.find(ctx, "accidents", s.telemetry, CollectionAccidents, bson.D{})
}

// SearchUsers returns users whose first name, last name or email contains
// term, ignoring case. The term is matched literally.
func (s *Store) SearchUsers(ctx context.Context, term string) ([]models.Document, error) {
	return s.find(ctx, "search_users", s.app, CollectionUsers, searchFilter(term))
}

// CountUsers counts every document in the users collection.
func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	if s.client == nil {
		return 0, ErrNotConnected
	}
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	start := time.Now()
	n, err := s.app.Collection(CollectionUsers).CountDocuments(ctx, bson.D{})
	s.record("count_users", CollectionUsers, start, err)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", CollectionUsers, err)
	}
	return n, nil
}

// CarsByBrand groups registration cards by brand (Marque).
func (s *Store) CarsByBrand(ctx context.Context) ([]models.BrandCount, error) {
	if s.client == nil {
		return nil, ErrNotConnected
	}
	counts := make([]models.BrandCount, 0)
	if err := s.aggregate(ctx, "cars_by_brand", s.app.Collection(CollectionRegistrationCards), carsByBrandPipeline(), &counts); err != nil {
		return nil, err
	}
	for i := range counts {
		counts[i].Brand = normalizeValue(counts[i].Brand)
	}
	return counts, nil
}

// ChangeStream is the subset of *mongo.ChangeStream used by watchers.
type ChangeStream interface {
	Next(ctx context.Context) bool
	Decode(val interface{}) error
	Err() error
	ResumeToken() bson.Raw
	Close(ctx context.Context) error
}

// AccidentEvent is the part of a change event the watcher needs.
type AccidentEvent struct {
	OperationType string          `bson:"operationType"`
	FullDocument  models.Document `bson:"fullDocument"`
}

// WatchAccidents opens a change stream of insertions into the accidents
// collection, starting after resumeAfter when it is non-empty. The stream is
// not bounded by the query timeout.
func (s *Store) WatchAccidents(ctx context.Context, resumeAfter bson.Raw) (ChangeStream, error) {
	if s.client == nil {
		return nil, ErrNotConnected
	}
	start := time.Now()
	cs, err := s.telemetry.Collection(CollectionAccidents).Watch(ctx, accidentInsertsPipeline(),
		changeStreamOptions(resumeAfter))
	s.record("watch", CollectionAccidents, start, err)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", CollectionAccidents, err)
	}
	return cs, nil
}

// find runs a filtered find and always returns a non-nil slice on success.
func (s *Store) find(ctx context.Context, operation string, db *mongo.Database, collection string, filter bson.D) ([]models.Document, error) {
	if s.client == nil {
		return nil, ErrNotConnected
	}
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	start := time.Now()
	docs, err := func() ([]models.Document, error) {
		cur, err := db.Collection(collection).Find(ctx, filter)
		if err != nil {
			return nil, err
		}
		docs := make([]models.Document, 0)
		if err := cur.All(ctx, &docs); err != nil {
			return nil, err
		}
		return docs, nil
	}()
	s.record(operation, collection, start, err)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", collection, err)
	}
	if docs == nil {
		docs = make([]models.Document, 0)
	}
	normalizeAll(docs)
	return docs, nil
}

// aggregate runs pipeline and decodes every result into out (a slice pointer).
func (s *Store) aggregate(ctx context.Context, operation string, coll *mongo.Collection, pipeline mongo.Pipeline, out interface{}) error {
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	start := time.Now()
	err := func() error {
		cur, err := coll.Aggregate(ctx, pipeline)
		if err != nil {
			return err
		}
		return cur.All(ctx, out)
	}()
	s.record(operation, coll.Name(), start, err)
	if err != nil {
		return fmt.Errorf("aggregate %s: %w", coll.Name(), err)
	}
	return nil
}

func driverFilter(driverID string) bson.D {
	return bson.D{{Key: models.FieldDriverID, Value: driverID}}
}

func searchFilter(term string) bson.D {
	pattern := primitive.Regex{Pattern: regexp.QuoteMeta(term), Options: "i"}
	return bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: models.FieldFirstName, Value: pattern}},
		bson.D{{Key: models.FieldLastName, Value: pattern}},
		bson.D{{Key: models.FieldEmail, Value: pattern}},
	}}}
}

func usersWithCardsPipeline() mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: CollectionRegistrationCards},
			{Key: "localField", Value: models.FieldRegistrationCards},
			{Key: "foreignField", Value: "_id"},
			{Key: "as", Value: models.FieldRegistrationCards},
		}}},
	}
}

func carsByBrandPipeline() mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$" + models.FieldBrand},
			{Key: "totalCars", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
}

func changeStreamOptions(resumeAfter bson.Raw) *options.ChangeStreamOptions {
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	if len(resumeAfter) > 0 {
		opts.SetResumeAfter(resumeAfter)
	}
	return opts
}

func accidentInsertsPipeline() mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "operationType", Value: "insert"}}}},
	}
}

// NormalizeDocument rewrites embedded documents decoded as bson.D into
// bson.M, recursing through arrays, so documents serialize as JSON objects.
func NormalizeDocument(doc models.Document) models.Document {
	for k, v := range doc {
		doc[k] = normalizeValue(v)
	}
	return doc
}

func normalizeAll(docs []models.Document) {
	for _, doc := range docs {
		NormalizeDocument(doc)
	}
}

func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case bson.D:
		m := make(bson.M, len(val))
		for _, e := range val {
			m[e.Key] = normalizeValue(e.Value)
		}
		return m
	case bson.M:
		return NormalizeDocument(val)
	case bson.A:
		for i := range val {
			val[i] = normalizeValue(val[i])
		}
		return val
	default:
		return v
	}
}
