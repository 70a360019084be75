// Drivepulse - Fleet Telematics API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package models defines the records read from MongoDB and the JSON bodies
// written by the API.
//
// Collection documents are schemaless on the read path: they are decoded
// into Document and returned to clients field for field. Only the shapes
// the API itself builds (aggregates, health, errors, notifications) have
// concrete types.
package models

import (
	"go.mongodb.org/mongo-driver/bson"
)

// Document is one MongoDB document as stored. ObjectIDs and dates are
// rendered by the driver's JSON marshalers (hex string and ISO-8601).
type Document = bson.M

// Collection field names used in filters and pipelines.
const (
	FieldDriverID          = "DriverId"
	FieldBrand             = "Marque"
	FieldRegistrationCards = "registrationCards"
	FieldFirstName         = "firstName"
	FieldLastName          = "lastName"
	FieldEmail             = "email"
)

// BrandCount is one row of the cars-by-brand aggregate. Brand holds the
// group key as stored: nil for cards without a Marque, and any other BSON
// value when Marque is not a string.
type BrandCount struct {
	Brand     interface{} `bson:"_id" json:"_id"`
	TotalCars int64       `bson:"totalCars" json:"totalCars"`
}

// TotalUsers is the body of /calculateTotalUsers.
type TotalUsers struct {
	TotalUsers int64 `json:"totalUsers"`
}

// Health is the liveness payload of /health.
type Health struct {
	Status    string `json:"status"`
	App       string `json:"app"`
	Timestamp string `json:"timestamp"`
}

// Message is the error body used by most endpoints.
type Message struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// ErrorBody is the error body of /userscards.
type ErrorBody struct {
	Error string `json:"error"`
}

// Notification types.
const (
	NotificationAccident = "accident"
)

// Notification is the envelope published to subscriber streams.
type Notification struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}
