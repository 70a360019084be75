// Drivepulse - Fleet Telematics API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api exposes the fleet telematics read API over a chi router.
//
// Routes:
//
//	GET /health                     liveness, never rate limited
//	GET /metrics                    Prometheus text exposition
//	GET /userscards                 users joined with their registration cards
//	GET /kpi/{driverId}             driving-behavior KPIs of one driver
//	GET /ecodrivingkpis/{driverId}  eco-driving KPIs of one driver
//	GET /acc                        accidents
//	GET /search?username=           users matching a name or email fragment
//	GET /calculateTotalUsers        user count, refreshes total_users_count
//	GET /calculateCarsByBrand       cars per brand, refreshes total_cars_count_by_brand
//	GET /sse/{subscriberId}         Server-Sent Events notification stream
//	GET /ws/{subscriberId}          WebSocket notification stream
//
// Error bodies keep the French messages the mobile and web clients match on.
// Empty results are 200 with [] everywhere except /search, which answers 404.
package api
