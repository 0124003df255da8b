// Package eventstore is the read-only accessor over a tenant's raw records.
//
// Calculators consume events, entities, feedback submissions and semantic
// insights exclusively through the Accessor interface. Every query is scoped
// to one tenant id and, except for entities, to a closed time window; an open
// window is rejected with ErrUnboundedWindow so no caller can scan a tenant's
// full history.
//
// Postgres reads the relational store (tenants, entities, events, submissions,
// insights). Memory backs tests and the demo mode.
package eventstore
