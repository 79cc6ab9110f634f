// Package mirror defines the shared domain model of a site's Mirror Agent:
// sites, knowledge entries, routing decisions, curation candidates,
// security records, KPI snapshots and provisioning reports.
//
// Types here carry no behavior beyond validation and small derived values so
// that storage, transport and the individual engines can share them without
// import cycles.
package mirror
