// Package services builds the mirror agent's object graph from
// configuration.
//
// New selects the backends named in config (document store, lease,
// events, vector store, embeddings, judge) and wires the security gate,
// collection provisioner, agent registry, KPI harness, ingester, saga and
// curator scheduler on top of them. Accessor methods hand the pieces to
// the HTTP server, the CLI and the Temporal worker.
package services
