// Package session provides the concurrency-safe session store for the
// containerization pipeline. A session tracks one end-to-end pipeline run:
// its workflow state, accepted phase results, labels, and TTL-governed
// lifetime. All mutation flows through UpdateAtomic, which serializes
// writers per session id while allowing full parallelism across ids.
package session
