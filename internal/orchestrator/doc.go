// Package orchestrator drives the containerization pipeline: for each phase
// it requests candidates from an external generator, scores and ranks them,
// breaks ties, applies the phase gate, persists the winner into the session,
// and advances the workflow state. Externally executed steps (build, scan,
// deploy) run through the retry policy. The orchestrator never holds a
// session lock across an external call; it re-acquires the session only when
// persisting results.
package orchestrator
