// Package workflow defines the containerization pipeline step enum, the
// per-session workflow state, and the state machine operations that advance
// it. The state itself is a plain value embedded in a session record; all
// mutation happens through the session store's atomic update primitive.
package workflow
