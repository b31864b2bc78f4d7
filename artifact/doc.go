// Package artifact contains implementations of core.ArtifactStore, the
// side-channel storage for tool artifacts (for example the machine readable
// quote returned next to a human readable swap summary).
//
// Artifacts are scoped by thread id and keyed by the id of the tool call that
// produced them. They are never fed back to the model.
package artifact
