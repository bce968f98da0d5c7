// Package engine defines how docflow talks to the document conversion engine.
//
// This package includes:
//   - Engine: the single-call conversion contract
//   - FuncEngine: adapts a function, used for embedding and tests
//   - CommandEngine: runs the Docling bridge as a killable subprocess
//   - Milestones: estimated checkpoints for engines that report no progress
//   - ValidateResult: JSON schema check of the bridge result payload
package engine
