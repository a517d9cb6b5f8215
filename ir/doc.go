// Package ir holds the computation graph lowered by tpulower.
//
// A Graph is an arena of nodes and values addressed by stable integer IDs. Nodes are created
// with AddNode (or AddInput / CreateWeight), and are never mutated in place: a lowering replaces a
// node with Graph.Replace, which redirects every use of the old results to the new ones in one
// step and marks the old node dead. Physical removal of dead or unused nodes is left to Prune,
// which lowering never calls.
//
// Two dialects share the same data model:
//
//   - "top": hardware-agnostic float32 operations (top.Conv, top.Slice, top.MinConst, ...).
//   - "tpu": backend operations produced by lowering (tpu.Conv2D, tpu.Conv3D, ...).
//
// The set of kinds is closed but extensible, see RegisterKind.
package ir
