// Package overlay resolves a layer of a manifest tree into a document set.
//
// Resolution of a layer:
//
//  1. resolve its bases, depth first and memoised per layer name
//  2. union the inherited sets; one identity from two bases is fatal
//  3. add the layer's own resources
//  4. run generators, rewriting references to hash-suffixed names
//  5. apply patches in order (strategic merge or RFC 6902 operations)
//  6. apply transformers in order
//
// Two patches of one layer that set the same scalar field to different
// values produce a *ConflictError warning; the later value wins.
// Resolution is pure: the same tree always yields byte-identical output.
package overlay
