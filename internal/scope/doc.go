package scope

// This package deliberately implements only one representation for the
// erased callable: a plain Go closure captured by ScopedFn. The source this
// design was distilled from offers both an inline small-buffer storage and
// an allocator-backed indirect storage for its type-erased function object,
// because C++ function wrappers must decide up front whether the callable
// fits inline or needs a heap allocation routed through a caller-supplied
// allocator. A Go closure already erases both the callable and its capture
// storage behind a single interface value managed by the garbage collector,
// so there is no second representation worth adding: the split the source
// makes has no idiomatic Go analogue, and forcing one in would just be two
// code paths doing the same thing.
