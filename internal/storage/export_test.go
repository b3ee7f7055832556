package storage

// WritePointer exposes the CURRENT writer so tests can fail it.
var WritePointer = &writePointer
