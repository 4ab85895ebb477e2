package fpcache

// Distinguisher adds caller-chosen context to a fingerprint computation.
// Two values that happen to canonicalize to identical JSON — a common
// occurrence for shared subvalues nested inside different parent types —
// would otherwise collide in the cache. Evaluators should pass something
// that identifies the value's logical type, typically the producing
// function-tag, so two coincidentally-identical payloads of different
// shapes never alias each other's cache entry.
type Distinguisher string
