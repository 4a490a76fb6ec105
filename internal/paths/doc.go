// Package paths resolves the filesystem locations the SDK touches.
//
// All on-disk state lives under vendor-named directories so multiple
// processes using the SDK share caches without colliding with anything
// else:
//
//	<user cache dir>/weftline/
//	  └── prompts/          (compressed object cache, shared)
//	<temp dir>/weftline-spans/
//	  └── run-<ULID>.jsonl  (per-run span buffer, removed on dispose)
//	<user config dir>/weftline/
//	  └── config.yaml       (optional config overlay)
//
// Every resolver degrades to the system temp directory when the user
// directories cannot be determined.
package paths
