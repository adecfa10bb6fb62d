// Package gc garbage-collects the versioned repositories: a finite state
// machine that scans for unreferenced apps, pods and root versions, then
// compacts without racing concurrent writes. Writes observed during a scan
// are subtracted from the deletion set; writes targeting entities under
// compaction are blocked until compaction finishes, so no write is ever
// lost to compaction.
package gc
