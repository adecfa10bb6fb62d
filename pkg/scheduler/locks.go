package scheduler

import (
	"github.com/cuemby/stride/pkg/pathid"
)

// lockTable maps run-spec ids to the deployment holding them. No two plans
// may mutate overlapping run-spec sets concurrently.
type lockTable struct {
	owners map[string]string // run-spec id -> deployment id
}

func newLockTable() *lockTable {
	return &lockTable{owners: map[string]string{}}
}

// conflicts returns the deployment ids currently holding any of the ids.
func (l *lockTable) conflicts(ids []pathid.PathID) []string {
	seen := map[string]bool{}
	var holders []string
	for _, id := range ids {
		if owner, held := l.owners[id.String()]; held && !seen[owner] {
			seen[owner] = true
			holders = append(holders, owner)
		}
	}
	return holders
}

// acquire takes all ids for deploymentID. The caller must have checked for
// conflicts; acquisition is atomic under the scheduler's mutex.
func (l *lockTable) acquire(deploymentID string, ids []pathid.PathID) {
	for _, id := range ids {
		l.owners[id.String()] = deploymentID
	}
}

// release drops every lock held by deploymentID.
func (l *lockTable) release(deploymentID string) {
	for id, owner := range l.owners {
		if owner == deploymentID {
			delete(l.owners, id)
		}
	}
}
