package jobqueue

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// jobTable is the persisted shape of the jobs document. Slice order is storage order,
// which is creation order since jobs are only ever appended.
type jobTable struct {
	Jobs []Job `json:"jobs"`
}

func newJobTable() jobTable { return jobTable{Jobs: []Job{}} }

// indexOf returns the position of the job with exactly this id.
func (t *jobTable) indexOf(id string) int {
	return slices.IndexFunc(t.Jobs, func(j Job) bool { return j.ID == id })
}

// lookup resolves an id or id prefix. An exact match wins; otherwise the first job in
// storage order whose id has the prefix. match further restricts candidates.
func (t *jobTable) lookup(idOrPrefix string, match func(Job) bool) int {
	if idOrPrefix == "" {
		return -1
	}
	if match == nil {
		match = func(Job) bool { return true }
	}
	if i := t.indexOf(idOrPrefix); i >= 0 && match(t.Jobs[i]) {
		return i
	}
	return slices.IndexFunc(t.Jobs, func(j Job) bool {
		return strings.HasPrefix(j.ID, idOrPrefix) && match(j)
	})
}

func cloneJob(j Job) Job {
	j.Log = slices.Clone(j.Log)
	if j.RetryAt != nil {
		t := *j.RetryAt
		j.RetryAt = &t
	}
	return j
}

func decodeJobTable(data []byte) (jobTable, error) {
	t := newJobTable()
	if len(data) == 0 {
		return t, nil
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("decode jobs: %w", err)
	}
	return t, nil
}

func encodeJobTable(t jobTable) ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}
