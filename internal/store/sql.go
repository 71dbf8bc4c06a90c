package store

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/intellimesh/internal/model"
)

// Statements use ? placeholders; the Postgres store rebinds them to $n.
const (
	runColumns   = `id, query, document_path, status, result, created_at, updated_at`
	phaseColumns = `id, run_id, name, status, result, started_at`

	insertRunSQL       = `INSERT INTO runs (id, query, document_path, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`
	updateRunStatusSQL = `UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`
	updateRunResultSQL = `UPDATE runs SET result = ?, status = ?, updated_at = ? WHERE id = ?`
	getRunSQL          = `SELECT ` + runColumns + ` FROM runs WHERE id = ?`

	insertPhaseSQL   = `INSERT INTO run_phases (id, run_id, name, status, started_at) VALUES (?, ?, ?, ?, ?)`
	completePhaseSQL = `UPDATE run_phases SET status = ?, result = ? WHERE id = ?`
	listPhasesSQL    = `SELECT ` + phaseColumns + ` FROM run_phases WHERE run_id = ? ORDER BY started_at`
)

// defaultListLimit caps ListRuns when the filter sets no limit.
const defaultListLimit = 100

// listRunsSQL builds the newest-first run listing for f.
func listRunsSQL(f RunFilter) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT ` + runColumns + ` FROM runs WHERE true`)
	var args []any

	if f.Status != "" {
		b.WriteString(` AND status = ?`)
		args = append(args, string(f.Status))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	b.WriteString(` ORDER BY created_at DESC LIMIT ?`)
	args = append(args, limit)
	if f.Offset > 0 {
		b.WriteString(` OFFSET ?`)
		args = append(args, f.Offset)
	}
	return b.String(), args
}

// rebind numbers ? placeholders as $1, $2, ...
func rebind(q string) string {
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r != '?' {
			b.WriteRune(r)
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

func newRun(query, documentPath string) *model.Run {
	now := time.Now().UTC()
	return &model.Run{
		ID:           uuid.New().String(),
		Query:        query,
		DocumentPath: documentPath,
		Status:       model.RunStatusRunning,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func newPhase(runID, name string) *model.RunPhase {
	return &model.RunPhase{
		ID:        uuid.New().String(),
		RunID:     runID,
		Name:      name,
		Status:    model.PhaseStatusRunning,
		StartedAt: time.Now().UTC(),
	}
}

// finalStatus maps a result onto the run status stored with it.
func finalStatus(result *model.RunResult) model.RunStatus {
	if result != nil && result.Error != "" {
		return model.RunStatusFailed
	}
	return model.RunStatusComplete
}
