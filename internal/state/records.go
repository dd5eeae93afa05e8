package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jaakkos/deskwork/internal/domain"
)

// AddAlert raises a new alert.
func (s *Store) AddAlert(a *domain.Alert) error {
	if a.Message == "" {
		return domain.Errorf(domain.KindInvalidInput, "state.add_alert", "message is required")
	}
	if a.ID == "" {
		a.ID = newID()
	}
	switch a.Level {
	case domain.AlertInfo, domain.AlertWarning, domain.AlertCritical:
	case "":
		a.Level = domain.AlertInfo
	default:
		return domain.Errorf(domain.KindInvalidInput, "state.add_alert", "unknown level %q", a.Level)
	}
	_, err := s.db.Exec(`INSERT INTO alerts (id, level, message, source, acknowledged, created_at)
		VALUES (?, ?, ?, ?, 0, ?)`,
		a.ID, a.Level, a.Message, a.Source, now())
	if err != nil {
		return fmt.Errorf("add alert: %w", err)
	}
	return nil
}

// GetAlerts returns alerts newest-first. level filters exactly when
// nonempty; acknowledged filters when non-nil.
func (s *Store) GetAlerts(level string, acknowledged *bool) ([]domain.Alert, error) {
	query := `SELECT id, level, message, source, acknowledged, created_at FROM alerts`
	var conds []string
	var args []any
	if level != "" {
		conds = append(conds, "level = ?")
		args = append(args, level)
	}
	if acknowledged != nil {
		conds = append(conds, "acknowledged = ?")
		if *acknowledged {
			args = append(args, 1)
		} else {
			args = append(args, 0)
		}
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("get alerts: %w", err)
	}
	defer rows.Close()

	var alerts []domain.Alert
	for rows.Next() {
		var a domain.Alert
		var ack int
		var createdAt string
		if err := rows.Scan(&a.ID, &a.Level, &a.Message, &a.Source, &ack, &createdAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Acknowledged = ack != 0
		if a.CreatedAt, err = parseTime(createdAt, "alert created_at"); err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// AcknowledgeAlert marks an alert acknowledged. Acknowledgement is
// monotonic; re-acknowledging is a no-op.
func (s *Store) AcknowledgeAlert(id string) error {
	res, err := s.db.Exec(`UPDATE alerts SET acknowledged = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("acknowledge alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Errorf(domain.KindNotFound, "state.acknowledge_alert", "alert %s not found", id)
	}
	return nil
}

// AddDecision appends a decision record.
func (s *Store) AddDecision(d *domain.Decision) error {
	if d.Title == "" {
		return domain.Errorf(domain.KindInvalidInput, "state.add_decision", "title is required")
	}
	if d.ID == "" {
		d.ID = newID()
	}
	_, err := s.db.Exec(`INSERT INTO decisions (id, title, rationale, decision_maker, impact, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.Title, d.Rationale, d.DecisionMaker, d.Impact, now())
	if err != nil {
		return fmt.Errorf("add decision: %w", err)
	}
	return nil
}

// GetDecisions returns decisions newest-first up to limit (0 = all).
func (s *Store) GetDecisions(limit int) ([]domain.Decision, error) {
	query := `SELECT id, title, rationale, decision_maker, impact, created_at
		FROM decisions ORDER BY created_at DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("get decisions: %w", err)
	}
	defer rows.Close()

	var decisions []domain.Decision
	for rows.Next() {
		var d domain.Decision
		var createdAt string
		if err := rows.Scan(&d.ID, &d.Title, &d.Rationale, &d.DecisionMaker, &d.Impact, &createdAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		if d.CreatedAt, err = parseTime(createdAt, "decision created_at"); err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

// RecordKPI appends one metric sample.
func (s *Store) RecordKPI(metric string, value float64) error {
	if metric == "" {
		return domain.Errorf(domain.KindInvalidInput, "state.record_kpi", "metric is required")
	}
	_, err := s.db.Exec(`INSERT INTO kpi_history (metric, value, timestamp) VALUES (?, ?, ?)`,
		metric, value, now())
	if err != nil {
		return fmt.Errorf("record kpi: %w", err)
	}
	return nil
}

// GetKPIHistory returns the newest samples for a metric.
func (s *Store) GetKPIHistory(metric string, limit int) ([]domain.KPISample, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT id, metric, value, timestamp FROM kpi_history
		WHERE metric = ? ORDER BY id DESC LIMIT ?`, metric, limit)
	if err != nil {
		return nil, fmt.Errorf("get kpi history: %w", err)
	}
	defer rows.Close()

	var samples []domain.KPISample
	for rows.Next() {
		var k domain.KPISample
		var ts string
		if err := rows.Scan(&k.ID, &k.Metric, &k.Value, &ts); err != nil {
			return nil, fmt.Errorf("scan kpi: %w", err)
		}
		if k.Timestamp, err = parseTime(ts, "kpi timestamp"); err != nil {
			return nil, err
		}
		samples = append(samples, k)
	}
	return samples, rows.Err()
}

// PruneKPIHistory keeps only the newest keep samples for a metric and
// returns how many rows were removed.
func (s *Store) PruneKPIHistory(metric string, keep int) (int, error) {
	res, err := s.db.Exec(`DELETE FROM kpi_history WHERE metric = ? AND id NOT IN (
		SELECT id FROM kpi_history WHERE metric = ? ORDER BY id DESC LIMIT ?)`,
		metric, metric, keep)
	if err != nil {
		return 0, fmt.Errorf("prune kpi history: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// SetContext upserts a JSON-encoded value under key.
func (s *Store) SetContext(key string, value any) error {
	if key == "" {
		return domain.Errorf(domain.KindInvalidInput, "state.set_context", "key is required")
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return domain.E(domain.KindInvalidInput, "state.set_context", err)
	}
	_, err = s.db.Exec(`INSERT INTO context (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(encoded), now())
	if err != nil {
		return fmt.Errorf("set context: %w", err)
	}
	return nil
}

// GetContext decodes the value stored under key into out.
func (s *Store) GetContext(key string, out any) error {
	var value string
	err := s.db.QueryRow(`SELECT value FROM context WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Errorf(domain.KindNotFound, "state.get_context", "context key %q not found", key)
	}
	if err != nil {
		return fmt.Errorf("get context: %w", err)
	}
	if err := json.Unmarshal([]byte(value), out); err != nil {
		return domain.E(domain.KindInvalidInput, "state.get_context", err)
	}
	return nil
}

// AddMeetingPrep stores a generated brief for an event.
func (s *Store) AddMeetingPrep(p *domain.MeetingPrep) error {
	if p.EventID == "" {
		return domain.Errorf(domain.KindInvalidInput, "state.add_meeting_prep", "event_id is required")
	}
	if p.ID == "" {
		p.ID = newID()
	}
	_, err := s.db.Exec(`INSERT INTO meeting_prep (id, event_id, brief, created_by, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.EventID, p.Brief, p.CreatedBy, now())
	if err != nil {
		return fmt.Errorf("add meeting prep: %w", err)
	}
	return nil
}

// LatestMeetingPrep returns the most recent brief for an event, or nil
// when none exists.
func (s *Store) LatestMeetingPrep(eventID string) (*domain.MeetingPrep, error) {
	row := s.db.QueryRow(`SELECT id, event_id, brief, created_by, created_at FROM meeting_prep
		WHERE event_id = ? ORDER BY created_at DESC LIMIT 1`, eventID)
	var p domain.MeetingPrep
	var createdAt string
	err := row.Scan(&p.ID, &p.EventID, &p.Brief, &p.CreatedBy, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest meeting prep: %w", err)
	}
	if p.CreatedAt, err = parseTime(createdAt, "meeting prep created_at"); err != nil {
		return nil, err
	}
	return &p, nil
}
