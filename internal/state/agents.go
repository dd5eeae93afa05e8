package state

import (
	"fmt"

	"github.com/jaakkos/deskwork/internal/domain"
)

// AddDiscovery appends a discovery record.
func (s *Store) AddDiscovery(d *domain.Discovery) error {
	if d.Agent == "" || d.DiscoveryType == "" {
		return domain.Errorf(domain.KindInvalidInput, "state.add_discovery", "agent and discovery_type are required")
	}
	if d.ID == "" {
		d.ID = newID()
	}
	details := d.Details
	if details == "" {
		details = "{}"
	}
	_, err := s.db.Exec(`INSERT INTO discoveries (id, agent, discovery_type, description, details, discovered_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.Agent, d.DiscoveryType, d.Description, details, now())
	if err != nil {
		return fmt.Errorf("add discovery: %w", err)
	}
	return nil
}

// GetRecentDiscoveries returns discoveries newest-first.
func (s *Store) GetRecentDiscoveries(limit int) ([]domain.Discovery, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT id, agent, discovery_type, description, details, discovered_at
		FROM discoveries ORDER BY discovered_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("get discoveries: %w", err)
	}
	defer rows.Close()

	var discoveries []domain.Discovery
	for rows.Next() {
		var d domain.Discovery
		var discoveredAt string
		if err := rows.Scan(&d.ID, &d.Agent, &d.DiscoveryType, &d.Description, &d.Details, &discoveredAt); err != nil {
			return nil, fmt.Errorf("scan discovery: %w", err)
		}
		if d.DiscoveredAt, err = parseTime(discoveredAt, "discovery discovered_at"); err != nil {
			return nil, err
		}
		discoveries = append(discoveries, d)
	}
	return discoveries, rows.Err()
}

// UpdateAgentStatus upserts an agent's status row and refreshes the
// heartbeat. currentTask may be empty to clear it.
func (s *Store) UpdateAgentStatus(name, status, currentTask string) error {
	if name == "" {
		return domain.Errorf(domain.KindInvalidInput, "state.update_agent_status", "agent name is required")
	}
	switch status {
	case domain.AgentStopped, domain.AgentRunning, domain.AgentExploring, domain.AgentRouting, domain.AgentBusy:
	default:
		return domain.Errorf(domain.KindInvalidInput, "state.update_agent_status", "unknown status %q", status)
	}
	_, err := s.db.Exec(`INSERT INTO agent_status (agent_name, status, last_heartbeat, current_task)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(agent_name) DO UPDATE SET
			status = excluded.status,
			last_heartbeat = excluded.last_heartbeat,
			current_task = excluded.current_task`,
		name, status, now(), currentTask)
	if err != nil {
		return fmt.Errorf("update agent status: %w", err)
	}
	return nil
}

// AgentHeartbeat refreshes last_heartbeat without touching status.
func (s *Store) AgentHeartbeat(name string) error {
	res, err := s.db.Exec(`UPDATE agent_status SET last_heartbeat = ? WHERE agent_name = ?`, now(), name)
	if err != nil {
		return fmt.Errorf("agent heartbeat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Errorf(domain.KindNotFound, "state.agent_heartbeat", "agent %s not registered", name)
	}
	return nil
}

// GetAgentStatuses returns every agent's status row.
func (s *Store) GetAgentStatuses() ([]domain.AgentStatus, error) {
	rows, err := s.db.Query(`SELECT agent_name, status, last_heartbeat, current_task
		FROM agent_status ORDER BY agent_name`)
	if err != nil {
		return nil, fmt.Errorf("get agent statuses: %w", err)
	}
	defer rows.Close()

	var statuses []domain.AgentStatus
	for rows.Next() {
		var a domain.AgentStatus
		var hb string
		if err := rows.Scan(&a.AgentName, &a.Status, &hb, &a.CurrentTask); err != nil {
			return nil, fmt.Errorf("scan agent status: %w", err)
		}
		if a.LastHeartbeat, err = parseTime(hb, "agent last_heartbeat"); err != nil {
			return nil, err
		}
		statuses = append(statuses, a)
	}
	return statuses, rows.Err()
}
