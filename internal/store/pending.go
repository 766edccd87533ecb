package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"netwar/server/actions/contract"
)

// PendingAction is a scheduled action awaiting resolution. Target fields are
// optional; at most one is set, matching the action definition's target spec.
type PendingAction struct {
	ID           string
	Username     string
	ActionID     string
	DueAt        time.Time
	TargetNodeID string
	TargetEdgeID string
	TargetUserID string
	CreatedAt    time.Time
}

// LogEntry is one row of the append-only per-team action history.
type LogEntry struct {
	TeamID    string
	ActionID  string
	PendingID string
	EndState  contract.EndState
	Time      time.Time
}

// CreatePendingAction persists a newly scheduled action.
func (s *Store) CreatePendingAction(pending PendingAction) error {
	_, err := s.db.Exec(
		`INSERT INTO pending_actions (id, username, action_id, due_at, target_node, target_edge, target_user, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		pending.ID, pending.Username, pending.ActionID, pending.DueAt.UnixMilli(),
		nullIfEmpty(pending.TargetNodeID), nullIfEmpty(pending.TargetEdgeID), nullIfEmpty(pending.TargetUserID),
		pending.CreatedAt.UnixMilli(),
	)
	return err
}

// DeletePendingAction removes a pending action once resolved or stopped.
// Deleting an id that is already gone is not an error; resolution and stop
// effects may race across restarts.
func (s *Store) DeletePendingAction(id string) error {
	_, err := s.db.Exec(`DELETE FROM pending_actions WHERE id = ?`, id)
	return err
}

// PendingActionByID retrieves one pending action.
func (s *Store) PendingActionByID(id string) (PendingAction, error) {
	row := s.db.QueryRow(
		`SELECT id, username, action_id, due_at, target_node, target_edge, target_user, created_at
		 FROM pending_actions WHERE id = ?`, id)
	return scanPending(row.Scan)
}

// PendingActionByUser returns the user's single in-flight action, or
// ErrNotFound when the user has nothing scheduled.
func (s *Store) PendingActionByUser(username string) (PendingAction, error) {
	row := s.db.QueryRow(
		`SELECT id, username, action_id, due_at, target_node, target_edge, target_user, created_at
		 FROM pending_actions WHERE username = ? ORDER BY created_at LIMIT 1`, username)
	return scanPending(row.Scan)
}

// ListPendingActions returns every pending action in creation order. Startup
// recovery replays this list into the in-memory queue.
func (s *Store) ListPendingActions() ([]PendingAction, error) {
	rows, err := s.db.Query(
		`SELECT id, username, action_id, due_at, target_node, target_edge, target_user, created_at
		 FROM pending_actions ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pendings []PendingAction
	for rows.Next() {
		pending, err := scanPending(rows.Scan)
		if err != nil {
			return nil, err
		}
		pendings = append(pendings, pending)
	}
	return pendings, rows.Err()
}

// FirstPendingOffense returns the oldest pending offense action of the given
// role that belongs to a player outside excludeTeamID. Stop effects use this
// to pick their victim.
func (s *Store) FirstPendingOffense(role contract.TeamRole, excludeTeamID string) (PendingAction, error) {
	row := s.db.QueryRow(
		`SELECT p.id, p.username, p.action_id, p.due_at, p.target_node, p.target_edge, p.target_user, p.created_at
		 FROM pending_actions p
		 JOIN actions a ON a.id = p.action_id
		 JOIN players u ON u.username = p.username
		 WHERE a.type = ? AND a.team_role = ? AND u.team_id != ?
		 ORDER BY p.created_at, p.id LIMIT 1`,
		string(contract.ActionOffense), string(role), excludeTeamID)
	return scanPending(row.Scan)
}

func scanPending(scan func(...any) error) (PendingAction, error) {
	var pending PendingAction
	var dueAt, createdAt int64
	var node, edge, user sql.NullString
	err := scan(&pending.ID, &pending.Username, &pending.ActionID, &dueAt, &node, &edge, &user, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return PendingAction{}, ErrNotFound
	}
	if err != nil {
		return PendingAction{}, err
	}
	pending.DueAt = time.UnixMilli(dueAt)
	pending.TargetNodeID = node.String
	pending.TargetEdgeID = edge.String
	pending.TargetUserID = user.String
	pending.CreatedAt = time.UnixMilli(createdAt)
	return pending, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ---------------------------------------------------------------------------
// Action catalog
// ---------------------------------------------------------------------------

// SeedCatalog upserts every definition into the actions table. The JSON
// catalog stays authoritative; seeding keeps the pending_actions join and the
// stop-effect query working across restarts.
func (s *Store) SeedCatalog(defs []contract.ActionDefinition) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO actions (id, name, duration, team_role, type, success_rate, cost, targets, effects)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, duration = excluded.duration,
		   team_role = excluded.team_role, type = excluded.type, success_rate = excluded.success_rate,
		   cost = excluded.cost, targets = excluded.targets, effects = excluded.effects`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, def := range defs {
		effects, err := def.Effects.MarshalJSON()
		if err != nil {
			return fmt.Errorf("store: encode effects for %s: %w", def.ID, err)
		}
		var targets any
		if def.Target != nil {
			encoded, err := json.Marshal(def.Target)
			if err != nil {
				return fmt.Errorf("store: encode targets for %s: %w", def.ID, err)
			}
			targets = string(encoded)
		}
		if _, err := stmt.Exec(def.ID, def.Name, def.DurationMinutes, string(def.Role), string(def.Type),
			def.SuccessRate, def.Cost, targets, string(effects)); err != nil {
			return fmt.Errorf("store: seed %s: %w", def.ID, err)
		}
	}
	return tx.Commit()
}

// ActionDefinition retrieves a seeded catalog entry with its effects decoded.
func (s *Store) ActionDefinition(id string) (contract.ActionDefinition, error) {
	row := s.db.QueryRow(
		`SELECT id, name, duration, team_role, type, success_rate, cost, targets, effects
		 FROM actions WHERE id = ?`, id)

	var def contract.ActionDefinition
	var role, actionType, effects string
	var targets sql.NullString
	err := row.Scan(&def.ID, &def.Name, &def.DurationMinutes, &role, &actionType,
		&def.SuccessRate, &def.Cost, &targets, &effects)
	if errors.Is(err, sql.ErrNoRows) {
		return contract.ActionDefinition{}, ErrNotFound
	}
	if err != nil {
		return contract.ActionDefinition{}, err
	}
	def.Role = contract.TeamRole(role)
	def.Type = contract.ActionType(actionType)
	if targets.Valid {
		spec := &contract.TargetSpec{}
		if err := json.Unmarshal([]byte(targets.String), spec); err != nil {
			return contract.ActionDefinition{}, fmt.Errorf("store: decode targets for %s: %w", def.ID, err)
		}
		def.Target = spec
	}
	if err := def.Effects.UnmarshalJSON([]byte(effects)); err != nil {
		return contract.ActionDefinition{}, fmt.Errorf("store: decode effects for %s: %w", def.ID, err)
	}
	return def, nil
}

// ---------------------------------------------------------------------------
// Action log
// ---------------------------------------------------------------------------

// AppendActionLog records a resolved or stopped action in the per-team
// history. The log is append-only.
func (s *Store) AppendActionLog(entry LogEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO action_log (team_id, action_id, pending_id, end_state, created_at) VALUES (?, ?, ?, ?, ?)`,
		entry.TeamID, entry.ActionID, entry.PendingID, string(entry.EndState), entry.Time.UnixMilli(),
	)
	return err
}

// ActionLogByTeam returns a team's history, oldest first.
func (s *Store) ActionLogByTeam(teamID string) ([]LogEntry, error) {
	rows, err := s.db.Query(
		`SELECT team_id, action_id, pending_id, end_state, created_at
		 FROM action_log WHERE team_id = ? ORDER BY id`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var entry LogEntry
		var endState string
		var createdAt int64
		if err := rows.Scan(&entry.TeamID, &entry.ActionID, &entry.PendingID, &endState, &createdAt); err != nil {
			return nil, err
		}
		entry.EndState = contract.EndState(endState)
		entry.Time = time.UnixMilli(createdAt)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ---------------------------------------------------------------------------
// Game record
// ---------------------------------------------------------------------------

// GameRecord is the singleton row tracking match lifecycle across restarts.
type GameRecord struct {
	Initialized bool
	Phase       string
	EndTime     time.Time
	Winner      string
}

// Game reads the singleton game row.
func (s *Store) Game() (GameRecord, error) {
	row := s.db.QueryRow(`SELECT initialized, phase, end_time, winner FROM game WHERE id = 1`)
	var record GameRecord
	var initialized int
	var endTime int64
	if err := row.Scan(&initialized, &record.Phase, &endTime, &record.Winner); err != nil {
		return GameRecord{}, err
	}
	record.Initialized = initialized != 0
	if endTime > 0 {
		record.EndTime = time.UnixMilli(endTime)
	}
	return record, nil
}

// SaveGame writes the singleton game row.
func (s *Store) SaveGame(record GameRecord) error {
	var endTime int64
	if !record.EndTime.IsZero() {
		endTime = record.EndTime.UnixMilli()
	}
	_, err := s.db.Exec(
		`UPDATE game SET initialized = ?, phase = ?, end_time = ?, winner = ? WHERE id = 1`,
		boolToInt(record.Initialized), record.Phase, endTime, record.Winner,
	)
	return err
}
