// Package store manages all SQLite persistence for the match runtime.
//
// The record store is the source of truth for restart recovery: the action
// queue and world aggregate are rebuilt from it at startup, and every
// mutation the engine makes is written through. SQLite in WAL mode keeps
// the single-writer process durable without an external database.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"netwar/server/actions/contract"
	"netwar/server/internal/world"
)

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = errors.New("store: record not found")

// Store wraps the SQLite handle. Safe for concurrent use; writes contend on
// SQLite's own locking.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database and initializes the schema.
func New(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS teams (
		id             TEXT PRIMARY KEY,
		name           TEXT NOT NULL UNIQUE,
		victory_points INTEGER NOT NULL DEFAULT 0,
		modifiers      TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS nodes (
		id          TEXT PRIMARY KEY,
		team_id     TEXT NOT NULL REFERENCES teams(id),
		defense     INTEGER NOT NULL DEFAULT 0,
		visible     INTEGER NOT NULL DEFAULT 0,
		compromised INTEGER NOT NULL DEFAULT 0,
		core        INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_nodes_team ON nodes(team_id);

	CREATE TABLE IF NOT EXISTS edges (
		id      TEXT PRIMARY KEY,
		team_id TEXT NOT NULL REFERENCES teams(id),
		source  TEXT NOT NULL REFERENCES nodes(id),
		target  TEXT NOT NULL REFERENCES nodes(id),
		defense INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_edges_team ON edges(team_id);

	CREATE TABLE IF NOT EXISTS players (
		username  TEXT PRIMARY KEY,
		team_id   TEXT NOT NULL REFERENCES teams(id),
		team_role TEXT NOT NULL,
		funds     INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_players_team ON players(team_id);

	CREATE TABLE IF NOT EXISTS actions (
		id           TEXT PRIMARY KEY,
		name         TEXT NOT NULL,
		duration     INTEGER NOT NULL,
		team_role    TEXT NOT NULL,
		type         TEXT NOT NULL,
		success_rate INTEGER NOT NULL DEFAULT 0,
		cost         INTEGER NOT NULL DEFAULT 0,
		targets      TEXT,
		effects      TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pending_actions (
		id          TEXT PRIMARY KEY,
		username    TEXT NOT NULL REFERENCES players(username),
		action_id   TEXT NOT NULL REFERENCES actions(id),
		due_at      INTEGER NOT NULL,
		target_node TEXT,
		target_edge TEXT,
		target_user TEXT,
		created_at  INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pending_user ON pending_actions(username);
	CREATE INDEX IF NOT EXISTS idx_pending_due ON pending_actions(due_at);

	CREATE TABLE IF NOT EXISTS action_log (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		team_id    TEXT NOT NULL,
		action_id  TEXT NOT NULL,
		pending_id TEXT NOT NULL,
		end_state  TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_log_team ON action_log(team_id, created_at);

	CREATE TABLE IF NOT EXISTS game (
		id          INTEGER PRIMARY KEY CHECK (id = 1),
		initialized INTEGER NOT NULL DEFAULT 0,
		phase       TEXT NOT NULL DEFAULT 'not-started',
		end_time    INTEGER NOT NULL DEFAULT 0,
		winner      TEXT NOT NULL DEFAULT ''
	);
	INSERT OR IGNORE INTO game (id) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ---------------------------------------------------------------------------
// Teams
// ---------------------------------------------------------------------------

// UpsertTeam creates or replaces a team record.
func (s *Store) UpsertTeam(team world.Team) error {
	mods, err := json.Marshal(team.Modifiers)
	if err != nil {
		return fmt.Errorf("store: encode modifiers: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO teams (id, name, victory_points, modifiers) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name,
		   victory_points = excluded.victory_points, modifiers = excluded.modifiers`,
		team.ID, team.Name, team.VictoryPoints, string(mods),
	)
	return err
}

// TeamByID retrieves a team.
func (s *Store) TeamByID(id string) (world.Team, error) {
	row := s.db.QueryRow(`SELECT id, name, victory_points, modifiers FROM teams WHERE id = ?`, id)
	return scanTeam(row)
}

// TeamByName retrieves a team by display name.
func (s *Store) TeamByName(name string) (world.Team, error) {
	row := s.db.QueryRow(`SELECT id, name, victory_points, modifiers FROM teams WHERE name = ?`, name)
	return scanTeam(row)
}

// ListTeams returns all teams ordered by id.
func (s *Store) ListTeams() ([]world.Team, error) {
	rows, err := s.db.Query(`SELECT id, name, victory_points, modifiers FROM teams ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var teams []world.Team
	for rows.Next() {
		var team world.Team
		var mods string
		if err := rows.Scan(&team.ID, &team.Name, &team.VictoryPoints, &mods); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(mods), &team.Modifiers); err != nil {
			return nil, fmt.Errorf("store: decode modifiers for %s: %w", team.ID, err)
		}
		teams = append(teams, team)
	}
	return teams, rows.Err()
}

func scanTeam(row *sql.Row) (world.Team, error) {
	var team world.Team
	var mods string
	err := row.Scan(&team.ID, &team.Name, &team.VictoryPoints, &mods)
	if errors.Is(err, sql.ErrNoRows) {
		return world.Team{}, ErrNotFound
	}
	if err != nil {
		return world.Team{}, err
	}
	if err := json.Unmarshal([]byte(mods), &team.Modifiers); err != nil {
		return world.Team{}, fmt.Errorf("store: decode modifiers for %s: %w", team.ID, err)
	}
	return team, nil
}

// ---------------------------------------------------------------------------
// Nodes and edges
// ---------------------------------------------------------------------------

// UpsertNode creates or replaces a node record.
func (s *Store) UpsertNode(node world.Node) error {
	_, err := s.db.Exec(
		`INSERT INTO nodes (id, team_id, defense, visible, compromised, core) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET team_id = excluded.team_id, defense = excluded.defense,
		   visible = excluded.visible, compromised = excluded.compromised, core = excluded.core`,
		node.ID, node.TeamID, node.Defense, boolToInt(node.Visible), boolToInt(node.Compromised), boolToInt(node.Core),
	)
	return err
}

// NodeByID retrieves a node.
func (s *Store) NodeByID(id string) (world.Node, error) {
	row := s.db.QueryRow(`SELECT id, team_id, defense, visible, compromised, core FROM nodes WHERE id = ?`, id)
	var node world.Node
	var visible, compromised, core int
	err := row.Scan(&node.ID, &node.TeamID, &node.Defense, &visible, &compromised, &core)
	if errors.Is(err, sql.ErrNoRows) {
		return world.Node{}, ErrNotFound
	}
	if err != nil {
		return world.Node{}, err
	}
	node.Visible = visible != 0
	node.Compromised = compromised != 0
	node.Core = core != 0
	return node, nil
}

// NodeFilter narrows ListNodes. Nil flag pointers match any value.
type NodeFilter struct {
	TeamID      string
	Visible     *bool
	Compromised *bool
}

// ListNodes returns nodes matching the filter, ordered by id.
func (s *Store) ListNodes(filter NodeFilter) ([]world.Node, error) {
	query := `SELECT id, team_id, defense, visible, compromised, core FROM nodes WHERE 1=1`
	args := make([]any, 0, 3)
	if filter.TeamID != "" {
		query += ` AND team_id = ?`
		args = append(args, filter.TeamID)
	}
	if filter.Visible != nil {
		query += ` AND visible = ?`
		args = append(args, boolToInt(*filter.Visible))
	}
	if filter.Compromised != nil {
		query += ` AND compromised = ?`
		args = append(args, boolToInt(*filter.Compromised))
	}
	query += ` ORDER BY id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []world.Node
	for rows.Next() {
		var node world.Node
		var visible, compromised, core int
		if err := rows.Scan(&node.ID, &node.TeamID, &node.Defense, &visible, &compromised, &core); err != nil {
			return nil, err
		}
		node.Visible = visible != 0
		node.Compromised = compromised != 0
		node.Core = core != 0
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

// UpsertEdge creates or replaces an edge record.
func (s *Store) UpsertEdge(edge world.Edge) error {
	_, err := s.db.Exec(
		`INSERT INTO edges (id, team_id, source, target, defense) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET team_id = excluded.team_id, source = excluded.source,
		   target = excluded.target, defense = excluded.defense`,
		edge.ID, edge.TeamID, edge.Source, edge.Target, edge.Defense,
	)
	return err
}

// EdgeByID retrieves an edge.
func (s *Store) EdgeByID(id string) (world.Edge, error) {
	row := s.db.QueryRow(`SELECT id, team_id, source, target, defense FROM edges WHERE id = ?`, id)
	var edge world.Edge
	err := row.Scan(&edge.ID, &edge.TeamID, &edge.Source, &edge.Target, &edge.Defense)
	if errors.Is(err, sql.ErrNoRows) {
		return world.Edge{}, ErrNotFound
	}
	return edge, err
}

// ListEdges returns a team's edges ordered by id; an empty team id lists
// every edge.
func (s *Store) ListEdges(teamID string) ([]world.Edge, error) {
	query := `SELECT id, team_id, source, target, defense FROM edges`
	args := make([]any, 0, 1)
	if teamID != "" {
		query += ` WHERE team_id = ?`
		args = append(args, teamID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []world.Edge
	for rows.Next() {
		var edge world.Edge
		if err := rows.Scan(&edge.ID, &edge.TeamID, &edge.Source, &edge.Target, &edge.Defense); err != nil {
			return nil, err
		}
		edges = append(edges, edge)
	}
	return edges, rows.Err()
}

// ---------------------------------------------------------------------------
// Players
// ---------------------------------------------------------------------------

// UpsertPlayer creates or replaces a player record.
func (s *Store) UpsertPlayer(player world.Player) error {
	_, err := s.db.Exec(
		`INSERT INTO players (username, team_id, team_role, funds) VALUES (?, ?, ?, ?)
		 ON CONFLICT(username) DO UPDATE SET team_id = excluded.team_id,
		   team_role = excluded.team_role, funds = excluded.funds`,
		player.Username, player.TeamID, string(player.Role), player.Funds,
	)
	return err
}

// PlayerByUsername retrieves a player.
func (s *Store) PlayerByUsername(username string) (world.Player, error) {
	row := s.db.QueryRow(`SELECT username, team_id, team_role, funds FROM players WHERE username = ?`, username)
	var player world.Player
	var role string
	err := row.Scan(&player.Username, &player.TeamID, &role, &player.Funds)
	if errors.Is(err, sql.ErrNoRows) {
		return world.Player{}, ErrNotFound
	}
	if err != nil {
		return world.Player{}, err
	}
	player.Role = contract.TeamRole(role)
	return player, nil
}

// ListPlayers returns every player ordered by username.
func (s *Store) ListPlayers() ([]world.Player, error) {
	rows, err := s.db.Query(`SELECT username, team_id, team_role, funds FROM players ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var players []world.Player
	for rows.Next() {
		var player world.Player
		var role string
		if err := rows.Scan(&player.Username, &player.TeamID, &role, &player.Funds); err != nil {
			return nil, err
		}
		player.Role = contract.TeamRole(role)
		players = append(players, player)
	}
	return players, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
