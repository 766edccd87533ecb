package contract

import (
	"errors"
	"fmt"
	"strings"
)

var (
	errEmptyDefinitionID = errors.New("definition id must not be empty")
	errEmptyName         = errors.New("definition name must not be empty")
	errInvalidRole       = errors.New("definition role is not a known team role")
	errInvalidType       = errors.New("definition type must be offense or defense")
	errInvalidDuration   = errors.New("definition duration must be positive")
	errNegativeCost      = errors.New("definition cost must not be negative")
	errNoEffects         = errors.New("definition must list at least one effect")
)

// ActionDefinition is the static description of one play a role can make.
// Definitions are authored in the catalog, seeded into the record store, and
// read-only at runtime.
type ActionDefinition struct {
	ID string `json:"id"`
	// Name is the player-facing label shown in the client action menu.
	Name string `json:"name"`
	// DurationMinutes is the delay between queuing and resolution.
	DurationMinutes int `json:"duration"`
	// Role is the team seat allowed to perform this action.
	Role TeamRole `json:"teamRole"`
	// Type classifies the action for stop-offense matching.
	Type ActionType `json:"type"`
	// SuccessRate is the advertised base percentage. It is informational:
	// actual resolution contests each effect individually.
	SuccessRate int `json:"successRate"`
	// Cost is debited from the performer's funds at queue time.
	Cost int `json:"cost"`
	// Target is nil for untargeted actions.
	Target *TargetSpec `json:"targets,omitempty"`
	// Effects are applied in order during resolution.
	Effects EffectList `json:"effects"`
}

// Validate checks a single definition for structural problems, including
// mismatches between the declared target spec and what its effects need.
func (d ActionDefinition) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return errEmptyDefinitionID
	}
	if strings.TrimSpace(d.Name) == "" {
		return errEmptyName
	}
	if _, ok := ParseTeamRole(string(d.Role)); !ok {
		return fmt.Errorf("%w: %q", errInvalidRole, d.Role)
	}
	if d.Type != ActionOffense && d.Type != ActionDefense {
		return fmt.Errorf("%w: %q", errInvalidType, d.Type)
	}
	if d.DurationMinutes <= 0 {
		return errInvalidDuration
	}
	if d.Cost < 0 {
		return errNegativeCost
	}
	if len(d.Effects) == 0 {
		return errNoEffects
	}
	if d.Target != nil {
		if err := d.Target.validate(); err != nil {
			return err
		}
	}
	for i, effect := range d.Effects {
		required, ok := RequiredTarget(effect)
		if !ok {
			continue
		}
		if d.Target == nil {
			return fmt.Errorf("effect %d (%s) requires a %s target but the definition declares none", i, effect.Kind(), required)
		}
		if d.Target.Target != required {
			return fmt.Errorf("effect %d (%s) requires a %s target but the definition declares %s", i, effect.Kind(), required, d.Target.Target)
		}
	}
	return nil
}

// Registry is the full set of action definitions. Callers should Validate
// before serving lookups from it.
type Registry []ActionDefinition

// Validate ensures the registry holds structurally valid definitions with
// unique IDs.
func (r Registry) Validate() error {
	seen := make(map[string]struct{}, len(r))
	for _, def := range r {
		if err := def.Validate(); err != nil {
			return fmt.Errorf("contract: definition %q: %w", def.ID, err)
		}
		if _, exists := seen[def.ID]; exists {
			return fmt.Errorf("contract: duplicate definition id %q", def.ID)
		}
		seen[def.ID] = struct{}{}
	}
	return nil
}

// ByID returns the definition with the given id, if registered.
func (r Registry) ByID(id string) (ActionDefinition, bool) {
	for _, def := range r {
		if def.ID == id {
			return def, true
		}
	}
	return ActionDefinition{}, false
}
