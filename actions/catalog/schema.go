package catalog

import "netwar/server/actions/contract"

// EffectDocument models the JSON contract for a single effect entry. It
// exists for the schema generator: the runtime decodes effects through the
// contract envelope codec, but jsonschema needs a concrete struct to
// reflect over, so the optional parameters of every kind are flattened here.
type EffectDocument struct {
	Kind   contract.Kind     `json:"kind" jsonschema:"title=Effect kind,pattern=^[a-z0-9\\-]+$,description=Discriminator naming one of the registered effect kinds"`
	Points int               `json:"points,omitempty" jsonschema:"description=Victory points granted by add-victory-points"`
	Role   contract.TeamRole `json:"teamRole,omitempty" jsonschema:"description=Role argument for buff-debuff and stop-offense-action"`
	Buff   int               `json:"buff,omitempty" jsonschema:"description=Buff delta for buff-debuff and buff-debuff-targeted"`
	Amount int               `json:"amount,omitempty" jsonschema:"description=Funds granted by distribute-funds"`
	MyTeam bool              `json:"myTeam,omitempty" jsonschema:"description=Whether the effect applies to the performer's own team"`
}

// EntryDocument represents a single catalog entry as it appears on disk.
// The struct is exported so tooling (the schema generator) can reflect over
// the configuration contract shared with designers.
type EntryDocument struct {
	ID              string               `json:"id" jsonschema:"title=Action id,pattern=^[a-z0-9\\-]+$,description=Stable identifier referenced by pending actions and the record store"`
	Name            string               `json:"name" jsonschema:"description=Player-facing label shown in the action menu"`
	DurationMinutes int                  `json:"duration" jsonschema:"description=Minutes between queueing and resolution"`
	Role            contract.TeamRole    `json:"teamRole" jsonschema:"description=Team seat allowed to perform the action"`
	Type            contract.ActionType  `json:"type" jsonschema:"description=offense or defense; offense actions can be stopped"`
	SuccessRate     int                  `json:"successRate" jsonschema:"description=Advertised base percentage (informational)"`
	Cost            int                  `json:"cost" jsonschema:"description=Funds debited at queue time"`
	Target          *contract.TargetSpec `json:"targets,omitempty" jsonschema:"description=Target the caller must supply with the request"`
	Effects         []EffectDocument     `json:"effects" jsonschema:"description=Ordered effect list applied at resolution"`
}

// FileDefinitions represents the contents of config/actions/definitions.json.
// The catalog loader accepts either arrays or objects; the schema models the
// canonical array format authored by designers.
type FileDefinitions []EntryDocument
