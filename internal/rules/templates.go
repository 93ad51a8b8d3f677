package rules

import "fmt"

// Template is a ready-made watch rule the user can instantiate by id.
type Template struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Condition   string `json:"condition"`
	Priority    string `json:"priority"`
	Cooldown    int    `json:"cooldown_seconds"`
}

var templates = []Template{
	{
		ID:          "person_at_door",
		Name:        "Person at the door",
		Description: "Alerts when a person appears near the entrance.",
		Condition:   "a person is standing at or approaching the door",
		Priority:    PriorityHigh,
		Cooldown:    60,
	},
	{
		ID:          "package_delivered",
		Name:        "Package delivered",
		Description: "Alerts when a package or parcel is left in view.",
		Condition:   "a package, box, or parcel has been left on the ground",
		Priority:    PriorityMedium,
		Cooldown:    300,
	},
	{
		ID:          "pet_on_furniture",
		Name:        "Pet on furniture",
		Description: "Alerts when a cat or dog climbs on furniture.",
		Condition:   "a cat or dog is on a couch, chair, bed, or table",
		Priority:    PriorityLow,
		Cooldown:    120,
	},
	{
		ID:          "stove_left_on",
		Name:        "Stove left on",
		Description: "Alerts when a stove burner appears lit with nobody around.",
		Condition:   "a stove burner or flame is on and no person is visible",
		Priority:    PriorityCritical,
		Cooldown:    120,
	},
	{
		ID:          "door_left_open",
		Name:        "Door left open",
		Description: "Alerts when a door or garage is visibly open.",
		Condition:   "a door or garage door is standing open",
		Priority:    PriorityMedium,
		Cooldown:    300,
	},
	{
		ID:          "vehicle_in_driveway",
		Name:        "Vehicle in driveway",
		Description: "Alerts when a car or truck enters the driveway.",
		Condition:   "a car, truck, or van is parked or arriving in the driveway",
		Priority:    PriorityMedium,
		Cooldown:    300,
	},
}

// Templates returns the built-in catalog.
func Templates() []Template {
	out := make([]Template, len(templates))
	copy(out, templates)
	return out
}

// CreateFromTemplate instantiates a catalog entry as a live rule, optionally
// bound to one camera.
func (e *Engine) CreateFromTemplate(templateID, cameraID string) (*WatchRule, error) {
	for _, t := range templates {
		if t.ID == templateID {
			return e.Create(Spec{
				Name:            t.Name,
				Condition:       t.Condition,
				CameraID:        cameraID,
				Priority:        t.Priority,
				CooldownSeconds: t.Cooldown,
			})
		}
	}
	return nil, fmt.Errorf("%w: template %s", ErrNotFound, templateID)
}
