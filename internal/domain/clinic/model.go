package clinic

import "time"

// Gender restriction values. Empty means the clinic serves everyone.
const (
	GenderAny    = ""
	GenderFemale = "female"
	GenderMale   = "male"
)

// Clinic is one examination station. The registry is immutable during a
// service day except for the open flag, toggled by an admin action.
type Clinic struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Capacity          int       `json:"capacity"`
	AvgServiceMinutes int       `json:"avg_service_minutes"`
	Open              bool      `json:"open"`
	GenderRestriction string    `json:"gender_restriction,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Defaults is the facility's station registry. Seeded into empty stores at
// startup; persisted copies take precedence afterwards.
func Defaults() []Clinic {
	return []Clinic{
		{ID: "lab", Name: "Laboratory", Capacity: 3, AvgServiceMinutes: 10, Open: true},
		{ID: "xray", Name: "Radiology", Capacity: 2, AvgServiceMinutes: 10, Open: true},
		{ID: "vitals", Name: "Vital Signs", Capacity: 2, AvgServiceMinutes: 5, Open: true},
		{ID: "dental", Name: "Dental", Capacity: 1, AvgServiceMinutes: 15, Open: true},
		{ID: "eye", Name: "Ophthalmology", Capacity: 1, AvgServiceMinutes: 10, Open: true},
		{ID: "ent", Name: "ENT", Capacity: 1, AvgServiceMinutes: 10, Open: true},
		{ID: "surgery", Name: "Surgery", Capacity: 1, AvgServiceMinutes: 15, Open: true},
		{ID: "internal", Name: "Internal Medicine", Capacity: 2, AvgServiceMinutes: 15, Open: true},
		{ID: "gyn", Name: "Women's Clinic", Capacity: 1, AvgServiceMinutes: 15, Open: true, GenderRestriction: GenderFemale},
		{ID: "aviation", Name: "Aviation Medicine", Capacity: 1, AvgServiceMinutes: 20, Open: true},
		{ID: "specialist", Name: "Specialist", Capacity: 1, AvgServiceMinutes: 20, Open: true},
		{ID: "final", Name: "Final Committee", Capacity: 1, AvgServiceMinutes: 10, Open: true},
	}
}
