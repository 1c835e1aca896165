package pathway

// routeTable maps exam type and gender to the ordered list of stations.
// Female routes substitute the women's clinic for stations the facility
// runs separately; everything else is shared.
var routeTable = map[string]map[string][]string{
	"recruitment": {
		GenderMale:   {"lab", "xray", "vitals", "eye", "ent", "dental", "surgery", "internal", "final"},
		GenderFemale: {"lab", "xray", "vitals", "eye", "ent", "dental", "gyn", "internal", "final"},
	},
	"promotion": {
		GenderMale:   {"lab", "vitals", "eye", "internal"},
		GenderFemale: {"lab", "vitals", "eye", "internal"},
	},
	"transfer": {
		GenderMale:   {"lab", "xray", "vitals", "internal"},
		GenderFemale: {"lab", "xray", "vitals", "gyn", "internal"},
	},
	"referral": {
		GenderMale:   {"vitals", "specialist"},
		GenderFemale: {"vitals", "specialist"},
	},
	"contract": {
		GenderMale:   {"lab", "xray", "vitals", "internal", "final"},
		GenderFemale: {"lab", "xray", "vitals", "gyn", "internal", "final"},
	},
	"aviation": {
		GenderMale:   {"lab", "xray", "vitals", "eye", "ent", "aviation", "final"},
		GenderFemale: {"lab", "xray", "vitals", "eye", "ent", "aviation", "final"},
	},
	"cooks": {
		GenderMale:   {"lab", "xray", "vitals", "dental", "internal"},
		GenderFemale: {"lab", "xray", "vitals", "dental", "gyn", "internal"},
	},
	"courses": {
		GenderMale:   {"vitals", "eye", "internal"},
		GenderFemale: {"vitals", "eye", "internal"},
	},
}

// ExamTypes lists the supported exam types.
func ExamTypes() []string {
	return []string{"recruitment", "promotion", "transfer", "referral", "contract", "aviation", "cooks", "courses"}
}

// StepsFor returns the route steps for an exam type and gender, or false
// for an unknown exam type. An unrecognized gender falls back to the male
// table, matching the facility's historical default.
func StepsFor(examType, gender string) ([]string, bool) {
	byGender, ok := routeTable[examType]
	if !ok {
		return nil, false
	}
	steps, ok := byGender[gender]
	if !ok {
		steps = byGender[GenderMale]
	}
	out := make([]string, len(steps))
	copy(out, steps)
	return out, true
}
