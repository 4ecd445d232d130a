package domain

// Task is one checkable action inside a plan day.
type Task struct {
	Text      string `json:"task"`
	Completed bool   `json:"completed"`
}

// Suggestion is one general recommendation on the document level.
type Suggestion struct {
	Text      string `json:"suggestion"`
	Completed bool   `json:"completed"`
}

// DayPlan is one day of the recovery plan. Day is the label assigned by
// the analyzer (1-based); storage order of days is what the analyzer
// produced and is not required to match the labels.
type DayPlan struct {
	Day   int    `json:"day"`
	Title string `json:"title"`
	Tasks []Task `json:"tasks"`
}

// HealthDocument is the whole per-user state: the score pair and the two
// checklists. BaseScore is the anchor the display score is recomputed
// from; documents written before the anchor existed carry a nil BaseScore
// and keep their stored DisplayScore untouched.
type HealthDocument struct {
	BaseScore    *int         `json:"baseHealthScore,omitempty"`
	DisplayScore int          `json:"healthScore"`
	Suggestions  []Suggestion `json:"generalSuggestions"`
	DailyPlan    []DayPlan    `json:"dailyPlan"`
}

// Analysis is the validated analyzer output a fresh document is built from.
type Analysis struct {
	Score       int
	Suggestions []Suggestion
	DailyPlan   []DayPlan
}

// NewHealthDocument builds the document stored after a successful
// analysis: base and display score both set to the analyzer score, every
// completion flag cleared.
func NewHealthDocument(analysis Analysis) *HealthDocument {
	base := analysis.Score
	doc := &HealthDocument{
		BaseScore:    &base,
		DisplayScore: analysis.Score,
		Suggestions:  make([]Suggestion, len(analysis.Suggestions)),
		DailyPlan:    make([]DayPlan, len(analysis.DailyPlan)),
	}
	for i, s := range analysis.Suggestions {
		doc.Suggestions[i] = Suggestion{Text: s.Text}
	}
	for i, day := range analysis.DailyPlan {
		tasks := make([]Task, len(day.Tasks))
		for j, task := range day.Tasks {
			tasks[j] = Task{Text: task.Text}
		}
		doc.DailyPlan[i] = DayPlan{Day: day.Day, Title: day.Title, Tasks: tasks}
	}
	return doc
}

// Clone returns a deep copy so optimistic mutations never alias state
// already handed out.
func (d *HealthDocument) Clone() *HealthDocument {
	if d == nil {
		return nil
	}
	clone := &HealthDocument{
		DisplayScore: d.DisplayScore,
	}
	if d.BaseScore != nil {
		base := *d.BaseScore
		clone.BaseScore = &base
	}
	if d.Suggestions != nil {
		clone.Suggestions = make([]Suggestion, len(d.Suggestions))
		copy(clone.Suggestions, d.Suggestions)
	}
	if d.DailyPlan != nil {
		clone.DailyPlan = make([]DayPlan, len(d.DailyPlan))
		for i, day := range d.DailyPlan {
			tasks := make([]Task, len(day.Tasks))
			copy(tasks, day.Tasks)
			clone.DailyPlan[i] = DayPlan{Day: day.Day, Title: day.Title, Tasks: tasks}
		}
	}
	return clone
}

// DocumentPatch is a partial update: only non-nil fields are written.
// Its JSON form is the merge payload stores apply field-by-field.
type DocumentPatch struct {
	DisplayScore *int         `json:"healthScore,omitempty"`
	Suggestions  []Suggestion `json:"generalSuggestions,omitempty"`
	DailyPlan    []DayPlan    `json:"dailyPlan,omitempty"`
}

// Apply writes the patch onto doc in place.
func (p DocumentPatch) Apply(doc *HealthDocument) {
	if doc == nil {
		return
	}
	if p.DisplayScore != nil {
		doc.DisplayScore = *p.DisplayScore
	}
	if p.Suggestions != nil {
		doc.Suggestions = p.Suggestions
	}
	if p.DailyPlan != nil {
		doc.DailyPlan = p.DailyPlan
	}
}
