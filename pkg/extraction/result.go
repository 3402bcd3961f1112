package extraction

// Entry is one named column of a result
type Entry struct {
	Name  string
	Value float64
}

// Result is an insertion-ordered mapping from column name to value.
// The order is the catalog order followed by derived metrics and is also the
// column order of the output table.
type Result struct {
	entries []Entry
	index   map[string]int
}

// NewResult creates an empty result
func NewResult() *Result {
	return &Result{index: make(map[string]int)}
}

// Set appends name, or overwrites its value in place if already present
func (r *Result) Set(name string, value float64) {
	if i, ok := r.index[name]; ok {
		r.entries[i].Value = value
		return
	}
	r.index[name] = len(r.entries)
	r.entries = append(r.entries, Entry{Name: name, Value: value})
}

// Get returns the value stored under name
func (r *Result) Get(name string) (float64, bool) {
	i, ok := r.index[name]
	if !ok {
		return 0, false
	}
	return r.entries[i].Value, true
}

// Len returns the number of columns
func (r *Result) Len() int {
	return len(r.entries)
}

// Entries returns a copy of the ordered entries
func (r *Result) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Names returns the column names in order
func (r *Result) Names() []string {
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.Name
	}
	return names
}

// Values returns the column values in order
func (r *Result) Values() []float64 {
	values := make([]float64, len(r.entries))
	for i, e := range r.entries {
		values[i] = e.Value
	}
	return values
}
