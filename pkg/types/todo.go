package types

// TodoStatus is the lifecycle state of a checklist item.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
)

// TodoItem is one entry in the per-session checklist artifact. The
// completion gate reads these to decide whether a final-output call may
// execute in autonomous mode.
type TodoItem struct {
	ID      string     `json:"id" yaml:"id"`
	Content string     `json:"content" yaml:"content"`
	Status  TodoStatus `json:"status" yaml:"status"`
}

// Checklist is the full per-session item list.
type Checklist struct {
	Items []TodoItem `json:"items" yaml:"items"`
}

// Incomplete returns the items that are not yet completed.
func (c Checklist) Incomplete() []TodoItem {
	var out []TodoItem
	for _, item := range c.Items {
		if item.Status != TodoCompleted {
			out = append(out, item)
		}
	}
	return out
}
