package crm

import "encoding/json"

// LeadStatus is the pipeline position of a lead.
type LeadStatus string

const (
	LeadStatusNew       LeadStatus = "new"
	LeadStatusContacted LeadStatus = "contacted"
	LeadStatusQualified LeadStatus = "qualified"
	LeadStatusLost      LeadStatus = "lost"
)

// DealStage is the sales stage of a deal.
type DealStage string

const (
	DealStageLead          DealStage = "lead"
	DealStageQualification DealStage = "qualification"
	DealStageProposal      DealStage = "proposal"
	DealStageNegotiation   DealStage = "negotiation"
	DealStageClosedWon     DealStage = "closed_won"
	DealStageClosedLost    DealStage = "closed_lost"
)

// TaskStatus is the progress of a task.
type TaskStatus string

const (
	TaskStatusTodo       TaskStatus = "todo"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusDone       TaskStatus = "done"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// TaskPriority ranks tasks.
type TaskPriority string

const (
	TaskPriorityLow    TaskPriority = "low"
	TaskPriorityMedium TaskPriority = "medium"
	TaskPriorityHigh   TaskPriority = "high"
)

// Campaign is an advertising campaign. Money amounts are decimal strings as
// returned by the backend.
type Campaign struct {
	ID          int64           `json:"id,omitempty"`
	Name        string          `json:"name"`
	Platforms   []string        `json:"platforms"`
	Status      string          `json:"status,omitempty"`
	Budget      string          `json:"budget"`
	Spent       string          `json:"spent,omitempty"`
	Conversions int             `json:"conversions,omitempty"`
	Audience    json.RawMessage `json:"audience,omitempty"`
	CreatedAt   string          `json:"created_at,omitempty"`
}

// Lead is a prospective customer.
type Lead struct {
	ID        string     `json:"id,omitempty"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	Phone     string     `json:"phone"`
	Company   string     `json:"company,omitempty"`
	Status    LeadStatus `json:"status"`
	Source    string     `json:"source,omitempty"`
	Notes     string     `json:"notes,omitempty"`
	CreatedAt string     `json:"created_at,omitempty"`
}

// Deal is a sales opportunity.
type Deal struct {
	ID                string    `json:"id,omitempty"`
	Title             string    `json:"title"`
	Amount            string    `json:"amount"`
	Stage             DealStage `json:"stage"`
	Probability       int       `json:"probability"`
	ExpectedCloseDate string    `json:"expectedCloseDate,omitempty"`
	Notes             string    `json:"notes,omitempty"`
	LeadID            string    `json:"leadId,omitempty"`
	CreatedAt         string    `json:"created_at,omitempty"`
}

// Task is a follow-up action.
type Task struct {
	ID          string       `json:"id,omitempty"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Status      TaskStatus   `json:"status"`
	Priority    TaskPriority `json:"priority"`
	DueDate     string       `json:"dueDate,omitempty"`
	LeadID      string       `json:"leadId,omitempty"`
	CreatedAt   string       `json:"created_at,omitempty"`
}

// Stats is the CRM summary returned by /api/crm/stats. Its members vary with
// the backend version and are kept undecoded.
type Stats map[string]json.RawMessage
