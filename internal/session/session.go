// Package session holds the durable session model and its repository. The
// durable record keeps only final per-stage deliverables and escalation
// flags; verbatim transcripts belong to the audit log.
package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/scoped/internal/gates"
	"github.com/fyrsmithlabs/scoped/internal/interview"
	"github.com/fyrsmithlabs/scoped/internal/stages"
)

// Status is a session's lifecycle state.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusPaused     Status = "paused"
	StatusAbandoned  Status = "abandoned"
)

// PendingStage holds answers that individually cleared the quality bar on a
// stage whose gate failed, keyed to the current stage. A retry reuses these
// and re-asks only the questions that caused the failure.
type PendingStage struct {
	Stage   int                        `json:"stage"`
	Answers []interview.QuestionAnswer `json:"answers"`
}

// Session is one scoping interview. CurrentStage only increases; it reaches
// stages.Count+1 once every stage gate has passed and the session awaits
// finalize. A deliverable exists for stage N only after N's gate passed.
type Session struct {
	ID           string                     `json:"id"`
	Owner        string                     `json:"owner"`
	ProjectName  string                     `json:"project_name"`
	CurrentStage int                        `json:"current_stage"`
	Status       Status                     `json:"status"`
	Deliverables map[int]stages.Deliverable `json:"-"`
	Pending      *PendingStage              `json:"pending,omitempty"`
	Report       *gates.Report              `json:"report,omitempty"`
	Override     bool                       `json:"override,omitempty"`
	StartedAt    time.Time                  `json:"started_at"`
	UpdatedAt    time.Time                  `json:"updated_at"`
	DeletedAt    *time.Time                 `json:"deleted_at,omitempty"`
}

// New creates an in_progress session at stage 1.
func New(owner, projectName string) (*Session, error) {
	if owner == "" {
		return nil, fmt.Errorf("owner required")
	}
	if projectName == "" {
		return nil, fmt.Errorf("project name required")
	}

	now := time.Now().UTC()
	return &Session{
		ID:           uuid.New().String(),
		Owner:        owner,
		ProjectName:  projectName,
		CurrentStage: 1,
		Status:       StatusInProgress,
		Deliverables: map[int]stages.Deliverable{},
		StartedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Touch advances the updated timestamp.
func (s *Session) Touch() {
	s.UpdatedAt = time.Now().UTC()
}

// StagesDone reports whether every stage's gate has passed.
func (s *Session) StagesDone() bool {
	return s.CurrentStage > stages.Count
}

// sessionJSON is the wire form: deliverables are kept as raw JSON keyed by
// stage so they can be decoded back into their concrete types.
type sessionJSON struct {
	ID           string                     `json:"id"`
	Owner        string                     `json:"owner"`
	ProjectName  string                     `json:"project_name"`
	CurrentStage int                        `json:"current_stage"`
	Status       Status                     `json:"status"`
	Deliverables map[string]json.RawMessage `json:"deliverables,omitempty"`
	Pending      *PendingStage              `json:"pending,omitempty"`
	Report       *gates.Report              `json:"report,omitempty"`
	Override     bool                       `json:"override,omitempty"`
	StartedAt    time.Time                  `json:"started_at"`
	UpdatedAt    time.Time                  `json:"updated_at"`
	DeletedAt    *time.Time                 `json:"deleted_at,omitempty"`
}

func (s *Session) MarshalJSON() ([]byte, error) {
	doc := sessionJSON{
		ID:           s.ID,
		Owner:        s.Owner,
		ProjectName:  s.ProjectName,
		CurrentStage: s.CurrentStage,
		Status:       s.Status,
		Pending:      s.Pending,
		Report:       s.Report,
		Override:     s.Override,
		StartedAt:    s.StartedAt,
		UpdatedAt:    s.UpdatedAt,
		DeletedAt:    s.DeletedAt,
	}

	if len(s.Deliverables) > 0 {
		doc.Deliverables = make(map[string]json.RawMessage, len(s.Deliverables))
		for stage, d := range s.Deliverables {
			blob, err := json.Marshal(d)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal stage %d deliverable: %w", stage, err)
			}
			doc.Deliverables[fmt.Sprintf("%d", stage)] = blob
		}
	}
	return json.Marshal(doc)
}

func (s *Session) UnmarshalJSON(data []byte) error {
	var doc sessionJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	s.ID = doc.ID
	s.Owner = doc.Owner
	s.ProjectName = doc.ProjectName
	s.CurrentStage = doc.CurrentStage
	s.Status = doc.Status
	s.Pending = doc.Pending
	s.Report = doc.Report
	s.Override = doc.Override
	s.StartedAt = doc.StartedAt
	s.UpdatedAt = doc.UpdatedAt
	s.DeletedAt = doc.DeletedAt

	s.Deliverables = make(map[int]stages.Deliverable, len(doc.Deliverables))
	for key, blob := range doc.Deliverables {
		var stage int
		if _, err := fmt.Sscanf(key, "%d", &stage); err != nil {
			return fmt.Errorf("invalid deliverable stage key %q", key)
		}
		d, err := stages.Decode(stage, blob)
		if err != nil {
			return err
		}
		s.Deliverables[stage] = d
	}
	return nil
}

// Clone deep-copies the session through its wire form.
func (s *Session) Clone() (*Session, error) {
	blob, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var out Session
	if err := json.Unmarshal(blob, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
