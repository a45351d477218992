package testsession

import "github.com/stemsi/jobportal-backend/internal/model"

// Snapshot is a read-only view of an attempt, safe to serialise to the candidate.
// It never carries correct options.
type Snapshot struct {
	Version        uint64                      `json:"version"`
	State          State                       `json:"state"`
	TestID         string                      `json:"test_id,omitempty"`
	Role           string                      `json:"role,omitempty"`
	Position       int                         `json:"position"`
	QuestionCount  int                         `json:"question_count"`
	Current        *model.QuestionForCandidate `json:"current_question,omitempty"`
	SelectedOption string                      `json:"selected_option,omitempty"`
	CanAdvance     bool                        `json:"can_advance"`
	IsLast         bool                        `json:"is_last"`
	Answered       int                         `json:"answered"`
	Remaining      int                         `json:"remaining_seconds"`
	Total          int                         `json:"total_seconds"`
	Score          *int                        `json:"score,omitempty"`
	TimeTaken      *int                        `json:"time_taken,omitempty"`
	Saved          *bool                       `json:"result_saved,omitempty"`
	Error          string                      `json:"error,omitempty"`
}

// Snapshot returns the current view of the attempt.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// changedLocked bumps the version and returns the new snapshot.
func (c *Controller) changedLocked() Snapshot {
	c.version++
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		Version:   c.version,
		State:     c.state,
		Position:  c.position,
		Answered:  len(c.answers),
		Remaining: c.remaining,
		Total:     c.total,
		Error:     ErrorCode(c.err),
	}

	if c.test != nil {
		snap.TestID = c.test.ID
		snap.Role = c.test.Role
		snap.QuestionCount = len(c.test.Questions)
	}

	if c.state == StateActive {
		q := c.test.Questions[c.position]
		snap.Current = &model.QuestionForCandidate{
			ID:       q.ID,
			Question: q.Question,
			Options:  append([]string(nil), q.Options...),
			Duration: q.EffectiveDuration(),
		}
		snap.SelectedOption = c.answers[q.ID]
		_, snap.CanAdvance = c.answers[q.ID]
		snap.IsLast = c.position == len(c.test.Questions)-1
	}

	if c.submission != nil {
		score := c.submission.Score
		taken := c.submission.TimeTaken
		snap.Score = &score
		snap.TimeTaken = &taken
	}

	if c.state == StateResult {
		saved := c.persistErr == nil
		snap.Saved = &saved
	}

	return snap
}
