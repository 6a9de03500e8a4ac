package agentmemdb

import "github.com/google/uuid"

// EpisodeStep is one step in an agent trajectory: the action taken, the
// observation received, and the per-step reward. Attaching steps to an
// Episode is optional; the query evaluator never inspects them.
type EpisodeStep struct {
	Index       uint32  `json:"index"`
	Action      string  `json:"action"`
	Observation string  `json:"observation"`
	StepReward  float32 `json:"step_reward"`
}

// Episode is a single recorded agent experience: a state embedding, a
// scalar reward, and optional attributes used by filters and tie-break
// ordering.
type Episode struct {
	ID             string                 `json:"id"`
	TaskID         string                 `json:"task_id"`
	StateEmbedding []float32              `json:"state_embedding"`
	Reward         float32                `json:"reward"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	Timestamp      *int64                 `json:"timestamp,omitempty"`
	Tags           []string               `json:"tags,omitempty"`
	Source         *string                `json:"source,omitempty"`
	UserID         *string                `json:"user_id,omitempty"`
	Steps          []EpisodeStep          `json:"steps,omitempty"`
}

// NewEpisode creates an episode with a freshly generated UUID and no
// optional attributes set.
func NewEpisode(taskID string, embedding []float32, reward float32) Episode {
	return Episode{
		ID:             uuid.New().String(),
		TaskID:         taskID,
		StateEmbedding: embedding,
		Reward:         reward,
	}
}

// WithTimestamp returns a copy of ep with Timestamp set to the given
// Unix-milliseconds value.
func WithTimestamp(ep Episode, timestampMs int64) Episode {
	ep.Timestamp = &timestampMs
	return ep
}

// WithTags returns a copy of ep with Tags set.
func WithTags(ep Episode, tags []string) Episode {
	ep.Tags = tags
	return ep
}

// WithSource returns a copy of ep with Source set.
func WithSource(ep Episode, source string) Episode {
	ep.Source = &source
	return ep
}

// WithUserID returns a copy of ep with UserID set.
func WithUserID(ep Episode, userID string) Episode {
	ep.UserID = &userID
	return ep
}
