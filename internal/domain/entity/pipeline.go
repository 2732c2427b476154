package entity

import "time"

// PipelineStage is one ordered stage on a pipeline
type PipelineStage struct {
	Key   string `json:"key"`
	Name  string `json:"name"`
	Order int    `json:"order"`
}

// Pipeline is a named sequence of stages tasks move through
type Pipeline struct {
	Key       string          `json:"key"`
	OrgID     string          `json:"org_id"`
	Name      string          `json:"name"`
	Stages    []PipelineStage `json:"stages"`
	CreatedAt time.Time       `json:"created_at"`
}

// HasStage reports whether the pipeline defines the given stage key
func (p *Pipeline) HasStage(key string) bool {
	for _, s := range p.Stages {
		if s.Key == key {
			return true
		}
	}
	return false
}
