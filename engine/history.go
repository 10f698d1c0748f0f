package engine

import (
	"sync"

	"github.com/shuttle-ci/shuttle/pipeline"
)

// history remembers the previous run's result per stage and pipeline
// identity, feeding the OnChanged hook condition. A stage with no
// previous result never fires OnChanged.
type history struct {
	mu   sync.Mutex
	prev map[string]pipeline.Status
}

func newHistory() *history {
	return &history{prev: make(map[string]pipeline.Status)}
}

func historyKey(pipelineName, stageName string) string {
	return pipelineName + "\x00" + stageName
}

func (h *history) previous(key string) *pipeline.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.prev[key]; ok {
		return &s
	}
	return nil
}

func (h *history) record(key string, s pipeline.Status) {
	h.mu.Lock()
	h.prev[key] = s
	h.mu.Unlock()
}
