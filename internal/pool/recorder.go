package pool

import (
	"errors"

	"github.com/modelq/modelq/internal/task"
)

// MultiRecorder fans a task state transition out to several recorders, for
// example the live record store plus the long-term history repository.
type MultiRecorder []Recorder

func (m MultiRecorder) SaveTask(t *task.Task) error {
	var errs []error
	for _, r := range m {
		if err := r.SaveTask(t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
