package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"crew/internal/task"
)

// LoadTasks reads a batch of tasks from a JSON or YAML file. The file is a
// bare list or a mapping with a "tasks" key. Rows without an id get one from
// task.NewID.
func LoadTasks(path string) ([]task.Task, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeTasks(path, b)
}

// DecodeTasks is LoadTasks over bytes. path only selects the format.
func DecodeTasks(path string, b []byte) ([]task.Task, error) {
	jb, err := toJSON(path, b)
	if err != nil {
		return nil, err
	}
	var ts []task.Task
	if t := bytes.TrimSpace(jb); len(t) > 0 && t[0] == '[' {
		if err := json.Unmarshal(jb, &ts); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	} else {
		var wrapped struct {
			Tasks []task.Task `json:"tasks"`
		}
		dec := json.NewDecoder(bytes.NewReader(jb))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&wrapped); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		ts = wrapped.Tasks
	}
	for i := range ts {
		if strings.TrimSpace(ts[i].ID) == "" {
			ts[i].ID = task.NewID()
		}
	}
	return ts, nil
}
