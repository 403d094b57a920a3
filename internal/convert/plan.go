// Package convert drives remote conversion jobs. A job is described by a
// declarative Plan, submitted to a Backend and tracked through the
// ConversionJob state machine by the Orchestrator.
package convert

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/Lllllllleong/doctransform/internal/models"
)

// Task names of every plan.
const (
	TaskImport  = "import-file"
	TaskConvert = "convert-file"
	TaskExport  = "export-file"
)

// Task operations understood by the backends.
const (
	OperationImportUpload = "import/upload"
	OperationConvert      = "convert"
	OperationExportURL    = "export/url"
)

// Task is one node of the task graph.
type Task struct {
	Name         string   `json:"-"`
	Operation    string   `json:"operation"`
	Input        []string `json:"input,omitempty"`
	InputFormat  string   `json:"input_format,omitempty"`
	OutputFormat string   `json:"output_format,omitempty"`
}

// Plan is the import -> convert -> export graph of one job. It is built and
// checked before anything is submitted.
type Plan struct {
	SourceFormat string
	TargetFormat string
	Tasks        []Task
}

// NewPlan builds the task graph converting source to target. Both formats
// are file extensions without the dot.
func NewPlan(source, target string) (*Plan, error) {
	source, target = normalizeFormat(source), normalizeFormat(target)
	if source == "" {
		return nil, models.Errorf(models.KindInvalidParameter, "plan", "source format is required")
	}
	if target == "" {
		return nil, models.Errorf(models.KindInvalidParameter, "plan", "target format is required")
	}
	return &Plan{
		SourceFormat: source,
		TargetFormat: target,
		Tasks: []Task{
			{Name: TaskImport, Operation: OperationImportUpload},
			{Name: TaskConvert, Operation: OperationConvert, Input: []string{TaskImport}, InputFormat: source, OutputFormat: target},
			{Name: TaskExport, Operation: OperationExportURL, Input: []string{TaskConvert}},
		},
	}, nil
}

// Task returns the task with the given name.
func (p *Plan) Task(name string) (Task, bool) {
	for _, t := range p.Tasks {
		if t.Name == name {
			return t, true
		}
	}
	return Task{}, false
}

// MarshalJSON renders the plan as the {"tasks": {name: task}} document
// accepted by job APIs.
func (p *Plan) MarshalJSON() ([]byte, error) {
	tasks := make(map[string]Task, len(p.Tasks))
	for _, t := range p.Tasks {
		tasks[t.Name] = t
	}
	return json.Marshal(struct {
		Tasks map[string]Task `json:"tasks"`
	}{Tasks: tasks})
}

// ResolveSourceFormat determines the one source format of a job from the
// uploaded filename and an optional declared format. A declared format that
// contradicts the filename is rejected. The result must be accepted by c.
func ResolveSourceFormat(c models.Conversion, filename, declared string) (string, error) {
	detected := normalizeFormat(filepath.Ext(filename))
	declared = normalizeFormat(declared)

	format := detected
	switch {
	case declared != "" && detected != "" && declared != detected:
		return "", models.Errorf(models.KindInvalidParameter, "plan",
			"declared source format %q conflicts with %q detected from %s", declared, detected, filename)
	case declared != "":
		format = declared
	}
	if format == "" {
		return "", models.Errorf(models.KindUnsupportedFormat, "plan", "cannot determine the source format of %q", filename)
	}
	if !c.Accepts(format) {
		return "", models.Errorf(models.KindUnsupportedFormat, "plan", "source format %q is not accepted", format)
	}
	return format, nil
}

func normalizeFormat(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "."))
}
