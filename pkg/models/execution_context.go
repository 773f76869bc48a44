package models

// ExecutionContext carries everything a step action can see while a job run
// executes: the identity of the run, the matrix combination the job was
// expanded for, and the results of previously executed steps.
type ExecutionContext struct {
	RunID       string            `json:"run_id"`
	PipelineID  string            `json:"pipeline_id"`
	JobName     string            `json:"job_name"`
	RunsOn      string            `json:"runs_on"`
	Combination map[string]any    `json:"combination,omitempty"`
	Event       Event             `json:"event"`
	Env         map[string]string `json:"env,omitempty"`
	WorkDir     string            `json:"work_dir,omitempty"`
	StepResults map[string]any    `json:"step_results,omitempty"`
}
