package postgres

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE pipelines (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				definition JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_pipelines_name ON pipelines(name);

			CREATE TABLE schedules (
				id VARCHAR(255) PRIMARY KEY,
				pipeline_id VARCHAR(255) NOT NULL REFERENCES pipelines(id) ON DELETE CASCADE,
				cron_expression VARCHAR(255) NOT NULL,
				next_due_at TIMESTAMP WITH TIME ZONE NOT NULL,
				active BOOLEAN NOT NULL DEFAULT TRUE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_schedules_pipeline_id ON schedules(pipeline_id);
			CREATE INDEX idx_schedules_next_due_at ON schedules(next_due_at) WHERE active;

			CREATE TABLE runs (
				id UUID PRIMARY KEY,
				pipeline_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL,
				record JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_runs_pipeline_id ON runs(pipeline_id);
			CREATE INDEX idx_runs_status ON runs(status);
			CREATE INDEX idx_runs_created_at ON runs(created_at);
		`,
	}
}
