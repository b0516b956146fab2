package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Plan definitions
			CREATE TABLE plans (
				unique_name VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				document JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			-- Per-plan instance id allocation
			CREATE TABLE plan_sequences (
				unique_name VARCHAR(255) PRIMARY KEY,
				last_instance_id BIGINT NOT NULL DEFAULT 0
			);

			-- Plan instance history
			CREATE TABLE plan_instances (
				unique_name VARCHAR(255) NOT NULL,
				instance_id BIGINT NOT NULL,
				status VARCHAR(50) NOT NULL,
				document JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (unique_name, instance_id)
			);

			CREATE INDEX idx_plan_instances_status ON plan_instances(status);
		`,
	}
}
