package sqlstore

// schema is portable between SQLite and PostgreSQL, one statement per Exec.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS ownerships (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL,
		branch_id TEXT NOT NULL,
		supplier_id TEXT NOT NULL DEFAULT '',
		purchase_order_id TEXT NOT NULL DEFAULT '',
		customer_purchase_id TEXT NOT NULL DEFAULT '',
		total_quantity TEXT NOT NULL,
		total_weight TEXT NOT NULL,
		owned_quantity TEXT NOT NULL,
		owned_weight TEXT NOT NULL,
		total_cost TEXT NOT NULL,
		amount_paid TEXT NOT NULL,
		unit_cost_per_gram TEXT NOT NULL,
		is_active BOOLEAN NOT NULL,
		consolidated_into TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		version BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ownerships_product_branch
		ON ownerships(product_id, branch_id, is_active)`,
	`CREATE INDEX IF NOT EXISTS idx_ownerships_supplier
		ON ownerships(supplier_id)`,

	`CREATE TABLE IF NOT EXISTS ownership_movements (
		id TEXT PRIMARY KEY,
		ownership_id TEXT NOT NULL,
		movement_type TEXT NOT NULL,
		quantity_change TEXT NOT NULL,
		weight_change TEXT NOT NULL,
		amount_change TEXT NOT NULL,
		owned_quantity_after TEXT NOT NULL,
		owned_weight_after TEXT NOT NULL,
		total_quantity_after TEXT NOT NULL,
		total_weight_after TEXT NOT NULL,
		amount_paid_after TEXT NOT NULL,
		ownership_percentage_after TEXT NOT NULL,
		reference_number TEXT NOT NULL DEFAULT '',
		source_ownership_ids TEXT NOT NULL DEFAULT '[]',
		notes TEXT NOT NULL DEFAULT '',
		actor TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_movements_ownership
		ON ownership_movements(ownership_id, created_at)`,
	// Idempotency: one movement per (row, type, reference).
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_movements_unique_reference
		ON ownership_movements(ownership_id, movement_type, reference_number)
		WHERE reference_number <> ''`,
	`CREATE INDEX IF NOT EXISTS idx_movements_type_reference
		ON ownership_movements(movement_type, reference_number)`,

	`CREATE TABLE IF NOT EXISTS cost_lots (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL,
		branch_id TEXT NOT NULL,
		supplier_id TEXT NOT NULL DEFAULT '',
		source_ref TEXT NOT NULL DEFAULT '',
		quantity TEXT NOT NULL,
		weight TEXT NOT NULL,
		unit_cost_per_gram TEXT NOT NULL,
		remaining_quantity TEXT NOT NULL,
		remaining_weight TEXT NOT NULL,
		purchase_date TEXT NOT NULL,
		sequence_order BIGINT NOT NULL,
		exhausted BOOLEAN NOT NULL,
		version BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_lots_product_branch
		ON cost_lots(product_id, branch_id, purchase_date, sequence_order)`,

	`CREATE TABLE IF NOT EXISTS supplier_gold_balances (
		supplier_id TEXT NOT NULL,
		branch_id TEXT NOT NULL,
		karat_type_id TEXT NOT NULL,
		total_weight_received TEXT NOT NULL,
		total_weight_paid_for TEXT NOT NULL,
		average_cost_per_gram TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		version BIGINT NOT NULL,
		PRIMARY KEY (supplier_id, branch_id, karat_type_id)
	)`,

	`CREATE TABLE IF NOT EXISTS merchant_gold_balances (
		branch_id TEXT NOT NULL,
		karat_type_id TEXT NOT NULL,
		available_weight TEXT NOT NULL,
		average_cost_per_gram TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		version BIGINT NOT NULL,
		PRIMARY KEY (branch_id, karat_type_id)
	)`,

	`CREATE TABLE IF NOT EXISTS raw_gold_transfers (
		id TEXT PRIMARY KEY,
		transfer_type TEXT NOT NULL,
		branch_id TEXT NOT NULL,
		supplier_id TEXT NOT NULL DEFAULT '',
		customer_purchase_id TEXT NOT NULL DEFAULT '',
		from_karat TEXT NOT NULL,
		to_karat TEXT NOT NULL,
		from_weight TEXT NOT NULL,
		to_weight TEXT NOT NULL,
		from_rate TEXT NOT NULL,
		to_rate TEXT NOT NULL,
		conversion_factor TEXT NOT NULL,
		transfer_value TEXT NOT NULL,
		reference_number TEXT NOT NULL DEFAULT '',
		actor TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transfers_branch_created
		ON raw_gold_transfers(branch_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_transfers_supplier
		ON raw_gold_transfers(supplier_id)`,
}
