// Package archive optionally persists completed analyses to Postgres
// via a pooled connection and an embedded schema, writing to
// analyses/solutions/solution_participants tables.
package archive

import (
	"context"
	_ "embed"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rawblock/joinmarket-unmix/internal/solution"
	"github.com/rawblock/joinmarket-unmix/internal/txmodel"
)

//go:embed schema.sql
var schemaSQL string

// Store persists analyses and their solutions.
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a pooled connection to dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("archive: ping: %w", err)
	}
	log.Println("archive: connected to Postgres")
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema executes the embedded DDL, creating tables if absent.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("archive: init schema: %w", err)
	}
	return nil
}

// SaveAnalysis persists the transaction summary and every discovered
// solution inside a single database transaction.
func (s *Store) SaveAnalysis(ctx context.Context, tx *txmodel.Transaction, maxFeeRel float64, solutions []solution.Solution) error {
	dbTx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("archive: begin: %w", err)
	}
	defer func() { _ = dbTx.Rollback(ctx) }()

	_, err = dbTx.Exec(ctx, `
		INSERT INTO analyses (txid, num_participants, equal_amount, network_fee, num_inputs, num_outputs, num_solutions, is_unique, max_fee_rel)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (txid) DO UPDATE SET
			num_solutions = EXCLUDED.num_solutions,
			is_unique = EXCLUDED.is_unique,
			max_fee_rel = EXCLUDED.max_fee_rel,
			analyzed_at = NOW();
	`, tx.Txid, tx.N, int64(tx.EqualAmount), int64(tx.NetworkFee), tx.NumInputs(), tx.NumOutputs(), len(solutions), len(solutions) == 1, maxFeeRel)
	if err != nil {
		return fmt.Errorf("archive: insert analysis: %w", err)
	}

	for idx, sol := range solutions {
		var solutionID int64
		err := dbTx.QueryRow(ctx, `
			INSERT INTO solutions (txid, solution_index, taker_index, total_maker_fees, network_fee, discrepancy)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (txid, solution_index) DO UPDATE SET
				taker_index = EXCLUDED.taker_index,
				total_maker_fees = EXCLUDED.total_maker_fees,
				discrepancy = EXCLUDED.discrepancy
			RETURNING id;
		`, tx.Txid, idx, sol.TakerIndex, sol.TotalMakerFees, sol.NetworkFee, sol.Discrepancy).Scan(&solutionID)
		if err != nil {
			return fmt.Errorf("archive: insert solution %d: %w", idx, err)
		}

		for pIdx, p := range sol.Participants {
			_, err = dbTx.Exec(ctx, `
				INSERT INTO solution_participants
					(solution_id, participant_index, role, input_indices, input_sum, equal_output, change_output_idx, change_amount, fee)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
			`, solutionID, pIdx, p.Role, p.InputIndices, p.InputSum, p.EqualOutput, p.ChangeOutputIdx, p.ChangeAmount, p.Fee)
			if err != nil {
				return fmt.Errorf("archive: insert participant %d of solution %d: %w", pIdx, idx, err)
			}
		}
	}

	return dbTx.Commit(ctx)
}
